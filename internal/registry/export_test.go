package registry

// SetKeyGenerator replaces the key generator so tests can force collisions.
func SetKeyGenerator(s *Service, fn func(compact bool) string) {
	s.newKey = fn
}
