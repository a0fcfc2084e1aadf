package tenant

import "fmt"

// EventKind tags a lifecycle event.
type EventKind int

const (
	KindCreated EventKind = iota + 1
	KindUpdated
	KindDeleted
)

func (k EventKind) String() string {
	switch k {
	case KindCreated:
		return "created"
	case KindUpdated:
		return "updated"
	case KindDeleted:
		return "deleted"
	default:
		return fmt.Sprintf("EventKind(%d)", int(k))
	}
}

// Event is a lifecycle notification. Construct it with Created, Updated or
// Deleted; the snapshots it carries are private copies.
type Event struct {
	kind     EventKind
	tenant   Tenant
	previous *Tenant
}

// Created returns the event fired after t was first persisted.
func Created(t *Tenant) Event {
	return Event{kind: KindCreated, tenant: *t.Clone()}
}

// Updated returns the event fired after prev was replaced by t. prev may be
// nil when the update is a re-provisioning request with no attribute change.
func Updated(prev, t *Tenant) Event {
	ev := Event{kind: KindUpdated, tenant: *t.Clone()}
	if prev != nil {
		ev.previous = prev.Clone()
	}
	return ev
}

// Deleted returns the event fired after t moved to the deleted state.
func Deleted(t *Tenant) Event {
	return Event{kind: KindDeleted, tenant: *t.Clone()}
}

func (e Event) Kind() EventKind { return e.kind }

// Tenant returns a copy of the snapshot taken when the event was built.
func (e Event) Tenant() *Tenant { return e.tenant.Clone() }

// Key is the key of the tenant the event is about.
func (e Event) Key() string { return e.tenant.Key }

// Previous returns the pre-update snapshot of an Updated event, if any.
func (e Event) Previous() (*Tenant, bool) {
	if e.previous == nil {
		return nil, false
	}
	return e.previous.Clone(), true
}

// Hostnames returns every hostname the event touches: the current ones plus
// any the tenant owned before an update.
func (e Event) Hostnames() []string {
	out := append([]string(nil), e.tenant.Hostnames...)
	if e.previous != nil {
		out = append(out, e.previous.Hostnames...)
	}
	return out
}
