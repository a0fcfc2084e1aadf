package notify

import "time"

// NewWithConn builds a Publisher over a fake connection.
func NewWithConn(c conn, now func() time.Time) *Publisher {
	return &Publisher{nc: c, now: now}
}
