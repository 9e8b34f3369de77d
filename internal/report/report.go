package report

import (
	"time"

	"github.com/google/uuid"
)

// SessionReport is the final accounting for one connection.
type SessionReport struct {
	ID         uuid.UUID
	InstanceID string
	ConnID     uint64
	RemoteAddr string
	OpenedAt   time.Time
	ClosedAt   time.Time
	Reason     string

	MessagesReceived uint64
	TotalMissed      uint64
	LastSequence     uint64
	LossPercentage   float64
}

// Sink accepts finished session reports. Submit must not block.
type Sink interface {
	Submit(r SessionReport) bool
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(r SessionReport) bool

// Submit calls f(r).
func (f SinkFunc) Submit(r SessionReport) bool {
	return f(r)
}

// NewID returns a fresh report ID.
func NewID() uuid.UUID {
	return uuid.New()
}
