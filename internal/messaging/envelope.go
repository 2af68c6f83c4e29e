package messaging

import (
	"time"

	"github.com/google/uuid"
)

// Meta describes an envelope on the wire.
type Meta struct {
	// Unique event ID
	ID string `json:"id"`
	// Event name and version, e.g. session.completed.v1
	Type string `json:"type"`
	// Timestamp when the event was emitted
	Time time.Time `json:"time"`
	// Emitting service
	Producer string `json:"producer,omitempty"`
	// Request or session correlation
	CorrelationID string `json:"correlation_id,omitempty"`
}

// Envelope wraps every published payload.
type Envelope struct {
	Meta Meta `json:"meta"`
	Data any  `json:"data"`
}

// NewEnvelope stamps an id and the emission time. An empty id gets a random one.
func NewEnvelope(id, eventType, producer, correlationID string, data any) Envelope {
	if id == "" {
		id = uuid.NewString()
	}
	if correlationID == "" {
		correlationID = id
	}
	return Envelope{
		Meta: Meta{
			ID:            id,
			Type:          eventType,
			Time:          time.Now().UTC(),
			Producer:      producer,
			CorrelationID: correlationID,
		},
		Data: data,
	}
}
