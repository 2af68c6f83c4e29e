package domain

import "fmt"

// ParticipantKind discriminates ParticipantRef variants.
type ParticipantKind string

const (
	ParticipantOperator ParticipantKind = "operator"
	ParticipantCustomer ParticipantKind = "customer"
)

// ParticipantRef references either an operator or a customer.
type ParticipantRef struct {
	Kind ParticipantKind `json:"kind"`
	ID   string          `json:"id"`
}

// OperatorRef builds an operator reference.
func OperatorRef(id string) *ParticipantRef {
	return &ParticipantRef{Kind: ParticipantOperator, ID: id}
}

// CustomerRef builds a customer reference.
func CustomerRef(id string) *ParticipantRef {
	return &ParticipantRef{Kind: ParticipantCustomer, ID: id}
}

// ParseParticipantRef validates a kind/id pair.
func ParseParticipantRef(kind, id string) (*ParticipantRef, error) {
	if id == "" {
		return nil, fmt.Errorf("participant id required")
	}
	switch ParticipantKind(kind) {
	case ParticipantOperator:
		return OperatorRef(id), nil
	case ParticipantCustomer:
		return CustomerRef(id), nil
	default:
		return nil, fmt.Errorf("unknown participant kind %q", kind)
	}
}

func (p ParticipantRef) String() string {
	return string(p.Kind) + ":" + p.ID
}
