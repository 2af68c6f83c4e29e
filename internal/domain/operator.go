package domain

import "time"

// ProfileTier enumerates operator profiles.
type ProfileTier string

const (
	ProfileAdmin      ProfileTier = "admin"
	ProfileSupervisor ProfileTier = "supervisor"
	ProfileOperator   ProfileTier = "operator"
)

// Operator is a read-only view of a human agent owned by user management.
type Operator struct {
	ID         string
	Name       string
	Department Department
	Profile    ProfileTier
	Active     bool
	Listable   bool
	Online     bool
	CreatedAt  time.Time
}

// Eligible reports whether the operator may receive sessions at all.
func (o Operator) Eligible() bool {
	return o.Active && o.Listable
}
