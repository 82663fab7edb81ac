package model

import (
	"github.com/google/uuid"
)

// Role constants
const (
	RolePatient      = "patient"
	RolePractitioner = "practitioner"
	RoleAdmin        = "admin"
)

// Practitioner approval status constants
const (
	ApprovalPending  = "pending"
	ApprovalApproved = "approved"
	ApprovalRejected = "rejected"
)

// DefaultConsultationFee is charged when a practitioner has not set a fee.
const DefaultConsultationFee = 100

// User represents a platform account. Credential and profile management are
// owned by the identity collaborator; this model carries only the fields the
// scheduling engine reads.
type User struct {
	Base
	Email           string  `json:"email" db:"email"`
	Name            string  `json:"name" db:"name"`
	Role            string  `json:"role" db:"role"`
	ApprovalStatus  string  `json:"approval_status" db:"approval_status"`
	ConsultationFee float64 `json:"consultation_fee" db:"consultation_fee"`
	Specialization  *string `json:"specialization,omitempty" db:"specialization"`
}

// IsApprovedPractitioner reports whether the user can accept bookings.
func (u *User) IsApprovedPractitioner() bool {
	return u.Role == RolePractitioner && u.ApprovalStatus == ApprovalApproved
}

// FeeOrDefault returns the practitioner's fee, falling back to the platform
// default when unset.
func (u *User) FeeOrDefault() float64 {
	if u.ConsultationFee > 0 {
		return u.ConsultationFee
	}
	return DefaultConsultationFee
}

// Actor identifies the caller of a mutating operation.
type Actor struct {
	ID   uuid.UUID
	Role string
}
