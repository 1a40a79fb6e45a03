package model

import (
	"time"

	"github.com/google/uuid"
)

// PaymentStatus of a registration for a paid exam.
type PaymentStatus string

const (
	PaymentStatusNone      PaymentStatus = "NONE"
	PaymentStatusPending   PaymentStatus = "PENDING"
	PaymentStatusCompleted PaymentStatus = "COMPLETED"
)

// Registration records that a user signed up for an exam.
type Registration struct {
	ExamID        uuid.UUID     `json:"exam_id"`
	UserID        string        `json:"user_id"`
	PaymentStatus PaymentStatus `json:"payment_status"`
	RegisteredAt  time.Time     `json:"registered_at"`
}

// PaymentCompleted reports whether a paid exam may be taken.
func (r *Registration) PaymentCompleted() bool {
	return r.PaymentStatus == PaymentStatusCompleted
}
