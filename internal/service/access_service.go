package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-attempt/internal/engine"
	"github.com/stemsi/exstem-attempt/internal/model"
	"github.com/stemsi/exstem-attempt/internal/repository"
)

// Access errors.
var (
	ErrNotRegistered   = errors.New("user is not registered for this exam")
	ErrPaymentRequired = errors.New("payment for this exam is not completed")
)

// RegistrationStore looks up exam registrations.
type RegistrationStore interface {
	Get(ctx context.Context, examID uuid.UUID, userID string) (*model.Registration, error)
}

// AccessService decides whether a user may open a session for an exam.
type AccessService struct {
	regs RegistrationStore
}

// NewAccessService creates a new AccessService.
func NewAccessService(regs RegistrationStore) *AccessService {
	return &AccessService{regs: regs}
}

// Check requires a registration, and a completed payment when the exam is paid.
func (s *AccessService) Check(ctx context.Context, def *engine.ExamDefinition, userID string) error {
	examID, err := uuid.Parse(def.ID)
	if err != nil {
		return ErrExamNotFound
	}

	reg, err := s.regs.Get(ctx, examID, userID)
	if errors.Is(err, repository.ErrNotFound) {
		return ErrNotRegistered
	}
	if err != nil {
		return fmt.Errorf("get registration: %w", err)
	}

	if def.Paid && !reg.PaymentCompleted() {
		return ErrPaymentRequired
	}
	return nil
}
