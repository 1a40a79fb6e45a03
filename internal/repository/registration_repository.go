package repository

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-attempt/internal/model"
)

// RegistrationRepository handles exam registration lookups.
type RegistrationRepository struct {
	pool *pgxpool.Pool
}

// NewRegistrationRepository creates a new RegistrationRepository.
func NewRegistrationRepository(pool *pgxpool.Pool) *RegistrationRepository {
	return &RegistrationRepository{pool: pool}
}

// Get returns the registration of userID for examID, or ErrNotFound.
func (r *RegistrationRepository) Get(ctx context.Context, examID uuid.UUID, userID string) (*model.Registration, error) {
	reg := &model.Registration{}
	err := r.pool.QueryRow(ctx,
		`SELECT exam_id, user_id, payment_status, registered_at
		 FROM exam_registrations
		 WHERE exam_id = $1 AND user_id = $2`, examID, userID,
	).Scan(&reg.ExamID, &reg.UserID, &reg.PaymentStatus, &reg.RegisteredAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return reg, nil
}
