package repository

import (
	"context"
	"fmt"

	"garage-backend/internal/model"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

type AppointmentRepository struct {
	pool *pgxpool.Pool
}

func NewAppointmentRepository(pool *pgxpool.Pool) *AppointmentRepository {
	return &AppointmentRepository{pool: pool}
}

// Insert stores a booking and returns the full row with its server-assigned
// id and timestamp.
func (r *AppointmentRepository) Insert(ctx context.Context, req model.AppointmentRequest) (*model.Appointment, error) {
	ap := &model.Appointment{
		ID:           uuid.New(),
		CustomerName: req.CustomerName,
		Phone:        req.Phone,
		Service:      req.Service,
		Date:         req.Date,
		Time:         req.Time,
		Note:         req.Note,
	}

	err := r.pool.QueryRow(ctx, `
		INSERT INTO appointments (id, customer_name, phone, service, date, time, note)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at
	`, ap.ID, ap.CustomerName, ap.Phone, ap.Service, ap.Date, ap.Time, ap.Note).Scan(&ap.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert appointment: %w", err)
	}
	return ap, nil
}

// ListRecent returns the newest appointments, most recent first.
func (r *AppointmentRepository) ListRecent(ctx context.Context, limit int) ([]model.Appointment, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	rows, err := r.pool.Query(ctx, `
		SELECT id, customer_name, phone, service, date, time, note, created_at
		FROM appointments
		ORDER BY created_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var aps []model.Appointment
	for rows.Next() {
		var a model.Appointment
		if err := rows.Scan(&a.ID, &a.CustomerName, &a.Phone, &a.Service, &a.Date, &a.Time, &a.Note, &a.CreatedAt); err != nil {
			return nil, err
		}
		aps = append(aps, a)
	}
	return aps, rows.Err()
}
