package model

import (
	"time"

	"github.com/google/uuid"
)

// Appointment is a stored service-appointment row. The relay only creates
// and relays these; scheduling workflow lives in the rest of the product.
type Appointment struct {
	ID           uuid.UUID `json:"id"`
	CustomerName string    `json:"customerName"`
	Phone        string    `json:"phone"`
	Service      string    `json:"service"`
	Date         string    `json:"date"`
	Time         string    `json:"time"`
	Note         string    `json:"note"`
	CreatedAt    time.Time `json:"createdAt"`
}

// AppointmentRequest is the booking-form payload.
type AppointmentRequest struct {
	CustomerName string `json:"customerName"`
	Phone        string `json:"phone"`
	Service      string `json:"service"`
	Date         string `json:"date"`
	Time         string `json:"time"`
	Note         string `json:"note"`
}
