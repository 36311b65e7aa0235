package handler

import (
	"log"
	"strconv"
	"strings"

	"garage-backend/internal/model"
	"garage-backend/internal/repository"
	"garage-backend/internal/service"

	"github.com/gofiber/fiber/v2"
)

// AppointmentHandler persists bookings and feeds the notification
// broadcaster. The booking form is public; reading the list is staff only.
type AppointmentHandler struct {
	repo     *repository.AppointmentRepository
	notifier *service.Notifier
}

func NewAppointmentHandler(repo *repository.AppointmentRepository, notifier *service.Notifier) *AppointmentHandler {
	return &AppointmentHandler{repo: repo, notifier: notifier}
}

// Create stores a booking and pushes new-appointment to connected staff.
// POST /api/v1/appointments
func (h *AppointmentHandler) Create(c *fiber.Ctx) error {
	var req model.AppointmentRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{"success": false, "error": "invalid request body"})
	}

	req.CustomerName = strings.TrimSpace(req.CustomerName)
	req.Phone = strings.TrimSpace(req.Phone)
	if req.CustomerName == "" || req.Phone == "" || req.Date == "" || req.Time == "" {
		return c.Status(400).JSON(fiber.Map{"success": false, "error": "customerName, phone, date and time are required"})
	}

	ap, err := h.repo.Insert(c.Context(), req)
	if err != nil {
		log.Printf("[Appointment] insert: %v", err)
		return c.Status(500).JSON(fiber.Map{"success": false, "error": "failed to store appointment"})
	}

	// The booking is durable at this point; the push is fire-and-forget.
	h.notifier.NewAppointment(ap)

	return c.Status(201).JSON(fiber.Map{"success": true, "appointment": ap})
}

// List returns recent bookings, staff only.
// GET /api/v1/appointments?limit=50
func (h *AppointmentHandler) List(c *fiber.Ctx) error {
	role, _ := c.Locals("role").(model.Role)
	if !role.Privileged() {
		return c.Status(403).JSON(fiber.Map{"success": false, "error": "forbidden"})
	}

	limit, _ := strconv.Atoi(c.Query("limit", "50"))
	aps, err := h.repo.ListRecent(c.Context(), limit)
	if err != nil {
		log.Printf("[Appointment] list: %v", err)
		return c.Status(500).JSON(fiber.Map{"success": false, "error": "failed to list appointments"})
	}
	if aps == nil {
		aps = []model.Appointment{}
	}

	return c.JSON(fiber.Map{"success": true, "appointments": aps})
}
