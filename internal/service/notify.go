package service

import (
	"fmt"
	"log"

	"garage-backend/internal/model"
)

// Notifier pushes role-scoped domain events to connected sockets on the
// notification namespace. Fire-and-forget: nothing is persisted here and
// offline clients are expected to poll pending counts over REST.
type Notifier struct {
	registry *Registry
	telegram *TelegramNotifier
}

func NewNotifier(registry *Registry, telegram *TelegramNotifier) *Notifier {
	return &Notifier{registry: registry, telegram: telegram}
}

// Notify delivers an event of the given kind to every connection of the role
// cohort. Returns the number of sockets reached.
func (n *Notifier) Notify(role model.Role, eventKind string, payload any) int {
	event, err := model.NewEvent(eventKind, payload)
	if err != nil {
		log.Printf("[Notify] marshal %s: %v", eventKind, err)
		return 0
	}
	return n.registry.BroadcastToRole(role, NamespaceNotifications, event)
}

// NewAppointment announces a fresh booking to connected staff and, when
// configured, to the staff Telegram channel. The Telegram send runs in the
// background so a slow Bot API call never delays the booking response.
func (n *Notifier) NewAppointment(ap *model.Appointment) {
	text := fmt.Sprintf("New appointment: %s (%s) on %s at %s", ap.CustomerName, ap.Phone, ap.Date, ap.Time)
	if ap.Service != "" {
		text = fmt.Sprintf("%s — %s", text, ap.Service)
	}

	reached := n.Notify(model.RoleAdmin, model.EventNewAppointment, model.NewAppointmentPayload{
		Message:     text,
		Appointment: *ap,
	})
	log.Printf("[Notify] new-appointment %s reached %d sockets", ap.ID, reached)

	if n.telegram != nil {
		go n.telegram.Send(text)
	}
}
