// Package notificator delivers handshake lifecycle notifications to the
// wallet owner over the channels configured for the tenant.
package notificator

import (
	"runtime/debug"

	"github.com/kasia-im/kasiad/internal/models"
	"github.com/kasia-im/kasiad/pkg/logger"
)

type Notificator struct {
	logger *logger.Logger

	TelegramNotificator *TelegramNotificator
	EmailNotificator    *EmailNotificator

	telegramChatID string
	notifyEmail    string
}

var _ models.NotificationService = (*Notificator)(nil)

func NewNotificator(logger *logger.Logger, telNotif *TelegramNotificator, telegramChatID string, emailNotif *EmailNotificator, notifyEmail string) *Notificator {
	return &Notificator{
		logger:              logger,
		TelegramNotificator: telNotif,
		EmailNotificator:    emailNotif,
		telegramChatID:      telegramChatID,
		notifyEmail:         notifyEmail,
	}
}

// safeCall runs a function with panic recovery (synchronous, no goroutine spawning)
func (n *Notificator) safeCall(fn func(), context string) {
	defer func() {
		if r := recover(); r != nil {
			n.logger.Error("Function panicked",
				"context", context,
				"panic", r,
				"stack", string(debug.Stack()))
		}
	}()
	fn()
}

func (n *Notificator) SendNotification(notification *models.Notification) {
	message := notification.String()

	if n.TelegramNotificator != nil && n.telegramChatID != "" {
		n.safeCall(func() { n.TelegramNotificator.SendNotification(n.telegramChatID, message) }, "telegramNotification")
	}
	if n.EmailNotificator != nil && n.notifyEmail != "" {
		n.safeCall(func() { n.EmailNotificator.SendNotification(n.notifyEmail, message) }, "emailNotification")
	}
}
