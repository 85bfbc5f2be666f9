package worker

import (
	"github.com/spec-kit/ticketdesk/internal/service"
)

// StartNotificationWorker registers the audit and metrics event handlers.
func StartNotificationWorker(notificationService *service.NotificationService) {
	if notificationService == nil {
		return
	}
	notificationService.RegisterHandlers()
}
