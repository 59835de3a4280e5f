package handlers

import "github.com/customeros/mailflow/interfaces"

type APIHandlers struct {
	Notifications *NotificationsHandler
	Ops           *OpsHandler
}

func InitHandlers(notifications interfaces.NotificationService, states interfaces.ListenerStateRepository, messageLogs interfaces.MessageLogRepository) *APIHandlers {
	return &APIHandlers{
		Notifications: NewNotificationsHandler(notifications),
		Ops:           NewOpsHandler(states, messageLogs),
	}
}
