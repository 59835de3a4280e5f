package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/opentracing/opentracing-go"

	"github.com/customeros/mailflow/dto"
	"github.com/customeros/mailflow/interfaces"
	mailflowErrors "github.com/customeros/mailflow/internal/errors"
	"github.com/customeros/mailflow/internal/tracing"
)

type NotificationsHandler struct {
	notifications interfaces.NotificationService
}

func NewNotificationsHandler(notifications interfaces.NotificationService) *NotificationsHandler {
	return &NotificationsHandler{
		notifications: notifications,
	}
}

// UserCreated starts the listener of a new user.
func (h *NotificationsHandler) UserCreated() gin.HandlerFunc {
	return func(c *gin.Context) {
		span, ctx := opentracing.StartSpanFromContext(c.Request.Context(), "NotificationsHandler.UserCreated")
		defer span.Finish()
		tracing.SetDefaultRestSpanTags(ctx, span)

		var user dto.User
		if err := c.ShouldBindJSON(&user); err != nil {
			tracing.TraceErr(span, err)
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		tracing.TagUser(span, user.Id)

		if err := h.notifications.OnUserCreated(ctx, &user); err != nil {
			tracing.TraceErr(span, err)
			c.JSON(statusFor(err), gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "listener started", "userId": user.Id})
	}
}

// UserUpdated restarts the listener with the new settings.
func (h *NotificationsHandler) UserUpdated() gin.HandlerFunc {
	return func(c *gin.Context) {
		span, ctx := opentracing.StartSpanFromContext(c.Request.Context(), "NotificationsHandler.UserUpdated")
		defer span.Finish()
		tracing.SetDefaultRestSpanTags(ctx, span)

		var user dto.User
		if err := c.ShouldBindJSON(&user); err != nil {
			tracing.TraceErr(span, err)
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		tracing.TagUser(span, user.Id)

		if err := h.notifications.OnUserUpdated(ctx, &user); err != nil {
			tracing.TraceErr(span, err)
			c.JSON(statusFor(err), gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "listener restarted", "userId": user.Id})
	}
}

func (h *NotificationsHandler) MessageCategoriesUpdated() gin.HandlerFunc {
	return func(c *gin.Context) {
		span, ctx := opentracing.StartSpanFromContext(c.Request.Context(), "NotificationsHandler.MessageCategoriesUpdated")
		defer span.Finish()
		tracing.SetDefaultRestSpanTags(ctx, span)

		customerId, err := strconv.ParseInt(c.Param("customerId"), 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid customer id"})
			return
		}
		tracing.TagCustomer(span, customerId)

		var categories []*dto.MessageCategory
		if err := c.ShouldBindJSON(&categories); err != nil {
			tracing.TraceErr(span, err)
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		if err := h.notifications.OnMessageCategoriesUpdated(ctx, customerId, categories); err != nil {
			tracing.TraceErr(span, err)
			c.JSON(statusFor(err), gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "categories replaced", "count": len(categories)})
	}
}

func (h *NotificationsHandler) BlacklistUpdated() gin.HandlerFunc {
	return func(c *gin.Context) {
		span, ctx := opentracing.StartSpanFromContext(c.Request.Context(), "NotificationsHandler.BlacklistUpdated")
		defer span.Finish()
		tracing.SetDefaultRestSpanTags(ctx, span)

		userId, err := strconv.ParseInt(c.Param("userId"), 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user id"})
			return
		}
		tracing.TagUser(span, userId)

		var entries []*dto.BlacklistEntry
		if err := c.ShouldBindJSON(&entries); err != nil {
			tracing.TraceErr(span, err)
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		if err := h.notifications.OnBlacklistUpdated(ctx, userId, entries); err != nil {
			tracing.TraceErr(span, err)
			c.JSON(statusFor(err), gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "blacklist replaced", "count": len(entries)})
	}
}

// CustomerTrialEnded splits the shared trial mailbox into per-user listeners.
func (h *NotificationsHandler) CustomerTrialEnded() gin.HandlerFunc {
	return func(c *gin.Context) {
		span, ctx := opentracing.StartSpanFromContext(c.Request.Context(), "NotificationsHandler.CustomerTrialEnded")
		defer span.Finish()
		tracing.SetDefaultRestSpanTags(ctx, span)

		customerId, err := strconv.ParseInt(c.Param("customerId"), 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid customer id"})
			return
		}
		tracing.TagCustomer(span, customerId)

		if err := h.notifications.OnCustomerTrialEnded(ctx, customerId); err != nil {
			tracing.TraceErr(span, err)
			c.JSON(statusFor(err), gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "trial ended", "customerId": customerId})
	}
}

func statusFor(err error) int {
	kind, _ := mailflowErrors.KindOf(err)
	switch kind {
	case mailflowErrors.KindValidation:
		return http.StatusBadRequest
	case mailflowErrors.KindConnection, mailflowErrors.KindProtocol:
		return http.StatusBadGateway
	case mailflowErrors.KindTermination:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
