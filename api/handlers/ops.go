package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"

	"github.com/customeros/mailflow/interfaces"
	"github.com/customeros/mailflow/internal/enum"
	"github.com/customeros/mailflow/internal/repository"
	"github.com/customeros/mailflow/internal/tracing"
)

const defaultMessageLogLimit = 50

// OpsHandler serves the persisted listener states and the local message log.
type OpsHandler struct {
	states      interfaces.ListenerStateRepository
	messageLogs interfaces.MessageLogRepository
}

func NewOpsHandler(states interfaces.ListenerStateRepository, messageLogs interfaces.MessageLogRepository) *OpsHandler {
	return &OpsHandler{
		states:      states,
		messageLogs: messageLogs,
	}
}

func (h *OpsHandler) ListenerState() gin.HandlerFunc {
	return func(c *gin.Context) {
		span, ctx := opentracing.StartSpanFromContext(c.Request.Context(), "OpsHandler.ListenerState")
		defer span.Finish()
		tracing.SetDefaultRestSpanTags(ctx, span)

		userId, err := strconv.ParseInt(c.Param("userId"), 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user id"})
			return
		}
		tracing.TagUser(span, userId)

		state, err := h.states.GetByUser(ctx, userId)
		if err != nil {
			tracing.TraceErr(span, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if state == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "no listener state for user"})
			return
		}
		c.JSON(http.StatusOK, state)
	}
}

// ListenerStates lists persisted states, filtered by the repeated status query parameter.
func (h *OpsHandler) ListenerStates() gin.HandlerFunc {
	return func(c *gin.Context) {
		span, ctx := opentracing.StartSpanFromContext(c.Request.Context(), "OpsHandler.ListenerStates")
		defer span.Finish()
		tracing.SetDefaultRestSpanTags(ctx, span)

		var statuses []enum.ConnectionStatus
		for _, value := range c.QueryArray("status") {
			status := enum.ConnectionStatus(value)
			if !status.Valid() {
				c.JSON(http.StatusBadRequest, gin.H{"error": "unknown status " + value})
				return
			}
			statuses = append(statuses, status)
		}

		states, err := h.states.ListByStatus(ctx, statuses...)
		if err != nil {
			tracing.TraceErr(span, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, states)
	}
}

// MessageLog resolves the token carried by a rating link.
func (h *OpsHandler) MessageLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		span, ctx := opentracing.StartSpanFromContext(c.Request.Context(), "OpsHandler.MessageLog")
		defer span.Finish()
		tracing.SetDefaultRestSpanTags(ctx, span)

		entry, err := h.messageLogs.GetByToken(ctx, c.Param("token"))
		if err != nil {
			if errors.Is(err, repository.ErrMessageLogNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
				return
			}
			tracing.TraceErr(span, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, entry)
	}
}

func (h *OpsHandler) UserMessageLogs() gin.HandlerFunc {
	return func(c *gin.Context) {
		span, ctx := opentracing.StartSpanFromContext(c.Request.Context(), "OpsHandler.UserMessageLogs")
		defer span.Finish()
		tracing.SetDefaultRestSpanTags(ctx, span)

		userId, err := strconv.ParseInt(c.Param("userId"), 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user id"})
			return
		}
		tracing.TagUser(span, userId)

		limit := defaultMessageLogLimit
		if value := c.Query("limit"); value != "" {
			if limit, err = strconv.Atoi(value); err != nil || limit <= 0 {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
				return
			}
		}

		entries, err := h.messageLogs.ListByUser(ctx, userId, limit)
		if err != nil {
			tracing.TraceErr(span, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, entries)
	}
}
