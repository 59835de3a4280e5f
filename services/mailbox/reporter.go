package mailbox

import (
	"context"
	"strconv"

	"github.com/opentracing/opentracing-go"

	"github.com/customeros/mailflow/dto"
	"github.com/customeros/mailflow/interfaces"
	mailflowErrors "github.com/customeros/mailflow/internal/errors"
	"github.com/customeros/mailflow/internal/logger"
	"github.com/customeros/mailflow/internal/tracing"
	"github.com/customeros/mailflow/internal/utils"
)

// ErrorReporter logs every error and escalates the ones flagged for an operator.
type ErrorReporter struct {
	log       logger.Logger
	publisher interfaces.EventPublisher
}

// NewErrorReporter accepts a nil publisher; escalations are then only logged.
func NewErrorReporter(log logger.Logger, publisher interfaces.EventPublisher) *ErrorReporter {
	return &ErrorReporter{
		log:       log,
		publisher: publisher,
	}
}

func (r *ErrorReporter) Report(ctx context.Context, err error) {
	if err == nil {
		return
	}
	span, ctx := opentracing.StartSpanFromContext(ctx, "ErrorReporter.Report")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TraceErr(span, err)

	kind, _ := mailflowErrors.KindOf(err)
	r.log.Errorf("[%s] %v", kindOrUnknown(kind), err)

	if !mailflowErrors.ShouldNotifyAdmin(err) {
		return
	}
	r.NotifyAdmin(ctx, dto.MailboxEscalation{
		UserId:     parseId(utils.GetUserIdFromContext(ctx)),
		CustomerId: parseId(utils.GetCustomerIdFromContext(ctx)),
		Kind:       kindOrUnknown(kind),
		Message:    err.Error(),
		OccurredAt: utils.Now(),
	})
}

func (r *ErrorReporter) NotifyAdmin(ctx context.Context, escalation dto.MailboxEscalation) {
	r.log.Errorf("admin notification for user %d: %s", escalation.UserId, escalation.Message)
	if r.publisher == nil {
		return
	}
	if err := r.publisher.PublishEscalation(ctx, escalation); err != nil {
		r.log.Errorf("failed to publish escalation: %v", err)
	}
}

func kindOrUnknown(kind mailflowErrors.Kind) string {
	if kind == "" {
		return "unknown"
	}
	return string(kind)
}

func parseId(value string) int64 {
	id, _ := strconv.ParseInt(value, 10, 64)
	return id
}
