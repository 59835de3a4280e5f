package interfaces

import (
	"context"
	"time"

	"github.com/customeros/mailflow/dto"
)

// MessageArchive keeps raw copies of messages escalated to manual review.
type MessageArchive interface {
	Archive(ctx context.Context, user *dto.User, message *dto.MailMessage) (string, error)
	PurgeOlderThan(ctx context.Context, cutoff time.Time) (int, error)
}
