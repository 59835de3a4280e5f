package storage

import (
	"context"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"

	"github.com/customeros/mailflow/config"
	"github.com/customeros/mailflow/dto"
	"github.com/customeros/mailflow/interfaces"
	"github.com/customeros/mailflow/internal/logger"
	"github.com/customeros/mailflow/internal/tracing"
	"github.com/customeros/mailflow/internal/utils"
	"github.com/customeros/mailflow/services/storage/aws_client"
)

const (
	archivePrefix   = "manual-review/"
	emlContentType  = "message/rfc822"
	objectKeyIdSize = 12
)

type ArchiveService struct {
	client aws_client.ObjectClient
	bucket string
	log    logger.Logger
}

func NewArchiveService(client aws_client.ObjectClient, bucket string, log logger.Logger) *ArchiveService {
	return &ArchiveService{
		client: client,
		bucket: bucket,
		log:    log,
	}
}

// NewR2ArchiveService returns nil when no R2 credentials are configured.
func NewR2ArchiveService(cfg *config.ArchiveConfig, log logger.Logger) interfaces.MessageArchive {
	if !cfg.Enabled() {
		log.Info("manual review archive disabled, no R2 credentials configured")
		return nil
	}
	client := aws_client.NewR2Client(aws_client.R2Config{
		AccountID:       cfg.AccountID,
		AccessKeyID:     cfg.AccessKeyID,
		AccessKeySecret: cfg.AccessKeySecret,
	})
	return NewArchiveService(client, cfg.Bucket, log)
}

// ArchiveKey is manual-review/<customer>/<user>/<yyyy-mm-dd>/<id>.eml
func ArchiveKey(user *dto.User, message *dto.MailMessage, now time.Time) string {
	id := utils.NormalizeMessageID(message.MessageId)
	id = strings.NewReplacer("/", "_", "@", "_at_", " ", "").Replace(id)
	if id == "" {
		id = utils.GenerateNanoIDWithPrefix("msg", objectKeyIdSize)
	}
	return archivePrefix + path.Join(
		fmt.Sprintf("%d", user.CustomerId),
		fmt.Sprintf("%d", user.Id),
		now.UTC().Format("2006-01-02"),
		id+".eml",
	)
}

func (s *ArchiveService) Archive(ctx context.Context, user *dto.User, message *dto.MailMessage) (string, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "ArchiveService.Archive")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagUser(span, user.Id)

	if len(message.Raw) == 0 {
		return "", errors.New("message has no raw content")
	}

	key := ArchiveKey(user, message, utils.Now())
	if err := s.client.Put(ctx, s.bucket, key, message.Raw, emlContentType); err != nil {
		tracing.TraceErr(span, err)
		return "", errors.Wrapf(err, "failed to archive message %s", key)
	}
	span.SetTag("key", key)
	return key, nil
}

// PurgeOlderThan deletes archived messages last modified before cutoff.
func (s *ArchiveService) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "ArchiveService.PurgeOlderThan")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)

	objects, err := s.client.List(ctx, s.bucket, archivePrefix)
	if err != nil {
		tracing.TraceErr(span, err)
		return 0, errors.Wrap(err, "failed to list archived messages")
	}

	deleted := 0
	for _, object := range objects {
		if !object.LastModified.Before(cutoff) {
			continue
		}
		if err := s.client.Delete(ctx, s.bucket, object.Key); err != nil {
			tracing.TraceErr(span, err)
			s.log.Warnf("failed to delete archived message %s: %v", object.Key, err)
			continue
		}
		deleted++
	}
	span.SetTag("deleted", deleted)
	return deleted, nil
}
