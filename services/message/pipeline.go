package message

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"

	"github.com/customeros/mailflow/dto"
	"github.com/customeros/mailflow/interfaces"
	mailflowErrors "github.com/customeros/mailflow/internal/errors"
	"github.com/customeros/mailflow/internal/logger"
	"github.com/customeros/mailflow/internal/models"
	"github.com/customeros/mailflow/internal/tracing"
	"github.com/customeros/mailflow/internal/utils"
	"github.com/customeros/mailflow/services/imap"
)

type Outcome string

const (
	OutcomeBlacklisted  Outcome = "blacklisted"
	OutcomeManualReview Outcome = "manual_review"
	OutcomeKeptInInbox  Outcome = "kept_in_inbox"
	OutcomeReplied      Outcome = "replied"
	OutcomeDrafted      Outcome = "drafted"
	OutcomeFiled        Outcome = "filed"
	OutcomeNoAction     Outcome = "no_action"
)

const (
	tokenSize   = 21
	snippetSize = 12
)

type Dependencies struct {
	Directory  interfaces.DirectoryService
	Llm        interfaces.LlmService
	Rag        interfaces.RagService
	Cache      interfaces.MessageConfigCache
	Reporter   interfaces.ErrorReporter
	Decrypter  utils.Decrypter
	Archive    interfaces.MessageArchive
	MessageLog interfaces.MessageLogRepository
}

// Pipeline processes one arrived message: blacklist, categorisation, then reply, filing or manual review.
type Pipeline struct {
	deps           Dependencies
	log            logger.Logger
	smtpRetryDelay time.Duration
}

func NewPipeline(deps Dependencies, log logger.Logger, smtpRetryDelay time.Duration) *Pipeline {
	return &Pipeline{
		deps:           deps,
		log:            log,
		smtpRetryDelay: smtpRetryDelay,
	}
}

// Handle is the listener's message handler. Failures are reported and never reach the listener.
func (p *Pipeline) Handle(ctx context.Context, user *dto.User, session interfaces.MailboxSession, transport interfaces.MailTransport, message *dto.MailMessage) {
	if user == nil || message == nil {
		p.deps.Reporter.Report(ctx, mailflowErrors.Processing(mailflowErrors.ErrMessageNil, false, "nothing to process"))
		return
	}
	ctx = utils.WithUser(ctx, user.Id, user.CustomerId)
	ctx = utils.WithRunId(ctx, uuid.NewString())

	span, ctx := opentracing.StartSpanFromContext(ctx, "Pipeline.Handle")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)

	outcome, err := p.Process(ctx, user, session, transport, message)
	if err != nil {
		tracing.TraceErr(span, err)
		p.deps.Reporter.Report(ctx, mailflowErrors.Processing(err, mailflowErrors.ShouldNotifyAdmin(err),
			"failed to process message uid %d for user %d", message.Uid, user.Id))
		return
	}
	span.SetTag("outcome", string(outcome))
	p.log.Infof("[user:%d] message uid %d processed: %s", user.Id, message.Uid, outcome)
}

func (p *Pipeline) Process(ctx context.Context, user *dto.User, session interfaces.MailboxSession, transport interfaces.MailTransport, message *dto.MailMessage) (Outcome, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "Pipeline.Process")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagUser(span, user.Id)

	if message == nil {
		return "", mailflowErrors.ErrMessageNil
	}
	if user.Settings == nil {
		return "", mailflowErrors.ErrMissingSettings
	}
	startedAt := utils.Now()

	blacklisted, err := p.isBlacklisted(ctx, user, message.FromAddress)
	if err != nil {
		return "", err
	}
	if blacklisted {
		p.log.Infof("[user:%d] sender of uid %d is blacklisted, skipping", user.Id, message.Uid)
		return OutcomeBlacklisted, nil
	}

	categories, err := p.categories(ctx, user)
	if err != nil {
		return "", err
	}

	text, err := imap.CleanedText(message.Raw)
	if err != nil {
		return "", errors.Wrap(err, "failed to extract message text")
	}

	categorisation, err := p.resolveCategory(ctx, user, text, categories)
	if err != nil {
		return "", err
	}
	category := categorisation.MessageCategory
	if category == nil || strings.TrimSpace(category.Category) == "" {
		p.log.Infof("[user:%d] no category for uid %d, moving to manual review", user.Id, message.Uid)
		if err := p.moveToManualReview(ctx, user, session, message); err != nil {
			return "", err
		}
		return OutcomeManualReview, nil
	}
	span.SetTag("category", category.Category)

	token := utils.GenerateNanoIDWithPrefix("", tokenSize)
	var (
		outcome    Outcome
		generation *dto.GenerationResponse
	)

	if category.IsReply {
		outcome, generation, err = p.handleReply(ctx, user, session, transport, message, categorisation, token)
		if err != nil {
			return "", err
		}
		if outcome == OutcomeManualReview || outcome == OutcomeKeptInInbox {
			p.emitLog(ctx, user, message, categorisation, generation, token, startedAt)
			return outcome, nil
		}
	}

	if category.Fileable() {
		if err := session.MoveToFolder(ctx, message.Uid, category.Category); err != nil {
			return "", errors.Wrapf(err, "failed to file message into %s", category.Category)
		}
		if outcome == "" {
			outcome = OutcomeFiled
		}
	} else if outcome == "" {
		outcome = OutcomeNoAction
	}

	p.emitLog(ctx, user, message, categorisation, generation, token, startedAt)
	return outcome, nil
}

func (p *Pipeline) isBlacklisted(ctx context.Context, user *dto.User, sender string) (bool, error) {
	entries, ok := p.deps.Cache.GetBlacklist(ctx, user.Id)
	if !ok {
		fetched, err := p.deps.Directory.ListBlacklist(ctx, user.CustomerId, user.Id)
		if err != nil {
			return false, errors.Wrap(err, "failed to fetch blacklist")
		}
		entries = p.deps.Cache.StoreBlacklistIfAbsent(ctx, user.Id, fetched)
	}

	sender = utils.NormalizeEmailAddress(sender)
	if sender == "" {
		return false, nil
	}
	for _, entry := range entries {
		if entry != nil && utils.NormalizeEmailAddress(entry.EmailAddress) == sender {
			return true, nil
		}
	}
	return false, nil
}

func (p *Pipeline) categories(ctx context.Context, user *dto.User) ([]*dto.MessageCategory, error) {
	if categories, ok := p.deps.Cache.GetCategories(ctx, user.CustomerId); ok {
		return categories, nil
	}
	fetched, err := p.deps.Directory.ListMessageCategories(ctx, user.CustomerId)
	if err != nil {
		return nil, errors.Wrap(err, "failed to fetch message categories")
	}
	return p.deps.Cache.StoreCategoriesIfAbsent(ctx, user.CustomerId, fetched), nil
}

// resolveCategory skips the classifier when the customer has a single category.
func (p *Pipeline) resolveCategory(ctx context.Context, user *dto.User, text string, categories []*dto.MessageCategory) (*dto.CategorisationResponse, error) {
	if len(categories) == 1 {
		return &dto.CategorisationResponse{MessageCategory: categories[0]}, nil
	}

	response, err := await(ctx, async(ctx, func(ctx context.Context) (*dto.CategorisationResponse, error) {
		return p.deps.Llm.Categorise(ctx, &dto.CategorisationRequest{
			User:       user,
			Text:       text,
			Categories: categories,
		})
	}))
	if err != nil {
		return nil, errors.Wrap(err, "categorisation failed")
	}
	if response == nil {
		return &dto.CategorisationResponse{}, nil
	}
	return response, nil
}

func (p *Pipeline) handleReply(
	ctx context.Context,
	user *dto.User,
	session interfaces.MailboxSession,
	transport interfaces.MailTransport,
	message *dto.MailMessage,
	categorisation *dto.CategorisationResponse,
	token string,
) (Outcome, *dto.GenerationResponse, error) {
	userAddress, err := p.deps.Decrypter.Decrypt(user.EmailAddress)
	if err != nil {
		return "", nil, errors.Wrap(err, "failed to decrypt user address")
	}

	thread, err := session.FetchThread(ctx, message)
	if err != nil {
		return "", nil, errors.Wrap(err, "failed to fetch thread")
	}
	threadBody := imap.BuildThreadBody(userAddress, thread)

	ragContext, err := await(ctx, async(ctx, func(ctx context.Context) (*dto.RagResponse, error) {
		return p.deps.Rag.Search(ctx, &dto.RagRequest{
			UserId:        user.Id,
			CustomerId:    user.CustomerId,
			MessageThread: threadBody,
		})
	}))
	if err != nil {
		// generation still works without retrieved context
		p.log.Warnf("[user:%d] rag search failed: %v", user.Id, err)
		ragContext = nil
	}
	if ragContext.Empty() {
		ragContext = nil
	}

	generation, err := await(ctx, async(ctx, func(ctx context.Context) (*dto.GenerationResponse, error) {
		return p.deps.Llm.Generate(ctx, &dto.GenerationRequest{
			User:                   user,
			MessageThread:          threadBody,
			FromEmailAddress:       message.FromAddress,
			Subject:                message.Subject,
			ReceivedAt:             message.ReceivedAt,
			CategorisationResponse: categorisation,
			RagContext:             ragContext,
			Token:                  token,
		})
	}))
	if err != nil {
		return "", nil, errors.Wrap(err, "generation failed")
	}

	body := ""
	if generation != nil {
		body = generation.Text
	}
	outcome, err := p.deliverReply(ctx, user, userAddress, session, transport, message, body)
	return outcome, generation, err
}

func (p *Pipeline) moveToManualReview(ctx context.Context, user *dto.User, session interfaces.MailboxSession, message *dto.MailMessage) error {
	p.archive(ctx, user, message)
	if err := session.MoveToFolder(ctx, message.Uid, imap.ManualReviewFolder); err != nil {
		return errors.Wrap(err, "failed to move message to manual review")
	}
	return nil
}

func (p *Pipeline) archive(ctx context.Context, user *dto.User, message *dto.MailMessage) {
	if p.deps.Archive == nil {
		return
	}
	key, err := p.deps.Archive.Archive(ctx, user, message)
	if err != nil {
		p.log.Warnf("[user:%d] failed to archive uid %d: %v", user.Id, message.Uid, err)
		return
	}
	p.log.Debugf("[user:%d] archived uid %d as %s", user.Id, message.Uid, key)
}

func (p *Pipeline) emitLog(
	ctx context.Context,
	user *dto.User,
	message *dto.MailMessage,
	categorisation *dto.CategorisationResponse,
	generation *dto.GenerationResponse,
	token string,
	startedAt time.Time,
) {
	entry := buildLogEntry(user, message, categorisation, generation, token, startedAt, utils.Now())

	if err := p.deps.Directory.CreateMessageLog(ctx, entry); err != nil {
		p.deps.Reporter.Report(ctx, mailflowErrors.Processing(err, false, "failed to create message log for user %d", user.Id))
	}

	if p.deps.MessageLog == nil {
		return
	}
	if _, err := p.deps.MessageLog.Create(ctx, toMessageLogModel(entry, message)); err != nil {
		p.log.Warnf("[user:%d] failed to store local message log: %v", user.Id, err)
	}
}

func buildLogEntry(
	user *dto.User,
	message *dto.MailMessage,
	categorisation *dto.CategorisationResponse,
	generation *dto.GenerationResponse,
	token string,
	startedAt, processedAt time.Time,
) *dto.MessageLogEntry {
	entry := &dto.MessageLogEntry{
		UserId:                     user.Id,
		CustomerId:                 user.CustomerId,
		MessageId:                  utils.GenerateNanoIDWithPrefix("snippet", snippetSize),
		FromEmailAddress:           utils.NormalizeEmailAddress(message.FromAddress),
		Subject:                    message.Subject,
		ReceivedAt:                 message.ReceivedAt,
		ProcessedAt:                processedAt,
		ProcessingTimeInSeconds:    int64(processedAt.Sub(startedAt).Seconds()),
		LlmUsedForCategorisation:   categorisation.LlmUsed,
		InputTokensCategorisation:  categorisation.InputTokens,
		OutputTokensCategorisation: categorisation.OutputTokens,
		TotalTokensCategorisation:  categorisation.TotalTokens,
		Token:                      token,
	}
	if category := categorisation.MessageCategory; category != nil {
		entry.Category = category.Category
		entry.IsReply = category.IsReply
		entry.IsFunctionCall = category.IsFunctionCall
	}
	if generation != nil {
		entry.LlmUsedForGeneration = generation.LlmUsed
		entry.InputTokensGeneration = generation.InputTokens
		entry.OutputTokensGeneration = generation.OutputTokens
		entry.TotalTokensGeneration = generation.TotalTokens
	}
	return entry
}

func toMessageLogModel(entry *dto.MessageLogEntry, message *dto.MailMessage) *models.MessageLog {
	return &models.MessageLog{
		UserId:                    entry.UserId,
		CustomerId:                entry.CustomerId,
		Category:                  entry.Category,
		IsReply:                   entry.IsReply,
		IsFunctionCall:            entry.IsFunctionCall,
		MessageId:                 utils.NormalizeMessageID(message.MessageId),
		References:                message.References,
		FromEmailAddress:          entry.FromEmailAddress,
		Subject:                   entry.Subject,
		ReceivedAt:                entry.ReceivedAt,
		ProcessedAt:               entry.ProcessedAt,
		ProcessingTimeInSeconds:   entry.ProcessingTimeInSeconds,
		LlmUsedForCategorisation:  entry.LlmUsedForCategorisation,
		TotalTokensCategorisation: entry.TotalTokensCategorisation,
		LlmUsedForGeneration:      entry.LlmUsedForGeneration,
		TotalTokensGeneration:     entry.TotalTokensGeneration,
		Token:                     entry.Token,
	}
}

type result[T any] struct {
	value T
	err   error
}

// async runs fn on its own goroutine. A panic in fn becomes an error.
func async[T any](ctx context.Context, fn func(context.Context) (T, error)) <-chan result[T] {
	ch := make(chan result[T], 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- result[T]{err: fmt.Errorf("panic: %v", r)}
			}
		}()
		value, err := fn(ctx)
		ch <- result[T]{value: value, err: err}
	}()
	return ch
}

func await[T any](ctx context.Context, ch <-chan result[T]) (T, error) {
	select {
	case r := <-ch:
		return r.value, r.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}
