package directory

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"

	"github.com/customeros/mailflow/config"
	"github.com/customeros/mailflow/dto"
	"github.com/customeros/mailflow/interfaces"
	"github.com/customeros/mailflow/internal/tracing"
)

var ErrNotFound = errors.New("not found in directory")

type directoryService struct {
	cfg    *config.DirectoryConfig
	client *http.Client
}

func NewDirectoryService(cfg *config.DirectoryConfig) interfaces.DirectoryService {
	return &directoryService{
		cfg: cfg,
		client: &http.Client{
			Timeout: cfg.Timeout,
		},
	}
}

func (s *directoryService) ListEnabledUsers(ctx context.Context) ([]*dto.User, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "directoryService.ListEnabledUsers")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)

	var users []*dto.User
	if err := s.do(ctx, http.MethodGet, "/customers/users", nil, &users); err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}
	span.SetTag("users", len(users))
	return users, nil
}

func (s *directoryService) ListUsersByCustomer(ctx context.Context, customerId int64) ([]*dto.User, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "directoryService.ListUsersByCustomer")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagCustomer(span, customerId)

	var users []*dto.User
	if err := s.do(ctx, http.MethodGet, fmt.Sprintf("/customers/%d/users", customerId), nil, &users); err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}
	return users, nil
}

func (s *directoryService) GetCustomer(ctx context.Context, customerId int64) (*dto.Customer, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "directoryService.GetCustomer")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagCustomer(span, customerId)

	var customer dto.Customer
	if err := s.do(ctx, http.MethodGet, fmt.Sprintf("/customers/%d", customerId), nil, &customer); err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}
	return &customer, nil
}

func (s *directoryService) ListMessageCategories(ctx context.Context, customerId int64) ([]*dto.MessageCategory, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "directoryService.ListMessageCategories")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagCustomer(span, customerId)

	var categories []*dto.MessageCategory
	path := fmt.Sprintf("/customers/%d/message-categories", customerId)
	if err := s.do(ctx, http.MethodGet, path, nil, &categories); err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}
	return categories, nil
}

func (s *directoryService) ListBlacklist(ctx context.Context, customerId, userId int64) ([]*dto.BlacklistEntry, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "directoryService.ListBlacklist")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagCustomer(span, customerId)
	tracing.TagUser(span, userId)

	var entries []*dto.BlacklistEntry
	path := fmt.Sprintf("/customers/%d/users/%d/blacklist", customerId, userId)
	if err := s.do(ctx, http.MethodGet, path, nil, &entries); err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}
	return entries, nil
}

func (s *directoryService) CreateMessageLog(ctx context.Context, entry *dto.MessageLogEntry) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "directoryService.CreateMessageLog")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagUser(span, entry.UserId)

	path := fmt.Sprintf("/customers/%d/message-log", entry.CustomerId)
	if err := s.do(ctx, http.MethodPost, path, entry, nil); err != nil {
		tracing.TraceErr(span, err)
		return err
	}
	return nil
}

func (s *directoryService) do(ctx context.Context, method, path string, request, response any) error {
	var body io.Reader
	if request != nil {
		payload, err := json.Marshal(request)
		if err != nil {
			return errors.Wrap(err, "failed to marshal payload")
		}
		body = bytes.NewBuffer(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.cfg.Url+path, body)
	if err != nil {
		return errors.Wrap(err, "failed to create request")
	}
	req.Header.Set("X-API-KEY", s.cfg.ApiKey)
	if request != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req = tracing.InjectSpanContextIntoHTTPRequest(req, opentracing.SpanFromContext(ctx))

	resp, err := s.client.Do(req)
	if err != nil {
		return errors.Wrap(err, "request failed")
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.Wrap(err, "unable to read response body")
	}

	if resp.StatusCode == http.StatusNotFound {
		return errors.Wrapf(ErrNotFound, "%s %s", method, path)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%s %s failed with status code %d: %s", method, path, resp.StatusCode, string(respBody))
	}

	if response == nil || len(respBody) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, response); err != nil {
		return errors.Wrap(err, "failed to unmarshal response")
	}
	return nil
}
