package llm

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

const apiKeyHeader = "X-API-KEY"

type llmService struct {
	cfg    *config.LlmConfig
	client *http.Client
}

func NewLlmService(cfg *config.LlmConfig) interfaces.LlmService {
	return &llmService{
		cfg: cfg,
		client: &http.Client{
			Timeout: cfg.Timeout,
		},
	}
}

func (s *llmService) Categorise(ctx context.Context, request *dto.CategorisationRequest) (*dto.CategorisationResponse, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "llmService.Categorise")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	span.SetTag("categories", len(request.Categories))

	var response dto.CategorisationResponse
	if err := s.post(ctx, "/categorisation", request, &response); err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}
	tracing.LogObjectAsJson(span, "response.category", response.MessageCategory)

	return &response, nil
}

func (s *llmService) Generate(ctx context.Context, request *dto.GenerationRequest) (*dto.GenerationResponse, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "llmService.Generate")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)

	var response dto.GenerationResponse
	if err := s.post(ctx, "/generation", request, &response); err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}
	span.SetTag("response.empty", response.Text == "")

	return &response, nil
}

func (s *llmService) post(ctx context.Context, path string, request, response any) error {
	payload, err := json.Marshal(request)
	if err != nil {
		return errors.Wrap(err, "failed to marshal payload")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.Url+path, bytes.NewBuffer(payload))
	if err != nil {
		return errors.Wrap(err, "failed to create request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(apiKeyHeader, s.cfg.ApiKey)
	req = tracing.InjectSpanContextIntoHTTPRequest(req, opentracing.SpanFromContext(ctx))

	resp, err := s.client.Do(req)
	if err != nil {
		return errors.Wrap(err, "request failed")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.Wrap(err, "unable to read response body")
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%s failed with status code %d: %s", path, resp.StatusCode, string(body))
	}

	if err := json.Unmarshal(body, response); err != nil {
		return errors.Wrap(err, "failed to unmarshal response")
	}
	return nil
}
