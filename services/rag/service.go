package rag

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

type ragService struct {
	cfg    *config.RagConfig
	client *http.Client
}

func NewRagService(cfg *config.RagConfig) interfaces.RagService {
	return &ragService{
		cfg: cfg,
		client: &http.Client{
			Timeout: cfg.Timeout,
		},
	}
}

// Search returns an empty response when the retrieval backend answers 204.
func (s *ragService) Search(ctx context.Context, request *dto.RagRequest) (*dto.RagResponse, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "ragService.Search")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagUser(span, request.UserId)

	payload, err := json.Marshal(request)
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, errors.Wrap(err, "failed to marshal payload")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.Url+"/search", bytes.NewBuffer(payload))
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, errors.Wrap(err, "failed to create request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-KEY", s.cfg.ApiKey)
	req = tracing.InjectSpanContextIntoHTTPRequest(req, span)

	resp, err := s.client.Do(req)
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, errors.Wrap(err, "request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNoContent {
		span.SetTag("response.empty", true)
		return &dto.RagResponse{}, nil
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, errors.Wrap(err, "unable to read response body")
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		err = fmt.Errorf("search failed with status code %d: %s", resp.StatusCode, string(body))
		tracing.TraceErr(span, err)
		return nil, err
	}

	var response dto.RagResponse
	if err := json.Unmarshal(body, &response); err != nil {
		tracing.TraceErr(span, err)
		return nil, errors.Wrap(err, "failed to unmarshal response")
	}
	span.SetTag("segments", len(response.RelevantSegments))

	return &response, nil
}
