package interfaces

import (
	"context"

	"github.com/customeros/mailflow/dto"
)

type LlmService interface {
	Categorise(ctx context.Context, request *dto.CategorisationRequest) (*dto.CategorisationResponse, error)
	Generate(ctx context.Context, request *dto.GenerationRequest) (*dto.GenerationResponse, error)
}

type RagService interface {
	Search(ctx context.Context, request *dto.RagRequest) (*dto.RagResponse, error)
}
