package llm

import (
	"context"

	"github.com/secmon-lab/hypomnema/pkg/domain/model"
)

// Service is the language-model collaborator
type Service interface {
	// GenerateText returns the model completion for prompt
	GenerateText(ctx context.Context, systemPrompt, prompt string) (string, error)

	// GenerateEmbeddings returns one vector per text with the configured dimensionality
	GenerateEmbeddings(ctx context.Context, texts []string) ([][]float32, error)

	// ClassifyThemes classifies text against the controlled vocabulary. Only
	// vocabulary themes at or above the minimum confidence are returned.
	ClassifyThemes(ctx context.Context, text string) (*model.ThemeClassification, error)

	// Similarity returns the cosine similarity of the embeddings of a and b
	Similarity(ctx context.Context, a, b string) (float64, error)
}

// themeResponse is the structured output of theme classification
type themeResponse struct {
	Themes []themeScore `json:"themes"`
}

type themeScore struct {
	Theme      string  `json:"theme"`
	Confidence float64 `json:"confidence"`
}
