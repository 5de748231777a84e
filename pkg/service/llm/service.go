package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/gollem"
	"github.com/secmon-lab/hypomnema/pkg/domain/model"
	"github.com/secmon-lab/hypomnema/pkg/domain/model/config"
)

// client implements Service over a gollem LLM client
type client struct {
	llmClient gollem.LLMClient
	dimension int
	themes    config.ThemeConfig
}

// Option is a functional option for client configuration
type Option func(*client)

// WithEmbeddingDimension sets the requested embedding dimensionality
func WithEmbeddingDimension(dim int) Option {
	return func(c *client) {
		c.dimension = dim
	}
}

// WithThemeConfig sets the controlled theme vocabulary
func WithThemeConfig(themes config.ThemeConfig) Option {
	return func(c *client) {
		c.themes = themes
	}
}

// New creates a new language-model service with the provided LLM client
func New(llmClient gollem.LLMClient, opts ...Option) (Service, error) {
	if llmClient == nil {
		return nil, goerr.New("LLM client is required")
	}

	c := &client{
		llmClient: llmClient,
		dimension: model.EmbeddingDimension,
		themes:    config.DefaultThemeConfig(),
	}

	for _, opt := range opts {
		opt(c)
	}

	if c.dimension <= 0 {
		return nil, goerr.New("embedding dimension must be positive", goerr.V("dimension", c.dimension))
	}

	return c, nil
}

func (c *client) GenerateText(ctx context.Context, systemPrompt, prompt string) (string, error) {
	var opts []gollem.SessionOption
	if systemPrompt != "" {
		opts = append(opts, gollem.WithSessionSystemPrompt(systemPrompt))
	}

	session, err := c.llmClient.NewSession(ctx, opts...)
	if err != nil {
		return "", goerr.Wrap(err, "failed to create LLM session")
	}

	resp, err := session.GenerateContent(ctx, gollem.Text(prompt))
	if err != nil {
		return "", goerr.Wrap(err, "failed to generate content from LLM")
	}
	if resp == nil || len(resp.Texts) == 0 {
		return "", goerr.New("LLM returned no text", goerr.T(model.TagParse))
	}

	return strings.TrimSpace(strings.Join(resp.Texts, "")), nil
}

func (c *client) GenerateEmbeddings(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	embeddings, err := c.llmClient.GenerateEmbedding(ctx, c.dimension, texts)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to generate embedding", goerr.V("count", len(texts)))
	}
	if len(embeddings) != len(texts) {
		return nil, goerr.New("embedding count mismatch",
			goerr.T(model.TagParse),
			goerr.V("expected", len(texts)),
			goerr.V("actual", len(embeddings)))
	}

	// Convert float64 to float32
	result := make([][]float32, len(embeddings))
	for i, emb := range embeddings {
		vec := make([]float32, len(emb))
		for j, v := range emb {
			vec[j] = float32(v)
		}
		result[i] = vec
	}

	return result, nil
}

func (c *client) ClassifyThemes(ctx context.Context, text string) (*model.ThemeClassification, error) {
	result := &model.ThemeClassification{
		Themes:     []string{},
		Confidence: map[string]float64{},
	}
	if strings.TrimSpace(text) == "" || len(c.themes.Vocabulary) == 0 {
		return result, nil
	}

	session, err := c.llmClient.NewSession(ctx,
		gollem.WithSessionContentType(gollem.ContentTypeJSON),
		gollem.WithSessionResponseSchema(c.buildThemeSchema()),
		gollem.WithSessionSystemPrompt(buildThemeSystemPrompt(c.themes.Vocabulary)),
	)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create LLM session")
	}

	resp, err := session.GenerateContent(ctx, gollem.Text(text))
	if err != nil {
		return nil, goerr.Wrap(err, "failed to generate content from LLM")
	}
	if resp == nil || len(resp.Texts) == 0 {
		return nil, goerr.New("LLM returned no text", goerr.T(model.TagParse))
	}

	var llmResp themeResponse
	if err := json.Unmarshal([]byte(resp.Texts[0]), &llmResp); err != nil {
		return nil, goerr.Wrap(err, "failed to parse LLM response", goerr.T(model.TagParse), goerr.V("response", resp.Texts[0]))
	}

	for _, s := range llmResp.Themes {
		theme := strings.ToLower(strings.TrimSpace(s.Theme))
		if !c.themes.Contains(theme) || s.Confidence < c.themes.MinConfidence {
			continue
		}
		if _, dup := result.Confidence[theme]; dup {
			continue
		}
		result.Themes = append(result.Themes, theme)
		result.Confidence[theme] = s.Confidence
	}

	return result, nil
}

func (c *client) Similarity(ctx context.Context, a, b string) (float64, error) {
	embeddings, err := c.GenerateEmbeddings(ctx, []string{a, b})
	if err != nil {
		return 0, goerr.Wrap(err, "failed to embed texts for similarity")
	}
	return CosineSimilarity(embeddings[0], embeddings[1]), nil
}

// CosineSimilarity returns the cosine of the angle between a and b, or 0 when
// either is empty or their lengths differ.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	denom := math.Sqrt(normA) * math.Sqrt(normB)
	if denom == 0 {
		return 0
	}

	return dot / denom
}

func buildThemeSystemPrompt(vocabulary []string) string {
	var sb strings.Builder

	sb.WriteString("You classify text into themes.\n\n")
	sb.WriteString("## Instructions:\n\n")
	sb.WriteString("1. Choose themes only from this list: ")
	sb.WriteString(strings.Join(vocabulary, ", "))
	sb.WriteString("\n")
	sb.WriteString("2. For each theme that applies, give a confidence between 0 and 1.\n")
	fmt.Fprintf(&sb, "3. Return at most %d themes. Return an empty array if none apply.\n", min(len(vocabulary), 5))

	return sb.String()
}

func (c *client) buildThemeSchema() *gollem.Parameter {
	return &gollem.Parameter{
		Title:       "ThemeClassificationResponse",
		Description: "Themes detected in the text",
		Type:        gollem.TypeObject,
		Properties: map[string]*gollem.Parameter{
			"themes": {
				Type:        gollem.TypeArray,
				Description: "Detected themes with confidence",
				Required:    true,
				Items: &gollem.Parameter{
					Type: gollem.TypeObject,
					Properties: map[string]*gollem.Parameter{
						"theme": {
							Type:        gollem.TypeString,
							Description: "Theme name from the vocabulary",
							Required:    true,
						},
						"confidence": {
							Type:        gollem.TypeNumber,
							Description: "Confidence between 0 and 1",
							Required:    true,
						},
					},
				},
			},
		},
	}
}
