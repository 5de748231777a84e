package usecase_test

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/gt"
	"github.com/secmon-lab/hypomnema/pkg/domain/interfaces"
	"github.com/secmon-lab/hypomnema/pkg/domain/model"
	"github.com/secmon-lab/hypomnema/pkg/domain/model/config"
	"github.com/secmon-lab/hypomnema/pkg/domain/types"
	"github.com/secmon-lab/hypomnema/pkg/repository/memory"
	"github.com/secmon-lab/hypomnema/pkg/service/vector"
)

const testDimension = 4

// mockLLM is a deterministic llm.Service. Every text embeds to the same
// vector so similarity queries always score 1.
type mockLLM struct {
	mu          sync.Mutex
	prompts     []string
	textErr     error
	similarity  float64
	themes      map[string][]string
	embedCalls  int
	answer      string
	similarArgs [][2]string
}

func newMockLLM() *mockLLM {
	return &mockLLM{similarity: 1, themes: map[string][]string{}}
}

func (m *mockLLM) GenerateText(ctx context.Context, systemPrompt, prompt string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prompts = append(m.prompts, prompt)
	if m.textErr != nil {
		return "", m.textErr
	}
	if m.answer != "" {
		return m.answer, nil
	}
	return "summary of the conversation", nil
}

func (m *mockLLM) GenerateEmbeddings(ctx context.Context, texts []string) ([][]float32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.embedCalls++
	result := make([][]float32, len(texts))
	for i := range texts {
		result[i] = []float32{1, 0, 0, 0}
	}
	return result, nil
}

func (m *mockLLM) ClassifyThemes(ctx context.Context, text string) (*model.ThemeClassification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := &model.ThemeClassification{Themes: []string{}, Confidence: map[string]float64{}}
	for keyword, themes := range m.themes {
		if strings.Contains(strings.ToLower(text), keyword) {
			for _, theme := range themes {
				result.Themes = append(result.Themes, theme)
				result.Confidence[theme] = 0.9
			}
		}
	}
	return result, nil
}

func (m *mockLLM) Similarity(ctx context.Context, a, b string) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.similarArgs = append(m.similarArgs, [2]string{a, b})
	return m.similarity, nil
}

func (m *mockLLM) Prompts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.prompts...)
}

func (m *mockLLM) ResetPrompts() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prompts = nil
}

func testMemoryConfig() config.MemoryConfig {
	cfg := config.DefaultMemoryConfig()
	cfg.RetryDelay = 0
	cfg.SummaryWorkers = 1
	return cfg
}

func newVectorService(t *testing.T, repo interfaces.Repository) *vector.Service {
	t.Helper()
	svc, err := vector.New(repo.Vector(), config.DefaultVectorConfig(testDimension))
	gt.NoError(t, err).Required()
	return svc
}

// failingMessageRepository fails every append with a storage error
type failingMessageRepository struct {
	interfaces.MessageRepository
	mu    sync.Mutex
	calls int
}

func (r *failingMessageRepository) Append(ctx context.Context, conversationID model.ConversationID, msg *model.Message) (*model.Message, error) {
	r.mu.Lock()
	r.calls++
	r.mu.Unlock()
	return nil, goerr.New("store unavailable", goerr.T(model.TagStorage))
}

func (r *failingMessageRepository) Calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

// failingRepository is a memory repository whose message store is unavailable
type failingRepository struct {
	*memory.Memory
	messages *failingMessageRepository
}

func newFailingRepository() *failingRepository {
	repo := memory.New()
	return &failingRepository{
		Memory:   repo,
		messages: &failingMessageRepository{MessageRepository: repo.Message()},
	}
}

func (r *failingRepository) Message() interfaces.MessageRepository {
	return r.messages
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met before deadline")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func countByLevel(summaries []*model.Summary, level types.SummaryLevel) int {
	n := 0
	for _, s := range summaries {
		if s.Level == level {
			n++
		}
	}
	return n
}
