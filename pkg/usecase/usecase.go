package usecase

import (
	"github.com/m-mizutani/gollem"
	"github.com/secmon-lab/hypomnema/pkg/domain/interfaces"
	"github.com/secmon-lab/hypomnema/pkg/domain/model/config"
	"github.com/secmon-lab/hypomnema/pkg/service/document"
	"github.com/secmon-lab/hypomnema/pkg/service/llm"
	"github.com/secmon-lab/hypomnema/pkg/service/vector"
)

type UseCases struct {
	repo          interfaces.Repository
	memoryConfig  config.MemoryConfig
	vectors       *vector.Service
	loader        *document.Loader
	topicTracking bool
	agentClient   gollem.LLMClient

	Conversation *ConversationUseCase
	Topic        *TopicUseCase
	Summary      *SummaryUseCase
	Processor    *MessageProcessor
	Retrieval    *RetrievalUseCase
	Agent        *AgentUseCase
	Ingest       *IngestUseCase
}

type Option func(*UseCases)

func WithMemoryConfig(cfg config.MemoryConfig) Option {
	return func(uc *UseCases) {
		uc.memoryConfig = cfg
	}
}

// WithVectors enables retrieval, ingestion and summary embedding
func WithVectors(vectors *vector.Service) Option {
	return func(uc *UseCases) {
		uc.vectors = vectors
	}
}

func WithDocumentLoader(loader *document.Loader) Option {
	return func(uc *UseCases) {
		uc.loader = loader
	}
}

func WithTopicDetection(enabled bool) Option {
	return func(uc *UseCases) {
		uc.topicTracking = enabled
	}
}

// WithAgentClient enables the tool-using answer path. It also needs vectors.
func WithAgentClient(client gollem.LLMClient) Option {
	return func(uc *UseCases) {
		uc.agentClient = client
	}
}

// New wires the conversation-memory use cases. Retrieval and Ingest are nil
// unless a vector service is given; Agent additionally needs an agent client.
func New(repo interfaces.Repository, llmService llm.Service, opts ...Option) *UseCases {
	uc := &UseCases{
		repo:         repo,
		memoryConfig: config.DefaultMemoryConfig(),
	}

	for _, opt := range opts {
		opt(uc)
	}

	uc.Conversation = NewConversationUseCase(repo)
	uc.Topic = NewTopicUseCase(repo, llmService, uc.memoryConfig)

	var summaryOpts []SummaryOption
	if uc.vectors != nil {
		summaryOpts = append(summaryOpts, WithSummaryEmbedding(uc.vectors))
	}
	uc.Summary = NewSummaryUseCase(repo, llmService, summaryOpts...)

	var processorOpts []ProcessorOption
	if uc.topicTracking {
		processorOpts = append(processorOpts, WithTopicTracking(uc.Topic))
	}
	uc.Processor = NewMessageProcessor(uc.Conversation, uc.Summary, uc.memoryConfig, processorOpts...)

	if uc.vectors != nil {
		uc.Retrieval = NewRetrievalUseCase(uc.Conversation, uc.Summary, uc.Processor, llmService, uc.vectors, uc.memoryConfig)

		loader := uc.loader
		if loader == nil {
			loader = document.NewLoader()
		}
		uc.Ingest = NewIngestUseCase(loader, document.NewChunker(5, 1), llmService, uc.vectors)

		if uc.agentClient != nil {
			uc.Agent = NewAgentUseCase(repo, uc.Conversation, uc.Summary, uc.Processor, llmService, uc.agentClient, uc.vectors, uc.memoryConfig)
		}
	}

	return uc
}
