package memory

import (
	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/hypomnema/pkg/domain/interfaces"
	"github.com/secmon-lab/hypomnema/pkg/domain/model"
)

// ErrNotFound is returned when a record does not exist
var ErrNotFound = goerr.New("not found", goerr.T(model.TagNotFound))

// Repository is an alias for Memory to match the pattern
type Repository = Memory

// Memory is an in-process repository used for tests and local runs
type Memory struct {
	conversation *conversationRepository
	message      *messageRepository
	topic        *topicRepository
	summary      *summaryRepository
	vector       *vectorRepository
}

var _ interfaces.Repository = &Memory{}

func New() *Memory {
	return &Memory{
		conversation: newConversationRepository(),
		message:      newMessageRepository(),
		topic:        newTopicRepository(),
		summary:      newSummaryRepository(),
		vector:       newVectorRepository(),
	}
}

func (m *Memory) Conversation() interfaces.ConversationRepository {
	return m.conversation
}

func (m *Memory) Message() interfaces.MessageRepository {
	return m.message
}

func (m *Memory) Topic() interfaces.TopicRepository {
	return m.topic
}

func (m *Memory) Summary() interfaces.SummaryRepository {
	return m.summary
}

func (m *Memory) Vector() interfaces.VectorRepository {
	return m.vector
}

func (m *Memory) Close() error {
	return nil
}
