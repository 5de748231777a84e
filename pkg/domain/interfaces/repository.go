package interfaces

// Repository defines the interface for data persistence
type Repository interface {
	Conversation() ConversationRepository
	Message() MessageRepository
	Topic() TopicRepository
	Summary() SummaryRepository
	Vector() VectorRepository

	Close() error
}
