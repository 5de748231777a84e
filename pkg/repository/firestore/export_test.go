package firestore

import (
	"github.com/secmon-lab/hypomnema/pkg/domain/model"
)

// ConversationDoc exposes conversationDoc for decoding tests
type ConversationDoc = conversationDoc

// MessageDoc exposes messageDoc for decoding tests
type MessageDoc = messageDoc

func FromConversationDoc(d *ConversationDoc) (*model.Conversation, error) {
	return fromConversationDoc(d)
}

func FromMessageDoc(d *MessageDoc) (*model.Message, error) {
	return fromMessageDoc(d)
}

func DocToVectorMatch(data map[string]any, query model.VectorQuery) (*model.VectorMatch, error) {
	return docToVectorMatch(data, query)
}
