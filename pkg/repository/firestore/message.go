package firestore

import (
	"context"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/hypomnema/pkg/domain/model"
	"github.com/secmon-lab/hypomnema/pkg/domain/types"
	"google.golang.org/api/iterator"
)

// messageDoc is the Firestore document representation of model.Message
type messageDoc struct {
	ID           string    `firestore:"ID"`
	Kind         string    `firestore:"Kind"`
	Content      string    `firestore:"Content"`
	ToolCallID   string    `firestore:"ToolCallID,omitempty"`
	ToolName     string    `firestore:"ToolName,omitempty"`
	Themes       []string  `firestore:"Themes"`
	EmbeddingRef string    `firestore:"EmbeddingRef,omitempty"`
	Timestamp    time.Time `firestore:"Timestamp"`
}

func toMessageDoc(m *model.Message) *messageDoc {
	themes := m.Themes
	if themes == nil {
		themes = []string{}
	}
	return &messageDoc{
		ID:           m.ID.String(),
		Kind:         m.Kind.String(),
		Content:      m.Content,
		ToolCallID:   m.ToolCallID,
		ToolName:     m.ToolName,
		Themes:       themes,
		EmbeddingRef: m.EmbeddingRef,
		Timestamp:    model.NormalizeTime(m.Timestamp),
	}
}

func fromMessageDoc(d *messageDoc) (*model.Message, error) {
	kind := types.MessageKind(d.Kind)
	if !kind.IsValid() {
		return nil, goerr.New("invalid message kind", goerr.T(model.TagCorrupted), goerr.V(model.MessageIDKey, d.ID), goerr.V("kind", d.Kind))
	}
	return &model.Message{
		ID:           model.MessageID(d.ID),
		Kind:         kind,
		Content:      d.Content,
		ToolCallID:   d.ToolCallID,
		ToolName:     d.ToolName,
		Themes:       d.Themes,
		EmbeddingRef: d.EmbeddingRef,
		Timestamp:    model.NormalizeTime(d.Timestamp),
	}, nil
}

type messageRepository struct {
	cols *collections
}

func newMessageRepository(cols *collections) *messageRepository {
	return &messageRepository{cols: cols}
}

func (r *messageRepository) Append(ctx context.Context, conversationID model.ConversationID, msg *model.Message) (*model.Message, error) {
	if err := msg.Validate(); err != nil {
		return nil, goerr.Wrap(err, "invalid message", goerr.V(model.ConversationIDKey, conversationID))
	}

	created := msg.Copy()
	if created.ID == "" {
		created.ID = model.NewMessageID()
	}
	if created.Timestamp.IsZero() {
		created.Timestamp = time.Now()
	}
	created.Timestamp = model.NormalizeTime(created.Timestamp)

	// Set keeps a retried append with the same ID idempotent
	docRef := r.cols.messages(conversationID).Doc(created.ID.String())
	if _, err := docRef.Set(ctx, toMessageDoc(created)); err != nil {
		return nil, goerr.Wrap(err, "failed to append message",
			goerr.T(model.TagStorage),
			goerr.V(model.ConversationIDKey, conversationID),
			goerr.V(model.MessageIDKey, created.ID))
	}

	return created, nil
}

func (r *messageRepository) ListLatest(ctx context.Context, conversationID model.ConversationID, limit int) ([]*model.Message, error) {
	if limit <= 0 {
		return []*model.Message{}, nil
	}

	q := r.cols.messages(conversationID).
		OrderBy("Timestamp", firestore.Desc).
		OrderBy("ID", firestore.Desc).
		Limit(limit)
	return r.collect(ctx, conversationID, q)
}

func (r *messageRepository) ListRange(ctx context.Context, conversationID model.ConversationID, start, end int) ([]*model.Message, error) {
	if start < 0 || end < start {
		return nil, goerr.New("invalid message range", goerr.T(model.TagValidation), goerr.V("start", start), goerr.V("end", end))
	}
	if end == start {
		return []*model.Message{}, nil
	}

	q := r.cols.messages(conversationID).
		OrderBy("Timestamp", firestore.Asc).
		OrderBy("ID", firestore.Asc).
		Offset(start).
		Limit(end - start)
	return r.collect(ctx, conversationID, q)
}

func (r *messageRepository) collect(ctx context.Context, conversationID model.ConversationID, q firestore.Query) ([]*model.Message, error) {
	iter := q.Documents(ctx)
	defer iter.Stop()

	msgs := make([]*model.Message, 0)
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, goerr.Wrap(err, "failed to iterate messages", goerr.T(model.TagStorage), goerr.V(model.ConversationIDKey, conversationID))
		}

		var d messageDoc
		if err := doc.DataTo(&d); err != nil {
			return nil, goerr.Wrap(err, "failed to decode message", goerr.T(model.TagCorrupted), goerr.V(model.MessageIDKey, doc.Ref.ID))
		}
		m, err := fromMessageDoc(&d)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}

	return msgs, nil
}
