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

// conversationDoc is the Firestore document representation of model.Conversation
type conversationDoc struct {
	ID             string    `firestore:"ID"`
	UserID         string    `firestore:"UserID"`
	Status         string    `firestore:"Status"`
	StartTime      time.Time `firestore:"StartTime"`
	LastActivity   time.Time `firestore:"LastActivity"`
	MessageCount   int64     `firestore:"MessageCount"`
	CurrentTopicID string    `firestore:"CurrentTopicID"`
}

func toConversationDoc(c *model.Conversation) *conversationDoc {
	return &conversationDoc{
		ID:             c.ID.String(),
		UserID:         c.UserID,
		Status:         c.Status.String(),
		StartTime:      model.NormalizeTime(c.StartTime),
		LastActivity:   model.NormalizeTime(c.LastActivity),
		MessageCount:   c.MessageCount,
		CurrentTopicID: c.CurrentTopicID.String(),
	}
}

func fromConversationDoc(d *conversationDoc) (*model.Conversation, error) {
	c := &model.Conversation{
		ID:             model.ConversationID(d.ID),
		UserID:         d.UserID,
		Status:         types.ConversationStatus(d.Status),
		StartTime:      model.NormalizeTime(d.StartTime),
		LastActivity:   model.NormalizeTime(d.LastActivity),
		MessageCount:   d.MessageCount,
		CurrentTopicID: model.TopicID(d.CurrentTopicID),
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func docToConversation(doc *firestore.DocumentSnapshot) (*model.Conversation, error) {
	var d conversationDoc
	if err := doc.DataTo(&d); err != nil {
		return nil, goerr.Wrap(err, "failed to decode conversation", goerr.T(model.TagCorrupted), goerr.V(model.ConversationIDKey, doc.Ref.ID))
	}
	c, err := fromConversationDoc(&d)
	if err != nil {
		return nil, goerr.Wrap(err, "invalid conversation document", goerr.V(model.ConversationIDKey, doc.Ref.ID))
	}
	return c, nil
}

type conversationRepository struct {
	client *firestore.Client
	cols   *collections
}

func newConversationRepository(client *firestore.Client, cols *collections) *conversationRepository {
	return &conversationRepository{client: client, cols: cols}
}

func (r *conversationRepository) Create(ctx context.Context, conv *model.Conversation) (*model.Conversation, error) {
	created := *conv
	if created.ID == "" {
		created.ID = model.NewConversationID()
	}
	if created.Status == "" {
		created.Status = types.ConversationStatusActive
	}
	if created.StartTime.IsZero() {
		created.StartTime = time.Now()
	}
	if created.LastActivity.IsZero() {
		created.LastActivity = created.StartTime
	}
	created.StartTime = model.NormalizeTime(created.StartTime)
	created.LastActivity = model.NormalizeTime(created.LastActivity)

	if _, err := r.cols.conversation(created.ID).Create(ctx, toConversationDoc(&created)); err != nil {
		return nil, goerr.Wrap(err, "failed to create conversation", goerr.T(model.TagStorage), goerr.V(model.ConversationIDKey, created.ID))
	}

	return &created, nil
}

func (r *conversationRepository) Get(ctx context.Context, id model.ConversationID) (*model.Conversation, error) {
	doc, err := r.cols.conversation(id).Get(ctx)
	if err != nil {
		if isNotFound(err) {
			return nil, goerr.Wrap(ErrNotFound, "conversation not found", goerr.T(model.TagNotFound), goerr.V(model.ConversationIDKey, id))
		}
		return nil, goerr.Wrap(err, "failed to get conversation", goerr.T(model.TagStorage), goerr.V(model.ConversationIDKey, id))
	}

	return docToConversation(doc)
}

func (r *conversationRepository) Update(ctx context.Context, id model.ConversationID, update model.MetadataUpdate) (*model.Conversation, error) {
	ref := r.cols.conversation(id)

	var updates []firestore.Update
	if update.Status != nil {
		updates = append(updates, firestore.Update{Path: "Status", Value: update.Status.String()})
	}
	if update.LastActivity != nil {
		updates = append(updates, firestore.Update{Path: "LastActivity", Value: model.NormalizeTime(*update.LastActivity)})
	}
	if update.MessageCount != nil {
		updates = append(updates, firestore.Update{Path: "MessageCount", Value: *update.MessageCount})
	}
	if update.CurrentTopicID != nil {
		updates = append(updates, firestore.Update{Path: "CurrentTopicID", Value: update.CurrentTopicID.String()})
	}

	if len(updates) > 0 {
		if _, err := ref.Update(ctx, updates); err != nil {
			if isNotFound(err) {
				return nil, goerr.Wrap(ErrNotFound, "conversation not found", goerr.T(model.TagNotFound), goerr.V(model.ConversationIDKey, id))
			}
			return nil, goerr.Wrap(err, "failed to update conversation", goerr.T(model.TagStorage), goerr.V(model.ConversationIDKey, id))
		}
	}

	return r.Get(ctx, id)
}

func (r *conversationRepository) IncrementMessageCount(ctx context.Context, id model.ConversationID, lastActivity time.Time) (int64, error) {
	ref := r.cols.conversation(id)

	var count int64
	err := r.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		doc, err := tx.Get(ref)
		if err != nil {
			if isNotFound(err) {
				return goerr.Wrap(ErrNotFound, "conversation not found", goerr.T(model.TagNotFound), goerr.V(model.ConversationIDKey, id))
			}
			return goerr.Wrap(err, "failed to get conversation")
		}

		current, err := doc.DataAt("MessageCount")
		if err != nil {
			return goerr.Wrap(err, "failed to get message count", goerr.T(model.TagCorrupted))
		}
		val, ok := current.(int64)
		if !ok {
			return goerr.New("message count is not of type int64", goerr.T(model.TagCorrupted), goerr.V("value", current))
		}

		count = val + 1
		return tx.Update(ref, []firestore.Update{
			{Path: "MessageCount", Value: firestore.Increment(1)},
			{Path: "LastActivity", Value: model.NormalizeTime(lastActivity)},
		})
	})
	if err != nil {
		if model.IsNotFound(err) || model.HasTag(err, model.TagCorrupted) {
			return 0, err
		}
		return 0, goerr.Wrap(err, "failed to increment message count", goerr.T(model.TagStorage), goerr.V(model.ConversationIDKey, id))
	}

	return count, nil
}

func (r *conversationRepository) ListByUser(ctx context.Context, userID string, limit int) ([]*model.Conversation, error) {
	q := r.cols.conversations().
		Where("UserID", "==", userID).
		OrderBy("LastActivity", firestore.Desc)
	if limit > 0 {
		q = q.Limit(limit)
	}

	iter := q.Documents(ctx)
	defer iter.Stop()

	result := make([]*model.Conversation, 0)
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, goerr.Wrap(err, "failed to iterate conversations", goerr.T(model.TagStorage), goerr.V("userID", userID))
		}

		c, err := docToConversation(doc)
		if err != nil {
			return nil, err
		}
		result = append(result, c)
	}

	return result, nil
}
