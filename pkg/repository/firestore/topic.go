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

// topicDoc is the Firestore document representation of model.TopicSegment
type topicDoc struct {
	ID             string    `firestore:"ID"`
	ConversationID string    `firestore:"ConversationID"`
	StartMessageID string    `firestore:"StartMessageID"`
	EndMessageID   string    `firestore:"EndMessageID"`
	Themes         []string  `firestore:"Themes"`
	MessageCount   int64     `firestore:"MessageCount"`
	Status         string    `firestore:"Status"`
	Timestamp      time.Time `firestore:"Timestamp"`
	CompletedAt    time.Time `firestore:"CompletedAt,omitempty"`
	Summary        string    `firestore:"Summary"`
}

func toTopicDoc(s *model.TopicSegment) *topicDoc {
	themes := s.Themes
	if themes == nil {
		themes = []string{}
	}
	return &topicDoc{
		ID:             s.ID.String(),
		ConversationID: s.ConversationID.String(),
		StartMessageID: s.StartMessageID.String(),
		EndMessageID:   s.EndMessageID.String(),
		Themes:         themes,
		MessageCount:   s.MessageCount,
		Status:         s.Status.String(),
		Timestamp:      model.NormalizeTime(s.Timestamp),
		CompletedAt:    model.NormalizeTime(s.CompletedAt),
		Summary:        s.Summary,
	}
}

func fromTopicDoc(d *topicDoc) (*model.TopicSegment, error) {
	st := types.TopicStatus(d.Status)
	if !st.IsValid() {
		return nil, goerr.New("invalid topic status", goerr.T(model.TagCorrupted), goerr.V(model.TopicIDKey, d.ID), goerr.V("status", d.Status))
	}
	return &model.TopicSegment{
		ID:             model.TopicID(d.ID),
		ConversationID: model.ConversationID(d.ConversationID),
		StartMessageID: model.MessageID(d.StartMessageID),
		EndMessageID:   model.MessageID(d.EndMessageID),
		Themes:         d.Themes,
		MessageCount:   d.MessageCount,
		Status:         st,
		Timestamp:      model.NormalizeTime(d.Timestamp),
		CompletedAt:    model.NormalizeTime(d.CompletedAt),
		Summary:        d.Summary,
	}, nil
}

func docToTopic(doc *firestore.DocumentSnapshot) (*model.TopicSegment, error) {
	var d topicDoc
	if err := doc.DataTo(&d); err != nil {
		return nil, goerr.Wrap(err, "failed to decode topic segment", goerr.T(model.TagCorrupted), goerr.V(model.TopicIDKey, doc.Ref.ID))
	}
	return fromTopicDoc(&d)
}

type topicRepository struct {
	client *firestore.Client
	cols   *collections
}

func newTopicRepository(client *firestore.Client, cols *collections) *topicRepository {
	return &topicRepository{client: client, cols: cols}
}

func (r *topicRepository) activeQuery(conversationID model.ConversationID) firestore.Query {
	return r.cols.topics(conversationID).
		Where("Status", "==", types.TopicStatusActive.String()).
		Limit(1)
}

func (r *topicRepository) Create(ctx context.Context, conversationID model.ConversationID, seg *model.TopicSegment) (*model.TopicSegment, error) {
	created := seg.Copy()
	if created.ID == "" {
		created.ID = model.NewTopicID()
	}
	created.ConversationID = conversationID
	created.Status = types.TopicStatusActive
	created.EndMessageID = ""
	created.CompletedAt = time.Time{}
	if created.Timestamp.IsZero() {
		created.Timestamp = time.Now()
	}
	created.Timestamp = model.NormalizeTime(created.Timestamp)

	docRef := r.cols.topics(conversationID).Doc(created.ID.String())
	err := r.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		docs, err := tx.Documents(r.activeQuery(conversationID)).GetAll()
		if err != nil {
			return goerr.Wrap(err, "failed to query active topic segment")
		}
		if len(docs) > 0 {
			return goerr.New("conversation already has an active topic segment",
				goerr.T(model.TagValidation),
				goerr.V(model.ConversationIDKey, conversationID),
				goerr.V(model.TopicIDKey, docs[0].Ref.ID))
		}
		return tx.Create(docRef, toTopicDoc(created))
	})
	if err != nil {
		if model.IsValidation(err) {
			return nil, err
		}
		return nil, goerr.Wrap(err, "failed to create topic segment", goerr.T(model.TagStorage), goerr.V(model.ConversationIDKey, conversationID))
	}

	return created, nil
}

func (r *topicRepository) Get(ctx context.Context, conversationID model.ConversationID, id model.TopicID) (*model.TopicSegment, error) {
	doc, err := r.cols.topics(conversationID).Doc(id.String()).Get(ctx)
	if err != nil {
		if isNotFound(err) {
			return nil, goerr.Wrap(ErrNotFound, "topic segment not found", goerr.T(model.TagNotFound), goerr.V(model.TopicIDKey, id))
		}
		return nil, goerr.Wrap(err, "failed to get topic segment", goerr.T(model.TagStorage), goerr.V(model.TopicIDKey, id))
	}
	return docToTopic(doc)
}

func (r *topicRepository) GetActive(ctx context.Context, conversationID model.ConversationID) (*model.TopicSegment, error) {
	iter := r.activeQuery(conversationID).Documents(ctx)
	defer iter.Stop()

	doc, err := iter.Next()
	if err == iterator.Done {
		return nil, goerr.Wrap(ErrNotFound, "no active topic segment", goerr.T(model.TagNotFound), goerr.V(model.ConversationIDKey, conversationID))
	}
	if err != nil {
		return nil, goerr.Wrap(err, "failed to get active topic segment", goerr.T(model.TagStorage), goerr.V(model.ConversationIDKey, conversationID))
	}
	return docToTopic(doc)
}

func (r *topicRepository) Complete(ctx context.Context, conversationID model.ConversationID, id model.TopicID, endMessageID model.MessageID, summary string) (*model.TopicSegment, error) {
	docRef := r.cols.topics(conversationID).Doc(id.String())

	var completed *model.TopicSegment
	err := r.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		doc, err := tx.Get(docRef)
		if err != nil {
			if isNotFound(err) {
				return goerr.Wrap(ErrNotFound, "topic segment not found", goerr.T(model.TagNotFound), goerr.V(model.TopicIDKey, id))
			}
			return goerr.Wrap(err, "failed to get topic segment")
		}

		seg, err := docToTopic(doc)
		if err != nil {
			return err
		}
		if !seg.IsActive() {
			return goerr.New("topic segment is already completed", goerr.T(model.TagValidation), goerr.V(model.TopicIDKey, id))
		}

		seg.Status = types.TopicStatusCompleted
		seg.EndMessageID = endMessageID
		seg.Summary = summary
		seg.CompletedAt = model.NormalizeTime(time.Now())
		completed = seg

		return tx.Update(docRef, []firestore.Update{
			{Path: "Status", Value: seg.Status.String()},
			{Path: "EndMessageID", Value: endMessageID.String()},
			{Path: "Summary", Value: summary},
			{Path: "CompletedAt", Value: seg.CompletedAt},
		})
	})
	if err != nil {
		if model.IsValidation(err) || model.IsNotFound(err) || model.HasTag(err, model.TagCorrupted) {
			return nil, err
		}
		return nil, goerr.Wrap(err, "failed to complete topic segment", goerr.T(model.TagStorage), goerr.V(model.TopicIDKey, id))
	}

	return completed, nil
}

func (r *topicRepository) IncrementMessageCount(ctx context.Context, conversationID model.ConversationID, id model.TopicID) error {
	docRef := r.cols.topics(conversationID).Doc(id.String())
	if _, err := docRef.Update(ctx, []firestore.Update{
		{Path: "MessageCount", Value: firestore.Increment(1)},
	}); err != nil {
		if isNotFound(err) {
			return goerr.Wrap(ErrNotFound, "topic segment not found", goerr.T(model.TagNotFound), goerr.V(model.TopicIDKey, id))
		}
		return goerr.Wrap(err, "failed to increment topic message count", goerr.T(model.TagStorage), goerr.V(model.TopicIDKey, id))
	}
	return nil
}

// List relies on Firestore's implicit document name ordering, the segment ID, for equal timestamps
func (r *topicRepository) List(ctx context.Context, conversationID model.ConversationID) ([]*model.TopicSegment, error) {
	iter := r.cols.topics(conversationID).
		OrderBy("Timestamp", firestore.Asc).
		Documents(ctx)
	defer iter.Stop()

	segments := make([]*model.TopicSegment, 0)
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, goerr.Wrap(err, "failed to iterate topic segments", goerr.T(model.TagStorage), goerr.V(model.ConversationIDKey, conversationID))
		}

		seg, err := docToTopic(doc)
		if err != nil {
			return nil, err
		}
		segments = append(segments, seg)
	}

	return segments, nil
}
