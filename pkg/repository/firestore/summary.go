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

// summaryDoc is the Firestore document representation of model.Summary
type summaryDoc struct {
	ID             string    `firestore:"ID"`
	ConversationID string    `firestore:"ConversationID"`
	Level          string    `firestore:"Level"`
	Content        string    `firestore:"Content"`
	Themes         []string  `firestore:"Themes"`
	Timestamp      time.Time `firestore:"Timestamp"`
	SegmentIDs     []string  `firestore:"SegmentIDs"`
	MessageStart   int       `firestore:"MessageStart"`
	MessageEnd     int       `firestore:"MessageEnd"`
}

func toSummaryDoc(s *model.Summary) *summaryDoc {
	d := &summaryDoc{
		ID:             s.ID.String(),
		ConversationID: s.ConversationID.String(),
		Level:          s.Level.String(),
		Content:        s.Content,
		Themes:         s.Themes,
		Timestamp:      model.NormalizeTime(s.Timestamp),
		SegmentIDs:     s.SegmentIDs,
		MessageStart:   s.MessageStart,
		MessageEnd:     s.MessageEnd,
	}
	if d.Themes == nil {
		d.Themes = []string{}
	}
	if d.SegmentIDs == nil {
		d.SegmentIDs = []string{}
	}
	return d
}

func fromSummaryDoc(d *summaryDoc) (*model.Summary, error) {
	level := types.SummaryLevel(d.Level)
	if !level.IsValid() {
		return nil, goerr.New("invalid summary level", goerr.T(model.TagCorrupted), goerr.V(model.SummaryIDKey, d.ID), goerr.V("level", d.Level))
	}
	return &model.Summary{
		ID:             model.SummaryID(d.ID),
		ConversationID: model.ConversationID(d.ConversationID),
		Level:          level,
		Content:        d.Content,
		Themes:         d.Themes,
		Timestamp:      model.NormalizeTime(d.Timestamp),
		SegmentIDs:     d.SegmentIDs,
		MessageStart:   d.MessageStart,
		MessageEnd:     d.MessageEnd,
	}, nil
}

type summaryRepository struct {
	cols *collections
}

func newSummaryRepository(cols *collections) *summaryRepository {
	return &summaryRepository{cols: cols}
}

func (r *summaryRepository) Create(ctx context.Context, conversationID model.ConversationID, summary *model.Summary) (*model.Summary, error) {
	if !summary.Level.IsValid() {
		return nil, goerr.New("invalid summary level", goerr.T(model.TagValidation), goerr.V("level", summary.Level))
	}

	created := summary.Copy()
	if created.ID == "" {
		created.ID = model.NewSummaryID()
	}
	created.ConversationID = conversationID
	if created.Timestamp.IsZero() {
		created.Timestamp = time.Now()
	}
	created.Timestamp = model.NormalizeTime(created.Timestamp)

	docRef := r.cols.summaries(conversationID).Doc(created.ID.String())
	if _, err := docRef.Create(ctx, toSummaryDoc(created)); err != nil {
		return nil, goerr.Wrap(err, "failed to create summary", goerr.T(model.TagStorage), goerr.V(model.ConversationIDKey, conversationID))
	}

	return created, nil
}

func (r *summaryRepository) List(ctx context.Context, conversationID model.ConversationID) ([]*model.Summary, error) {
	q := r.cols.summaries(conversationID).OrderBy("Timestamp", firestore.Desc)
	return r.collect(ctx, conversationID, q)
}

func (r *summaryRepository) ListByLevel(ctx context.Context, conversationID model.ConversationID, level types.SummaryLevel, limit int) ([]*model.Summary, error) {
	q := r.cols.summaries(conversationID).
		Where("Level", "==", level.String()).
		OrderBy("Timestamp", firestore.Desc)
	if limit > 0 {
		q = q.Limit(limit)
	}
	return r.collect(ctx, conversationID, q)
}

func (r *summaryRepository) collect(ctx context.Context, conversationID model.ConversationID, q firestore.Query) ([]*model.Summary, error) {
	iter := q.Documents(ctx)
	defer iter.Stop()

	summaries := make([]*model.Summary, 0)
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, goerr.Wrap(err, "failed to iterate summaries", goerr.T(model.TagStorage), goerr.V(model.ConversationIDKey, conversationID))
		}

		var d summaryDoc
		if err := doc.DataTo(&d); err != nil {
			return nil, goerr.Wrap(err, "failed to decode summary", goerr.T(model.TagCorrupted), goerr.V(model.SummaryIDKey, doc.Ref.ID))
		}
		s, err := fromSummaryDoc(&d)
		if err != nil {
			return nil, err
		}
		summaries = append(summaries, s)
	}

	return summaries, nil
}
