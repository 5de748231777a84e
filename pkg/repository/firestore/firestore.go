package firestore

import (
	"context"

	"cloud.google.com/go/firestore"
	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/hypomnema/pkg/domain/interfaces"
	"github.com/secmon-lab/hypomnema/pkg/domain/model"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// ErrNotFound is returned when a document does not exist
var ErrNotFound = goerr.New("not found", goerr.T(model.TagNotFound))

type Firestore struct {
	client       *firestore.Client
	collections  *collections
	conversation *conversationRepository
	message      *messageRepository
	topic        *topicRepository
	summary      *summaryRepository
	vector       *vectorRepository
}

var _ interfaces.Repository = &Firestore{}

type Option func(*Firestore)

// WithCollectionPrefix prefixes every top level collection name. Tests use it to isolate runs.
func WithCollectionPrefix(prefix string) Option {
	return func(f *Firestore) {
		f.collections.prefix = prefix
	}
}

func New(ctx context.Context, projectID, databaseID string, opts ...Option) (*Firestore, error) {
	var (
		client *firestore.Client
		err    error
	)
	if databaseID != "" {
		client, err = firestore.NewClientWithDatabase(ctx, projectID, databaseID)
	} else {
		client, err = firestore.NewClient(ctx, projectID)
	}
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create firestore client",
			goerr.T(model.TagStorage),
			goerr.V("projectID", projectID),
			goerr.V("databaseID", databaseID))
	}

	cols := &collections{client: client}
	f := &Firestore{
		client:       client,
		collections:  cols,
		conversation: newConversationRepository(client, cols),
		message:      newMessageRepository(cols),
		topic:        newTopicRepository(client, cols),
		summary:      newSummaryRepository(cols),
		vector:       newVectorRepository(client, cols),
	}

	for _, opt := range opts {
		opt(f)
	}

	return f, nil
}

func (f *Firestore) Conversation() interfaces.ConversationRepository {
	return f.conversation
}

func (f *Firestore) Message() interfaces.MessageRepository {
	return f.message
}

func (f *Firestore) Topic() interfaces.TopicRepository {
	return f.topic
}

func (f *Firestore) Summary() interfaces.SummaryRepository {
	return f.summary
}

func (f *Firestore) Vector() interfaces.VectorRepository {
	return f.vector
}

func (f *Firestore) Close() error {
	if f.client != nil {
		return f.client.Close()
	}
	return nil
}

// collections resolves collection paths:
//
//	conversations/{conversationID}
//	conversations/{conversationID}/messages/{messageID}
//	conversations/{conversationID}/topics/{topicID}
//	conversations/{conversationID}/summaries/{summaryID}
//	vector_{index}/{entryID}
type collections struct {
	client *firestore.Client
	prefix string
}

func (c *collections) conversations() *firestore.CollectionRef {
	return c.client.Collection(c.prefix + "conversations")
}

func (c *collections) conversation(id model.ConversationID) *firestore.DocumentRef {
	return c.conversations().Doc(id.String())
}

func (c *collections) messages(id model.ConversationID) *firestore.CollectionRef {
	return c.conversation(id).Collection("messages")
}

func (c *collections) topics(id model.ConversationID) *firestore.CollectionRef {
	return c.conversation(id).Collection("topics")
}

func (c *collections) summaries(id model.ConversationID) *firestore.CollectionRef {
	return c.conversation(id).Collection("summaries")
}

func (c *collections) vectors(index string) *firestore.CollectionRef {
	return c.client.Collection(c.prefix + VectorCollectionName(index))
}

// VectorCollectionName returns the collection that backs a vector index
func VectorCollectionName(index string) string {
	return "vector_" + index
}

func isNotFound(err error) bool {
	return status.Code(err) == codes.NotFound
}
