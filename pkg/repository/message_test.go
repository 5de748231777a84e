package repository_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/m-mizutani/gt"
	"github.com/secmon-lab/hypomnema/pkg/domain/interfaces"
	"github.com/secmon-lab/hypomnema/pkg/domain/model"
)

func runMessageRepositoryTest(t *testing.T, newRepo func(t *testing.T) interfaces.Repository) {
	t.Helper()

	appendN := func(t *testing.T, repo interfaces.Repository, convID model.ConversationID, n int) []*model.Message {
		t.Helper()
		base := time.Now().Add(-time.Hour)
		msgs := make([]*model.Message, 0, n)
		for i := 0; i < n; i++ {
			m := model.NewUserMessage(fmt.Sprintf("message %d", i))
			m.Timestamp = base.Add(time.Duration(i) * time.Second)
			created, err := repo.Message().Append(context.Background(), convID, m)
			gt.NoError(t, err).Required()
			msgs = append(msgs, created)
		}
		return msgs
	}

	t.Run("Append assigns ID and timestamp", func(t *testing.T) {
		repo := newRepo(t)
		convID := model.NewConversationID()

		created, err := repo.Message().Append(context.Background(), convID, model.NewAssistantMessage("hello"))
		gt.NoError(t, err).Required()
		gt.String(t, created.ID.String()).NotEqual("")
		gt.Bool(t, created.Timestamp.IsZero()).False()
	})

	t.Run("Append rejects invalid message", func(t *testing.T) {
		repo := newRepo(t)

		_, err := repo.Message().Append(context.Background(), model.NewConversationID(), model.NewUserMessage("  "))
		gt.Bool(t, model.IsValidation(err)).True()

		_, err = repo.Message().Append(context.Background(), model.NewConversationID(), model.NewToolResultMessage("", "search", "out"))
		gt.Bool(t, model.IsValidation(err)).True()
	})

	t.Run("Append with the same ID stores one message", func(t *testing.T) {
		repo := newRepo(t)
		convID := model.NewConversationID()

		m := model.NewUserMessage("retried")
		m.ID = model.NewMessageID()
		m.Timestamp = time.Now()
		_, err := repo.Message().Append(context.Background(), convID, m)
		gt.NoError(t, err).Required()
		_, err = repo.Message().Append(context.Background(), convID, m)
		gt.NoError(t, err).Required()

		latest, err := repo.Message().ListLatest(context.Background(), convID, 10)
		gt.NoError(t, err).Required()
		gt.Array(t, latest).Length(1)
	})

	t.Run("ListLatest is newest first", func(t *testing.T) {
		repo := newRepo(t)
		convID := model.NewConversationID()
		msgs := appendN(t, repo, convID, 5)

		latest, err := repo.Message().ListLatest(context.Background(), convID, 3)
		gt.NoError(t, err).Required()
		gt.Array(t, latest).Length(3).Required()
		gt.Value(t, latest[0].ID).Equal(msgs[4].ID)
		gt.Value(t, latest[1].ID).Equal(msgs[3].ID)
		gt.Value(t, latest[2].ID).Equal(msgs[2].ID)
	})

	t.Run("ListLatest on empty conversation", func(t *testing.T) {
		repo := newRepo(t)

		latest, err := repo.Message().ListLatest(context.Background(), model.NewConversationID(), 6)
		gt.NoError(t, err).Required()
		gt.Array(t, latest).Length(0)
	})

	t.Run("ListRange is oldest first and clamps", func(t *testing.T) {
		repo := newRepo(t)
		convID := model.NewConversationID()
		msgs := appendN(t, repo, convID, 12)

		window, err := repo.Message().ListRange(context.Background(), convID, 0, 10)
		gt.NoError(t, err).Required()
		gt.Array(t, window).Length(10).Required()
		gt.Value(t, window[0].ID).Equal(msgs[0].ID)
		gt.Value(t, window[9].ID).Equal(msgs[9].ID)

		tail, err := repo.Message().ListRange(context.Background(), convID, 10, 20)
		gt.NoError(t, err).Required()
		gt.Array(t, tail).Length(2)

		none, err := repo.Message().ListRange(context.Background(), convID, 12, 13)
		gt.NoError(t, err).Required()
		gt.Array(t, none).Length(0)
	})

	t.Run("same timestamp keeps insertion order", func(t *testing.T) {
		repo := newRepo(t)
		convID := model.NewConversationID()
		ts := time.Now()

		var ids []model.MessageID
		for i := 0; i < 3; i++ {
			m := model.NewUserMessage(fmt.Sprintf("tie %d", i))
			m.Timestamp = ts
			created, err := repo.Message().Append(context.Background(), convID, m)
			gt.NoError(t, err).Required()
			ids = append(ids, created.ID)
		}

		got, err := repo.Message().ListRange(context.Background(), convID, 0, 3)
		gt.NoError(t, err).Required()
		gt.Array(t, got).Length(3).Required()
		for i := range ids {
			gt.Value(t, got[i].ID).Equal(ids[i])
		}
	})

	t.Run("tool call fields round trip", func(t *testing.T) {
		repo := newRepo(t)
		convID := model.NewConversationID()

		call := model.NewToolCallMessage("call-1", "search", `{"query":"go"}`)
		call.Themes = []string{"golang"}
		_, err := repo.Message().Append(context.Background(), convID, call)
		gt.NoError(t, err).Required()

		got, err := repo.Message().ListLatest(context.Background(), convID, 1)
		gt.NoError(t, err).Required()
		gt.Array(t, got).Length(1).Required()
		gt.Bool(t, got[0].IsToolCall()).True()
		gt.Value(t, got[0].ToolCallID).Equal("call-1")
		gt.Value(t, got[0].ToolName).Equal("search")
		gt.Array(t, got[0].Themes).Has("golang")
	})
}

func TestMemoryMessageRepository(t *testing.T) {
	runMessageRepositoryTest(t, newMemoryRepository)
}

func TestFirestoreMessageRepository(t *testing.T) {
	runMessageRepositoryTest(t, newFirestoreRepository)
}
