package usecase_test

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/gt"
	"github.com/secmon-lab/hypomnema/pkg/domain/model"
	"github.com/secmon-lab/hypomnema/pkg/domain/types"
	"github.com/secmon-lab/hypomnema/pkg/repository/memory"
	"github.com/secmon-lab/hypomnema/pkg/service/worker"
	"github.com/secmon-lab/hypomnema/pkg/usecase"
)

func TestMessageProcessor_ShouldGenerateSummary(t *testing.T) {
	uc := usecase.New(memory.New(), newMockLLM(), usecase.WithMemoryConfig(testMemoryConfig()))

	cases := map[int64]bool{
		0:  false,
		1:  false,
		9:  false,
		10: true,
		11: false,
		20: true,
	}
	for count, expected := range cases {
		t.Run(fmt.Sprintf("count %d", count), func(t *testing.T) {
			gt.Value(t, uc.Processor.ShouldGenerateSummary(count)).Equal(expected)
		})
	}
}

func TestMessageProcessor_CounterMonotonicity(t *testing.T) {
	t.Run("sequential", func(t *testing.T) {
		repo := memory.New()
		uc := usecase.New(repo, newMockLLM(), usecase.WithMemoryConfig(testMemoryConfig()))
		ctx := context.Background()
		gt.NoError(t, uc.Processor.Start(ctx)).Required()
		defer uc.Processor.Stop()

		session, err := uc.Conversation.CreateSession(ctx, "u1")
		gt.NoError(t, err).Required()

		for i := 0; i < 25; i++ {
			_, err := uc.Processor.AddMessage(ctx, session.Conversation.ID, model.NewUserMessage(fmt.Sprintf("message %d", i)))
			gt.NoError(t, err).Required()
		}

		conv, err := uc.Conversation.GetMetadata(ctx, session.Conversation.ID)
		gt.NoError(t, err).Required()
		gt.Value(t, conv.MessageCount).Equal(int64(25))
	})

	t.Run("concurrent", func(t *testing.T) {
		repo := memory.New()
		uc := usecase.New(repo, newMockLLM(), usecase.WithMemoryConfig(testMemoryConfig()))
		ctx := context.Background()
		gt.NoError(t, uc.Processor.Start(ctx)).Required()
		defer uc.Processor.Stop()

		session, err := uc.Conversation.CreateSession(ctx, "u1")
		gt.NoError(t, err).Required()

		var wg sync.WaitGroup
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, err := uc.Processor.AddMessage(ctx, session.Conversation.ID, model.NewUserMessage(fmt.Sprintf("message %d", i)))
				gt.NoError(t, err)
			}(i)
		}
		wg.Wait()

		conv, err := uc.Conversation.GetMetadata(ctx, session.Conversation.ID)
		gt.NoError(t, err).Required()
		gt.Value(t, conv.MessageCount).Equal(int64(20))
	})
}

func TestMessageProcessor_AddMessage(t *testing.T) {
	t.Run("missing conversation is not found and nothing is stored", func(t *testing.T) {
		repo := memory.New()
		uc := usecase.New(repo, newMockLLM(), usecase.WithMemoryConfig(testMemoryConfig()))
		ctx := context.Background()
		convID := model.NewConversationID()

		_, err := uc.Processor.AddMessage(ctx, convID, model.NewUserMessage("hello"))
		gt.Bool(t, model.IsNotFound(err)).True()

		msgs, err := repo.Message().ListLatest(ctx, convID, 10)
		gt.NoError(t, err).Required()
		gt.Array(t, msgs).Length(0)
	})

	t.Run("invalid message fails validation", func(t *testing.T) {
		uc := usecase.New(memory.New(), newMockLLM(), usecase.WithMemoryConfig(testMemoryConfig()))

		_, err := uc.Processor.AddMessage(context.Background(), model.NewConversationID(), model.NewToolCallMessage("", "search", "{}"))
		gt.Bool(t, model.IsValidation(err)).True()
	})

	t.Run("summary failure does not fail the append", func(t *testing.T) {
		repo := memory.New()
		llm := newMockLLM()
		llm.textErr = goerr.New("model overloaded")
		uc := usecase.New(repo, llm, usecase.WithMemoryConfig(testMemoryConfig()))
		ctx := context.Background()
		gt.NoError(t, uc.Processor.Start(ctx)).Required()

		session, err := uc.Conversation.CreateSession(ctx, "u1")
		gt.NoError(t, err).Required()

		for i := 0; i < 10; i++ {
			_, err := uc.Processor.AddMessage(ctx, session.Conversation.ID, model.NewUserMessage(fmt.Sprintf("message %d", i)))
			gt.NoError(t, err).Required()
		}
		uc.Processor.Stop()

		conv, err := uc.Conversation.GetMetadata(ctx, session.Conversation.ID)
		gt.NoError(t, err).Required()
		gt.Value(t, conv.MessageCount).Equal(int64(10))

		summaries, err := uc.Summary.GetSummaries(ctx, session.Conversation.ID)
		gt.NoError(t, err).Required()
		gt.Array(t, summaries).Length(0)

		// summary generation was retried up to MaxRetries
		gt.Array(t, llm.Prompts()).Length(testMemoryConfig().MaxRetries)
	})
}

func TestMessageProcessor_ProcessMessagePair(t *testing.T) {
	t.Run("stores both messages", func(t *testing.T) {
		repo := memory.New()
		uc := usecase.New(repo, newMockLLM(), usecase.WithMemoryConfig(testMemoryConfig()))
		ctx := context.Background()

		session, err := uc.Conversation.CreateSession(ctx, "u1")
		gt.NoError(t, err).Required()

		result := uc.Processor.ProcessMessagePair(ctx, session.Conversation.ID,
			model.NewUserMessage("What is virtue?"),
			model.NewAssistantMessage("Virtue is excellence of character."))
		gt.Bool(t, result.Success).True()
		gt.Value(t, result.Err).Nil()

		msgs, err := uc.Conversation.GetLastMessages(ctx, session.Conversation.ID, 10)
		gt.NoError(t, err).Required()
		gt.Array(t, msgs).Length(2).Required()
		gt.Value(t, msgs[0].ID).Equal(result.AssistantMessageID)
		gt.Value(t, msgs[1].ID).Equal(result.UserMessageID)

		conv, err := uc.Conversation.GetMetadata(ctx, session.Conversation.ID)
		gt.NoError(t, err).Required()
		gt.Value(t, conv.MessageCount).Equal(int64(2))
	})

	t.Run("missing conversation", func(t *testing.T) {
		uc := usecase.New(memory.New(), newMockLLM(), usecase.WithMemoryConfig(testMemoryConfig()))

		result := uc.Processor.ProcessMessagePair(context.Background(), model.NewConversationID(),
			model.NewUserMessage("hello"), model.NewAssistantMessage("hi"))
		gt.Bool(t, result.Success).False()
		gt.Value(t, result.ErrorCode).Equal(usecase.PairErrorConversationNotFound)
		gt.Value(t, result.Err).NotNil()
	})

	t.Run("storage failure is retried then reported", func(t *testing.T) {
		repo := newFailingRepository()
		uc := usecase.New(repo, newMockLLM(), usecase.WithMemoryConfig(testMemoryConfig()))
		ctx := context.Background()

		conv, err := repo.Conversation().Create(ctx, &model.Conversation{UserID: "u1"})
		gt.NoError(t, err).Required()

		result := uc.Processor.ProcessMessagePair(ctx, conv.ID,
			model.NewUserMessage("hello"), model.NewAssistantMessage("hi"))
		gt.Bool(t, result.Success).False()
		gt.Value(t, result.ErrorCode).Equal(usecase.PairErrorStorage)
		gt.Value(t, repo.messages.Calls()).Equal(testMemoryConfig().MaxRetries)

		fetched, err := repo.Conversation().Get(ctx, conv.ID)
		gt.NoError(t, err).Required()
		gt.Value(t, fetched.MessageCount).Equal(int64(0))
	})

	t.Run("invalid message stores nothing", func(t *testing.T) {
		repo := memory.New()
		uc := usecase.New(repo, newMockLLM(), usecase.WithMemoryConfig(testMemoryConfig()))
		ctx := context.Background()

		session, err := uc.Conversation.CreateSession(ctx, "u1")
		gt.NoError(t, err).Required()

		result := uc.Processor.ProcessMessagePair(ctx, session.Conversation.ID,
			model.NewUserMessage("hello"), model.NewAssistantMessage(""))
		gt.Bool(t, result.Success).False()
		gt.Value(t, result.ErrorCode).Equal(usecase.PairErrorInvalidMessage)

		msgs, err := uc.Conversation.GetLastMessages(ctx, session.Conversation.ID, 10)
		gt.NoError(t, err).Required()
		gt.Array(t, msgs).Length(0)
	})
}

// A session of 20 messages yields one recent summary per chunk; the second
// covers exactly messages 11 to 20.
func TestMessageProcessor_EndToEndScenario(t *testing.T) {
	repo := memory.New()
	llm := newMockLLM()
	uc := usecase.New(repo, llm, usecase.WithMemoryConfig(testMemoryConfig()))
	ctx := context.Background()
	gt.NoError(t, uc.Processor.Start(ctx)).Required()

	session, err := uc.Conversation.CreateSession(ctx, "u1")
	gt.NoError(t, err).Required()
	convID := session.Conversation.ID

	addPair := func(i int) {
		result := uc.Processor.ProcessMessagePair(ctx, convID,
			model.NewUserMessage(fmt.Sprintf("question %d", i)),
			model.NewAssistantMessage(fmt.Sprintf("answer %d", i)))
		gt.Bool(t, result.Success).True()
	}

	for i := 1; i <= 9; i++ {
		addPair(i)
	}

	// the chunk 1-10 closed at pair 5; nothing is scheduled for 11-18
	waitFor(t, func() bool {
		summaries, err := uc.Summary.GetSummaries(ctx, convID)
		return err == nil && len(summaries) == 1
	})
	summaries, err := uc.Summary.GetSummaries(ctx, convID)
	gt.NoError(t, err).Required()
	gt.Value(t, summaries[0].MessageStart).Equal(1)
	gt.Value(t, summaries[0].MessageEnd).Equal(10)
	gt.Value(t, uc.Processor.ShouldGenerateSummary(18)).Equal(false)
	llm.ResetPrompts()

	addPair(10)
	uc.Processor.Stop()

	prompts := llm.Prompts()
	gt.Array(t, prompts).Length(1).Required()
	gt.String(t, prompts[0]).Contains("User: question 6")
	gt.String(t, prompts[0]).Contains("Assistant: answer 10")
	gt.Bool(t, strings.Contains(prompts[0], "answer 5")).False()

	summaries, err = uc.Summary.GetSummaries(ctx, convID)
	gt.NoError(t, err).Required()
	gt.Array(t, summaries).Length(2).Required()
	gt.Value(t, countByLevel(summaries, types.SummaryLevelRecent)).Equal(2)
	gt.Value(t, summaries[0].MessageStart).Equal(11)
	gt.Value(t, summaries[0].MessageEnd).Equal(20)
}

func TestMessageProcessor_ToolCallWindowExtension(t *testing.T) {
	setup := func(t *testing.T, withResult bool) (*usecase.UseCases, *mockLLM, model.ConversationID) {
		repo := memory.New()
		llm := newMockLLM()
		uc := usecase.New(repo, llm, usecase.WithMemoryConfig(testMemoryConfig()))
		ctx := context.Background()

		session, err := uc.Conversation.CreateSession(ctx, "u1")
		gt.NoError(t, err).Required()
		convID := session.Conversation.ID

		for i := 1; i <= 9; i++ {
			var m *model.Message
			if i%2 == 1 {
				m = model.NewUserMessage(fmt.Sprintf("question %d", i))
			} else {
				m = model.NewAssistantMessage(fmt.Sprintf("answer %d", i))
			}
			_, err := uc.Conversation.AddMessage(ctx, convID, m)
			gt.NoError(t, err).Required()
		}
		_, err = uc.Conversation.AddMessage(ctx, convID, model.NewToolCallMessage("call-1", "search", `{"query":"stoicism"}`))
		gt.NoError(t, err).Required()
		if withResult {
			_, err = uc.Conversation.AddMessage(ctx, convID, model.NewToolResultMessage("call-1", "search", "Stoicism is a school of philosophy."))
			gt.NoError(t, err).Required()
		}

		return uc, llm, convID
	}

	t.Run("window includes the resolving tool result", func(t *testing.T) {
		uc, llm, convID := setup(t, true)
		ctx := context.Background()

		err := uc.Processor.HandleSummaryTask(ctx, worker.SummaryTask{ConversationID: convID, UserID: "u1", MessageCount: 10})
		gt.NoError(t, err).Required()

		summaries, err := uc.Summary.GetSummaries(ctx, convID)
		gt.NoError(t, err).Required()
		gt.Array(t, summaries).Length(1).Required()
		gt.Value(t, summaries[0].MessageStart).Equal(1)
		gt.Value(t, summaries[0].MessageEnd).Equal(11)

		prompts := llm.Prompts()
		gt.Array(t, prompts).Length(1).Required()
		gt.String(t, prompts[0]).Contains("Tool search returned: Stoicism is a school of philosophy.")
	})

	t.Run("falls back to the plain window without a result", func(t *testing.T) {
		uc, _, convID := setup(t, false)
		ctx := context.Background()

		err := uc.Processor.HandleSummaryTask(ctx, worker.SummaryTask{ConversationID: convID, UserID: "u1", MessageCount: 10})
		gt.NoError(t, err).Required()

		summaries, err := uc.Summary.GetSummaries(ctx, convID)
		gt.NoError(t, err).Required()
		gt.Array(t, summaries).Length(1).Required()
		gt.Value(t, summaries[0].MessageEnd).Equal(10)
	})
}

func TestSummaryWindow(t *testing.T) {
	build := func(n int) []*model.Message {
		msgs := make([]*model.Message, 0, n)
		for i := 0; i < n; i++ {
			msgs = append(msgs, model.NewUserMessage(fmt.Sprintf("m%d", i)))
		}
		return msgs
	}

	t.Run("trims to chunk", func(t *testing.T) {
		gt.Array(t, usecase.SummaryWindow(build(11), 10)).Length(10)
	})

	t.Run("short input is returned as is", func(t *testing.T) {
		gt.Array(t, usecase.SummaryWindow(build(7), 10)).Length(7)
	})

	t.Run("extends over a resolved tool call", func(t *testing.T) {
		msgs := build(11)
		msgs[9] = model.NewToolCallMessage("c1", "search", "{}")
		msgs[10] = model.NewToolResultMessage("c1", "search", "found")
		gt.Array(t, usecase.SummaryWindow(msgs, 10)).Length(11)
	})

	t.Run("does not extend over an unrelated message", func(t *testing.T) {
		msgs := build(11)
		msgs[9] = model.NewToolCallMessage("c1", "search", "{}")
		msgs[10] = model.NewToolResultMessage("c2", "search", "found")
		gt.Array(t, usecase.SummaryWindow(msgs, 10)).Length(10)
	})
}

func TestMessageProcessor_GlobalRollUp(t *testing.T) {
	repo := memory.New()
	cfg := testMemoryConfig()
	cfg.SummaryChunkSize = 2
	cfg.GlobalSummaryInterval = 2
	uc := usecase.New(repo, newMockLLM(), usecase.WithMemoryConfig(cfg))
	ctx := context.Background()
	gt.NoError(t, uc.Processor.Start(ctx)).Required()

	session, err := uc.Conversation.CreateSession(ctx, "u1")
	gt.NoError(t, err).Required()

	for i := 0; i < 4; i++ {
		_, err := uc.Processor.AddMessage(ctx, session.Conversation.ID, model.NewUserMessage(fmt.Sprintf("message %d", i)))
		gt.NoError(t, err).Required()
	}
	uc.Processor.Stop()

	summaries, err := uc.Summary.GetSummaries(ctx, session.Conversation.ID)
	gt.NoError(t, err).Required()
	gt.Value(t, countByLevel(summaries, types.SummaryLevelRecent)).Equal(2)
	gt.Value(t, countByLevel(summaries, types.SummaryLevelGlobal)).Equal(1)

	for _, s := range summaries {
		if s.Level == types.SummaryLevelGlobal {
			gt.Array(t, s.SegmentIDs).Length(2)
		}
	}
}

func TestMessageProcessor_TopicTracking(t *testing.T) {
	setup := func(t *testing.T, similarity float64) (*usecase.UseCases, model.ConversationID) {
		repo := memory.New()
		llm := newMockLLM()
		llm.similarity = similarity
		uc := usecase.New(repo, llm,
			usecase.WithMemoryConfig(testMemoryConfig()),
			usecase.WithTopicDetection(true),
		)
		session, err := uc.Conversation.CreateSession(context.Background(), "u1")
		gt.NoError(t, err).Required()
		return uc, session.Conversation.ID
	}

	assertOneActive := func(t *testing.T, uc *usecase.UseCases, convID model.ConversationID) []*model.TopicSegment {
		t.Helper()
		topics, err := uc.Topic.ListTopics(context.Background(), convID)
		gt.NoError(t, err).Required()
		active := 0
		for _, seg := range topics {
			if seg.IsActive() {
				active++
			}
		}
		gt.Value(t, active).Equal(1)
		return topics
	}

	t.Run("low similarity switches topic", func(t *testing.T) {
		uc, convID := setup(t, 0.1)
		ctx := context.Background()

		first, err := uc.Processor.AddMessage(ctx, convID, model.NewUserMessage("Tell me about Seneca."))
		gt.NoError(t, err).Required()
		assertOneActive(t, uc, convID)

		reply, err := uc.Processor.AddMessage(ctx, convID, model.NewAssistantMessage("Seneca was a Stoic."))
		gt.NoError(t, err).Required()
		assertOneActive(t, uc, convID)

		third, err := uc.Processor.AddMessage(ctx, convID, model.NewUserMessage("How do I bake bread?"))
		gt.NoError(t, err).Required()
		topics := assertOneActive(t, uc, convID)
		gt.Array(t, topics).Length(2).Required()

		gt.Value(t, topics[0].Status).Equal(types.TopicStatusCompleted)
		gt.Value(t, topics[0].EndMessageID).Equal(reply.ID)
		gt.Value(t, topics[0].MessageCount).Equal(int64(2))
		gt.Value(t, topics[1].StartMessageID).Equal(third.ID)
		gt.Value(t, topics[1].MessageCount).Equal(int64(1))
		gt.Value(t, first.ID).NotEqual(third.ID)

		conv, err := uc.Conversation.GetMetadata(ctx, convID)
		gt.NoError(t, err).Required()
		gt.Value(t, conv.CurrentTopicID).Equal(topics[1].ID)
	})

	t.Run("high similarity keeps topic", func(t *testing.T) {
		uc, convID := setup(t, 0.95)
		ctx := context.Background()

		for _, m := range []*model.Message{
			model.NewUserMessage("Tell me about Seneca."),
			model.NewAssistantMessage("Seneca was a Stoic."),
			model.NewUserMessage("What did Seneca write?"),
		} {
			_, err := uc.Processor.AddMessage(ctx, convID, m)
			gt.NoError(t, err).Required()
		}

		topics := assertOneActive(t, uc, convID)
		gt.Array(t, topics).Length(1).Required()
		gt.Value(t, topics[0].MessageCount).Equal(int64(3))
	})
}

func TestMessageProcessor_NotStarted(t *testing.T) {
	cfg := testMemoryConfig()
	cfg.SummaryChunkSize = 2
	cfg.SummaryQueueSize = 1
	uc := usecase.New(memory.New(), newMockLLM(), usecase.WithMemoryConfig(cfg))
	ctx := context.Background()

	session, err := uc.Conversation.CreateSession(ctx, "u1")
	gt.NoError(t, err).Required()

	// three summary triggers with room for one: without workers the second would wait forever
	done := make(chan error, 1)
	go func() {
		for i := 0; i < 6; i++ {
			if _, err := uc.Processor.AddMessage(ctx, session.Conversation.ID, model.NewUserMessage(fmt.Sprintf("message %d", i))); err != nil {
				done <- err
				return
			}
		}
		done <- nil
	}()

	select {
	case err := <-done:
		gt.NoError(t, err).Required()
	case <-time.After(5 * time.Second):
		t.Fatal("AddMessage blocked on the summary queue")
	}

	conv, err := uc.Conversation.GetMetadata(ctx, session.Conversation.ID)
	gt.NoError(t, err).Required()
	gt.Value(t, conv.MessageCount).Equal(int64(6))
}
