package http

import (
	"context"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/hypomnema/pkg/domain/model"
	"github.com/secmon-lab/hypomnema/pkg/domain/types"
	"github.com/secmon-lab/hypomnema/pkg/usecase"
	"github.com/secmon-lab/hypomnema/pkg/utils/errutil"
)

const (
	defaultLastMessages = 10
	defaultSessionLimit = 20
)

func conversationID(r *http.Request) model.ConversationID {
	return model.ConversationID(chi.URLParam(r, "conversationID"))
}

// intQuery returns the integer query parameter name, or def when absent
func intQuery(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0, goerr.New("invalid query parameter", goerr.T(model.TagValidation), goerr.V(name, raw))
	}
	return v, nil
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	errutil.HandleHTTP(r.Context(), w, err, statusOf(err))
}

func (s *Server) createSession(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID string `json:"user_id"`
	}
	if err := readJSON(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}

	session, err := s.useCases.Conversation.CreateSession(r.Context(), req.UserID)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	writeJSON(w, r, http.StatusCreated, toSessionResponse(session.Conversation))
}

func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	limit, err := intQuery(r, "limit", defaultSessionLimit)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	sessions, err := s.useCases.Conversation.ListSessions(r.Context(), r.URL.Query().Get("user_id"), limit)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	resp := make([]sessionResponse, len(sessions))
	for i, c := range sessions {
		resp[i] = toSessionResponse(c)
	}
	writeJSON(w, r, http.StatusOK, resp)
}

func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	conv, err := s.useCases.Conversation.GetMetadata(r.Context(), conversationID(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, toSessionResponse(conv))
}

func (s *Server) addMessage(w http.ResponseWriter, r *http.Request) {
	var req messageRequest
	if err := readJSON(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	msg, err := req.toModel()
	if err != nil {
		s.fail(w, r, err)
		return
	}

	stored, err := s.useCases.Processor.AddMessage(r.Context(), conversationID(r), msg)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	writeJSON(w, r, http.StatusCreated, toMessageResponses([]*model.Message{stored})[0])
}

// getMessages serves ?last=N (chronological) or ?start=S&end=E (0-based, end exclusive)
func (s *Server) getMessages(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()

	var (
		msgs []*model.Message
		err  error
	)
	if q.Has("start") || q.Has("end") {
		var start, end int
		if start, err = intQuery(r, "start", 0); err != nil {
			s.fail(w, r, err)
			return
		}
		if end, err = intQuery(r, "end", start+defaultLastMessages); err != nil {
			s.fail(w, r, err)
			return
		}
		msgs, err = s.useCases.Conversation.GetMessageRange(ctx, conversationID(r), start, end)
	} else {
		var last int
		if last, err = intQuery(r, "last", defaultLastMessages); err != nil {
			s.fail(w, r, err)
			return
		}
		msgs, err = s.useCases.Conversation.ImmediateContext(ctx, conversationID(r), last)
	}
	if err != nil {
		s.fail(w, r, err)
		return
	}

	writeJSON(w, r, http.StatusOK, toMessageResponses(msgs))
}

func (s *Server) processPair(w http.ResponseWriter, r *http.Request) {
	var req pairRequest
	if err := readJSON(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}

	userMsg, err := req.User.toModel()
	if err != nil {
		s.fail(w, r, err)
		return
	}
	assistantMsg, err := req.Assistant.toModel()
	if err != nil {
		s.fail(w, r, err)
		return
	}

	result := s.useCases.Processor.ProcessMessagePair(r.Context(), conversationID(r), userMsg, assistantMsg)
	if result.Err != nil {
		_ = errutil.Handle(r.Context(), result.Err, "failed to process message pair")
	}
	writeJSON(w, r, pairStatus(result), toPairResponse(result))
}

func (s *Server) getSummaries(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var (
		summaries []*model.Summary
		err       error
	)
	if raw := r.URL.Query().Get("level"); raw != "" {
		level, perr := types.ParseSummaryLevel(raw)
		if perr != nil {
			s.fail(w, r, goerr.Wrap(perr, "invalid summary level", goerr.T(model.TagValidation)))
			return
		}
		limit, qerr := intQuery(r, "limit", 0)
		if qerr != nil {
			s.fail(w, r, qerr)
			return
		}
		summaries, err = s.useCases.Summary.GetSummariesByLevel(ctx, conversationID(r), level, limit)
	} else {
		summaries, err = s.useCases.Summary.GetSummaries(ctx, conversationID(r))
	}
	if err != nil {
		s.fail(w, r, err)
		return
	}

	writeJSON(w, r, http.StatusOK, toSummaryResponses(summaries))
}

func (s *Server) getTopics(w http.ResponseWriter, r *http.Request) {
	topics, err := s.useCases.Topic.ListTopics(r.Context(), conversationID(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, toTopicResponses(topics))
}

func (s *Server) completeSession(w http.ResponseWriter, r *http.Request) {
	conv, err := s.useCases.Conversation.CompleteSession(r.Context(), conversationID(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, toSessionResponse(conv))
}

func (s *Server) query(w http.ResponseWriter, r *http.Request) {
	if s.useCases.Retrieval == nil {
		errutil.HandleHTTP(r.Context(), w, goerr.New("retrieval is not configured"), http.StatusServiceUnavailable)
		return
	}
	s.answer(w, r, s.useCases.Retrieval.Answer)
}

func (s *Server) ask(w http.ResponseWriter, r *http.Request) {
	if s.useCases.Agent == nil {
		errutil.HandleHTTP(r.Context(), w, goerr.New("agent is not configured"), http.StatusServiceUnavailable)
		return
	}
	s.answer(w, r, s.useCases.Agent.Answer)
}

type answerFunc func(ctx context.Context, conversationID model.ConversationID, userID, question string) (*usecase.Answer, error)

func (s *Server) answer(w http.ResponseWriter, r *http.Request, fn answerFunc) {
	var req queryRequest
	if err := readJSON(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}

	answer, err := fn(r.Context(), conversationID(r), req.UserID, req.Question)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	writeJSON(w, r, http.StatusOK, toAnswerResponse(answer))
}
