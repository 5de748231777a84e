package http

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/hypomnema/pkg/domain/model"
	"github.com/secmon-lab/hypomnema/pkg/domain/types"
	"github.com/secmon-lab/hypomnema/pkg/usecase"
	"github.com/secmon-lab/hypomnema/pkg/utils/errutil"
	"github.com/secmon-lab/hypomnema/pkg/utils/safe"
)

type sessionResponse struct {
	ID             string    `json:"id"`
	UserID         string    `json:"user_id"`
	Status         string    `json:"status"`
	StartTime      time.Time `json:"start_time"`
	LastActivity   time.Time `json:"last_activity"`
	MessageCount   int64     `json:"message_count"`
	CurrentTopicID string    `json:"current_topic_id,omitempty"`
}

func toSessionResponse(c *model.Conversation) sessionResponse {
	return sessionResponse{
		ID:             c.ID.String(),
		UserID:         c.UserID,
		Status:         c.Status.String(),
		StartTime:      c.StartTime,
		LastActivity:   c.LastActivity,
		MessageCount:   c.MessageCount,
		CurrentTopicID: c.CurrentTopicID.String(),
	}
}

type messageRequest struct {
	Kind       string   `json:"kind"`
	Content    string   `json:"content"`
	ToolCallID string   `json:"tool_call_id,omitempty"`
	ToolName   string   `json:"tool_name,omitempty"`
	Themes     []string `json:"themes,omitempty"`
}

// toModel builds the message variant named by Kind. An empty kind means a user message.
func (req messageRequest) toModel() (*model.Message, error) {
	kind := types.MessageKindUser
	if req.Kind != "" {
		k, err := types.ParseMessageKind(req.Kind)
		if err != nil {
			return nil, goerr.Wrap(err, "invalid message kind", goerr.T(model.TagValidation), goerr.V("kind", req.Kind))
		}
		kind = k
	}

	var msg *model.Message
	switch kind {
	case types.MessageKindUser:
		msg = model.NewUserMessage(req.Content)
	case types.MessageKindAssistantText:
		msg = model.NewAssistantMessage(req.Content)
	case types.MessageKindAssistantToolCall:
		msg = model.NewToolCallMessage(req.ToolCallID, req.ToolName, req.Content)
	case types.MessageKindToolResult:
		msg = model.NewToolResultMessage(req.ToolCallID, req.ToolName, req.Content)
	}
	msg.Themes = req.Themes
	return msg, nil
}

type messageResponse struct {
	ID         string    `json:"id"`
	Kind       string    `json:"kind"`
	Role       string    `json:"role"`
	Content    string    `json:"content"`
	ToolCallID string    `json:"tool_call_id,omitempty"`
	ToolName   string    `json:"tool_name,omitempty"`
	Themes     []string  `json:"themes"`
	Timestamp  time.Time `json:"timestamp"`
}

func toMessageResponses(msgs []*model.Message) []messageResponse {
	resp := make([]messageResponse, len(msgs))
	for i, m := range msgs {
		resp[i] = messageResponse{
			ID:         m.ID.String(),
			Kind:       m.Kind.String(),
			Role:       string(m.Role()),
			Content:    m.Content,
			ToolCallID: m.ToolCallID,
			ToolName:   m.ToolName,
			Themes:     nonNil(m.Themes),
			Timestamp:  m.Timestamp,
		}
	}
	return resp
}

type summaryResponse struct {
	ID           string    `json:"id"`
	Level        string    `json:"level"`
	Content      string    `json:"content"`
	Themes       []string  `json:"themes"`
	SegmentIDs   []string  `json:"segment_ids"`
	MessageStart int       `json:"message_start,omitempty"`
	MessageEnd   int       `json:"message_end,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

func toSummaryResponses(summaries []*model.Summary) []summaryResponse {
	resp := make([]summaryResponse, len(summaries))
	for i, s := range summaries {
		resp[i] = summaryResponse{
			ID:           s.ID.String(),
			Level:        s.Level.String(),
			Content:      s.Content,
			Themes:       nonNil(s.Themes),
			SegmentIDs:   nonNil(s.SegmentIDs),
			MessageStart: s.MessageStart,
			MessageEnd:   s.MessageEnd,
			Timestamp:    s.Timestamp,
		}
	}
	return resp
}

type topicResponse struct {
	ID             string    `json:"id"`
	Status         string    `json:"status"`
	StartMessageID string    `json:"start_message_id"`
	EndMessageID   string    `json:"end_message_id,omitempty"`
	Themes         []string  `json:"themes"`
	MessageCount   int64     `json:"message_count"`
	Timestamp      time.Time `json:"timestamp"`
}

func toTopicResponses(topics []*model.TopicSegment) []topicResponse {
	resp := make([]topicResponse, len(topics))
	for i, t := range topics {
		resp[i] = topicResponse{
			ID:             t.ID.String(),
			Status:         t.Status.String(),
			StartMessageID: t.StartMessageID.String(),
			EndMessageID:   t.EndMessageID.String(),
			Themes:         nonNil(t.Themes),
			MessageCount:   t.MessageCount,
			Timestamp:      t.Timestamp,
		}
	}
	return resp
}

type pairRequest struct {
	User      messageRequest `json:"user"`
	Assistant messageRequest `json:"assistant"`
}

type pairResponse struct {
	Success            bool   `json:"success"`
	UserMessageID      string `json:"user_message_id,omitempty"`
	AssistantMessageID string `json:"assistant_message_id,omitempty"`
	ErrorCode          string `json:"error_code,omitempty"`
	Error              string `json:"error,omitempty"`
}

func toPairResponse(r *usecase.PairResult) pairResponse {
	resp := pairResponse{
		Success:            r.Success,
		UserMessageID:      r.UserMessageID.String(),
		AssistantMessageID: r.AssistantMessageID.String(),
		ErrorCode:          string(r.ErrorCode),
	}
	if r.Err != nil {
		resp.Error = r.Err.Error()
	}
	return resp
}

type queryRequest struct {
	UserID   string `json:"user_id"`
	Question string `json:"question"`
}

type citationResponse struct {
	SourceReference string  `json:"source_reference"`
	Content         string  `json:"content"`
	Score           float64 `json:"score"`
}

type answerResponse struct {
	Answer             string             `json:"answer"`
	Citations          []citationResponse `json:"citations"`
	Themes             []string           `json:"themes"`
	UserMessageID      string             `json:"user_message_id,omitempty"`
	AssistantMessageID string             `json:"assistant_message_id,omitempty"`
}

func toAnswerResponse(a *usecase.Answer) answerResponse {
	resp := answerResponse{
		Answer:             a.Text,
		Citations:          make([]citationResponse, len(a.Citations)),
		Themes:             nonNil(a.Themes),
		UserMessageID:      a.UserMessageID.String(),
		AssistantMessageID: a.AssistantMessageID.String(),
	}
	for i, c := range a.Citations {
		resp.Citations[i] = citationResponse{
			SourceReference: c.SourceReference,
			Content:         c.Content,
			Score:           c.Score,
		}
	}
	return resp
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// statusOf maps error tags to HTTP status codes
func statusOf(err error) int {
	switch {
	case model.IsNotFound(err):
		return http.StatusNotFound
	case model.IsValidation(err):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func pairStatus(r *usecase.PairResult) int {
	switch r.ErrorCode {
	case "":
		return http.StatusOK
	case usecase.PairErrorConversationNotFound:
		return http.StatusNotFound
	case usecase.PairErrorInvalidMessage:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		errutil.HandleHTTP(r.Context(), w, goerr.Wrap(err, "failed to marshal response"), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	safe.Write(r.Context(), w, data)
}

func readJSON(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return goerr.Wrap(err, "invalid request body", goerr.T(model.TagValidation))
	}
	return nil
}
