package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/secmon-lab/hypomnema/pkg/domain/types"
)

// SummaryID is a UUID-based identifier for Summary
type SummaryID string

// NewSummaryID generates a new UUID v4 SummaryID
func NewSummaryID() SummaryID {
	return SummaryID(uuid.New().String())
}

// String returns the string representation of SummaryID
func (id SummaryID) String() string {
	return string(id)
}

// Summary is an immutable compressed representation of a message chunk (recent)
// or of prior summaries (global).
type Summary struct {
	ID             SummaryID
	ConversationID ConversationID
	Level          types.SummaryLevel
	Content        string
	Themes         []string
	Timestamp      time.Time
	// SegmentIDs links to the topic segments or prior summaries the summary was derived from
	SegmentIDs []string
	// MessageStart and MessageEnd are the 1-based positions covered by a recent summary
	MessageStart int
	MessageEnd   int
}

// Copy returns a deep copy of the summary
func (s *Summary) Copy() *Summary {
	copied := *s
	if s.Themes != nil {
		copied.Themes = append([]string(nil), s.Themes...)
	}
	if s.SegmentIDs != nil {
		copied.SegmentIDs = append([]string(nil), s.SegmentIDs...)
	}
	return &copied
}

// UniqueThemes returns the set union of the given theme lists, keeping first-seen order
func UniqueThemes(lists ...[]string) []string {
	seen := make(map[string]struct{})
	result := make([]string, 0)
	for _, list := range lists {
		for _, theme := range list {
			if theme == "" {
				continue
			}
			if _, ok := seen[theme]; ok {
				continue
			}
			seen[theme] = struct{}{}
			result = append(result, theme)
		}
	}
	return result
}
