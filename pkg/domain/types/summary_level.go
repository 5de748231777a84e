package types

import "fmt"

// SummaryLevel represents the hierarchy level of a conversation summary
type SummaryLevel string

const (
	// SummaryLevelRecent is derived directly from one chunk of messages
	SummaryLevelRecent SummaryLevel = "recent"
	// SummaryLevelGlobal is a roll-up derived only from prior summaries
	SummaryLevelGlobal SummaryLevel = "global"
)

// IsValid checks if the summary level is valid
func (l SummaryLevel) IsValid() bool {
	switch l {
	case SummaryLevelRecent,
		SummaryLevelGlobal:
		return true
	default:
		return false
	}
}

// String returns the string representation of the summary level
func (l SummaryLevel) String() string {
	return string(l)
}

// ParseSummaryLevel parses a string into a SummaryLevel
func ParseSummaryLevel(s string) (SummaryLevel, error) {
	level := SummaryLevel(s)
	if !level.IsValid() {
		return "", fmt.Errorf("invalid summary level: %s", s)
	}
	return level, nil
}
