package types

import (
	"regexp"

	"github.com/m-mizutani/goerr/v2"
)

// ThemeID is an entry of the controlled theme vocabulary
type ThemeID string

var idPattern = regexp.MustCompile(`^[a-z0-9]+(-[a-z0-9]+)*$`)

// Validate checks if the ThemeID is valid
func (t ThemeID) Validate() error {
	if t == "" {
		return goerr.New("theme ID cannot be empty")
	}
	if !idPattern.MatchString(string(t)) {
		return goerr.New("theme ID must be lowercase alphanumeric with hyphens", goerr.V("id", t))
	}
	return nil
}

// String returns the string representation of ThemeID
func (t ThemeID) String() string {
	return string(t)
}
