package config

import (
	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/hypomnema/pkg/domain/types"
)

// ThemeConfig holds the controlled theme vocabulary
type ThemeConfig struct {
	Vocabulary    []string
	MinConfidence float64
}

// DefaultThemeConfig returns the reference vocabulary
func DefaultThemeConfig() ThemeConfig {
	return ThemeConfig{
		Vocabulary: []string{
			"ethics",
			"virtue",
			"happiness",
			"death",
			"love",
			"friendship",
			"knowledge",
			"truth",
			"justice",
			"freedom",
			"nature",
			"self",
			"society",
			"religion",
			"art",
			"time",
		},
		MinConfidence: 0.6,
	}
}

// Contains reports whether theme is part of the vocabulary
func (c ThemeConfig) Contains(theme string) bool {
	for _, v := range c.Vocabulary {
		if v == theme {
			return true
		}
	}
	return false
}

// Validate checks the vocabulary entries and the confidence bound
func (c ThemeConfig) Validate() error {
	if c.MinConfidence < 0 || c.MinConfidence > 1 {
		return goerr.New("theme min_confidence must be between 0 and 1", goerr.V("min_confidence", c.MinConfidence))
	}
	if len(c.Vocabulary) == 0 {
		return goerr.New("theme vocabulary must not be empty")
	}
	seen := make(map[string]bool, len(c.Vocabulary))
	for _, v := range c.Vocabulary {
		if err := types.ThemeID(v).Validate(); err != nil {
			return err
		}
		if seen[v] {
			return goerr.New("duplicate theme in vocabulary", goerr.V("theme", v))
		}
		seen[v] = true
	}
	return nil
}
