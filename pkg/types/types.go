// Package types defines the shared types used across readaloud packages.
//
// They are kept minimal. Each package defines its own domain types; only
// cross-cutting values that would otherwise cause import cycles live here.
package types

import (
	"fmt"
	"strings"
)

// Language identifies the language a reading session is spoken in. It selects
// both the segmentation rules and the synthesis endpoint.
type Language string

const (
	// Chinese text is split on full-width terminators and spoken by the
	// Chinese synthesis endpoint.
	Chinese Language = "zh"

	// English text is split on ASCII terminators and spoken by the English
	// synthesis endpoint.
	English Language = "en"
)

// Languages lists every supported language in a stable order.
var Languages = []Language{Chinese, English}

// IsValid reports whether l is one of the supported languages.
func (l Language) IsValid() bool {
	return l == Chinese || l == English
}

func (l Language) String() string { return string(l) }

// DisplayName returns the human-readable name of the language.
func (l Language) DisplayName() string {
	switch l {
	case Chinese:
		return "Chinese"
	case English:
		return "English"
	default:
		return string(l)
	}
}

// ParseLanguage converts a user-supplied language tag into a Language.
// Region suffixes (zh-CN, en_US) and English names are accepted.
func ParseLanguage(s string) (Language, error) {
	tag := strings.ToLower(strings.TrimSpace(s))
	if i := strings.IndexAny(tag, "-_"); i > 0 {
		tag = tag[:i]
	}
	switch tag {
	case "zh", "cmn", "chinese":
		return Chinese, nil
	case "en", "english":
		return English, nil
	default:
		return "", fmt.Errorf("types: unsupported language %q", s)
	}
}

// VoiceProfile describes the voice a synthesis endpoint should use.
type VoiceProfile struct {
	// ID is the provider-specific voice identifier (e.g. "p335" speaker id).
	ID string

	// Name is the human-readable voice name.
	Name string

	// Provider identifies which TTS provider this voice belongs to.
	Provider string

	// Language is the language the voice speaks.
	Language Language

	// Metadata holds provider-specific voice attributes.
	Metadata map[string]string
}
