// Package segment splits page text into ordered, length-bounded chunks that
// are small enough to be synthesised in a single request.
//
// Segmentation is sentence-aware: text is split on the terminal punctuation of
// the session language, sentences are greedily packed up to the language's cap,
// and sentences longer than the cap are hard-chunked. Fragments at or below a
// minimum length are dropped so stray page numbers and lone punctuation do not
// turn into audible blips.
//
// Typical usage:
//
//	s := segment.New()
//	for _, seg := range s.Segment(pageText, types.English) {
//	    // seg.Index, seg.Text
//	}
package segment

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/MrWong99/readaloud/pkg/types"
)

// ---- constants ----

const (
	// DefaultMaxLengthChinese is the segment cap in runes for Chinese text.
	DefaultMaxLengthChinese = 150

	// DefaultMaxLengthEnglish is the segment cap in runes for English text.
	DefaultMaxLengthEnglish = 400

	// DefaultMinLength is the floor: buffered text and hard chunks must be
	// longer than this many runes to be emitted.
	DefaultMinLength = 10
)

// TextSegment is one synthesisable unit of a page.
type TextSegment struct {
	// Text is trimmed, whitespace-collapsed and never empty.
	Text string

	// Language is the session language, never detected from Text.
	Language types.Language

	// Index is the 0-based playback position within the page.
	Index int
}

// ---- options ----

// Option configures a Segmenter.
type Option func(*Segmenter)

// WithMaxLength overrides the cap for lang. Non-positive values are ignored.
func WithMaxLength(lang types.Language, n int) Option {
	return func(s *Segmenter) {
		if n > 0 {
			s.maxLength[lang] = n
		}
	}
}

// WithMinLength overrides the minimum-length floor. Negative values are ignored.
func WithMinLength(n int) Option {
	return func(s *Segmenter) {
		if n >= 0 {
			s.minLength = n
		}
	}
}

// ---- Segmenter ----

// Segmenter is stateless after construction and safe for concurrent use.
type Segmenter struct {
	maxLength map[types.Language]int
	minLength int
}

// New returns a Segmenter with the default caps (150 Chinese, 400 English) and
// a floor of 10 runes.
func New(opts ...Option) *Segmenter {
	s := &Segmenter{
		maxLength: map[types.Language]int{
			types.Chinese: DefaultMaxLengthChinese,
			types.English: DefaultMaxLengthEnglish,
		},
		minLength: DefaultMinLength,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// MaxLength returns the cap in runes used for lang.
func (s *Segmenter) MaxLength(lang types.Language) int {
	if n, ok := s.maxLength[lang]; ok {
		return n
	}
	return DefaultMaxLengthEnglish
}

// MinLength returns the floor in runes.
func (s *Segmenter) MinLength() int { return s.minLength }

// Segment splits text into reading-order segments for lang. It returns nil
// for empty or whitespace-only text.
func (s *Segmenter) Segment(text string, lang types.Language) []TextSegment {
	clean := strings.Join(strings.Fields(text), " ")
	if clean == "" {
		return nil
	}

	maxLen := s.MaxLength(lang)
	if utf8.RuneCountInString(clean) <= maxLen {
		return build([]string{clean}, lang)
	}

	var (
		out    []string
		buf    strings.Builder
		bufLen int
	)
	flush := func() {
		if bufLen > s.minLength {
			out = append(out, buf.String())
		}
		buf.Reset()
		bufLen = 0
	}

	sep := separator(lang)
	sepLen := utf8.RuneCountInString(sep)
	for _, sentence := range splitSentences(clean, lang) {
		n := utf8.RuneCountInString(sentence)
		if n > maxLen {
			flush()
			out = append(out, s.chunk(sentence, maxLen)...)
			continue
		}

		joined := n
		if bufLen > 0 {
			joined += bufLen + sepLen
		}
		if joined > maxLen {
			flush()
			joined = n
		}
		if bufLen > 0 {
			buf.WriteString(sep)
		}
		buf.WriteString(sentence)
		bufLen = joined
	}
	flush()

	if len(out) == 0 {
		out = s.chunk(clean, maxLen)
	}
	if len(out) == 0 {
		out = []string{clean}
	}
	return build(out, lang)
}

// chunk splits text into consecutive runs of at most size runes, keeping only
// chunks longer than the floor.
func (s *Segmenter) chunk(text string, size int) []string {
	runes := []rune(text)
	var out []string
	for start := 0; start < len(runes); start += size {
		end := min(start+size, len(runes))
		c := strings.TrimSpace(string(runes[start:end]))
		if utf8.RuneCountInString(c) > s.minLength {
			out = append(out, c)
		}
	}
	return out
}

// ---- helpers ----

func build(texts []string, lang types.Language) []TextSegment {
	segs := make([]TextSegment, 0, len(texts))
	for _, t := range texts {
		segs = append(segs, TextSegment{Text: t, Language: lang, Index: len(segs)})
	}
	return segs
}

// separator is inserted between sentences packed into the same segment.
func separator(lang types.Language) string {
	if lang == types.Chinese {
		return ""
	}
	return " "
}

// defaultTerminator is appended to a trailing sentence that has none.
func defaultTerminator(lang types.Language) string {
	if lang == types.Chinese {
		return "。"
	}
	return "."
}

// isTerminator reports whether r ends a sentence in lang.
func isTerminator(r rune, lang types.Language) bool {
	if lang == types.Chinese {
		return r == '。' || r == '！' || r == '？'
	}
	return r == '.' || r == '!' || r == '?'
}

// splitSentences splits text into trimmed sentences, each ending in a
// terminator. English terminators only count when followed by whitespace or
// the end of text, so "3.14" and "e.g.x" stay intact. Runs of terminators
// ("?!", "。。") stay attached to their sentence.
func splitSentences(text string, lang types.Language) []string {
	var sentences []string
	emit := func(s string) {
		s = strings.TrimSpace(s)
		if s == "" || isPunctOnly(s, lang) {
			return
		}
		sentences = append(sentences, s)
	}

	runes := []rune(text)
	start := 0
	for i := 0; i < len(runes); i++ {
		if !isTerminator(runes[i], lang) {
			continue
		}
		// Swallow repeated terminators.
		for i+1 < len(runes) && isTerminator(runes[i+1], lang) {
			i++
		}
		if lang != types.Chinese && i+1 < len(runes) && !unicode.IsSpace(runes[i+1]) {
			continue
		}
		emit(string(runes[start : i+1]))
		start = i + 1
	}
	if start < len(runes) {
		rest := strings.TrimSpace(string(runes[start:]))
		if rest != "" && !isPunctOnly(rest, lang) {
			sentences = append(sentences, rest+defaultTerminator(lang))
		}
	}
	return sentences
}

func isPunctOnly(s string, lang types.Language) bool {
	for _, r := range s {
		if !isTerminator(r, lang) && !unicode.IsSpace(r) {
			return false
		}
	}
	return true
}
