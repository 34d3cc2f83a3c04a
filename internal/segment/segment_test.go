package segment_test

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/MrWong99/readaloud/internal/segment"
	"github.com/MrWong99/readaloud/pkg/types"
)

func texts(segs []segment.TextSegment) []string {
	out := make([]string, len(segs))
	for i, s := range segs {
		out[i] = s.Text
	}
	return out
}

func TestSegment_Empty(t *testing.T) {
	t.Parallel()

	s := segment.New()
	for _, in := range []string{"", "   ", "\n\t\n"} {
		if got := s.Segment(in, types.English); got != nil {
			t.Errorf("Segment(%q) = %v, want nil", in, got)
		}
	}
}

func TestSegment_ShortTextUnchanged(t *testing.T) {
	t.Parallel()

	s := segment.New()
	got := s.Segment("Hello world. This is a test.", types.English)
	if len(got) != 1 {
		t.Fatalf("got %d segments, want 1: %q", len(got), texts(got))
	}
	if got[0].Text != "Hello world. This is a test." {
		t.Errorf("Text = %q", got[0].Text)
	}
	if got[0].Index != 0 || got[0].Language != types.English {
		t.Errorf("segment = %+v", got[0])
	}
}

func TestSegment_ShortTextBelowFloorStillEmitted(t *testing.T) {
	t.Parallel()

	got := segment.New().Segment("Hi.", types.English)
	if len(got) != 1 || got[0].Text != "Hi." {
		t.Fatalf("got %q, want [\"Hi.\"]", texts(got))
	}
}

func TestSegment_CollapsesWhitespace(t *testing.T) {
	t.Parallel()

	got := segment.New().Segment("  Hello\n  world.\n\nNext   line. ", types.English)
	if len(got) != 1 || got[0].Text != "Hello world. Next line." {
		t.Fatalf("got %q", texts(got))
	}
}

func TestSegment_ChineseNoPunctuationHardChunks(t *testing.T) {
	t.Parallel()

	in := strings.Repeat("书", 500)
	got := segment.New().Segment(in, types.Chinese)
	if len(got) != 4 {
		t.Fatalf("got %d segments, want 4", len(got))
	}
	for i := 0; i < 3; i++ {
		if n := utf8.RuneCountInString(got[i].Text); n != 150 {
			t.Errorf("segment %d length = %d, want 150", i, n)
		}
	}
	last := got[3].Text
	if n := utf8.RuneCountInString(last); n < 50 || n > 51 {
		t.Errorf("last segment length = %d, want 50 plus terminator", n)
	}
	for i, seg := range got {
		if seg.Index != i {
			t.Errorf("segment %d has Index %d", i, seg.Index)
		}
		if utf8.RuneCountInString(seg.Text) < 10 {
			t.Errorf("segment %d shorter than floor: %q", i, seg.Text)
		}
	}
}

func TestSegment_ChineseSentencePacking(t *testing.T) {
	t.Parallel()

	sentence := strings.Repeat("字", 59) + "。" // 60 runes
	in := strings.Repeat(sentence, 5)
	got := segment.New().Segment(in, types.Chinese)

	// 150-rune cap fits two 60-rune sentences per segment.
	want := []string{sentence + sentence, sentence + sentence, sentence}
	if strings.Join(texts(got), "|") != strings.Join(want, "|") {
		t.Fatalf("got %q, want %q", texts(got), want)
	}
}

func TestSegment_KeepsTerminatorsAndAppendsDefault(t *testing.T) {
	t.Parallel()

	s := segment.New(segment.WithMaxLength(types.English, 30))
	got := s.Segment("Is this the first question? Yes it certainly is! And it trails off", types.English)
	want := []string{"Is this the first question?", "Yes it certainly is!", "And it trails off."}
	if strings.Join(texts(got), "|") != strings.Join(want, "|") {
		t.Fatalf("got %q, want %q", texts(got), want)
	}
}

func TestSegment_EnglishDecimalsNotSplit(t *testing.T) {
	t.Parallel()

	s := segment.New(segment.WithMaxLength(types.English, 50))
	got := s.Segment("The value of pi is roughly 3.14159 today. The value of e is close to 2.71828.", types.English)
	want := []string{"The value of pi is roughly 3.14159 today.", "The value of e is close to 2.71828."}
	if len(got) != 2 {
		t.Fatalf("got %q, want %q", texts(got), want)
	}
	for i := range want {
		if got[i].Text != want[i] {
			t.Errorf("segment %d = %q, want %q", i, got[i].Text, want[i])
		}
	}
}

func TestSegment_DropsFragmentsAtFloor(t *testing.T) {
	t.Parallel()

	s := segment.New(segment.WithMaxLength(types.English, 45))
	long := "This sentence is long enough to stand alone."
	got := s.Segment("12. "+long+" p. 7", types.English)
	if len(got) != 1 || got[0].Text != long {
		t.Fatalf("got %q, want [%q]", texts(got), long)
	}
}

func TestSegment_LengthBound(t *testing.T) {
	t.Parallel()

	var b strings.Builder
	for i := 0; i < 40; i++ {
		b.WriteString("Sentence number ")
		b.WriteString(strings.Repeat("x", i*3))
		b.WriteString(" ends here. ")
	}
	b.WriteString(strings.Repeat("y", 1000))

	for _, lang := range types.Languages {
		s := segment.New()
		max := s.MaxLength(lang)
		for _, seg := range s.Segment(b.String(), lang) {
			if n := utf8.RuneCountInString(seg.Text); n > max {
				t.Errorf("%s: segment %d has %d runes, cap %d", lang, seg.Index, n, max)
			}
		}
	}
}

func TestSegment_Idempotent(t *testing.T) {
	t.Parallel()

	in := strings.Repeat("The quick brown fox jumps over the lazy dog. Pack my box with five dozen liquor jugs! ", 12)
	s := segment.New(segment.WithMaxLength(types.English, 120))

	first := s.Segment(in, types.English)
	second := s.Segment(strings.Join(texts(first), " "), types.English)

	if strings.Join(texts(first), "|") != strings.Join(texts(second), "|") {
		t.Fatalf("re-segmentation changed boundaries:\nfirst:  %q\nsecond: %q", texts(first), texts(second))
	}
}

func TestSegment_IdempotentChinese(t *testing.T) {
	t.Parallel()

	in := strings.Repeat("今天天气很好，我们一起去公园散步吧。你觉得怎么样？我觉得非常好！", 10)
	s := segment.New()

	first := s.Segment(in, types.Chinese)
	second := s.Segment(strings.Join(texts(first), ""), types.Chinese)

	if strings.Join(texts(first), "|") != strings.Join(texts(second), "|") {
		t.Fatalf("re-segmentation changed boundaries:\nfirst:  %q\nsecond: %q", texts(first), texts(second))
	}
}

func TestSegmenter_Options(t *testing.T) {
	t.Parallel()

	s := segment.New(
		segment.WithMaxLength(types.Chinese, 80),
		segment.WithMaxLength(types.English, 0),
		segment.WithMinLength(4),
	)
	if got := s.MaxLength(types.Chinese); got != 80 {
		t.Errorf("MaxLength(zh) = %d, want 80", got)
	}
	if got := s.MaxLength(types.English); got != segment.DefaultMaxLengthEnglish {
		t.Errorf("MaxLength(en) = %d, want default", got)
	}
	if got := s.MinLength(); got != 4 {
		t.Errorf("MinLength() = %d, want 4", got)
	}
}
