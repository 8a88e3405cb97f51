package youtube

import (
	"strings"
	"testing"
)

const sampleVTT = `WEBVTT
Kind: captions
Language: en

00:00.000 --> 00:02.500
Hello and <c.colorE5E5E5>welcome</c> to the show

00:02.500 --> 00:05.000
Hello and welcome to the show

00:05.000 --> 00:08.000
Today we talk about Go

NOTE internal marker

00:08.000 --> 00:10.000
Today we talk about Go
and its <b>concurrency</b> model
`

func TestParseVTT(t *testing.T) {
	got := parseVTT(sampleVTT)

	if strings.Contains(got, "-->") {
		t.Error("timestamps must be stripped")
	}
	if strings.Contains(got, "<") {
		t.Error("markup tags must be stripped")
	}
	if strings.Contains(got, "WEBVTT") || strings.Contains(got, "Kind:") {
		t.Error("header lines must be stripped")
	}
	if strings.Contains(got, "NOTE") {
		t.Error("NOTE blocks must be stripped")
	}
	// Rollup duplicates collapse to a single occurrence.
	if strings.Count(got, "Hello and welcome to the show") != 1 {
		t.Errorf("duplicate cues should collapse: %q", got)
	}
	if !strings.Contains(got, "concurrency model") {
		t.Errorf("cue text lost: %q", got)
	}
}

func TestParseVTT_TruncatesAtCap(t *testing.T) {
	long := "WEBVTT\n\n00:00.000 --> 00:01.000\n" + strings.Repeat("word ", maxTranscriptChars/4)
	got := parseVTT(long)
	if len(got) > maxTranscriptChars {
		t.Errorf("transcript exceeds cap: %d chars", len(got))
	}
}

func TestInferVTTLanguage(t *testing.T) {
	tests := []struct {
		filename string
		want     string
	}{
		{"dQw4w9WgXcQ_Some_Title.en.vtt", "en"},
		{"dQw4w9WgXcQ_Some_Title.en-US.vtt", "en"},
		{"dQw4w9WgXcQ_Título.pt-BR.vtt", "pt"},
		{"dQw4w9WgXcQ_Some.Title.With.Dots.de.vtt", "de"},
		{"dQw4w9WgXcQ_No_Lang_Segment.vtt", ""},
		{"dQw4w9WgXcQ_Title.xx.vtt", ""},
	}
	for _, tt := range tests {
		if got := inferVTTLanguage(tt.filename); got != tt.want {
			t.Errorf("inferVTTLanguage(%q) = %q, want %q", tt.filename, got, tt.want)
		}
	}
}
