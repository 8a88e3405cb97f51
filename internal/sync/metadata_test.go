package sync

import (
	"reflect"
	"testing"

	"github.com/bsrbot/bsr/internal/infrastructure/persistence/models"
	"go.uber.org/zap"
)

func newTestApplier() *MetadataApplier {
	return &MetadataApplier{
		syncTag: "summarized",
		readTag: "read",
		logger:  zap.NewNop(),
	}
}

func TestBuildTagSet(t *testing.T) {
	a := newTestApplier()

	summary := &models.SummaryModel{IsRead: true}
	payload := &SummaryPayload{Topics: []string{"#Go", "  Databases ", "#", "Networking"}}

	got := a.buildTagSet(summary, payload)
	want := []string{"summarized", "read", "Go", "Databases", "Networking"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("buildTagSet = %v, want %v", got, want)
	}
}

func TestBuildTagSet_UnreadSkipsReadTag(t *testing.T) {
	a := newTestApplier()

	got := a.buildTagSet(&models.SummaryModel{}, &SummaryPayload{})
	want := []string{"summarized"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("buildTagSet = %v, want %v", got, want)
	}
}

func TestBuildTagSet_TruncatesTopics(t *testing.T) {
	a := newTestApplier()

	payload := &SummaryPayload{
		Topics: []string{"one", "two", "three", "four", "five", "six", "seven"},
	}
	got := a.buildTagSet(&models.SummaryModel{}, payload)

	// sync marker plus the topic cap.
	if len(got) != 1+maxTopicTags {
		t.Errorf("expected %d tags, got %v", 1+maxTopicTags, got)
	}
	for _, tag := range got {
		if tag == "six" || tag == "seven" {
			t.Errorf("topics past the cap must be dropped: %v", got)
		}
	}
}

func TestBuildTagSet_NoReadTagConfigured(t *testing.T) {
	a := newTestApplier()
	a.readTag = ""

	got := a.buildTagSet(&models.SummaryModel{IsRead: true}, &SummaryPayload{})
	want := []string{"summarized"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("buildTagSet = %v, want %v", got, want)
	}
}
