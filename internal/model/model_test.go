package model

import (
	"testing"
	"time"
)

func TestNovelTimeAgo(t *testing.T) {
	now := time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)
	at := func(d time.Duration) *time.Time {
		v := now.Add(-d)
		return &v
	}
	tests := []struct {
		name   string
		latest *time.Time
		want   string
	}{
		{"unknown", nil, ""},
		{"an hour ago", at(time.Hour), "1"},
		{"36 hours ago", at(36 * time.Hour), "1"},
		{"two days", at(48 * time.Hour), "2"},
		{"ten and a half days", at(10*24*time.Hour + 12*time.Hour), "10"},
		{"future", at(-5 * time.Hour), "1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n := Novel{LatestChapTime: tt.latest}
			if got := n.TimeAgo(now); got != tt.want {
				t.Errorf("TimeAgo() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestNovelPatchEmpty(t *testing.T) {
	if !(NovelPatch{}).Empty() {
		t.Error("zero patch is not empty")
	}
	name := ""
	if (NovelPatch{Name: &name}).Empty() {
		t.Error("patch with an empty-string field reported empty")
	}
}

func TestBulkOptionsAny(t *testing.T) {
	if (BulkOptions{StartID: 5, Limit: 10}).Any() {
		t.Error("options without flags reported Any")
	}
	if !(BulkOptions{CheckEPUB: true}).Any() {
		t.Error("CheckEPUB not counted by Any")
	}
}
