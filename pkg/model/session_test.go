package model

import (
	"testing"
	"time"
)

func TestSessionStatusTransitions(t *testing.T) {
	allowed := []struct{ from, to SessionStatus }{
		{SessionPending, SessionUploading},
		{SessionPending, SessionPending},
		{SessionUploading, SessionUploading},
		{SessionUploading, SessionAssembling},
		{SessionAssembling, SessionCompleted},
		{SessionAssembling, SessionFailed},
		{SessionPending, SessionFailed},
		{SessionUploading, SessionFailed},
		{SessionPending, SessionExpired},
		{SessionUploading, SessionExpired},
		{SessionAssembling, SessionExpired},
	}
	for _, tc := range allowed {
		if !tc.from.CanTransition(tc.to) {
			t.Errorf("%s -> %s should be allowed", tc.from, tc.to)
		}
	}

	denied := []struct{ from, to SessionStatus }{
		{SessionPending, SessionAssembling},
		{SessionPending, SessionCompleted},
		{SessionUploading, SessionCompleted},
		{SessionCompleted, SessionUploading},
		{SessionCompleted, SessionExpired},
		{SessionFailed, SessionUploading},
		{SessionExpired, SessionUploading},
		{SessionExpired, SessionFailed},
	}
	for _, tc := range denied {
		if tc.from.CanTransition(tc.to) {
			t.Errorf("%s -> %s should be denied", tc.from, tc.to)
		}
	}
}

func TestTerminal(t *testing.T) {
	for _, s := range []SessionStatus{SessionCompleted, SessionFailed, SessionExpired} {
		if !s.Terminal() {
			t.Errorf("%s should be terminal", s)
		}
	}
	for _, s := range []SessionStatus{SessionPending, SessionUploading, SessionAssembling} {
		if s.Terminal() {
			t.Errorf("%s should not be terminal", s)
		}
	}
}

func TestTotalChunksFor(t *testing.T) {
	cases := []struct {
		totalSize, chunkSize int64
		want                 int
	}{
		{100, 100, 1},
		{101, 100, 2},
		{199, 100, 2},
		{200, 100, 2},
		{1, 100, 1},
		{1000, 1, 1000},
	}
	for _, tc := range cases {
		if got := TotalChunksFor(tc.totalSize, tc.chunkSize); got != tc.want {
			t.Errorf("TotalChunksFor(%d, %d) = %d, want %d",
				tc.totalSize, tc.chunkSize, got, tc.want)
		}
	}
}

func TestExpectedChunkSize(t *testing.T) {
	s := &UploadSession{TotalSize: 250, ChunkSize: 100, TotalChunks: 3}
	if got := s.ExpectedChunkSize(0); got != 100 {
		t.Errorf("chunk 0 should be 100, got %d", got)
	}
	if got := s.ExpectedChunkSize(1); got != 100 {
		t.Errorf("chunk 1 should be 100, got %d", got)
	}
	if got := s.ExpectedChunkSize(2); got != 50 {
		t.Errorf("final chunk should be the remainder 50, got %d", got)
	}

	// An exact multiple keeps the final chunk full-sized
	even := &UploadSession{TotalSize: 200, ChunkSize: 100, TotalChunks: 2}
	if got := even.ExpectedChunkSize(1); got != 100 {
		t.Errorf("final chunk of an exact multiple should be 100, got %d", got)
	}
}

func TestRemainingChunks(t *testing.T) {
	s := &UploadSession{
		TotalChunks: 4,
		CompletedChunks: []ChunkRecord{
			{Index: 0, CompletedAt: time.Now()},
			{Index: 2, CompletedAt: time.Now()},
		},
	}
	got := s.RemainingChunks()
	if len(got) != 2 || got[0] != 1 || got[1] != 3 {
		t.Errorf("expected [1 3], got %v", got)
	}
	if s.IsComplete() {
		t.Error("session with missing chunks is not complete")
	}

	s.CompletedChunks = append(s.CompletedChunks,
		ChunkRecord{Index: 1}, ChunkRecord{Index: 3})
	if !s.IsComplete() {
		t.Error("session with all chunks should be complete")
	}
	if len(s.RemainingChunks()) != 0 {
		t.Error("complete session has no remaining chunks")
	}
}

func TestChildPathAndDepth(t *testing.T) {
	cases := []struct {
		parent, name, want string
		depth              int
	}{
		{"", "docs", "/docs", 0},
		{"/docs", "work", "/docs/work", 1},
		{"/docs/work", "q3", "/docs/work/q3", 2},
	}
	for _, tc := range cases {
		got := ChildPath(tc.parent, tc.name)
		if got != tc.want {
			t.Errorf("ChildPath(%q, %q) = %q, want %q", tc.parent, tc.name, got, tc.want)
		}
		if d := PathDepth(got); d != tc.depth {
			t.Errorf("PathDepth(%q) = %d, want %d", got, d, tc.depth)
		}
	}
}

func TestBandwidthRolloverBoundaries(t *testing.T) {
	q := &Quota{}
	day := time.Date(2026, 5, 20, 23, 0, 0, 0, time.UTC)
	q.RolloverBandwidth(day)
	q.Bandwidth.Daily = 100
	q.Bandwidth.Monthly = 100

	// Same day: nothing resets
	q.RolloverBandwidth(day.Add(30 * time.Minute))
	if q.Bandwidth.Daily != 100 || q.Bandwidth.Monthly != 100 {
		t.Errorf("same-day rollover must not reset, got %d/%d",
			q.Bandwidth.Daily, q.Bandwidth.Monthly)
	}

	// Crossing midnight resets daily only
	q.RolloverBandwidth(day.Add(2 * time.Hour))
	if q.Bandwidth.Daily != 0 {
		t.Errorf("day change should reset daily, got %d", q.Bandwidth.Daily)
	}
	if q.Bandwidth.Monthly != 100 {
		t.Errorf("day change should keep monthly, got %d", q.Bandwidth.Monthly)
	}

	// Month change resets both
	q.Bandwidth.Daily = 50
	q.RolloverBandwidth(time.Date(2026, 6, 1, 0, 30, 0, 0, time.UTC))
	if q.Bandwidth.Daily != 0 || q.Bandwidth.Monthly != 0 {
		t.Errorf("month change should reset both, got %d/%d",
			q.Bandwidth.Daily, q.Bandwidth.Monthly)
	}
}
