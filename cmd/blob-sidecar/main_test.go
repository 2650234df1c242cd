package main

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestShouldTrackAcceptsFLVCreate(t *testing.T) {
	ev := fsnotify.Event{Name: "recordings/app/stream.flv", Op: fsnotify.Create}
	if !shouldTrack(ev) {
		t.Fatalf("expected .flv Create event to be tracked")
	}
}

func TestShouldTrackAcceptsFLVWrite(t *testing.T) {
	ev := fsnotify.Event{Name: "recordings/app/stream.flv", Op: fsnotify.Write}
	if !shouldTrack(ev) {
		t.Fatalf("expected .flv Write event to be tracked")
	}
}

func TestShouldTrackRejectsNonFLV(t *testing.T) {
	ev := fsnotify.Event{Name: "recordings/app/stream.tmp", Op: fsnotify.Write}
	if shouldTrack(ev) {
		t.Fatalf("expected non-.flv file to be ignored")
	}
}

func TestShouldTrackRejectsRemove(t *testing.T) {
	ev := fsnotify.Event{Name: "recordings/app/stream.flv", Op: fsnotify.Remove}
	if shouldTrack(ev) {
		t.Fatalf("expected Remove events to be ignored")
	}
}

func TestUploaderNoteActivityDebouncesRepeatedWrites(t *testing.T) {
	u := newUploader(nil, "container", 30*time.Millisecond, discardLogger())

	u.noteActivity("/tmp/does-not-exist.flv")
	u.mu.Lock()
	_, scheduled := u.timers["/tmp/does-not-exist.flv"]
	u.mu.Unlock()
	if !scheduled {
		t.Fatalf("expected a debounce timer to be scheduled after activity")
	}

	// A second activity note before the timer fires should replace, not stack,
	// the pending timer (upload only fires once per quiet period).
	u.noteActivity("/tmp/does-not-exist.flv")
	u.mu.Lock()
	n := len(u.timers)
	u.mu.Unlock()
	if n != 1 {
		t.Fatalf("expected exactly one pending timer, got %d", n)
	}

	time.Sleep(100 * time.Millisecond)
	u.mu.Lock()
	_, stillPending := u.timers["/tmp/does-not-exist.flv"]
	u.mu.Unlock()
	if stillPending {
		t.Fatalf("expected timer to have fired and been cleared")
	}
}
