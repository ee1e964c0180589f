package replay

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"paddlearena/broker/internal/logging"
)

func TestRecorderWritesBundle(t *testing.T) {
	dir := t.TempDir()
	recorder, err := NewRecorder(dir, "match-123", WithRecorderClock(func() time.Time {
		return time.Unix(1000, 0)
	}))
	if err != nil {
		t.Fatalf("unexpected error opening recorder: %v", err)
	}
	//1.- Capture a lifecycle event and a handful of tick snapshots.
	if err := recorder.RecordEvent("started", []byte(`{"phase":"running"}`)); err != nil {
		t.Fatalf("record event: %v", err)
	}
	for tick := uint64(1); tick <= 3; tick++ {
		if err := recorder.RecordTick(tick, []byte(`{"ball":{"x":100}}`)); err != nil {
			t.Fatalf("record tick %d: %v", tick, err)
		}
	}
	if err := recorder.Close(); err != nil {
		t.Fatalf("close recorder: %v", err)
	}

	//2.- The bundle directory must contain both streams and the manifest.
	bundle := recorder.Dir()
	for _, name := range []string{eventsFileName, ticksFileName, manifestFileName} {
		if _, err := os.Stat(filepath.Join(bundle, name)); err != nil {
			t.Fatalf("expected %s in bundle: %v", name, err)
		}
	}
	data, err := os.ReadFile(filepath.Join(bundle, manifestFileName))
	if err != nil {
		t.Fatalf("read manifest: %v", err)
	}
	var manifest Manifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		t.Fatalf("decode manifest: %v", err)
	}
	if manifest.MatchID != "match-123" || manifest.TickCount != 3 {
		t.Fatalf("unexpected manifest %+v", manifest)
	}
}

func TestRecorderRejectsWritesAfterClose(t *testing.T) {
	recorder, err := NewRecorder(t.TempDir(), "match-1")
	if err != nil {
		t.Fatalf("unexpected error opening recorder: %v", err)
	}
	if err := recorder.Close(); err != nil {
		t.Fatalf("close recorder: %v", err)
	}
	if err := recorder.RecordEvent("late", nil); err == nil {
		t.Fatal("expected an error recording after close")
	}
	//1.- A second close is a harmless no-op.
	if err := recorder.Close(); err != nil {
		t.Fatalf("expected idempotent close, got %v", err)
	}
}

func TestRecorderSanitisesMatchID(t *testing.T) {
	recorder, err := NewRecorder(t.TempDir(), "../../evil id")
	if err != nil {
		t.Fatalf("unexpected error opening recorder: %v", err)
	}
	defer recorder.Close()
	base := filepath.Base(recorder.Dir())
	if base != "_evil_id" {
		t.Fatalf("expected a sanitised directory name, got %q", base)
	}
}

func TestCleanerRetainsNewestBundles(t *testing.T) {
	dir := t.TempDir()
	//1.- Create three bundles with staggered modification times.
	for i, name := range []string{"old", "mid", "new"} {
		bundle := filepath.Join(dir, name)
		if err := os.MkdirAll(bundle, 0o755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
		if err := os.WriteFile(filepath.Join(bundle, "manifest.json"), []byte("{}"), 0o644); err != nil {
			t.Fatalf("write: %v", err)
		}
		stamp := time.Now().Add(time.Duration(i-3) * time.Hour)
		if err := os.Chtimes(bundle, stamp, stamp); err != nil {
			t.Fatalf("chtimes: %v", err)
		}
	}
	cleaner := NewCleaner(dir, RetentionPolicy{MaxMatches: 2}, logging.NewTestLogger())
	cleaner.RunOnce()

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected two bundles retained, got %d", len(entries))
	}
	if _, err := os.Stat(filepath.Join(dir, "old")); !os.IsNotExist(err) {
		t.Fatal("expected the oldest bundle pruned")
	}
	if stats := cleaner.Stats(); stats.Bundles != 2 {
		t.Fatalf("expected stats to report two bundles, got %+v", stats)
	}
}

func TestCleanerPrunesByAge(t *testing.T) {
	dir := t.TempDir()
	bundle := filepath.Join(dir, "ancient")
	if err := os.MkdirAll(bundle, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	stamp := time.Now().Add(-48 * time.Hour)
	if err := os.Chtimes(bundle, stamp, stamp); err != nil {
		t.Fatalf("chtimes: %v", err)
	}
	cleaner := NewCleaner(dir, RetentionPolicy{MaxAge: 24 * time.Hour}, logging.NewTestLogger())
	cleaner.RunOnce()
	if _, err := os.Stat(bundle); !os.IsNotExist(err) {
		t.Fatal("expected the aged bundle pruned")
	}
}
