// Package replay persists a per-match record of lifecycle events and tick
// snapshots so finished matches can be replayed or audited offline. Events
// use a snappy framed stream; the high-frequency tick stream is zstd
// compressed. Recording is best effort and never blocks the simulation.
package replay

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"time"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/zstd"
)

var matchIDCleaner = regexp.MustCompile(`[^a-zA-Z0-9_-]+`)

const (
	manifestVersion = 1
	// flushInterval bounds how long buffered ticks wait before hitting disk.
	flushInterval = 200 * time.Millisecond

	eventsFileName   = "events.snappy"
	ticksFileName    = "ticks.zst"
	manifestFileName = "manifest.json"
)

// Manifest describes the replay bundle layout so tooling can locate artefacts.
type Manifest struct {
	Version    int    `json:"version"`
	MatchID    string `json:"match_id"`
	CreatedAt  string `json:"created_at"`
	ClosedAt   string `json:"closed_at"`
	TickCount  uint64 `json:"tick_count"`
	EventsPath string `json:"events_path"`
	TicksPath  string `json:"ticks_path"`
}

type eventRecord struct {
	Kind       string          `json:"kind"`
	CapturedAt time.Time       `json:"captured_at"`
	Payload    json.RawMessage `json:"payload,omitempty"`
}

type tickBlob struct {
	tick    uint64
	payload []byte
}

// Recorder streams one match's artefacts to its own directory.
type Recorder struct {
	mu          sync.Mutex
	dir         string
	matchID     string
	now         func() time.Time
	createdAt   time.Time
	eventFile   *os.File
	eventStream *snappy.Writer
	tickFile    *os.File
	tickStream  *zstd.Encoder
	pending     []tickBlob
	lastFlush   time.Time
	tickCount   uint64
	closed      bool
}

// RecorderOption configures optional recorder behaviour.
type RecorderOption func(*Recorder)

// WithRecorderClock injects a deterministic clock for tests.
func WithRecorderClock(clock func() time.Time) RecorderOption {
	return func(r *Recorder) {
		if clock != nil {
			r.now = clock
		}
	}
}

// NewRecorder opens the artefact streams for one match under baseDir.
func NewRecorder(baseDir, matchID string, opts ...RecorderOption) (*Recorder, error) {
	if baseDir == "" {
		return nil, errors.New("replay directory must not be empty")
	}
	cleaned := matchIDCleaner.ReplaceAllString(matchID, "_")
	if cleaned == "" {
		return nil, fmt.Errorf("match id %q produced an empty directory name", matchID)
	}
	dir := filepath.Join(baseDir, cleaned)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	recorder := &Recorder{
		dir:     dir,
		matchID: matchID,
		now:     time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(recorder)
		}
	}
	recorder.createdAt = recorder.now().UTC()
	recorder.lastFlush = recorder.createdAt

	eventFile, err := os.OpenFile(filepath.Join(dir, eventsFileName), os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	tickFile, err := os.OpenFile(filepath.Join(dir, ticksFileName), os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		_ = eventFile.Close()
		return nil, err
	}
	tickStream, err := zstd.NewWriter(tickFile)
	if err != nil {
		_ = eventFile.Close()
		_ = tickFile.Close()
		return nil, err
	}
	recorder.eventFile = eventFile
	recorder.eventStream = snappy.NewBufferedWriter(eventFile)
	recorder.tickFile = tickFile
	recorder.tickStream = tickStream
	return recorder, nil
}

// RecordEvent appends a lifecycle event to the snappy framed event stream.
func (r *Recorder) RecordEvent(kind string, payload []byte) error {
	if r == nil || kind == "" {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return errors.New("recorder already closed")
	}
	record := eventRecord{Kind: kind, CapturedAt: r.now().UTC(), Payload: payload}
	data, err := json.Marshal(record)
	if err != nil {
		return err
	}
	//1.- Length-prefix each record so readers can reframe the stream.
	var prefix [4]byte
	binary.BigEndian.PutUint32(prefix[:], uint32(len(data)))
	if _, err := r.eventStream.Write(prefix[:]); err != nil {
		return err
	}
	_, err = r.eventStream.Write(data)
	return err
}

// RecordTick buffers one tick snapshot; buffers are flushed on a cadence so
// the hot path stays off the disk.
func (r *Recorder) RecordTick(tick uint64, snapshot []byte) error {
	if r == nil || len(snapshot) == 0 {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return errors.New("recorder already closed")
	}
	r.pending = append(r.pending, tickBlob{tick: tick, payload: append([]byte(nil), snapshot...)})
	r.tickCount++
	//1.- Coalesce writes until the flush interval elapses.
	now := r.now()
	if now.Sub(r.lastFlush) < flushInterval {
		return nil
	}
	return r.flushLocked(now)
}

func (r *Recorder) flushLocked(now time.Time) error {
	for _, blob := range r.pending {
		var header [12]byte
		binary.BigEndian.PutUint64(header[:8], blob.tick)
		binary.BigEndian.PutUint32(header[8:], uint32(len(blob.payload)))
		if _, err := r.tickStream.Write(header[:]); err != nil {
			return err
		}
		if _, err := r.tickStream.Write(blob.payload); err != nil {
			return err
		}
	}
	r.pending = r.pending[:0]
	r.lastFlush = now
	return nil
}

// Close flushes both streams and writes the bundle manifest.
func (r *Recorder) Close() error {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true

	var firstErr error
	if err := r.flushLocked(r.now()); err != nil {
		firstErr = err
	}
	if err := r.eventStream.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := r.eventFile.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := r.tickStream.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := r.tickFile.Close(); err != nil && firstErr == nil {
		firstErr = err
	}

	//1.- The manifest lands last so its presence marks a complete bundle.
	manifest := Manifest{
		Version:    manifestVersion,
		MatchID:    r.matchID,
		CreatedAt:  r.createdAt.Format(time.RFC3339Nano),
		ClosedAt:   r.now().UTC().Format(time.RFC3339Nano),
		TickCount:  r.tickCount,
		EventsPath: eventsFileName,
		TicksPath:  ticksFileName,
	}
	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil && firstErr == nil {
		firstErr = err
	}
	if err == nil {
		if err := os.WriteFile(filepath.Join(r.dir, manifestFileName), data, 0o644); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Dir exposes the bundle directory, primarily for tests and tooling.
func (r *Recorder) Dir() string {
	if r == nil {
		return ""
	}
	return r.dir
}
