package ingest

import (
	"sync"
	"time"
)

// Job states as reported by the progress endpoint.
const (
	StateIdle      = "idle"
	StateRunning   = "running"
	StateDone      = "done"
	StateCancelled = "cancelled"
	StateError     = "error"
)

// Progress is a point-in-time snapshot of the current or last ingest job.
type Progress struct {
	State      string `json:"state"`
	Kind       string `json:"kind"`
	Root       string `json:"root,omitempty"`
	Total      int64  `json:"total"`
	Processed  int64  `json:"processed"`
	Inserted   int64  `json:"inserted"`
	Skipped    int64  `json:"skipped"`
	Note       string `json:"note,omitempty"`
	Error      string `json:"error,omitempty"`
	StartedAt  int64  `json:"started_at,omitempty"`
	FinishedAt int64  `json:"finished_at,omitempty"`
}

// Tracker accumulates ingest counters behind a single mutex so readers
// always see a consistent snapshot.
type Tracker struct {
	mu  sync.Mutex
	cur Progress
}

func NewTracker() *Tracker {
	return &Tracker{cur: Progress{State: StateIdle, Kind: StateIdle}}
}

// Start resets all counters and marks a new job of the given kind
// running. Counters from the previous job are discarded.
func (t *Tracker) Start(kind, root string, total int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cur = Progress{
		State:     StateRunning,
		Kind:      kind,
		Root:      root,
		Total:     total,
		StartedAt: time.Now().UnixMilli(),
	}
}

// SetTotal records the discovered file count once enumeration finishes.
func (t *Tracker) SetTotal(total int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cur.Total = total
}

// Step records the outcome of one processed file. note is the file's
// locator and is overwritten on every call.
func (t *Tracker) Step(note string, inserted bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cur.Processed++
	t.cur.Note = note
	if inserted {
		t.cur.Inserted++
	} else {
		t.cur.Skipped++
	}
}

// Finish marks the job completed.
func (t *Tracker) Finish() {
	t.finish(StateDone, "")
}

// Cancel marks the job cancelled. Counters reflect work done before the
// cancellation took effect.
func (t *Tracker) Cancel() {
	t.finish(StateCancelled, "")
}

// Fail marks the job failed with the given error message.
func (t *Tracker) Fail(msg string) {
	t.finish(StateError, msg)
}

func (t *Tracker) finish(state, msg string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cur.State = state
	t.cur.Error = msg
	t.cur.FinishedAt = time.Now().UnixMilli()
}

// Snapshot returns a copy of the current progress.
func (t *Tracker) Snapshot() Progress {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cur
}
