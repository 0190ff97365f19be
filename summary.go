package foreach

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/samber/lo"
)

// RunResult is the outcome of processing a single document
type RunResult struct {
	ID       string `json:"id"`
	Kind     Kind   `json:"kind"`
	Success  bool   `json:"success"`
	Attempts int    `json:"attempts,omitempty"`
	Err      error  `json:"-"`
}

// MarshalJSON includes the error message
func (r RunResult) MarshalJSON() ([]byte, error) {
	type alias RunResult
	var msg string
	if r.Err != nil {
		msg = r.Err.Error()
	}
	return json.Marshal(struct {
		alias
		Error string `json:"error,omitempty"`
	}{alias(r), msg})
}

// Summary aggregates the results of a run. Counters per kind count successful outcomes only;
// every unsuccessful outcome is counted in Failed.
type Summary struct {
	mu          sync.RWMutex
	RunID       string      `json:"runId"`
	Processed   int         `json:"processed"`
	NoOps       int         `json:"noops"`
	Deleted     int         `json:"deleted"`
	Replaced    int         `json:"replaced"`
	Logged      int         `json:"logged"`
	Failed      int         `json:"failed"`
	Failures    []RunResult `json:"failures,omitempty"`
	Checkpoint  string      `json:"checkpoint,omitempty"`
	Aborted     bool        `json:"aborted"`
	Interrupted bool        `json:"interrupted"`
	Started     time.Time   `json:"started"`
	Finished    time.Time   `json:"finished"`
}

func newSummary(runID string) *Summary {
	return &Summary{RunID: runID, Started: time.Now()}
}

// add records the result and returns the number of documents processed so far
func (s *Summary) add(result RunResult) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Processed++
	if !result.Success {
		s.Failed++
		s.Failures = append(s.Failures, result)
		return s.Processed
	}
	switch result.Kind {
	case NoOp:
		s.NoOps++
	case Delete:
		s.Deleted++
	case Replace:
		s.Replaced++
	case Log:
		s.Logged++
	}
	return s.Processed
}

func (s *Summary) setCheckpoint(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Checkpoint = token
}

func (s *Summary) finish(aborted, interrupted bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Aborted = aborted
	s.Interrupted = interrupted
	s.Finished = time.Now()
}

// FailedIDs returns the ids of the documents that failed
func (s *Summary) FailedIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return lo.Map(s.Failures, func(r RunResult, _ int) string {
		return r.ID
	})
}

// Tags returns the summary counters as log tags
func (s *Summary) Tags() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return map[string]any{
		"run_id":    s.RunID,
		"processed": s.Processed,
		"noops":     s.NoOps,
		"deleted":   s.Deleted,
		"replaced":  s.Replaced,
		"logged":    s.Logged,
		"failed":    s.Failed,
	}
}

// MarshalJSON encodes a consistent snapshot of the summary
func (s *Summary) MarshalJSON() ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	type snapshot struct {
		RunID       string      `json:"runId"`
		Processed   int         `json:"processed"`
		NoOps       int         `json:"noops"`
		Deleted     int         `json:"deleted"`
		Replaced    int         `json:"replaced"`
		Logged      int         `json:"logged"`
		Failed      int         `json:"failed"`
		Failures    []RunResult `json:"failures,omitempty"`
		Checkpoint  string      `json:"checkpoint,omitempty"`
		Aborted     bool        `json:"aborted"`
		Interrupted bool        `json:"interrupted"`
		Started     time.Time   `json:"started"`
		Finished    time.Time   `json:"finished"`
		Elapsed     string      `json:"elapsed"`
	}
	return json.Marshal(snapshot{
		RunID:       s.RunID,
		Processed:   s.Processed,
		NoOps:       s.NoOps,
		Deleted:     s.Deleted,
		Replaced:    s.Replaced,
		Logged:      s.Logged,
		Failed:      s.Failed,
		Failures:    s.Failures,
		Checkpoint:  s.Checkpoint,
		Aborted:     s.Aborted,
		Interrupted: s.Interrupted,
		Started:     s.Started,
		Finished:    s.Finished,
		Elapsed:     s.Finished.Sub(s.Started).String(),
	})
}
