package syncer

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

const stateFile = "state.json"

// PageOutcome records what happened to one page during a run.
type PageOutcome string

const (
	OutcomeUpdated     PageOutcome = "updated"
	OutcomeCreated     PageOutcome = "created"
	OutcomeNotText     PageOutcome = "not-text"
	OutcomeWouldUpdate PageOutcome = "would-update"
	OutcomeTaskGone    PageOutcome = "task-gone"
)

// RunState is the persistent record of a sync run.
type RunState struct {
	Projects   []string              `json:"projects"`
	StartedAt  time.Time             `json:"started_at"`
	FinishedAt *time.Time            `json:"finished_at,omitempty"`
	Status     string                `json:"status"` // "running", "completed"
	DryRun     bool                  `json:"dry_run"`
	Pages      map[string]*PageState `json:"pages"`

	mu      sync.Mutex `json:"-"`
	path    string     `json:"-"`
	discard bool       `json:"-"`
}

// PageState is the persistent record of a single page.
type PageState struct {
	TaskID  int         `json:"task_id"`
	Outcome PageOutcome `json:"outcome"`
}

// NewRunState creates a run state under dir and persists it.
func NewRunState(dir string, projects []string, dryRun bool) (*RunState, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}

	s := &RunState{
		Projects:  projects,
		StartedAt: time.Now(),
		Status:    "running",
		DryRun:    dryRun,
		Pages:     make(map[string]*PageState),
		path:      filepath.Join(dir, stateFile),
	}

	if err := s.Save(); err != nil {
		return nil, err
	}
	return s, nil
}

// LoadRunState reads a previously persisted run state under dir.
func LoadRunState(dir string) (*RunState, error) {
	path := filepath.Join(dir, stateFile)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read state: %w", err)
	}

	var s RunState
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse state: %w", err)
	}
	s.path = path
	return &s, nil
}

// discardedRunState is a no-op sink used when persistence is disabled
// or unavailable.
func discardedRunState() *RunState {
	return &RunState{Pages: make(map[string]*PageState), discard: true}
}

// Save persists the current state to disk.
func (s *RunState) Save() error {
	if s.discard {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}
	return os.WriteFile(s.path, data, 0644)
}

// SetPage records the outcome for one page. The write is deferred to
// Finish so a run does not rewrite the file per page.
func (s *RunState) SetPage(key string, ps *PageState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Pages[key] = ps
}

// Finish marks the run completed and saves.
func (s *RunState) Finish() error {
	s.mu.Lock()
	now := time.Now()
	s.FinishedAt = &now
	s.Status = "completed"
	s.mu.Unlock()
	return s.Save()
}
