// Package checkpoint persists the progress of probe runs so an interrupted
// range can be resumed without re-requesting values already probed.
//
// Checkpoints are JSON files named {run_id}.json inside a project's
// testing/checkpoints directory. Writes go through a temp file and rename, so
// a crash mid-save leaves the previous checkpoint intact.
//
// Resume with the full run ID or any unique suffix of it:
//
//	paramhunt idor resume 1f3a9c2e
package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/CodeMonkeyCybersecurity/paramhunt/internal/core"
	"github.com/CodeMonkeyCybersecurity/paramhunt/internal/probe"
)

// State is a saved probe run.
type State struct {
	RunID     string    `json:"run_id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// ParameterID is the stored parameter the run targets; zero when the run
	// was started from a bare template.
	ParameterID int64  `json:"parameter_id,omitempty"`
	Identity    string `json:"identity,omitempty"`

	Template  string `json:"template"`
	ParamName string `json:"param_name"`
	Start     int64  `json:"start"`
	End       int64  `json:"end"`
	NonOwning bool   `json:"non_owning"`

	Completed bool           `json:"completed"`
	Results   []probe.Result `json:"results,omitempty"`
}

// NewState starts a checkpoint for plan.
func NewState(runID string, plan probe.Plan) *State {
	now := time.Now().UTC()
	return &State{
		RunID:     runID,
		CreatedAt: now,
		UpdatedAt: now,
		Template:  plan.Template,
		ParamName: plan.ParamName,
		Start:     plan.Start,
		End:       plan.End,
		NonOwning: plan.NonOwning,
	}
}

// Plan rebuilds the probe plan with completed results marked as done.
func (s *State) Plan() probe.Plan {
	done := make([]probe.Result, len(s.Results))
	copy(done, s.Results)
	return probe.Plan{
		Template:  s.Template,
		ParamName: s.ParamName,
		Start:     s.Start,
		End:       s.End,
		NonOwning: s.NonOwning,
		Done:      done,
	}
}

// Progress is the completed share of the range in percent.
func (s *State) Progress() float64 {
	total := probe.RangeSize(s.Start, s.End)
	if total == 0 {
		return 0
	}
	return float64(len(s.Results)) / float64(total) * 100
}

func (s *State) Validate() error {
	if s.RunID == "" {
		return fmt.Errorf("invalid checkpoint: empty run_id")
	}
	if s.Template == "" {
		return fmt.Errorf("invalid checkpoint: empty template")
	}
	if s.Start > s.End {
		return fmt.Errorf("invalid checkpoint: start %d after end %d", s.Start, s.End)
	}
	if s.CreatedAt.IsZero() || s.UpdatedAt.IsZero() {
		return fmt.Errorf("invalid checkpoint: zero timestamp")
	}
	if s.UpdatedAt.Before(s.CreatedAt) {
		return fmt.Errorf("invalid checkpoint: updated_at before created_at")
	}
	size := probe.RangeSize(s.Start, s.End)
	if size == math.MaxInt64 {
		return fmt.Errorf("invalid checkpoint: range [%d, %d] is too large", s.Start, s.End)
	}
	if int64(len(s.Results)) > size {
		return fmt.Errorf("invalid checkpoint: %d results for a range of %d", len(s.Results), size)
	}
	for _, r := range s.Results {
		if r.Value < s.Start || r.Value > s.End {
			return fmt.Errorf("invalid checkpoint: result value %d outside range", r.Value)
		}
	}
	return nil
}

// Manager handles checkpoint storage and retrieval
type Manager struct {
	checkpointDir string
}

// NewManager stores checkpoints in dir, creating it if needed.
func NewManager(dir string) (*Manager, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create checkpoint directory: %w", err)
	}
	return &Manager{checkpointDir: dir}, nil
}

func (m *Manager) Dir() string {
	return m.checkpointDir
}

// Path is the file a run's checkpoint is saved to.
func (m *Manager) Path(runID string) string {
	return filepath.Join(m.checkpointDir, runID+".json")
}

// Save writes state atomically.
func (m *Manager) Save(ctx context.Context, state *State) error {
	if state.RunID == "" {
		return fmt.Errorf("checkpoint state must have a run_id")
	}

	state.UpdatedAt = time.Now().UTC()

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal checkpoint state: %w", err)
	}

	finalFilename := m.Path(state.RunID)
	tempFilename := filepath.Join(m.checkpointDir, "."+state.RunID+".json.tmp")

	// 0600: checkpoints hold target URLs and response fingerprints.
	if err := os.WriteFile(tempFilename, data, 0o600); err != nil {
		return fmt.Errorf("failed to write temp checkpoint file: %w", err)
	}
	if err := os.Rename(tempFilename, finalFilename); err != nil {
		os.Remove(tempFilename)
		return fmt.Errorf("failed to atomically save checkpoint: %w", err)
	}
	return nil
}

// Load reads a checkpoint by full run ID or unique suffix.
func (m *Manager) Load(ctx context.Context, runID string) (*State, error) {
	filename := m.Path(runID)

	if _, err := os.Stat(filename); errors.Is(err, os.ErrNotExist) {
		found, err := m.findBySuffix(runID)
		if err != nil {
			return nil, err
		}
		filename = found
	}

	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read checkpoint file: %w", err)
	}

	var state State
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("failed to unmarshal checkpoint: %w (file may be corrupted)", err)
	}
	if err := state.Validate(); err != nil {
		return nil, fmt.Errorf("checkpoint validation failed: %w", err)
	}
	return &state, nil
}

func (m *Manager) findBySuffix(suffix string) (string, error) {
	if suffix == "" {
		return "", fmt.Errorf("%w: empty checkpoint id", core.ErrNotFound)
	}

	files, err := os.ReadDir(m.checkpointDir)
	if err != nil {
		return "", fmt.Errorf("failed to read checkpoint directory: %w", err)
	}

	var matches []string
	for _, file := range files {
		name := file.Name()
		if file.IsDir() || strings.HasPrefix(name, ".") || filepath.Ext(name) != ".json" {
			continue
		}
		if strings.HasSuffix(strings.TrimSuffix(name, ".json"), suffix) {
			matches = append(matches, name)
		}
	}

	switch len(matches) {
	case 0:
		return "", fmt.Errorf("%w: checkpoint %s", core.ErrNotFound, suffix)
	case 1:
		return filepath.Join(m.checkpointDir, matches[0]), nil
	default:
		return "", fmt.Errorf("%w: checkpoint id %q is ambiguous (%d matches)", core.ErrValidation, suffix, len(matches))
	}
}

// List returns all readable checkpoints, most recently updated first.
// Corrupted files are skipped.
func (m *Manager) List(ctx context.Context) ([]State, error) {
	files, err := os.ReadDir(m.checkpointDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read checkpoint directory: %w", err)
	}

	var states []State
	for _, file := range files {
		name := file.Name()
		if file.IsDir() || strings.HasPrefix(name, ".") || filepath.Ext(name) != ".json" {
			continue
		}
		state, err := m.Load(ctx, strings.TrimSuffix(name, ".json"))
		if err != nil {
			continue
		}
		states = append(states, *state)
	}

	sort.Slice(states, func(i, j int) bool {
		return states[i].UpdatedAt.After(states[j].UpdatedAt)
	})
	return states, nil
}

func (m *Manager) Delete(ctx context.Context, runID string) error {
	filename := m.Path(runID)
	if err := os.Remove(filename); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: checkpoint %s", core.ErrNotFound, runID)
		}
		return fmt.Errorf("failed to delete checkpoint: %w", err)
	}
	return nil
}

// CleanupOld removes checkpoints not updated within maxAge.
func (m *Manager) CleanupOld(ctx context.Context, maxAge time.Duration) (int, error) {
	states, err := m.List(ctx)
	if err != nil {
		return 0, err
	}

	deleted := 0
	cutoff := time.Now().Add(-maxAge)
	for _, state := range states {
		if state.UpdatedAt.Before(cutoff) {
			if err := m.Delete(ctx, state.RunID); err != nil {
				continue
			}
			deleted++
		}
	}
	return deleted, nil
}
