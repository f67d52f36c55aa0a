package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"punchbot/internal/journal"
	"punchbot/pkg/logx"
)

// fileStore is a dependency-free persistence backend.
//
// Files:
//   - <prefix>.state.json     (schedules + settings snapshot)
//   - <prefix>.outcomes.jsonl (append-only JSON Lines, compacted when it
//     grows past twice the configured capacity)
type fileStore struct {
	log logx.Logger

	mu sync.Mutex

	statePath    string
	outcomesPath string

	schedules map[string]ScheduleState
	settings  map[string]string

	outcomeLines int
}

type stateSnapshot struct {
	Schedules map[string]ScheduleState `json:"schedules"`
	Settings  map[string]string        `json:"settings"`
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}

	dir := filepath.Dir(path)
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(filepath.Base(path)))
	prefix := filepath.Join(dir, base)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	st := &fileStore{
		log:          log,
		statePath:    prefix + ".state.json",
		outcomesPath: prefix + ".outcomes.jsonl",
		schedules:    map[string]ScheduleState{},
		settings:     map[string]string{},
	}
	if err := st.loadState(); err != nil {
		return nil, err
	}
	st.outcomeLines = countLines(st.outcomesPath)
	return st, nil
}

func (s *fileStore) Close() error { return nil }

func (s *fileStore) loadState() error {
	b, err := os.ReadFile(s.statePath)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	var snap stateSnapshot
	if err := json.Unmarshal(b, &snap); err != nil {
		return err
	}
	if snap.Schedules != nil {
		s.schedules = snap.Schedules
	}
	if snap.Settings != nil {
		s.settings = snap.Settings
	}
	return nil
}

// saveStateLocked writes the snapshot through a temp file so a crash
// mid-write never leaves a torn state file.
func (s *fileStore) saveStateLocked() error {
	snap := stateSnapshot{Schedules: s.schedules, Settings: s.settings}
	b, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return err
	}
	tmp := s.statePath + ".tmp"
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, s.statePath)
}

func (s *fileStore) GetSchedule(_ context.Context, name string) (ScheduleState, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.schedules[name]
	return st, ok, nil
}

func (s *fileStore) PutSchedule(_ context.Context, st ScheduleState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.schedules[st.Name] = st
	return s.saveStateLocked()
}

func (s *fileStore) GetSetting(_ context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.settings[key]
	return v, ok, nil
}

func (s *fileStore) PutSetting(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings[key] = value
	return s.saveStateLocked()
}

func (s *fileStore) AppendOutcome(_ context.Context, e journal.Entry, capacity int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.OpenFile(s.outcomesPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(f)
	if err := enc.Encode(e); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	s.outcomeLines++

	if capacity > 0 && s.outcomeLines > capacity*2 {
		return s.compactOutcomesLocked(capacity)
	}
	return nil
}

func (s *fileStore) RecentOutcomes(_ context.Context, n int) ([]journal.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	all, err := readOutcomes(s.outcomesPath)
	if err != nil {
		return nil, err
	}
	// File order is oldest->newest; callers expect newest first.
	out := make([]journal.Entry, 0, n)
	for i := len(all) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, all[i])
	}
	return out, nil
}

func (s *fileStore) compactOutcomesLocked(capacity int) error {
	all, err := readOutcomes(s.outcomesPath)
	if err != nil {
		return err
	}
	if len(all) > capacity {
		all = all[len(all)-capacity:]
	}

	tmp := s.outcomesPath + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(f)
	for _, e := range all {
		if err := enc.Encode(e); err != nil {
			_ = f.Close()
			return err
		}
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.outcomesPath); err != nil {
		return err
	}
	s.outcomeLines = len(all)
	return nil
}

func readOutcomes(path string) ([]journal.Entry, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var out []journal.Entry
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		var e journal.Entry
		if err := json.Unmarshal([]byte(line), &e); err != nil {
			// Skip torn trailing writes instead of poisoning the whole log.
			continue
		}
		out = append(out, e)
	}
	return out, sc.Err()
}

func countLines(path string) int {
	f, err := os.Open(path)
	if err != nil {
		return 0
	}
	defer f.Close()
	n := 0
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		n++
	}
	return n
}
