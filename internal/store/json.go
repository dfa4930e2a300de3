package store

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// JSONStore implements the Store interface using a simple JSON file.
// All records are kept in memory and persisted to disk on each write.
// This implementation is suitable for small-scale deployments and testing.
type JSONStore struct {
	path      string
	probes    []*ProbeResult
	runs      map[string]*ShowRun
	openRuns  map[string]string // run key -> run ID
	logs      map[string][]*LogEntry
	health    map[string]*JobHealthRecord
	marathons map[string]*MarathonEvent
	shows     map[string]*ScheduledShow
	mu        sync.Mutex
}

// jsonPersistence is the on-disk format for the JSON store.
type jsonPersistence struct {
	Probes    []*ProbeResult              `json:"probes"`
	Runs      []*ShowRun                  `json:"runs"`
	Logs      map[string][]*LogEntry      `json:"logs"`
	Health    map[string]*JobHealthRecord `json:"health"`
	Marathons []*MarathonEvent            `json:"marathons"`
	Shows     []*ScheduledShow            `json:"shows"`
}

// NewJSONStore creates a new JSON file-backed store at the given path.
func NewJSONStore(path string) (Store, error) {
	s := &JSONStore{
		path:      path,
		runs:      make(map[string]*ShowRun),
		openRuns:  make(map[string]string),
		logs:      make(map[string][]*LogEntry),
		health:    make(map[string]*JobHealthRecord),
		marathons: make(map[string]*MarathonEvent),
		shows:     make(map[string]*ScheduledShow),
	}

	if _, err := os.Stat(path); err == nil {
		if err := s.load(); err != nil {
			return nil, fmt.Errorf("load existing data: %w", err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("stat file: %w", err)
	}

	return s, nil
}

// load reads the JSON file and populates the in-memory maps.
func (s *JSONStore) load() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return fmt.Errorf("read file: %w", err)
	}

	var persist jsonPersistence
	if err := json.Unmarshal(data, &persist); err != nil {
		return fmt.Errorf("unmarshal json: %w", err)
	}

	s.probes = persist.Probes
	for _, run := range persist.Runs {
		s.runs[run.ID] = run
		if run.IsOpen() {
			s.openRuns[run.Key()] = run.ID
		}
	}
	if persist.Logs != nil {
		s.logs = persist.Logs
	}
	if persist.Health != nil {
		s.health = persist.Health
	}
	for _, ev := range persist.Marathons {
		s.marathons[ev.ID] = ev
	}
	for _, show := range persist.Shows {
		s.shows[show.ID] = show
	}

	return nil
}

// save writes the in-memory state to the JSON file. Callers hold s.mu.
func (s *JSONStore) save() error {
	persist := jsonPersistence{
		Probes: s.probes,
		Logs:   s.logs,
		Health: s.health,
	}
	for _, run := range s.runs {
		persist.Runs = append(persist.Runs, run)
	}
	for _, ev := range s.marathons {
		persist.Marathons = append(persist.Marathons, ev)
	}
	for _, show := range s.shows {
		persist.Shows = append(persist.Shows, show)
	}

	data, err := json.MarshalIndent(persist, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal json: %w", err)
	}

	// Write to temp file first, then rename (atomic on POSIX)
	tmpPath := s.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o600); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		return fmt.Errorf("rename temp file: %w", err)
	}

	return nil
}

func (s *JSONStore) SaveProbe(p *ProbeResult) error {
	if p.CapturedAt.IsZero() {
		return fmt.Errorf("captured_at is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	s.probes = append(s.probes, p)
	return s.save()
}

func (s *JSONStore) RecentProbes(limit int) ([]*ProbeResult, error) {
	if limit <= 0 {
		limit = 100
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	probes := make([]*ProbeResult, len(s.probes))
	copy(probes, s.probes)
	sort.Slice(probes, func(i, j int) bool {
		return probes[i].CapturedAt.After(probes[j].CapturedAt)
	})
	if len(probes) > limit {
		probes = probes[:limit]
	}
	return probes, nil
}

func (s *JSONStore) GetOrCreateOpenRun(showName, djFirst, djLast string, now time.Time) (*ShowRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := RunKey(showName, djFirst, djLast)
	if runID, ok := s.openRuns[key]; ok {
		if run, ok := s.runs[runID]; ok && run.IsOpen() {
			return run, nil
		}
	}

	run := &ShowRun{
		ID:        uuid.New().String(),
		ShowName:  showName,
		DJFirst:   djFirst,
		DJLast:    djLast,
		StartedAt: now,
	}
	s.runs[run.ID] = run
	s.openRuns[key] = run.ID
	if err := s.save(); err != nil {
		return nil, err
	}
	return run, nil
}

func (s *JSONStore) UpdateRun(run *ShowRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.runs[run.ID]; !ok {
		return fmt.Errorf("run %s: %w", run.ID, ErrNotFound)
	}
	s.runs[run.ID] = run
	return s.save()
}

func (s *JSONStore) EndRun(runID string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	run, ok := s.runs[runID]
	if !ok {
		return fmt.Errorf("run %s: %w", runID, ErrNotFound)
	}
	if !run.IsOpen() {
		return nil
	}
	run.EndedAt = now
	delete(s.openRuns, run.Key())
	return s.save()
}

func (s *JSONStore) RecentRuns(limit int) ([]*ShowRun, error) {
	if limit <= 0 {
		limit = 100
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	runs := make([]*ShowRun, 0, len(s.runs))
	for _, run := range s.runs {
		runs = append(runs, run)
	}
	sort.Slice(runs, func(i, j int) bool {
		return runs[i].StartedAt.After(runs[j].StartedAt)
	})
	if len(runs) > limit {
		runs = runs[:limit]
	}
	return runs, nil
}

func (s *JSONStore) AppendLog(entry *LogEntry) error {
	if entry.ShowRunID == "" {
		return fmt.Errorf("show_run_id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	s.logs[entry.ShowRunID] = append(s.logs[entry.ShowRunID], entry)
	return s.save()
}

func (s *JSONStore) RunLogs(runID string, limit int) ([]*LogEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := make([]*LogEntry, len(s.logs[runID]))
	copy(entries, s.logs[runID])
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].At.After(entries[j].At)
	})
	if len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

func (s *JSONStore) MutateJobHealth(name string, fn func(*JobHealthRecord)) (*JobHealthRecord, error) {
	if name == "" {
		return nil, fmt.Errorf("job name is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.health[name]
	if !ok {
		rec = &JobHealthRecord{Name: name}
		s.health[name] = rec
	}
	fn(rec)
	if err := s.save(); err != nil {
		return nil, err
	}
	return rec, nil
}

func (s *JSONStore) JobHealthSnapshot() (map[string]*JobHealthRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := make(map[string]*JobHealthRecord, len(s.health))
	for name, rec := range s.health {
		clone := *rec
		snapshot[name] = &clone
	}
	return snapshot, nil
}

func (s *JSONStore) ResetJobHealth(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.health, name)
	return s.save()
}

func (s *JSONStore) SaveMarathon(ev *MarathonEvent) error {
	if ev.ID == "" {
		return fmt.Errorf("marathon id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.marathons[ev.ID] = ev
	return s.save()
}

func (s *JSONStore) GetMarathon(id string) (*MarathonEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ev, ok := s.marathons[id]
	if !ok {
		return nil, fmt.Errorf("marathon %s: %w", id, ErrNotFound)
	}
	return ev, nil
}

func (s *JSONStore) ListMarathons() ([]*MarathonEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	events := make([]*MarathonEvent, 0, len(s.marathons))
	for _, ev := range s.marathons {
		events = append(events, ev)
	}
	sort.Slice(events, func(i, j int) bool {
		return events[i].StartTime.Before(events[j].StartTime)
	})
	return events, nil
}

func (s *JSONStore) PutShow(show *ScheduledShow) error {
	if show.ID == "" {
		return fmt.Errorf("show id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.shows[show.ID] = show
	return s.save()
}

func (s *JSONStore) ListShows() ([]*ScheduledShow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	shows := make([]*ScheduledShow, 0, len(s.shows))
	for _, show := range s.shows {
		shows = append(shows, show)
	}
	sort.Slice(shows, func(i, j int) bool { return shows[i].ID < shows[j].ID })
	return shows, nil
}

func (s *JSONStore) DeleteShow(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.shows, id)
	return s.save()
}

// Close is a no-op for the JSON store; every write is already flushed.
func (s *JSONStore) Close() error {
	return nil
}
