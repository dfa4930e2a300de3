package store

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"
)

const (
	probesBucket   = "probes"
	runsBucket     = "show_runs"
	openRunsBucket = "open_runs" // run key -> run ID, open runs only
	logsBucket     = "log_entries"
	healthBucket   = "job_health"
	marathonBucket = "marathons"
	showsBucket    = "shows"
)

var allBuckets = []string{
	probesBucket, runsBucket, openRunsBucket, logsBucket,
	healthBucket, marathonBucket, showsBucket,
}

// BoltStore implements the Store interface using BoltDB.
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore creates a new BoltDB-backed store at the given path.
func NewBoltStore(path string) (Store, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open boltdb at %s: %w", path, err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range allBuckets {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return fmt.Errorf("create %s bucket: %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

// probeKey orders probes by capture time; the ID suffix keeps keys unique
// when two probes share a timestamp.
func probeKey(p *ProbeResult) []byte {
	return []byte(p.CapturedAt.UTC().Format(time.RFC3339Nano) + "|" + p.ID)
}

// SaveProbe appends a probe result to the history.
func (s *BoltStore) SaveProbe(p *ProbeResult) error {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	if p.CapturedAt.IsZero() {
		return fmt.Errorf("captured_at is required")
	}

	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal probe: %w", err)
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(probesBucket)).Put(probeKey(p), data)
	})
}

// RecentProbes returns up to limit probes, newest first.
func (s *BoltStore) RecentProbes(limit int) ([]*ProbeResult, error) {
	if limit <= 0 {
		limit = 100
	}

	var probes []*ProbeResult
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket([]byte(probesBucket)).Cursor()
		for k, v := c.Last(); k != nil && len(probes) < limit; k, v = c.Prev() {
			p := &ProbeResult{}
			if err := json.Unmarshal(v, p); err != nil {
				return fmt.Errorf("unmarshal probe %s: %w", string(k), err)
			}
			probes = append(probes, p)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return probes, nil
}

// GetOrCreateOpenRun returns the open run for the given show/host key,
// creating one if none exists. The open-run index is maintained inside
// the same transaction, so concurrent callers observe one run per key.
func (s *BoltStore) GetOrCreateOpenRun(showName, djFirst, djLast string, now time.Time) (*ShowRun, error) {
	var run *ShowRun
	err := s.db.Update(func(tx *bolt.Tx) error {
		runs := tx.Bucket([]byte(runsBucket))
		open := tx.Bucket([]byte(openRunsBucket))

		key := []byte(RunKey(showName, djFirst, djLast))
		if runID := open.Get(key); runID != nil {
			data := runs.Get(runID)
			if data != nil {
				run = &ShowRun{}
				if err := json.Unmarshal(data, run); err != nil {
					return fmt.Errorf("unmarshal run %s: %w", string(runID), err)
				}
				if run.IsOpen() {
					return nil
				}
				// Stale index entry for an ended run: fall through and
				// create a fresh one.
			}
		}

		run = &ShowRun{
			ID:        uuid.New().String(),
			ShowName:  showName,
			DJFirst:   djFirst,
			DJLast:    djLast,
			StartedAt: now,
		}
		data, err := json.Marshal(run)
		if err != nil {
			return fmt.Errorf("marshal run: %w", err)
		}
		if err := runs.Put([]byte(run.ID), data); err != nil {
			return fmt.Errorf("put run: %w", err)
		}
		return open.Put(key, []byte(run.ID))
	})
	if err != nil {
		return nil, err
	}
	return run, nil
}

// UpdateRun overwrites an existing run record.
func (s *BoltStore) UpdateRun(run *ShowRun) error {
	if run.ID == "" {
		return fmt.Errorf("run id is required")
	}
	data, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("marshal run: %w", err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		runs := tx.Bucket([]byte(runsBucket))
		if runs.Get([]byte(run.ID)) == nil {
			return fmt.Errorf("run %s: %w", run.ID, ErrNotFound)
		}
		return runs.Put([]byte(run.ID), data)
	})
}

// EndRun closes an open run. Ending an already-ended run is a no-op.
func (s *BoltStore) EndRun(runID string, now time.Time) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		runs := tx.Bucket([]byte(runsBucket))
		data := runs.Get([]byte(runID))
		if data == nil {
			return fmt.Errorf("run %s: %w", runID, ErrNotFound)
		}
		run := &ShowRun{}
		if err := json.Unmarshal(data, run); err != nil {
			return fmt.Errorf("unmarshal run %s: %w", runID, err)
		}
		if !run.IsOpen() {
			return nil
		}
		run.EndedAt = now

		updated, err := json.Marshal(run)
		if err != nil {
			return fmt.Errorf("marshal run: %w", err)
		}
		if err := runs.Put([]byte(runID), updated); err != nil {
			return fmt.Errorf("put run: %w", err)
		}
		return tx.Bucket([]byte(openRunsBucket)).Delete([]byte(run.Key()))
	})
}

// RecentRuns returns up to limit runs, newest first by start time.
func (s *BoltStore) RecentRuns(limit int) ([]*ShowRun, error) {
	if limit <= 0 {
		limit = 100
	}

	var runs []*ShowRun
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(runsBucket)).ForEach(func(k, v []byte) error {
			run := &ShowRun{}
			if err := json.Unmarshal(v, run); err != nil {
				return fmt.Errorf("unmarshal run %s: %w", string(k), err)
			}
			runs = append(runs, run)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(runs, func(i, j int) bool {
		return runs[i].StartedAt.After(runs[j].StartedAt)
	})
	if len(runs) > limit {
		runs = runs[:limit]
	}
	return runs, nil
}

// AppendLog stores a log entry in the per-run sub-bucket.
func (s *BoltStore) AppendLog(entry *LogEntry) error {
	if entry.ShowRunID == "" {
		return fmt.Errorf("show_run_id is required")
	}
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal log entry: %w", err)
	}
	key := []byte(entry.At.UTC().Format(time.RFC3339Nano) + "|" + entry.ID)

	return s.db.Update(func(tx *bolt.Tx) error {
		logs := tx.Bucket([]byte(logsBucket))
		runLogs, err := logs.CreateBucketIfNotExists([]byte(entry.ShowRunID))
		if err != nil {
			return fmt.Errorf("create log bucket %s: %w", entry.ShowRunID, err)
		}
		return runLogs.Put(key, data)
	})
}

// RunLogs returns up to limit log entries for a run, newest first.
func (s *BoltStore) RunLogs(runID string, limit int) ([]*LogEntry, error) {
	if limit <= 0 {
		limit = 100
	}

	var entries []*LogEntry
	err := s.db.View(func(tx *bolt.Tx) error {
		runLogs := tx.Bucket([]byte(logsBucket)).Bucket([]byte(runID))
		if runLogs == nil {
			return nil
		}
		c := runLogs.Cursor()
		for k, v := c.Last(); k != nil && len(entries) < limit; k, v = c.Prev() {
			entry := &LogEntry{}
			if err := json.Unmarshal(v, entry); err != nil {
				return fmt.Errorf("unmarshal log entry %s: %w", string(k), err)
			}
			entries = append(entries, entry)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// MutateJobHealth applies fn to the named job's health record inside a
// single transaction, creating the record with zero counters first if it
// does not exist.
func (s *BoltStore) MutateJobHealth(name string, fn func(*JobHealthRecord)) (*JobHealthRecord, error) {
	if name == "" {
		return nil, fmt.Errorf("job name is required")
	}

	var rec *JobHealthRecord
	err := s.db.Update(func(tx *bolt.Tx) error {
		health := tx.Bucket([]byte(healthBucket))

		rec = &JobHealthRecord{Name: name}
		if data := health.Get([]byte(name)); data != nil {
			if err := json.Unmarshal(data, rec); err != nil {
				return fmt.Errorf("unmarshal job health %s: %w", name, err)
			}
		}

		fn(rec)

		data, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("marshal job health: %w", err)
		}
		return health.Put([]byte(name), data)
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// JobHealthSnapshot returns every known job's counters.
func (s *BoltStore) JobHealthSnapshot() (map[string]*JobHealthRecord, error) {
	snapshot := make(map[string]*JobHealthRecord)
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(healthBucket)).ForEach(func(k, v []byte) error {
			rec := &JobHealthRecord{}
			if err := json.Unmarshal(v, rec); err != nil {
				return fmt.Errorf("unmarshal job health %s: %w", string(k), err)
			}
			snapshot[rec.Name] = rec
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return snapshot, nil
}

// ResetJobHealth removes a job's health record. Administrative use only.
func (s *BoltStore) ResetJobHealth(name string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(healthBucket)).Delete([]byte(name))
	})
}

// SaveMarathon upserts a marathon event.
func (s *BoltStore) SaveMarathon(ev *MarathonEvent) error {
	if ev.ID == "" {
		return fmt.Errorf("marathon id is required")
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal marathon: %w", err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(marathonBucket)).Put([]byte(ev.ID), data)
	})
}

// GetMarathon retrieves a marathon event by ID.
func (s *BoltStore) GetMarathon(id string) (*MarathonEvent, error) {
	var ev *MarathonEvent
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket([]byte(marathonBucket)).Get([]byte(id))
		if data == nil {
			return fmt.Errorf("marathon %s: %w", id, ErrNotFound)
		}
		ev = &MarathonEvent{}
		return json.Unmarshal(data, ev)
	})
	if err != nil {
		return nil, err
	}
	return ev, nil
}

// ListMarathons returns all marathon events ordered by start time.
func (s *BoltStore) ListMarathons() ([]*MarathonEvent, error) {
	var events []*MarathonEvent
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(marathonBucket)).ForEach(func(k, v []byte) error {
			ev := &MarathonEvent{}
			if err := json.Unmarshal(v, ev); err != nil {
				return fmt.Errorf("unmarshal marathon %s: %w", string(k), err)
			}
			events = append(events, ev)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(events, func(i, j int) bool {
		return events[i].StartTime.Before(events[j].StartTime)
	})
	return events, nil
}

// PutShow upserts a scheduled show definition.
func (s *BoltStore) PutShow(show *ScheduledShow) error {
	if show.ID == "" {
		return fmt.Errorf("show id is required")
	}
	data, err := json.Marshal(show)
	if err != nil {
		return fmt.Errorf("marshal show: %w", err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(showsBucket)).Put([]byte(show.ID), data)
	})
}

// ListShows returns all scheduled show definitions.
func (s *BoltStore) ListShows() ([]*ScheduledShow, error) {
	var shows []*ScheduledShow
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(showsBucket)).ForEach(func(k, v []byte) error {
			show := &ScheduledShow{}
			if err := json.Unmarshal(v, show); err != nil {
				return fmt.Errorf("unmarshal show %s: %w", string(k), err)
			}
			shows = append(shows, show)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(shows, func(i, j int) bool { return shows[i].ID < shows[j].ID })
	return shows, nil
}

// DeleteShow removes a scheduled show definition.
func (s *BoltStore) DeleteShow(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(showsBucket)).Delete([]byte(id))
	})
}

// Close releases resources held by the store.
func (s *BoltStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
