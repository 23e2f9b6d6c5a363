package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ahostbr/kuroryuu-public-sub001/internal/schedule"
	"github.com/ahostbr/kuroryuu-public-sub001/pkg/logx"
)

var (
	ErrNotFound = errors.New("not found")
	ErrClosed   = errors.New("store closed")
)

const (
	dataFileName  = "scheduler.json"
	backupDirName = "backups"
	backupPrefix  = "scheduler-"
	backupKeep    = 10

	// legacyRunsDir held per-run files in the pre-v1 storage format.
	legacyRunsDir = "runs"
)

type saveReq struct {
	payload []byte
	done    chan error
}

// Store owns the canonical in-memory SchedulerData and its durable JSON file.
//
// All mutation goes through Store. Physical writes are serialized through a
// single worker goroutine so overlapping Save calls execute strictly
// one-at-a-time and in call order.
type Store struct {
	log logx.Logger

	dataDir   string
	path      string
	backupDir string

	mu   sync.Mutex
	data *SchedulerData

	saveCh chan saveReq
	closed bool
	wg     sync.WaitGroup
}

func New(dataDir string, log logx.Logger) *Store {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Store{
		log:       log,
		dataDir:   dataDir,
		path:      filepath.Join(dataDir, dataFileName),
		backupDir: filepath.Join(dataDir, backupDirName),
		data:      defaultData(),
		saveCh:    make(chan saveReq, 64),
	}
}

// Initialize ensures the data and backup directories exist, removes leftovers
// of the legacy per-run storage format, starts the save worker, and loads the
// document.
func (s *Store) Initialize() error {
	if err := os.MkdirAll(s.dataDir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	if err := os.MkdirAll(s.backupDir, 0o755); err != nil {
		return fmt.Errorf("create backup dir: %w", err)
	}
	if err := os.RemoveAll(filepath.Join(s.dataDir, legacyRunsDir)); err != nil {
		s.log.Warn("legacy runs cleanup failed", logx.Err(err))
	}

	s.wg.Add(1)
	go s.saveWorker()

	return s.load()
}

// Close stops the save worker after draining queued writes.
func (s *Store) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	close(s.saveCh)
	s.mu.Unlock()
	s.wg.Wait()
}

// Path returns the canonical document path.
func (s *Store) Path() string { return s.path }

// load reads the JSON document. A missing file is first-run: defaults are
// persisted immediately. A corrupt file is left untouched on disk for manual
// recovery; defaults are used in memory only.
func (s *Store) load() error {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			s.log.Info("no scheduler data file, initializing defaults", logx.String("path", s.path))
			s.mu.Lock()
			s.data = defaultData()
			s.mu.Unlock()
			return s.Save()
		}
		s.log.Error("read scheduler data failed, using defaults in memory", logx.Err(err))
		return nil
	}

	var doc SchedulerData
	if err := json.Unmarshal(raw, &doc); err != nil {
		s.log.Error("scheduler data is unreadable; leaving file for recovery", logx.String("path", s.path), logx.Err(err))
		return nil
	}

	if doc.Version != SchemaVersion {
		s.log.Info("migrating scheduler data", logx.Int("from", doc.Version), logx.Int("to", SchemaVersion))
		migrate(&doc)
	}
	normalize(&doc)

	s.mu.Lock()
	s.data = &doc
	s.mu.Unlock()
	s.log.Info("scheduler data loaded", logx.Int("jobs", len(doc.Jobs)), logx.Int("events", len(doc.Events)))
	return nil
}

// migrate transforms an older document in memory. Migrations are additive:
// fields present in the document are preserved, missing sections backfilled.
func migrate(doc *SchedulerData) {
	// v1 -> v2: events collection and settings block introduced.
	if doc.Events == nil {
		doc.Events = []ScheduledEvent{}
	}
	if doc.Settings.MaxConcurrentJobs == 0 {
		doc.Settings = DefaultSettings()
	}
	doc.Version = SchemaVersion
}

func normalize(doc *SchedulerData) {
	if doc.Jobs == nil {
		doc.Jobs = []ScheduledJob{}
	}
	if doc.Events == nil {
		doc.Events = []ScheduledEvent{}
	}
	if doc.Settings.MaxConcurrentJobs <= 0 {
		doc.Settings = DefaultSettings()
	}
}

// Save serializes the current document and queues it for a physical write.
// It blocks until that write finished and returns its error. Writes are
// applied strictly in Save call order.
func (s *Store) Save() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	payload, err := json.MarshalIndent(s.data, "", "  ")
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("marshal scheduler data: %w", err)
	}
	req := saveReq{payload: payload, done: make(chan error, 1)}
	// Enqueue while holding the lock so queue order matches mutation order.
	s.saveCh <- req
	s.mu.Unlock()

	return <-req.done
}

func (s *Store) saveWorker() {
	defer s.wg.Done()
	for req := range s.saveCh {
		req.done <- s.writeFile(req.payload)
	}
}

// writeFile performs one physical save: back up the current file, write a temp
// file in the same directory, then atomically rename onto the canonical path.
func (s *Store) writeFile(payload []byte) error {
	if _, err := os.Stat(s.path); err == nil {
		if err := s.backupCurrent(); err != nil {
			s.log.Warn("backup before save failed", logx.Err(err))
		}
	}

	tmp := fmt.Sprintf("%s.tmp-%d", s.path, time.Now().UnixNano())
	if err := os.WriteFile(tmp, payload, 0o644); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("rename onto %s: %w", s.path, err)
	}
	return nil
}

func (s *Store) backupCurrent() error {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		return err
	}
	stamp := time.Now().UTC().Format("20060102-150405.000000000")
	name := backupPrefix + stamp + ".json"
	if err := os.WriteFile(filepath.Join(s.backupDir, name), raw, 0o644); err != nil {
		return err
	}
	return s.pruneBackups()
}

// pruneBackups keeps the most recent backupKeep files by reverse-sorted name;
// the timestamped names sort chronologically.
func (s *Store) pruneBackups() error {
	entries, err := os.ReadDir(s.backupDir)
	if err != nil {
		return err
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasPrefix(e.Name(), backupPrefix) {
			names = append(names, e.Name())
		}
	}
	if len(names) <= backupKeep {
		return nil
	}
	sort.Sort(sort.Reverse(sort.StringSlice(names)))
	for _, name := range names[backupKeep:] {
		if err := os.Remove(filepath.Join(s.backupDir, name)); err != nil {
			s.log.Warn("prune backup failed", logx.String("file", name), logx.Err(err))
		}
	}
	return nil
}

// ---- Jobs ----

func (s *Store) Jobs() []ScheduledJob {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ScheduledJob, len(s.data.Jobs))
	copy(out, s.data.Jobs)
	return out
}

func (s *Store) Job(id string) (ScheduledJob, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, j := range s.data.Jobs {
		if j.ID == id {
			return j, true
		}
	}
	return ScheduledJob{}, false
}

func (s *Store) AddJob(job ScheduledJob) error {
	s.mu.Lock()
	s.data.Jobs = append(s.data.Jobs, job)
	s.mu.Unlock()
	return s.Save()
}

// UpdateJob applies a shallow merge of the patch over the stored job and
// refreshes UpdatedAt. Returns ErrNotFound when the id is unknown.
func (s *Store) UpdateJob(id string, patch JobPatch) (ScheduledJob, error) {
	return s.MutateJob(id, patch.Apply)
}

// MutateJob re-reads the current record, applies fn to it, refreshes
// UpdatedAt, and persists. Callers that tolerate a concurrently deleted job
// check for ErrNotFound.
func (s *Store) MutateJob(id string, fn func(*ScheduledJob)) (ScheduledJob, error) {
	s.mu.Lock()
	idx := -1
	for i := range s.data.Jobs {
		if s.data.Jobs[i].ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		s.mu.Unlock()
		return ScheduledJob{}, ErrNotFound
	}
	fn(&s.data.Jobs[idx])
	s.data.Jobs[idx].UpdatedAt = time.Now().UnixMilli()
	out := s.data.Jobs[idx]
	s.mu.Unlock()

	if err := s.Save(); err != nil {
		return ScheduledJob{}, err
	}
	return out, nil
}

func (s *Store) DeleteJob(id string) error {
	s.mu.Lock()
	kept := s.data.Jobs[:0]
	found := false
	for _, j := range s.data.Jobs {
		if j.ID == id {
			found = true
			continue
		}
		kept = append(kept, j)
	}
	s.data.Jobs = kept
	s.mu.Unlock()
	if !found {
		return ErrNotFound
	}
	return s.Save()
}

// ---- Events ----

func (s *Store) Events() []ScheduledEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ScheduledEvent, len(s.data.Events))
	copy(out, s.data.Events)
	return out
}

func (s *Store) Event(id string) (ScheduledEvent, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.data.Events {
		if e.ID == id {
			return e, true
		}
	}
	return ScheduledEvent{}, false
}

func (s *Store) AddEvent(ev ScheduledEvent) error {
	s.mu.Lock()
	s.data.Events = append(s.data.Events, ev)
	s.mu.Unlock()
	return s.Save()
}

func (s *Store) UpdateEvent(id string, patch EventPatch) (ScheduledEvent, error) {
	return s.MutateEvent(id, func(e *ScheduledEvent) {
		if patch.Title != nil {
			e.Title = *patch.Title
		}
		if patch.Description != nil {
			e.Description = *patch.Description
		}
		if patch.Enabled != nil {
			e.Enabled = *patch.Enabled
		}
		if patch.Schedule != nil {
			e.Schedule = *patch.Schedule
		}
	})
}

func (s *Store) MutateEvent(id string, fn func(*ScheduledEvent)) (ScheduledEvent, error) {
	s.mu.Lock()
	idx := -1
	for i := range s.data.Events {
		if s.data.Events[i].ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		s.mu.Unlock()
		return ScheduledEvent{}, ErrNotFound
	}
	fn(&s.data.Events[idx])
	s.data.Events[idx].UpdatedAt = time.Now().UnixMilli()
	out := s.data.Events[idx]
	s.mu.Unlock()

	if err := s.Save(); err != nil {
		return ScheduledEvent{}, err
	}
	return out, nil
}

func (s *Store) DeleteEvent(id string) error {
	s.mu.Lock()
	kept := s.data.Events[:0]
	found := false
	for _, e := range s.data.Events {
		if e.ID == id {
			found = true
			continue
		}
		kept = append(kept, e)
	}
	s.data.Events = kept
	s.mu.Unlock()
	if !found {
		return ErrNotFound
	}
	return s.Save()
}

// ---- Settings ----

func (s *Store) Settings() SchedulerSettings {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.Settings
}

func (s *Store) UpdateSettings(patch SettingsPatch) (SchedulerSettings, error) {
	s.mu.Lock()
	if patch.Enabled != nil {
		s.data.Settings.Enabled = *patch.Enabled
	}
	if patch.MaxConcurrentJobs != nil && *patch.MaxConcurrentJobs > 0 {
		s.data.Settings.MaxConcurrentJobs = *patch.MaxConcurrentJobs
	}
	if patch.HistoryRetentionDays != nil && *patch.HistoryRetentionDays > 0 {
		s.data.Settings.HistoryRetentionDays = *patch.HistoryRetentionDays
	}
	if patch.DefaultNotifyOnError != nil {
		s.data.Settings.DefaultNotifyOnError = *patch.DefaultNotifyOnError
	}
	out := s.data.Settings
	s.mu.Unlock()

	if err := s.Save(); err != nil {
		return SchedulerSettings{}, err
	}
	return out, nil
}

// RecomputeNextRuns refreshes NextRun for every enabled, non-paused job and
// every enabled event relative to the given time. Used at engine start to
// repair drift accumulated while the scheduler was not running.
func (s *Store) RecomputeNextRuns(now time.Time) error {
	s.mu.Lock()
	for i := range s.data.Jobs {
		j := &s.data.Jobs[i]
		if !j.Enabled || j.Status == JobPaused {
			continue
		}
		j.NextRun = schedule.NextRunMillis(j.Schedule, now)
	}
	for i := range s.data.Events {
		e := &s.data.Events[i]
		if !e.Enabled {
			continue
		}
		e.NextRun = schedule.NextRunMillis(e.Schedule, now)
	}
	s.mu.Unlock()
	return s.Save()
}
