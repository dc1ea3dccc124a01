// ABOUTME: Version store: one session's timeline plus its current pointer
// ABOUTME: Append-and-rewind history with a bug-free marker, guarded by one lock

package version

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Journal makes state changes durable. Append must not return until the
// event is on stable storage.
type Journal interface {
	Append(ev Event) error
	Checkpoint(snap Snapshot) error
}

// Option configures a VersionStore
type Option func(*VersionStore)

// WithClock sets the time source used for version timestamps
func WithClock(now func() time.Time) Option {
	return func(s *VersionStore) { s.now = now }
}

// WithSessionID fixes the session id instead of generating one
func WithSessionID(id string) Option {
	return func(s *VersionStore) { s.sessionID = id }
}

// WithLogger sets the store logger
func WithLogger(log zerolog.Logger) Option {
	return func(s *VersionStore) { s.log = log }
}

// WithJournal attaches a journal to a fresh store
func WithJournal(j Journal) Option {
	return func(s *VersionStore) { s.journal = j }
}

// VersionStore owns the session: the ordered versions, the current pointer
// and the id allocator. Every method holds mu for its whole duration, so the
// timeline and pointer always change together.
type VersionStore struct {
	mu        sync.Mutex
	sessionID string
	versions  []*Version
	current   int   // index into versions, -1 when unset
	lastID    int64 // highest id ever issued, survives undo
	bugFree   int
	journal   Journal
	onChange  func(total, bugFree int)
	now       func() time.Time
	log       zerolog.Logger
}

// NewVersionStore creates an empty session
func NewVersionStore(opts ...Option) *VersionStore {
	s := &VersionStore{
		sessionID: uuid.NewString(),
		current:   -1,
		now:       time.Now,
		log:       zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SessionID returns the session identifier
func (s *VersionStore) SessionID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessionID
}

// OnChange registers fn to run after every applied change. fn runs under the
// store lock, so calls arrive in commit order and see committed states only.
// fn must not call back into the store.
func (s *VersionStore) OnChange(fn func(total, bugFree int)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onChange = fn
}

// Step records a new version and makes it current
func (s *VersionStore) Step(codeText, note, errorType string) (*Version, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	v := &Version{
		VersionID: s.lastID + 1,
		Timestamp: s.now().UTC(),
		CodeText:  codeText,
		Note:      note,
		ErrorType: errorType,
	}

	ev := Event{Op: EventStep, Version: v}
	if err := s.commit(ev); err != nil {
		return nil, err
	}

	s.log.Debug().Int64("version_id", v.VersionID).Str("error_type", v.ErrorType).Msg("step recorded")
	return v.clone(), nil
}

// Timeline returns the current version and the full history, oldest first
func (s *VersionStore) Timeline() TimelineView {
	s.mu.Lock()
	defer s.mu.Unlock()

	view := TimelineView{
		SessionID: s.sessionID,
		Timeline:  s.copyVersions(),
	}
	if s.current >= 0 {
		view.Current = view.Timeline[s.current]
	}
	return view
}

// MarkBugFree flags a version as bug-free. Marking twice is a no-op.
func (s *VersionStore) MarkBugFree(id int64) (*Version, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.indexOf(id)
	if idx < 0 {
		return nil, notFound(fmt.Sprintf("version %d not found", id))
	}
	if s.versions[idx].BugFree {
		return s.versions[idx].clone(), nil
	}

	if err := s.commit(Event{Op: EventMarkBugFree, VersionID: id}); err != nil {
		return nil, err
	}

	s.log.Debug().Int64("version_id", id).Msg("version marked bug-free")
	return s.versions[idx].clone(), nil
}

// Undo discards the most recently created version and moves the pointer to
// the version created just before it, wherever the pointer was. Returns the
// current version afterwards, nil once the timeline is empty.
func (s *VersionStore) Undo() (*Version, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.versions) == 0 {
		return nil, invalidState("nothing to undo")
	}

	removed := s.versions[len(s.versions)-1].VersionID
	if err := s.commit(Event{Op: EventUndo, VersionID: removed}); err != nil {
		return nil, err
	}

	s.log.Debug().Int64("version_id", removed).Int("remaining", len(s.versions)).Msg("step undone")
	return s.currentLocked(), nil
}

// JumpBugFree moves the pointer to the newest bug-free version
func (s *VersionStore) JumpBugFree() (*Version, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := -1
	for i := len(s.versions) - 1; i >= 0; i-- {
		if s.versions[i].BugFree {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil, invalidState("no bug-free version found")
	}

	if idx != s.current {
		if err := s.commit(Event{Op: EventJump, VersionID: s.versions[idx].VersionID}); err != nil {
			return nil, err
		}
	}

	s.log.Debug().Int64("version_id", s.versions[idx].VersionID).Msg("jumped to bug-free version")
	return s.currentLocked(), nil
}

// Analytics computes the report over the whole timeline
func (s *VersionStore) Analytics() *Report {
	s.mu.Lock()
	versions := s.copyVersions()
	s.mu.Unlock()

	return BuildReport(versions)
}

// Counts returns the number of versions and how many are bug-free
func (s *VersionStore) Counts() (total, bugFree int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.versions), s.bugFree
}

// Compact writes the full state to the journal so older entries can be
// dropped. No-op without a journal.
func (s *VersionStore) Compact() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.journal == nil {
		return nil
	}
	if err := s.journal.Checkpoint(s.snapshotLocked()); err != nil {
		return transientIO("journal checkpoint failed", err)
	}
	return nil
}

// commit makes ev durable, then applies it. Nothing changes in memory when
// the journal write fails.
func (s *VersionStore) commit(ev Event) error {
	if s.journal != nil {
		if err := s.journal.Append(ev); err != nil {
			s.log.Error().Err(err).Str("op", string(ev.Op)).Msg("journal append failed")
			return transientIO("journal write failed", err)
		}
	}
	if err := s.apply(ev); err != nil {
		return err
	}
	if s.onChange != nil {
		s.onChange(len(s.versions), s.bugFree)
	}
	return nil
}

// apply mutates state for one event. Live operations validate first, so
// errors here only surface while replaying a journal.
func (s *VersionStore) apply(ev Event) error {
	switch ev.Op {
	case EventStep:
		if ev.Version == nil {
			return fmt.Errorf("step event without version")
		}
		if ev.Version.VersionID <= s.lastID {
			return fmt.Errorf("step id %d not above last id %d", ev.Version.VersionID, s.lastID)
		}
		s.versions = append(s.versions, ev.Version)
		s.current = len(s.versions) - 1
		s.lastID = ev.Version.VersionID

	case EventMarkBugFree:
		idx := s.indexOf(ev.VersionID)
		if idx < 0 {
			return notFound(fmt.Sprintf("version %d not found", ev.VersionID))
		}
		if !s.versions[idx].BugFree {
			s.versions[idx].BugFree = true
			s.bugFree++
		}

	case EventUndo:
		n := len(s.versions)
		if n == 0 {
			return invalidState("nothing to undo")
		}
		if tail := s.versions[n-1].VersionID; tail != ev.VersionID {
			return fmt.Errorf("undo of version %d but tail is %d", ev.VersionID, tail)
		}
		if s.versions[n-1].BugFree {
			s.bugFree--
		}
		s.versions[n-1] = nil
		s.versions = s.versions[:n-1]
		s.current = n - 2

	case EventJump:
		idx := s.indexOf(ev.VersionID)
		if idx < 0 {
			return notFound(fmt.Sprintf("version %d not found", ev.VersionID))
		}
		s.current = idx

	default:
		return fmt.Errorf("unknown event %q", ev.Op)
	}
	return nil
}

// restore replaces the state with a snapshot
func (s *VersionStore) restore(snap Snapshot) error {
	versions := make([]*Version, 0, len(snap.Versions))
	current := -1
	bugFree := 0
	var prev int64
	for i, v := range snap.Versions {
		if v.VersionID <= prev {
			return fmt.Errorf("snapshot ids out of order at %d", v.VersionID)
		}
		if v.VersionID > snap.LastID {
			return fmt.Errorf("snapshot id %d above last id %d", v.VersionID, snap.LastID)
		}
		prev = v.VersionID
		if v.BugFree {
			bugFree++
		}
		if v.VersionID == snap.CurrentID {
			current = i
		}
		versions = append(versions, v.clone())
	}
	if snap.CurrentID != 0 && current < 0 {
		return fmt.Errorf("snapshot current id %d not in timeline", snap.CurrentID)
	}

	s.sessionID = snap.SessionID
	s.versions = versions
	s.current = current
	s.lastID = snap.LastID
	s.bugFree = bugFree
	return nil
}

func (s *VersionStore) snapshotLocked() Snapshot {
	snap := Snapshot{
		SessionID: s.sessionID,
		LastID:    s.lastID,
		Versions:  s.copyVersions(),
	}
	if s.current >= 0 {
		snap.CurrentID = s.versions[s.current].VersionID
	}
	return snap
}

func (s *VersionStore) currentLocked() *Version {
	if s.current < 0 {
		return nil
	}
	return s.versions[s.current].clone()
}

func (s *VersionStore) copyVersions() []*Version {
	out := make([]*Version, len(s.versions))
	for i, v := range s.versions {
		out[i] = v.clone()
	}
	return out
}

// indexOf finds a version by id. Ids increase along the timeline.
func (s *VersionStore) indexOf(id int64) int {
	lo, hi := 0, len(s.versions)-1
	for lo <= hi {
		mid := (lo + hi) / 2
		switch got := s.versions[mid].VersionID; {
		case got == id:
			return mid
		case got < id:
			lo = mid + 1
		default:
			hi = mid - 1
		}
	}
	return -1
}
