// ABOUTME: Tests for the version store
// ABOUTME: Covers step/undo/mark/jump semantics, all-or-nothing failures and locking

package version

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock advances one second per call
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

// memJournal records events and can be told to fail
type memJournal struct {
	events    []Event
	snapshots []Snapshot
	fail      error
}

func (j *memJournal) Append(ev Event) error {
	if j.fail != nil {
		return j.fail
	}
	j.events = append(j.events, ev)
	return nil
}

func (j *memJournal) Checkpoint(snap Snapshot) error {
	if j.fail != nil {
		return j.fail
	}
	j.snapshots = append(j.snapshots, snap)
	return nil
}

func newTestStore(opts ...Option) *VersionStore {
	opts = append([]Option{WithClock(newFakeClock().Now)}, opts...)
	return NewVersionStore(opts...)
}

func ids(view TimelineView) []int64 {
	out := make([]int64, 0, len(view.Timeline))
	for _, v := range view.Timeline {
		out = append(out, v.VersionID)
	}
	return out
}

func TestEmptyStore(t *testing.T) {
	s := newTestStore()

	view := s.Timeline()
	assert.Nil(t, view.Current)
	assert.Empty(t, view.Timeline)
	assert.NotEmpty(t, view.SessionID)

	report := s.Analytics()
	assert.Equal(t, 0, report.TotalCount)
	assert.Equal(t, 0.0, report.BugFreeRatio)
	assert.Nil(t, report.MostFrequent)
}

func TestStepBecomesCurrent(t *testing.T) {
	s := newTestStore()

	v, err := s.Step("print(1)", "first try", "SyntaxError")
	require.NoError(t, err)
	assert.Equal(t, int64(1), v.VersionID)
	assert.False(t, v.BugFree)
	assert.Equal(t, time.UTC, v.Timestamp.Location())

	view := s.Timeline()
	require.NotNil(t, view.Current)
	assert.Equal(t, v.VersionID, view.Current.VersionID)
	assert.Equal(t, "print(1)", view.Current.CodeText)
	assert.Equal(t, "first try", view.Current.Note)
	assert.Equal(t, "SyntaxError", view.Current.ErrorType)
}

func TestStepAcceptsEmptyFields(t *testing.T) {
	s := newTestStore()

	v, err := s.Step("", "", "")
	require.NoError(t, err)
	assert.Equal(t, "", v.CodeText)
	assert.Equal(t, "", v.ErrorType)
}

func TestIDsNeverReused(t *testing.T) {
	s := newTestStore()

	var seen []int64
	for i := 0; i < 3; i++ {
		v, err := s.Step("x", "", "")
		require.NoError(t, err)
		seen = append(seen, v.VersionID)
	}
	_, err := s.Undo()
	require.NoError(t, err)
	_, err = s.Undo()
	require.NoError(t, err)

	v, err := s.Step("y", "", "")
	require.NoError(t, err)
	seen = append(seen, v.VersionID)

	assert.Equal(t, []int64{1, 2, 3, 4}, seen)
	assert.Equal(t, []int64{1, 4}, ids(s.Timeline()))
}

func TestUndoSequence(t *testing.T) {
	s := newTestStore()
	for _, code := range []string{"a", "b", "c"} {
		_, err := s.Step(code, "", "")
		require.NoError(t, err)
	}

	cur, err := s.Undo()
	require.NoError(t, err)
	require.NotNil(t, cur)
	assert.Equal(t, int64(2), cur.VersionID)
	assert.Len(t, s.Timeline().Timeline, 2)

	cur, err = s.Undo()
	require.NoError(t, err)
	require.NotNil(t, cur)
	assert.Equal(t, int64(1), cur.VersionID)
	assert.Len(t, s.Timeline().Timeline, 1)

	cur, err = s.Undo()
	require.NoError(t, err)
	assert.Nil(t, cur)
	view := s.Timeline()
	assert.Nil(t, view.Current)
	assert.Empty(t, view.Timeline)

	_, err = s.Undo()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidState)
	assert.Equal(t, "nothing to undo", err.Error())
}

func TestUndoAfterJumpMovesToPredecessor(t *testing.T) {
	s := newTestStore()
	for i := 0; i < 3; i++ {
		_, err := s.Step("x", "", "")
		require.NoError(t, err)
	}
	_, err := s.MarkBugFree(1)
	require.NoError(t, err)
	_, err = s.JumpBugFree()
	require.NoError(t, err)

	// Pointer sits on v1; undo still removes v3 and lands on v2
	cur, err := s.Undo()
	require.NoError(t, err)
	require.NotNil(t, cur)
	assert.Equal(t, int64(2), cur.VersionID)
	view := s.Timeline()
	assert.Equal(t, []int64{1, 2}, ids(view))
	assert.Equal(t, int64(2), view.Current.VersionID)
}

func TestMarkBugFree(t *testing.T) {
	j := &memJournal{}
	s := newTestStore(WithJournal(j))
	_, err := s.Step("a", "", "")
	require.NoError(t, err)
	_, err = s.Step("b", "", "")
	require.NoError(t, err)

	v, err := s.MarkBugFree(1)
	require.NoError(t, err)
	assert.True(t, v.BugFree)
	assert.Equal(t, int64(1), v.VersionID)

	// Pointer stays on the newest version
	assert.Equal(t, int64(2), s.Timeline().Current.VersionID)

	before := s.Timeline()
	events := len(j.events)

	again, err := s.MarkBugFree(1)
	require.NoError(t, err)
	assert.Equal(t, v, again)
	assert.Equal(t, before, s.Timeline())
	assert.Len(t, j.events, events, "re-marking must not write to the journal")
}

func TestMarkBugFreeNotFound(t *testing.T) {
	s := newTestStore()
	_, err := s.Step("a", "", "")
	require.NoError(t, err)

	_, err = s.MarkBugFree(42)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, "version 42 not found", err.Error())

	var verr *Error
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, ErrNotFound, verr.Kind)
}

func TestJumpBugFree(t *testing.T) {
	s := newTestStore()

	_, err := s.JumpBugFree()
	assert.ErrorIs(t, err, ErrInvalidState)

	for i := 0; i < 5; i++ {
		_, err := s.Step("x", "", "")
		require.NoError(t, err)
	}
	_, err = s.JumpBugFree()
	assert.ErrorIs(t, err, ErrInvalidState)
	assert.Equal(t, int64(5), s.Timeline().Current.VersionID)

	_, err = s.MarkBugFree(3)
	require.NoError(t, err)
	before := s.Timeline().Timeline

	cur, err := s.JumpBugFree()
	require.NoError(t, err)
	assert.Equal(t, int64(3), cur.VersionID)

	after := s.Timeline()
	assert.Equal(t, int64(3), after.Current.VersionID)
	assert.Equal(t, before, after.Timeline)
}

func TestJumpBugFreePicksNewest(t *testing.T) {
	s := newTestStore()
	for i := 0; i < 4; i++ {
		_, err := s.Step("x", "", "")
		require.NoError(t, err)
	}
	_, err := s.MarkBugFree(3)
	require.NoError(t, err)
	_, err = s.MarkBugFree(1)
	require.NoError(t, err)

	cur, err := s.JumpBugFree()
	require.NoError(t, err)
	assert.Equal(t, int64(3), cur.VersionID)
}

func TestJumpBugFreeOntoCurrentSkipsJournal(t *testing.T) {
	j := &memJournal{}
	s := newTestStore(WithJournal(j))
	_, err := s.Step("a", "", "")
	require.NoError(t, err)
	_, err = s.MarkBugFree(1)
	require.NoError(t, err)
	events := len(j.events)

	cur, err := s.JumpBugFree()
	require.NoError(t, err)
	assert.Equal(t, int64(1), cur.VersionID)
	assert.Len(t, j.events, events)
}

func TestScenarioStepMarkJumpAnalytics(t *testing.T) {
	s := newTestStore()

	v1, err := s.Step("a", "n1", "SyntaxError")
	require.NoError(t, err)
	v2, err := s.Step("b", "n2", "TypeError")
	require.NoError(t, err)
	assert.Equal(t, int64(1), v1.VersionID)
	assert.Equal(t, int64(2), v2.VersionID)

	_, err = s.MarkBugFree(1)
	require.NoError(t, err)

	cur, err := s.JumpBugFree()
	require.NoError(t, err)
	assert.Equal(t, int64(1), cur.VersionID)

	report := s.Analytics()
	assert.Equal(t, 2, report.TotalCount)
	assert.Equal(t, 1, report.BugFreeCount)
	assert.Equal(t, 0.5, report.BugFreeRatio)
	assert.ElementsMatch(t, []ErrorTypeCount{
		{ErrorType: "SyntaxError", Count: 1},
		{ErrorType: "TypeError", Count: 1},
	}, report.ErrorTypes)
}

func TestTimelineReturnsCopies(t *testing.T) {
	s := newTestStore()
	v, err := s.Step("a", "", "")
	require.NoError(t, err)

	v.CodeText = "mutated"
	view := s.Timeline()
	view.Timeline[0].BugFree = true

	fresh := s.Timeline()
	assert.Equal(t, "a", fresh.Current.CodeText)
	assert.False(t, fresh.Timeline[0].BugFree)
}

func TestJournalFailureLeavesStateUnchanged(t *testing.T) {
	j := &memJournal{}
	s := newTestStore(WithJournal(j))
	_, err := s.Step("a", "", "")
	require.NoError(t, err)
	_, err = s.Step("b", "", "")
	require.NoError(t, err)

	before := s.Timeline()
	j.fail = errors.New("disk full")

	_, err = s.Step("c", "", "")
	assert.ErrorIs(t, err, ErrTransientIO)
	_, err = s.MarkBugFree(1)
	assert.ErrorIs(t, err, ErrTransientIO)
	_, err = s.Undo()
	assert.ErrorIs(t, err, ErrTransientIO)
	assert.ErrorIs(t, s.Compact(), ErrTransientIO)

	assert.Equal(t, before, s.Timeline())

	// A failed step does not burn an id
	j.fail = nil
	v, err := s.Step("c", "", "")
	require.NoError(t, err)
	assert.Equal(t, int64(3), v.VersionID)
}

func TestJournalReceivesEvents(t *testing.T) {
	j := &memJournal{}
	s := newTestStore(WithJournal(j))

	_, err := s.Step("a", "", "E")
	require.NoError(t, err)
	_, err = s.Step("b", "", "E")
	require.NoError(t, err)
	_, err = s.MarkBugFree(1)
	require.NoError(t, err)
	_, err = s.JumpBugFree()
	require.NoError(t, err)
	_, err = s.Undo()
	require.NoError(t, err)

	ops := make([]EventOp, 0, len(j.events))
	for _, ev := range j.events {
		ops = append(ops, ev.Op)
	}
	assert.Equal(t, []EventOp{EventStep, EventStep, EventMarkBugFree, EventJump, EventUndo}, ops)
	assert.Equal(t, int64(2), j.events[4].VersionID)

	require.NoError(t, s.Compact())
	require.Len(t, j.snapshots, 1)
	snap := j.snapshots[0]
	assert.Equal(t, s.SessionID(), snap.SessionID)
	assert.Equal(t, int64(2), snap.LastID)
	assert.Equal(t, int64(1), snap.CurrentID)
	assert.Len(t, snap.Versions, 1)
}

func TestCounts(t *testing.T) {
	s := newTestStore()
	for i := 0; i < 3; i++ {
		_, err := s.Step("x", "", "")
		require.NoError(t, err)
	}
	_, err := s.MarkBugFree(2)
	require.NoError(t, err)

	total, bugFree := s.Counts()
	assert.Equal(t, 3, total)
	assert.Equal(t, 1, bugFree)
}

func TestWithSessionID(t *testing.T) {
	s := newTestStore(WithSessionID("fixed"))
	assert.Equal(t, "fixed", s.SessionID())
	assert.Equal(t, "fixed", s.Timeline().SessionID)
}

func TestRestoreRejectsBadSnapshots(t *testing.T) {
	tests := []struct {
		name string
		snap Snapshot
	}{
		{
			name: "ids out of order",
			snap: Snapshot{LastID: 3, Versions: []*Version{{VersionID: 2}, {VersionID: 1}}},
		},
		{
			name: "id above last id",
			snap: Snapshot{LastID: 1, Versions: []*Version{{VersionID: 2}}},
		},
		{
			name: "current missing",
			snap: Snapshot{LastID: 2, CurrentID: 7, Versions: []*Version{{VersionID: 1}}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestStore()
			assert.Error(t, s.restore(tt.snap))
		})
	}
}

func TestConcurrentOperations(t *testing.T) {
	s := newTestStore()

	const workers = 8
	const steps = 50

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < steps; i++ {
				v, err := s.Step("code", "", "E")
				if err != nil {
					t.Error(err)
					return
				}
				if i%5 == 0 {
					if _, err := s.MarkBugFree(v.VersionID); err != nil {
						t.Error(err)
					}
				}
				view := s.Timeline()
				report := s.Analytics()
				if report.BugFreeCount > report.TotalCount {
					t.Errorf("bug-free count %d above total %d", report.BugFreeCount, report.TotalCount)
				}
				if view.Current == nil {
					t.Error("current unset after step")
				}
			}
		}()
	}
	wg.Wait()

	view := s.Timeline()
	require.Len(t, view.Timeline, workers*steps)
	for i := 1; i < len(view.Timeline); i++ {
		assert.Less(t, view.Timeline[i-1].VersionID, view.Timeline[i].VersionID)
	}
	assert.Equal(t, len(view.Timeline), s.Analytics().TotalCount)
}

type change struct{ total, bugFree int }

func TestOnChangeReportsCommittedStates(t *testing.T) {
	j := &memJournal{}
	s := newTestStore(WithJournal(j))

	var got []change
	s.OnChange(func(total, bugFree int) {
		got = append(got, change{total, bugFree})
	})

	_, err := s.Step("a", "", "")
	require.NoError(t, err)
	_, err = s.Step("b", "", "")
	require.NoError(t, err)
	_, err = s.MarkBugFree(2)
	require.NoError(t, err)
	_, err = s.MarkBugFree(2) // already marked, nothing committed
	require.NoError(t, err)
	_, err = s.Undo()
	require.NoError(t, err)

	j.fail = errors.New("disk full")
	_, err = s.Step("c", "", "")
	require.Error(t, err)

	assert.Equal(t, []change{{1, 0}, {2, 0}, {2, 1}, {1, 0}}, got)
	total, bugFree := s.Counts()
	assert.Equal(t, 1, total)
	assert.Equal(t, 0, bugFree)
}

func TestOnChangeOrderUnderConcurrency(t *testing.T) {
	s := newTestStore()

	var totals []int
	s.OnChange(func(total, _ int) {
		totals = append(totals, total)
	})

	const workers = 8
	const steps = 25

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < steps; i++ {
				if _, err := s.Step("code", "", ""); err != nil {
					t.Error(err)
					return
				}
			}
		}()
	}
	wg.Wait()

	// Every reported total is a state some step produced, in commit order
	require.Len(t, totals, workers*steps)
	for i, total := range totals {
		assert.Equal(t, i+1, total)
	}
}
