// ABOUTME: Version timeline data model
// ABOUTME: Versions, the timeline view and the journal event/snapshot shapes

package version

import "time"

// Version is one recorded debugging step. Everything except BugFree is
// fixed at creation.
type Version struct {
	VersionID int64     `json:"versionId"`
	Timestamp time.Time `json:"timestamp"`
	CodeText  string    `json:"codeText"`
	Note      string    `json:"note"`
	ErrorType string    `json:"errorType"`
	BugFree   bool      `json:"bugFree"`
}

func (v *Version) clone() *Version {
	c := *v
	return &c
}

// TimelineView is a consistent copy of the session state
type TimelineView struct {
	SessionID string     `json:"sessionId"`
	Current   *Version   `json:"current"`
	Timeline  []*Version `json:"timeline"`
}

// EventOp names a state change recorded in the journal
type EventOp string

const (
	EventStep        EventOp = "step"
	EventMarkBugFree EventOp = "mark"
	EventUndo        EventOp = "undo"
	EventJump        EventOp = "jump"
)

// Event is one state change. Step carries the new Version; the other
// operations carry the id they act on.
type Event struct {
	Op        EventOp
	Version   *Version
	VersionID int64
}

// Snapshot is the full session state, written at checkpoints
type Snapshot struct {
	SessionID string
	LastID    int64 // highest id ever issued
	CurrentID int64 // 0 when the pointer is unset
	Versions  []*Version
}
