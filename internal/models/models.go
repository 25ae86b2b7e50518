package models

import (
	"fmt"
	"time"
)

// Source identifies the remote repository being mined
type Source struct {
	ID        int64     `json:"id" db:"id"`
	URL       string    `json:"url" db:"url"`
	Owner     string    `json:"owner" db:"owner"`
	Name      string    `json:"name" db:"name"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// FullName returns owner/name
func (s *Source) FullName() string {
	return fmt.Sprintf("%s/%s", s.Owner, s.Name)
}

// Author is a committer identity, unique per (source, name)
type Author struct {
	ID       int64  `json:"id" db:"id"`
	SourceID int64  `json:"source_id" db:"source_id"`
	Name     string `json:"name" db:"name"`
	Email    string `json:"email" db:"email"`
}

// Event is one commit. Parents are ordered as upstream reports them.
type Event struct {
	ID        int64     `json:"id" db:"id"`
	SourceID  int64     `json:"source_id" db:"source_id"`
	NativeID  string    `json:"native_id" db:"native_id"`
	Timestamp time.Time `json:"timestamp" db:"timestamp"`
	Parents   []*Event  `json:"-"`
	Authors   []*Author `json:"authors"`
}

// ParentIDs returns the native ids of the resolved parents
func (e *Event) ParentIDs() []string {
	ids := make([]string, 0, len(e.Parents))
	for _, p := range e.Parents {
		ids = append(ids, p.NativeID)
	}
	return ids
}

// ShortID returns the first 8 characters of the native id
func (e *Event) ShortID() string {
	if len(e.NativeID) > 8 {
		return e.NativeID[:8]
	}
	return e.NativeID
}

// Item is a tracked file path, unique per (source, path)
type Item struct {
	ID       int64  `json:"id" db:"id"`
	SourceID int64  `json:"source_id" db:"source_id"`
	Path     string `json:"path" db:"path"`
}

// ActionKind classifies a file-level change
type ActionKind string

const (
	ActionCreate  ActionKind = "Create"
	ActionEdit    ActionKind = "Edit"
	ActionDelete  ActionKind = "Delete"
	ActionUnknown ActionKind = "Unknown"
)

// ActionKinds lists every kind in a stable order
var ActionKinds = []ActionKind{ActionCreate, ActionEdit, ActionDelete, ActionUnknown}

func (k ActionKind) String() string {
	return string(k)
}

// ParseActionKind maps a persisted kind back to its constant.
// Unrecognized values map to ActionUnknown.
func ParseActionKind(s string) ActionKind {
	switch ActionKind(s) {
	case ActionCreate, ActionEdit, ActionDelete:
		return ActionKind(s)
	default:
		return ActionUnknown
	}
}

// Action is one file change of Event relative to ParentEvent
type Action struct {
	ID          int64      `json:"id"`
	SourceID    int64      `json:"source_id"`
	Event       *Event     `json:"-"`
	ParentEvent *Event     `json:"-"`
	Item        *Item      `json:"item"`
	Kind        ActionKind `json:"kind"`
}

// CommitInfo is a commit as listed by a remote repository client
type CommitInfo struct {
	NativeID       string    `json:"sha"`
	CommitterName  string    `json:"committer_name"`
	CommitterEmail string    `json:"committer_email"`
	CommittedAt    time.Time `json:"committed_at"`
	ParentIDs      []string  `json:"parent_shas"`
}

// FileChange is one entry of a commit-pair diff
type FileChange struct {
	Path   string `json:"path"`
	Status string `json:"status"`
}

// EntityCounts summarizes what has been persisted for a source
type EntityCounts struct {
	Authors int `db:"authors"`
	Events  int `db:"events"`
	Items   int `db:"items"`
	Actions int `db:"actions"`
}

// RepositoryInfo is what a remote client reports about a repository at workspace initialization
type RepositoryInfo struct {
	Owner         string
	Name          string
	FullName      string
	DefaultBranch string
	HTMLURL       string
}
