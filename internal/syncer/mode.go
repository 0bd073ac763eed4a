package syncer

import (
	"github.com/shelfieapp/shelfie/internal/domain"
)

// Kind is the backend the coordinator currently treats as authoritative.
type Kind int

// Backend kinds.
const (
	Local Kind = iota
	Remote
)

func (k Kind) String() string {
	if k == Remote {
		return "remote"
	}
	return "local"
}

// Mode is the active backend. UserID is set only for Remote.
type Mode struct {
	Kind   Kind
	UserID string
}

// LocalMode is the signed-out mode.
func LocalMode() Mode { return Mode{Kind: Local} }

// RemoteMode is the signed-in mode for userID.
func RemoteMode(userID string) Mode { return Mode{Kind: Remote, UserID: userID} }

func (m Mode) String() string {
	if m.Kind == Remote {
		return "remote(" + m.UserID + ")"
	}
	return "local"
}

// Outcome tells a caller what a mutation did to the projection.
type Outcome int

const (
	// NoOp means the target did not exist and nothing was written.
	NoOp Outcome = iota
	// Applied means the projection already reflects the change.
	Applied
	// Pending means the remote accepted the write; the projection catches up
	// on the next snapshot.
	Pending
)

func (o Outcome) String() string {
	switch o {
	case Applied:
		return "applied"
	case Pending:
		return "pending"
	default:
		return "noop"
	}
}

// Result is the outcome of a mutation. Book holds the merged record the
// mutation produced when one is known; CommentID is set by AddComment.
type Result struct {
	Outcome   Outcome
	Book      domain.Book
	CommentID string
}
