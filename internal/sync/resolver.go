// Package sync keeps the local record store and the remote document store
// convergent: last-writer-wins conflict resolution with a grace window,
// detached remote pushes with backoff, the pending-change queue replay, and
// the real-time change dispatcher.
package sync

import "time"

// Decision is the conflict resolver's verdict for one logical record.
type Decision int

const (
	// DecisionNone retains local state and touches nothing.
	DecisionNone Decision = iota
	// DecisionPushLocal writes the local version to the remote store.
	DecisionPushLocal
	// DecisionPullRemote writes the remote version to the local store.
	DecisionPullRemote
)

func (d Decision) String() string {
	switch d {
	case DecisionPushLocal:
		return "push_local"
	case DecisionPullRemote:
		return "pull_remote"
	default:
		return "none"
	}
}

// Version describes one side of a sync pair. Valid carries the structural
// validation result and is only meaningful for the remote side.
type Version struct {
	Exists    bool
	UpdatedAt time.Time
	Valid     bool
}

// Resolve is a pure function of (local, remote, grace).
//
// Local strictly newer wins outright. Remote wins only when it is newer by
// at least the grace window AND structurally valid: a slightly-newer but
// incomplete remote write must not clobber a just-committed local one
// during racing dual-device updates. Anything else is a no-op and local is
// retained. Single-sided records are pushed/pulled unconditionally, subject
// to the same validity gate for pulls.
func Resolve(local, remote Version, grace time.Duration) Decision {
	switch {
	case !local.Exists && !remote.Exists:
		return DecisionNone
	case local.Exists && !remote.Exists:
		return DecisionPushLocal
	case !local.Exists:
		if remote.Valid {
			return DecisionPullRemote
		}
		return DecisionNone
	}

	if local.UpdatedAt.After(remote.UpdatedAt) {
		return DecisionPushLocal
	}
	if remote.Valid && !remote.UpdatedAt.Before(local.UpdatedAt.Add(grace)) {
		return DecisionPullRemote
	}
	return DecisionNone
}
