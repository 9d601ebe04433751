package types

import "time"

// DefaultLockStaleAfter is how long a job lock is honored before it is treated
// as abandoned. Both the update job and the status endpoints read it from
// configuration (LOCK_STALE_MS), which defaults to this value.
const DefaultLockStaleAfter = 4 * time.Hour

// Lock is the persisted advisory lock guarding the update job.
// There is no heartbeat: a crashed holder is recovered from by staleness.
type Lock struct {
	StartedAt time.Time `json:"startedAt"`
	PID       *int      `json:"pid"`
}

// Active reports whether the lock is still honored at now.
// A lock exactly staleAfter old is inactive.
func (l *Lock) Active(now time.Time, staleAfter time.Duration) bool {
	if l == nil || l.StartedAt.IsZero() {
		return false
	}
	return now.Sub(l.StartedAt) < staleAfter
}

// ExpiresAt returns when the lock stops being honored.
func (l *Lock) ExpiresAt(staleAfter time.Duration) time.Time {
	if l == nil {
		return time.Time{}
	}
	return l.StartedAt.Add(staleAfter)
}
