// Package alarmqueue implements the persisted, sorted multi-timer every
// GameRoom and the GlobalLobby schedule their delayed work through: seat
// expiration, pause timeout, room cleanup, turn timeout, AFK checks, and
// join-request expiration all share one queue per actor rather than one
// timer each.
//
// The queue itself does not sleep. It is a pure, storage-backed data
// structure; the actor that owns it is responsible for asking the host
// runtime (time.AfterFunc in this process, or a durable-object alarm in a
// hosted deployment) to wake it at NextWake, then calling ProcessDue.
package alarmqueue

import (
	"sort"
	"time"
)

// Kind identifies what an alarm does when it fires.
type Kind string

const (
	KindSeatExpiration       Kind = "seat_expiration"
	KindPauseTimeout         Kind = "pause_timeout"
	KindRoomCleanup          Kind = "room_cleanup"
	KindTurnTimeout          Kind = "turn_timeout"
	KindAfkCheck             Kind = "afk_check"
	KindAiTurnTimeout        Kind = "ai_turn_timeout"
	KindJoinRequestExpiration Kind = "join_request_expiration"
	KindInviteExpiration     Kind = "invite_expiration"
	KindDirectoryStale       Kind = "directory_stale"
)

// ScheduledAlarm is one pending entry. TargetId scopes the alarm to a
// specific player, seat, or join-request within the owning actor; two
// alarms with the same (Kind, TargetId) are the same logical timer and a
// second Schedule call replaces the first rather than creating a duplicate.
type ScheduledAlarm struct {
	Kind      Kind      `json:"kind"`
	TargetId  string    `json:"targetId"`
	FireAt    time.Time `json:"fireAt"`
	CreatedAt time.Time `json:"createdAt"`
}

func (a ScheduledAlarm) key() string {
	return string(a.Kind) + "\x00" + a.TargetId
}

// Queue is a sorted set of ScheduledAlarm keyed by (Kind, TargetId). It is
// not safe for concurrent use — callers run inside a single-writer actor
// loop and must serialize access themselves.
type Queue struct {
	byKey map[string]ScheduledAlarm
}

// New returns an empty queue.
func New() *Queue {
	return &Queue{byKey: make(map[string]ScheduledAlarm)}
}

// Restore rebuilds a queue from a persisted snapshot, migrating legacy
// single-alarm markers (an empty Kind and an empty TargetId, from before
// per-target alarms existed) onto KindRoomCleanup, the only kind that predates per-target
// scoping.
func Restore(alarms []ScheduledAlarm) *Queue {
	q := New()
	for _, a := range alarms {
		if a.TargetId == "" && a.Kind == "" {
			a.Kind = KindRoomCleanup
		}
		q.byKey[a.key()] = a
	}
	return q
}

// Snapshot returns every pending alarm for persistence, ordered by FireAt
// then CreatedAt for deterministic serialization.
func (q *Queue) Snapshot() []ScheduledAlarm {
	out := q.pending()
	return out
}

// Schedule upserts an alarm. A second Schedule call for the same
// (kind, targetId) replaces the fire time of the existing entry; it does
// not create a second alarm.
func (q *Queue) Schedule(kind Kind, targetId string, fireAt time.Time, now time.Time) {
	a := ScheduledAlarm{Kind: kind, TargetId: targetId, FireAt: fireAt, CreatedAt: now}
	q.byKey[a.key()] = a
}

// Cancel removes a pending alarm. Canceling an alarm that does not exist is
// a no-op.
func (q *Queue) Cancel(kind Kind, targetId string) {
	delete(q.byKey, ScheduledAlarm{Kind: kind, TargetId: targetId}.key())
}

// Has reports whether an alarm with this (kind, targetId) is pending.
func (q *Queue) Has(kind Kind, targetId string) bool {
	_, ok := q.byKey[ScheduledAlarm{Kind: kind, TargetId: targetId}.key()]
	return ok
}

// Get returns the pending alarm for (kind, targetId), if any. Callers use
// this to read FireAt before cancelling a timer whose remaining budget must
// be carried forward rather than discarded (e.g. a paused turn timeout).
func (q *Queue) Get(kind Kind, targetId string) (ScheduledAlarm, bool) {
	a, ok := q.byKey[ScheduledAlarm{Kind: kind, TargetId: targetId}.key()]
	return a, ok
}

// pending returns every alarm sorted by FireAt ascending, CreatedAt
// ascending as a stable tie-break.
func (q *Queue) pending() []ScheduledAlarm {
	out := make([]ScheduledAlarm, 0, len(q.byKey))
	for _, a := range q.byKey {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].FireAt.Equal(out[j].FireAt) {
			return out[i].FireAt.Before(out[j].FireAt)
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// NextWake returns the FireAt of the earliest pending alarm, and false if
// the queue is empty. The caller (the owning actor) is responsible for
// translating this into a host wake-up primitive.
func (q *Queue) NextWake() (time.Time, bool) {
	pending := q.pending()
	if len(pending) == 0 {
		return time.Time{}, false
	}
	return pending[0].FireAt, true
}

// ProcessDue removes and returns every alarm whose FireAt is at or before
// now, in fire order. The caller must persist the queue's remaining state
// (via Snapshot) before acting on the returned alarms' side effects, so a
// crash mid-processing never replays an alarm that already completed its
// persisted side effect. An alarm whose effect had not committed before the
// crash is not re-fired either: it was already removed from the queue.
func (q *Queue) ProcessDue(now time.Time) []ScheduledAlarm {
	var due []ScheduledAlarm
	for _, a := range q.pending() {
		if a.FireAt.After(now) {
			break
		}
		due = append(due, a)
		delete(q.byKey, a.key())
	}
	return due
}

// Len reports the number of pending alarms.
func (q *Queue) Len() int {
	return len(q.byKey)
}
