// Package events is the in-process publish/subscribe channel through which the
// session manager announces output, state changes, replays and exits.
package events

import (
	"time"

	"github.com/asheshgoplani/worktree-deck/internal/detect"
)

// Mode selects one of the two processes a session can pair.
type Mode string

const (
	ModePrimary   Mode = "primary"
	ModeSecondary Mode = "secondary"
)

// Other returns the opposite mode.
func (m Mode) Other() Mode {
	if m == ModeSecondary {
		return ModePrimary
	}
	return ModeSecondary
}

func (m Mode) String() string { return string(m) }

// SessionRef identifies the session an event belongs to.
type SessionRef struct {
	ID           string
	WorktreePath string
}

// Kind names an event variant.
type Kind string

const (
	KindSessionCreated         Kind = "session_created"
	KindSessionData            Kind = "session_data"
	KindSessionStateChanged    Kind = "session_state_changed"
	KindSessionRestore         Kind = "session_restore"
	KindSessionProcessReplaced Kind = "session_process_replaced"
	KindSessionBackgroundTasks Kind = "session_background_tasks"
	KindSessionExit            Kind = "session_exit"
	KindSessionDestroyed       Kind = "session_destroyed"
)

// Event is the closed set of bus messages. Only types in this package
// implement it.
type Event interface {
	Ref() SessionRef
	Kind() Kind
	Time() time.Time
	sealed()
}

type base struct {
	Session SessionRef
	At      time.Time
}

func (b base) Ref() SessionRef { return b.Session }
func (b base) Time() time.Time { return b.At }
func (base) sealed()           {}

func newBase(ref SessionRef) base {
	return base{Session: ref, At: time.Now()}
}

// SessionCreated is published once a session is registered and polling.
type SessionCreated struct {
	base
	Command    string
	Args       []string
	StrategyID detect.StrategyID
}

func (SessionCreated) Kind() Kind { return KindSessionCreated }

// SessionData carries live output for the active mode of an attached session.
type SessionData struct {
	base
	Mode Mode
	Data []byte
}

func (SessionData) Kind() Kind { return KindSessionData }

// SessionStateChanged reports a detector transition. Old never equals New.
type SessionStateChanged struct {
	base
	Old detect.State
	New detect.State
}

func (SessionStateChanged) Kind() Kind { return KindSessionStateChanged }

// SessionRestore carries the full ordered history of Mode so a viewer can
// replay it. It precedes any live SessionData for the same attach.
type SessionRestore struct {
	base
	Mode   Mode
	Chunks [][]byte
}

func (SessionRestore) Kind() Kind { return KindSessionRestore }

// SessionProcessReplaced reports that the primary process failed and was
// respawned with the fallback arguments.
type SessionProcessReplaced struct {
	base
	Command string
	Args    []string
	PID     int
}

func (SessionProcessReplaced) Kind() Kind { return KindSessionProcessReplaced }

// SessionBackgroundTasks reports a change in the number of background
// sub-tasks the tool shows as running.
type SessionBackgroundTasks struct {
	base
	Count int
}

func (SessionBackgroundTasks) Kind() Kind { return KindSessionBackgroundTasks }

// ExitReason says why a session ended.
type ExitReason string

const (
	ExitTerminated     ExitReason = "terminated"
	ExitProcessExited  ExitReason = "process_exited"
	ExitFallbackFailed ExitReason = "fallback_failed"
	ExitShutdown       ExitReason = "shutdown"
)

// ExitInfo describes how the primary process ended. Code is -1 when the
// session was torn down before the process reported an exit.
type ExitInfo struct {
	Reason ExitReason
	Code   int
	Signal string
}

// SessionExit is published when a session's primary process is gone for good.
type SessionExit struct {
	base
	Status ExitInfo
}

func (SessionExit) Kind() Kind { return KindSessionExit }

// SessionDestroyed is the last event for a session; its path is free again.
type SessionDestroyed struct {
	base
}

func (SessionDestroyed) Kind() Kind { return KindSessionDestroyed }

// Constructors stamp the ref and time; callers fill in the payload.

func NewSessionCreated(ref SessionRef, command string, args []string, id detect.StrategyID) SessionCreated {
	return SessionCreated{base: newBase(ref), Command: command, Args: args, StrategyID: id}
}

func NewSessionData(ref SessionRef, mode Mode, data []byte) SessionData {
	return SessionData{base: newBase(ref), Mode: mode, Data: data}
}

func NewSessionStateChanged(ref SessionRef, from, to detect.State) SessionStateChanged {
	return SessionStateChanged{base: newBase(ref), Old: from, New: to}
}

func NewSessionRestore(ref SessionRef, mode Mode, chunks [][]byte) SessionRestore {
	return SessionRestore{base: newBase(ref), Mode: mode, Chunks: chunks}
}

func NewSessionProcessReplaced(ref SessionRef, command string, args []string, pid int) SessionProcessReplaced {
	return SessionProcessReplaced{base: newBase(ref), Command: command, Args: args, PID: pid}
}

func NewSessionBackgroundTasks(ref SessionRef, count int) SessionBackgroundTasks {
	return SessionBackgroundTasks{base: newBase(ref), Count: count}
}

func NewSessionExit(ref SessionRef, status ExitInfo) SessionExit {
	return SessionExit{base: newBase(ref), Status: status}
}

func NewSessionDestroyed(ref SessionRef) SessionDestroyed {
	return SessionDestroyed{base: newBase(ref)}
}
