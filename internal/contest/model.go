// Package contest describes point-in-time views of a running contest and
// classifies the difference between two views into discrete events.
//
// Everything here is a value type and every function is pure.
package contest

import (
	"strings"
	"time"
)

// Phase is the contest phase as reported by the standings source.
//
// PhaseBefore, PhaseCoding and PhaseFinished are distinguished; any other
// value (pretest-running, system testing, ...) is an "other" phase that is
// only reported generically.
type Phase string

const (
	PhaseBefore   Phase = "BEFORE"
	PhaseCoding   Phase = "CODING"
	PhaseFinished Phase = "FINISHED"

	PhasePendingSystemTest Phase = "PENDING_SYSTEM_TEST"
	PhaseSystemTest        Phase = "SYSTEM_TEST"
)

// Quiet reports whether notifications in this phase must avoid pinging users.
func (p Phase) Quiet() bool { return p == PhaseBefore || p == PhaseCoding }

// Label is the human-readable phase name used in phase-change announcements.
func (p Phase) Label() string {
	switch p {
	case PhaseBefore:
		return "Not started"
	case PhaseCoding:
		return "Contest is running"
	case PhaseFinished:
		return "Contest is over"
	case PhasePendingSystemTest:
		return "Pending system tests"
	case PhaseSystemTest:
		return "System testing"
	}
	s := strings.ToLower(strings.ReplaceAll(string(p), "_", " "))
	if s == "" {
		return "Unknown phase"
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

// ResultType tells whether a problem result is still subject to system tests.
type ResultType int

const (
	Preliminary ResultType = iota
	Final
)

func (t ResultType) String() string {
	if t == Final {
		return "FINAL"
	}
	return "PRELIMINARY"
}

// Problem is one problem of the contest. Index is its label ("A", "B1", ...).
type Problem struct {
	Index  string
	Name   string
	Points float64 // 0 when the contest has no fixed problem scores
}

// ProblemResult is one participant's state on one problem.
type ProblemResult struct {
	Points           float64
	RejectedAttempts int
	Type             ResultType
	// BestSubmission is the time since contest start of the best submission.
	BestSubmission *time.Duration
}

// Row is one participant (or team) line of the standings.
type Row struct {
	Rank              int
	Points            float64
	Penalty           int
	SuccessfulHacks   int
	UnsuccessfulHacks int
	// Results has one entry per problem, in problem order.
	Results []ProblemResult
	// Handles lists every member handle; a team row has several.
	Handles []string
}

// HasHandle reports whether handle is one of the row's members.
// Handles compare case-insensitively.
func (r Row) HasHandle(handle string) bool {
	for _, h := range r.Handles {
		if strings.EqualFold(h, handle) {
			return true
		}
	}
	return false
}

// Meta is the contest metadata needed before standings are polled.
type Meta struct {
	ID    int64
	Name  string
	Phase Phase
	// StartTime is nil when the source does not know the start instant.
	StartTime *time.Time
	Duration  time.Duration
}

// Snapshot is one fetch of the standings.
type Snapshot struct {
	Meta     Meta
	Problems []Problem
	Rows     []Row
}

// FindRow returns the first row containing handle.
func (s Snapshot) FindRow(handle string) (Row, bool) {
	for _, r := range s.Rows {
		if r.HasHandle(handle) {
			return r, true
		}
	}
	return Row{}, false
}

// BaselineRow is the row compared against on a participant's first sighting:
// rank 0, nothing scored, and one untouched preliminary result per problem.
func BaselineRow(problems int) Row {
	if problems < 0 {
		problems = 0
	}
	return Row{Results: make([]ProblemResult, problems)}
}
