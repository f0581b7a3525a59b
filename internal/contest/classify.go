package contest

import "math"

// Epsilon is the tolerance under which two point values are considered equal.
const Epsilon = 1e-3

// ProblemEvent is a semantic change of one participant on one problem.
type ProblemEvent int

const (
	Attempted ProblemEvent = iota + 1
	TestFailed
	Accepted
	Hacked
	PretestsPassed
)

func (e ProblemEvent) String() string {
	switch e {
	case Attempted:
		return "attempted"
	case TestFailed:
		return "test_failed"
	case Accepted:
		return "accepted"
	case Hacked:
		return "hacked"
	case PretestsPassed:
		return "pretests_passed"
	}
	return "unknown"
}

// RowEvent is a semantic change of a participant's overall row.
type RowEvent int

const (
	HackSucceeded RowEvent = iota + 1
	HackFailed
)

func (e RowEvent) String() string {
	switch e {
	case HackSucceeded:
		return "hack_succeeded"
	case HackFailed:
		return "hack_failed"
	}
	return "unknown"
}

// ClassifyProblem maps the transition old -> new of one problem result to at
// most one event. phase is the phase of the snapshot that produced new.
func ClassifyProblem(old, new ProblemResult, phase Phase) (ProblemEvent, bool) {
	switch {
	case math.Abs(new.Points-old.Points) < Epsilon:
		if new.RejectedAttempts > old.RejectedAttempts {
			if new.Type == Preliminary {
				return Attempted, true
			}
			return TestFailed, true
		}
		if old.Type != new.Type && new.Points > 0 {
			return Accepted, true
		}
		return 0, false

	case new.Points == 0:
		if new.Type == Preliminary {
			// Outside coding, a preliminary zero is a rejudge in flight, not a hack.
			if phase == PhaseCoding {
				return Hacked, true
			}
			return 0, false
		}
		return TestFailed, true

	case new.Points > old.Points:
		if new.Type == Preliminary {
			return PretestsPassed, true
		}
		return Accepted, true

	default:
		// Points went down but stayed positive (e.g. a resubmission scored
		// lower). Reported like a fresh pretest pass.
		return PretestsPassed, true
	}
}

// ClassifyRow returns the hack events between two rows of the same participant,
// HackSucceeded before HackFailed.
func ClassifyRow(old, new Row) []RowEvent {
	var out []RowEvent
	if new.SuccessfulHacks > old.SuccessfulHacks {
		out = append(out, HackSucceeded)
	}
	if new.UnsuccessfulHacks > old.UnsuccessfulHacks {
		out = append(out, HackFailed)
	}
	return out
}

// ProblemChange is one per-problem event with the problem it concerns.
type ProblemChange struct {
	Problem Problem
	Event   ProblemEvent
	Result  ProblemResult
}

// Diff runs both classifiers over a participant's old and new rows. Problems
// and results are zipped positionally; extra entries on any side are ignored.
func Diff(problems []Problem, old, new Row, phase Phase) ([]RowEvent, []ProblemChange) {
	rowEvents := ClassifyRow(old, new)

	n := min(len(problems), len(old.Results), len(new.Results))
	var changes []ProblemChange
	for i := 0; i < n; i++ {
		ev, ok := ClassifyProblem(old.Results[i], new.Results[i], phase)
		if !ok {
			continue
		}
		changes = append(changes, ProblemChange{Problem: problems[i], Event: ev, Result: new.Results[i]})
	}
	return rowEvents, changes
}
