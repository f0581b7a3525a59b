package contest

import (
	"math/rand"
	"testing"
)

func pr(points float64, rejected int, typ ResultType) ProblemResult {
	return ProblemResult{Points: points, RejectedAttempts: rejected, Type: typ}
}

func TestClassifyProblem_Table(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		old    ProblemResult
		new    ProblemResult
		phase  Phase
		want   ProblemEvent
		wantOK bool
	}{
		{name: "wrong attempt while coding", old: pr(50, 1, Preliminary), new: pr(50, 2, Preliminary), phase: PhaseCoding, want: Attempted, wantOK: true},
		{name: "wrong attempt on final result", old: pr(0, 0, Preliminary), new: pr(0, 1, Final), phase: PhaseFinished, want: TestFailed, wantOK: true},
		{name: "systests confirm", old: pr(500, 0, Preliminary), new: pr(500, 0, Final), phase: PhaseSystemTest, want: Accepted, wantOK: true},
		{name: "zero stays zero, type flips", old: pr(0, 0, Preliminary), new: pr(0, 0, Final), phase: PhaseFinished},
		{name: "within epsilon unchanged", old: pr(100, 0, Preliminary), new: pr(100.0004, 0, Preliminary), phase: PhaseCoding},
		{name: "hacked while coding", old: pr(480, 0, Preliminary), new: pr(0, 0, Preliminary), phase: PhaseCoding, want: Hacked, wantOK: true},
		{name: "zeroed outside coding is suppressed", old: pr(480, 0, Preliminary), new: pr(0, 0, Preliminary), phase: PhasePendingSystemTest},
		{name: "failed system tests", old: pr(480, 0, Preliminary), new: pr(0, 0, Final), phase: PhaseSystemTest, want: TestFailed, wantOK: true},
		{name: "pretests passed", old: pr(0, 2, Preliminary), new: pr(450, 2, Preliminary), phase: PhaseCoding, want: PretestsPassed, wantOK: true},
		{name: "accepted final", old: pr(50, 0, Preliminary), new: pr(100, 0, Final), phase: PhaseFinished, want: Accepted, wantOK: true},
		{name: "points decreased", old: pr(500, 0, Preliminary), new: pr(300, 1, Preliminary), phase: PhaseCoding, want: PretestsPassed, wantOK: true},
		{name: "points decreased final", old: pr(500, 0, Preliminary), new: pr(300, 0, Final), phase: PhaseFinished, want: PretestsPassed, wantOK: true},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, ok := ClassifyProblem(tc.old, tc.new, tc.phase)
			if ok != tc.wantOK || got != tc.want {
				t.Fatalf("got (%v,%v) want (%v,%v)", got, ok, tc.want, tc.wantOK)
			}
		})
	}
}

var allPhases = []Phase{PhaseBefore, PhaseCoding, PhaseFinished, PhasePendingSystemTest, PhaseSystemTest, Phase("WHATEVER")}

func randResult(r *rand.Rand) ProblemResult {
	points := []float64{0, 0.5, 100, 250, 500, 1000}[r.Intn(6)]
	typ := Preliminary
	if r.Intn(2) == 0 {
		typ = Final
	}
	return pr(points, r.Intn(5), typ)
}

func TestClassifyProblem_Properties(t *testing.T) {
	t.Parallel()

	r := rand.New(rand.NewSource(1))
	for i := 0; i < 5000; i++ {
		old := randResult(r)
		phase := allPhases[r.Intn(len(allPhases))]

		// Equal points, more attempts, preliminary -> Attempted.
		n := old
		n.RejectedAttempts = old.RejectedAttempts + 1 + r.Intn(3)
		n.Type = Preliminary
		if got, ok := ClassifyProblem(old, n, phase); !ok || got != Attempted {
			t.Fatalf("attempted property: old=%+v new=%+v phase=%s got (%v,%v)", old, n, phase, got, ok)
		}

		// Equal points, more attempts, final -> TestFailed.
		n.Type = Final
		if got, ok := ClassifyProblem(old, n, phase); !ok || got != TestFailed {
			t.Fatalf("test failed property: old=%+v new=%+v phase=%s got (%v,%v)", old, n, phase, got, ok)
		}

		// Zero preliminary outside coding -> nothing.
		if phase != PhaseCoding {
			z := pr(0, r.Intn(5), Preliminary)
			if old.Points == 0 {
				old.Points = 100
			}
			if got, ok := ClassifyProblem(old, z, phase); ok {
				t.Fatalf("suppression property: old=%+v new=%+v phase=%s got %v", old, z, phase, got)
			}
		}

		// Identity -> nothing.
		if got, ok := ClassifyProblem(old, old, phase); ok {
			t.Fatalf("identity: %+v phase=%s got %v", old, phase, got)
		}
	}
}

func TestClassifyRow(t *testing.T) {
	t.Parallel()

	base := Row{SuccessfulHacks: 1, UnsuccessfulHacks: 1}
	cases := []struct {
		name string
		new  Row
		want []RowEvent
	}{
		{name: "none", new: base},
		{name: "success", new: Row{SuccessfulHacks: 2, UnsuccessfulHacks: 1}, want: []RowEvent{HackSucceeded}},
		{name: "fail", new: Row{SuccessfulHacks: 1, UnsuccessfulHacks: 3}, want: []RowEvent{HackFailed}},
		{name: "both", new: Row{SuccessfulHacks: 2, UnsuccessfulHacks: 2}, want: []RowEvent{HackSucceeded, HackFailed}},
		{name: "decrease ignored", new: Row{}, want: nil},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := ClassifyRow(base, tc.new)
			if len(got) != len(tc.want) {
				t.Fatalf("got %v want %v", got, tc.want)
			}
			for i := range got {
				if got[i] != tc.want[i] {
					t.Fatalf("got %v want %v", got, tc.want)
				}
			}
		})
	}
}

func TestDiff_IdenticalRowsYieldNothing(t *testing.T) {
	t.Parallel()

	r := rand.New(rand.NewSource(7))
	problems := []Problem{{Index: "A"}, {Index: "B"}, {Index: "C"}}
	for i := 0; i < 500; i++ {
		row := Row{
			Rank:              r.Intn(100),
			SuccessfulHacks:   r.Intn(3),
			UnsuccessfulHacks: r.Intn(3),
			Handles:           []string{"tourist"},
		}
		for range problems {
			row.Results = append(row.Results, randResult(r))
		}
		for _, ph := range allPhases {
			rows, changes := Diff(problems, row, row, ph)
			if len(rows) != 0 || len(changes) != 0 {
				t.Fatalf("identical rows produced events: %v %v", rows, changes)
			}
		}
	}
}

func TestDiff_HackOnlyScenario(t *testing.T) {
	t.Parallel()

	problems := []Problem{{Index: "A"}}
	old := Row{Results: []ProblemResult{pr(0, 0, Preliminary)}}
	new := Row{SuccessfulHacks: 1, Results: []ProblemResult{pr(0, 0, Preliminary)}}

	rows, changes := Diff(problems, old, new, PhaseCoding)
	if len(rows) != 1 || rows[0] != HackSucceeded {
		t.Fatalf("row events=%v", rows)
	}
	if len(changes) != 0 {
		t.Fatalf("problem events=%v", changes)
	}
}

func TestDiff_ZipsToShortest(t *testing.T) {
	t.Parallel()

	problems := []Problem{{Index: "A"}, {Index: "B"}}
	old := BaselineRow(2)
	new := Row{Results: []ProblemResult{pr(500, 0, Preliminary), pr(700, 0, Preliminary), pr(900, 0, Preliminary)}}

	_, changes := Diff(problems, old, new, PhaseCoding)
	if len(changes) != 2 {
		t.Fatalf("changes=%v", changes)
	}
	if changes[0].Problem.Index != "A" || changes[1].Problem.Index != "B" {
		t.Fatalf("order=%v", changes)
	}
}

func TestBaselineRow(t *testing.T) {
	t.Parallel()

	b := BaselineRow(3)
	if b.Rank != 0 || b.Points != 0 || b.Penalty != 0 || b.SuccessfulHacks != 0 || b.UnsuccessfulHacks != 0 {
		t.Fatalf("baseline not zero: %+v", b)
	}
	if len(b.Results) != 3 {
		t.Fatalf("results=%d", len(b.Results))
	}
	for _, r := range b.Results {
		if r.Points != 0 || r.RejectedAttempts != 0 || r.Type != Preliminary || r.BestSubmission != nil {
			t.Fatalf("result not zero: %+v", r)
		}
	}
	if len(BaselineRow(-1).Results) != 0 {
		t.Fatalf("negative count should clamp")
	}
}

func TestPhase(t *testing.T) {
	t.Parallel()

	if !PhaseBefore.Quiet() || !PhaseCoding.Quiet() || PhaseSystemTest.Quiet() || PhaseFinished.Quiet() {
		t.Fatalf("Quiet mismatch")
	}
	if got := Phase("SOME_NEW_PHASE").Label(); got != "Some new phase" {
		t.Fatalf("Label=%q", got)
	}
}

func TestRowHasHandle(t *testing.T) {
	t.Parallel()

	s := Snapshot{Rows: []Row{{Rank: 1, Handles: []string{"Petr", "tourist"}}, {Rank: 2, Handles: []string{"Tourist"}}}}
	row, ok := s.FindRow("TOURIST")
	if !ok || row.Rank != 1 {
		t.Fatalf("FindRow got %+v %v", row, ok)
	}
	if _, ok := s.FindRow("nobody"); ok {
		t.Fatalf("unexpected match")
	}
}
