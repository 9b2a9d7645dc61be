package engine

import (
	"math"
	"testing"
)

func TestRelativeChangeFloorsDenominator(t *testing.T) {
	c := NewConvergenceChecker(0.01, 0.1)

	// prev=0 would divide by zero without the floor.
	if got, want := c.RelativeChange(0, 0.1), 1.0; got != want {
		t.Errorf("RelativeChange(0, 0.1) = %v, want %v", got, want)
	}
	if got, want := c.RelativeChange(100, 101), 0.01; math.Abs(got-want) > 1e-12 {
		t.Errorf("RelativeChange(100, 101) = %v, want %v", got, want)
	}
	// Negative previous values use the absolute value.
	if got, want := c.RelativeChange(-100, -101), 0.01; math.Abs(got-want) > 1e-12 {
		t.Errorf("RelativeChange(-100, -101) = %v, want %v", got, want)
	}
}

func TestConvergedStrictThreshold(t *testing.T) {
	c := NewConvergenceChecker(0.01, 0.1)

	// Exactly at the threshold is not converged.
	if c.Converged(100, 101) {
		t.Error("relative change equal to threshold must not converge")
	}
	if !c.Converged(100, 100.5) {
		t.Error("relative change below threshold must converge")
	}
	if c.Converged(100, 110) {
		t.Error("relative change above threshold must not converge")
	}
}

func TestCheckRecordIdempotentRound(t *testing.T) {
	c := NewConvergenceChecker(0.01, 0.1)
	rec := &IterationRecord{Property: "UTS", Status: StatusNotConverged}

	rec.Append(1, 850)
	if c.CheckRecord(rec, 1) {
		t.Fatal("single value must not converge")
	}

	// 5/850 ≈ 0.0059 < 0.01: converged at round 2.
	rec.Append(2, 855)
	if !c.CheckRecord(rec, 2) {
		t.Fatal("expected convergence at round 2")
	}
	if rec.ConvergedAtRound != 2 {
		t.Fatalf("ConvergedAtRound = %d, want 2", rec.ConvergedAtRound)
	}

	// Later checks keep the original round.
	rec.Append(3, 856)
	if !c.CheckRecord(rec, 3) {
		t.Fatal("converged record must stay converged")
	}
	if rec.ConvergedAtRound != 2 {
		t.Errorf("ConvergedAtRound = %d after later check, want 2", rec.ConvergedAtRound)
	}
}

func TestCheckSampleRequiresAllProperties(t *testing.T) {
	c := NewConvergenceChecker(0.01, 0.1)
	state := NewSampleRunState("s1", []string{"UTS", "El"})

	state.Records["UTS"].Append(1, 850)
	state.Records["UTS"].Append(2, 851)
	state.Records["El"].Append(1, 4.0)
	state.Records["El"].Append(2, 5.0)

	// UTS converged, El did not: the sample stays active.
	if c.CheckSample(state, 2) {
		t.Fatal("sample must not converge while one property is unstable")
	}
	if state.Excluded {
		t.Fatal("partially converged sample must stay active")
	}

	state.Records["El"].Append(3, 5.01)
	state.Records["UTS"].Append(3, 851.5)
	if !c.CheckSample(state, 3) {
		t.Fatal("expected sample convergence once every property stabilized")
	}
	if !state.Excluded {
		t.Error("converged sample must be excluded from further rounds")
	}
	if state.ConvergedAtRound != 3 {
		t.Errorf("sample ConvergedAtRound = %d, want 3", state.ConvergedAtRound)
	}
	// The property that stabilized first keeps its earlier round.
	if got := state.Records["UTS"].ConvergedAtRound; got != 2 {
		t.Errorf("UTS ConvergedAtRound = %d, want 2", got)
	}
}

func TestTrail(t *testing.T) {
	c := NewConvergenceChecker(0.01, 0.1)

	if trail := c.Trail([]float64{850}); trail != nil {
		t.Fatalf("single value trail = %v, want nil", trail)
	}
	trail := c.Trail([]float64{850, 855, 857})
	if len(trail) != 2 {
		t.Fatalf("trail length = %d, want 2", len(trail))
	}
	if want := 5.0 / 850.0; math.Abs(trail[0]-want) > 1e-12 {
		t.Errorf("trail[0] = %v, want %v", trail[0], want)
	}
}

func TestAppendAtMostOncePerRound(t *testing.T) {
	rec := &IterationRecord{Property: "UTS"}
	rec.Append(1, 850)
	rec.Append(1, 999)
	rec.Append(3, 860) // round 2 failed, gap is fine

	if len(rec.Values) != 2 {
		t.Fatalf("values = %v, want two entries", rec.Values)
	}
	if rec.Values[0] != 850 || rec.Values[1] != 860 {
		t.Errorf("values = %v, want [850 860]", rec.Values)
	}
	if rec.Rounds[1] != 3 {
		t.Errorf("rounds = %v, want [1 3]", rec.Rounds)
	}
}
