package engine

import (
	"strings"
	"testing"
)

func newTestComposer() *Composer {
	return NewComposer(NewConvergenceChecker(0.01, 0.1))
}

func TestComposeZeroShotOmitsReferences(t *testing.T) {
	c := newTestComposer()
	out := c.Compose(ComposeInput{
		Sample:     Sample{ID: "s1", Features: map[string]float64{"Al": 5.5, "Zn": 0.2}},
		Properties: []string{"UTS"},
		Round:      1,
	})

	if strings.Contains(out, "Reference Samples:") {
		t.Error("zero-shot request must omit the reference heading entirely")
	}
	if strings.Contains(out, "Processing:") {
		t.Error("empty processing must omit its line")
	}
	if !strings.Contains(out, "- Al: 5.5") {
		t.Errorf("features missing from request:\n%s", out)
	}
	if !strings.Contains(out, "Target Properties: UTS") {
		t.Errorf("target properties missing from request:\n%s", out)
	}
}

func TestComposeReferencesSection(t *testing.T) {
	c := newTestComposer()
	out := c.Compose(ComposeInput{
		Sample:     Sample{ID: "s1", Features: map[string]float64{"Al": 5.5}, Processing: "T6 temper"},
		Properties: []string{"UTS"},
		Round:      1,
		References: []Reference{{
			SampleID:    "ref1",
			Features:    map[string]float64{"Al": 5.4},
			KnownValues: map[string]float64{"UTS": 640},
			Similarity:  0.97,
		}},
	})

	if !strings.Contains(out, "Reference Samples:") {
		t.Fatalf("reference heading missing:\n%s", out)
	}
	if !strings.Contains(out, "Known Values: UTS: 640") {
		t.Errorf("reference known values missing:\n%s", out)
	}
	if !strings.Contains(out, "Processing: T6 temper") {
		t.Errorf("sample processing line missing:\n%s", out)
	}
}

func TestComposeHistoryOnLaterRounds(t *testing.T) {
	c := newTestComposer()
	state := NewSampleRunState("s1", []string{"UTS"})
	state.Records["UTS"].Append(1, 850)
	state.Records["UTS"].Append(2, 855)

	first := c.Compose(ComposeInput{
		Sample:     Sample{ID: "s1", Features: map[string]float64{"Al": 5.5}},
		Properties: []string{"UTS"},
		Round:      1,
	})
	if strings.Contains(first, "Prediction History:") {
		t.Error("round 1 must not carry a history section")
	}

	third := c.Compose(ComposeInput{
		Sample:     Sample{ID: "s1", Features: map[string]float64{"Al": 5.5}},
		Properties: []string{"UTS"},
		Round:      3,
		State:      state,
	})
	if !strings.Contains(third, "Prediction History:") {
		t.Fatalf("round 3 must carry a history section:\n%s", third)
	}
	if !strings.Contains(third, "previous predictions [850, 855]") {
		t.Errorf("history values missing:\n%s", third)
	}
	if !strings.Contains(third, "relative changes [") {
		t.Errorf("relative-change trail missing:\n%s", third)
	}
	if !strings.Contains(third, "converging, oscillating, or diverging") {
		t.Errorf("trend-reconcile instruction missing:\n%s", third)
	}
}

func TestComposeHistoryEmptyWhenNoValues(t *testing.T) {
	c := newTestComposer()
	state := NewSampleRunState("s1", []string{"UTS"})

	// Round 2 after a failed round 1: no values yet, no heading.
	out := c.Compose(ComposeInput{
		Sample:     Sample{ID: "s1", Features: map[string]float64{"Al": 5.5}},
		Properties: []string{"UTS"},
		Round:      2,
		State:      state,
	})
	if strings.Contains(out, "Prediction History:") {
		t.Errorf("empty history must omit its heading:\n%s", out)
	}
}

func TestComposeOutputFormatStableAcrossRounds(t *testing.T) {
	c := newTestComposer()
	state := NewSampleRunState("s1", []string{"UTS", "El"})
	state.Records["UTS"].Append(1, 850)
	state.Records["El"].Append(1, 4.5)

	in := ComposeInput{
		Sample:     Sample{ID: "s1", Features: map[string]float64{"Al": 5.5}},
		Properties: []string{"UTS", "El"},
	}

	extract := func(request string) string {
		idx := strings.Index(request, "Output Format:")
		if idx < 0 {
			t.Fatalf("output format section missing:\n%s", request)
		}
		return request[idx:]
	}

	in.Round = 1
	first := extract(c.Compose(in))
	in.Round = 2
	in.State = state
	second := extract(c.Compose(in))

	if first != second {
		t.Errorf("output format instruction changed between rounds:\n%q\nvs\n%q", first, second)
	}
	if !strings.Contains(first, `{"predictions": {"UTS": <number>, "El": <number>}}`) {
		t.Errorf("format instruction = %q", first)
	}
}
