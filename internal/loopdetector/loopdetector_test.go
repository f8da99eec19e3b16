package loopdetector

import "testing"

func TestRecordStepExecutionOkBelowMax(t *testing.T) {
	d := New(Thresholds{SimilarityThreshold: 0.9, FingerprintWindow: 8, MaxStepIterations: 3})
	for i := 0; i < 3; i++ {
		r := d.RecordStepExecution("judge")
		if r.Kind != ResultOK {
			t.Fatalf("iteration %d: expected ok, got %v", i, r.Kind)
		}
	}
}

func TestRecordStepExecutionExceedsMax(t *testing.T) {
	d := New(Thresholds{SimilarityThreshold: 0.9, FingerprintWindow: 8, MaxStepIterations: 2})
	d.RecordStepExecution("judge")
	d.RecordStepExecution("judge")
	r := d.RecordStepExecution("judge")
	if r.Kind != ResultStepIterationExceeded {
		t.Fatalf("expected step_iteration_exceeded, got %v", r.Kind)
	}
	if r.Max != 2 {
		t.Fatalf("expected max 2, got %d", r.Max)
	}
}

func TestRecordResponseDetectsSimilarText(t *testing.T) {
	d := New(Thresholds{SimilarityThreshold: 0.5, FingerprintWindow: 8, MaxStepIterations: 20})
	d.RecordResponse("worker", "implement the login handler and add tests")
	r := d.RecordResponse("worker", "implement the login handler and add more tests")
	if r.Kind != ResultSimilarResponse {
		t.Fatalf("expected similar_response, got %v (similarity=%v)", r.Kind, r.Similarity)
	}
}

func TestRecordResponseDistinctTextIsOk(t *testing.T) {
	d := New(Thresholds{SimilarityThreshold: 0.9, FingerprintWindow: 8, MaxStepIterations: 20})
	d.RecordResponse("worker", "implement the login handler")
	r := d.RecordResponse("worker", "refactor the database migration tooling entirely")
	if r.Kind != ResultOK {
		t.Fatalf("expected ok for dissimilar text, got %v", r.Kind)
	}
}

func TestRecordResponseWindowEvictsOldest(t *testing.T) {
	d := New(Thresholds{SimilarityThreshold: 0.9, FingerprintWindow: 1, MaxStepIterations: 20})
	d.RecordResponse("worker", "alpha bravo charlie delta")
	d.RecordResponse("worker", "echo foxtrot golf hotel")
	r := d.RecordResponse("worker", "alpha bravo charlie delta")
	if r.Kind != ResultOK {
		t.Fatalf("expected the first fingerprint to have been evicted from a window of size 1, got %v", r.Kind)
	}
}

func TestRecordTransitionReportsPattern(t *testing.T) {
	d := New(Thresholds{SimilarityThreshold: 0.9, FingerprintWindow: 8, MaxStepIterations: 2})
	d.RecordTransition("RUNNING", "READY", "continuation")
	d.RecordTransition("RUNNING", "READY", "continuation")
	r := d.RecordTransition("RUNNING", "READY", "continuation")
	if r.Kind != ResultTransitionPattern {
		t.Fatalf("expected transition_pattern, got %v", r.Kind)
	}
}

func TestDecideMapsResultsToActions(t *testing.T) {
	cases := []struct {
		result Result
		want   ActionKind
	}{
		{Result{Kind: ResultOK}, ActionOK},
		{Result{Kind: ResultStepIterationExceeded}, ActionAbort},
		{Result{Kind: ResultSimilarResponse}, ActionRetryWithHint},
		{Result{Kind: ResultTransitionPattern}, ActionEscalate},
	}
	for _, c := range cases {
		got := Decide(c.result)
		if got.Kind != c.want {
			t.Fatalf("Decide(%v) = %v, want %v", c.result.Kind, got.Kind, c.want)
		}
	}
}

func TestDefaultThresholds(t *testing.T) {
	th := DefaultThresholds()
	if th.SimilarityThreshold != 0.9 || th.FingerprintWindow != 64 || th.MaxStepIterations != 20 {
		t.Fatalf("unexpected defaults: %+v", th)
	}
}
