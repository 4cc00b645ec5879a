package isoforest

import (
	"testing"
)

// grid returns a deterministic cloud of points near the origin.
func grid() [][]float64 {
	var points [][]float64
	for i := 0; i < 7; i++ {
		for j := 0; j < 7; j++ {
			points = append(points, []float64{float64(i) / 10, float64(j) / 10})
		}
	}
	return points
}

func TestScoresIsolateDistantPoint(t *testing.T) {
	points := append(grid(), []float64{10, 10})
	outlier := len(points) - 1

	f := Fit(points, 100, 256, 1)
	scores := f.Scores(points)

	if len(scores) != len(points) {
		t.Fatalf("got %d scores for %d points", len(scores), len(points))
	}
	for i, s := range scores {
		if s < 0 || s > 1 {
			t.Fatalf("score[%d] = %g out of [0,1]", i, s)
		}
		if i != outlier && scores[outlier] <= s {
			t.Errorf("inlier %d scored %g, not below outlier %g", i, s, scores[outlier])
		}
	}
	if scores[outlier] < 0.6 {
		t.Errorf("distant point scored %g, want clearly anomalous", scores[outlier])
	}
}

func TestFitDeterministic(t *testing.T) {
	points := append(grid(), []float64{5, -5})

	a := Fit(points, 50, 32, 7).Scores(points)
	b := Fit(points, 50, 32, 7).Scores(points)
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("score[%d] differs across identical fits: %g vs %g", i, a[i], b[i])
		}
	}
}

func TestFitDegenerateInputs(t *testing.T) {
	if scores := Fit(nil, 10, 16, 1).Scores(nil); len(scores) != 0 {
		t.Errorf("empty fit produced %d scores", len(scores))
	}

	// All-identical points: nothing isolates, scores stay flat.
	same := [][]float64{{1, 1}, {1, 1}, {1, 1}, {1, 1}}
	scores := Fit(same, 10, 4, 1).Scores(same)
	for i := 1; i < len(scores); i++ {
		if scores[i] != scores[0] {
			t.Errorf("identical points scored differently: %g vs %g", scores[0], scores[i])
		}
	}
}
