package model

import (
	"bytes"
	"errors"
	"math"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	scierrors "github.com/YuminosukeSato/dircal/pkg/errors"
)

func sampleWeights() *CalibratorWeights {
	return &CalibratorWeights{
		ModelType:  "DirichletCalibrator",
		Version:    WeightsFormatVersion,
		MatrixType: "full",
		Weights: [][]float64{
			{1.0000000000000002, -0.1, 0.3333333333333333},
			{0.2, 0.9, math.Pi},
			{-1e-300, 0.1 + 0.2, 1},
		},
		Intercept:   []float64{0.1, -0.7, 5e-324},
		SelectedL2:  0.01,
		Initializer: "identity",
		Hyperparameters: map[string]string{
			"comp_l2": "false",
		},
		Metrics: map[string]float64{"train_loss": 0.53},
	}
}

func TestCalibratorWeightsJSONRoundTrip(t *testing.T) {
	w := sampleWeights()

	data, err := w.ToJSON()
	if err != nil {
		t.Fatalf("ToJSON: %v", err)
	}

	var got CalibratorWeights
	if err := got.FromJSON(data); err != nil {
		t.Fatalf("FromJSON: %v", err)
	}

	if got.Hash() != w.Hash() {
		t.Errorf("weights changed across JSON round trip:\n%s", data)
	}
	if got.MatrixType != "full" || got.SelectedL2 != 0.01 {
		t.Errorf("metadata changed: %+v", got)
	}
	if got.NumClasses() != 3 {
		t.Errorf("NumClasses = %d", got.NumClasses())
	}
}

func TestCalibratorWeightsGobRoundTrip(t *testing.T) {
	w := sampleWeights()

	var buf bytes.Buffer
	if err := SaveModelToWriter(w, &buf); err != nil {
		t.Fatalf("SaveModelToWriter: %v", err)
	}
	var got CalibratorWeights
	if err := LoadModelFromReader(&got, &buf); err != nil {
		t.Fatalf("LoadModelFromReader: %v", err)
	}
	if got.Hash() != w.Hash() {
		t.Error("weights changed across gob round trip")
	}

	path := filepath.Join(t.TempDir(), "calibrator.gob")
	if err := SaveModel(w, path); err != nil {
		t.Fatalf("SaveModel: %v", err)
	}
	var fromFile CalibratorWeights
	if err := LoadModel(&fromFile, path); err != nil {
		t.Fatalf("LoadModel: %v", err)
	}
	if fromFile.Hash() != w.Hash() {
		t.Error("weights changed across file round trip")
	}
}

func TestCalibratorWeightsValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*CalibratorWeights)
		wantErr string
	}{
		{"valid", func(*CalibratorWeights) {}, ""},
		{"missing type", func(w *CalibratorWeights) { w.ModelType = "" }, "model_type"},
		{"missing matrix type", func(w *CalibratorWeights) { w.MatrixType = "" }, "matrix_type"},
		{"ragged", func(w *CalibratorWeights) { w.Weights[1] = w.Weights[1][:2] }, "row 1"},
		{"row count", func(w *CalibratorWeights) { w.Weights = w.Weights[:2] }, "3 rows"},
		{"nan weight", func(w *CalibratorWeights) { w.Weights[0][0] = math.NaN() }, "non-finite"},
		{"inf intercept", func(w *CalibratorWeights) { w.Intercept[2] = math.Inf(1) }, "non-finite"},
		{"negative l2", func(w *CalibratorWeights) { w.SelectedL2 = -1 }, "selected_l2"},
		{"one class", func(w *CalibratorWeights) {
			w.Intercept = w.Intercept[:1]
			w.Weights = [][]float64{{1}}
		}, "at least 2"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := sampleWeights()
			tt.mutate(w)
			err := w.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() = %v, want error containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestStateManagerPublish(t *testing.T) {
	s := NewStateManager()

	err := s.RequireFitted("DirichletCalibrator", "PredictProba")
	var notFitted *scierrors.NotFittedError
	if !errors.As(err, &notFitted) {
		t.Fatalf("expected NotFittedError, got %v", err)
	}

	if err := s.Publish(3, 100, func() error { return nil }); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if k, n := s.GetDimensions(); k != 3 || n != 100 {
		t.Errorf("dimensions = (%d, %d)", k, n)
	}

	// 失敗した公開は以前の状態を保持する
	failure := errors.New("fit failed")
	if err := s.Publish(5, 7, func() error { return failure }); err != failure {
		t.Fatalf("Publish should return fn's error, got %v", err)
	}
	if state := s.GetState(); !state.Fitted || state.NClasses != 3 || state.NSamples != 100 {
		t.Errorf("failed publish modified the state: %+v", state)
	}

}

func TestStateManagerConcurrentReaders(t *testing.T) {
	s := NewStateManager()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			_ = s.Publish(i+2, i*10, func() error { return nil })
		}(i)
		go func() {
			defer wg.Done()
			_ = s.WithState(func() error {
				_ = s.Fitted
				return nil
			})
		}()
	}
	wg.Wait()
	if !s.IsFitted() {
		t.Error("expected fitted state after concurrent publishes")
	}
}
