package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/YuminosukeSato/dircal/pkg/errors"
	"github.com/YuminosukeSato/dircal/sklearn/calibration"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	cal, err := cfg.Calibration()
	require.NoError(t, err)
	def := calibration.DefaultConfig()
	assert.Equal(t, def.MatrixType, cal.MatrixType)
	assert.Equal(t, def.L2, cal.L2)
	assert.Equal(t, def.Solver, cal.Solver)
	assert.Equal(t, def.RandomState, cal.RandomState)
}

func TestLoadPartialYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cal.yaml")
	data := `matrix_type: diagonal
l2: [0, 0.001, 0.01]
regularization:
  comp_l2: true
solver:
  method: bfgs
  max_iter: 50
random_state: 0
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	cal, err := cfg.Calibration()
	require.NoError(t, err)
	assert.Equal(t, calibration.Diagonal, cal.MatrixType)
	assert.Equal(t, []float64{0, 0.001, 0.01}, cal.L2)
	assert.True(t, cal.Regularization.CompL2)
	assert.Equal(t, "bfgs", cal.Solver.Method)
	assert.Equal(t, 50, cal.Solver.MaxIter)
	assert.Equal(t, int64(0), cal.RandomState)

	def := calibration.DefaultSolverConfig()
	assert.Equal(t, def.GradTol, cal.Solver.GradTol)
	assert.Equal(t, def.Patience, cal.Solver.Patience)
	assert.Equal(t, calibration.DefaultEpsilon, cal.Epsilon)
	assert.Equal(t, 15, cfg.Bins)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestApplyOverrides(t *testing.T) {
	cfg := DefaultFileConfig()
	err := cfg.ApplyOverrides(Overrides{
		MatrixType:  "fixed_diagonal",
		L2:          "0, 1e-3,1e-2",
		Initializer: "random",
		CompL2:      true,
		HasCompL2:   true,
		Seed:        7,
		HasSeed:     true,
		Bins:        10,
	})
	require.NoError(t, err)

	assert.Equal(t, "fixed_diagonal", cfg.MatrixType)
	assert.Equal(t, []float64{0, 1e-3, 1e-2}, cfg.L2)
	assert.Equal(t, "random", cfg.Initializer)
	assert.True(t, cfg.Regularization.CompL2)
	require.NotNil(t, cfg.RandomState)
	assert.Equal(t, int64(7), *cfg.RandomState)
	assert.Equal(t, 10, cfg.Bins)

	before := *DefaultFileConfig()
	untouched := DefaultFileConfig()
	require.NoError(t, untouched.ApplyOverrides(Overrides{}))
	assert.Equal(t, before.MatrixType, untouched.MatrixType)
	assert.Equal(t, *before.RandomState, *untouched.RandomState)

	assert.Error(t, cfg.ApplyOverrides(Overrides{L2: "abc"}))
	assert.Error(t, cfg.ApplyOverrides(Overrides{L2: ","}))
}

func TestApplyOverridesCompL2Flag(t *testing.T) {
	cfg := DefaultFileConfig()
	cfg.Regularization.CompL2 = true

	require.NoError(t, cfg.ApplyOverrides(Overrides{}))
	assert.True(t, cfg.Regularization.CompL2, "unset flag keeps the file value")

	require.NoError(t, cfg.ApplyOverrides(Overrides{CompL2: false, HasCompL2: true}))
	assert.False(t, cfg.Regularization.CompL2)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*FileConfig)
	}{
		{"unknown matrix type", func(c *FileConfig) { c.MatrixType = "triangular" }},
		{"negative l2", func(c *FileConfig) { c.L2 = []float64{-1} }},
		{"unknown initializer", func(c *FileConfig) { c.Initializer = "zeros" }},
		{"unknown solver", func(c *FileConfig) { c.Solver.Method = "sgd" }},
		{"non-positive bins", func(c *FileConfig) { c.Bins = -1 }},
		{"epsilon out of range", func(c *FileConfig) { c.Epsilon = 2 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultFileConfig()
			tt.modify(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.True(t, errors.IsConfigurationError(err), "got %T: %v", err, err)
		})
	}

	var nilCfg *FileConfig
	assert.Error(t, nilCfg.Validate())
}
