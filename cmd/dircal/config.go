package main

import (
	"os"
	"strconv"
	"strings"

	"github.com/goccy/go-yaml"

	"github.com/YuminosukeSato/dircal/pkg/errors"
	"github.com/YuminosukeSato/dircal/sklearn/calibration"
)

// FileConfig is the YAML form of a calibration run.
type FileConfig struct {
	MatrixType     string                           `yaml:"matrix_type"`
	L2             []float64                        `yaml:"l2"`
	Initializer    string                           `yaml:"initializer"`
	Regularization calibration.RegularizationPolicy `yaml:"regularization"`
	Solver         calibration.SolverConfig         `yaml:"solver"`
	Epsilon        float64                          `yaml:"epsilon"`
	RandomState    *int64                           `yaml:"random_state"`
	Bins           int                              `yaml:"bins"`
	LogLevel       string                           `yaml:"log_level"`
}

// Overrides captures CLI supplied values.
type Overrides struct {
	MatrixType  string
	L2          string
	Initializer string
	CompL2      bool
	HasCompL2   bool
	Seed        int64
	HasSeed     bool
	Bins        int
	LogLevel    string
}

// DefaultFileConfig mirrors calibration.DefaultConfig.
func DefaultFileConfig() *FileConfig {
	def := calibration.DefaultConfig()
	seed := def.RandomState
	return &FileConfig{
		MatrixType:  def.MatrixType.String(),
		L2:          def.L2,
		Initializer: "identity",
		Solver:      def.Solver,
		Epsilon:     def.Epsilon,
		RandomState: &seed,
		Bins:        15,
		LogLevel:    "info",
	}
}

// Load reads a FileConfig from YAML. An empty path yields the defaults.
// Keys absent from the file keep their default values.
func Load(path string) (*FileConfig, error) {
	if path == "" {
		return DefaultFileConfig(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "open config")
	}
	return parseConfig(data)
}

func parseConfig(data []byte) (*FileConfig, error) {
	cfg := &FileConfig{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errors.Wrap(err, "parse config")
	}
	cfg.fillDefaults()
	return cfg, nil
}

func (c *FileConfig) fillDefaults() {
	def := DefaultFileConfig()
	if c.MatrixType == "" {
		c.MatrixType = def.MatrixType
	}
	if len(c.L2) == 0 {
		c.L2 = def.L2
	}
	if c.Initializer == "" {
		c.Initializer = def.Initializer
	}
	if c.Epsilon == 0 {
		c.Epsilon = def.Epsilon
	}
	if c.RandomState == nil {
		c.RandomState = def.RandomState
	}
	if c.Bins == 0 {
		c.Bins = def.Bins
	}
	if c.LogLevel == "" {
		c.LogLevel = def.LogLevel
	}

	s, ds := &c.Solver, def.Solver
	if s.Method == "" {
		s.Method = ds.Method
	}
	if s.MaxIter == 0 {
		s.MaxIter = ds.MaxIter
	}
	if s.GradTol == 0 {
		s.GradTol = ds.GradTol
	}
	if s.FuncTol == 0 {
		s.FuncTol = ds.FuncTol
	}
	if s.FuncTolIterations == 0 {
		s.FuncTolIterations = ds.FuncTolIterations
	}
	if s.StallGradTol == 0 {
		s.StallGradTol = ds.StallGradTol
	}
	if s.ValidationInterval == 0 {
		s.ValidationInterval = ds.ValidationInterval
	}
	if s.Patience == 0 {
		s.Patience = ds.Patience
	}
}

// ApplyOverrides updates c using any non-zero override.
func (c *FileConfig) ApplyOverrides(o Overrides) error {
	if o.MatrixType != "" {
		c.MatrixType = o.MatrixType
	}
	if o.L2 != "" {
		grid, err := parseGrid(o.L2)
		if err != nil {
			return err
		}
		c.L2 = grid
	}
	if o.Initializer != "" {
		c.Initializer = o.Initializer
	}
	if o.HasCompL2 {
		c.Regularization.CompL2 = o.CompL2
	}
	if o.HasSeed {
		seed := o.Seed
		c.RandomState = &seed
	}
	if o.Bins > 0 {
		c.Bins = o.Bins
	}
	if o.LogLevel != "" {
		c.LogLevel = o.LogLevel
	}
	return nil
}

// parseGrid parses a comma separated list such as "0,1e-3,1e-2".
func parseGrid(s string) ([]float64, error) {
	parts := strings.Split(s, ",")
	grid := make([]float64, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		v, err := strconv.ParseFloat(p, 64)
		if err != nil {
			return nil, errors.NewConfigurationError("l2", "not a number", p)
		}
		grid = append(grid, v)
	}
	if len(grid) == 0 {
		return nil, errors.NewConfigurationError("l2", "at least one value is required", s)
	}
	return grid, nil
}

// Calibration converts c into a validated calibration.Config.
func (c *FileConfig) Calibration() (calibration.Config, error) {
	mt, err := calibration.ParseMatrixType(c.MatrixType)
	if err != nil {
		return calibration.Config{}, err
	}
	initializer, err := calibration.ParseInitializer(c.Initializer)
	if err != nil {
		return calibration.Config{}, err
	}

	cfg := calibration.DefaultConfig()
	cfg.MatrixType = mt
	cfg.L2 = append([]float64(nil), c.L2...)
	cfg.Initializer = initializer
	cfg.Regularization = c.Regularization
	cfg.Solver = c.Solver
	cfg.Epsilon = c.Epsilon
	if c.RandomState != nil {
		cfg.RandomState = *c.RandomState
	}
	return cfg, nil
}

// Validate verifies the config is runnable.
func (c *FileConfig) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}
	if c.Bins <= 0 {
		return errors.NewConfigurationError("bins", "must be > 0", c.Bins)
	}
	cfg, err := c.Calibration()
	if err != nil {
		return err
	}
	return cfg.Validate()
}
