// Command dircal fits Dirichlet calibrators on scored CSV files and applies
// saved calibrators to new scores.
//
//	dircal fit -config cal.yaml -train train.csv [-val val.csv] -out model.json [-plot rel.png]
//	dircal apply -model model.json -in scores.csv -out calibrated.csv
package main

import (
	"flag"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/dircal/core/model"
	"github.com/YuminosukeSato/dircal/metrics"
	"github.com/YuminosukeSato/dircal/pkg/errors"
	"github.com/YuminosukeSato/dircal/pkg/log"
	"github.com/YuminosukeSato/dircal/sklearn/calibration"
)

const usage = `usage:
  dircal fit -train train.csv [-val val.csv] -out model.json [-config cal.yaml] [-plot rel.png] [-report report.json]
  dircal apply -model model.json -in scores.csv -out calibrated.csv`

func main() {
	if err := run(os.Args[1:], os.Stdout, os.Stderr); err != nil {
		fmt.Fprintln(os.Stderr, "dircal:", err)
		os.Exit(1)
	}
}

func run(args []string, stdout, stderr io.Writer) error {
	if len(args) == 0 {
		fmt.Fprintln(stderr, usage)
		return errors.New("missing subcommand")
	}
	switch args[0] {
	case "fit":
		return runFit(args[1:], stdout, stderr)
	case "apply":
		return runApply(args[1:], stderr)
	case "-h", "-help", "--help", "help":
		fmt.Fprintln(stdout, usage)
		return nil
	default:
		fmt.Fprintln(stderr, usage)
		return errors.Newf("unknown subcommand %q", args[0])
	}
}

// Scores summarises one probability matrix against its labels.
type Scores struct {
	LogLoss      float64 `json:"log_loss"`
	ECE          float64 `json:"ece"`
	ClasswiseECE float64 `json:"classwise_ece"`
	Brier        float64 `json:"brier"`
	Accuracy     float64 `json:"accuracy"`
}

// Candidate is one l2 grid point. ValidationLoss is omitted when the grid
// had a single value and no validation loss was computed.
type Candidate struct {
	L2             float64  `json:"l2"`
	TrainLoss      float64  `json:"train_loss"`
	ValidationLoss *float64 `json:"validation_loss,omitempty"`
	State          string   `json:"state"`
	Iterations     int      `json:"iterations"`
}

func candidates(results []calibration.CandidateResult) []Candidate {
	out := make([]Candidate, len(results))
	for i, r := range results {
		out[i] = Candidate{
			L2:         r.L2,
			TrainLoss:  r.TrainLoss,
			State:      r.Report.State.String(),
			Iterations: r.Report.Iterations,
		}
		if !math.IsNaN(r.ValidationLoss) && !math.IsInf(r.ValidationLoss, 0) {
			v := r.ValidationLoss
			out[i].ValidationLoss = &v
		}
	}
	return out
}

// ReliabilityReport holds the reliability curves on the evaluation set.
type ReliabilityReport struct {
	Before []metrics.ReliabilityBin `json:"before"`
	After  []metrics.ReliabilityBin `json:"after"`
}

// Report is written by "fit -report".
type Report struct {
	ModelHash   string            `json:"model_hash"`
	MatrixType  string            `json:"matrix_type"`
	Classes     int               `json:"classes"`
	Samples     int               `json:"samples"`
	EvalSet     string            `json:"eval_set"`
	SelectedL2  float64           `json:"selected_l2"`
	State       string            `json:"state"`
	Iterations  int               `json:"iterations"`
	Before      Scores            `json:"before"`
	After       Scores            `json:"after"`
	Candidates  []Candidate       `json:"candidates"`
	Reliability ReliabilityReport `json:"reliability"`
}

func score(y, P mat.Matrix, bins int) (Scores, error) {
	var s Scores
	var err error
	if s.LogLoss, err = metrics.LogLoss(y, P); err != nil {
		return s, err
	}
	if s.ECE, err = metrics.ExpectedCalibrationError(y, P, bins); err != nil {
		return s, err
	}
	if s.ClasswiseECE, err = metrics.ClasswiseECE(y, P, bins); err != nil {
		return s, err
	}
	if s.Brier, err = metrics.BrierScore(y, P); err != nil {
		return s, err
	}
	if s.Accuracy, err = metrics.Accuracy(y, P); err != nil {
		return s, err
	}
	return s, nil
}

func setupLogging(level string, stderr io.Writer) (log.Logger, error) {
	lvl, err := log.ParseLevel(level)
	if err != nil {
		return nil, err
	}
	log.SetProvider(log.NewConsoleProvider(stderr, lvl))
	log.InstallWarningHook()
	return log.GetLoggerWithName("dircal"), nil
}

// expand turns a single probability column into [1-p, p].
func expand(P *mat.Dense) *mat.Dense {
	if _, k := P.Dims(); k == 1 {
		return calibration.ExpandBinary(P)
	}
	return P
}

func runFit(args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("fit", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "", "YAML config file")
	trainPath := fs.String("train", "", "training CSV (label,p_0,...)")
	valPath := fs.String("val", "", "validation CSV for l2 selection and reporting")
	outPath := fs.String("out", "", "output model (.json or .gob)")
	plotPath := fs.String("plot", "", "reliability diagram image (.png, .svg, .pdf)")
	reportPath := fs.String("report", "", "JSON report with scores before and after calibration")
	var o Overrides
	fs.StringVar(&o.MatrixType, "matrix", "", "matrix type: full|diagonal|fixed_diagonal")
	fs.StringVar(&o.L2, "l2", "", "comma separated l2 grid")
	fs.StringVar(&o.Initializer, "init", "", "initializer: identity|random")
	fs.BoolVar(&o.CompL2, "comp_l2", false, "penalise off-diagonal entries and intercepts only")
	fs.Int64Var(&o.Seed, "seed", 0, "random seed")
	fs.IntVar(&o.Bins, "bins", 0, "number of calibration-error bins")
	fs.StringVar(&o.LogLevel, "log_level", "", "debug|info|warn|error")
	if err := fs.Parse(args); err != nil {
		return err
	}
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "seed":
			o.HasSeed = true
		case "comp_l2":
			o.HasCompL2 = true
		}
	})
	if *trainPath == "" || *outPath == "" {
		return errors.New("fit requires -train and -out")
	}

	fc, err := Load(*configPath)
	if err != nil {
		return err
	}
	if err := fc.ApplyOverrides(o); err != nil {
		return err
	}
	if err := fc.Validate(); err != nil {
		return err
	}
	logger, err := setupLogging(fc.LogLevel, stderr)
	if err != nil {
		return err
	}
	cfg, err := fc.Calibration()
	if err != nil {
		return err
	}
	cfg.Logger = logger.With(log.ComponentKey, "calibration")

	X, y, err := readScores(*trainPath, true)
	if err != nil {
		return err
	}
	X = expand(X)
	evalX, evalY, evalSet := X, y, "train"

	var opts []calibration.FitOption
	if *valPath != "" {
		XVal, yVal, err := readScores(*valPath, true)
		if err != nil {
			return err
		}
		XVal = expand(XVal)
		opts = append(opts, calibration.WithValidation(XVal, yVal))
		evalX, evalY, evalSet = XVal, yVal, "validation"
	}

	start := time.Now()
	state, err := calibration.Fit(X, y, cfg, opts...)
	if err != nil {
		return err
	}
	n, k := X.Dims()
	logger.Info("Calibrator fitted",
		log.MatrixTypeKey, state.MatrixType().String(),
		log.SamplesKey, n,
		log.ClassesKey, k,
		log.L2Key, state.SelectedL2(),
		log.DurationMsKey, time.Since(start).Milliseconds(),
	)

	calibrated, err := calibration.PredictProba(state, evalX)
	if err != nil {
		return err
	}
	weights := state.ExportWeights()
	report := Report{
		ModelHash:  weights.Hash(),
		MatrixType: state.MatrixType().String(),
		Classes:    k,
		Samples:    n,
		EvalSet:    evalSet,
		SelectedL2: state.SelectedL2(),
		State:      state.Report().State.String(),
		Iterations: state.Report().Iterations,
		Candidates: candidates(state.Candidates()),
	}
	if report.Before, err = score(evalY, evalX, fc.Bins); err != nil {
		return err
	}
	if report.After, err = score(evalY, calibrated, fc.Bins); err != nil {
		return err
	}
	if report.Reliability.Before, err = metrics.ReliabilityCurve(evalY, evalX, fc.Bins); err != nil {
		return err
	}
	if report.Reliability.After, err = metrics.ReliabilityCurve(evalY, calibrated, fc.Bins); err != nil {
		return err
	}

	fmt.Fprintf(stdout, "%-14s %12s %12s\n", "metric ("+evalSet+")", "before", "after")
	fmt.Fprintf(stdout, "%-14s %12.6f %12.6f\n", "log_loss", report.Before.LogLoss, report.After.LogLoss)
	fmt.Fprintf(stdout, "%-14s %12.6f %12.6f\n", "ece", report.Before.ECE, report.After.ECE)
	fmt.Fprintf(stdout, "%-14s %12.6f %12.6f\n", "classwise_ece", report.Before.ClasswiseECE, report.After.ClasswiseECE)
	fmt.Fprintf(stdout, "%-14s %12.6f %12.6f\n", "brier", report.Before.Brier, report.After.Brier)
	fmt.Fprintf(stdout, "%-14s %12.6f %12.6f\n", "accuracy", report.Before.Accuracy, report.After.Accuracy)

	if err := saveWeights(*outPath, weights); err != nil {
		return err
	}
	logger.Info("Model saved", log.ModelHashKey, report.ModelHash, "path", *outPath)
	if *plotPath != "" {
		if err := plotReliability(*plotPath, report.Reliability.Before, report.Reliability.After); err != nil {
			return errors.Wrap(err, "plot reliability diagram")
		}
	}
	if *reportPath != "" {
		data, err := json.MarshalIndent(report, "", "  ")
		if err != nil {
			return err
		}
		if err := os.WriteFile(*reportPath, data, 0o644); err != nil {
			return errors.Wrapf(err, "write %s", *reportPath)
		}
	}
	return nil
}

func runApply(args []string, stderr io.Writer) error {
	fs := flag.NewFlagSet("apply", flag.ContinueOnError)
	fs.SetOutput(stderr)
	modelPath := fs.String("model", "", "model written by fit (.json or .gob)")
	inPath := fs.String("in", "", "input CSV (p_0,...)")
	outPath := fs.String("out", "", "output CSV of calibrated probabilities")
	logLevel := fs.String("log_level", "info", "debug|info|warn|error")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *modelPath == "" || *inPath == "" || *outPath == "" {
		return errors.New("apply requires -model, -in and -out")
	}
	logger, err := setupLogging(*logLevel, stderr)
	if err != nil {
		return err
	}

	cw, err := loadWeights(*modelPath)
	if err != nil {
		return err
	}
	state, err := calibration.FromWeights(cw)
	if err != nil {
		return err
	}

	P, _, err := readScores(*inPath, false)
	if err != nil {
		return err
	}
	_, inCols := P.Dims()
	calibrated, err := calibration.PredictProba(state, expand(P))
	if err != nil {
		return err
	}

	var out mat.Matrix = calibrated
	if inCols == 1 {
		n, _ := calibrated.Dims()
		out = calibrated.Slice(0, n, 1, 2)
	}
	if err := writeScores(*outPath, out); err != nil {
		return err
	}
	n, _ := P.Dims()
	logger.Info("Scores calibrated",
		log.ModelHashKey, cw.Hash(),
		log.OperationKey, log.OperationPredictProb,
		log.SamplesKey, n,
		log.ClassesKey, state.NumClasses(),
	)
	return nil
}

func isGob(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".gob")
}

func saveWeights(path string, cw *model.CalibratorWeights) error {
	if isGob(path) {
		return model.SaveModel(cw, path)
	}
	data, err := cw.ToJSON()
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return errors.Wrapf(err, "write %s", path)
	}
	return nil
}

func loadWeights(path string) (*model.CalibratorWeights, error) {
	cw := &model.CalibratorWeights{}
	if isGob(path) {
		if err := model.LoadModel(cw, path); err != nil {
			return nil, err
		}
		return cw, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read %s", path)
	}
	if err := cw.FromJSON(data); err != nil {
		return nil, err
	}
	return cw, nil
}
