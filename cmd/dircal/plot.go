package main

import (
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"

	"github.com/YuminosukeSato/dircal/metrics"
)

// reliabilityPoints keeps the non-empty bins as (confidence, accuracy) pairs.
func reliabilityPoints(bins []metrics.ReliabilityBin) plotter.XYs {
	pts := make(plotter.XYs, 0, len(bins))
	for _, b := range bins {
		if b.Count == 0 {
			continue
		}
		pts = append(pts, plotter.XY{X: b.MeanConfidence, Y: b.Accuracy})
	}
	return pts
}

// plotReliability saves a reliability diagram comparing the uncalibrated
// and calibrated top-label confidence. The format follows the file extension.
func plotReliability(path string, before, after []metrics.ReliabilityBin) error {
	p := plot.New()
	p.Title.Text = "Reliability diagram"
	p.X.Label.Text = "Confidence"
	p.Y.Label.Text = "Accuracy"
	p.X.Min, p.X.Max = 0, 1
	p.Y.Min, p.Y.Max = 0, 1
	p.Add(plotter.NewGrid())

	diagonal := plotter.XYs{{X: 0, Y: 0}, {X: 1, Y: 1}}
	if err := plotutil.AddLinePoints(p,
		"Perfect", diagonal,
		"Uncalibrated", reliabilityPoints(before),
		"Calibrated", reliabilityPoints(after),
	); err != nil {
		return err
	}
	return p.Save(6*vg.Inch, 6*vg.Inch, path)
}
