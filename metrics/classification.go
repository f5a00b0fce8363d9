// Package metrics は確率キャリブレーションの評価指標を提供する。
package metrics

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/YuminosukeSato/dircal/pkg/errors"
)

// logLossEpsilon は log(0) を避けるためのクリップ値
const logLossEpsilon = 1e-15

// checkInputs はラベル (n×1) と確率行列 (n×k) の形状を検証し、ラベルを整数に変換する
func checkInputs(op string, yTrue, proba mat.Matrix) ([]int, int, error) {
	n, c := yTrue.Dims()
	if n == 0 {
		return nil, 0, errors.NewValueError(op, "empty input")
	}
	if c != 1 {
		return nil, 0, errors.NewDimensionError(op, 1, c, 1)
	}
	pn, k := proba.Dims()
	if pn != n {
		return nil, 0, errors.NewDimensionError(op, n, pn, 0)
	}

	labels := make([]int, n)
	for i := range labels {
		v := yTrue.At(i, 0)
		l := int(v)
		if float64(l) != v || l < 0 || l >= k {
			return nil, 0, errors.NewValidationError("y_true", "labels must be class indices in [0, n_classes)", v)
		}
		labels[i] = l
	}
	return labels, k, nil
}

// LogLoss は多クラス交差エントロピー（対数損失）を計算する
//
// LogLoss = -(1/n) * Σ log(p[i, y_i])
func LogLoss(yTrue, proba mat.Matrix) (float64, error) {
	labels, _, err := checkInputs("LogLoss", yTrue, proba)
	if err != nil {
		return 0, err
	}

	var sum float64
	for i, l := range labels {
		p := math.Min(math.Max(proba.At(i, l), logLossEpsilon), 1)
		sum -= math.Log(p)
	}
	return sum / float64(len(labels)), nil
}

// BinaryLogLoss は2値分類の対数損失を計算する。yPred は P(class=1)
func BinaryLogLoss(yTrue, yPred *mat.VecDense) (float64, error) {
	if yTrue == nil || yPred == nil || yTrue.Len() == 0 {
		return 0, errors.NewValueError("BinaryLogLoss", "empty vector")
	}
	n := yTrue.Len()
	if yPred.Len() != n {
		return 0, errors.NewDimensionError("BinaryLogLoss", n, yPred.Len(), 0)
	}

	var sum float64
	for i := 0; i < n; i++ {
		y := yTrue.AtVec(i)
		if y != 0 && y != 1 {
			return 0, errors.NewValidationError("y_true", "labels must be 0 or 1", y)
		}
		p := math.Min(math.Max(yPred.AtVec(i), logLossEpsilon), 1-logLossEpsilon)
		sum -= y*math.Log(p) + (1-y)*math.Log(1-p)
	}
	return sum / float64(n), nil
}

// Accuracy は確率行列の arg-max とラベルの一致率を計算する
func Accuracy(yTrue, proba mat.Matrix) (float64, error) {
	labels, k, err := checkInputs("Accuracy", yTrue, proba)
	if err != nil {
		return 0, err
	}

	row := make([]float64, k)
	correct := 0
	for i, l := range labels {
		mat.Row(row, i, proba)
		if floats.MaxIdx(row) == l {
			correct++
		}
	}
	return float64(correct) / float64(len(labels)), nil
}

// BrierScore は多クラスBrierスコアを計算する
//
// Brier = (1/n) * Σ_i Σ_j (p[i,j] - 1{y_i = j})²
func BrierScore(yTrue, proba mat.Matrix) (float64, error) {
	labels, k, err := checkInputs("BrierScore", yTrue, proba)
	if err != nil {
		return 0, err
	}

	scores := make([]float64, len(labels))
	for i, l := range labels {
		var s float64
		for j := 0; j < k; j++ {
			d := proba.At(i, j)
			if j == l {
				d--
			}
			s += d * d
		}
		scores[i] = s
	}
	return stat.Mean(scores, nil), nil
}

// ReliabilityBin は信頼度ビン1つ分の集計結果
type ReliabilityBin struct {
	Lower          float64 `json:"lower"`
	Upper          float64 `json:"upper"`
	Count          int     `json:"count"`
	MeanConfidence float64 `json:"mean_confidence"`
	Accuracy       float64 `json:"accuracy"`
}

// binIndex は [0, 1] を nBins 等分したときのビン番号を返す（1.0 は最後のビン）
func binIndex(p float64, nBins int) int {
	b := int(p * float64(nBins))
	if b >= nBins {
		b = nBins - 1
	}
	if b < 0 {
		b = 0
	}
	return b
}

// reliability は信頼度 conf と正解フラグ hit を nBins 個のビンに集計する
func reliability(conf, hit []float64, nBins int) []ReliabilityBin {
	confs := make([][]float64, nBins)
	hits := make([][]float64, nBins)
	for i, c := range conf {
		b := binIndex(c, nBins)
		confs[b] = append(confs[b], c)
		hits[b] = append(hits[b], hit[i])
	}

	bins := make([]ReliabilityBin, nBins)
	width := 1 / float64(nBins)
	for b := range bins {
		bins[b] = ReliabilityBin{
			Lower: float64(b) * width,
			Upper: float64(b+1) * width,
			Count: len(confs[b]),
		}
		if len(confs[b]) > 0 {
			bins[b].MeanConfidence = stat.Mean(confs[b], nil)
			bins[b].Accuracy = stat.Mean(hits[b], nil)
		}
	}
	return bins
}

// calibrationError はビンごとの |accuracy - confidence| をサンプル数で重み付け平均する
func calibrationError(bins []ReliabilityBin, n int) float64 {
	var ece float64
	for _, b := range bins {
		if b.Count == 0 {
			continue
		}
		ece += float64(b.Count) / float64(n) * math.Abs(b.Accuracy-b.MeanConfidence)
	}
	return ece
}

// ReliabilityCurve は最大確率（top-label confidence）の信頼度曲線を計算する
func ReliabilityCurve(yTrue, proba mat.Matrix, nBins int) ([]ReliabilityBin, error) {
	if nBins <= 0 {
		return nil, errors.NewValidationError("n_bins", "must be positive", nBins)
	}
	labels, k, err := checkInputs("ReliabilityCurve", yTrue, proba)
	if err != nil {
		return nil, err
	}

	conf := make([]float64, len(labels))
	hit := make([]float64, len(labels))
	row := make([]float64, k)
	for i, l := range labels {
		mat.Row(row, i, proba)
		j := floats.MaxIdx(row)
		conf[i] = row[j]
		if j == l {
			hit[i] = 1
		}
	}
	return reliability(conf, hit, nBins), nil
}

// ExpectedCalibrationError は top-label の期待キャリブレーション誤差 (ECE) を計算する
//
// ECE = Σ_b (n_b / n) * |acc_b - conf_b|
func ExpectedCalibrationError(yTrue, proba mat.Matrix, nBins int) (float64, error) {
	bins, err := ReliabilityCurve(yTrue, proba, nBins)
	if err != nil {
		return 0, err
	}
	n, _ := yTrue.Dims()
	return calibrationError(bins, n), nil
}

// ClasswiseECE はクラスごとのECEの平均を計算する
//
// クラス j については p[:, j] をビンに分け、ビン内の平均確率と
// ラベルが j である割合を比較する。ラベルに一度も現れないクラスは
// UndefinedMetricWarning を発生させた上で平均に含める。
func ClasswiseECE(yTrue, proba mat.Matrix, nBins int) (float64, error) {
	if nBins <= 0 {
		return 0, errors.NewValidationError("n_bins", "must be positive", nBins)
	}
	labels, k, err := checkInputs("ClasswiseECE", yTrue, proba)
	if err != nil {
		return 0, err
	}

	n := len(labels)
	perClass := make([]float64, k)
	conf := make([]float64, n)
	hit := make([]float64, n)
	for j := 0; j < k; j++ {
		positives := 0
		for i, l := range labels {
			conf[i] = proba.At(i, j)
			hit[i] = 0
			if l == j {
				hit[i] = 1
				positives++
			}
		}
		perClass[j] = calibrationError(reliability(conf, hit, nBins), n)
		// 正例が存在しないクラスは平均確率との比較のみになる
		if positives == 0 {
			errors.Warn(errors.NewUndefinedMetricWarning("ClasswiseECE",
				fmt.Sprintf("class %d has no positive labels", j), perClass[j]))
		}
	}
	return stat.Mean(perClass, nil), nil
}
