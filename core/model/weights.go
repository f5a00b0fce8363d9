package model

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math"

	"github.com/goccy/go-json"
)

// WeightsFormatVersion は CalibratorWeights のフォーマットバージョン
const WeightsFormatVersion = "1"

// CalibratorWeights は学習済みキャリブレータの重みを表す構造体（シリアライゼーション用）
//
// 重み行列・切片・matrix_type・選択されたl2は JSON / gob のどちらでも
// ビット単位で往復できる。
type CalibratorWeights struct {
	// ModelType はモデルの種類（DirichletCalibrator等）
	ModelType string `json:"model_type"`

	// Version はフォーマットのバージョン（互換性チェック用）
	Version string `json:"version"`

	// MatrixType はパラメータ化の種類（full, diagonal, fixed_diagonal）
	MatrixType string `json:"matrix_type"`

	// Weights は k×k の重み行列 W（行優先）
	Weights [][]float64 `json:"weights"`

	// Intercept は長さ k の切片ベクトル b
	Intercept []float64 `json:"intercept"`

	// SelectedL2 はモデル選択で採用された正則化強度
	SelectedL2 float64 `json:"selected_l2"`

	// Initializer は学習時の初期化方法（identity, random）
	Initializer string `json:"initializer,omitempty"`

	// Hyperparameters は学習時のハイパーパラメータ（文字列表現）
	Hyperparameters map[string]string `json:"hyperparameters,omitempty"`

	// Metrics は学習時の統計（損失、反復回数等）
	Metrics map[string]float64 `json:"metrics,omitempty"`
}

// NumClasses はクラス数 k を返す
func (cw *CalibratorWeights) NumClasses() int {
	return len(cw.Intercept)
}

// ToJSON はCalibratorWeightsをJSON形式にシリアライズ
func (cw *CalibratorWeights) ToJSON() ([]byte, error) {
	return json.MarshalIndent(cw, "", "  ")
}

// FromJSON はJSON形式からCalibratorWeightsをデシリアライズ
func (cw *CalibratorWeights) FromJSON(data []byte) error {
	if err := json.Unmarshal(data, cw); err != nil {
		return fmt.Errorf("failed to decode calibrator weights: %w", err)
	}
	return cw.Validate()
}

// Validate はCalibratorWeightsの妥当性を検証
func (cw *CalibratorWeights) Validate() error {
	if cw.ModelType == "" {
		return fmt.Errorf("model_type is required")
	}
	if cw.Version == "" {
		return fmt.Errorf("version is required")
	}
	if cw.MatrixType == "" {
		return fmt.Errorf("matrix_type is required")
	}

	k := len(cw.Intercept)
	if k < 2 {
		return fmt.Errorf("at least 2 classes are required, got %d", k)
	}
	if len(cw.Weights) != k {
		return fmt.Errorf("weights must have %d rows, got %d", k, len(cw.Weights))
	}
	for i, row := range cw.Weights {
		if len(row) != k {
			return fmt.Errorf("weights row %d must have %d columns, got %d", i, k, len(row))
		}
		for _, v := range row {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return fmt.Errorf("weights row %d contains a non-finite value", i)
			}
		}
	}
	for _, v := range cw.Intercept {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("intercept contains a non-finite value")
		}
	}
	if cw.SelectedL2 < 0 || math.IsNaN(cw.SelectedL2) {
		return fmt.Errorf("selected_l2 must be non-negative, got %v", cw.SelectedL2)
	}
	return nil
}

// Hash は重み・切片・matrix_type・l2 のSHA-256ハッシュを計算（検証用）
// 浮動小数点はビット列で扱うため、往復後のビット一致を確認できる。
func (cw *CalibratorWeights) Hash() string {
	h := sha256.New()
	h.Write([]byte(cw.MatrixType))
	var buf [8]byte
	writeFloat := func(v float64) {
		binary.LittleEndian.PutUint64(buf[:], math.Float64bits(v))
		h.Write(buf[:])
	}
	for _, row := range cw.Weights {
		for _, v := range row {
			writeFloat(v)
		}
	}
	for _, v := range cw.Intercept {
		writeFloat(v)
	}
	writeFloat(cw.SelectedL2)
	return hex.EncodeToString(h.Sum(nil))
}
