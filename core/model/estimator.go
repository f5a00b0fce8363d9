package model

import "gonum.org/v1/gonum/mat"

// Fitter は学習可能なキャリブレータのインターフェース
type Fitter interface {
	// Fit は確率行列 X と正解ラベル y でキャリブレータを学習させる
	Fit(X, y mat.Matrix) error
}

// ValidationFitter は検証データを受け取って正則化強度を選択できるキャリブレータのインターフェース
type ValidationFitter interface {
	Fitter

	// FitWithValidation は検証データ上の交差エントロピーでl2を選択しながら学習する
	FitWithValidation(X, y, XVal, yVal mat.Matrix) error
}

// Predictor は予測可能なモデルのインターフェース
type Predictor interface {
	// Predict は各行のarg-maxクラスを n×1 行列で返す
	Predict(X mat.Matrix) (mat.Matrix, error)
}

// ProbaCalibrator は確率ベクトルを再較正するモデルのインターフェース
type ProbaCalibrator interface {
	ValidationFitter
	Predictor

	// PredictProba は較正済みの確率行列を返す（形状は入力と同じ）
	PredictProba(X mat.Matrix) (mat.Matrix, error)
}

// WeightExporter は学習済みの重みをエクスポート・インポートできるモデルのインターフェース
type WeightExporter interface {
	// ExportWeights は学習済みの重みをエクスポート
	ExportWeights() (*CalibratorWeights, error)

	// ImportWeights は重みをインポートして学習済み状態にする
	ImportWeights(weights *CalibratorWeights) error
}
