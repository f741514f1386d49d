package domain

import "github.com/miu200521358/mlib_go/pkg/domain/mmath"

// TimeSeries は、ピボット(現在時刻)を挟んだサンプルキー列の定義です。
// ピボットより前のキーは過去コンテキスト、以降は予測対象の未来を表します。
// 全ての特徴モジュールは同じキー列で問い合わせるため、出力が位置的に揃います。
type TimeSeries struct {
	PastKeys     int     // ピボットより前のキー数
	FutureKeys   int     // ピボットより後のキー数
	PastWindow   float64 // 過去窓の長さ(秒)
	FutureWindow float64 // 未来窓の長さ(秒)
}

func NewTimeSeries(pastKeys, futureKeys int, pastWindow, futureWindow float64) *TimeSeries {
	return &TimeSeries{
		PastKeys:     pastKeys,
		FutureKeys:   futureKeys,
		PastWindow:   pastWindow,
		FutureWindow: futureWindow,
	}
}

func (ts *TimeSeries) KeyCount() int {
	return ts.PastKeys + ts.FutureKeys + 1
}

func (ts *TimeSeries) Pivot() int {
	return ts.PastKeys
}

// Offset は、キーのピボットからの時間オフセット(秒)を返します。
// 過去キーは負、ピボットは0、未来キーは正になります。
func (ts *TimeSeries) Offset(key int) float64 {
	if key < ts.Pivot() {
		return -ts.PastWindow * float64(ts.Pivot()-key) / float64(ts.PastKeys)
	}
	if key == ts.Pivot() {
		return 0.0
	}
	return ts.FutureWindow * float64(key-ts.Pivot()) / float64(ts.FutureKeys)
}

// RootSample は、各キーでの地面投影ルート軌道のサンプルです。
type RootSample struct {
	Positions  []*mmath.MVec3 // ワールド位置(Y=0)
	Directions []*mmath.MVec3 // 正面方向(Y=0、正規化済み)
	Velocities []*mmath.MVec3 // 地面速度
}

// ContactSample は、各キー×各接地ボーンの接地状態(0/1)のサンプルです。
type ContactSample struct {
	Values [][]float64 // [key][bone]
}

// StyleSample は、各キー×各スタイルラベルの重みのサンプルです。
type StyleSample struct {
	Values [][]float64 // [key][label]
}

// PhaseSample は、位相エンコードのサンプルです。モードにより片方のみ埋まります。
type PhaseSample struct {
	// LocalPhases: 各キー×各接地ボーンの位相角(ラジアン)と振幅
	Phases     [][]float64 // [key][bone]
	Amplitudes [][]float64 // [key][bone]

	// DeepPhases: 各キーの学習位相空間ベクトル(2×チャネル数)
	Vectors [][]float64 // [key][2*channel]
}
