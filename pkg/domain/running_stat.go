package domain

import "math"

// RunningStat は、1次元分のインクリメンタルな平均・標準偏差の累積器です。
// 累積は可換なので到着順に結果は依存しません。
type RunningStat struct {
	count int
	sum   float64
	sumSq float64
}

func (rs *RunningStat) Add(value float64) {
	rs.count++
	rs.sum += value
	rs.sumSq += value * value
}

func (rs *RunningStat) Count() int {
	return rs.count
}

func (rs *RunningStat) Mean() float64 {
	if rs.count == 0 {
		return 0.0
	}
	return rs.sum / float64(rs.count)
}

// Std は母標準偏差を返します。浮動小数の丸めで負になった分散は0に切り上げます。
func (rs *RunningStat) Std() float64 {
	if rs.count == 0 {
		return 0.0
	}
	mean := rs.Mean()
	variance := rs.sumSq/float64(rs.count) - mean*mean
	if variance < 0.0 {
		variance = 0.0
	}
	return math.Sqrt(variance)
}
