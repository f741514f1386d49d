package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"gonum.org/v1/gonum/stat"
)

func TestRunningStat_MeanStd(t *testing.T) {
	rs := &RunningStat{}
	values := []float64{1, 2, 3, 4}
	for _, v := range values {
		rs.Add(v)
	}

	assert.Equal(t, 4, rs.Count())
	assert.InDelta(t, 2.5, rs.Mean(), 1e-10)
	// 母標準偏差
	assert.InDelta(t, 1.1180339887, rs.Std(), 1e-9)
}

func TestRunningStat_OrderInvariance(t *testing.T) {
	a := &RunningStat{}
	b := &RunningStat{}
	values := []float64{0.5, -3.2, 10.0, 0.0, 7.7}

	for _, v := range values {
		a.Add(v)
	}
	for i := len(values) - 1; i >= 0; i-- {
		b.Add(values[i])
	}

	assert.InDelta(t, a.Mean(), b.Mean(), 1e-12)
	assert.InDelta(t, a.Std(), b.Std(), 1e-12)
}

func TestRunningStat_MatchesGonum(t *testing.T) {
	rs := &RunningStat{}
	values := []float64{12.5, -0.003, 98.1, 4.4, 4.4, -77.0, 0.12345}
	for _, v := range values {
		rs.Add(v)
	}

	assert.InDelta(t, stat.Mean(values, nil), rs.Mean(), 1e-9)
	assert.InDelta(t, stat.PopStdDev(values, nil), rs.Std(), 1e-9)
}

func TestRunningStat_ConstantInput(t *testing.T) {
	rs := &RunningStat{}
	for i := 0; i < 100; i++ {
		rs.Add(3.0)
	}

	assert.InDelta(t, 3.0, rs.Mean(), 1e-12)
	// 浮動小数点誤差で分散が負に振れても0に丸められる
	assert.Equal(t, 0.0, rs.Std())
}

func TestRunningStat_Empty(t *testing.T) {
	rs := &RunningStat{}
	assert.Equal(t, 0, rs.Count())
	assert.Equal(t, 0.0, rs.Mean())
	assert.Equal(t, 0.0, rs.Std())
}
