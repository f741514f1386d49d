package domain

import (
	"sync/atomic"
)

// ExportState は、1エクスポートランの実行コンテキストです。
// 中断フラグやカウンタを含め、プロセス全体の可変状態はこのオブジェクトに集約します。
type ExportState struct {
	Config *ExportConfig
	Sets   []*ExportSet

	terminate    atomic.Bool
	writtenCount atomic.Int64
	sequenceID   atomic.Int64
}

func NewExportState(conf *ExportConfig) *ExportState {
	state := &ExportState{Config: conf}
	for i, setConf := range conf.Sets {
		state.Sets = append(state.Sets, NewExportSet(i, setConf))
	}
	return state
}

// Terminate は協調的な中断を要求します。処理中のアセットの仕掛かり分は通常通り排出されます。
func (state *ExportState) Terminate() {
	state.terminate.Store(true)
}

func (state *ExportState) IsTerminate() bool {
	return state.terminate.Load()
}

// LoadSetsAsync は、全セットの読み込みをバックグラウンドで開始します。
func (state *ExportState) LoadSetsAsync() {
	for _, set := range state.Sets {
		if !set.IsExportable {
			continue
		}
		go func(es *ExportSet) {
			es.Load()
		}(set)
	}
}

func (state *ExportState) AddWritten(n int64) {
	state.writtenCount.Add(n)
}

func (state *ExportState) WrittenCount() int64 {
	return state.writtenCount.Load()
}

// NextSequenceID は、新しい(アセット, ミラー, シフト)組み合わせ用の1始まりの連番を発行します。
func (state *ExportState) NextSequenceID() int64 {
	return state.sequenceID.Add(1)
}
