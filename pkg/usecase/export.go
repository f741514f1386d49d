package usecase

import (
	"bufio"
	"fmt"
	"miu200521358/vmd_export_t4/pkg/domain"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/miu200521358/mlib_go/pkg/config/mlog"
)

// ExportUsecase は、全セットの特徴量エクスポートを統括します。
// 骨格と読み込みは関数フィールド経由で差し替えられます。
type ExportUsecase struct {
	// NewSkeleton は、読み込み済みセットから骨格プロバイダを構築します。
	NewSkeleton func(set *domain.ExportSet, setCount int, isTerminate func() bool) (domain.SkeletonProvider, error)
	// LoadSet は、セットの読み込み完了を待ちます。
	LoadSet func(set *domain.ExportSet) error
	// OnSetCompleted は、1セット分の出力が終わるたびに呼ばれます(nil可)。
	OnSetCompleted func(set *domain.ExportSet)
}

func NewExportUsecase() *ExportUsecase {
	return &ExportUsecase{
		NewSkeleton: func(set *domain.ExportSet, setCount int, isTerminate func() bool) (domain.SkeletonProvider, error) {
			return NewVmdSkeleton(set, setCount, isTerminate)
		},
		LoadSet: func(set *domain.ExportSet) error {
			return set.Load()
		},
	}
}

// Exec は、設定された全セットを順に処理して学習ファイル一式を出力します。
// 中断要求を受けた場合、仕掛かり分まで排出した上で正常終了します。
func (eu *ExportUsecase) Exec(state *domain.ExportState) error {
	conf := state.Config
	startTime := time.Now()

	input, err := domain.NewExportData(conf.OutputDir, "Input")
	if err != nil {
		return err
	}
	output, err := domain.NewExportData(conf.OutputDir, "Output")
	if err != nil {
		abandonData(input)
		return err
	}

	sequenceFile, err := os.Create(filepath.Join(conf.OutputDir, "Sequences.txt"))
	if err != nil {
		abandonData(input)
		abandonData(output)
		return fmt.Errorf("シーケンスファイルの作成に失敗しました: %w", err)
	}
	sequences := bufio.NewWriter(sequenceFile)

	execErr := eu.exportSets(state, input, output, sequences)

	// 中断・エラーに関わらず、受理済みベクトルは必ず排出してから閉じる
	if err := input.Finish(); err != nil && execErr == nil {
		execErr = err
	}
	if err := output.Finish(); err != nil && execErr == nil {
		execErr = err
	}
	if err := sequences.Flush(); err != nil && execErr == nil {
		execErr = fmt.Errorf("シーケンスファイルの書き込みに失敗しました: %w", err)
	}
	if err := sequenceFile.Close(); err != nil && execErr == nil {
		execErr = err
	}

	domain.SaveSetSnapshot(filepath.Join(conf.OutputDir, "Sets.json"), state.Sets)

	if execErr == nil {
		mlog.I("エクスポート終了: %d件 (%.1f秒)",
			state.WrittenCount(), time.Since(startTime).Seconds())
	}

	return execErr
}

// abandonData は、ラン開始前の失敗で不要になった書き込み器を閉じます。
func abandonData(d *domain.ExportData) {
	if err := d.Finish(); err != nil {
		mlog.W("%s 書き込みの後始末に失敗しました: %s", d.Name(), err.Error())
	}
}

func (eu *ExportUsecase) exportSets(state *domain.ExportState,
	input, output *domain.ExportData, sequences *bufio.Writer) error {
	conf := state.Config
	series := conf.NewTimeSeries()
	tick := 1.0 / conf.Framerate

	for _, set := range state.Sets {
		if state.IsTerminate() {
			mlog.W("中断要求を受けたため、残りのセットをスキップします")
			return nil
		}
		if !set.IsExportable {
			mlog.I("【No.%d】エクスポート対象外のためスキップします", set.Index+1)
			continue
		}

		if !set.IsLoaded() {
			mlog.V("【No.%d】読み込み完了を待機します", set.Index+1)
		}
		if err := eu.LoadSet(set); err != nil {
			mlog.W("【No.%d】読み込みに失敗したためスキップします: %s", set.Index+1, err.Error())
			continue
		}

		skeleton, err := eu.NewSkeleton(set, len(state.Sets), state.IsTerminate)
		if err != nil {
			return err
		}

		if err := eu.exportSet(state, set, skeleton, series, tick, input, output, sequences); err != nil {
			return err
		}

		if eu.OnSetCompleted != nil {
			eu.OnSetCompleted(set)
		}
	}

	return nil
}

// exportSet は、1セット分の(ミラー × シフト)全パスを出力します。
func (eu *ExportUsecase) exportSet(state *domain.ExportState, set *domain.ExportSet,
	skeleton domain.SkeletonProvider, series *domain.TimeSeries, tick float64,
	input, output *domain.ExportData, sequences *bufio.Writer) error {
	conf := state.Config

	boneNames := make([]string, skeleton.BoneCount())
	nameIndexes := make(map[string]int, skeleton.BoneCount())
	for b := 0; b < skeleton.BoneCount(); b++ {
		boneNames[b] = skeleton.BoneName(b)
		nameIndexes[boneNames[b]] = b
	}

	contactIndexes := make([]int, 0, len(conf.ContactBones))
	for _, name := range conf.ContactBones {
		index, ok := nameIndexes[name]
		if !ok {
			mlog.W("【No.%d】接地ボーン[%s]が見つからないためスキップします", set.Index+1, name)
			return nil
		}
		contactIndexes = append(contactIndexes, index)
	}

	if mlog.IsDebug() {
		// デバッグ時のみ、接地ボーンの整列軸(単一子への方向)を確認用に出力する
		for i, boneIndex := range contactIndexes {
			if axis := set.AlignmentAxis(boneIndex); axis != nil {
				mlog.V("【No.%d】接地ボーン[%s]の整列軸: (%.3f, %.3f, %.3f)",
					set.Index+1, conf.ContactBones[i], axis.X, axis.Y, axis.Z)
			}
		}
	}

	root := NewRootModule(skeleton, series)
	contact := NewContactModule(skeleton, series, contactIndexes,
		conf.ContactHeight, conf.ContactVelocity)

	var style StyleSeriesProvider
	if len(conf.Styles) > 0 {
		style = NewStyleModule(series, conf.Styles, set.Style)
	}

	var phase PhaseSeriesProvider
	switch conf.PhaseMode {
	case domain.PhaseModeLocal:
		phase = NewLocalPhaseModule(skeleton, series, contactIndexes,
			conf.ContactHeight, conf.ContactVelocity)
	case domain.PhaseModeDeep:
		sidecarPath := strings.TrimSuffix(set.MotionPath, filepath.Ext(set.MotionPath)) + ".dphase"
		deep, err := NewDeepPhaseModule(skeleton, series, sidecarPath, conf.PhaseChannels)
		if err != nil {
			mlog.W("【No.%d】%s", set.Index+1, err.Error())
			return nil
		}
		phase = deep
	}

	extractor := NewContainerExtractor(skeleton, series, root, contact, style, phase,
		conf.TargetMinFrames, conf.TargetMaxFrames)
	encoder := NewFeatureEncoder(series, boneNames, conf.ContactBones, conf.Styles,
		conf.PhaseMode, input, output)

	// 予測対象(next)とターゲット窓が必ず収録範囲に収まる上限時刻
	targetMaxWindow := float64(conf.TargetMaxFrames) * skeleton.FrameDuration()
	limit := skeleton.Duration() - tick - targetMaxWindow
	if limit < 0 {
		mlog.W("【No.%d】収録時間がターゲット窓より短いためスキップします", set.Index+1)
		return nil
	}

	variants := []bool{false}
	if conf.Mirror && set.IsMirror {
		variants = append(variants, true)
	}

	setWritten := int64(0)
	batchStart := time.Now()

	for _, mirrored := range variants {
		for shift := 0; shift < conf.Shifts; shift++ {
			sequenceID := state.NextSequenceID()
			start := tick * float64(shift) / float64(conf.Shifts)

			for t := start; t <= limit+1e-9; t += tick {
				if state.IsTerminate() {
					mlog.W("【No.%d】中断要求を受けたため、このセットを打ち切ります", set.Index+1)
					return nil
				}

				cur, nxt := extractor.ExtractPair(t, t+tick, mirrored)
				if err := encoder.Encode(cur, nxt); err != nil {
					return err
				}
				if _, err := fmt.Fprintf(sequences, "%d\n", sequenceID); err != nil {
					return fmt.Errorf("シーケンスファイルの書き込みに失敗しました: %w", err)
				}

				state.AddWritten(1)
				setWritten++
				if setWritten%1000 == 0 {
					// 直近バッチの実測スループット(累積平均ではない)
					mlog.I("【No.%d】エクスポート: %d件 (%.0f件/秒)", set.Index+1,
						setWritten, 1000.0/time.Since(batchStart).Seconds())
					batchStart = time.Now()
				}
			}
		}
	}

	mlog.I("【No.%d】エクスポート完了: %d件 (mirror=%t shifts=%d)",
		set.Index+1, setWritten, conf.Mirror && set.IsMirror, conf.Shifts)

	return nil
}

// processLog は、長時間処理の進捗を一定間隔で出力します。
func processLog(processName string, setIndex, iterIndex, allCount int) {
	mlog.I("【No.%d】%s: %d/%d", setIndex+1, processName, iterIndex, allCount)
}
