package usecase

import (
	"testing"

	"miu200521358/vmd_export_t4/pkg/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestExtractor(skeleton domain.SkeletonProvider, series *domain.TimeSeries,
	styles []string, phaseMode string) *ContainerExtractor {
	contactIndexes := []int{1, 2}

	root := NewRootModule(skeleton, series)
	contact := NewContactModule(skeleton, series, contactIndexes, 0.8, 2.0)

	var style StyleSeriesProvider
	if len(styles) > 0 {
		style = NewStyleModule(series, styles, styles[0])
	}

	var phase PhaseSeriesProvider
	if phaseMode == domain.PhaseModeLocal {
		phase = NewLocalPhaseModule(skeleton, series, contactIndexes, 0.8, 2.0)
	}

	return NewContainerExtractor(skeleton, series, root, contact, style, phase, 30, 90)
}

func TestFeatureEncoder_Dimensions(t *testing.T) {
	skeleton := &stubSkeleton{frameCount: 181}
	series := domain.NewTimeSeries(6, 6, 1.0, 1.0)
	extractor := newTestExtractor(skeleton, series, nil, domain.PhaseModeNone)

	dir := t.TempDir()
	input, err := domain.NewExportData(dir, "Input")
	require.NoError(t, err)
	output, err := domain.NewExportData(dir, "Output")
	require.NoError(t, err)

	contactBones := []string{"左足首", "右足首"}
	encoder := NewFeatureEncoder(series, stubBoneNames, contactBones, nil,
		domain.PhaseModeNone, input, output)

	cur, nxt := extractor.ExtractPair(0.5, 0.5+1.0/30.0, false)
	require.NoError(t, encoder.Encode(cur, nxt))

	keyCount := series.KeyCount()   // 13
	boneCount := len(stubBoneNames) // 3
	contacts := len(contactBones)   // 2

	// 入力: 軌道(位置2+方向2+速度2+残り時間1+接地C) × キー数
	//       + 現在姿勢(位置3+正面3+上3+速度3) × ボーン数
	//       + ターゲット姿勢(位置3+正面3) × ボーン数
	wantInput := keyCount*(7+contacts) + boneCount*12 + boneCount*6
	assert.Equal(t, wantInput, input.Dimensions())

	// 出力: 次ルート(現在基準6+ターゲット基準6)
	//       + 未来軌道(次基準6+ターゲット基準6) × 未来キー数
	//       + 次姿勢12 × ボーン数 + ターゲット差分3 × ボーン数 + ピボット接地C
	futureKeys := keyCount - series.Pivot() - 1 // 6
	wantOutput := 12 + futureKeys*12 + boneCount*12 + boneCount*3 + contacts
	assert.Equal(t, wantOutput, output.Dimensions())

	// 2例目以降も同じスキーマで受理される
	cur2, nxt2 := extractor.ExtractPair(0.6, 0.6+1.0/30.0, false)
	require.NoError(t, encoder.Encode(cur2, nxt2))

	curM, nxtM := extractor.ExtractPair(0.5, 0.5+1.0/30.0, true)
	require.NoError(t, encoder.Encode(curM, nxtM))

	require.NoError(t, input.Finish())
	require.NoError(t, output.Finish())
	assert.Equal(t, 3, input.SampleCount())
	assert.Equal(t, 3, output.SampleCount())
}

func TestFeatureEncoder_StyleAndPhaseWidenSchema(t *testing.T) {
	skeleton := &stubSkeleton{frameCount: 181}
	series := domain.NewTimeSeries(6, 6, 1.0, 1.0)
	styles := []string{"Idle", "Walk", "Run"}
	extractor := newTestExtractor(skeleton, series, styles, domain.PhaseModeLocal)

	dir := t.TempDir()
	input, err := domain.NewExportData(dir, "Input")
	require.NoError(t, err)
	output, err := domain.NewExportData(dir, "Output")
	require.NoError(t, err)

	contactBones := []string{"左足首", "右足首"}
	encoder := NewFeatureEncoder(series, stubBoneNames, contactBones, styles,
		domain.PhaseModeLocal, input, output)

	cur, nxt := extractor.ExtractPair(0.5, 0.5+1.0/30.0, false)
	require.NoError(t, encoder.Encode(cur, nxt))

	keyCount := series.KeyCount()
	boneCount := len(stubBoneNames)
	contacts := len(contactBones)

	// スタイルはキーごとにラベル数、ローカル位相はキーごとに接地ボーン数×(Sin+Cos)
	wantInput := keyCount*(7+contacts+len(styles)+contacts*2) + boneCount*12 + boneCount*6
	assert.Equal(t, wantInput, input.Dimensions())

	// 出力側は全キーの位相状態と更新の対が加わる
	futureKeys := keyCount - series.Pivot() - 1
	wantOutput := 12 + futureKeys*12 + boneCount*12 + boneCount*3 + contacts +
		keyCount*contacts*2*2
	assert.Equal(t, wantOutput, output.Dimensions())

	require.NoError(t, input.Finish())
	require.NoError(t, output.Finish())
}

func TestFeatureEncoder_EgocentricInvariance(t *testing.T) {
	// ルート相対の特徴は、等速移動なら時刻によらずほぼ一定になる
	skeleton := &stubSkeleton{frameCount: 301}
	series := domain.NewTimeSeries(2, 2, 0.5, 0.5)
	extractor := newTestExtractor(skeleton, series, nil, domain.PhaseModeNone)

	early := extractor.Extract(2.0, false)
	late := extractor.Extract(5.0, false)

	earlyLocal := early.Root.LocalPosition(early.BonePositions[1])
	lateLocal := late.Root.LocalPosition(late.BonePositions[1])

	assert.InDelta(t, earlyLocal.X, lateLocal.X, 1e-9)
	assert.InDelta(t, earlyLocal.Y, lateLocal.Y, 1e-9)
	assert.InDelta(t, earlyLocal.Z, lateLocal.Z, 1e-9)
}

func TestContainerExtractor_TargetWindow(t *testing.T) {
	skeleton := &stubSkeleton{frameCount: 301}
	series := domain.NewTimeSeries(6, 6, 1.0, 1.0)
	extractor := newTestExtractor(skeleton, series, nil, domain.PhaseModeNone)

	for _, timestamp := range []float64{0.0, 1.0, 2.5, 4.0} {
		c := extractor.Extract(timestamp, false)

		// ターゲットは常に設定窓 [30, 90] フレーム先(収録端でのクランプ除く)
		aheadFrames := c.TargetFrameIndex - c.FrameIndex
		assert.GreaterOrEqual(t, aheadFrames, 30)
		assert.LessOrEqual(t, aheadFrames, 90)
		assert.InDelta(t, c.TargetOffset, float64(aheadFrames)/30.0, 1e-9)
	}

	// 同じ入力に対して決定的
	a := extractor.Extract(1.0, false)
	b := extractor.Extract(1.0, false)
	assert.Equal(t, a.TargetFrameIndex, b.TargetFrameIndex)
}

func TestContainerExtractor_PairSharesTarget(t *testing.T) {
	skeleton := &stubSkeleton{frameCount: 301}
	series := domain.NewTimeSeries(6, 6, 1.0, 1.0)
	extractor := newTestExtractor(skeleton, series, nil, domain.PhaseModeNone)

	cur, nxt := extractor.ExtractPair(1.0, 1.0+1.0/30.0, false)

	// current/next はターゲットの絶対フレームを共有する
	assert.Equal(t, cur.TargetFrameIndex, nxt.TargetFrameIndex)
	assert.Equal(t, cur.FrameIndex+1, nxt.FrameIndex)
	// 相対オフセットは next 側が1フレーム分短い
	assert.InDelta(t, cur.TargetOffset-1.0/30.0, nxt.TargetOffset, 1e-9)
}
