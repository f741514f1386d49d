package usecase

import (
	"bufio"
	"fmt"
	"math"
	"miu200521358/vmd_export_t4/pkg/domain"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/miu200521358/mlib_go/pkg/domain/mmath"
)

// 各特徴ファミリーは「タイムスタンプとミラーフラグからサンプル1つ」を返す
// 同じ形の能力インターフェースとして扱い、抽出側は実体に依存しません。

type RootSeriesProvider interface {
	Extract(timestamp float64, mirrored bool) *domain.RootSample
}

type ContactSeriesProvider interface {
	Extract(timestamp float64, mirrored bool) *domain.ContactSample
}

type StyleSeriesProvider interface {
	Extract(timestamp float64, mirrored bool) *domain.StyleSample
}

type PhaseSeriesProvider interface {
	Extract(timestamp float64, mirrored bool) *domain.PhaseSample
}

// ------------------------------------------------------------------
// ルート軌道

// RootModule は、各サンプルキーの地面投影ルート軌道を抽出します。
type RootModule struct {
	skeleton domain.SkeletonProvider
	series   *domain.TimeSeries
}

func NewRootModule(skeleton domain.SkeletonProvider, series *domain.TimeSeries) *RootModule {
	return &RootModule{skeleton: skeleton, series: series}
}

func (rm *RootModule) Extract(timestamp float64, mirrored bool) *domain.RootSample {
	keyCount := rm.series.KeyCount()
	sample := &domain.RootSample{
		Positions:  make([]*mmath.MVec3, keyCount),
		Directions: make([]*mmath.MVec3, keyCount),
		Velocities: make([]*mmath.MVec3, keyCount),
	}

	frameDuration := rm.skeleton.FrameDuration()

	for k := 0; k < keyCount; k++ {
		keyTime := clampTime(timestamp+rm.series.Offset(k), rm.skeleton.Duration())
		rf := rm.skeleton.RootFrame(keyTime, mirrored)
		sample.Positions[k] = rf.Position
		sample.Directions[k] = rf.Forward()

		prevTime := clampTime(keyTime-frameDuration, rm.skeleton.Duration())
		prev := rm.skeleton.RootFrame(prevTime, mirrored)
		if keyTime == prevTime {
			sample.Velocities[k] = &mmath.MVec3{}
		} else {
			sample.Velocities[k] = rf.Position.Subed(prev.Position).MuledScalar(1.0 / (keyTime - prevTime))
		}
	}

	return sample
}

func clampTime(t, duration float64) float64 {
	if t < 0 {
		return 0
	}
	if t > duration {
		return duration
	}
	return t
}

// ------------------------------------------------------------------
// 接地状態

// ContactModule は、接地ボーンの高さと速度の閾値判定で接地状態(0/1)を抽出します。
type ContactModule struct {
	skeleton          domain.SkeletonProvider
	series            *domain.TimeSeries
	boneIndexes       []int
	heightThreshold   float64
	velocityThreshold float64
}

func NewContactModule(skeleton domain.SkeletonProvider, series *domain.TimeSeries,
	boneIndexes []int, heightThreshold, velocityThreshold float64) *ContactModule {
	return &ContactModule{
		skeleton:          skeleton,
		series:            series,
		boneIndexes:       boneIndexes,
		heightThreshold:   heightThreshold,
		velocityThreshold: velocityThreshold,
	}
}

func (cm *ContactModule) contactAt(timestamp float64, boneIndex int, mirrored bool) float64 {
	pose := cm.skeleton.BonePose(timestamp, boneIndex, mirrored)
	speed := vecLength(pose.Velocity)
	if pose.Position.Y <= cm.heightThreshold && speed <= cm.velocityThreshold {
		return 1.0
	}
	return 0.0
}

func (cm *ContactModule) Extract(timestamp float64, mirrored bool) *domain.ContactSample {
	keyCount := cm.series.KeyCount()
	sample := &domain.ContactSample{Values: make([][]float64, keyCount)}

	for k := 0; k < keyCount; k++ {
		keyTime := clampTime(timestamp+cm.series.Offset(k), cm.skeleton.Duration())
		sample.Values[k] = make([]float64, len(cm.boneIndexes))
		for b, boneIndex := range cm.boneIndexes {
			sample.Values[k][b] = cm.contactAt(keyTime, boneIndex, mirrored)
		}
	}

	return sample
}

func vecLength(v *mmath.MVec3) float64 {
	return math.Sqrt(v.X*v.X + v.Y*v.Y + v.Z*v.Z)
}

// ------------------------------------------------------------------
// スタイルラベル

// StyleModule は、アセットに付与されたスタイルのワンホット値を全キーで返します。
type StyleModule struct {
	series *domain.TimeSeries
	labels []string
	active int // 有効ラベルINDEX(なければ-1)
}

func NewStyleModule(series *domain.TimeSeries, labels []string, activeStyle string) *StyleModule {
	active := -1
	for i, label := range labels {
		if label == activeStyle {
			active = i
			break
		}
	}
	return &StyleModule{series: series, labels: labels, active: active}
}

func (sm *StyleModule) Extract(timestamp float64, mirrored bool) *domain.StyleSample {
	keyCount := sm.series.KeyCount()
	sample := &domain.StyleSample{Values: make([][]float64, keyCount)}
	for k := 0; k < keyCount; k++ {
		sample.Values[k] = make([]float64, len(sm.labels))
		if sm.active >= 0 {
			sample.Values[k][sm.active] = 1.0
		}
	}
	return sample
}

// ------------------------------------------------------------------
// ローカル位相

// LocalPhaseModule は、接地サイクルからボーンごとの位相角と振幅を導出します。
// 位相は接地開始から次の接地開始までで2πを一巡し、振幅はボーン速度から取ります。
type LocalPhaseModule struct {
	skeleton domain.SkeletonProvider
	series   *domain.TimeSeries

	boneIndexes []int
	onsets      [][]int     // [bone][onset frame]
	speeds      [][]float64 // [bone][frame]
}

func NewLocalPhaseModule(skeleton domain.SkeletonProvider, series *domain.TimeSeries,
	boneIndexes []int, heightThreshold, velocityThreshold float64) *LocalPhaseModule {
	lm := &LocalPhaseModule{
		skeleton:    skeleton,
		series:      series,
		boneIndexes: boneIndexes,
		onsets:      make([][]int, len(boneIndexes)),
		speeds:      make([][]float64, len(boneIndexes)),
	}

	frameCount := skeleton.FrameCount()
	frameDuration := skeleton.FrameDuration()

	for b, boneIndex := range boneIndexes {
		lm.speeds[b] = make([]float64, frameCount)
		wasContact := false
		for f := 0; f < frameCount; f++ {
			pose := skeleton.BonePose(float64(f)*frameDuration, boneIndex, false)
			speed := vecLength(pose.Velocity)
			lm.speeds[b][f] = speed

			contact := pose.Position.Y <= heightThreshold && speed <= velocityThreshold
			if contact && !wasContact {
				lm.onsets[b] = append(lm.onsets[b], f)
			}
			wasContact = contact
		}
	}

	return lm
}

// phaseAt は、フレームの接地サイクル内位置を [0, 2π) の位相角として返します。
// サイクル外(最初の接地前・最後の接地後)は平均サイクル長で外挿します。
func (lm *LocalPhaseModule) phaseAt(bone, frame int) float64 {
	onsets := lm.onsets[bone]

	meanCycle := 1.0 / lm.skeleton.FrameDuration() // 既定1秒
	if len(onsets) >= 2 {
		meanCycle = float64(onsets[len(onsets)-1]-onsets[0]) / float64(len(onsets)-1)
	}
	if meanCycle < 1 {
		meanCycle = 1
	}

	if len(onsets) == 0 {
		return math.Mod(float64(frame)/meanCycle, 1.0) * 2.0 * math.Pi
	}

	next := sort.SearchInts(onsets, frame+1)
	var fraction float64
	switch {
	case next == 0:
		fraction = 1.0 - math.Mod(float64(onsets[0]-frame)/meanCycle, 1.0)
	case next == len(onsets):
		fraction = math.Mod(float64(frame-onsets[len(onsets)-1])/meanCycle, 1.0)
	default:
		cycle := float64(onsets[next] - onsets[next-1])
		fraction = float64(frame-onsets[next-1]) / cycle
	}

	return fraction * 2.0 * math.Pi
}

func (lm *LocalPhaseModule) Extract(timestamp float64, mirrored bool) *domain.PhaseSample {
	keyCount := lm.series.KeyCount()
	sample := &domain.PhaseSample{
		Phases:     make([][]float64, keyCount),
		Amplitudes: make([][]float64, keyCount),
	}

	for k := 0; k < keyCount; k++ {
		keyTime := clampTime(timestamp+lm.series.Offset(k), lm.skeleton.Duration())
		frame := lm.skeleton.FrameIndex(keyTime)

		sample.Phases[k] = make([]float64, len(lm.boneIndexes))
		sample.Amplitudes[k] = make([]float64, len(lm.boneIndexes))
		for b := range lm.boneIndexes {
			resolved := b
			if mirrored {
				// 左右対のサイクルを参照する
				pair := lm.skeleton.MirrorIndex(lm.boneIndexes[b])
				for bb, boneIndex := range lm.boneIndexes {
					if boneIndex == pair {
						resolved = bb
						break
					}
				}
			}
			sample.Phases[k][b] = lm.phaseAt(resolved, frame)
			sample.Amplitudes[k][b] = lm.speeds[resolved][frame]
		}
	}

	return sample
}

// ------------------------------------------------------------------
// 学習位相(ディープ位相)

// DeepPhaseModule は、モーションに付随する .dphase サイドカーから
// 学習済み位相空間ベクトル(1フレーム1行、2×チャネル数の空白区切り)を読み込み、
// フレーム間は線形補間して返します。
type DeepPhaseModule struct {
	skeleton domain.SkeletonProvider
	series   *domain.TimeSeries
	channels int
	rows     [][]float64
}

func NewDeepPhaseModule(skeleton domain.SkeletonProvider, series *domain.TimeSeries,
	sidecarPath string, channels int) (*DeepPhaseModule, error) {
	f, err := os.Open(sidecarPath)
	if err != nil {
		return nil, fmt.Errorf("学習位相ファイルが開けません: %w", err)
	}
	defer f.Close()

	width := channels * 2
	rows := make([][]float64, 0, skeleton.FrameCount())

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) != width {
			return nil, fmt.Errorf("学習位相ファイルの列数が不正です: %d != %d", len(fields), width)
		}
		row := make([]float64, width)
		for i, field := range fields {
			v, err := strconv.ParseFloat(field, 64)
			if err != nil {
				return nil, fmt.Errorf("学習位相ファイルの解析に失敗しました: %w", err)
			}
			row[i] = v
		}
		rows = append(rows, row)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("学習位相ファイルが空です: %s", sidecarPath)
	}

	return &DeepPhaseModule{
		skeleton: skeleton,
		series:   series,
		channels: channels,
		rows:     rows,
	}, nil
}

func (dm *DeepPhaseModule) vectorAt(timestamp float64) []float64 {
	position := timestamp / dm.skeleton.FrameDuration()
	lower := int(math.Floor(position))
	if lower < 0 {
		lower = 0
	}
	if lower >= len(dm.rows)-1 {
		return dm.rows[len(dm.rows)-1]
	}
	t := position - float64(lower)

	vector := make([]float64, dm.channels*2)
	for i := range vector {
		vector[i] = dm.rows[lower][i]*(1.0-t) + dm.rows[lower+1][i]*t
	}
	return vector
}

func (dm *DeepPhaseModule) Extract(timestamp float64, mirrored bool) *domain.PhaseSample {
	keyCount := dm.series.KeyCount()
	sample := &domain.PhaseSample{Vectors: make([][]float64, keyCount)}
	for k := 0; k < keyCount; k++ {
		keyTime := clampTime(timestamp+dm.series.Offset(k), dm.skeleton.Duration())
		sample.Vectors[k] = dm.vectorAt(keyTime)
	}
	return sample
}
