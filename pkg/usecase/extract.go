package usecase

import (
	"miu200521358/vmd_export_t4/pkg/domain"

	"github.com/miu200521358/mlib_go/pkg/config/mlog"
	"github.com/miu200521358/mlib_go/pkg/domain/mmath"
)

// ContainerExtractor は、1タイムスタンプ分のコンテナ(エゴセントリックフレーム・
// 時系列サンプル・ターゲット姿勢・ターゲットフレーム)を構築します。
type ContainerExtractor struct {
	skeleton domain.SkeletonProvider
	series   *domain.TimeSeries

	root    RootSeriesProvider
	contact ContactSeriesProvider
	style   StyleSeriesProvider
	phase   PhaseSeriesProvider

	targetMinFrames int
	targetMaxFrames int
}

func NewContainerExtractor(skeleton domain.SkeletonProvider, series *domain.TimeSeries,
	root RootSeriesProvider, contact ContactSeriesProvider,
	style StyleSeriesProvider, phase PhaseSeriesProvider,
	targetMinFrames, targetMaxFrames int) *ContainerExtractor {
	return &ContainerExtractor{
		skeleton:        skeleton,
		series:          series,
		root:            root,
		contact:         contact,
		style:           style,
		phase:           phase,
		targetMinFrames: targetMinFrames,
		targetMaxFrames: targetMaxFrames,
	}
}

// sampleTargetOffset は、設定された窓内で決定的にターゲットの先行フレーム数を選びます。
// 同じ(アセット, タイムスタンプ, ミラー)に対して常に同じ結果になります。
func (ce *ContainerExtractor) sampleTargetOffset(frameIndex int) int {
	window := ce.targetMaxFrames - ce.targetMinFrames + 1
	return ce.targetMinFrames + (frameIndex*31)%window
}

// Extract は、タイムスタンプのコンテナをターゲットのサンプリング込みで構築します。
func (ce *ContainerExtractor) Extract(timestamp float64, mirrored bool) *domain.Container {
	frameIndex := ce.skeleton.FrameIndex(timestamp)
	offsetFrames := ce.sampleTargetOffset(frameIndex)
	targetTime := clampTime(
		timestamp+float64(offsetFrames)*ce.skeleton.FrameDuration(), ce.skeleton.Duration())
	return ce.extractWithTarget(timestamp, mirrored, targetTime)
}

// ExtractPair は、1学習例を構成する current/next のコンテナ対を構築します。
// ターゲットは current でサンプリングしたものを next と共有します。
// 両者が同一フレームに解決された場合はデータ異常として警告し、例自体は出力します。
func (ce *ContainerExtractor) ExtractPair(timestamp, nextTimestamp float64, mirrored bool) (
	cur, nxt *domain.Container,
) {
	cur = ce.Extract(timestamp, mirrored)
	targetTime := clampTime(timestamp+cur.TargetOffset, ce.skeleton.Duration())
	nxt = ce.extractWithTarget(nextTimestamp, mirrored, targetTime)

	if cur.FrameIndex == nxt.FrameIndex {
		mlog.W("current/next が同一フレームに解決されました: frame=%d time=%.5f/%.5f",
			cur.FrameIndex, timestamp, nextTimestamp)
	}

	return cur, nxt
}

func (ce *ContainerExtractor) extractWithTarget(timestamp float64, mirrored bool, targetTime float64) *domain.Container {
	boneCount := ce.skeleton.BoneCount()

	c := &domain.Container{
		Timestamp:  timestamp,
		Mirrored:   mirrored,
		FrameIndex: ce.skeleton.FrameIndex(timestamp),

		Root: ce.skeleton.RootFrame(timestamp, mirrored),

		BonePositions:  make([]*mmath.MVec3, boneCount),
		BoneForwards:   make([]*mmath.MVec3, boneCount),
		BoneUps:        make([]*mmath.MVec3, boneCount),
		BoneVelocities: make([]*mmath.MVec3, boneCount),

		TargetOffset:     targetTime - timestamp,
		TargetFrameIndex: ce.skeleton.FrameIndex(targetTime),
		TargetRoot:       ce.skeleton.RootFrame(targetTime, mirrored),
		TargetPositions:  make([]*mmath.MVec3, boneCount),
		TargetForwards:   make([]*mmath.MVec3, boneCount),
		TargetVelocities: make([]*mmath.MVec3, boneCount),
	}

	for b := 0; b < boneCount; b++ {
		pose := ce.skeleton.BonePose(timestamp, b, mirrored)
		c.BonePositions[b] = pose.Position
		c.BoneForwards[b] = pose.Forward
		c.BoneUps[b] = pose.Up
		c.BoneVelocities[b] = pose.Velocity

		target := ce.skeleton.BonePose(targetTime, b, mirrored)
		c.TargetPositions[b] = target.Position
		c.TargetForwards[b] = target.Forward
		c.TargetVelocities[b] = target.Velocity
	}

	c.RootSeries = ce.root.Extract(timestamp, mirrored)
	c.ContactSeries = ce.contact.Extract(timestamp, mirrored)
	if ce.style != nil {
		c.StyleSeries = ce.style.Extract(timestamp, mirrored)
	}
	if ce.phase != nil {
		c.PhaseSeries = ce.phase.Extract(timestamp, mirrored)
	}

	if mlog.IsDebug() {
		distances := c.TargetDistances()
		sum := 0.0
		for _, d := range distances {
			sum += d
		}
		mlog.V("frame=%d target=%d 平均ターゲット距離=%.5f",
			c.FrameIndex, c.TargetFrameIndex, sum/float64(len(distances)))
	}

	return c
}
