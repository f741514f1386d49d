package domain

import (
	"math"

	"github.com/miu200521358/mlib_go/pkg/domain/mmath"
)

// RootFrame は、ルートトランスフォームを基準とした参照フレームです。
// 位置は地面投影(Y=0)、回転はY軸まわりのヨーのみを持ちます。
type RootFrame struct {
	Position *mmath.MVec3
	Rotation *mmath.MQuaternion
}

// MMDモデルは-Z方向(カメラ側)を正面とする
var ForwardAxis = &mmath.MVec3{X: 0, Y: 0, Z: -1}
var UpAxis = &mmath.MVec3{X: 0, Y: 1, Z: 0}

// NewRootFrame は、地面投影位置と正面方向から参照フレームを生成します。
// forward が縮退している場合は正面軸をそのまま使います。
func NewRootFrame(position, forward *mmath.MVec3) *RootFrame {
	flat := &mmath.MVec3{X: forward.X, Y: 0.0, Z: forward.Z}
	if vectorLength(flat) < 1e-8 {
		flat = ForwardAxis.Copy()
	}
	return &RootFrame{
		Position: &mmath.MVec3{X: position.X, Y: 0.0, Z: position.Z},
		Rotation: mmath.NewMQuaternionRotate(ForwardAxis, flat.Normalized()),
	}
}

func (rf *RootFrame) Forward() *mmath.MVec3 {
	return rf.Rotation.MulVec3(ForwardAxis)
}

// LocalPosition は、ワールド位置をこのフレームのローカル空間へ変換します。
func (rf *RootFrame) LocalPosition(world *mmath.MVec3) *mmath.MVec3 {
	return rf.Rotation.Inverted().MulVec3(world.Subed(rf.Position))
}

// LocalDirection は、ワールド方向(または速度)を回転のみで変換します。
func (rf *RootFrame) LocalDirection(world *mmath.MVec3) *mmath.MVec3 {
	return rf.Rotation.Inverted().MulVec3(world)
}

// GlobalPosition は、LocalPosition の逆変換です。
func (rf *RootFrame) GlobalPosition(local *mmath.MVec3) *mmath.MVec3 {
	return rf.Rotation.MulVec3(local).Added(rf.Position)
}

// GlobalDirection は、LocalDirection の逆変換です。
func (rf *RootFrame) GlobalDirection(local *mmath.MVec3) *mmath.MVec3 {
	return rf.Rotation.MulVec3(local)
}

func vectorLength(v *mmath.MVec3) float64 {
	return math.Sqrt(v.X*v.X + v.Y*v.Y + v.Z*v.Z)
}

// BonePose は、1ボーンの1時刻におけるワールド空間の姿勢です。
// 回転は前方向・上方向の2ベクトルで表現します。
type BonePose struct {
	Position *mmath.MVec3
	Forward  *mmath.MVec3
	Up       *mmath.MVec3
	Velocity *mmath.MVec3
}

// SkeletonProvider は、タイムスタンプごとの骨格姿勢への問い合わせ窓口です。
// 実体はVMDデフォーム結果ですが、テストではスタブに差し替えられます。
type SkeletonProvider interface {
	BoneCount() int
	BoneName(boneIndex int) string
	ParentIndex(boneIndex int) int
	MirrorIndex(boneIndex int) int
	FrameCount() int
	FrameDuration() float64
	Duration() float64
	FrameIndex(timestamp float64) int
	BonePose(timestamp float64, boneIndex int, mirrored bool) *BonePose
	RootFrame(timestamp float64, mirrored bool) *RootFrame
}

// Container は、1タイムスタンプ分の学習サンプル素材の集約スナップショットです。
// current/next の2つで1つの学習例を構成します。値的に扱い、例をまたいで共有しません。
type Container struct {
	Timestamp  float64
	Mirrored   bool
	FrameIndex int

	// エゴセントリック参照フレーム(現在ルート)
	Root *RootFrame

	// 現在姿勢(ボーンINDEX順)
	BonePositions  []*mmath.MVec3
	BoneForwards   []*mmath.MVec3
	BoneUps        []*mmath.MVec3
	BoneVelocities []*mmath.MVec3

	// 時系列サンプル
	RootSeries    *RootSample
	ContactSeries *ContactSample
	StyleSeries   *StyleSample
	PhaseSeries   *PhaseSample

	// ターゲット姿勢とターゲット参照フレーム
	TargetOffset     float64 // 現在時刻からの相対秒
	TargetFrameIndex int
	TargetRoot       *RootFrame
	TargetPositions  []*mmath.MVec3
	TargetForwards   []*mmath.MVec3
	TargetVelocities []*mmath.MVec3
}

// TargetDistances は、現在姿勢とターゲット姿勢のボーンごとのユークリッド距離を返します。
// 診断用途のみで、特徴量には含まれません。
func (c *Container) TargetDistances() []float64 {
	distances := make([]float64, len(c.BonePositions))
	for i := range c.BonePositions {
		distances[i] = c.BonePositions[i].Distance(c.TargetPositions[i])
	}
	return distances
}
