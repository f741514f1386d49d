package usecase

import (
	"fmt"
	"math"
	"miu200521358/vmd_export_t4/pkg/domain"

	"github.com/miu200521358/mlib_go/pkg/domain/delta"
	"github.com/miu200521358/mlib_go/pkg/domain/mmath"
	"github.com/miu200521358/mlib_go/pkg/domain/pmx"
	"github.com/miu200521358/mlib_go/pkg/domain/vmd"
	"github.com/miu200521358/mlib_go/pkg/infrastructure/miter"
	"github.com/miu200521358/mlib_go/pkg/usecase/deform"
)

// VMDは30fps固定
const sourceFrameDuration = 1.0 / 30.0

const log_block_size = 1000

// VmdSkeleton は、VMDモーションのデフォーム結果を前計算して
// タイムスタンプ単位の姿勢問い合わせに答える SkeletonProvider 実装です。
type VmdSkeleton struct {
	model  *pmx.PmxModel
	motion *vmd.VmdMotion

	names   []string
	parents []int
	mirror  []int

	centerIndex int
	lowerIndex  int

	frameCount int
	deltas     []*delta.VmdDeltas
}

// NewVmdSkeleton は、全フレームのデフォーム結果を並列処理で取得します。
// 1フレームしかないモーションは1秒の静止ポーズとして複製扱いします。
func NewVmdSkeleton(set *domain.ExportSet, setCount int, isTerminate func() bool) (*VmdSkeleton, error) {
	if set.Model == nil || set.Motion == nil {
		return nil, fmt.Errorf("No.%d モデルまたはモーションが未読込です", set.Index+1)
	}

	sk := &VmdSkeleton{
		model:       set.Model,
		motion:      set.Motion,
		centerIndex: -1,
		lowerIndex:  -1,
	}

	boneNames := make([]string, 0)
	set.Model.Bones.ForEach(func(index int, bone *pmx.Bone) {
		sk.names = append(sk.names, bone.Name())
		sk.parents = append(sk.parents, bone.ParentIndex)
		boneNames = append(boneNames, bone.Name())
	})

	nameIndexes := make(map[string]int, len(sk.names))
	for i, name := range sk.names {
		nameIndexes[name] = i
	}

	sk.mirror = make([]int, len(sk.names))
	for i, name := range sk.names {
		if pairIndex, ok := nameIndexes[domain.MirrorBoneName(name)]; ok {
			sk.mirror[i] = pairIndex
		} else {
			sk.mirror[i] = i
		}
	}

	if index, ok := nameIndexes[pmx.CENTER.String()]; ok {
		sk.centerIndex = index
	}
	if index, ok := nameIndexes[pmx.LOWER.String()]; ok {
		sk.lowerIndex = index
	}
	if sk.centerIndex < 0 {
		return nil, fmt.Errorf("No.%d センターボーンが見つかりません", set.Index+1)
	}
	if sk.lowerIndex < 0 {
		sk.lowerIndex = sk.centerIndex
	}

	sourceFrameCount := int(set.Motion.MaxFrame()) + 1

	if sourceFrameCount <= 1 {
		// 静止ポーズ: フレーム0を1秒分に複製
		sk.frameCount = int(math.Round(1.0/sourceFrameDuration)) + 1
		vmdDeltas := sk.deformFrame(0, boneNames)
		sk.deltas = make([]*delta.VmdDeltas, sk.frameCount)
		for i := range sk.deltas {
			sk.deltas[i] = vmdDeltas
		}
		return sk, nil
	}

	sk.frameCount = sourceFrameCount
	sk.deltas = make([]*delta.VmdDeltas, sk.frameCount)

	allFrames := make([]int, sk.frameCount)
	for i := range allFrames {
		allFrames[i] = i
	}
	blockSize, _ := miter.GetBlockSize(len(allFrames) * setCount)

	err := miter.IterParallelByList(allFrames, blockSize, log_block_size,
		func(index, iFrame int) error {
			if isTerminate != nil && isTerminate() {
				return fmt.Errorf("中断要求によりデフォームを打ち切りました")
			}
			sk.deltas[index] = sk.deformFrame(iFrame, boneNames)
			return nil
		},
		func(iterIndex, allCount int) {
			processLog("デフォーム", set.Index, iterIndex, allCount)
		})
	if err != nil {
		return nil, err
	}

	return sk, nil
}

func (sk *VmdSkeleton) deformFrame(iFrame int, boneNames []string) *delta.VmdDeltas {
	frame := float32(iFrame)
	vmdDeltas := delta.NewVmdDeltas(frame, sk.model.Bones, sk.model.Hash(), sk.motion.Hash())
	vmdDeltas.Morphs = deform.DeformMorph(sk.model, sk.motion.MorphFrames, frame, nil)
	vmdDeltas.Bones = deform.DeformBone(sk.model, sk.motion, true, iFrame, boneNames)
	return vmdDeltas
}

func (sk *VmdSkeleton) BoneCount() int {
	return len(sk.names)
}

func (sk *VmdSkeleton) BoneName(boneIndex int) string {
	return sk.names[boneIndex]
}

func (sk *VmdSkeleton) ParentIndex(boneIndex int) int {
	return sk.parents[boneIndex]
}

func (sk *VmdSkeleton) MirrorIndex(boneIndex int) int {
	return sk.mirror[boneIndex]
}

func (sk *VmdSkeleton) FrameCount() int {
	return sk.frameCount
}

func (sk *VmdSkeleton) FrameDuration() float64 {
	return sourceFrameDuration
}

func (sk *VmdSkeleton) Duration() float64 {
	return float64(sk.frameCount-1) * sourceFrameDuration
}

func (sk *VmdSkeleton) FrameIndex(timestamp float64) int {
	index := int(math.Round(timestamp / sourceFrameDuration))
	if index < 0 {
		return 0
	}
	if index >= sk.frameCount {
		return sk.frameCount - 1
	}
	return index
}

// globalDirection は、グローバル行列の回転成分のみで軸を変換します。
func globalDirection(gm *mmath.MMat4, axis *mmath.MVec3) *mmath.MVec3 {
	origin := gm.MulVec3(&mmath.MVec3{})
	return gm.MulVec3(axis).Subed(origin).Normalized()
}

func mirrorVec(v *mmath.MVec3) *mmath.MVec3 {
	return &mmath.MVec3{X: -v.X, Y: v.Y, Z: v.Z}
}

func (sk *VmdSkeleton) boneWorldPosition(frameIndex, boneIndex int) *mmath.MVec3 {
	return sk.deltas[frameIndex].Bones.Get(boneIndex).FilledGlobalPosition()
}

// BonePose は、指定のタイムスタンプにおけるボーンのワールド姿勢を返します。
// ミラー時は左右対のボーンのデータをX反転して返します。
func (sk *VmdSkeleton) BonePose(timestamp float64, boneIndex int, mirrored bool) *domain.BonePose {
	frameIndex := sk.FrameIndex(timestamp)

	resolved := boneIndex
	if mirrored {
		resolved = sk.mirror[boneIndex]
	}

	bd := sk.deltas[frameIndex].Bones.Get(resolved)
	position := bd.FilledGlobalPosition().Copy()
	gm := bd.FilledGlobalMatrix()
	forward := globalDirection(gm, domain.ForwardAxis)
	up := globalDirection(gm, domain.UpAxis)

	// 速度は元フレーム間の後退差分
	prevIndex := frameIndex - 1
	nextIndex := frameIndex
	if prevIndex < 0 {
		prevIndex = 0
		nextIndex = 1
		if nextIndex >= sk.frameCount {
			nextIndex = 0
		}
	}
	velocity := &mmath.MVec3{}
	if nextIndex != prevIndex {
		velocity = sk.boneWorldPosition(nextIndex, resolved).Subed(
			sk.boneWorldPosition(prevIndex, resolved)).MuledScalar(1.0 / sourceFrameDuration)
	}

	if mirrored {
		position = mirrorVec(position)
		forward = mirrorVec(forward)
		up = mirrorVec(up)
		velocity = mirrorVec(velocity)
	}

	return &domain.BonePose{
		Position: position,
		Forward:  forward,
		Up:       up,
		Velocity: velocity,
	}
}

// RootFrame は、センターの地面投影位置と下半身の正面方向からエゴセントリックフレームを作ります。
func (sk *VmdSkeleton) RootFrame(timestamp float64, mirrored bool) *domain.RootFrame {
	frameIndex := sk.FrameIndex(timestamp)

	position := sk.boneWorldPosition(frameIndex, sk.centerIndex).Copy()
	gm := sk.deltas[frameIndex].Bones.Get(sk.lowerIndex).FilledGlobalMatrix()
	forward := globalDirection(gm, domain.ForwardAxis)

	if mirrored {
		position = mirrorVec(position)
		forward = mirrorVec(forward)
	}

	return domain.NewRootFrame(position, forward)
}
