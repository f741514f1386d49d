package domain

import (
	"testing"

	"github.com/miu200521358/mlib_go/pkg/domain/mmath"
	"github.com/miu200521358/mlib_go/pkg/domain/pmx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExportSet_LoadMissingFiles(t *testing.T) {
	set := NewExportSet(0, &ExportSetConfig{
		ModelPath:  "nothing/model.pmx",
		MotionPath: "nothing/motion.vmd",
		Exportable: true,
	})

	assert.False(t, set.IsLoaded())
	require.Error(t, set.Load())

	// 読み込み試行は成否に関わらず完了扱いになり、2回目は同じ結果を返す
	assert.True(t, set.IsLoaded())
	assert.Error(t, set.Load())
}

func newSingleChainModel(t *testing.T) *pmx.PmxModel {
	t.Helper()
	model := pmx.NewPmxModel("")

	center := pmx.NewBoneByName("センター")
	center.Position = &mmath.MVec3{X: 0.0, Y: 8.0, Z: 0.0}
	require.NoError(t, model.Bones.Append(center))

	lower := pmx.NewBoneByName("下半身")
	lower.ParentIndex = 0
	lower.Position = &mmath.MVec3{X: 0.0, Y: 10.0, Z: 0.0}
	require.NoError(t, model.Bones.Append(lower))

	left := pmx.NewBoneByName("左足")
	left.ParentIndex = 1
	left.Position = &mmath.MVec3{X: 1.0, Y: 10.0, Z: 0.0}
	require.NoError(t, model.Bones.Append(left))

	right := pmx.NewBoneByName("右足")
	right.ParentIndex = 1
	right.Position = &mmath.MVec3{X: -1.0, Y: 10.0, Z: 0.0}
	require.NoError(t, model.Bones.Append(right))

	return model
}

func TestExportSet_AlignmentAxis(t *testing.T) {
	set := &ExportSet{Model: newSingleChainModel(t)}

	// センターは下半身ただ1つを子に持つので、整列軸はその方向になる
	axis := set.AlignmentAxis(0)
	require.NotNil(t, axis)
	assertVec3InDelta(t, &mmath.MVec3{X: 0, Y: 1, Z: 0}, axis, 1e-9)

	// 子が複数あるボーンと末端ボーンは整列軸を持たない
	assert.Nil(t, set.AlignmentAxis(1))
	assert.Nil(t, set.AlignmentAxis(2))

	// モデル未読込では nil
	empty := &ExportSet{}
	assert.Nil(t, empty.AlignmentAxis(0))
}
