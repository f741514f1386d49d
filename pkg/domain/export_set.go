package domain

import (
	"encoding/json"
	"os"
	"strings"
	"sync"

	"github.com/miu200521358/mlib_go/pkg/config/mlog"
	"github.com/miu200521358/mlib_go/pkg/domain/mmath"
	"github.com/miu200521358/mlib_go/pkg/domain/pmx"
	"github.com/miu200521358/mlib_go/pkg/domain/vmd"
	"github.com/miu200521358/mlib_go/pkg/infrastructure/repository"
)

// ExportSet は、1エクスポート対象(モデル+モーション)の組です。
type ExportSet struct {
	Index int // インデックス

	ModelPath  string `json:"model_path"`  // モデルパス
	MotionPath string `json:"motion_path"` // モーションパス

	IsExportable bool   `json:"exportable"` // エクスポート対象フラグ
	IsMirror     bool   `json:"mirror"`     // ミラー変種フラグ
	Style        string `json:"style"`      // スタイルラベル

	Model  *pmx.PmxModel  `json:"-"` // モデル
	Motion *vmd.VmdMotion `json:"-"` // モーション

	loadMu  sync.Mutex
	loaded  bool
	loadErr error

	centerBone *pmx.Bone
	lowerBone  *pmx.Bone

	alignMu    sync.Mutex
	alignAxes  map[int]*mmath.MVec3
	childCount map[int]int
}

func NewExportSet(index int, conf *ExportSetConfig) *ExportSet {
	return &ExportSet{
		Index:        index,
		ModelPath:    conf.ModelPath,
		MotionPath:   conf.MotionPath,
		IsExportable: conf.Exportable,
		IsMirror:     conf.Mirror,
		Style:        conf.Style,
	}
}

// Load は、モデルとモーションを並列で読み込みます。
func (es *ExportSet) Load() error {
	es.loadMu.Lock()
	defer es.loadMu.Unlock()

	if es.loaded {
		return es.loadErr
	}

	var wg sync.WaitGroup
	var model *pmx.PmxModel
	var motion *vmd.VmdMotion
	var modelErr, motionErr error

	wg.Add(1)
	go func() {
		defer wg.Done()

		pmxRep := repository.NewPmxRepository()
		if data, err := pmxRep.Load(es.ModelPath); err == nil {
			model = data.(*pmx.PmxModel)
		} else {
			modelErr = err
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()

		vmdRep := repository.NewVmdVpdRepository()
		if data, err := vmdRep.Load(es.MotionPath); err == nil {
			motion = data.(*vmd.VmdMotion)
		} else {
			motionErr = err
		}
	}()

	wg.Wait()

	es.loaded = true

	if modelErr != nil {
		mlog.E("No.%d モデル読み込み失敗: %s", es.Index+1, modelErr.Error())
		es.loadErr = modelErr
		return es.loadErr
	}
	if motionErr != nil {
		mlog.E("No.%d モーション読み込み失敗: %s", es.Index+1, motionErr.Error())
		es.loadErr = motionErr
		return es.loadErr
	}

	es.Model = model
	es.Motion = motion

	return nil
}

// IsLoaded は、読み込み試行が完了しているかどうかを返します(成否は問いません)。
func (es *ExportSet) IsLoaded() bool {
	es.loadMu.Lock()
	defer es.loadMu.Unlock()
	return es.loaded
}

func (es *ExportSet) getOrFetchBone(cachedBone **pmx.Bone, boneName string) *pmx.Bone {
	if es.Model == nil {
		return nil
	}

	if *cachedBone == nil {
		*cachedBone, _ = es.Model.Bones.GetByName(boneName)
	}

	return *cachedBone
}

func (es *ExportSet) CenterBone() *pmx.Bone {
	return es.getOrFetchBone(&es.centerBone, pmx.CENTER.String())
}

func (es *ExportSet) LowerBone() *pmx.Bone {
	return es.getOrFetchBone(&es.lowerBone, pmx.LOWER.String())
}

// MirrorBoneName は、左右を入れ替えたボーン名を返します。対がない場合は元の名前です。
func MirrorBoneName(name string) string {
	if strings.Contains(name, "左") {
		return strings.Replace(name, "左", "右", 1)
	}
	if strings.Contains(name, "右") {
		return strings.Replace(name, "右", "左", 1)
	}
	return name
}

// AlignmentAxis は、子ボーンを1つだけ持つボーンについて、子への方向(整列軸)を返します。
// リターゲット後の回転再直交化の診断に使います。モデル再読込まではキャッシュされます。
func (es *ExportSet) AlignmentAxis(boneIndex int) *mmath.MVec3 {
	if es.Model == nil {
		return nil
	}

	es.alignMu.Lock()
	defer es.alignMu.Unlock()

	if es.alignAxes == nil {
		es.alignAxes = make(map[int]*mmath.MVec3)
		es.childCount = make(map[int]int)

		children := make(map[int]*pmx.Bone)
		es.Model.Bones.ForEach(func(index int, bone *pmx.Bone) {
			if bone.ParentIndex < 0 {
				return
			}
			parentIndex := bone.ParentIndex
			es.childCount[parentIndex]++
			children[parentIndex] = bone
		})

		for parentIndex, child := range children {
			if es.childCount[parentIndex] != 1 {
				continue
			}
			parent, _ := es.Model.Bones.Get(parentIndex)
			if parent == nil {
				continue
			}
			axis := child.Position.Subed(parent.Position)
			if vectorLength(axis) < 1e-8 {
				continue
			}
			es.alignAxes[parentIndex] = axis.Normalized()
		}
	}

	return es.alignAxes[boneIndex]
}

// SaveSnapshot は、解決済みのセット一覧を再現用に出力先へJSON保存します。
func SaveSetSnapshot(path string, sets []*ExportSet) {
	if output, err := json.Marshal(sets); err == nil && len(output) > 0 {
		if err := os.WriteFile(path, output, 0644); err == nil {
			mlog.V("セット情報保存: %s", path)
		} else {
			mlog.E("セット情報保存失敗: %s", err.Error())
		}
	} else if err != nil {
		mlog.E("セット情報保存失敗: %s", err.Error())
	}
}
