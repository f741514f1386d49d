package usecase

import (
	"fmt"
	"math"
	"miu200521358/vmd_export_t4/pkg/domain"

	"github.com/miu200521358/mlib_go/pkg/domain/mmath"
)

// FeatureEncoder は、current/next のコンテナ対から入力・出力の特徴量ストリームへ
// 固定順で値を書き込みます。ワールド値をそのまま出力することはなく、
// 位置は基準フレームの原点差し引き+逆回転、方向・速度は逆回転のみで相対化します。
type FeatureEncoder struct {
	series    *domain.TimeSeries
	boneNames []string

	contactBones []string
	styleLabels  []string
	phaseMode    string
	phaseBones   []string // LocalPhases で追跡するボーン名

	input  *domain.ExportData
	output *domain.ExportData
}

func NewFeatureEncoder(series *domain.TimeSeries, boneNames, contactBones, styleLabels []string,
	phaseMode string, input, output *domain.ExportData) *FeatureEncoder {
	return &FeatureEncoder{
		series:       series,
		boneNames:    boneNames,
		contactBones: contactBones,
		styleLabels:  styleLabels,
		phaseMode:    phaseMode,
		phaseBones:   contactBones,
		input:        input,
		output:       output,
	}
}

// Encode は、1学習例分の入力・出力特徴量を書き込んで確定します。
func (fe *FeatureEncoder) Encode(cur, nxt *domain.Container) error {
	if err := fe.encodeInput(cur); err != nil {
		return err
	}
	if err := fe.input.Store(); err != nil {
		return err
	}

	if err := fe.encodeOutput(cur, nxt); err != nil {
		return err
	}
	return fe.output.Store()
}

// encodeInput は、現在状態とターゲットへの経路を記述する入力特徴量を書き込みます。
// 軌道サンプルはターゲットフレーム基準、現在姿勢はエゴセントリックフレーム基準、
// ターゲット姿勢もエゴセントリックフレーム基準で相対化します。
func (fe *FeatureEncoder) encodeInput(cur *domain.Container) error {
	d := fe.input

	// 軌道サンプル(ターゲットフレーム基準)
	for k := 0; k < fe.series.KeyCount(); k++ {
		pos := cur.TargetRoot.LocalPosition(cur.RootSeries.Positions[k])
		dir := cur.TargetRoot.LocalDirection(cur.RootSeries.Directions[k])
		vel := cur.TargetRoot.LocalDirection(cur.RootSeries.Velocities[k])
		if err := feedVec2(d, fmt.Sprintf("TrajectoryPosition%d", k), pos); err != nil {
			return err
		}
		if err := feedVec2(d, fmt.Sprintf("TrajectoryDirection%d", k), dir); err != nil {
			return err
		}
		if err := feedVec2(d, fmt.Sprintf("TrajectoryVelocity%d", k), vel); err != nil {
			return err
		}

		// キー時刻からターゲットまでの残り時間
		if err := d.Feed(fmt.Sprintf("TimeToTarget%d", k),
			cur.TargetOffset-fe.series.Offset(k)); err != nil {
			return err
		}

		for b, name := range fe.contactBones {
			if err := d.Feed(fmt.Sprintf("Contact%d-%s", k, name),
				cur.ContactSeries.Values[k][b]); err != nil {
				return err
			}
		}

		if cur.StyleSeries != nil {
			for s, label := range fe.styleLabels {
				if err := d.Feed(fmt.Sprintf("Style%d-%s", k, label),
					cur.StyleSeries.Values[k][s]); err != nil {
					return err
				}
			}
		}

		if err := fe.feedPhaseState(d, cur, k, "Phase"); err != nil {
			return err
		}
	}

	// 現在姿勢(エゴセントリックフレーム基準)
	for b, name := range fe.boneNames {
		if err := feedVec3(d, fmt.Sprintf("BonePosition-%s", name),
			cur.Root.LocalPosition(cur.BonePositions[b])); err != nil {
			return err
		}
		if err := feedVec3(d, fmt.Sprintf("BoneForward-%s", name),
			cur.Root.LocalDirection(cur.BoneForwards[b])); err != nil {
			return err
		}
		if err := feedVec3(d, fmt.Sprintf("BoneUp-%s", name),
			cur.Root.LocalDirection(cur.BoneUps[b])); err != nil {
			return err
		}
		if err := feedVec3(d, fmt.Sprintf("BoneVelocity-%s", name),
			cur.Root.LocalDirection(cur.BoneVelocities[b])); err != nil {
			return err
		}
	}

	// ターゲット姿勢(エゴセントリックフレーム基準)
	for b, name := range fe.boneNames {
		if err := feedVec3(d, fmt.Sprintf("TargetPosition-%s", name),
			cur.Root.LocalPosition(cur.TargetPositions[b])); err != nil {
			return err
		}
		if err := feedVec3(d, fmt.Sprintf("TargetForward-%s", name),
			cur.Root.LocalDirection(cur.TargetForwards[b])); err != nil {
			return err
		}
	}

	return nil
}

// encodeOutput は、予測対象である次状態の特徴量を書き込みます。
// 次ルートは現在エゴセントリック基準とターゲット基準の両方、
// ピボット以降の未来軌道は次エゴセントリック基準とターゲット基準の両方、
// 次の全身姿勢は次エゴセントリック基準と、ボーンごとのターゲットフレーム基準で相対化します。
func (fe *FeatureEncoder) encodeOutput(cur, nxt *domain.Container) error {
	d := fe.output
	pivot := fe.series.Pivot()

	nextRootVelocity := nxt.RootSeries.Velocities[pivot]

	// 次ルート(現在エゴセントリック基準)
	if err := feedVec2(d, "RootPosition", cur.Root.LocalPosition(nxt.Root.Position)); err != nil {
		return err
	}
	if err := feedVec2(d, "RootDirection", cur.Root.LocalDirection(nxt.Root.Forward())); err != nil {
		return err
	}
	if err := feedVec2(d, "RootVelocity", cur.Root.LocalDirection(nextRootVelocity)); err != nil {
		return err
	}

	// 次ルート(ターゲットフレーム基準)
	if err := feedVec2(d, "TargetRootPosition", cur.TargetRoot.LocalPosition(nxt.Root.Position)); err != nil {
		return err
	}
	if err := feedVec2(d, "TargetRootDirection", cur.TargetRoot.LocalDirection(nxt.Root.Forward())); err != nil {
		return err
	}
	if err := feedVec2(d, "TargetRootVelocity", cur.TargetRoot.LocalDirection(nextRootVelocity)); err != nil {
		return err
	}

	// 未来軌道(次エゴセントリック基準+ターゲットフレーム基準)
	for k := pivot + 1; k < fe.series.KeyCount(); k++ {
		pos := nxt.RootSeries.Positions[k]
		dir := nxt.RootSeries.Directions[k]
		vel := nxt.RootSeries.Velocities[k]

		if err := feedVec2(d, fmt.Sprintf("FutureTrajectoryPosition%d", k), nxt.Root.LocalPosition(pos)); err != nil {
			return err
		}
		if err := feedVec2(d, fmt.Sprintf("FutureTrajectoryDirection%d", k), nxt.Root.LocalDirection(dir)); err != nil {
			return err
		}
		if err := feedVec2(d, fmt.Sprintf("FutureTrajectoryVelocity%d", k), nxt.Root.LocalDirection(vel)); err != nil {
			return err
		}

		if err := feedVec2(d, fmt.Sprintf("TargetTrajectoryPosition%d", k), cur.TargetRoot.LocalPosition(pos)); err != nil {
			return err
		}
		if err := feedVec2(d, fmt.Sprintf("TargetTrajectoryDirection%d", k), cur.TargetRoot.LocalDirection(dir)); err != nil {
			return err
		}
		if err := feedVec2(d, fmt.Sprintf("TargetTrajectoryVelocity%d", k), cur.TargetRoot.LocalDirection(vel)); err != nil {
			return err
		}
	}

	// 次姿勢(次エゴセントリック基準)
	for b, name := range fe.boneNames {
		if err := feedVec3(d, fmt.Sprintf("BonePosition-%s", name),
			nxt.Root.LocalPosition(nxt.BonePositions[b])); err != nil {
			return err
		}
		if err := feedVec3(d, fmt.Sprintf("BoneForward-%s", name),
			nxt.Root.LocalDirection(nxt.BoneForwards[b])); err != nil {
			return err
		}
		if err := feedVec3(d, fmt.Sprintf("BoneUp-%s", name),
			nxt.Root.LocalDirection(nxt.BoneUps[b])); err != nil {
			return err
		}
		if err := feedVec3(d, fmt.Sprintf("BoneVelocity-%s", name),
			nxt.Root.LocalDirection(nxt.BoneVelocities[b])); err != nil {
			return err
		}
	}

	// 次姿勢(ボーンごとのターゲットフレーム基準)
	// 原点はそのボーンのターゲット位置、向きはターゲットルートの回転を使う。
	// ボーン自身のターゲット回転は使わない(関節単位の収束を素直な座標で測るため)。
	for b, name := range fe.boneNames {
		boneTarget := &domain.RootFrame{
			Position: nxt.TargetPositions[b],
			Rotation: nxt.TargetRoot.Rotation,
		}
		if err := feedVec3(d, fmt.Sprintf("TargetDelta-%s", name),
			boneTarget.LocalPosition(nxt.BonePositions[b])); err != nil {
			return err
		}
	}

	// ピボットの接地状態
	for b, name := range fe.contactBones {
		if err := d.Feed(fmt.Sprintf("Contact-%s", name),
			nxt.ContactSeries.Values[pivot][b]); err != nil {
			return err
		}
	}

	// 位相の状態と更新
	if err := fe.feedPhaseOutput(d, cur, nxt); err != nil {
		return err
	}

	return nil
}

// feedPhaseState は、位相モードに応じたキー1つ分の位相状態を書き込みます。
func (fe *FeatureEncoder) feedPhaseState(d *domain.ExportData, c *domain.Container, k int, prefix string) error {
	switch fe.phaseMode {
	case domain.PhaseModeNone:
		return nil
	case domain.PhaseModeLocal:
		for b, name := range fe.phaseBones {
			amplitude := c.PhaseSeries.Amplitudes[k][b]
			angle := c.PhaseSeries.Phases[k][b]
			if err := d.Feed(fmt.Sprintf("%s%d-%s:Sin", prefix, k, name),
				amplitude*math.Sin(angle)); err != nil {
				return err
			}
			if err := d.Feed(fmt.Sprintf("%s%d-%s:Cos", prefix, k, name),
				amplitude*math.Cos(angle)); err != nil {
				return err
			}
		}
		return nil
	case domain.PhaseModeDeep:
		for i, v := range c.PhaseSeries.Vectors[k] {
			if err := d.Feed(fmt.Sprintf("%sSpace%d-%d", prefix, k, i), v); err != nil {
				return err
			}
		}
		return nil
	}
	return fmt.Errorf("不明な位相モードです: %s", fe.phaseMode)
}

// feedPhaseOutput は、出力側の位相状態と更新の対を書き込みます。
func (fe *FeatureEncoder) feedPhaseOutput(d *domain.ExportData, cur, nxt *domain.Container) error {
	switch fe.phaseMode {
	case domain.PhaseModeNone:
		return nil
	case domain.PhaseModeLocal:
		for k := 0; k < fe.series.KeyCount(); k++ {
			if err := fe.feedPhaseState(d, nxt, k, "Phase"); err != nil {
				return err
			}
			for b, name := range fe.phaseBones {
				amplitude := nxt.PhaseSeries.Amplitudes[k][b]
				deltaAngle := nxt.PhaseSeries.Phases[k][b] - cur.PhaseSeries.Phases[k][b]
				if err := d.Feed(fmt.Sprintf("PhaseUpdate%d-%s:Sin", k, name),
					amplitude*math.Sin(deltaAngle)); err != nil {
					return err
				}
				if err := d.Feed(fmt.Sprintf("PhaseUpdate%d-%s:Cos", k, name),
					amplitude*math.Cos(deltaAngle)); err != nil {
					return err
				}
			}
		}
		return nil
	case domain.PhaseModeDeep:
		for k := 0; k < fe.series.KeyCount(); k++ {
			if err := fe.feedPhaseState(d, nxt, k, "Phase"); err != nil {
				return err
			}
			for i := range nxt.PhaseSeries.Vectors[k] {
				if err := d.Feed(fmt.Sprintf("PhaseUpdate%d-%d", k, i),
					nxt.PhaseSeries.Vectors[k][i]-cur.PhaseSeries.Vectors[k][i]); err != nil {
					return err
				}
			}
		}
		return nil
	}
	return fmt.Errorf("不明な位相モードです: %s", fe.phaseMode)
}

// feedVec2 は、地面平面量(XZ)を書き込みます。
func feedVec2(d *domain.ExportData, name string, v *mmath.MVec3) error {
	if err := d.Feed(name+":X", v.X); err != nil {
		return err
	}
	return d.Feed(name+":Z", v.Z)
}

func feedVec3(d *domain.ExportData, name string, v *mmath.MVec3) error {
	if err := d.Feed(name+":X", v.X); err != nil {
		return err
	}
	if err := d.Feed(name+":Y", v.Y); err != nil {
		return err
	}
	return d.Feed(name+":Z", v.Z)
}
