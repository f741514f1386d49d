package domain

import (
	"fmt"
	"os"

	"github.com/miu200521358/mlib_go/pkg/domain/pmx"
	"gopkg.in/yaml.v3"
)

// PhaseMode は位相エンコードの3択です。選択したモードがスキーマ長を確定します。
const (
	PhaseModeNone  = "NoPhases"
	PhaseModeLocal = "LocalPhases"
	PhaseModeDeep  = "DeepPhases"
)

// ExportSetConfig は、1アセット分の設定です。
type ExportSetConfig struct {
	ModelPath  string `yaml:"model_path"`
	MotionPath string `yaml:"motion_path"`
	Exportable bool   `yaml:"exportable"`
	Mirror     bool   `yaml:"mirror"`
	Style      string `yaml:"style"`
}

// ExportConfig は、エクスポートラン全体の設定です。
type ExportConfig struct {
	OutputDir string  `yaml:"output_dir"`
	Framerate float64 `yaml:"framerate"` // 出力サンプリングレート(Hz)
	Mirror    bool    `yaml:"mirror"`    // ミラー変種を出力するか
	Shifts    int     `yaml:"shifts"`    // サブフレームレートシフト数

	PastKeys     int     `yaml:"past_keys"`
	FutureKeys   int     `yaml:"future_keys"`
	PastWindow   float64 `yaml:"past_window"`
	FutureWindow float64 `yaml:"future_window"`

	// ターゲット姿勢サンプリング窓(元フレーム数)
	TargetMinFrames int `yaml:"target_min_frames"`
	TargetMaxFrames int `yaml:"target_max_frames"`

	ContactBones    []string `yaml:"contact_bones"`
	ContactHeight   float64  `yaml:"contact_height"`   // 接地とみなす高さ閾値
	ContactVelocity float64  `yaml:"contact_velocity"` // 接地とみなす速度閾値

	Styles []string `yaml:"styles"`

	PhaseMode     string `yaml:"phase_mode"`
	PhaseChannels int    `yaml:"phase_channels"` // DeepPhases のチャネル数

	Sets []*ExportSetConfig `yaml:"sets"`
}

// LoadExportConfig は、YAML設定ファイルを読み込んで既定値を補完・検証します。
func LoadExportConfig(path string) (*ExportConfig, error) {
	input, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("設定ファイルの読み込みに失敗しました: %w", err)
	}

	conf := &ExportConfig{}
	if err := yaml.Unmarshal(input, conf); err != nil {
		return nil, fmt.Errorf("設定ファイルの解析に失敗しました: %w", err)
	}

	conf.ApplyDefaults()
	if err := conf.Validate(); err != nil {
		return nil, err
	}

	return conf, nil
}

func (conf *ExportConfig) ApplyDefaults() {
	if conf.Framerate == 0 {
		conf.Framerate = 30.0
	}
	if conf.Shifts == 0 {
		conf.Shifts = 1
	}
	if conf.PastKeys == 0 {
		conf.PastKeys = 6
	}
	if conf.FutureKeys == 0 {
		conf.FutureKeys = 6
	}
	if conf.PastWindow == 0 {
		conf.PastWindow = 1.0
	}
	if conf.FutureWindow == 0 {
		conf.FutureWindow = 1.0
	}
	if conf.TargetMinFrames == 0 {
		conf.TargetMinFrames = 30
	}
	if conf.TargetMaxFrames == 0 {
		conf.TargetMaxFrames = 90
	}
	if len(conf.ContactBones) == 0 {
		conf.ContactBones = []string{pmx.ANKLE.Left(), pmx.ANKLE.Right()}
	}
	if conf.ContactHeight == 0 {
		conf.ContactHeight = 0.8
	}
	if conf.ContactVelocity == 0 {
		conf.ContactVelocity = 2.0
	}
	if conf.PhaseMode == "" {
		conf.PhaseMode = PhaseModeNone
	}
	if conf.PhaseChannels == 0 {
		conf.PhaseChannels = 5
	}
}

func (conf *ExportConfig) Validate() error {
	if conf.OutputDir == "" {
		return fmt.Errorf("出力先ディレクトリが指定されていません")
	}
	switch conf.PhaseMode {
	case PhaseModeNone, PhaseModeLocal, PhaseModeDeep:
	default:
		return fmt.Errorf("不明な位相モードです: %s", conf.PhaseMode)
	}
	if conf.TargetMinFrames > conf.TargetMaxFrames {
		return fmt.Errorf("ターゲット窓が不正です: min %d > max %d",
			conf.TargetMinFrames, conf.TargetMaxFrames)
	}
	if conf.Shifts < 1 {
		return fmt.Errorf("シフト数が不正です: %d", conf.Shifts)
	}
	return nil
}

// NewTimeSeries は、設定から共有サンプルキー列を作ります。
func (conf *ExportConfig) NewTimeSeries() *TimeSeries {
	return NewTimeSeries(conf.PastKeys, conf.FutureKeys, conf.PastWindow, conf.FutureWindow)
}
