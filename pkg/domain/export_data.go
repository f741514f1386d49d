package domain

import (
	"bufio"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/miu200521358/mlib_go/pkg/config/mlog"
)

// DataState は ExportData の状態遷移です。
// Unconfigured → Accepting → Finishing → Closed の順にのみ進みます。
type DataState int

const (
	DataUnconfigured DataState = iota
	DataAccepting
	DataFinishing
	DataClosed
)

const drainIdle = 5 * time.Millisecond

// ExportData は、特徴量ベクトルのバッファリング書き込み器です。
// Feed で1次元ずつ値を受け取り、Store でキューに積み、バックグラウンドの
// 1本のゴルーチンが統計の累積とテキスト書き出しを行います。
// 最初の Store 時点のラベル列がそのランの恒久スキーマになります。
type ExportData struct {
	name string // "Input" / "Output"
	dir  string

	state  DataState
	labels []string
	buffer []float64
	cursor int

	queueMu   sync.Mutex
	queue     [][]float64
	finishing bool

	stats       []*RunningStat
	sampleCount int

	dataFile   *os.File
	dataWriter *bufio.Writer

	wg       sync.WaitGroup
	writeErr error
}

// NewExportData は、書き込み先ディレクトリ配下に <name>.txt を作成します。
// 出力先が存在しない場合はランの開始自体を失敗させます。
func NewExportData(dir, name string) (*ExportData, error) {
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		return nil, fmt.Errorf("出力先ディレクトリが存在しません: %s", dir)
	}

	f, err := os.Create(filepath.Join(dir, name+".txt"))
	if err != nil {
		return nil, err
	}

	return &ExportData{
		name:       name,
		dir:        dir,
		state:      DataUnconfigured,
		dataFile:   f,
		dataWriter: bufio.NewWriter(f),
	}, nil
}

func (d *ExportData) Name() string {
	return d.name
}

func (d *ExportData) State() DataState {
	return d.state
}

// Dimensions は、ロック済みスキーマの次元数を返します。ロック前は現在の仮スキーマ長です。
func (d *ExportData) Dimensions() int {
	return len(d.labels)
}

func (d *ExportData) Labels() []string {
	return d.labels
}

func (d *ExportData) SampleCount() int {
	return d.sampleCount
}

// Feed は、1次元分の値を書き込みカーソル位置に記録します。
// 未設定状態では名前がスキーマに追記され、ロック後はスキーマ長超過をエラーにします。
func (d *ExportData) Feed(label string, value float64) error {
	switch d.state {
	case DataUnconfigured:
		d.labels = append(d.labels, label)
		d.buffer = append(d.buffer, value)
		d.cursor++
	case DataAccepting:
		if d.cursor >= len(d.labels) {
			return fmt.Errorf("%s: 特徴量の次元数がスキーマを超えました: %d > %d (%s)",
				d.name, d.cursor+1, len(d.labels), label)
		}
		d.buffer[d.cursor] = value
		d.cursor++
	default:
		return fmt.Errorf("%s: 終了済みの書き込み器に Feed されました", d.name)
	}
	return nil
}

// Store は、Feed 済みのベクトルをキューへ確定します。
// 初回呼び出しでスキーマをロックし、ラベルファイルの書き出しと
// バックグラウンド書き込みの開始を行います。
func (d *ExportData) Store() error {
	switch d.state {
	case DataUnconfigured:
		if d.cursor == 0 {
			return fmt.Errorf("%s: 空の特徴量ベクトルは保存できません", d.name)
		}
		if err := d.lockSchema(); err != nil {
			return err
		}
	case DataAccepting:
		// 継続
	default:
		return fmt.Errorf("%s: 終了済みの書き込み器に Store されました", d.name)
	}

	if d.cursor != len(d.labels) {
		return fmt.Errorf("%s: 特徴量の次元数がスキーマと一致しません: %d != %d",
			d.name, d.cursor, len(d.labels))
	}

	// 非有限値はファイルを壊すためここで弾く
	for i, v := range d.buffer {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%s: 非有限値を検出しました: [%d] %s = %v",
				d.name, i, d.labels[i], v)
		}
	}

	vector := make([]float64, len(d.buffer))
	copy(vector, d.buffer)

	d.queueMu.Lock()
	d.queue = append(d.queue, vector)
	d.queueMu.Unlock()

	d.cursor = 0
	d.sampleCount++

	return nil
}

// lockSchema は、ラベルファイルを書き出してスキーマを確定し、統計器を割り当て、
// バックグラウンドの書き込みゴルーチンを開始します。
func (d *ExportData) lockSchema() error {
	labelFile, err := os.Create(filepath.Join(d.dir, d.name+"Labels.txt"))
	if err != nil {
		return err
	}
	labelWriter := bufio.NewWriter(labelFile)
	for i, label := range d.labels {
		fmt.Fprintf(labelWriter, "[%d] %s\n", i, label)
	}
	if err := labelWriter.Flush(); err != nil {
		labelFile.Close()
		return err
	}
	if err := labelFile.Close(); err != nil {
		return err
	}

	d.stats = make([]*RunningStat, len(d.labels))
	for i := range d.stats {
		d.stats[i] = &RunningStat{}
	}

	d.state = DataAccepting

	d.wg.Add(1)
	go d.drain()

	return nil
}

// drain は、キューを継続的に取り出して統計を累積し、1ベクトル1行で書き出します。
// キューが空のときはスピンせず短く待機します。
func (d *ExportData) drain() {
	defer d.wg.Done()

	for {
		d.queueMu.Lock()
		pending := d.queue
		d.queue = nil
		finishing := d.finishing
		d.queueMu.Unlock()

		if len(pending) == 0 {
			if finishing {
				return
			}
			time.Sleep(drainIdle)
			continue
		}

		for _, vector := range pending {
			for i, v := range vector {
				d.stats[i].Add(v)
			}
			if err := d.writeLine(vector); err != nil {
				if d.writeErr == nil {
					d.writeErr = err
				}
				return
			}
		}
	}
}

func (d *ExportData) writeLine(vector []float64) error {
	var sb strings.Builder
	for i, v := range vector {
		if i > 0 {
			sb.WriteByte(' ')
		}
		// ロケール非依存の小数点・固定小数5桁
		sb.WriteString(strconv.FormatFloat(v, 'f', 5, 64))
	}
	sb.WriteByte('\n')
	_, err := d.dataWriter.WriteString(sb.String())
	return err
}

// Finish は、バックグラウンド書き込みの完全なドレインを待ってファイルを閉じ、
// 1サンプル以上保存されていれば正規化ファイル(平均・標準偏差の2行)を書き出します。
// 標準偏差の0は、後段の正規化でのゼロ除算を避けるため1に置き換えます。
func (d *ExportData) Finish() error {
	if d.state == DataClosed {
		return nil
	}

	stored := d.state == DataAccepting
	d.state = DataFinishing

	if stored {
		d.queueMu.Lock()
		d.finishing = true
		d.queueMu.Unlock()
		d.wg.Wait()
	}

	if err := d.dataWriter.Flush(); err != nil {
		d.dataFile.Close()
		d.state = DataClosed
		return err
	}
	if err := d.dataFile.Close(); err != nil {
		d.state = DataClosed
		return err
	}

	if stored {
		if err := d.writeNorm(); err != nil {
			d.state = DataClosed
			return err
		}
	}

	d.state = DataClosed

	if d.writeErr != nil {
		return d.writeErr
	}

	mlog.V("%s: %d サンプル書き出し完了", d.name, d.sampleCount)
	return nil
}

func (d *ExportData) writeNorm() error {
	normFile, err := os.Create(filepath.Join(d.dir, d.name+"Norm.txt"))
	if err != nil {
		return err
	}
	normWriter := bufio.NewWriter(normFile)

	means := make([]float64, len(d.stats))
	stds := make([]float64, len(d.stats))
	for i, rs := range d.stats {
		means[i] = rs.Mean()
		stds[i] = rs.Std()
		if stds[i] == 0.0 {
			stds[i] = 1.0
		}
	}

	if err := d.writeNormLine(normWriter, means); err != nil {
		normFile.Close()
		return err
	}
	if err := d.writeNormLine(normWriter, stds); err != nil {
		normFile.Close()
		return err
	}

	if err := normWriter.Flush(); err != nil {
		normFile.Close()
		return err
	}
	return normFile.Close()
}

func (d *ExportData) writeNormLine(w *bufio.Writer, values []float64) error {
	var sb strings.Builder
	for i, v := range values {
		if i > 0 {
			sb.WriteByte(' ')
		}
		sb.WriteString(strconv.FormatFloat(v, 'f', 5, 64))
	}
	sb.WriteByte('\n')
	_, err := w.WriteString(sb.String())
	return err
}
