package domain

import (
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func feedVector(t *testing.T, d *ExportData, values ...float64) {
	t.Helper()
	for i, v := range values {
		require.NoError(t, d.Feed("Value"+string(rune('A'+i)), v))
	}
}

func TestExportData_MissingDir(t *testing.T) {
	_, err := NewExportData(filepath.Join(t.TempDir(), "nothing"), "Input")
	require.Error(t, err)
}

func TestExportData_SchemaLock(t *testing.T) {
	dir := t.TempDir()
	d, err := NewExportData(dir, "Input")
	require.NoError(t, err)

	assert.Equal(t, "Input", d.Name())
	assert.Equal(t, DataUnconfigured, d.State())

	feedVector(t, d, 1.0, 2.0, 3.0)
	require.NoError(t, d.Store())

	assert.Equal(t, DataAccepting, d.State())
	assert.Equal(t, 3, d.Dimensions())
	assert.Equal(t, []string{"ValueA", "ValueB", "ValueC"}, d.Labels())

	// ラベルファイルは初回 Store 時点で確定している
	content, err := os.ReadFile(filepath.Join(dir, "InputLabels.txt"))
	require.NoError(t, err)
	assert.Equal(t, "[0] ValueA\n[1] ValueB\n[2] ValueC\n", string(content))

	require.NoError(t, d.Finish())
}

func TestExportData_DimensionMismatch(t *testing.T) {
	dir := t.TempDir()
	d, err := NewExportData(dir, "Input")
	require.NoError(t, err)

	feedVector(t, d, 1.0, 2.0)
	require.NoError(t, d.Store())

	// スキーマ超過は Feed 側で検出される
	require.NoError(t, d.Feed("ValueA", 1.0))
	require.NoError(t, d.Feed("ValueB", 2.0))
	assert.Error(t, d.Feed("ValueC", 3.0))

	// 不足は Store 側で検出される
	d2, err := NewExportData(dir, "Output")
	require.NoError(t, err)
	feedVector(t, d2, 1.0, 2.0)
	require.NoError(t, d2.Store())
	require.NoError(t, d2.Feed("ValueA", 1.0))
	assert.Error(t, d2.Store())

	require.NoError(t, d.Finish())
	require.NoError(t, d2.Finish())
}

func TestExportData_RejectsNonFinite(t *testing.T) {
	dir := t.TempDir()
	d, err := NewExportData(dir, "Input")
	require.NoError(t, err)

	feedVector(t, d, 1.0, math.NaN())
	assert.Error(t, d.Store())

	require.NoError(t, d.Finish())
}

func TestExportData_WritesDataAndNorm(t *testing.T) {
	dir := t.TempDir()
	d, err := NewExportData(dir, "Output")
	require.NoError(t, err)

	feedVector(t, d, 1.0, 10.0, 5.0)
	require.NoError(t, d.Store())
	feedVector(t, d, 2.0, 10.0, 7.0)
	require.NoError(t, d.Store())
	feedVector(t, d, 3.0, 10.0, 9.0)
	require.NoError(t, d.Store())

	require.NoError(t, d.Finish())
	assert.Equal(t, DataClosed, d.State())
	assert.Equal(t, 3, d.SampleCount())

	data, err := os.ReadFile(filepath.Join(dir, "Output.txt"))
	require.NoError(t, err)
	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	require.Len(t, lines, 3)
	// Store 順が行順に保存される
	assert.Equal(t, "1.00000 10.00000 5.00000", lines[0])
	assert.Equal(t, "2.00000 10.00000 7.00000", lines[1])
	assert.Equal(t, "3.00000 10.00000 9.00000", lines[2])

	norm, err := os.ReadFile(filepath.Join(dir, "OutputNorm.txt"))
	require.NoError(t, err)
	normLines := strings.Split(strings.TrimRight(string(norm), "\n"), "\n")
	require.Len(t, normLines, 2)
	assert.Equal(t, "2.00000 10.00000 7.00000", normLines[0])
	// 分散0の次元はゼロ除算回避のため1に置き換わる
	fields := strings.Fields(normLines[1])
	require.Len(t, fields, 3)
	assert.Equal(t, "1.00000", fields[1])
	assert.Equal(t, "0.81650", fields[0]) // 母標準偏差 sqrt(2/3)
	assert.Equal(t, "1.63299", fields[2])
}

func TestExportData_FinishWithoutStore(t *testing.T) {
	dir := t.TempDir()
	d, err := NewExportData(dir, "Input")
	require.NoError(t, err)

	require.NoError(t, d.Finish())

	// サンプルが1件もない場合、ラベル・正規化ファイルは作られない
	_, err = os.Stat(filepath.Join(dir, "InputLabels.txt"))
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(filepath.Join(dir, "InputNorm.txt"))
	assert.True(t, os.IsNotExist(err))

	// 終了後の Feed / Store はエラー
	assert.Error(t, d.Feed("ValueA", 1.0))
	assert.Error(t, d.Store())
}

func TestExportData_EmptyVector(t *testing.T) {
	dir := t.TempDir()
	d, err := NewExportData(dir, "Input")
	require.NoError(t, err)

	assert.Error(t, d.Store())
	require.NoError(t, d.Finish())
}
