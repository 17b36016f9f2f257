package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/basekick-labs/lineprotocol/internal/ingest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// isolate runs the test in an empty directory so no lpcodec.toml is found.
func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	oldWd, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(oldWd) })
	t.Setenv("LPCODEC_LOG_LEVEL", "error")
	return dir
}

func writeInput(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func newFlagSet(common *commonFlags) *flag.FlagSet {
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	common.register(fs)
	return fs
}

func withStdin(t *testing.T, content string) {
	t.Helper()
	old := stdin
	stdin = strings.NewReader(content)
	t.Cleanup(func() { stdin = old })
}

func TestRunCheck_Valid(t *testing.T) {
	dir := isolate(t)
	a := writeInput(t, dir, "a.lp", "cpu,host=a usage=1 1\ncpu,host=b usage=2 2\n")
	b := writeInput(t, dir, "b.lp", "# comment\nmem free=3i 3\n")

	var out bytes.Buffer
	require.NoError(t, runCheck([]string{a, b}, &out))
	assert.Contains(t, out.String(), "a.lp: ok, 2 points")
	assert.Contains(t, out.String(), "b.lp: ok, 1 points")
}

func TestRunCheck_Malformed(t *testing.T) {
	dir := isolate(t)
	good := writeInput(t, dir, "good.lp", "cpu usage=1 1\n")
	bad := writeInput(t, dir, "bad.lp", "cpu usage=1 1\ngarbage\n")

	var out bytes.Buffer
	err := runCheck([]string{"-q", good, bad}, &out)
	assert.ErrorIs(t, err, errInvalidInput)
	assert.NotContains(t, out.String(), "good.lp")
	assert.Contains(t, out.String(), "bad.lp: 1 points, 1 malformed lines")
	assert.Contains(t, out.String(), "line 2")
	assert.Contains(t, out.String(), "1 of 2 inputs contain invalid line protocol")
}

func TestRunCheck_Strict(t *testing.T) {
	dir := isolate(t)
	bad := writeInput(t, dir, "bad.lp", "cpu usage=1 1\ngarbage\ncpu usage=2 2\n")

	var out bytes.Buffer
	err := runCheck([]string{"-strict", bad}, &out)
	assert.ErrorIs(t, err, errInvalidInput)
	assert.Contains(t, out.String(), "bad.lp: 1 points before failure")
}

func TestRunCheck_MissingFile(t *testing.T) {
	dir := isolate(t)

	var out bytes.Buffer
	err := runCheck([]string{filepath.Join(dir, "missing.lp")}, &out)
	assert.ErrorIs(t, err, errInvalidInput)
	assert.Contains(t, out.String(), "missing.lp")
}

func TestRunCheck_Stdin(t *testing.T) {
	isolate(t)
	withStdin(t, "cpu usage=1 1\n")

	var out bytes.Buffer
	require.NoError(t, runCheck(nil, &out))
	assert.Contains(t, out.String(), "-: ok, 1 points")
}

func TestRunFmt(t *testing.T) {
	isolate(t)
	withStdin(t, "cpu,host=a v=1.50,n=2i 10\n\nmem free=3i\n")

	var out bytes.Buffer
	require.NoError(t, runFmt([]string{"-precision", "s", "-out-precision", "ms"}, &out))
	assert.Equal(t, "cpu,host=a v=1.5,n=2i 10000\nmem free=3i\n", out.String())
}

func TestRunFmt_CompressedRoundTrip(t *testing.T) {
	dir := isolate(t)
	input := "weather,location=us\\ midwest temperature=82,desc=\"hot \\\"day\\\"\" 1465839830100400200\n"
	src := writeInput(t, dir, "in.lp", input)
	dst := filepath.Join(dir, "out.lp.zst")

	require.NoError(t, runFmt([]string{"-o", dst, "-out-compression", "zstd", src}, io.Discard))

	data, err := os.ReadFile(dst)
	require.NoError(t, err)
	in, err := ingest.OpenInput(bytes.NewReader(data), ingest.CompressionAuto)
	require.NoError(t, err)
	defer in.Close()
	plain, err := io.ReadAll(in)
	require.NoError(t, err)
	assert.Equal(t, input, string(plain))
}

func TestRunFmt_DropsMalformed(t *testing.T) {
	isolate(t)
	withStdin(t, "cpu v=1 1\nbroken\ncpu v=2 2\n")

	var out bytes.Buffer
	err := runFmt(nil, &out)
	assert.ErrorIs(t, err, errInvalidInput)
	assert.Equal(t, "cpu v=1 1\ncpu v=2 2\n", out.String())
}

func TestRunStats_JSON(t *testing.T) {
	dir := isolate(t)
	a := writeInput(t, dir, "a.lp", "cpu,host=a usage=1 10\ncpu,host=a usage=2 20\ncpu,host=b usage=3i 30\n")
	b := writeInput(t, dir, "b.lp", "mem,host=a free=1i 5\nbad line\n")

	var out bytes.Buffer
	require.NoError(t, runStats([]string{"-json", a, b}, &out))

	var got struct {
		Inputs       int   `json:"inputs"`
		Points       int   `json:"points"`
		Dropped      int   `json:"dropped"`
		Series       int   `json:"series"`
		MinTime      int64 `json:"min_time"`
		MaxTime      int64 `json:"max_time"`
		Measurements map[string]struct {
			Points int               `json:"points"`
			Series int               `json:"series"`
			Tags   []string          `json:"tags"`
			Fields map[string]string `json:"fields"`
		} `json:"measurements"`
	}
	require.NoError(t, json.Unmarshal(out.Bytes(), &got))

	assert.Equal(t, 2, got.Inputs)
	assert.Equal(t, 4, got.Points)
	assert.Equal(t, 1, got.Dropped)
	assert.Equal(t, 3, got.Series)
	assert.Equal(t, int64(5), got.MinTime)
	assert.Equal(t, int64(30), got.MaxTime)

	cpu := got.Measurements["cpu"]
	assert.Equal(t, 3, cpu.Points)
	assert.Equal(t, 2, cpu.Series)
	assert.Equal(t, []string{"host"}, cpu.Tags)
	assert.Equal(t, "mixed", cpu.Fields["usage"])
	assert.Equal(t, "uint", got.Measurements["mem"].Fields["free"])
}

func TestRunStats_Text(t *testing.T) {
	isolate(t)
	withStdin(t, "cpu,host=a usage=1 1000000000\n")

	var out bytes.Buffer
	require.NoError(t, runStats(nil, &out))
	assert.Contains(t, out.String(), "points:       1")
	assert.Contains(t, out.String(), "1970-01-01T00:00:01Z")
	assert.Contains(t, out.String(), "field:  usage float")
}

func TestRunColumns_JSON(t *testing.T) {
	isolate(t)
	withStdin(t, "cpu,host=a usage=1.5 1\ncpu,host=b usage=2.5 2\nmem free=1i 3\n")

	var out bytes.Buffer
	require.NoError(t, runColumns([]string{"-measurement", "cpu"}, &out))

	var got map[string]map[string][]interface{}
	require.NoError(t, json.Unmarshal(out.Bytes(), &got))
	require.Len(t, got, 1)
	assert.Equal(t, []interface{}{"a", "b"}, got["cpu"]["host"])
	assert.Equal(t, []interface{}{1.5, 2.5}, got["cpu"]["usage"])
	assert.Equal(t, []interface{}{1.0, 2.0}, got["cpu"]["time"])
}

func TestRunColumns_MsgPack(t *testing.T) {
	isolate(t)
	withStdin(t, "cpu usage=1.5 1\nmem free=1i 3\n")

	var out bytes.Buffer
	require.NoError(t, runColumns([]string{"-format", "msgpack"}, &out))

	payloads, err := ingest.DecodeMsgPack(out.Bytes())
	require.NoError(t, err)
	require.Len(t, payloads, 2)
	assert.Equal(t, "cpu", payloads[0].M)
	assert.Equal(t, "mem", payloads[1].M)
}

func TestRunColumns_Parquet(t *testing.T) {
	dir := isolate(t)
	withStdin(t, "cpu usage=1.5 1\nmem free=1i 3\n")

	err := runColumns([]string{"-format", "parquet", "-o", filepath.Join(dir, "out.parquet")}, io.Discard)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "2 measurements")

	withStdin(t, "cpu usage=1.5 1\nmem free=1i 3\n")
	out := filepath.Join(dir, "cpu.parquet")
	require.NoError(t, runColumns([]string{"-format", "parquet", "-measurement", "cpu", "-o", out}, io.Discard))
	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "PAR1", string(data[:4]))
}

func TestRunColumns_Dir(t *testing.T) {
	dir := isolate(t)
	withStdin(t, "cpu usage=1.5 1\nmem free=1i 3\n")

	outDir := filepath.Join(dir, "data")
	require.NoError(t, runColumns([]string{"-format", "parquet", "-dir", outDir}, io.Discard))

	for _, m := range []string{"cpu", "mem"} {
		matches, err := filepath.Glob(filepath.Join(outDir, m, "*", "*", "*", "*", m+"_*.parquet"))
		require.NoError(t, err)
		assert.Len(t, matches, 1, m)
	}
}

func TestCommonFlags_Overrides(t *testing.T) {
	dir := isolate(t)
	writeInput(t, dir, "lpcodec.toml", "[input]\nprecision = \"ms\"\nstrict = true\n")

	var common commonFlags
	fs := newFlagSet(&common)
	require.NoError(t, fs.Parse([]string{"-strict=false", "-max-size", "2KB"}))

	cfg, err := common.load(fs)
	require.NoError(t, err)
	assert.Equal(t, "ms", cfg.Input.Precision)
	assert.False(t, cfg.Input.Strict)
	assert.Equal(t, int64(2048), cfg.Input.MaxSize)

	fs = newFlagSet(&common)
	require.NoError(t, fs.Parse([]string{"-max-size", "lots"}))
	_, err = common.load(fs)
	assert.Error(t, err)
}

func TestOpenInput_Limit(t *testing.T) {
	isolate(t)
	withStdin(t, strings.Repeat("cpu usage=1 1\n", 100))

	var out bytes.Buffer
	err := runCheck([]string{"-max-size", "100B"}, &out)
	assert.ErrorIs(t, err, errInvalidInput)
	assert.Contains(t, out.String(), ingest.ErrInputTooLarge.Error())
}
