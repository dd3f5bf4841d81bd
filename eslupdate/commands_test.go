package main

import (
	"bytes"
	"context"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/harveysanders/esllabel/eslupdate/config"
	"github.com/harveysanders/esllabel/eslupdate/journal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Setenv(config.EnvBroker, "")
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetArgs(args)
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestPreviewWritesBitmaps(t *testing.T) {
	dir := t.TempDir()
	out, err := execute(t, "preview",
		"--line1", "**Organic** Apples",
		"--price", "3.49",
		"--tag-id", "a0b1c2d3e4f5",
		"--bin-dir", dir,
	)
	require.NoError(t, err)
	assert.Contains(t, out, "esl/a0b1c2d3e4f5/description\t2580 bytes (215x92)")
	assert.Contains(t, out, "esl/a0b1c2d3e4f5/price\t968 bytes (121x58)")

	desc, err := os.ReadFile(filepath.Join(dir, "description.bin"))
	require.NoError(t, err)
	assert.Len(t, desc, 2580)
	assert.NotEqual(t, make([]byte, 2580), desc, "description text should leave ink")

	price, err := os.ReadFile(filepath.Join(dir, "price.bin"))
	require.NoError(t, err)
	assert.Len(t, price, 968)
}

func TestPreviewWritesPNGs(t *testing.T) {
	dir := t.TempDir()
	composition := filepath.Join(dir, "label.png")
	device := filepath.Join(dir, "device.png")
	_, err := execute(t, "preview", "--price", "12", "--out", composition, "--device-out", device)
	require.NoError(t, err)

	for _, path := range []string{composition, device} {
		f, err := os.Open(path)
		require.NoError(t, err)
		cfg, err := png.DecodeConfig(f)
		f.Close()
		require.NoError(t, err)
		assert.Equal(t, 416, cfg.Width)
		assert.Equal(t, 240, cfg.Height)
	}
}

func TestPreviewNeedsOutput(t *testing.T) {
	_, err := execute(t, "preview")
	assert.Error(t, err)
}

func TestPreviewUsesConfigLabel(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "eslupdate.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("label:\n  tag_id: from-config\n  price: \"1.00\"\n"), 0o600))

	out, err := execute(t, "--config", cfgPath, "preview", "--bin-dir", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "esl/from-config/price")

	out, err = execute(t, "--config", cfgPath, "preview", "--bin-dir", dir, "--tag-id", "from-flag")
	require.NoError(t, err)
	assert.Contains(t, out, "esl/from-flag/price")
}

func TestPreviewPrintsHTML(t *testing.T) {
	out, err := execute(t, "preview", "--html",
		"--line1", "**Organic** Apples",
		"--line2", "<Fuji> & Gala",
		"--line3", "**Crisp** and sweet, from local orchards",
	)
	require.NoError(t, err)
	assert.Contains(t, out, "line1: <strong>Organic</strong> Apples\n")
	assert.Contains(t, out, "line2: &lt;Fuji&gt; &amp; Gala\n")
	// Cut to the visible budget before the markers are rendered.
	assert.Contains(t, out, "line3: <strong>Crisp</strong> and sweet, fro\n")
}

func TestInspectRoundTripsPreview(t *testing.T) {
	dir := t.TempDir()
	device := filepath.Join(dir, "device.png")
	_, err := execute(t, "preview",
		"--line1", "**Organic** Apples",
		"--price", "3.49",
		"--bin-dir", dir,
		"--device-out", device,
	)
	require.NoError(t, err)

	inspected := filepath.Join(dir, "inspected.png")
	desc, price := filepath.Join(dir, "description.bin"), filepath.Join(dir, "price.bin")
	out, err := execute(t, "inspect", desc, price, "--out", inspected)
	require.NoError(t, err)
	assert.Contains(t, out, desc+"\t2580 bytes (215x92) at 10,80")
	assert.Contains(t, out, price+"\t968 bytes (121x58) at 265,90")

	want, err := os.ReadFile(device)
	require.NoError(t, err)
	got, err := os.ReadFile(inspected)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestInspectRejectsWrongSize(t *testing.T) {
	dir := t.TempDir()
	desc, price := filepath.Join(dir, "description.bin"), filepath.Join(dir, "price.bin")
	require.NoError(t, os.WriteFile(desc, make([]byte, 2580), 0o644))
	// A description payload where the price belongs.
	require.NoError(t, os.WriteFile(price, make([]byte, 2580), 0o644))

	_, err := execute(t, "inspect", desc, price)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "want 968 for 121x58")

	_, err = execute(t, "inspect", desc)
	assert.Error(t, err)
}

func TestUpdateRejectsBadBroker(t *testing.T) {
	_, err := execute(t, "update", "--broker", "http://localhost:9001")
	assert.Error(t, err)
}

func TestHistory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "jobs.cbor")
	j, err := journal.OpenFile(path)
	require.NoError(t, err)
	start := time.Date(2025, 3, 14, 9, 26, 53, 0, time.UTC)
	for _, e := range []journal.Entry{
		{JobID: "job-1", TagID: "aaa", State: "done", StartedAt: start, EndedAt: start.Add(600 * time.Millisecond)},
		{JobID: "job-2", TagID: "bbb", State: "failed", Error: "update: transport connect failed", StartedAt: start, EndedAt: start},
	} {
		require.NoError(t, j.Record(e))
	}
	require.NoError(t, j.Close())

	out, err := execute(t, "history", "--journal", path)
	require.NoError(t, err)
	assert.Contains(t, out, "STARTED")
	assert.Contains(t, out, "job-1")
	assert.Contains(t, out, "600ms")
	assert.Contains(t, out, "transport connect failed")

	out, err = execute(t, "history", "--journal", path, "-n", "1")
	require.NoError(t, err)
	assert.NotContains(t, out, "job-1")
	assert.Contains(t, out, "job-2")
}

func TestHistoryWithoutJournal(t *testing.T) {
	_, err := execute(t, "history")
	assert.Error(t, err)
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger, err := newLogger(&buf, 0, "json")
	require.NoError(t, err)
	logger.Info("update:state")
	assert.Contains(t, buf.String(), `"msg":"update:state"`)

	_, err = newLogger(&buf, 0, "xml")
	assert.Error(t, err)
}
