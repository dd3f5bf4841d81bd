package journal

import (
	"bytes"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleEntry(id string) Entry {
	start := time.Date(2025, 3, 14, 9, 26, 53, 589793000, time.UTC)
	return Entry{
		JobID:     id,
		TagID:     "a0b1c2d3e4f5",
		Broker:    "mqtt://localhost:1883",
		State:     "done",
		StartedAt: start,
		EndedAt:   start.Add(612 * time.Millisecond),
		Publishes: []Publish{
			{Topic: "esl/a0b1c2d3e4f5/description", Bytes: 2580},
			{Topic: "esl/a0b1c2d3e4f5/price", Bytes: 968},
		},
		Transitions: []Transition{
			{From: "idle", To: "capturing", At: start},
			{From: "closing", To: "done", At: start.Add(612 * time.Millisecond)},
		},
	}
}

func TestEncodeDecode(t *testing.T) {
	in := sampleEntry("job-1")
	data, err := Encode(in)
	require.NoError(t, err)

	out, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, in.JobID, out.JobID)
	assert.Equal(t, in.Publishes, out.Publishes)
	assert.True(t, in.StartedAt.Equal(out.StartedAt))
	assert.Equal(t, 612*time.Millisecond, out.Duration())
	require.Len(t, out.Transitions, 2)
	assert.Equal(t, "capturing", out.Transitions[0].To)
}

func TestEncodeIsDeterministic(t *testing.T) {
	a, err := Encode(sampleEntry("same"))
	require.NoError(t, err)
	b, err := Encode(sampleEntry("same"))
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestFileAppendsAcrossOpens(t *testing.T) {
	path := filepath.Join(t.TempDir(), "jobs.cbor")

	j, err := OpenFile(path)
	require.NoError(t, err)
	require.NoError(t, j.Record(sampleEntry("job-1")))
	require.NoError(t, j.Close())
	require.NoError(t, j.Close())
	assert.Error(t, j.Record(sampleEntry("late")))

	j, err = OpenFile(path)
	require.NoError(t, err)
	failed := sampleEntry("job-2")
	failed.State = "failed"
	failed.Error = "update: transport connect failed: connection refused"
	failed.Publishes = nil
	require.NoError(t, j.Record(failed))
	require.NoError(t, j.Close())

	entries, err := ReadFile(path)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "job-1", entries[0].JobID)
	assert.Equal(t, "job-2", entries[1].JobID)
	assert.Equal(t, "failed", entries[1].State)
	assert.Empty(t, entries[1].Publishes)
}

func TestFileConcurrentRecords(t *testing.T) {
	path := filepath.Join(t.TempDir(), "jobs.cbor")
	j, err := OpenFile(path)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, j.Record(sampleEntry("concurrent")))
		}()
	}
	wg.Wait()
	require.NoError(t, j.Close())

	entries, err := ReadFile(path)
	require.NoError(t, err)
	assert.Len(t, entries, 20)
}

func TestReadEmptyAndTruncated(t *testing.T) {
	entries, err := Read(bytes.NewReader(nil))
	require.NoError(t, err)
	assert.Empty(t, entries)

	data, err := Encode(sampleEntry("whole"))
	require.NoError(t, err)
	stream := append(append([]byte(nil), data...), data[:len(data)/2]...)
	entries, err = Read(bytes.NewReader(stream))
	assert.Error(t, err)
	assert.Len(t, entries, 1)
}

func TestReadFileMissing(t *testing.T) {
	_, err := ReadFile(filepath.Join(t.TempDir(), "missing.cbor"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestNop(t *testing.T) {
	assert.NoError(t, Nop{}.Record(sampleEntry("ignored")))
}
