package batch

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meigma/img/core/internal/layout"
)

// mockSink captures processed entries for testing.
type mockSink struct {
	mu            sync.Mutex
	shouldProcess func(Entry) bool
	written       map[string][]byte
	errors        map[string]error
}

func newMockSink() *mockSink {
	return &mockSink{
		shouldProcess: func(Entry) bool { return true },
		written:       make(map[string][]byte),
		errors:        make(map[string]error),
	}
}

func (s *mockSink) ShouldProcess(entry Entry) bool {
	return s.shouldProcess(entry)
}

func (s *mockSink) Writer(entry Entry) (Committer, error) {
	if err, ok := s.errors[entry.Name]; ok {
		return nil, err
	}
	return &mockCommitter{sink: s, name: entry.Name}, nil
}

type mockCommitter struct {
	sink *mockSink
	name string
	data []byte
}

func (c *mockCommitter) Write(p []byte) (int, error) {
	c.data = append(c.data, p...)
	return len(p), nil
}

func (c *mockCommitter) Commit() error {
	c.sink.mu.Lock()
	defer c.sink.mu.Unlock()
	c.sink.written[c.name] = c.data
	return nil
}

func (c *mockCommitter) Discard() error {
	return nil
}

// sectorImage builds a source where sector i is filled with byte i.
func sectorImage(sectors int) []byte {
	data := make([]byte, sectors*layout.SectorSize)
	for i := range sectors {
		copy(data[i*layout.SectorSize:], bytes.Repeat([]byte{byte(i)}, layout.SectorSize))
	}
	return data
}

func TestGroupAdjacentEntries(t *testing.T) {
	t.Parallel()

	entries := []Entry{
		{Name: "a", SectorOffset: 1, SectorCount: 1},
		{Name: "b", SectorOffset: 2, SectorCount: 2},
		{Name: "c", SectorOffset: 6, SectorCount: 1},
		{Name: "d", SectorOffset: 6, SectorCount: 1},
	}
	groups := groupAdjacentEntries(entries, DefaultMaxGroupBytes)

	require.Len(t, groups, 3)
	assert.Equal(t, int64(1*layout.SectorSize), groups[0].start)
	assert.Equal(t, int64(4*layout.SectorSize), groups[0].end)
	assert.Len(t, groups[0].entries, 2)
	assert.Equal(t, "c", groups[1].entries[0].Name)
	assert.Equal(t, "d", groups[2].entries[0].Name, "overlapping entries are read separately")
}

func TestGroupAdjacentEntriesRespectsBudget(t *testing.T) {
	t.Parallel()

	entries := []Entry{
		{Name: "a", SectorOffset: 1, SectorCount: 1},
		{Name: "b", SectorOffset: 2, SectorCount: 1},
	}
	groups := groupAdjacentEntries(entries, layout.SectorSize)
	assert.Len(t, groups, 2)
}

func TestProcessWritesSectorSpans(t *testing.T) {
	t.Parallel()

	source := bytes.NewReader(sectorImage(8))
	entries := []Entry{
		{Name: "late", SectorOffset: 5, SectorCount: 2},
		{Name: "early", SectorOffset: 1, SectorCount: 1},
		{Name: "empty", SectorOffset: 3, SectorCount: 0},
	}

	for _, workers := range []int{1, 4} {
		sink := newMockSink()
		stats, err := NewProcessor(source, WithWorkers(workers)).Process(context.Background(), entries, sink)
		require.NoError(t, err)

		assert.Equal(t, 3, stats.Processed)
		assert.Equal(t, uint64(3*layout.SectorSize), stats.TotalBytes)
		assert.Equal(t, bytes.Repeat([]byte{1}, layout.SectorSize), sink.written["early"])
		assert.Len(t, sink.written["late"], 2*layout.SectorSize)
		assert.Equal(t, byte(6), sink.written["late"][layout.SectorSize])
		assert.Empty(t, sink.written["empty"])
	}
}

func TestProcessSkipsDeclined(t *testing.T) {
	t.Parallel()

	sink := newMockSink()
	sink.shouldProcess = func(e Entry) bool { return e.Name != "skip" }

	stats, err := NewProcessor(bytes.NewReader(sectorImage(4))).Process(context.Background(), []Entry{
		{Name: "keep", SectorOffset: 1, SectorCount: 1},
		{Name: "skip", SectorOffset: 2, SectorCount: 1},
	}, sink)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Processed)
	assert.Equal(t, 1, stats.Skipped)
	assert.NotContains(t, sink.written, "skip")
}

func TestProcessShortRead(t *testing.T) {
	t.Parallel()

	_, err := NewProcessor(bytes.NewReader(sectorImage(2))).Process(context.Background(), []Entry{
		{Name: "beyond", SectorOffset: 1, SectorCount: 4},
	}, newMockSink())
	require.ErrorIs(t, err, ErrShortRead)
}

func TestProcessSinkError(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	sink := newMockSink()
	sink.errors["bad"] = boom

	_, err := NewProcessor(bytes.NewReader(sectorImage(4))).Process(context.Background(), []Entry{
		{Name: "bad", SectorOffset: 1, SectorCount: 1},
	}, sink)
	require.ErrorIs(t, err, boom)
}

func TestProcessCancelled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewProcessor(bytes.NewReader(sectorImage(4))).Process(ctx, []Entry{
		{Name: "a", SectorOffset: 1, SectorCount: 1},
	}, newMockSink())
	require.ErrorIs(t, err, context.Canceled)
}

func TestProcessProgress(t *testing.T) {
	t.Parallel()

	var events []ProgressEvent
	p := NewProcessor(bytes.NewReader(sectorImage(4)), WithProgress(func(ev ProgressEvent) {
		events = append(events, ev)
	}))
	_, err := p.Process(context.Background(), []Entry{
		{Name: "a", SectorOffset: 1, SectorCount: 1},
		{Name: "b", SectorOffset: 2, SectorCount: 1},
	}, newMockSink())
	require.NoError(t, err)

	require.Len(t, events, 2)
	assert.Equal(t, 2, events[1].EntriesDone)
	assert.Equal(t, 2, events[1].EntriesTotal)
	assert.Equal(t, uint64(2*layout.SectorSize), events[1].BytesDone)
}

func TestFileSink(t *testing.T) {
	t.Parallel()

	destDir := filepath.Join(t.TempDir(), "out", "nested")
	var committed []string
	sink := NewFileSink(destDir, WithOnCommit(func(name, dir string) {
		committed = append(committed, name+"@"+dir)
	}))
	defer sink.Close()

	entry := Entry{Name: "a.dff"}
	require.True(t, sink.ShouldProcess(entry))

	w, err := sink.Writer(entry)
	require.NoError(t, err)
	_, err = w.Write([]byte("content"))
	require.NoError(t, err)
	require.NoError(t, w.Commit())

	got, err := os.ReadFile(filepath.Join(destDir, "a.dff"))
	require.NoError(t, err)
	assert.Equal(t, []byte("content"), got)
	assert.Equal(t, []string{"a.dff@" + destDir}, committed)
	if runtime.GOOS != "windows" {
		info, err := os.Stat(filepath.Join(destDir, "a.dff"))
		require.NoError(t, err)
		assert.Equal(t, os.FileMode(0o644), info.Mode().Perm())
	}

	assert.False(t, sink.ShouldProcess(entry), "existing files are skipped without overwrite")

	left, err := os.ReadDir(destDir)
	require.NoError(t, err)
	assert.Len(t, left, 1, "no temp files remain")
}

func TestFileSinkDiscard(t *testing.T) {
	t.Parallel()

	destDir := t.TempDir()
	sink := NewFileSink(destDir)
	defer sink.Close()

	w, err := sink.Writer(Entry{Name: "x.txd"})
	require.NoError(t, err)
	_, err = w.Write([]byte("partial"))
	require.NoError(t, err)
	require.NoError(t, w.Discard())

	left, err := os.ReadDir(destDir)
	require.NoError(t, err)
	assert.Empty(t, left)
}

func TestFileSinkRejectsTraversal(t *testing.T) {
	t.Parallel()

	sink := NewFileSink(t.TempDir(), WithOverwrite(true))
	defer sink.Close()

	for _, name := range []string{"../pwned", "a/b", `a\b`, "..", ".", ""} {
		assert.False(t, sink.ShouldProcess(Entry{Name: name}), name)
		_, err := sink.Writer(Entry{Name: name})
		require.ErrorIs(t, err, os.ErrInvalid, name)
	}
}
