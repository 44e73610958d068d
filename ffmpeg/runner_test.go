package ffmpeg

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"ffedit/config"
	"ffedit/task"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeEncoder writes an executable shell script standing in for ffmpeg.
// The script body runs with the encoder arguments; $dest is the last one.
func fakeEncoder(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake encoder needs a POSIX shell")
	}
	path := filepath.Join(t.TempDir(), "fake-ffmpeg")
	script := "#!/bin/sh\nfor dest; do :; done\n" + body + "\n"
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))
	return path
}

func testRunner(bin string) *Runner {
	return NewRunner(&config.Config{FFBin: bin})
}

func testTask(dest string) *task.Task {
	return &task.Task{
		ID:     "t1",
		Clip:   testClip(),
		Bounds: testBounds,
		Trim:   testTrim,
		Output: testOutput(dest),
	}
}

func drain(ch <-chan string) string {
	var sb strings.Builder
	for chunk := range ch {
		sb.WriteString(chunk)
	}
	return sb.String()
}

func waitResult(t *testing.T, h *Handle) task.Result {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	res, err := h.Wait(ctx)
	require.NoError(t, err, "handle did not resolve")
	return res
}

func TestRunner_Completes(t *testing.T) {
	bin := fakeEncoder(t, `echo "frame=1" >&2
echo "frame=2" >&2
: > "$dest"`)
	dest := filepath.Join(t.TempDir(), "nested", "out")
	tk := testTask(dest)

	h, err := testRunner(bin).Start(context.Background(), tk)
	require.NoError(t, err)

	log := drain(h.Progress())
	res := waitResult(t, h)

	assert.Equal(t, "frame=1\nframe=2\n", log)
	assert.Same(t, tk, res.Task)
	assert.Equal(t, 0, res.ExitCode)
	assert.NoError(t, res.Err)
	assert.False(t, res.Cancelled)
	assert.FileExists(t, filepath.Join(dest, "3_clip.mp4"))

	// Cancelling a finished task changes nothing.
	h.Cancel()
	assert.Equal(t, res, h.Result())
}

func TestRunner_ReceivesBuiltArguments(t *testing.T) {
	bin := fakeEncoder(t, `for a; do echo "$a" >&2; done`)
	tk := testTask(t.TempDir())

	h, err := testRunner(bin).Start(context.Background(), tk)
	require.NoError(t, err)
	log := drain(h.Progress())
	waitResult(t, h)

	assert.Equal(t, strings.Join(h.Invocation().Args, "\n")+"\n", log)
}

func TestRunner_NonZeroExit(t *testing.T) {
	bin := fakeEncoder(t, `echo "Unknown encoder 'libnope'" >&2
exit 3`)
	h, err := testRunner(bin).Start(context.Background(), testTask(t.TempDir()))
	require.NoError(t, err)

	log := drain(h.Progress())
	res := waitResult(t, h)

	assert.Contains(t, log, "Unknown encoder")
	assert.Equal(t, 3, res.ExitCode)
	var rtErr *RuntimeError
	require.True(t, errors.As(res.Err, &rtErr))
	assert.Equal(t, 3, rtErr.ExitCode)
	assert.False(t, res.Cancelled)
}

func TestRunner_ResolvesWithoutProgressConsumer(t *testing.T) {
	bin := fakeEncoder(t, `i=0
while [ $i -lt 200 ]; do echo "frame=$i fps=30 q=28.0 size=1024kB time=00:00:01.00" >&2; i=$((i+1)); done`)
	h, err := testRunner(bin).Start(context.Background(), testTask(t.TempDir()))
	require.NoError(t, err)

	res := waitResult(t, h)
	assert.NoError(t, res.Err)

	log := drain(h.Progress())
	assert.Equal(t, 200, strings.Count(log, "frame="))
}

func TestRunner_Cancel(t *testing.T) {
	bin := fakeEncoder(t, `echo "started" >&2
exec sleep 30`)
	dest := t.TempDir()
	h, err := testRunner(bin).Start(context.Background(), testTask(dest))
	require.NoError(t, err)

	select {
	case chunk := <-h.Progress():
		assert.Equal(t, "started\n", chunk)
	case <-time.After(10 * time.Second):
		t.Fatal("no progress before cancel")
	}

	h.Cancel()
	h.Cancel()

	// No chunk may arrive after Cancel returned; the channel only closes.
	for chunk := range h.Progress() {
		t.Fatalf("progress after cancel: %q", chunk)
	}

	res := waitResult(t, h)
	assert.True(t, res.Cancelled)
	assert.ErrorIs(t, res.Err, ErrCancelled)
}

func TestRunner_ContextCancelsHandle(t *testing.T) {
	bin := fakeEncoder(t, `exec sleep 30`)
	ctx, cancel := context.WithCancel(context.Background())
	h, err := testRunner(bin).Start(ctx, testTask(t.TempDir()))
	require.NoError(t, err)

	cancel()
	res := waitResult(t, h)
	assert.True(t, res.Cancelled)
}

func TestRunner_MissingBinary(t *testing.T) {
	dest := filepath.Join(t.TempDir(), "never")
	h, err := testRunner("/nonexistent/bin/ffmpeg").Start(context.Background(), testTask(dest))
	require.Error(t, err)
	assert.Nil(t, h)

	var spawnErr *SpawnError
	assert.True(t, errors.As(err, &spawnErr))
	_, statErr := os.Stat(filepath.Join(dest, "3_clip.mp4"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestRunner_ConfigErrorCreatesNothing(t *testing.T) {
	bin := fakeEncoder(t, `: > "$dest"`)
	dest := filepath.Join(t.TempDir(), "never")
	tk := testTask(dest)
	tk.Output.Format = ""

	_, err := testRunner(bin).Start(context.Background(), tk)
	var cfgErr *ConfigError
	require.True(t, errors.As(err, &cfgErr))
	_, statErr := os.Stat(dest)
	assert.True(t, os.IsNotExist(statErr))
}

func TestRunner_SharedDestinationDirectory(t *testing.T) {
	bin := fakeEncoder(t, `sleep 0.1
: > "$dest"`)
	dest := filepath.Join(t.TempDir(), "shared")
	r := testRunner(bin)

	first := testTask(dest)
	second := testTask(dest)
	second.ID = "t2"
	second.Clip.Index = intPtr(4)

	h1, err := r.Start(context.Background(), first)
	require.NoError(t, err)
	h2, err := r.Start(context.Background(), second)
	require.NoError(t, err)

	res1, res2 := waitResult(t, h1), waitResult(t, h2)
	assert.NoError(t, res1.Err)
	assert.NoError(t, res2.Err)
	assert.Same(t, first, res1.Task)
	assert.Same(t, second, res2.Task)
	assert.FileExists(t, filepath.Join(dest, "3_clip.mp4"))
	assert.FileExists(t, filepath.Join(dest, "4_clip.mp4"))
}
