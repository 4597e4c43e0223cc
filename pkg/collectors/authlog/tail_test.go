package authlog

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestTailerYieldsAppendedLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "auth.log")
	require.NoError(t, os.WriteFile(path, []byte("old line\n"), 0o644))

	tailer := NewTailer(path, zaptest.NewLogger(t), WithPollInterval(10*time.Millisecond))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	out := make(chan string, 16)
	done := make(chan error, 1)
	go func() { done <- tailer.Run(ctx, out) }()

	// Give the tailer time to seek to EOF before appending.
	time.Sleep(50 * time.Millisecond)

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString("new line 1\nnew line 2\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	var got []string
	for len(got) < 2 {
		select {
		case line := <-out:
			got = append(got, line)
		case <-ctx.Done():
			t.Fatalf("timed out, got %v", got)
		}
	}

	assert.Equal(t, []string{"new line 1", "new line 2"}, got, "old content is skipped, new lines arrive in order")

	cancel()
	require.NoError(t, <-done)
}

func TestTailerFromStart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "auth.log")
	require.NoError(t, os.WriteFile(path, []byte("first\nsecond\n"), 0o644))

	tailer := NewTailer(path, zaptest.NewLogger(t), FromStart(), WithPollInterval(10*time.Millisecond))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	out := make(chan string, 16)
	go tailer.Run(ctx, out)

	assert.Equal(t, "first", <-out)
	assert.Equal(t, "second", <-out)
}

func TestTailerMissingFileIsFatal(t *testing.T) {
	tailer := NewTailer(filepath.Join(t.TempDir(), "absent.log"), zaptest.NewLogger(t))

	err := tailer.Run(context.Background(), make(chan string, 1))
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)
}
