package headless

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestAllocatorOptionsCount(t *testing.T) {
	t.Parallel()

	base := len(allocatorOptions(Config{}))
	require.Equal(t, base+2, len(allocatorOptions(Config{ExecPath: "/usr/bin/chromium", NoSandbox: true})))
	require.Equal(t, base, len(allocatorOptions(Config{Headful: true})))
}

func TestMergeDeadlineUsesStageDeadline(t *testing.T) {
	t.Parallel()

	browser, browserCancel := context.WithCancel(context.Background())
	defer browserCancel()

	stage, stageCancel := context.WithTimeout(context.Background(), time.Hour)
	defer stageCancel()

	ctx, cancel := mergeDeadline(browser, stage)
	defer cancel()

	want, _ := stage.Deadline()
	got, ok := ctx.Deadline()
	require.True(t, ok)
	require.Equal(t, want, got)
}

func TestMergeDeadlinePropagatesStageCancel(t *testing.T) {
	t.Parallel()

	browser, browserCancel := context.WithCancel(context.Background())
	defer browserCancel()
	stage, stageCancel := context.WithCancel(context.Background())

	ctx, cancel := mergeDeadline(browser, stage)
	defer cancel()

	stageCancel()
	select {
	case <-ctx.Done():
	case <-time.After(time.Second):
		t.Fatal("expected merged context to end with the stage context")
	}
	require.NoError(t, browser.Err())
}

func TestMergeDeadlineCancelKeepsBrowser(t *testing.T) {
	t.Parallel()

	browser, browserCancel := context.WithCancel(context.Background())
	defer browserCancel()

	ctx, cancel := mergeDeadline(browser, context.Background())
	cancel()
	require.Error(t, ctx.Err())
	require.NoError(t, browser.Err())
}

func TestSessionCloseIsIdempotent(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	s := &session{ctx: ctx, cancel: cancel}
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	_, err := s.HTML(context.Background())
	require.Error(t, err)
}
