package process

import (
	"context"
	"testing"
	"time"

	"github.com/aescanero/dagrun/pkg/domain"
	"github.com/aescanero/dagrun/pkg/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func waitExited(t *testing.T, b *Backend, handle string) ports.IsolationStatus {
	t.Helper()
	var st ports.IsolationStatus
	require.Eventually(t, func() bool {
		var err error
		st, err = b.Status(context.Background(), handle)
		require.NoError(t, err)
		return st.Exited
	}, 5*time.Second, 10*time.Millisecond)
	return st
}

func TestBackendReportedResult(t *testing.T) {
	ctx := context.Background()
	b := NewBackend("sh", `echo "booting"; printf '{"status":"completed","result":"done by %s for %s"}\n' "$WORKER_TYPE" "$SUBTASK_ID"`, zap.NewNop())

	handle, err := b.Start(ctx, ports.IsolationRequest{WorkerType: "web_research", SubtaskID: "st-1", Input: map[string]interface{}{"task": "x"}})
	require.NoError(t, err)
	assert.Contains(t, handle, "web_research")

	waitExited(t, b, handle)
	res, err := b.Result(ctx, handle)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, res.Status)
	assert.Equal(t, "done by web_research for st-1", res.Result)

	require.NoError(t, b.Remove(ctx, handle))
	assert.Zero(t, b.running())
}

func TestBackendExitCode(t *testing.T) {
	ctx := context.Background()
	b := NewBackend("sh", `echo "boom" >&2; exit 3`, zap.NewNop())

	handle, err := b.Start(ctx, ports.IsolationRequest{WorkerType: "code_generation", SubtaskID: "st-2"})
	require.NoError(t, err)

	st := waitExited(t, b, handle)
	assert.Equal(t, 3, st.ExitCode)

	res, err := b.Result(ctx, handle)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, res.Status)
	assert.Equal(t, "boom", res.Error)
	require.NoError(t, b.Remove(ctx, handle))
}

func TestBackendRemoveStopsRunningProcess(t *testing.T) {
	ctx := context.Background()
	b := NewBackend("sh", `sleep 30`, zap.NewNop())

	handle, err := b.Start(ctx, ports.IsolationRequest{WorkerType: "data_analysis", SubtaskID: "st-3"})
	require.NoError(t, err)

	st, err := b.Status(ctx, handle)
	require.NoError(t, err)
	assert.False(t, st.Exited)

	_, err = b.Result(ctx, handle)
	assert.Error(t, err)

	require.NoError(t, b.Remove(ctx, handle))
	_, err = b.Status(ctx, handle)
	assert.Error(t, err)
}
