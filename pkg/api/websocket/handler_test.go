package websocket

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/aescanero/dagrun/internal/application/orchestrator"
	"github.com/aescanero/dagrun/internal/application/replay"
	"github.com/aescanero/dagrun/internal/application/state"
	promadapter "github.com/aescanero/dagrun/pkg/adapters/metrics/prometheus"
	"github.com/aescanero/dagrun/pkg/adapters/storage/memory"
	"github.com/aescanero/dagrun/pkg/domain"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var t0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

type wsEnv struct {
	repo   *state.Repository
	server *httptest.Server
}

func newWSEnv(t *testing.T, replayCfg replay.Config) *wsEnv {
	t.Helper()
	metrics := promadapter.NewCollector(prometheus.NewRegistry())
	repo := state.NewRepository(memory.NewStore(), time.Hour, metrics, zap.NewNop())
	manager := orchestrator.NewManager(repo, nil, nil, orchestrator.NewValidator(0, 0), metrics, zap.NewNop())

	h := NewHandler(&Config{
		Manager:     manager,
		Repository:  repo,
		Replay:      replayCfg,
		Environment: "development",
		Metrics:     metrics,
		Logger:      zap.NewNop(),
	})

	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.GET("/ws/:id", h.HandleTaskUpdates)
	router.GET("/ws/:id/logs", h.HandleTaskLogs)
	router.GET("/ws/:id/replay", h.HandleReplay)
	router.GET("/api/ws/:id/replay", h.HandleReplay)

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return &wsEnv{repo: repo, server: srv}
}

func (e *wsEnv) dial(t *testing.T, path string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(e.server.URL, "http") + path
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	return conn
}

func (e *wsEnv) seed(t *testing.T, status domain.Status, entries []domain.LogEntry) {
	t.Helper()
	task := domain.NewTask("t1", []domain.Subtask{{ID: "a", Type: "general_execution"}}, t0)
	task.Status = status
	ctx := context.Background()
	require.NoError(t, e.repo.SaveTask(ctx, task))
	require.NoError(t, e.repo.SaveLogs(ctx, task.ID, entries, nil))
}

func finishedLog() []domain.LogEntry {
	return []domain.LogEntry{
		{Timestamp: t0, SubtaskID: "a", Action: domain.ActionStarted},
		{Timestamp: t0.Add(time.Second), SubtaskID: "a", Action: domain.ActionCompleted},
		{Timestamp: t0.Add(time.Second), Action: domain.ActionTaskCompleted},
	}
}

func fastReplay() replay.Config {
	return replay.Config{Speed: 1, MaxSpeed: 10, MaxDelay: time.Millisecond, FallbackDelay: time.Millisecond}
}

func TestTaskUpdatesClosesAfterTerminalSnapshot(t *testing.T) {
	env := newWSEnv(t, fastReplay())
	env.seed(t, domain.StatusCompleted, finishedLog())

	conn := env.dial(t, "/ws/t1")
	var task domain.Task
	require.NoError(t, conn.ReadJSON(&task))
	assert.Equal(t, "t1", task.ID)

	_, _, err := conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "%v", err)
}

func TestTaskUpdatesStreamsSnapshots(t *testing.T) {
	env := newWSEnv(t, fastReplay())
	env.seed(t, domain.StatusInProgress, nil)

	conn := env.dial(t, "/ws/t1")
	var first domain.Task
	require.NoError(t, conn.ReadJSON(&first))
	assert.Equal(t, domain.StatusInProgress, first.Status)

	done := domain.NewTask("t1", []domain.Subtask{{ID: "a", Type: "general_execution"}}, t0)
	done.Status = domain.StatusCompleted
	done.Progress = 1
	require.NoError(t, env.repo.SaveTask(context.Background(), done))

	var next domain.Task
	require.NoError(t, conn.ReadJSON(&next))
	assert.Equal(t, domain.StatusCompleted, next.Status)
}

func TestTaskUpdatesUnknownTask(t *testing.T) {
	env := newWSEnv(t, fastReplay())

	conn := env.dial(t, "/ws/missing")
	var msg map[string]string
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "Task not found", msg["error"])
	assert.Equal(t, "missing", msg["task_id"])
}

func TestTaskLogs(t *testing.T) {
	env := newWSEnv(t, fastReplay())
	env.seed(t, domain.StatusInProgress, finishedLog()[:1])

	conn := env.dial(t, "/ws/t1/logs")
	var initial struct {
		Logs []domain.LogEntry `json:"logs"`
	}
	require.NoError(t, conn.ReadJSON(&initial))
	assert.Len(t, initial.Logs, 1)

	all := finishedLog()
	require.NoError(t, env.repo.SaveLogs(context.Background(), "t1", all, all[1:]))

	var delta struct {
		NewLogs []domain.LogEntry `json:"new_logs"`
	}
	require.NoError(t, conn.ReadJSON(&delta))
	assert.Len(t, delta.NewLogs, 2)

	_, _, err := conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "%v", err)
}

func readReplay(t *testing.T, conn *websocket.Conn) []map[string]interface{} {
	t.Helper()
	var msgs []map[string]interface{}
	for {
		var m map[string]interface{}
		if err := conn.ReadJSON(&m); err != nil {
			return msgs
		}
		msgs = append(msgs, m)
	}
}

func TestReplayEndpoints(t *testing.T) {
	env := newWSEnv(t, fastReplay())
	env.seed(t, domain.StatusCompleted, finishedLog())

	for _, path := range []string{"/ws/t1/replay", "/api/ws/t1/replay?speed=5"} {
		t.Run(path, func(t *testing.T) {
			msgs := readReplay(t, env.dial(t, path))
			require.Len(t, msgs, 5)
			assert.Equal(t, replay.TypeStart, msgs[0]["type"])
			assert.Equal(t, float64(3), msgs[0]["total_events"])
			for i := 1; i <= 3; i++ {
				assert.Equal(t, replay.TypeEvent, msgs[i]["type"])
				assert.Equal(t, float64(i-1), msgs[i]["index"])
			}
			assert.Equal(t, replay.TypeComplete, msgs[4]["type"])
		})
	}
}

func TestReplayStop(t *testing.T) {
	cfg := fastReplay()
	cfg.MaxDelay = 5 * time.Second
	env := newWSEnv(t, cfg)
	env.seed(t, domain.StatusCompleted, finishedLog())

	conn := env.dial(t, "/ws/t1/replay")
	var start, first map[string]interface{}
	require.NoError(t, conn.ReadJSON(&start))
	require.NoError(t, conn.ReadJSON(&first))
	require.NoError(t, conn.WriteJSON(map[string]string{"action": "stop"}))

	rest := readReplay(t, conn)
	for _, m := range rest {
		assert.NotEqual(t, replay.TypeComplete, m["type"])
	}
}

func TestReplayWithoutLogs(t *testing.T) {
	env := newWSEnv(t, fastReplay())

	conn := env.dial(t, "/ws/none/replay")
	var msg map[string]string
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "No logs found for replay", msg["error"])
}
