package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/aescanero/dagrun/internal/application/orchestrator"
	"github.com/aescanero/dagrun/internal/application/replay"
	"github.com/aescanero/dagrun/internal/application/state"
	"github.com/aescanero/dagrun/pkg/api/cors"
	"github.com/aescanero/dagrun/pkg/domain"
	"github.com/aescanero/dagrun/pkg/ports"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const writeWait = 10 * time.Second

// Handler handles WebSocket connections
type Handler struct {
	manager  *orchestrator.Manager
	repo     *state.Repository
	replay   replay.Config
	metrics  ports.MetricsCollector
	upgrader websocket.Upgrader
	logger   *zap.Logger
}

// Config holds the WebSocket handler dependencies
type Config struct {
	Manager        *orchestrator.Manager
	Repository     *state.Repository
	Replay         replay.Config
	Environment    string
	AllowedOrigins []string
	Metrics        ports.MetricsCollector
	Logger         *zap.Logger
}

// NewHandler creates a new WebSocket handler
func NewHandler(cfg *Config) *Handler {
	policy := cors.NewPolicy(cfg.Environment, cfg.AllowedOrigins)
	return &Handler{
		manager: cfg.Manager,
		repo:    cfg.Repository,
		replay:  cfg.Replay,
		metrics: cfg.Metrics,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return policy.Allows(r.Header.Get("Origin"))
			},
		},
		logger: cfg.Logger,
	}
}

type errorMessage struct {
	Error  string `json:"error"`
	TaskID string `json:"task_id"`
	Status string `json:"status,omitempty"`
}

// session wraps one connection. Only the handler goroutine writes; the
// reader goroutine cancels ctx when the client goes away.
type session struct {
	conn   *websocket.Conn
	ctx    context.Context
	cancel context.CancelFunc
}

func (h *Handler) open(c *gin.Context, kind string) (*session, bool) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("failed to upgrade connection", zap.Error(err))
		return nil, false
	}

	h.logger.Info("WebSocket connection established",
		zap.String("task_id", c.Param("id")),
		zap.String("stream", kind),
		zap.String("client", c.ClientIP()))

	ctx, cancel := context.WithCancel(c.Request.Context())
	return &session{conn: conn, ctx: ctx, cancel: cancel}, true
}

func (s *session) close() {
	s.cancel()
	_ = s.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	_ = s.conn.Close()
}

// readLoop hands every client message to onMessage until the peer
// disconnects.
func (s *session) readLoop(onMessage func([]byte)) {
	defer s.cancel()
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			return
		}
		if onMessage != nil {
			onMessage(data)
		}
	}
}

func (s *session) writeJSON(v interface{}) error {
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return s.conn.WriteJSON(v)
}

func (s *session) writeRaw(data []byte) error {
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return s.conn.WriteMessage(websocket.TextMessage, data)
}

func (h *Handler) sendError(s *session, taskID string, err error) {
	msg := errorMessage{Error: "Task not found", TaskID: taskID}
	if errors.Is(err, domain.ErrStoreUnavailable) {
		msg = errorMessage{Error: "Storage service unavailable", TaskID: taskID, Status: "ERROR"}
	}
	_ = s.writeJSON(msg)
}

// HandleTaskUpdates sends the current snapshot, then every published
// snapshot until the task reaches a terminal status.
func (h *Handler) HandleTaskUpdates(c *gin.Context) {
	taskID := c.Param("id")
	s, ok := h.open(c, "updates")
	if !ok {
		return
	}
	defer s.close()
	go s.readLoop(nil)

	// Subscribe first so no snapshot is lost between load and subscribe.
	sub, err := h.repo.SubscribeUpdates(s.ctx, taskID)
	if err != nil {
		h.sendError(s, taskID, err)
		return
	}
	defer func() { _ = sub.Close() }()

	task, err := h.manager.Get(s.ctx, taskID)
	if err != nil {
		h.sendError(s, taskID, err)
		return
	}
	if err := s.writeJSON(task); err != nil || task.Status.IsTerminal() {
		return
	}

	for {
		select {
		case <-s.ctx.Done():
			return
		case msg, ok := <-sub.Messages():
			if !ok {
				return
			}
			if err := s.writeRaw(msg); err != nil {
				h.logger.Debug("failed to write update", zap.Error(err))
				return
			}
			var snapshot domain.Task
			if err := json.Unmarshal(msg, &snapshot); err == nil && snapshot.Status.IsTerminal() {
				return
			}
		}
	}
}

type logsMessage struct {
	Logs []domain.LogEntry `json:"logs"`
}

type newLogsMessage struct {
	NewLogs []domain.LogEntry `json:"new_logs"`
}

func hasTerminalEntry(entries []domain.LogEntry) bool {
	for _, e := range entries {
		if e.Action == domain.ActionTaskCompleted || e.Action == domain.ActionTaskFailed {
			return true
		}
	}
	return false
}

// HandleTaskLogs sends the stored log, then each published delta until the
// task's terminal entry has been delivered.
func (h *Handler) HandleTaskLogs(c *gin.Context) {
	taskID := c.Param("id")
	s, ok := h.open(c, "logs")
	if !ok {
		return
	}
	defer s.close()
	go s.readLoop(nil)

	sub, err := h.repo.SubscribeLogs(s.ctx, taskID)
	if err != nil {
		h.sendError(s, taskID, err)
		return
	}
	defer func() { _ = sub.Close() }()

	logs, err := h.manager.Logs(s.ctx, taskID)
	if err != nil {
		h.sendError(s, taskID, err)
		return
	}
	if err := s.writeJSON(logsMessage{Logs: logs}); err != nil || hasTerminalEntry(logs) {
		return
	}

	for {
		select {
		case <-s.ctx.Done():
			return
		case msg, ok := <-sub.Messages():
			if !ok {
				return
			}
			var delta []domain.LogEntry
			if err := json.Unmarshal(msg, &delta); err != nil {
				h.logger.Warn("invalid log delta", zap.String("task_id", taskID), zap.Error(err))
				continue
			}
			if err := s.writeJSON(newLogsMessage{NewLogs: delta}); err != nil {
				return
			}
			if hasTerminalEntry(delta) {
				return
			}
		}
	}
}

// HandleReplay streams the stored log with its original pacing. Clients steer
// the session with pause, resume, speed and stop commands.
func (h *Handler) HandleReplay(c *gin.Context) {
	taskID := c.Param("id")

	cfg := h.replay
	if raw := c.Query("speed"); raw != "" {
		if v, err := strconv.ParseFloat(raw, 64); err == nil && v > 0 {
			cfg.Speed = v
		}
	}

	s, ok := h.open(c, "replay")
	if !ok {
		return
	}
	defer s.close()

	logs, err := h.manager.Logs(s.ctx, taskID)
	if err != nil {
		h.sendError(s, taskID, err)
		return
	}
	if len(logs) == 0 {
		_ = s.writeJSON(errorMessage{Error: "No logs found for replay", TaskID: taskID})
		return
	}

	player := replay.NewPlayer(cfg)
	go s.readLoop(func(data []byte) {
		cmd, err := replay.ParseCommand(data)
		if err != nil {
			h.logger.Debug("ignoring replay message", zap.String("task_id", taskID), zap.Error(err))
			return
		}
		_ = player.Send(s.ctx, cmd)
	})

	h.metrics.RecordReplaySession()
	err = player.Run(s.ctx, logs, s.writeJSON)
	switch {
	case err == nil, errors.Is(err, replay.ErrStopped):
		h.logger.Debug("replay finished",
			zap.String("task_id", taskID),
			zap.Int("events", len(logs)),
			zap.Float64("speed", player.Speed()))
	case errors.Is(err, context.Canceled):
		h.logger.Info("replay client disconnected", zap.String("task_id", taskID))
	default:
		h.logger.Warn("replay ended with error", zap.String("task_id", taskID), zap.Error(err))
	}
}
