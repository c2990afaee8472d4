package replay

import (
	"context"
	"errors"
	"time"

	"github.com/aescanero/dagrun/pkg/domain"
)

// ErrStopped is returned by Run when a stop command ended the session.
var ErrStopped = errors.New("replay stopped")

// Message types sent to replay clients.
const (
	TypeStart    = "replay_start"
	TypeEvent    = "replay_event"
	TypeComplete = "replay_complete"
)

// StartMessage opens a session.
type StartMessage struct {
	Type        string `json:"type"`
	TotalEvents int    `json:"total_events"`
}

// EventMessage carries one log entry.
type EventMessage struct {
	Type  string          `json:"type"`
	Event domain.LogEntry `json:"event"`
	Index int             `json:"index"`
	Total int             `json:"total"`
}

// CompleteMessage closes a session that played every event.
type CompleteMessage struct {
	Type string `json:"type"`
}

// Config bounds replay pacing.
type Config struct {
	Speed         float64
	MaxSpeed      float64
	MaxDelay      time.Duration
	FallbackDelay time.Duration
}

// Player runs one replay session. Controls may be sent from any goroutine
// while Run is active.
type Player struct {
	cfg      Config
	speed    float64
	commands chan Command
	after    func(time.Duration) <-chan time.Time
}

// NewPlayer creates a player starting at cfg.Speed
func NewPlayer(cfg Config) *Player {
	if cfg.MaxSpeed <= 0 {
		cfg.MaxSpeed = 10
	}
	p := &Player{
		cfg:      cfg,
		commands: make(chan Command, 16),
		after:    time.After,
	}
	p.speed = p.clamp(cfg.Speed)
	return p
}

func (p *Player) clamp(speed float64) float64 {
	if speed <= 0 {
		return 1
	}
	if speed > p.cfg.MaxSpeed {
		return p.cfg.MaxSpeed
	}
	return speed
}

// Send queues a control command for the running session.
func (p *Player) Send(ctx context.Context, cmd Command) error {
	select {
	case p.commands <- cmd:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Delay is the pause between cur and next at speed.
func (p *Player) Delay(cur, next domain.LogEntry, speed float64) time.Duration {
	if cur.Timestamp.IsZero() || next.Timestamp.IsZero() {
		return p.cfg.FallbackDelay
	}
	d := next.Timestamp.Sub(cur.Timestamp)
	if d < 0 {
		d = 0
	}
	d = time.Duration(float64(d) / speed)
	if p.cfg.MaxDelay > 0 && d > p.cfg.MaxDelay {
		d = p.cfg.MaxDelay
	}
	return d
}

// Run emits the start message, every entry in timestamp order and the
// completion message. It returns ErrStopped after a stop command, the
// context error on cancellation, or the first emit error.
func (p *Player) Run(ctx context.Context, entries []domain.LogEntry, emit func(v interface{}) error) error {
	sorted := append([]domain.LogEntry(nil), entries...)
	domain.SortEntries(sorted)
	total := len(sorted)

	if err := emit(StartMessage{Type: TypeStart, TotalEvents: total}); err != nil {
		return err
	}

	paused := false
	for i, entry := range sorted {
		if err := p.drain(ctx, &paused); err != nil {
			return err
		}

		if err := emit(EventMessage{Type: TypeEvent, Event: entry, Index: i, Total: total}); err != nil {
			return err
		}

		if i == total-1 {
			break
		}
		if err := p.wait(ctx, p.Delay(entry, sorted[i+1], p.speed), &paused); err != nil {
			return err
		}
	}

	return emit(CompleteMessage{Type: TypeComplete})
}

// drain applies queued commands and blocks while paused.
func (p *Player) drain(ctx context.Context, paused *bool) error {
	for {
		if *paused {
			select {
			case cmd := <-p.commands:
				if err := p.apply(cmd, paused); err != nil {
					return err
				}
			case <-ctx.Done():
				return ctx.Err()
			}
			continue
		}

		select {
		case cmd := <-p.commands:
			if err := p.apply(cmd, paused); err != nil {
				return err
			}
		default:
			return nil
		}
	}
}

// wait sleeps for d while still accepting commands. A pause received during
// the wait holds the session once the delay has elapsed.
func (p *Player) wait(ctx context.Context, d time.Duration, paused *bool) error {
	timer := p.after(d)
	for {
		select {
		case <-timer:
			return nil
		case cmd := <-p.commands:
			if err := p.apply(cmd, paused); err != nil {
				return err
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (p *Player) apply(cmd Command, paused *bool) error {
	switch cmd.Kind {
	case CommandPause:
		*paused = true
	case CommandResume:
		*paused = false
	case CommandSetSpeed:
		p.speed = p.clamp(cmd.Speed)
	case CommandStop:
		return ErrStopped
	}
	return nil
}

// Speed returns the current playback speed. Only safe to call from the
// goroutine running the session or after Run returned.
func (p *Player) Speed() float64 {
	return p.speed
}

// Duration is the wall-clock length of replaying entries at speed.
func Duration(entries []domain.LogEntry, speed float64) float64 {
	if len(entries) < 2 || speed <= 0 {
		return 0
	}
	sorted := append([]domain.LogEntry(nil), entries...)
	domain.SortEntries(sorted)

	first, last := sorted[0].Timestamp, sorted[len(sorted)-1].Timestamp
	if first.IsZero() || last.IsZero() {
		return 0
	}
	return last.Sub(first).Seconds() / speed
}
