package replay

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
)

// ErrUnknownCommand is returned for control messages that name no known
// command.
var ErrUnknownCommand = errors.New("unknown replay command")

// CommandKind names a replay control.
type CommandKind string

const (
	CommandPause    CommandKind = "pause"
	CommandResume   CommandKind = "resume"
	CommandSetSpeed CommandKind = "set_speed"
	CommandStop     CommandKind = "stop"
)

// Command is a parsed control message.
type Command struct {
	Kind  CommandKind
	Speed float64
}

type wireCommand struct {
	Command string      `json:"command"`
	Value   interface{} `json:"value"`
	Action  string      `json:"action"`
	Speed   interface{} `json:"speed"`
}

// ParseCommand decodes either {command: pause|resume|speed, value} or
// {action: pause|resume|stop|set_speed, speed}.
func ParseCommand(data []byte) (Command, error) {
	var w wireCommand
	if err := json.Unmarshal(data, &w); err != nil {
		return Command{}, fmt.Errorf("invalid replay command: %w", err)
	}

	name, raw := w.Command, w.Value
	if name == "" {
		name, raw = w.Action, w.Speed
	}

	switch name {
	case "pause":
		return Command{Kind: CommandPause}, nil
	case "resume":
		return Command{Kind: CommandResume}, nil
	case "stop":
		return Command{Kind: CommandStop}, nil
	case "speed", "set_speed":
		speed, err := toFloat(raw)
		if err != nil {
			return Command{}, fmt.Errorf("invalid replay speed: %w", err)
		}
		return Command{Kind: CommandSetSpeed, Speed: speed}, nil
	default:
		return Command{}, fmt.Errorf("%w: %q", ErrUnknownCommand, name)
	}
}

func toFloat(v interface{}) (float64, error) {
	switch x := v.(type) {
	case nil:
		return 1, nil
	case float64:
		return x, nil
	case string:
		return strconv.ParseFloat(x, 64)
	default:
		return 0, fmt.Errorf("unsupported type %T", v)
	}
}
