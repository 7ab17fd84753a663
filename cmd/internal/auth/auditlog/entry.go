package auditlog

import (
	"log/slog"
	"strings"
	"time"
)

type Level string

const (
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// ParseLevel maps free text to a Level, defaulting to info.
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "warn", "warning":
		return LevelWarn
	case "error", "err":
		return LevelError
	default:
		return LevelInfo
	}
}

func (l Level) slogLevel() slog.Level {
	switch l {
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Context is the optional structured detail attached to an entry.
type Context struct {
	UserID string `json:"userId,omitempty"`
	Email  string `json:"email,omitempty"`
	Error  string `json:"error,omitempty"`
	IP     string `json:"ip,omitempty"`
}

func (c Context) attrs() []any {
	out := make([]any, 0, 8)
	if c.UserID != "" {
		out = append(out, "user_id", c.UserID)
	}
	if c.Email != "" {
		out = append(out, "email", c.Email)
	}
	if c.Error != "" {
		out = append(out, "err", c.Error)
	}
	if c.IP != "" {
		out = append(out, "ip", c.IP)
	}
	return out
}

// Entry is one audit record. ID and Timestamp are assigned by Log.Append.
type Entry struct {
	ID        string    `json:"id"`
	Level     Level     `json:"level"`
	Message   string    `json:"message"`
	Context   Context   `json:"context"`
	Timestamp time.Time `json:"timestamp"`
}
