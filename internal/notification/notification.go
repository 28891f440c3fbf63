package notification

import (
	"context"
	"log/slog"
	"time"
)

// Status is the presence transition a notification reports.
type Status string

const (
	StatusJoined Status = "joined"
	StatusLeft   Status = "left"
)

// Presence reports an authenticated session joining or leaving a server. It
// is also the body of the presence event broadcast to connected peers.
type Presence struct {
	Status      Status    `json:"status"`
	IdentityKey string    `json:"identity_key"`
	SessionID   string    `json:"session_id"`
	At          time.Time `json:"at"`
	// Online counts this server's sessions after the transition.
	Online int `json:"online"`
	// Connected is how long the session lasted; zero on join.
	Connected time.Duration `json:"-"`
}

// Notifier delivers presence notifications to downstream systems.
type Notifier interface {
	Notify(ctx context.Context, p Presence) error
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, p Presence) error

func (f NotifierFunc) Notify(ctx context.Context, p Presence) error {
	return f(ctx, p)
}

// LoggerNotifier writes notifications to the structured logger.
type LoggerNotifier struct {
	logger *slog.Logger
}

// NewLoggerNotifier constructs a logging notifier.
func NewLoggerNotifier(logger *slog.Logger) *LoggerNotifier {
	return &LoggerNotifier{logger: logger}
}

// Notify logs "peer joined" or "peer left" with the session attributes.
func (n *LoggerNotifier) Notify(ctx context.Context, p Presence) error {
	if n == nil || n.logger == nil {
		return nil
	}
	attrs := []slog.Attr{
		slog.String("identity_key", p.IdentityKey),
		slog.String("session_id", p.SessionID),
		slog.Int("online", p.Online),
	}
	if p.Status == StatusLeft {
		attrs = append(attrs, slog.Duration("connected", p.Connected))
	}
	n.logger.LogAttrs(ctx, slog.LevelInfo, "peer "+string(p.Status), attrs...)
	return nil
}
