package notification

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"
)

func TestLoggerNotifier(t *testing.T) {
	var buf bytes.Buffer
	n := NewLoggerNotifier(slog.New(slog.NewTextHandler(&buf, nil)))
	ctx := context.Background()

	if err := n.Notify(ctx, Presence{Status: StatusJoined, IdentityKey: "02ab", SessionID: "s-1", Online: 2}); err != nil {
		t.Fatalf("notify: %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, `msg="peer joined"`) || !strings.Contains(out, "identity_key=02ab") || !strings.Contains(out, "session_id=s-1") {
		t.Fatalf("unexpected log output %q", out)
	}
	if strings.Contains(out, "connected=") {
		t.Fatalf("join should not log a duration: %q", out)
	}

	buf.Reset()
	if err := n.Notify(ctx, Presence{Status: StatusLeft, IdentityKey: "02ab", SessionID: "s-1", Connected: 3 * time.Second}); err != nil {
		t.Fatalf("notify: %v", err)
	}
	if out := buf.String(); !strings.Contains(out, `msg="peer left"`) || !strings.Contains(out, "connected=3s") {
		t.Fatalf("unexpected log output %q", out)
	}

	var nilNotifier *LoggerNotifier
	if err := nilNotifier.Notify(ctx, Presence{}); err != nil {
		t.Fatalf("nil notifier should be a no-op, got %v", err)
	}
}

func TestNotifierFunc(t *testing.T) {
	var got Presence
	var n Notifier = NotifierFunc(func(_ context.Context, p Presence) error {
		got = p
		return errors.New("boom")
	})
	if err := n.Notify(context.Background(), Presence{Status: StatusLeft, SessionID: "s-1"}); err == nil {
		t.Fatalf("expected the function's error")
	}
	if got.SessionID != "s-1" || got.Status != StatusLeft {
		t.Fatalf("unexpected presence %+v", got)
	}
}
