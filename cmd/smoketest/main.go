// Command smoketest connects two fixed identities to a running authsocket
// server, has each emit one message, and reports completion.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/congo-pay/authsocket/internal/authsocket"
	"github.com/congo-pay/authsocket/internal/config"
	"github.com/congo-pay/authsocket/internal/identity"
	"github.com/congo-pay/authsocket/internal/logging"
	"github.com/congo-pay/authsocket/internal/transport"
)

type chatMessage struct {
	From string `json:"from"`
	Text string `json:"text"`
}

func main() {
	cfg, err := config.LoadSmoke()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	logger := logging.New(cfg.LogLevel, cfg.LogFormat)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("integration test failed", "error", err)
		stop()
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Smoke, logger *slog.Logger) error {
	aliceKey, err := identity.NewKeyPairFromHex(cfg.AliceKey)
	if err != nil {
		return fmt.Errorf("alice key: %w", err)
	}
	bobKey, err := identity.NewKeyPairFromHex(cfg.BobKey)
	if err != nil {
		return fmt.Errorf("bob key: %w", err)
	}

	opts := authsocket.ClientOptions{
		ClientHandshakeOptions: authsocket.ClientHandshakeOptions{ExpectedServerKey: cfg.ServerKey},
		Logger:                 logger,
	}

	alice, err := connect(ctx, cfg.URL, aliceKey, opts, logReceived(logger, "Alice"))
	if err != nil {
		return fmt.Errorf("connect alice: %w", err)
	}
	defer alice.Close()

	bob, err := connect(ctx, cfg.URL, bobKey, opts, logReceived(logger, "Bob"))
	if err != nil {
		return fmt.Errorf("connect bob: %w", err)
	}
	defer bob.Close()

	if err := sleep(ctx, cfg.ConnectWait); err != nil {
		return err
	}

	if err := alice.Emit(ctx, "message", chatMessage{From: "Alice", Text: "Hello from Alice!"}); err != nil {
		return fmt.Errorf("alice emit: %w", err)
	}
	if err := bob.Emit(ctx, "message", chatMessage{From: "Bob", Text: "Hello from Bob!"}); err != nil {
		return fmt.Errorf("bob emit: %w", err)
	}

	if err := sleep(ctx, cfg.SettleWait); err != nil {
		return err
	}

	logger.Info("integration test completed")
	return nil
}

// connect registers onMessage before the handshake so events the server sends
// right after accepting, such as its welcome, are not lost.
func connect(ctx context.Context, url string, key *identity.KeyPair, opts authsocket.ClientOptions, onMessage authsocket.HandlerFunc) (*authsocket.Client, error) {
	ws, err := transport.Dial(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	c := authsocket.NewClient(ws, key, opts)
	c.On("message", onMessage)
	if err := c.Connect(ctx); err != nil {
		_ = ws.Close()
		return nil, err
	}
	return c, nil
}

func logReceived(logger *slog.Logger, who string) authsocket.HandlerFunc {
	return func(ev authsocket.Event) {
		var msg chatMessage
		if err := ev.Decode(&msg); err != nil {
			logger.Warn(who+" received undecodable message", "error", err)
			return
		}
		logger.Info(who+" received", "from", msg.From, "text", msg.Text, "sender", ev.Sender)
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
