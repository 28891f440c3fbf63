package authsocket

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/congo-pay/authsocket/internal/history"
	"github.com/congo-pay/authsocket/internal/identity"
	"github.com/congo-pay/authsocket/internal/nonce"
	"github.com/congo-pay/authsocket/internal/notification"
	"github.com/congo-pay/authsocket/internal/transport"
	"github.com/congo-pay/authsocket/internal/wire"
)

const (
	aliceHex = "0102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f20"
	bobHex   = "02030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f21"
)

type chatMessage struct {
	From string `json:"from"`
	Text string `json:"text"`
}

func mustKey(t *testing.T, hexpriv string) *identity.KeyPair {
	t.Helper()
	kp, err := identity.NewKeyPairFromHex(hexpriv)
	require.NoError(t, err)
	return kp
}

func newTestServer(t *testing.T, opts ServerOptions) *Server {
	t.Helper()
	key, err := identity.GenerateKeyPair()
	require.NoError(t, err)
	srv := NewServer(key, opts)
	t.Cleanup(srv.Close)
	return srv
}

// attach connects a client over an in-memory pair and waits until the server
// has registered its session.
func attach(t *testing.T, srv *Server, key *identity.KeyPair) *Client {
	t.Helper()
	before := len(srv.Peers())
	clientSide, serverSide := transport.InMemoryPair()
	go func() { _ = srv.Serve(context.Background(), serverSide) }()

	c := NewClient(clientSide, key, ClientOptions{})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, c.Connect(ctx))
	t.Cleanup(func() { _ = c.Close() })

	require.Eventually(t, func() bool { return len(srv.Peers()) > before }, 2*time.Second, 5*time.Millisecond)
	return c
}

type inbox struct {
	mu     sync.Mutex
	events []Event
}

func (b *inbox) handle(ev Event) {
	b.mu.Lock()
	b.events = append(b.events, ev)
	b.mu.Unlock()
}

func (b *inbox) len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.events)
}

func (b *inbox) at(i int) Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.events[i]
}

func TestHandshakeSucceeds(t *testing.T) {
	srvKey, err := identity.GenerateKeyPair()
	require.NoError(t, err)
	alice := mustKey(t, aliceHex)
	clientSide, serverSide := transport.InMemoryPair()

	h := &ServerHandshaker{Key: srvKey, Nonces: nonce.NewMemoryStore()}
	done := make(chan HandshakeResult, 1)
	go func() {
		res, err := h.Run(context.Background(), serverSide, "s1")
		if err == nil {
			done <- res
		}
		close(done)
	}()

	res, err := RunClientHandshake(context.Background(), clientSide, alice, ClientHandshakeOptions{ExpectedServerKey: srvKey.PubHex()})
	require.NoError(t, err)
	require.Equal(t, srvKey.PubHex(), res.ServerIdentityKey)

	server, ok := <-done
	require.True(t, ok)
	require.Equal(t, alice.PubHex(), server.IdentityKey)
	require.Equal(t, "s1", server.SessionID)
}

func TestHandshakeRejectsPinnedKeyMismatch(t *testing.T) {
	srvKey, err := identity.GenerateKeyPair()
	require.NoError(t, err)
	clientSide, serverSide := transport.InMemoryPair()
	defer clientSide.Close()

	h := &ServerHandshaker{Key: srvKey, Nonces: nonce.NewMemoryStore()}
	go func() { _, _ = h.Run(context.Background(), serverSide, "s1") }()

	_, err = RunClientHandshake(context.Background(), clientSide, mustKey(t, aliceHex), ClientHandshakeOptions{ExpectedServerKey: mustKey(t, bobHex).PubHex()})
	require.ErrorIs(t, err, ErrServerKeyMismatch)
}

// runRawHandshake plays the client side by hand so tests can tamper with auth.
func runRawHandshake(t *testing.T, clientSide transport.Transport, hello wire.AuthMessage, mutate func(nonceMsg wire.AuthMessage, auth *wire.AuthMessage)) wire.AuthMessage {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, writeMessage(ctx, clientSide, hello))
	nonceMsg, err := readMessage(ctx, clientSide)
	require.NoError(t, err)
	require.Equal(t, wire.TypeNonce, nonceMsg.Type)

	auth := wire.NewMessage(wire.TypeAuth)
	auth.IdentityKey = hello.IdentityKey
	auth.Payload = nonceMsg.Payload
	mutate(nonceMsg, &auth)
	require.NoError(t, writeMessage(ctx, clientSide, auth))

	reply, err := readMessage(ctx, clientSide)
	require.NoError(t, err)
	return reply
}

func TestServerHandshakeRejections(t *testing.T) {
	alice := mustKey(t, aliceHex)
	bob := mustKey(t, bobHex)

	cases := map[string]func(nonceMsg wire.AuthMessage, auth *wire.AuthMessage){
		"signature by another key": func(nonceMsg wire.AuthMessage, auth *wire.AuthMessage) {
			payload, _ := nonceMsg.PayloadBytes()
			auth.Signature, _ = bob.SignHex(payload)
		},
		"identity changed": func(nonceMsg wire.AuthMessage, auth *wire.AuthMessage) {
			payload, _ := nonceMsg.PayloadBytes()
			auth.IdentityKey = bob.PubHex()
			auth.Signature, _ = bob.SignHex(payload)
		},
		"payload swapped": func(_ wire.AuthMessage, auth *wire.AuthMessage) {
			other := wire.MakeNonce()
			auth.Payload = wire.IntsFromBytes(other)
			auth.Signature, _ = alice.SignHex(other)
		},
		"missing signature": func(_ wire.AuthMessage, auth *wire.AuthMessage) {},
	}

	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			srvKey, err := identity.GenerateKeyPair()
			require.NoError(t, err)
			clientSide, serverSide := transport.InMemoryPair()
			defer clientSide.Close()

			h := &ServerHandshaker{Key: srvKey, Nonces: nonce.NewMemoryStore()}
			errc := make(chan error, 1)
			go func() {
				_, err := h.Run(context.Background(), serverSide, "s1")
				errc <- err
			}()

			hello := wire.NewMessage(wire.TypeHello)
			hello.IdentityKey = alice.PubHex()
			hello.Nonce = wire.MakeNonceIntArray()
			reply := runRawHandshake(t, clientSide, hello, mutate)
			require.Equal(t, wire.TypeError, reply.Type)
			require.NotEmpty(t, reply.Error)
			require.ErrorIs(t, <-errc, ErrInvalidHandshake)
		})
	}
}

func TestServerHandshakeRejectsReplayedNonce(t *testing.T) {
	srvKey, err := identity.GenerateKeyPair()
	require.NoError(t, err)
	alice := mustKey(t, aliceHex)
	store := nonce.NewMemoryStore()
	h := &ServerHandshaker{Key: srvKey, Nonces: store}

	var captured wire.AuthMessage
	clientSide, serverSide := transport.InMemoryPair()
	go func() { _, _ = h.Run(context.Background(), serverSide, "s1") }()
	hello := wire.NewMessage(wire.TypeHello)
	hello.IdentityKey = alice.PubHex()
	hello.Nonce = wire.MakeNonceIntArray()
	reply := runRawHandshake(t, clientSide, hello, func(nonceMsg wire.AuthMessage, auth *wire.AuthMessage) {
		payload, _ := nonceMsg.PayloadBytes()
		auth.Signature, _ = alice.SignHex(payload)
		captured = *auth
	})
	require.Equal(t, wire.TypeOK, reply.Type)
	_ = clientSide.Close()

	// A second connection answers its fresh nonce with the old auth message.
	clientSide, serverSide = transport.InMemoryPair()
	defer clientSide.Close()
	errc := make(chan error, 1)
	go func() {
		_, err := h.Run(context.Background(), serverSide, "s2")
		errc <- err
	}()
	reply = runRawHandshake(t, clientSide, hello, func(_ wire.AuthMessage, auth *wire.AuthMessage) {
		*auth = captured
	})
	require.Equal(t, wire.TypeError, reply.Type)
	require.ErrorIs(t, <-errc, ErrInvalidHandshake)
}

func TestServerHandshakeRequiresClientNonce(t *testing.T) {
	alice := mustKey(t, aliceHex)
	cases := map[string][]int{
		"missing": nil,
		"short":   wire.MakeNonceIntArray()[:16],
	}
	for name, clientNonce := range cases {
		t.Run(name, func(t *testing.T) {
			srvKey, err := identity.GenerateKeyPair()
			require.NoError(t, err)
			store := nonce.NewMemoryStore()
			clientSide, serverSide := transport.InMemoryPair()
			defer clientSide.Close()

			h := &ServerHandshaker{Key: srvKey, Nonces: store}
			errc := make(chan error, 1)
			go func() {
				_, err := h.Run(context.Background(), serverSide, "s1")
				errc <- err
			}()

			hello := wire.NewMessage(wire.TypeHello)
			hello.IdentityKey = alice.PubHex()
			hello.Nonce = clientNonce
			require.NoError(t, writeMessage(context.Background(), clientSide, hello))

			reply, err := readMessage(context.Background(), clientSide)
			require.NoError(t, err)
			require.Equal(t, wire.TypeError, reply.Type)
			require.Contains(t, reply.Error, "client nonce")
			require.ErrorIs(t, <-errc, ErrInvalidHandshake)
		})
	}
}

func TestServeHandshakeTimeout(t *testing.T) {
	srv := newTestServer(t, ServerOptions{HandshakeTimeout: 50 * time.Millisecond})
	clientSide, serverSide := transport.InMemoryPair()
	defer clientSide.Close()

	err := srv.Serve(context.Background(), serverSide)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Empty(t, srv.Peers())
}

func TestClientEmitBeforeConnect(t *testing.T) {
	clientSide, _ := transport.InMemoryPair()
	c := NewClient(clientSide, mustKey(t, aliceHex), ClientOptions{})
	err := c.Emit(context.Background(), "message", chatMessage{From: "Alice", Text: "hi"})
	require.ErrorIs(t, err, ErrNotConnected)
	require.NoError(t, c.Close())
	require.NoError(t, c.Err())
}

func TestClientConnectTwiceIsNoop(t *testing.T) {
	srv := newTestServer(t, ServerOptions{})
	c := attach(t, srv, mustKey(t, aliceHex))

	require.NoError(t, c.Connect(context.Background()))
	require.Equal(t, srv.IdentityKey(), c.ServerIdentityKey())
	require.Len(t, srv.Peers(), 1)
}

func TestBroadcastReachesOtherClients(t *testing.T) {
	store := history.NewMemoryRepository(10)
	srv := newTestServer(t, ServerOptions{History: store})

	alice := attach(t, srv, mustKey(t, aliceHex))
	bob := attach(t, srv, mustKey(t, bobHex))

	var aliceBox, bobBox inbox
	alice.On("message", aliceBox.handle)
	bob.On("message", bobBox.handle)

	var serverBox inbox
	srv.On("message", serverBox.handle)

	ctx := context.Background()
	require.NoError(t, alice.Emit(ctx, "message", chatMessage{From: "Alice", Text: "Hello from Alice!"}))
	require.NoError(t, bob.Emit(ctx, "message", chatMessage{From: "Bob", Text: "Hello from Bob!"}))

	require.Eventually(t, func() bool { return aliceBox.len() == 1 && bobBox.len() == 1 }, 2*time.Second, 5*time.Millisecond)

	got := bobBox.at(0)
	require.Equal(t, alice.IdentityKey(), got.Sender)
	var msg chatMessage
	require.NoError(t, got.Decode(&msg))
	require.Equal(t, chatMessage{From: "Alice", Text: "Hello from Alice!"}, msg)

	got = aliceBox.at(0)
	require.Equal(t, bob.IdentityKey(), got.Sender)

	// Senders do not hear their own events.
	time.Sleep(50 * time.Millisecond)
	require.Equal(t, 1, aliceBox.len())
	require.Equal(t, 1, bobBox.len())

	require.Eventually(t, func() bool { return serverBox.len() == 2 }, time.Second, 5*time.Millisecond)
	require.NotEmpty(t, serverBox.at(0).SessionID)

	require.Eventually(t, func() bool {
		entries, err := store.Recent(ctx, 10)
		return err == nil && len(entries) == 2
	}, time.Second, 5*time.Millisecond)
}

func TestEchoToSender(t *testing.T) {
	srv := newTestServer(t, ServerOptions{EchoToSender: true})
	alice := attach(t, srv, mustKey(t, aliceHex))

	var box inbox
	alice.On("message", box.handle)
	require.NoError(t, alice.Emit(context.Background(), "message", chatMessage{From: "Alice", Text: "me too"}))
	require.Eventually(t, func() bool { return box.len() == 1 }, 2*time.Second, 5*time.Millisecond)
	require.Equal(t, alice.IdentityKey(), box.at(0).Sender)
}

func TestServerEmitAndEmitTo(t *testing.T) {
	srv := newTestServer(t, ServerOptions{})
	alice := attach(t, srv, mustKey(t, aliceHex))
	bob := attach(t, srv, mustKey(t, bobHex))

	var aliceBox, bobBox inbox
	alice.On("notice", aliceBox.handle)
	bob.On("notice", bobBox.handle)

	ctx := context.Background()
	require.NoError(t, srv.Emit(ctx, "notice", map[string]string{"text": "all"}))
	require.Eventually(t, func() bool { return aliceBox.len() == 1 && bobBox.len() == 1 }, 2*time.Second, 5*time.Millisecond)
	require.Equal(t, srv.IdentityKey(), aliceBox.at(0).Sender)

	require.NoError(t, srv.EmitTo(ctx, bob.IdentityKey(), "notice", map[string]string{"text": "bob only"}))
	require.Eventually(t, func() bool { return bobBox.len() == 2 }, 2*time.Second, 5*time.Millisecond)
	require.Equal(t, 1, aliceBox.len())

	var body map[string]string
	require.NoError(t, json.Unmarshal(bobBox.at(1).Data, &body))
	require.Equal(t, "bob only", body["text"])

	other, err := identity.GenerateKeyPair()
	require.NoError(t, err)
	err = srv.EmitTo(ctx, other.PubHex(), "notice", nil)
	require.True(t, errors.Is(err, ErrPeerNotConnected))
}

func TestWelcomeAndPresence(t *testing.T) {
	var (
		mu       sync.Mutex
		notified []notification.Presence
	)
	notifier := notification.NotifierFunc(func(_ context.Context, p notification.Presence) error {
		mu.Lock()
		notified = append(notified, p)
		mu.Unlock()
		return nil
	})
	notifications := func() []notification.Presence {
		mu.Lock()
		defer mu.Unlock()
		return append([]notification.Presence(nil), notified...)
	}
	srv := newTestServer(t, ServerOptions{Welcome: "hello", Notifier: notifier})

	clientSide, serverSide := transport.InMemoryPair()
	go func() { _ = srv.Serve(context.Background(), serverSide) }()
	alice := NewClient(clientSide, mustKey(t, aliceHex), ClientOptions{})
	var welcome, presence inbox
	alice.On(WelcomeEvent, welcome.handle)
	alice.On(PresenceEvent, presence.handle)
	require.NoError(t, alice.Connect(context.Background()))
	defer alice.Close()

	require.Eventually(t, func() bool { return welcome.len() == 1 }, 2*time.Second, 5*time.Millisecond)
	var msg chatMessage
	require.NoError(t, welcome.at(0).Decode(&msg))
	require.Equal(t, chatMessage{From: "Server", Text: "hello"}, msg)

	bob := attach(t, srv, mustKey(t, bobHex))
	require.Eventually(t, func() bool { return presence.len() == 1 }, 2*time.Second, 5*time.Millisecond)
	require.Equal(t, srv.IdentityKey(), presence.at(0).Sender)
	var joined notification.Presence
	require.NoError(t, presence.at(0).Decode(&joined))
	require.Equal(t, bob.IdentityKey(), joined.IdentityKey)
	require.Equal(t, notification.StatusJoined, joined.Status)
	require.NotEmpty(t, joined.SessionID)
	require.Equal(t, 2, joined.Online)

	require.NoError(t, bob.Close())
	require.Eventually(t, func() bool { return presence.len() == 2 }, 2*time.Second, 5*time.Millisecond)
	var left notification.Presence
	require.NoError(t, presence.at(1).Decode(&left))
	require.Equal(t, notification.StatusLeft, left.Status)
	require.Equal(t, joined.SessionID, left.SessionID)
	require.Equal(t, 1, left.Online)
	require.Len(t, srv.Peers(), 1)

	require.Eventually(t, func() bool { return len(notifications()) == 3 }, 2*time.Second, 5*time.Millisecond)
	got := notifications()
	require.Equal(t, notification.StatusJoined, got[0].Status)
	require.Equal(t, alice.IdentityKey(), got[0].IdentityKey)
	require.Equal(t, notification.StatusLeft, got[2].Status)
	require.Equal(t, bob.IdentityKey(), got[2].IdentityKey)
	require.Positive(t, got[2].Connected)
}

func TestServerDropsForgedMessages(t *testing.T) {
	srv := newTestServer(t, ServerOptions{})
	bob := attach(t, srv, mustKey(t, bobHex))
	var box inbox
	bob.On("message", box.handle)

	// Alice signs with her key but claims Bob's identity.
	aliceKey := mustKey(t, aliceHex)
	alice := attach(t, srv, aliceKey)
	msg, _, err := signedGeneral(aliceKey, "message", chatMessage{From: "Bob", Text: "forged"})
	require.NoError(t, err)
	msg.IdentityKey = bob.IdentityKey()
	require.NoError(t, writeMessage(context.Background(), alice.transport, msg))

	// Unsigned message.
	msg.IdentityKey = ""
	msg.Signature = ""
	require.NoError(t, writeMessage(context.Background(), alice.transport, msg))

	require.NoError(t, alice.Emit(context.Background(), "message", chatMessage{From: "Alice", Text: "real"}))
	require.Eventually(t, func() bool { return box.len() >= 1 }, 2*time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	require.Equal(t, 1, box.len())
	var got chatMessage
	require.NoError(t, box.at(0).Decode(&got))
	require.Equal(t, "real", got.Text)
}

func TestServerCloseDisconnectsClients(t *testing.T) {
	key, err := identity.GenerateKeyPair()
	require.NoError(t, err)
	srv := NewServer(key, ServerOptions{})
	c := attach(t, srv, mustKey(t, aliceHex))

	srv.Close()
	select {
	case <-c.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("client still connected after server close")
	}
	require.ErrorIs(t, c.Err(), transport.ErrClosed)

	clientSide, serverSide := transport.InMemoryPair()
	defer clientSide.Close()
	require.ErrorIs(t, srv.Serve(context.Background(), serverSide), ErrServerClosed)
}

func TestSlowSessionIsDropped(t *testing.T) {
	srv := newTestServer(t, ServerOptions{})
	clientSide, serverSide := transport.InMemoryPair()
	defer clientSide.Close()

	sess := newSession("slow", mustKey(t, aliceHex).PubHex(), serverSide, 1)
	require.NoError(t, srv.register(sess))

	require.True(t, srv.deliver(sess, []byte("first")))
	require.False(t, srv.deliver(sess, []byte("second")))
	require.True(t, sess.closed())

	_, err := clientSide.Receive(context.Background())
	require.ErrorIs(t, err, transport.ErrClosed)
}

// connectBare completes a handshake against a bare ServerHandshaker so the
// test controls every message the client receives afterwards. setup runs
// before Connect.
func connectBare(t *testing.T, setup func(c *Client)) (*Client, transport.Transport, *identity.KeyPair) {
	t.Helper()
	srvKey, err := identity.GenerateKeyPair()
	require.NoError(t, err)
	clientSide, serverSide := transport.InMemoryPair()
	t.Cleanup(func() { _ = serverSide.Close() })

	h := &ServerHandshaker{Key: srvKey, Nonces: nonce.NewMemoryStore()}
	errc := make(chan error, 1)
	go func() {
		_, err := h.Run(context.Background(), serverSide, "s1")
		errc <- err
	}()

	c := NewClient(clientSide, mustKey(t, aliceHex), ClientOptions{})
	if setup != nil {
		setup(c)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, c.Connect(ctx))
	require.NoError(t, <-errc)
	t.Cleanup(func() { _ = c.Close() })
	return c, serverSide, srvKey
}

func TestClientDropsForgedServerMessages(t *testing.T) {
	var box inbox
	c, serverSide, srvKey := connectBare(t, func(c *Client) { c.On("notice", box.handle) })
	require.Equal(t, srvKey.PubHex(), c.ServerIdentityKey())
	ctx := context.Background()
	bob := mustKey(t, bobHex)

	// Signed by Bob but carrying no identity key, so it claims to be the server.
	forged, _, err := signedGeneral(bob, "notice", map[string]string{"text": "forged"})
	require.NoError(t, err)
	forged.IdentityKey = ""
	require.NoError(t, writeMessage(ctx, serverSide, forged))

	// Signed by Bob but naming the server key.
	forged.IdentityKey = srvKey.PubHex()
	require.NoError(t, writeMessage(ctx, serverSide, forged))

	// Unsigned.
	unsigned, _, err := signedGeneral(srvKey, "notice", map[string]string{"text": "unsigned"})
	require.NoError(t, err)
	unsigned.Signature = ""
	require.NoError(t, writeMessage(ctx, serverSide, unsigned))

	genuine, _, err := signedGeneral(srvKey, "notice", map[string]string{"text": "real"})
	require.NoError(t, err)
	require.NoError(t, writeMessage(ctx, serverSide, genuine))

	require.Eventually(t, func() bool { return box.len() >= 1 }, 2*time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	require.Equal(t, 1, box.len())

	got := box.at(0)
	require.Equal(t, srvKey.PubHex(), got.Sender)
	var body map[string]string
	require.NoError(t, got.Decode(&body))
	require.Equal(t, "real", body["text"])

	select {
	case <-c.Done():
		t.Fatal("client disconnected after dropping forged messages")
	default:
	}
}

func TestHandlersRunInOrderAndSurvivePanic(t *testing.T) {
	var (
		mu    sync.Mutex
		calls []string
	)
	record := func(name string) HandlerFunc {
		return func(Event) {
			mu.Lock()
			calls = append(calls, name)
			mu.Unlock()
		}
	}
	snapshot := func() []string {
		mu.Lock()
		defer mu.Unlock()
		return append([]string(nil), calls...)
	}

	_, serverSide, srvKey := connectBare(t, func(c *Client) {
		c.On("message", record("first"))
		c.On("message", func(Event) { panic("handler blew up") })
		c.On("message", record("third"))
	})

	ctx := context.Background()
	for _, text := range []string{"one", "two"} {
		msg, _, err := signedGeneral(srvKey, "message", chatMessage{From: "Server", Text: text})
		require.NoError(t, err)
		require.NoError(t, writeMessage(ctx, serverSide, msg))
	}

	require.Eventually(t, func() bool { return len(snapshot()) == 4 }, 2*time.Second, 5*time.Millisecond)
	require.Equal(t, []string{"first", "third", "first", "third"}, snapshot())
}
