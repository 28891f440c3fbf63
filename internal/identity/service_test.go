package identity

import (
	"context"
	"errors"
	"testing"
	"time"
)

const aliceHex = "0102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f20"

func TestRecordConnectionCountsHandshakes(t *testing.T) {
	repo := NewMemoryRepository()
	svc := NewService(repo)
	clock := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	svc.now = func() time.Time { return clock }

	kp, err := NewKeyPairFromHex(aliceHex)
	if err != nil {
		t.Fatalf("key pair: %v", err)
	}

	ctx := context.Background()
	first, err := svc.RecordConnection(ctx, kp.PubHex())
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if first.Connections != 1 || !first.FirstSeen.Equal(clock) {
		t.Fatalf("unexpected first record: %+v", first)
	}

	clock = clock.Add(time.Minute)
	second, err := svc.RecordConnection(ctx, kp.PubHex())
	if err != nil {
		t.Fatalf("record again: %v", err)
	}
	if second.ID != first.ID {
		t.Fatalf("expected stable peer id, got %s and %s", first.ID, second.ID)
	}
	if second.Connections != 2 {
		t.Fatalf("expected 2 connections, got %d", second.Connections)
	}
	if !second.LastSeen.Equal(clock) || !second.FirstSeen.Equal(first.FirstSeen) {
		t.Fatalf("unexpected timestamps: %+v", second)
	}
}

func TestRecordConnectionRejectsBadKey(t *testing.T) {
	svc := NewService(NewMemoryRepository())
	if _, err := svc.RecordConnection(context.Background(), "not-hex"); !errors.Is(err, ErrInvalidIdentityKey) {
		t.Fatalf("expected ErrInvalidIdentityKey, got %v", err)
	}
}

func TestGetUnknownPeer(t *testing.T) {
	svc := NewService(NewMemoryRepository())
	if _, err := svc.Get(context.Background(), "02ab"); !errors.Is(err, ErrPeerNotFound) {
		t.Fatalf("expected ErrPeerNotFound, got %v", err)
	}
}

func TestListOrdersByLastSeen(t *testing.T) {
	svc := NewService(NewMemoryRepository())
	clock := time.Now()
	svc.now = func() time.Time { return clock }
	ctx := context.Background()

	var keys []string
	for i := 0; i < 3; i++ {
		kp, err := GenerateKeyPair()
		if err != nil {
			t.Fatalf("generate: %v", err)
		}
		clock = clock.Add(time.Second)
		if _, err := svc.RecordConnection(ctx, kp.PubHex()); err != nil {
			t.Fatalf("record: %v", err)
		}
		keys = append(keys, kp.PubHex())
	}

	peers, err := svc.List(ctx, 2)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(peers) != 2 {
		t.Fatalf("expected 2 peers, got %d", len(peers))
	}
	if peers[0].IdentityKey != keys[2] || peers[1].IdentityKey != keys[1] {
		t.Fatalf("unexpected order: %s, %s", peers[0].IdentityKey, peers[1].IdentityKey)
	}
}
