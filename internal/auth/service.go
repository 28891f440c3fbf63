package auth

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/hkdf"
)

const sessionSecretInfo = "authsocket session token v1"

// ErrInvalidSession is returned for session tokens that fail verification or have expired.
var ErrInvalidSession = errors.New("invalid session token")

// Session identifies an authenticated socket session to the HTTP API.
type Session struct {
	IdentityKey string
	SessionID   string
	ExpiresAt   time.Time
}

// Service issues and verifies session tokens handed to clients in the handshake's ok message.
type Service struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewService(secret []byte, ttl time.Duration) *Service {
	return &Service{secret: secret, ttl: ttl, now: time.Now}
}

// DeriveSecret expands the server's private key into a token signing secret
// so deployments without SESSION_SECRET still get a stable key.
func DeriveSecret(serverPriv []byte) ([]byte, error) {
	secret := make([]byte, 32)
	r := hkdf.New(sha256.New, serverPriv, nil, []byte(sessionSecretInfo))
	if _, err := io.ReadFull(r, secret); err != nil {
		return nil, fmt.Errorf("derive session secret: %w", err)
	}
	return secret, nil
}

// Issue signs a token binding the session to the peer's identity key.
func (s *Service) Issue(identityKey, sessionID string) (string, time.Time, error) {
	now := s.now()
	exp := now.Add(s.ttl)
	signed, err := s.sign(sessionClaims{
		SessionID: sessionID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   identityKey,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	})
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, exp, nil
}

// Verify checks the signature and expiry of a session token.
func (s *Service) Verify(token string) (Session, error) {
	claims, err := s.parse(token)
	if err != nil {
		return Session{}, fmt.Errorf("%w: %v", ErrInvalidSession, err)
	}
	if claims.Subject == "" || claims.SessionID == "" {
		return Session{}, fmt.Errorf("%w: missing subject", ErrInvalidSession)
	}
	return Session{IdentityKey: claims.Subject, SessionID: claims.SessionID, ExpiresAt: claims.ExpiresAt.Time}, nil
}

// Refresh re-issues a token for a still valid session.
func (s *Service) Refresh(token string) (string, time.Time, error) {
	sess, err := s.Verify(token)
	if err != nil {
		return "", time.Time{}, err
	}
	return s.Issue(sess.IdentityKey, sess.SessionID)
}
