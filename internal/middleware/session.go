package middleware

import (
	"net/http"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/authsocket/internal/auth"
)

const (
	// LocalIdentityKey holds the authenticated peer's identity key.
	LocalIdentityKey = "identity_key"
	// LocalSessionID holds the socket session the token was issued for.
	LocalSessionID = "session_id"
)

// SessionAuth validates the bearer session token handed out in the handshake's ok message.
func SessionAuth(svc *auth.Service) fiber.Handler {
	return func(c *fiber.Ctx) error {
		authz := c.Get(fiber.HeaderAuthorization)
		if !strings.HasPrefix(strings.ToLower(authz), "bearer ") {
			return fiber.NewError(http.StatusUnauthorized, "missing bearer token")
		}
		sess, err := svc.Verify(strings.TrimSpace(authz[len("Bearer "):]))
		if err != nil {
			return fiber.NewError(http.StatusUnauthorized, "invalid session token")
		}

		c.Locals(LocalIdentityKey, sess.IdentityKey)
		c.Locals(LocalSessionID, sess.SessionID)
		return c.Next()
	}
}
