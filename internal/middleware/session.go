package middleware

import (
	"log"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/day-claim-calendar/internal/session"
)

// SessionCookie is the name of the cookie carrying the signed session token.
const SessionCookie = "dcc_session"

const sessionKey = "session"

// Sessions attaches the visitor's session to every request.  The cookie holds
// an HS256 JWT whose subject is the session id; a missing, invalid or expired
// token, or one naming a session that no longer exists, starts a new session
// and re-issues the cookie.  Handlers read it back with CurrentSession.
func Sessions(m *session.Manager, signer *session.Signer, secure bool) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if ck, err := c.Cookie(SessionCookie); err == nil {
				if id, err := signer.Verify(ck.Value); err == nil {
					if s, ok := m.Get(id); ok {
						c.Set(sessionKey, s)
						return next(c)
					}
				}
			}

			s := m.New()
			raw, exp, err := signer.Sign(s.ID)
			if err != nil {
				log.Printf("session: sign token: %v", err)
				return c.JSON(http.StatusInternalServerError, echo.Map{"error": "could not start session"})
			}
			c.SetCookie(&http.Cookie{
				Name:     SessionCookie,
				Value:    raw,
				Path:     "/",
				Expires:  exp,
				HttpOnly: true,
				Secure:   secure,
				SameSite: http.SameSiteLaxMode,
			})
			c.Set(sessionKey, s)
			return next(c)
		}
	}
}

// CurrentSession returns the session attached by Sessions, or nil.
func CurrentSession(c echo.Context) *session.Session {
	s, _ := c.Get(sessionKey).(*session.Session)
	return s
}

// sessionID identifies the visitor for rate limiting.  It returns "anon"
// when no session is attached.
func sessionID(c echo.Context) string {
	if s := CurrentSession(c); s != nil && s.ID != "" {
		return s.ID
	}
	return "anon"
}
