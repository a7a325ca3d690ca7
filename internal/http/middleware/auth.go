package middleware

import (
	"crypto/subtle"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/session"
)

const (
	sessionAuthKey     = "authenticated"
	sessionReturnToKey = "returnTo"
)

// RequireAuth gates a route group behind either an established browser
// session or a static API bearer token. Unauthenticated browser requests are
// remembered (returnTo) and redirected to the login page; requests carrying
// a bad bearer token get a 401 instead of a redirect.
func RequireAuth(store *session.Store, token string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if auth := c.Get(fiber.HeaderAuthorization); auth != "" {
			presented, ok := strings.CutPrefix(auth, "Bearer ")
			if ok && token != "" && subtle.ConstantTimeCompare([]byte(presented), []byte(token)) == 1 {
				return c.Next()
			}
			return fiber.ErrUnauthorized
		}

		sess, err := store.Get(c)
		if err != nil {
			return fiber.ErrUnauthorized
		}
		if v, ok := sess.Get(sessionAuthKey).(bool); ok && v {
			return c.Next()
		}

		sess.Set(sessionReturnToKey, c.OriginalURL())
		if err := sess.Save(); err != nil {
			return fiber.ErrUnauthorized
		}
		return c.Redirect("/auth/login", fiber.StatusFound)
	}
}

// SetAuthenticated marks the session as logged in.
func SetAuthenticated(sess *session.Session) {
	sess.Set(sessionAuthKey, true)
}

// TakeReturnTo pops the URL stored before the login redirect, if any.
func TakeReturnTo(sess *session.Session) string {
	v, _ := sess.Get(sessionReturnToKey).(string)
	if v != "" {
		sess.Delete(sessionReturnToKey)
	}
	return v
}
