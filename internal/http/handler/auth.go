package handler

import (
	"crypto/subtle"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/session"

	"docsign/internal/http/middleware"
)

// RegisterAuthRoutes attaches the session login/logout endpoints.
func RegisterAuthRoutes(app *fiber.App, store *session.Store, username, password string) {
	app.Get("/auth/login", LoginPage())
	app.Post("/auth/login", Login(store, username, password))
	app.Get("/auth/logout", Logout(store))
}

// LoginPage serves the login form.
func LoginPage() fiber.Handler {
	return func(c *fiber.Ctx) error {
		html := `<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="UTF-8" />
  <title>Log in</title>
</head>
<body>
  <h1>Log in</h1>
  <form method="post" action="/auth/login">
    <label>Username <input name="username" required /></label><br />
    <label>Password <input type="password" name="password" required /></label><br />
    <button type="submit">Log in</button>
  </form>
</body>
</html>`
		return c.Type("html").SendString(html)
	}
}

// Login checks the submitted credentials, establishes the session, and sends
// the user back to wherever the auth gate intercepted them.
func Login(store *session.Store, username, password string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		u := c.FormValue("username")
		p := c.FormValue("password")
		userOK := subtle.ConstantTimeCompare([]byte(u), []byte(username)) == 1
		passOK := subtle.ConstantTimeCompare([]byte(p), []byte(password)) == 1
		if !userOK || !passOK {
			return writeError(c, fiber.StatusUnauthorized, "INVALID_CREDENTIALS", "invalid username or password")
		}

		sess, err := store.Get(c)
		if err != nil {
			return writeError(c, fiber.StatusInternalServerError, "INTERNAL_ERROR", "internal server error")
		}
		middleware.SetAuthenticated(sess)
		target := middleware.TakeReturnTo(sess)
		if target == "" {
			target = "/documents"
		}
		if err := sess.Save(); err != nil {
			return writeError(c, fiber.StatusInternalServerError, "INTERNAL_ERROR", "internal server error")
		}
		return c.Redirect(target, fiber.StatusFound)
	}
}

// Logout destroys the session.
func Logout(store *session.Store) fiber.Handler {
	return func(c *fiber.Ctx) error {
		sess, err := store.Get(c)
		if err == nil {
			_ = sess.Destroy()
		}
		return c.Redirect("/auth/login", fiber.StatusFound)
	}
}
