package handler

import (
	"context"
	"database/sql"
	"errors"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"docsign/internal/mailer"
	"docsign/internal/service"
)

// RegisterRoutes attaches HTTP routes to the provided Fiber app. gate, when
// non-nil, protects the document management routes and the signing pages;
// recipients following the emailed link authenticate first and are redirected
// back via the stored return target.
func RegisterRoutes(app *fiber.App, db *sql.DB, svc service.SigningService, gate fiber.Handler) {
	// Serve OpenAPI spec and Swagger UI
	app.Get("/openapi.yaml", func(c *fiber.Ctx) error {
		c.Type("yaml")
		return c.SendFile("openapi.yaml")
	})
	app.Get("/docs", func(c *fiber.Ctx) error {
		html := `<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="UTF-8" />
  <meta name="viewport" content="width=device-width, initial-scale=1" />
  <title>API Docs</title>
  <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" />
</head>
<body>
  <div id="swagger-ui"></div>
  <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js"></script>
  <script>
    window.ui = SwaggerUIBundle({
      url: '/openapi.yaml',
      dom_id: '#swagger-ui',
      presets: [SwaggerUIBundle.presets.apis],
      layout: 'BaseLayout'
    });
  </script>
</body>
</html>`
		return c.Type("html").SendString(html)
	})

	app.Get("/health", HealthCheck(db))
	app.Get("/healthz", LivenessProbe())

	docs := app.Group("/documents")
	if gate != nil {
		docs.Use(gate)
	}
	docs.Get("/", ListDocuments(svc))
	docs.Post("/", CreateDocument(svc))
	docs.Get("/:id", GetDocument(svc))
	docs.Get("/:id/file", GetDocumentFile(svc))
	docs.Post("/:id/finalize", FinalizeDocument(svc))

	sign := app.Group("/sign")
	if gate != nil {
		sign.Use(gate)
	}
	sign.Get("/:id", SignPage(svc))
}

// HealthCheck reports dependency health; currently only DB connectivity.
// A nil db (file-backed record store) has nothing to check.
func HealthCheck(db *sql.DB) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if db == nil {
			return c.Status(fiber.StatusOK).JSON(fiber.Map{"status": "healthy"})
		}
		ctx, cancel := context.WithTimeout(c.UserContext(), 2*time.Second)
		defer cancel()
		if err := db.PingContext(ctx); err != nil {
			return writeError(c, fiber.StatusServiceUnavailable, "SERVICE_UNAVAILABLE", "dependency unavailable")
		}
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"status": "healthy"})
	}
}

// LivenessProbe is a simple liveness probe.
func LivenessProbe() fiber.Handler {
	return func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusOK)
	}
}

// ListDocuments lists document records with limit & offset.
func ListDocuments(svc service.SigningService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		limitStr := c.Query("limit", "10")
		offsetStr := c.Query("offset", "0")
		limit, err := strconv.Atoi(limitStr)
		if err != nil {
			return writeError(c, fiber.StatusBadRequest, "INVALID_LIMIT", "invalid limit")
		}
		offset, err := strconv.Atoi(offsetStr)
		if err != nil {
			return writeError(c, fiber.StatusBadRequest, "INVALID_OFFSET", "invalid offset")
		}

		res, err := svc.List(c.UserContext(), limit, offset)
		if err != nil {
			return writeServiceError(c, err)
		}
		return c.JSON(res)
	}
}

// CreateDocument accepts a PDF upload (multipart field "pdf") plus the
// recipient address (field "email"), prepares the document for signing, and
// dispatches the invite. The work is accepted even when the invite email
// fails; that case returns the error envelope with the persisted id.
func CreateDocument(svc service.SigningService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		fh, err := c.FormFile("pdf")
		if err != nil {
			return writeError(c, fiber.StatusBadRequest, "FILE_REQUIRED", "pdf file is required")
		}
		email := c.FormValue("email")
		if email == "" {
			return writeError(c, fiber.StatusBadRequest, "EMAIL_REQUIRED", "recipient email is required")
		}

		f, err := fh.Open()
		if err != nil {
			return writeError(c, fiber.StatusBadRequest, "FILE_OPEN_ERROR", "cannot open uploaded file")
		}
		defer f.Close()

		rec, err := svc.CreateAndDispatch(c.UserContext(), f, fh.Size, email)
		if err != nil {
			if rec != nil && errors.Is(err, service.ErrNotification) {
				code := "NOTIFICATION_FAILED"
				msg := "signing invite could not be delivered"
				if errors.Is(err, mailer.ErrAuth) {
					code = "EMAIL_AUTH_FAILED"
					msg = "mail server rejected credentials"
				}
				return c.Status(fiber.StatusBadGateway).JSON(errorPayload{
					RequestID: requestIDFromCtx(c),
					ID:        rec.ID,
					Error:     errorEnvelope{Code: code, Message: msg},
				})
			}
			return writeServiceError(c, err)
		}
		return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
			"message": "document dispatched for signing",
			"id":      rec.ID,
		})
	}
}

// GetDocument returns record metadata by ID.
func GetDocument(svc service.SigningService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id := c.Params("id")
		if _, err := uuid.Parse(id); err != nil {
			return writeError(c, fiber.StatusBadRequest, "INVALID_ID", "invalid id format")
		}
		rec, err := svc.Get(c.UserContext(), id)
		if err != nil {
			return writeServiceError(c, err)
		}
		return c.JSON(rec)
	}
}

// GetDocumentFile streams the current correct version of the document: the
// archived file once signed, the prepared file before that.
func GetDocumentFile(svc service.SigningService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id := c.Params("id")
		if _, err := uuid.Parse(id); err != nil {
			return writeError(c, fiber.StatusBadRequest, "INVALID_ID", "invalid id format")
		}
		rc, rec, err := svc.Retrieve(c.UserContext(), id)
		if err != nil {
			return writeServiceError(c, err)
		}
		name := rec.ID + ".pdf"
		c.Set(fiber.HeaderContentType, "application/pdf")
		c.Set(fiber.HeaderContentDisposition, `inline; filename="`+name+`"`)
		return c.SendStream(rc)
	}
}

// finalizeRequest is the body of POST /documents/:id/finalize.
type finalizeRequest struct {
	Values           map[string]string `json:"values"`
	SignatureDataURL string            `json:"signatureDataUrl"`
}

// FinalizeDocument fills the submitted field values, stamps the signature,
// and archives the flattened document.
func FinalizeDocument(svc service.SigningService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id := c.Params("id")
		if _, err := uuid.Parse(id); err != nil {
			return writeError(c, fiber.StatusBadRequest, "INVALID_ID", "invalid id format")
		}

		var req finalizeRequest
		if err := c.BodyParser(&req); err != nil {
			return writeError(c, fiber.StatusBadRequest, "INVALID_BODY", "invalid request body")
		}
		if req.SignatureDataURL == "" {
			return writeError(c, fiber.StatusBadRequest, "SIGNATURE_REQUIRED", "signature image is required")
		}

		rec, err := svc.Finalize(c.UserContext(), id, req.Values, req.SignatureDataURL)
		if err != nil {
			return writeServiceError(c, err)
		}
		return c.JSON(fiber.Map{
			"message": "document signed",
			"file":    rec.SignedPath,
		})
	}
}

// SignPage serves the minimal signing page the emailed link points at.
func SignPage(svc service.SigningService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id := c.Params("id")
		if _, err := uuid.Parse(id); err != nil {
			return writeError(c, fiber.StatusBadRequest, "INVALID_ID", "invalid id format")
		}
		rec, err := svc.Get(c.UserContext(), id)
		if err != nil {
			return writeServiceError(c, err)
		}
		if rec.Signed {
			return writeError(c, fiber.StatusConflict, "ALREADY_SIGNED", "document has already been signed")
		}

		html := `<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="UTF-8" />
  <meta name="viewport" content="width=device-width, initial-scale=1" />
  <title>Sign document</title>
</head>
<body>
  <h1>Sign document</h1>
  <p><a href="/documents/` + id + `/file" target="_blank">View the document</a></p>
  <form id="sign-form">
    <label>Full name <input name="FullName" required /></label><br />
    <label>Date <input name="Date" required /></label><br />
    <label>Company <input name="Company" required /></label><br />
    <label>Signature image <input type="file" name="signature" accept="image/png,image/jpeg" required /></label><br />
    <button type="submit">Sign</button>
  </form>
  <p id="result"></p>
  <script>
    document.getElementById('sign-form').addEventListener('submit', async (e) => {
      e.preventDefault();
      const form = e.target;
      const file = form.signature.files[0];
      const dataUrl = await new Promise((resolve, reject) => {
        const r = new FileReader();
        r.onload = () => resolve(r.result);
        r.onerror = reject;
        r.readAsDataURL(file);
      });
      const res = await fetch('/documents/` + id + `/finalize', {
        method: 'POST',
        headers: { 'Content-Type': 'application/json' },
        body: JSON.stringify({
          values: {
            FullName: form.FullName.value,
            Date: form.Date.value,
            Company: form.Company.value
          },
          signatureDataUrl: dataUrl
        })
      });
      const body = await res.json();
      document.getElementById('result').textContent =
        res.ok ? body.message : (body.error && body.error.message) || 'signing failed';
    });
  </script>
</body>
</html>`
		return c.Type("html").SendString(html)
	}
}
