package handler

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/sifan077/shortlinkd/internal/app/usecase"
	"github.com/sifan077/shortlinkd/internal/http/view"
)

const healthTimeout = 2 * time.Second

// HealthCheck reports whether one dependency is reachable.
type HealthCheck func(ctx context.Context) error

// RedirectDeps groups dependencies required by redirect handlers.
type RedirectDeps struct {
	Logger   *zap.Logger
	Redirect *usecase.RedirectShortLink
	Checks   map[string]HealthCheck
}

// RedirectHandler resolves short codes and serves the health endpoint.
type RedirectHandler struct {
	logger   *zap.Logger
	redirect *usecase.RedirectShortLink
	checks   map[string]HealthCheck
}

// NewRedirectHandler creates a redirect handler with the provided dependencies.
func NewRedirectHandler(deps RedirectDeps) *RedirectHandler {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedirectHandler{
		logger:   logger,
		redirect: deps.Redirect,
		checks:   deps.Checks,
	}
}

// Register wires redirect routes onto the provided router. It must be
// registered after the API routes since /:code matches any single segment.
func (h *RedirectHandler) Register(router fiber.Router) {
	router.Get("/health", h.Health)
	router.Get("/:code", h.Resolve)
}

// Health handles GET /health. Any failing check turns the response into 503.
func (h *RedirectHandler) Health(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(requestContext(c), healthTimeout)
	defer cancel()

	status := "ok"
	checks := make(map[string]string, len(h.checks))
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			h.logger.Warn("health check failed", zap.String("check", name), zap.Error(err))
			checks[name] = err.Error()
			status = "degraded"
			continue
		}
		checks[name] = "ok"
	}

	code := fiber.StatusOK
	if status != "ok" {
		code = fiber.StatusServiceUnavailable
	}
	return c.Status(code).JSON(fiber.Map{
		"service": "shortlinkd",
		"status":  status,
		"checks":  checks,
		"time":    time.Now().UTC().Format(time.RFC3339),
	})
}

// Resolve handles GET /:code with a 302 to the original URL. Browsers get an
// HTML page for unknown, inactive and expired links; other clients get JSON.
func (h *RedirectHandler) Resolve(c *fiber.Ctx) error {
	code := c.Params("code")
	link, err := h.redirect.Execute(requestContext(c), usecase.RedirectInput{
		Code:      code,
		IP:        c.IP(),
		UserAgent: c.Get(fiber.HeaderUserAgent),
	})
	if err != nil {
		status := StatusOf(err)
		if (status == fiber.StatusNotFound || status == fiber.StatusGone) && wantsHTML(c) {
			return h.renderUnavailable(c, code, status)
		}
		return writeError(c, h.logger, err)
	}

	h.logger.Debug("redirecting short link", zap.String("code", code), zap.String("target", link.OriginalURL))
	c.Set(fiber.HeaderCacheControl, "private, max-age=0")
	return c.Redirect(link.OriginalURL, fiber.StatusFound)
}

func (h *RedirectHandler) renderUnavailable(c *fiber.Ctx, code string, status int) error {
	html, err := view.RenderUnavailablePage(view.UnavailablePageData{
		Code: code,
		Gone: status == fiber.StatusGone,
	})
	if err != nil {
		h.logger.Error("failed to render unavailable page", zap.Error(err))
		return c.Status(status).JSON(ErrorResponse{Error: "short link unavailable"})
	}
	return c.Status(status).
		Type("html", "utf-8").
		SendString(html)
}

func wantsHTML(c *fiber.Ctx) bool {
	return c.Accepts(fiber.MIMEApplicationJSON, fiber.MIMETextHTML) == fiber.MIMETextHTML
}
