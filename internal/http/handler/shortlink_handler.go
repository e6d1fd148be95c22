package handler

import (
	"context"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/sifan077/shortlinkd/internal/app/model"
	"github.com/sifan077/shortlinkd/internal/app/usecase"
	"github.com/sifan077/shortlinkd/internal/errx"
	"github.com/sifan077/shortlinkd/internal/http/middleware"
)

// ShortLinkDeps groups dependencies required by the short-link API.
type ShortLinkDeps struct {
	Logger   *zap.Logger
	UseCases *usecase.UseCases
}

// ShortLinkHandler implements the short-link management API.
type ShortLinkHandler struct {
	logger *zap.Logger
	uc     *usecase.UseCases
}

// NewShortLinkHandler creates an API handler with the provided dependencies.
func NewShortLinkHandler(deps ShortLinkDeps) *ShortLinkHandler {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ShortLinkHandler{logger: logger, uc: deps.UseCases}
}

// Register wires API routes onto the provided router.
func (h *ShortLinkHandler) Register(router fiber.Router) {
	api := router.Group("/api")
	{
		links := api.Group("/shortlinks")
		{
			links.Post("/", h.Create)
			links.Get("/", h.List)
			links.Get("/:code", h.Get)
			links.Patch("/:code/activate", h.Activate)
			links.Patch("/:code/deactivate", h.Deactivate)
			links.Patch("/:code/extend", h.Extend)
			links.Delete("/:code", h.Delete)
		}
	}
}

// CreateShortLinkRequest is the body of POST /api/shortlinks.
type CreateShortLinkRequest struct {
	OriginalURL string `json:"originalUrl" validate:"required,url,max=2048"`
}

// ExtendShortLinkRequest is the body of PATCH /api/shortlinks/:code/extend.
type ExtendShortLinkRequest struct {
	Days *int `json:"days" validate:"required,min=1,max=3650"`
}

// ListShortLinksQuery carries the query string of GET /api/shortlinks.
type ListShortLinksQuery struct {
	Limit     int    `query:"limit" json:"limit" validate:"omitempty,min=1,max=100"`
	Active    bool   `query:"active" json:"active"`
	PageToken string `query:"pageToken" json:"pageToken" validate:"omitempty,max=2048"`
}

// DeleteShortLinkResponse is the body of DELETE /api/shortlinks/:code.
type DeleteShortLinkResponse struct {
	Deleted bool `json:"deleted"`
}

// Create handles POST /api/shortlinks
func (h *ShortLinkHandler) Create(c *fiber.Ctx) error {
	const op = "handler.ShortLink.Create"
	var req CreateShortLinkRequest
	if err := bindBody(c, op, &req); err != nil {
		return writeError(c, h.logger, err)
	}

	link, err := h.uc.Create.Execute(requestContext(c), middleware.OwnerFrom(c), req.OriginalURL)
	if err != nil {
		return writeError(c, h.logger, err)
	}
	return c.Status(fiber.StatusCreated).JSON(link)
}

// List handles GET /api/shortlinks
func (h *ShortLinkHandler) List(c *fiber.Ctx) error {
	const op = "handler.ShortLink.List"
	var q ListShortLinksQuery
	if err := c.QueryParser(&q); err != nil {
		return writeError(c, h.logger, errx.Errorf(op, errx.Invalid, "invalid query string"))
	}
	if err := validateStruct(op, &q); err != nil {
		return writeError(c, h.logger, err)
	}

	page, err := h.uc.FindAll.Execute(requestContext(c), model.FindAllInput{
		OwnerID:    middleware.OwnerFrom(c),
		ActiveOnly: q.Active,
		Limit:      q.Limit,
		PageToken:  q.PageToken,
	})
	if err != nil {
		return writeError(c, h.logger, err)
	}
	return c.JSON(page)
}

// Get handles GET /api/shortlinks/:code
func (h *ShortLinkHandler) Get(c *fiber.Ctx) error {
	link, err := h.uc.FindOne.Execute(requestContext(c), selector(c))
	if err != nil {
		return writeError(c, h.logger, err)
	}
	return c.JSON(link)
}

// Activate handles PATCH /api/shortlinks/:code/activate
func (h *ShortLinkHandler) Activate(c *fiber.Ctx) error {
	link, err := h.uc.Activate.Execute(requestContext(c), selector(c))
	if err != nil {
		return writeError(c, h.logger, err)
	}
	return c.JSON(link)
}

// Deactivate handles PATCH /api/shortlinks/:code/deactivate
func (h *ShortLinkHandler) Deactivate(c *fiber.Ctx) error {
	link, err := h.uc.Deactivate.Execute(requestContext(c), selector(c))
	if err != nil {
		return writeError(c, h.logger, err)
	}
	return c.JSON(link)
}

// Extend handles PATCH /api/shortlinks/:code/extend
func (h *ShortLinkHandler) Extend(c *fiber.Ctx) error {
	const op = "handler.ShortLink.Extend"
	var req ExtendShortLinkRequest
	if err := bindBody(c, op, &req); err != nil {
		return writeError(c, h.logger, err)
	}

	link, err := h.uc.ExtendExpiry.Execute(requestContext(c), selector(c), *req.Days)
	if err != nil {
		return writeError(c, h.logger, err)
	}
	return c.JSON(link)
}

// Delete handles DELETE /api/shortlinks/:code
func (h *ShortLinkHandler) Delete(c *fiber.Ctx) error {
	deleted, err := h.uc.Delete.Execute(requestContext(c), selector(c))
	if err != nil {
		return writeError(c, h.logger, err)
	}
	return c.JSON(DeleteShortLinkResponse{Deleted: deleted})
}

func selector(c *fiber.Ctx) model.Selector {
	return model.Selector{OwnerID: middleware.OwnerFrom(c), Code: c.Params("code")}
}

func requestContext(c *fiber.Ctx) context.Context {
	ctx := c.UserContext()
	if ctx == nil {
		ctx = context.Background()
	}
	return ctx
}
