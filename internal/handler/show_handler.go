package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/watchplan-api/internal/dto"
	"github.com/noah-isme/watchplan-api/internal/models"
	appErrors "github.com/noah-isme/watchplan-api/pkg/errors"
	"github.com/noah-isme/watchplan-api/pkg/response"
)

type showCatalogue interface {
	List(ctx context.Context, query dto.ShowQuery) ([]models.Show, *models.Pagination, error)
	Get(ctx context.Context, id string) (*models.Show, error)
	Create(ctx context.Context, req dto.ShowRequest) (*models.Show, error)
	Update(ctx context.Context, id string, req dto.ShowRequest) (*models.Show, error)
	Delete(ctx context.Context, id string) error
}

// ShowHandler exposes the show catalogue.
type ShowHandler struct {
	service showCatalogue
}

// NewShowHandler constructs the handler.
func NewShowHandler(svc showCatalogue) *ShowHandler {
	return &ShowHandler{service: svc}
}

// List godoc
// @Summary List shows
// @Tags Shows
// @Produce json
// @Param search query string false "Title contains"
// @Param priority query string false "high, medium or low"
// @Param page query int false "Page number"
// @Param limit query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /shows [get]
func (h *ShowHandler) List(c *gin.Context) {
	var query dto.ShowQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid query parameters"))
		return
	}
	shows, pagination, err := h.service.List(c.Request.Context(), query)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, shows, pagination)
}

// Get godoc
// @Summary Get show
// @Tags Shows
// @Produce json
// @Param id path string true "Show ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /shows/{id} [get]
func (h *ShowHandler) Get(c *gin.Context) {
	show, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, show, nil)
}

// Create godoc
// @Summary Add a show to the catalogue
// @Description Missing seasons, episodes per season, duration and priority fall back to 1, 10, 30 and medium.
// @Tags Shows
// @Accept json
// @Produce json
// @Param payload body dto.ShowRequest true "Show payload"
// @Success 201 {object} response.Envelope
// @Router /shows [post]
func (h *ShowHandler) Create(c *gin.Context) {
	var req dto.ShowRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid show payload"))
		return
	}
	show, err := h.service.Create(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, show)
}

// Update godoc
// @Summary Replace a show
// @Tags Shows
// @Accept json
// @Produce json
// @Param id path string true "Show ID"
// @Param payload body dto.ShowRequest true "Show payload"
// @Success 200 {object} response.Envelope
// @Router /shows/{id} [put]
func (h *ShowHandler) Update(c *gin.Context) {
	var req dto.ShowRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid show payload"))
		return
	}
	show, err := h.service.Update(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, show, nil)
}

// Delete godoc
// @Summary Remove a show
// @Tags Shows
// @Param id path string true "Show ID"
// @Success 204
// @Router /shows/{id} [delete]
func (h *ShowHandler) Delete(c *gin.Context) {
	if err := h.service.Delete(c.Request.Context(), c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}
