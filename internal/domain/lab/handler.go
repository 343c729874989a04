package lab

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/labstack/echo/v4"

	"github.com/radgate/radgate/internal/platform/auth"
	"github.com/radgate/radgate/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes mounts the lab endpoints. Reads need a valid token; writes
// additionally need the admin role. In development authMW is the permissive
// dev middleware.
func (h *Handler) RegisterRoutes(api *echo.Group, authMW echo.MiddlewareFunc) {
	read := api.Group("/labs", authMW)
	read.GET("", h.List)
	read.GET("/:id", h.Get)

	admin := api.Group("/labs", authMW, auth.RequireRole("admin"))
	admin.POST("", h.Create)
	admin.PUT("/:id", h.Update)
}

type createRequest struct {
	Name       string  `json:"name"`
	Identifier string  `json:"identifier"`
	Notes      *string `json:"notes"`
	Active     *bool   `json:"active"`
}

func (h *Handler) Create(c echo.Context) error {
	var req createRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	l := &Lab{
		Name:       req.Name,
		Identifier: req.Identifier,
		Notes:      req.Notes,
		Active:     true,
	}
	if req.Active != nil {
		l.Active = *req.Active
	}

	if err := h.svc.Create(c.Request().Context(), l); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return echo.NewHTTPError(http.StatusConflict, "lab identifier already exists")
		}
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusCreated, l)
}

func (h *Handler) Get(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	l, err := h.svc.Get(c.Request().Context(), id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "lab not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, l)
}

func (h *Handler) List(c echo.Context) error {
	pg := pagination.FromContext(c)

	params := map[string]string{}
	for _, key := range []string{"name", "identifier", "active"} {
		if v := c.QueryParam(key); v != "" {
			params[key] = v
		}
	}

	items, total, err := h.svc.Search(c.Request().Context(), params, pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

type updateRequest struct {
	Name   string  `json:"name"`
	Notes  *string `json:"notes"`
	Active *bool   `json:"active"`
}

func (h *Handler) Update(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}

	var req updateRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	l, err := h.svc.Get(c.Request().Context(), id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "lab not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	if req.Name != "" {
		l.Name = req.Name
	}
	if req.Notes != nil {
		l.Notes = req.Notes
	}
	if req.Active != nil {
		l.Active = *req.Active
	}

	if err := h.svc.Update(c.Request().Context(), l); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusOK, l)
}
