package identity

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/therapyconnect/api/internal/platform/apperr"
	"github.com/therapyconnect/api/internal/platform/auth"
	"github.com/therapyconnect/api/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.POST("/auth/register", h.Register)
	api.POST("/auth/login", h.Login)
	api.GET("/auth/me", h.Me)

	api.GET("/issues", h.ListIssues)
	api.GET("/issues/:id", h.GetIssue)
	api.POST("/issues", h.CreateIssue, auth.RequireRole(auth.RoleAdmin))

	api.GET("/therapists", h.ListTherapists)
	api.GET("/therapists/:id", h.GetTherapist)
	api.PUT("/therapists/me", h.UpdateMyTherapistProfile, auth.RequireRole(auth.RoleTherapist))
	api.DELETE("/therapists/me", h.Deactivate, auth.RequireRole(auth.RoleTherapist))

	patientOnly := auth.RequireRole(auth.RolePatient)
	api.GET("/patients/me", h.MyPatientProfile, patientOnly)
	api.PUT("/patients/me", h.UpdateMyPatientProfile, patientOnly)
	api.DELETE("/patients/me", h.Deactivate, patientOnly)

	adminOnly := auth.RequireRole(auth.RoleAdmin)
	api.GET("/patients", h.ListPatients, adminOnly)
	api.GET("/patients/:id", h.GetPatient, adminOnly)
	api.PUT("/patients/:id/summary", h.UpdatePatientSummary, adminOnly)
}

func bindAndValidate(c echo.Context, dst interface{}) error {
	if err := c.Bind(dst); err != nil {
		return apperr.Invalid("Malformed request body.")
	}
	return c.Validate(dst)
}

func principal(c echo.Context) (auth.Principal, error) {
	p, ok := auth.PrincipalFromContext(c.Request().Context())
	if !ok {
		return auth.Principal{}, echo.NewHTTPError(http.StatusUnauthorized, "authentication required")
	}
	return p, nil
}

func parseID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, apperr.InvalidField("id", "Must be a valid UUID.")
	}
	return id, nil
}

// -- Account Handlers --

func (h *Handler) Register(c echo.Context) error {
	var req RegisterRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}
	resp, err := h.svc.Register(c.Request().Context(), req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, resp)
}

func (h *Handler) Login(c echo.Context) error {
	var req LoginRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}
	resp, err := h.svc.Login(c.Request().Context(), req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, resp)
}

func (h *Handler) Me(c echo.Context) error {
	p, err := principal(c)
	if err != nil {
		return err
	}
	acct, err := h.svc.Me(c.Request().Context(), p)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, acct)
}

func (h *Handler) Deactivate(c echo.Context) error {
	p, err := principal(c)
	if err != nil {
		return err
	}
	if err := h.svc.Deactivate(c.Request().Context(), p); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

// -- Patient Handlers --

func (h *Handler) MyPatientProfile(c echo.Context) error {
	p, err := principal(c)
	if err != nil {
		return err
	}
	pp, err := h.svc.MyPatientProfile(c.Request().Context(), p)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, pp)
}

func (h *Handler) UpdateMyPatientProfile(c echo.Context) error {
	p, err := principal(c)
	if err != nil {
		return err
	}
	var req UpdatePatientRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}
	pp, err := h.svc.UpdatePatientProfile(c.Request().Context(), p, req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, pp)
}

func (h *Handler) ListPatients(c echo.Context) error {
	p, err := principal(c)
	if err != nil {
		return err
	}
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListPatients(c.Request().Context(), p, pg.Limit, pg.Offset)
	if err != nil {
		return err
	}
	if items == nil {
		items = []*PatientProfile{}
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset).WithLinks(c.Request().URL))
}

func (h *Handler) GetPatient(c echo.Context) error {
	p, err := principal(c)
	if err != nil {
		return err
	}
	id, err := parseID(c)
	if err != nil {
		return err
	}
	pp, err := h.svc.GetPatient(c.Request().Context(), p, id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, pp)
}

func (h *Handler) UpdatePatientSummary(c echo.Context) error {
	p, err := principal(c)
	if err != nil {
		return err
	}
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var req UpdatePatientSummaryRequest
	if err := c.Bind(&req); err != nil {
		return apperr.Invalid("Malformed request body.")
	}
	pp, err := h.svc.UpdatePatientSummary(c.Request().Context(), p, id, req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, pp)
}

// -- Issue Handlers --

func (h *Handler) ListIssues(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListIssues(c.Request().Context(), pg.Limit, pg.Offset)
	if err != nil {
		return err
	}
	if items == nil {
		items = []*Issue{}
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset).WithLinks(c.Request().URL))
}

func (h *Handler) GetIssue(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	i, err := h.svc.GetIssue(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, i)
}

func (h *Handler) CreateIssue(c echo.Context) error {
	p, err := principal(c)
	if err != nil {
		return err
	}
	var req CreateIssueRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}
	i, err := h.svc.CreateIssue(c.Request().Context(), p, req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, i)
}

// -- Therapist Handlers --

func (h *Handler) ListTherapists(c echo.Context) error {
	pg := pagination.FromContext(c)
	var issueID *uuid.UUID
	if v := c.QueryParam("issue_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			return apperr.InvalidField("issue_id", "Must be a valid UUID.")
		}
		issueID = &id
	}
	items, total, err := h.svc.ListTherapists(c.Request().Context(), issueID, pg.Limit, pg.Offset)
	if err != nil {
		return err
	}
	if items == nil {
		items = []*TherapistProfile{}
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset).WithLinks(c.Request().URL))
}

func (h *Handler) GetTherapist(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	t, err := h.svc.GetTherapist(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, t)
}

func (h *Handler) UpdateMyTherapistProfile(c echo.Context) error {
	p, err := principal(c)
	if err != nil {
		return err
	}
	var req UpdateTherapistRequest
	if err := c.Bind(&req); err != nil {
		return apperr.Invalid("Malformed request body.")
	}
	t, err := h.svc.UpdateTherapistProfile(c.Request().Context(), p, req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, t)
}
