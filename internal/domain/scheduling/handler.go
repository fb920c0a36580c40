package scheduling

import (
	"net/http"
	"strings"

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
	therapist := auth.RequireRole(auth.RoleTherapist)
	patient := auth.RequireRole(auth.RolePatient)

	av := api.Group("/availabilities")
	av.GET("", h.ListAvailability)
	av.POST("", h.CreateAvailability, therapist)
	av.GET("/:id", h.GetAvailability, therapist)
	av.PUT("/:id", h.UpdateAvailability, therapist)
	av.PATCH("/:id", h.UpdateAvailability, therapist)
	av.DELETE("/:id", h.DeleteAvailability, therapist)

	ap := api.Group("/appointments", auth.RequireRole(auth.RolePatient, auth.RoleTherapist))
	ap.POST("", h.Book, patient)
	ap.GET("/patient", h.ListPatientAppointments, patient)
	ap.GET("/therapist", h.ListTherapistAppointments, therapist)
	ap.GET("/:id", h.GetAppointment)
	ap.PUT("/:id", h.UpdateAppointment, patient)
	ap.PATCH("/:id", h.UpdateAppointment, patient)
	ap.PATCH("/:id/cancel", h.TherapistCancel, therapist)
}

func principal(c echo.Context) (auth.Principal, error) {
	p, ok := auth.PrincipalFromContext(c.Request().Context())
	if !ok {
		return auth.Principal{}, echo.NewHTTPError(http.StatusUnauthorized, "authentication required")
	}
	return p, nil
}

func parseID(c echo.Context, resource string) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, apperr.NotFound(resource)
	}
	return id, nil
}

// -- Availability --

func (h *Handler) CreateAvailability(c echo.Context) error {
	p, err := principal(c)
	if err != nil {
		return err
	}
	var req AvailabilityRequest
	if err := c.Bind(&req); err != nil {
		return apperr.Invalid("Malformed request body.")
	}
	a, err := h.svc.CreateAvailability(c.Request().Context(), p, req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, a)
}

func (h *Handler) GetAvailability(c echo.Context) error {
	p, err := principal(c)
	if err != nil {
		return err
	}
	id, err := parseID(c, "availability")
	if err != nil {
		return err
	}
	a, err := h.svc.GetAvailability(c.Request().Context(), p, id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, a)
}

func (h *Handler) UpdateAvailability(c echo.Context) error {
	p, err := principal(c)
	if err != nil {
		return err
	}
	id, err := parseID(c, "availability")
	if err != nil {
		return err
	}
	var req AvailabilityRequest
	if err := c.Bind(&req); err != nil {
		return apperr.Invalid("Malformed request body.")
	}
	a, err := h.svc.UpdateAvailability(c.Request().Context(), p, id, req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, a)
}

func (h *Handler) DeleteAvailability(c echo.Context) error {
	p, err := principal(c)
	if err != nil {
		return err
	}
	id, err := parseID(c, "availability")
	if err != nil {
		return err
	}
	if err := h.svc.DeleteAvailability(c.Request().Context(), p, id); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) ListAvailability(c echo.Context) error {
	f, err := availabilityFilter(c)
	if err != nil {
		return err
	}
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListAvailability(c.Request().Context(), f, pg.Limit, pg.Offset)
	if err != nil {
		return err
	}
	if items == nil {
		items = []*Availability{}
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset).WithLinks(c.Request().URL))
}

// availabilityFilter reads the listing filters from the query string.
func availabilityFilter(c echo.Context) (AvailabilityFilter, error) {
	var f AvailabilityFilter
	verr := &apperr.ValidationError{}

	if v := c.QueryParam("therapist_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			verr.Add("therapist_id", "Must be a valid UUID.")
		} else {
			f.TherapistID = &id
		}
	}
	if v := c.QueryParam("day_of_week"); v != "" {
		d, ok := ParseWeekday(v)
		if !ok {
			verr.Add("day_of_week", "Must be a day name such as 'Monday'.")
		} else {
			f.DayOfWeek = &d
		}
	}
	for _, tf := range []struct {
		param string
		dst   **TimeOfDay
	}{
		{"start_time_after", &f.StartAfter},
		{"start_time_before", &f.StartBefore},
		{"end_time_after", &f.EndAfter},
		{"end_time_before", &f.EndBefore},
	} {
		v := c.QueryParam(tf.param)
		if v == "" {
			continue
		}
		t, err := ParseTimeOfDay(v)
		if err != nil {
			verr.Add(tf.param, "Time has wrong format. Use one of these formats instead: hh:mm[:ss].")
			continue
		}
		*tf.dst = &t
	}

	if len(verr.Fields) > 0 {
		return f, verr
	}
	return f, nil
}

// -- Appointments --

func (h *Handler) Book(c echo.Context) error {
	p, err := principal(c)
	if err != nil {
		return err
	}
	var req BookRequest
	if err := c.Bind(&req); err != nil {
		return apperr.Invalid("Malformed request body.")
	}
	if err := c.Validate(&req); err != nil {
		return err
	}
	a, err := h.svc.Book(c.Request().Context(), p, req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, a)
}

func (h *Handler) GetAppointment(c echo.Context) error {
	p, err := principal(c)
	if err != nil {
		return err
	}
	id, err := parseID(c, "appointment")
	if err != nil {
		return err
	}
	a, err := h.svc.GetAppointment(c.Request().Context(), p, id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, a)
}

func (h *Handler) UpdateAppointment(c echo.Context) error {
	p, err := principal(c)
	if err != nil {
		return err
	}
	id, err := parseID(c, "appointment")
	if err != nil {
		return err
	}
	var req UpdateRequest
	if err := c.Bind(&req); err != nil {
		return apperr.Invalid("Malformed request body.")
	}
	res, err := h.svc.UpdateAppointment(c.Request().Context(), p, id, req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, res)
}

func (h *Handler) TherapistCancel(c echo.Context) error {
	p, err := principal(c)
	if err != nil {
		return err
	}
	id, err := parseID(c, "appointment")
	if err != nil {
		return err
	}
	var req CancelRequest
	if err := c.Bind(&req); err != nil {
		return apperr.Invalid("Malformed request body.")
	}
	a, err := h.svc.TherapistCancel(c.Request().Context(), p, id, req.CancellationReason)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, &UpdateResult{Message: "Appointment canceled successfully.", Appointment: a})
}

func (h *Handler) ListPatientAppointments(c echo.Context) error {
	p, err := principal(c)
	if err != nil {
		return err
	}
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListPatientAppointments(c.Request().Context(), p, pg.Limit, pg.Offset)
	if err != nil {
		return err
	}
	return h.page(c, items, total, pg)
}

func (h *Handler) ListTherapistAppointments(c echo.Context) error {
	p, err := principal(c)
	if err != nil {
		return err
	}
	var status *AppointmentStatus
	if v := strings.ToLower(strings.TrimSpace(c.QueryParam("status"))); v != "" {
		st := AppointmentStatus(v)
		status = &st
	}
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListTherapistAppointments(c.Request().Context(), p, status, pg.Limit, pg.Offset)
	if err != nil {
		return err
	}
	return h.page(c, items, total, pg)
}

func (h *Handler) page(c echo.Context, items []*Appointment, total int, pg pagination.Params) error {
	if items == nil {
		items = []*Appointment{}
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset).WithLinks(c.Request().URL))
}
