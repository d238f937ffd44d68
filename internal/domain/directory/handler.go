package directory

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/telehealth/telehealth/internal/platform/apperr"
	"github.com/telehealth/telehealth/internal/platform/auth"
	"github.com/telehealth/telehealth/internal/platform/httpx"
	"github.com/telehealth/telehealth/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes mounts account, doctor and hospital endpoints. Register,
// login and refresh are public paths and bypass the JWT middleware.
func (h *Handler) RegisterRoutes(api *echo.Group) {
	adminOnly := auth.RequireRole(auth.RoleAdmin)

	api.POST("/auth/register", h.Register)
	api.POST("/auth/login", h.Login)
	api.POST("/auth/refresh", h.Refresh)
	api.POST("/auth/logout", h.Logout)

	api.GET("/users/me", h.Me)
	api.GET("/users", h.ListUsers, adminOnly)
	api.GET("/users/:id", h.GetUser)
	api.PUT("/users/:id", h.UpdateUser)
	api.DELETE("/users/:id", h.DeleteUser, adminOnly)

	api.GET("/doctors", h.ListDoctors)
	api.GET("/doctors/:id", h.GetDoctor)
	api.POST("/doctors", h.CreateDoctor, adminOnly)
	api.PUT("/doctors/:id", h.UpdateDoctor, adminOnly)
	api.DELETE("/doctors/:id", h.DeleteDoctor, adminOnly)

	api.GET("/hospitals", h.ListHospitals)
	api.GET("/hospitals/:id", h.GetHospital)
	api.POST("/hospitals", h.CreateHospital, adminOnly)
	api.PUT("/hospitals/:id", h.UpdateHospital, adminOnly)
	api.DELETE("/hospitals/:id", h.DeleteHospital, adminOnly)
}

func (h *Handler) Register(c echo.Context) error {
	var req RegisterRequest
	if err := httpx.Bind(c, &req); err != nil {
		return err
	}
	u, err := h.svc.Register(c.Request().Context(), req)
	if err != nil {
		return err
	}
	return httpx.Created(c, u)
}

func (h *Handler) Login(c echo.Context) error {
	var req LoginRequest
	if err := httpx.Bind(c, &req); err != nil {
		return err
	}
	res, err := h.svc.Login(c.Request().Context(), req)
	if err != nil {
		return err
	}
	return httpx.OK(c, res)
}

func (h *Handler) Refresh(c echo.Context) error {
	var req RefreshRequest
	if err := httpx.Bind(c, &req); err != nil {
		return err
	}
	res, err := h.svc.Refresh(c.Request().Context(), req)
	if err != nil {
		return err
	}
	return httpx.OK(c, res)
}

func (h *Handler) Logout(c echo.Context) error {
	claims, ok := auth.ClaimsFromContext(c)
	if !ok {
		return echo.NewHTTPError(http.StatusUnauthorized, "authentication required")
	}
	var req LogoutRequest
	if err := httpx.Bind(c, &req); err != nil {
		return err
	}
	if err := h.svc.Logout(c.Request().Context(), claims, req); err != nil {
		return err
	}
	return httpx.OK(c, map[string]bool{"loggedOut": true})
}

func (h *Handler) Me(c echo.Context) error {
	id, err := auth.MustIdentity(c)
	if err != nil {
		return err
	}
	u, err := h.svc.Me(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return httpx.OK(c, u)
}

func (h *Handler) ListUsers(c echo.Context) error {
	pg := pagination.FromContext(c)
	f := UserFilter{Limit: pg.Limit, Offset: pg.Offset}
	if v := c.QueryParam("role"); v != "" {
		role, ok := auth.ParseRole(v)
		if !ok {
			return apperr.Newf(apperr.ErrValidation, "unknown role %q", v)
		}
		f.Role = role
	}
	items, total, err := h.svc.ListUsers(c.Request().Context(), f)
	if err != nil {
		return err
	}
	return httpx.OK(c, pagination.NewPage(items, total, pg))
}

func (h *Handler) GetUser(c echo.Context) error {
	caller, err := auth.MustIdentity(c)
	if err != nil {
		return err
	}
	id, err := parseID(c, "user")
	if err != nil {
		return err
	}
	u, err := h.svc.GetUser(c.Request().Context(), caller, id)
	if err != nil {
		return err
	}
	return httpx.OK(c, u)
}

func (h *Handler) UpdateUser(c echo.Context) error {
	caller, err := auth.MustIdentity(c)
	if err != nil {
		return err
	}
	id, err := parseID(c, "user")
	if err != nil {
		return err
	}
	var req UpdateUserRequest
	if err := httpx.Bind(c, &req); err != nil {
		return err
	}
	u, err := h.svc.UpdateUser(c.Request().Context(), caller, id, req)
	if err != nil {
		return err
	}
	return httpx.OK(c, u)
}

func (h *Handler) DeleteUser(c echo.Context) error {
	id, err := parseID(c, "user")
	if err != nil {
		return err
	}
	if err := h.svc.DeleteUser(c.Request().Context(), id); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) CreateDoctor(c echo.Context) error {
	var req CreateDoctorRequest
	if err := httpx.Bind(c, &req); err != nil {
		return err
	}
	d, err := h.svc.CreateDoctor(c.Request().Context(), req)
	if err != nil {
		return err
	}
	return httpx.Created(c, d)
}

func (h *Handler) GetDoctor(c echo.Context) error {
	id, err := parseID(c, "doctor")
	if err != nil {
		return err
	}
	d, err := h.svc.GetDoctor(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return httpx.OK(c, d)
}

func (h *Handler) UpdateDoctor(c echo.Context) error {
	id, err := parseID(c, "doctor")
	if err != nil {
		return err
	}
	var req UpdateDoctorRequest
	if err := httpx.Bind(c, &req); err != nil {
		return err
	}
	d, err := h.svc.UpdateDoctor(c.Request().Context(), id, req)
	if err != nil {
		return err
	}
	return httpx.OK(c, d)
}

func (h *Handler) DeleteDoctor(c echo.Context) error {
	id, err := parseID(c, "doctor")
	if err != nil {
		return err
	}
	if err := h.svc.DeleteDoctor(c.Request().Context(), id); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) ListDoctors(c echo.Context) error {
	pg := pagination.FromContext(c)
	f := DoctorFilter{Specialty: c.QueryParam("specialty"), Limit: pg.Limit, Offset: pg.Offset}
	if v := c.QueryParam("hospitalId"); v != "" {
		hid, err := uuid.Parse(v)
		if err != nil {
			return apperr.New(apperr.ErrValidation, "invalid hospitalId")
		}
		f.HospitalID = &hid
	}
	items, total, err := h.svc.ListDoctors(c.Request().Context(), f)
	if err != nil {
		return err
	}
	return httpx.OK(c, pagination.NewPage(items, total, pg))
}

func (h *Handler) CreateHospital(c echo.Context) error {
	var req HospitalRequest
	if err := httpx.Bind(c, &req); err != nil {
		return err
	}
	hosp, err := h.svc.CreateHospital(c.Request().Context(), req)
	if err != nil {
		return err
	}
	return httpx.Created(c, hosp)
}

func (h *Handler) GetHospital(c echo.Context) error {
	id, err := parseID(c, "hospital")
	if err != nil {
		return err
	}
	hosp, err := h.svc.GetHospital(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return httpx.OK(c, hosp)
}

func (h *Handler) UpdateHospital(c echo.Context) error {
	id, err := parseID(c, "hospital")
	if err != nil {
		return err
	}
	var req HospitalRequest
	if err := httpx.Bind(c, &req); err != nil {
		return err
	}
	hosp, err := h.svc.UpdateHospital(c.Request().Context(), id, req)
	if err != nil {
		return err
	}
	return httpx.OK(c, hosp)
}

func (h *Handler) DeleteHospital(c echo.Context) error {
	id, err := parseID(c, "hospital")
	if err != nil {
		return err
	}
	if err := h.svc.DeleteHospital(c.Request().Context(), id); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) ListHospitals(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListHospitals(c.Request().Context(), HospitalFilter{
		Search:  c.QueryParam("search"),
		Service: c.QueryParam("service"),
		Limit:   pg.Limit,
		Offset:  pg.Offset,
	})
	if err != nil {
		return err
	}
	return httpx.OK(c, pagination.NewPage(items, total, pg))
}

func parseID(c echo.Context, what string) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, apperr.Newf(apperr.ErrValidation, "invalid %s id", what)
	}
	return id, nil
}
