// handlers_user.go - Proxies for Mr. Bot account management and one-off queries
package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/mrbot-consultas/backend/internal/mrbot"
)

// HandleUserQuota proxies the remaining-query lookup for an email.
func (h *Handler) HandleUserQuota(c echo.Context) error {
	email := c.Param("email")
	if email == "" {
		return NewValidationError("email")
	}

	resp, err := h.client.ConsultasDisponibles(c.Request().Context(), email)
	if err != nil {
		return NewUpstreamError("quota lookup failed", err)
	}
	return c.JSON(http.StatusOK, resp)
}

// HandleCreateUser proxies user registration; the API mails the key back.
func (h *Handler) HandleCreateUser(c echo.Context) error {
	var req struct {
		Email string `json:"email"`
	}
	if err := c.Bind(&req); err != nil {
		return NewBadRequestError("invalid JSON body", err)
	}
	if req.Email == "" {
		return NewValidationError("email")
	}

	resp, err := h.client.CreateUser(c.Request().Context(), req.Email)
	if err != nil {
		return NewUpstreamError("user creation failed", err)
	}
	return c.JSON(http.StatusOK, resp)
}

// HandleResetAPIKey proxies the API key rotation.
func (h *Handler) HandleResetAPIKey(c echo.Context) error {
	var req struct {
		Email string `json:"email"`
	}
	if err := c.Bind(&req); err != nil {
		return NewBadRequestError("invalid JSON body", err)
	}
	if req.Email == "" {
		return NewValidationError("email")
	}

	resp, err := h.client.ResetAPIKey(c.Request().Context(), req.Email)
	if err != nil {
		return NewUpstreamError("api key reset failed", err)
	}
	return c.JSON(http.StatusOK, resp)
}

// HandleCuitQuery proxies the registration certificate lookup: one CUIT uses
// the individual endpoint, several use the bulk one.
func (h *Handler) HandleCuitQuery(c echo.Context) error {
	var req struct {
		Cuit  string   `json:"cuit,omitempty"`
		Cuits []string `json:"cuits,omitempty"`
	}
	if err := c.Bind(&req); err != nil {
		return NewBadRequestError("invalid JSON body", err)
	}

	var (
		resp *mrbot.Response
		err  error
	)
	switch {
	case len(req.Cuits) > 0:
		resp, err = h.client.CuitMasivo(c.Request().Context(), req.Cuits)
	case req.Cuit != "":
		resp, err = h.client.CuitIndividual(c.Request().Context(), req.Cuit)
	default:
		return NewValidationError("cuit")
	}
	if err != nil {
		return NewUpstreamError("cuit lookup failed", err)
	}
	return c.JSON(http.StatusOK, resp)
}

// HandleSingleQuery proxies one cataloged service call without a batch, for
// ad-hoc lookups from the UI.
func (h *Handler) HandleSingleQuery(c echo.Context) error {
	svc, err := mrbot.LookupService(c.Param("service"))
	if err != nil {
		return NewBadRequestError("unknown service", err)
	}

	payload := map[string]any{}
	if err := c.Bind(&payload); err != nil {
		return NewBadRequestError("invalid JSON body", err)
	}
	for _, col := range svc.RequiredColumns {
		if v, ok := payload[col].(string); !ok || v == "" {
			return NewValidationError(col)
		}
	}

	resp, err := h.client.Consulta(c.Request().Context(), svc, payload)
	if err != nil {
		return NewUpstreamError("query failed", err)
	}
	return c.JSON(http.StatusOK, resp)
}
