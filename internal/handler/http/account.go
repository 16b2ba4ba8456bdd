package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/quizhub/accounts/internal/domain"
	"github.com/quizhub/accounts/internal/provisioning"
	"github.com/quizhub/accounts/internal/service"
	"github.com/quizhub/accounts/pkg/httputil"
	"github.com/quizhub/accounts/pkg/validator"
)

const maxBodyBytes = 1 << 20

// AccountHandler handles HTTP requests for account endpoints.
type AccountHandler struct {
	service *service.AccountService
	logger  *slog.Logger
}

// NewAccountHandler creates a new account HTTP handler.
func NewAccountHandler(svc *service.AccountService, logger *slog.Logger) *AccountHandler {
	return &AccountHandler{service: svc, logger: logger}
}

// --- Request DTOs ---

// RegisterRequest is the JSON request body for password registration.
type RegisterRequest struct {
	Email    string               `json:"email" validate:"required"`
	Password string               `json:"password" validate:"required"`
	Profile  domain.ProfileFields `json:"profile" validate:"-"`
}

// FederatedRequest is the JSON request body for federated registration.
type FederatedRequest struct {
	IDToken string               `json:"id_token" validate:"required"`
	Profile domain.ProfileFields `json:"profile" validate:"-"`
}

// --- Handlers ---

// Register handles POST /api/v1/accounts/register
func (h *AccountHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := httputil.DecodeJSON(w, r, &req, maxBodyBytes); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	if err := validator.Validate(req); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	h.register(w, r, service.RegisterInput{
		Email:    req.Email,
		Password: req.Password,
		Profile:  req.Profile,
	})
}

// RegisterFederated handles POST /api/v1/accounts/federated
func (h *AccountHandler) RegisterFederated(w http.ResponseWriter, r *http.Request) {
	var req FederatedRequest
	if err := httputil.DecodeJSON(w, r, &req, maxBodyBytes); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	if err := validator.Validate(req); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	h.register(w, r, service.RegisterInput{
		IDToken: req.IDToken,
		Profile: req.Profile,
	})
}

func (h *AccountHandler) register(w http.ResponseWriter, r *http.Request, input service.RegisterInput) {
	result, err := h.service.Register(r.Context(), input)
	if err != nil {
		if provisioning.KindOf(err) == provisioning.KindProfilePersistenceFailed {
			// the identity exists; hand it back so the client can retry the profile step
			httputil.WriteErrorWithData(w, r, toAppError(err), result, h.logger)
			return
		}
		httputil.WriteError(w, r, toAppError(err), h.logger)
		return
	}

	status := http.StatusCreated
	if !result.ProfileCreated {
		status = http.StatusOK
	}
	httputil.WriteJSON(w, status, httputil.Response{Data: result})
}

// RetryProfile handles POST /api/v1/accounts/{id}/profile
func (h *AccountHandler) RetryProfile(w http.ResponseWriter, r *http.Request) {
	var fields domain.ProfileFields
	if err := httputil.DecodeJSON(w, r, &fields, maxBodyBytes); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	result, err := h.service.RetryProfile(r.Context(), chi.URLParam(r, "id"), fields)
	if err != nil {
		httputil.WriteError(w, r, toAppError(err), h.logger)
		return
	}

	status := http.StatusCreated
	if !result.Created {
		status = http.StatusOK
	}
	httputil.WriteJSON(w, status, httputil.Response{Data: result})
}

// GetProfile handles GET /api/v1/accounts/{id}/profile
func (h *AccountHandler) GetProfile(w http.ResponseWriter, r *http.Request) {
	record, err := h.service.GetProfile(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: record})
}
