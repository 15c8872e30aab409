package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"metered-assistant-go/internal/admin"
	"metered-assistant-go/internal/coordinator"
	"metered-assistant-go/internal/ledger"
	"metered-assistant-go/internal/models"
	"metered-assistant-go/internal/store"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

const busyMessage = "I'm still working on your previous message. Please wait a moment."

type messageRequest struct {
	AccountId    string `json:"account_id" validate:"required,max=64"`
	Username     string `json:"username" validate:"max=64"`
	FirstName    string `json:"first_name" validate:"max=128"`
	LastName     string `json:"last_name" validate:"max=128"`
	LanguageCode string `json:"language_code" validate:"max=16"`
	Text         string `json:"text" validate:"max=16000"`
}

type messageResponse struct {
	Text   string `json:"text"`
	Render string `json:"render"`
}

type creditRequest struct {
	ActorId     string `json:"actor_id" validate:"required"`
	AccountId   string `json:"account_id" validate:"required"`
	Amount      int64  `json:"amount" validate:"gt=0"`
	Description string `json:"description" validate:"max=256"`
}

type creditResponse struct {
	TransactionId string `json:"transaction_id"`
	Balance       int64  `json:"balance"`
}

type roleRequest struct {
	RoleName string `json:"role_name" validate:"required,max=64"`
	Prompt   string `json:"prompt" validate:"required,max=8000"`
}

// ErrorResponse represents error response structure
type ErrorResponse struct {
	Error   string            `json:"error"`
	Details map[string]string `json:"details,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.deps.Health != nil {
		if err := s.deps.Health.Ping(r.Context()); err != nil {
			zap.L().Error("Health check failed", zap.Error(err))
			writeError(w, http.StatusServiceUnavailable, "database unavailable", nil)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	var req messageRequest
	if !s.decode(w, r, &req) {
		return
	}

	ctx := models.WithRequestContext(r.Context(), &models.RequestContext{
		ExternalId: req.AccountId,
		RequestId:  middleware.GetReqID(r.Context()),
	})
	if s.deps.Guard != nil && needsGuard(req.Text) {
		ok, err := s.deps.Guard.TryAcquire(ctx, req.AccountId)
		if err != nil {
			// Without Redis the request can still be served safely.
			zap.L().Warn("Session guard unavailable", zap.String("account_id", req.AccountId), zap.Error(err))
		} else if !ok {
			writeError(w, http.StatusTooManyRequests, busyMessage, nil)
			return
		} else {
			// A client disconnect cancels ctx, and the marker must still clear
			defer s.deps.Guard.Release(context.WithoutCancel(ctx), req.AccountId)
		}
	}

	reply, err := s.deps.Dispatcher.Dispatch(ctx, coordinator.Inbound{
		ExternalId: req.AccountId,
		Profile: models.Profile{
			Username:     req.Username,
			FirstName:    req.FirstName,
			LastName:     req.LastName,
			LanguageCode: req.LanguageCode,
		},
		Text: req.Text,
	})
	if err != nil {
		status := statusFor(err)
		if status >= http.StatusInternalServerError {
			zap.L().Error("Message handling failed", zap.String("account_id", req.AccountId), zap.Error(err))
		} else {
			zap.L().Info("Message rejected", zap.String("account_id", req.AccountId), zap.Error(err))
		}
		writeError(w, status, coordinator.UserMessage(err), nil)
		return
	}

	writeJSON(w, http.StatusOK, messageResponse{Text: reply.Text, Render: reply.Render})
}

func (s *Server) handleAdminCredit(w http.ResponseWriter, r *http.Request) {
	var req creditRequest
	if !s.decode(w, r, &req) {
		return
	}

	txn, err := s.deps.Admin.CreditAccount(r.Context(), req.ActorId, req.AccountId, req.Amount, req.Description)
	switch {
	case errors.Is(err, admin.ErrNotAuthorized):
		writeError(w, http.StatusForbidden, "not authorized", nil)
		return
	case errors.Is(err, store.ErrAccountNotFound):
		writeError(w, http.StatusNotFound, "account not found", nil)
		return
	case errors.Is(err, ledger.ErrInvalidAmount):
		writeError(w, http.StatusBadRequest, err.Error(), nil)
		return
	case err != nil:
		zap.L().Error("Admin credit failed", zap.String("account_id", req.AccountId), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "credit failed", nil)
		return
	}

	writeJSON(w, http.StatusOK, creditResponse{TransactionId: txn.Id, Balance: txn.BalanceAfter})
}

func (s *Server) handleSetRole(w http.ResponseWriter, r *http.Request) {
	externalId := chi.URLParam(r, "account_id")
	var req roleRequest
	if !s.decode(w, r, &req) {
		return
	}

	account, err := s.deps.Roles.GetAccountByExternalId(r.Context(), externalId)
	if errors.Is(err, store.ErrAccountNotFound) {
		writeError(w, http.StatusNotFound, "account not found", nil)
		return
	}
	if err != nil {
		zap.L().Error("Failed to look up account", zap.String("account_id", externalId), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "lookup failed", nil)
		return
	}

	role, err := s.deps.Roles.UpsertRolePrompt(r.Context(), models.RolePrompt{
		AccountId: account.Id,
		RoleName:  req.RoleName,
		Prompt:    req.Prompt,
	})
	if err != nil {
		zap.L().Error("Failed to update role", zap.String("account_id", externalId), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "role update failed", nil)
		return
	}

	writeJSON(w, http.StatusOK, roleRequest{RoleName: role.RoleName, Prompt: role.Prompt})
}

// decode reads and validates a JSON body, writing a 400 on failure.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", nil)
		return false
	}
	if err := s.validate.Struct(dst); err != nil {
		writeError(w, http.StatusBadRequest, "validation failed", err)
		return false
	}
	return true
}

// needsGuard reports whether text may reach the provider. Local commands
// never block on an in-flight request.
func needsGuard(text string) bool {
	return !coordinator.IsLocal(text)
}

func statusFor(err error) int {
	var failure *coordinator.Failure
	if !errors.As(err, &failure) {
		return http.StatusInternalServerError
	}
	switch failure.Kind {
	case coordinator.KindInsufficientFunds:
		return http.StatusPaymentRequired
	case coordinator.KindInputTooLong, coordinator.KindNoRoomForResponse:
		return http.StatusUnprocessableEntity
	case coordinator.KindOverloaded:
		return http.StatusTooManyRequests
	case coordinator.KindProviderUnavailable, coordinator.KindConfiguration, coordinator.KindEmptyResponse:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		zap.L().Warn("Failed to write response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, message string, validationErr error) {
	resp := ErrorResponse{Error: message}
	var verrs validator.ValidationErrors
	if errors.As(validationErr, &verrs) {
		resp.Details = make(map[string]string, len(verrs))
		for _, fe := range verrs {
			resp.Details[fe.Field()] = fmt.Sprintf("failed on '%s' tag", fe.Tag())
		}
	}
	writeJSON(w, status, resp)
}
