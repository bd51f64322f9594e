package billing

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

// CheckoutRequest is the authenticated checkout-session creation input.
type CheckoutRequest struct {
	PlanID     string `json:"plan_id"`
	SuccessURL string `json:"success_url"`
	CancelURL  string `json:"cancel_url"`
}

// CheckoutResponse carries the provider-hosted checkout redirect.
type CheckoutResponse struct {
	SessionID   string    `json:"session_id"`
	RedirectURL string    `json:"redirect_url"`
	ExpiresAt   time.Time `json:"expires_at,omitzero"`
}

// PortalRequest is the authenticated portal-session creation input.
type PortalRequest struct {
	ReturnURL string `json:"return_url"`
}

// PortalResponse carries the provider-hosted portal redirect.
type PortalResponse struct {
	RedirectURL string `json:"redirect_url"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// Router mounts the billing HTTP surface:
//
//	POST /checkout        authenticated; create a checkout session
//	POST /portal          authenticated; create a customer-portal session
//	GET  /record          authenticated; read the caller's billing record
//	POST /webhooks/stripe unauthenticated entry, signature-verified
//
// Identity must already be on the request context (see WithIdentity).
func Router(broker *SessionBroker, gateway *Gateway, store Store, log *slog.Logger) chi.Router {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}

	r := chi.NewRouter()

	r.Post("/checkout", func(w http.ResponseWriter, req *http.Request) {
		id, ok := IdentityFromContext(req.Context())
		if !ok {
			writeError(w, log, ErrUnauthenticated)
			return
		}

		var in CheckoutRequest
		if err := json.NewDecoder(req.Body).Decode(&in); err != nil {
			writeError(w, log, errors.Join(ErrInvalidArgument, err))
			return
		}

		session, err := broker.CreateCheckoutSession(req.Context(), id.UserID, id.Email,
			Tier(in.PlanID), in.SuccessURL, in.CancelURL)
		if err != nil {
			writeError(w, log, err)
			return
		}
		writeJSON(w, http.StatusOK, CheckoutResponse{
			SessionID:   session.SessionID,
			RedirectURL: session.RedirectURL,
			ExpiresAt:   session.ExpiresAt,
		})
	})

	r.Post("/portal", func(w http.ResponseWriter, req *http.Request) {
		id, ok := IdentityFromContext(req.Context())
		if !ok {
			writeError(w, log, ErrUnauthenticated)
			return
		}

		var in PortalRequest
		if err := json.NewDecoder(req.Body).Decode(&in); err != nil {
			writeError(w, log, errors.Join(ErrInvalidArgument, err))
			return
		}

		session, err := broker.CreatePortalSession(req.Context(), id.UserID, in.ReturnURL)
		if err != nil {
			writeError(w, log, err)
			return
		}
		writeJSON(w, http.StatusOK, PortalResponse{RedirectURL: session.RedirectURL})
	})

	r.Get("/record", func(w http.ResponseWriter, req *http.Request) {
		id, ok := IdentityFromContext(req.Context())
		if !ok {
			writeError(w, log, ErrUnauthenticated)
			return
		}

		rec, err := store.Get(req.Context(), id.UserID)
		if err != nil {
			writeError(w, log, err)
			return
		}
		writeJSON(w, http.StatusOK, rec)
	})

	r.Post("/webhooks/stripe", gateway.Handler())

	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps the sentinel taxonomy onto HTTP statuses. Business errors
// keep their message so callers can act on them; unexpected errors are logged
// and masked.
func writeError(w http.ResponseWriter, log *slog.Logger, err error) {
	switch {
	case errors.Is(err, ErrUnauthenticated):
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "authentication required"})
	case errors.Is(err, ErrUnknownPlan):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "unknown plan identifier"})
	case errors.Is(err, ErrInvalidArgument):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request"})
	case errors.Is(err, ErrNoBillingRelationship):
		writeJSON(w, http.StatusPreconditionFailed, errorResponse{Error: "no billing relationship yet"})
	case errors.Is(err, ErrRecordNotFound):
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "no billing record"})
	case IsTransient(err), errors.Is(err, context.DeadlineExceeded):
		log.Error("billing request hit transient failure", slog.Any("error", err))
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "temporarily unavailable"})
	default:
		log.Error("billing request failed", slog.Any("error", err))
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
	}
}
