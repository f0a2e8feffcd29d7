package deviceauth

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"net/url"
	"time"

	apperrors "github.com/loomhost/identity/internal/platform/errors"
	"github.com/loomhost/identity/internal/sessioncookie"
	"github.com/loomhost/identity/internal/storage"
)

// deviceCodeGrantType is the RFC 8628 token grant identifier.
const deviceCodeGrantType = "urn:ietf:params:oauth:grant-type:device_code"

// SessionResolver authenticates the human approving or denying a user code.
type SessionResolver interface {
	ResolveSession(ctx context.Context, sessionID string) (storage.Session, error)
}

// Server hosts the device flow HTTP endpoints.
type Server struct {
	coordinator *Coordinator
	sessions    SessionResolver
	config      Config
}

// NewServer builds a device flow server bound to a coordinator and the
// session resolver that authenticates approvals.
func NewServer(coordinator *Coordinator, sessions SessionResolver, config Config) *Server {
	return &Server{coordinator: coordinator, sessions: sessions, config: config}
}

// RegisterRoutes registers the device flow endpoints on the provided mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	if mux == nil {
		return
	}
	mux.HandleFunc("/device/code", s.handleDeviceCode)
	mux.HandleFunc("/device", s.handleDeviceLookup)
	mux.HandleFunc("/device/authorize", s.handleDeviceAuthorize)
	mux.HandleFunc("/token", s.handleToken)
}

// StartCleanup starts periodic expiry of overdue pending grants.
func (s *Server) StartCleanup(ctx context.Context, interval time.Duration) {
	if s == nil || s.coordinator == nil || interval <= 0 {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				expired, err := s.coordinator.ExpireOverdue(ctx)
				if err != nil {
					log.Printf("device cleanup: %v", err)
					continue
				}
				if expired > 0 {
					log.Printf("device cleanup: expired %d overdue grants", expired)
				}
			}
		}
	}()
}

type deviceCodeResponse struct {
	DeviceCode              string `json:"device_code"`
	UserCode                string `json:"user_code"`
	VerificationURI         string `json:"verification_uri"`
	VerificationURIComplete string `json:"verification_uri_complete"`
	ExpiresIn               int    `json:"expires_in"`
	Interval                int    `json:"interval"`
}

type deviceLookupResponse struct {
	UserCode string `json:"user_code"`
	ClientID string `json:"client_id"`
	Status   string `json:"status"`
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	Interval    int    `json:"interval,omitempty"`
}

type errorResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description,omitempty"`
}

func (s *Server) handleDeviceCode(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONError(w, http.StatusMethodNotAllowed, "invalid_request", "method not allowed")
		return
	}
	if err := r.ParseForm(); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid_request", "invalid form data")
		return
	}

	grant, err := s.coordinator.Initiate(r.Context(), r.PostFormValue("client_id"))
	if err != nil {
		if apperrors.CodeOf(err) == apperrors.CodeDeviceEmptyClientID {
			writeJSONError(w, http.StatusBadRequest, "invalid_request", "client_id is required")
			return
		}
		log.Printf("device initiate: %v", err)
		writeJSONError(w, http.StatusInternalServerError, "server_error", "failed to create device grant")
		return
	}

	writeJSON(w, http.StatusOK, deviceCodeResponse{
		DeviceCode:              grant.DeviceCode,
		UserCode:                grant.UserCode,
		VerificationURI:         s.config.VerificationURI,
		VerificationURIComplete: verificationURIComplete(s.config.VerificationURI, grant.UserCode),
		ExpiresIn:               grant.ExpiresIn,
		Interval:                grant.Interval,
	})
}

func (s *Server) handleDeviceLookup(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSONError(w, http.StatusMethodNotAllowed, "invalid_request", "method not allowed")
		return
	}

	userCode := r.URL.Query().Get("user_code")
	if userCode == "" {
		writeJSONError(w, http.StatusBadRequest, "invalid_request", "user_code is required")
		return
	}

	record, err := s.coordinator.LookupByUserCode(r.Context(), userCode)
	if err != nil {
		switch apperrors.CodeOf(err) {
		case apperrors.CodeNotFound:
			writeJSONError(w, http.StatusNotFound, "invalid_request", "unknown user code")
			return
		case apperrors.CodeDeviceCodeExpired:
			writeJSONError(w, http.StatusNotFound, "expired_token", "code is expired or already used")
			return
		}
		log.Printf("device lookup: %v", err)
		writeJSONError(w, http.StatusInternalServerError, "server_error", "lookup failed")
		return
	}

	writeJSON(w, http.StatusOK, deviceLookupResponse{
		UserCode: record.UserCode,
		ClientID: record.ClientID,
		Status:   string(record.Status),
	})
}

func (s *Server) handleDeviceAuthorize(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONError(w, http.StatusMethodNotAllowed, "invalid_request", "method not allowed")
		return
	}

	sessionID, ok := sessioncookie.Read(r)
	if !ok {
		writeJSONError(w, http.StatusUnauthorized, "access_denied", "authentication required")
		return
	}
	session, err := s.sessions.ResolveSession(r.Context(), sessionID)
	if err != nil {
		switch apperrors.CodeOf(err) {
		case apperrors.CodeSessionNotFound, apperrors.CodeSessionExpired:
			writeJSONError(w, http.StatusUnauthorized, "access_denied", "authentication required")
		default:
			log.Printf("device authorize: resolve session: %v", err)
			writeJSONError(w, http.StatusInternalServerError, "server_error", "authorization failed")
		}
		return
	}

	if err := r.ParseForm(); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid_request", "invalid form data")
		return
	}
	userCode := r.PostFormValue("user_code")
	if userCode == "" {
		writeJSONError(w, http.StatusBadRequest, "invalid_request", "user_code is required")
		return
	}

	switch action := r.PostFormValue("action"); action {
	case "approve":
		err = s.coordinator.Approve(r.Context(), userCode, session.UserID)
	case "deny":
		err = s.coordinator.Deny(r.Context(), userCode)
	default:
		writeJSONError(w, http.StatusBadRequest, "invalid_request", "action must be approve or deny")
		return
	}
	if err != nil {
		switch apperrors.CodeOf(err) {
		case apperrors.CodeNotFound:
			writeJSONError(w, http.StatusNotFound, "invalid_request", "unknown user code")
		case apperrors.CodeDeviceCodeExpired:
			writeJSONError(w, http.StatusBadRequest, "expired_token", "code is expired or already used")
		case apperrors.CodeDeviceStateTerminal:
			writeJSONError(w, http.StatusConflict, "invalid_request", "grant already decided")
		default:
			log.Printf("device authorize: %v", err)
			writeJSONError(w, http.StatusInternalServerError, "server_error", "authorization failed")
		}
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONError(w, http.StatusMethodNotAllowed, "invalid_request", "method not allowed")
		return
	}
	if err := r.ParseForm(); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid_request", "invalid form data")
		return
	}
	if r.PostFormValue("grant_type") != deviceCodeGrantType {
		writeJSONError(w, http.StatusBadRequest, "unsupported_grant_type", "only the device_code grant is supported")
		return
	}
	deviceCode := r.PostFormValue("device_code")
	clientID := r.PostFormValue("client_id")
	if deviceCode == "" || clientID == "" {
		writeJSONError(w, http.StatusBadRequest, "invalid_request", "missing required fields")
		return
	}

	result, err := s.coordinator.Poll(r.Context(), deviceCode, clientID)
	if err != nil {
		log.Printf("device poll: %v", err)
		writeJSONError(w, http.StatusInternalServerError, "server_error", "poll failed")
		return
	}

	if result.Outcome == OutcomeToken {
		writeJSON(w, http.StatusOK, tokenResponse{
			AccessToken: result.Token,
			TokenType:   "Bearer",
			Interval:    result.Interval,
		})
		return
	}
	writeJSONError(w, http.StatusBadRequest, string(result.Outcome), "")
}

func verificationURIComplete(base, userCode string) string {
	parsed, err := url.Parse(base)
	if err != nil {
		return base
	}
	query := parsed.Query()
	query.Set("user_code", userCode)
	parsed.RawQuery = query.Encode()
	return parsed.String()
}

func writeJSONError(w http.ResponseWriter, status int, code, description string) {
	writeJSON(w, status, errorResponse{Error: code, ErrorDescription: description})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	encoder := json.NewEncoder(w)
	_ = encoder.Encode(payload)
}
