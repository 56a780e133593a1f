package httpapi

import (
	"net/http"
	"strings"
	"time"

	"github.com/tessera-id/tessera/internal/token"
)

type credentialView struct {
	CredentialID      string     `json:"credential_id"`
	DeviceName        string     `json:"device_name,omitempty"`
	AuthenticatorGUID string     `json:"authenticator_guid,omitempty"`
	Transports        []string   `json:"transports,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	LastUsedAt        *time.Time `json:"last_used_at,omitempty"`
}

type credentialListResponse struct {
	Credentials []credentialView `json:"credentials"`
}

func (s *Server) handleCredentialList(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSONError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}
	auth, ok := s.bearerSubject(w, r)
	if !ok {
		return
	}

	infos, err := s.credentials.List(r.Context(), auth.Subject)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	views := make([]credentialView, 0, len(infos))
	for _, info := range infos {
		views = append(views, credentialView{
			CredentialID:      info.CredentialID,
			DeviceName:        info.DeviceName,
			AuthenticatorGUID: info.AuthenticatorGUID,
			Transports:        info.Transports,
			CreatedAt:         info.CreatedAt,
			LastUsedAt:        info.LastUsedAt,
		})
	}
	writeJSON(w, http.StatusOK, credentialListResponse{Credentials: views})
}

func (s *Server) handleCredentialDelete(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		writeJSONError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}
	auth, ok := s.bearerSubject(w, r)
	if !ok {
		return
	}

	credentialID := strings.TrimPrefix(r.URL.Path, "/webauthn/credentials/")
	if credentialID == "" || strings.Contains(credentialID, "/") {
		writeJSONError(w, http.StatusBadRequest, "invalid_request", "credential id is missing")
		return
	}

	deleted, err := s.credentials.Delete(r.Context(), auth.Subject, credentialID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if !deleted {
		writeJSONError(w, http.StatusNotFound, "not_found", "credential not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// bearerSubject authenticates the request by its bearer access token. On
// failure the 401 is already written and ok is false.
func (s *Server) bearerSubject(w http.ResponseWriter, r *http.Request) (token.Validation, bool) {
	header := r.Header.Get("Authorization")
	raw, found := strings.CutPrefix(header, "Bearer ")
	if !found || raw == "" {
		writeJSONError(w, http.StatusUnauthorized, "unauthorized", "bearer token is required")
		return token.Validation{}, false
	}

	validation, err := s.tokens.ValidateAccessToken(r.Context(), raw)
	if err != nil {
		writeDomainError(w, err)
		return token.Validation{}, false
	}
	if !validation.Valid {
		writeJSONError(w, http.StatusUnauthorized, "unauthorized", "access token is invalid")
		return token.Validation{}, false
	}
	return validation, true
}
