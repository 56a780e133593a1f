package httpapi

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"net/url"

	"github.com/tessera-id/tessera/internal/ceremony"
	"github.com/tessera-id/tessera/internal/platform/errors"
	"github.com/tessera-id/tessera/internal/storage"
)

type registerOptionsRequest struct {
	ClientID     int64  `json:"client_id"`
	ClientSecret string `json:"client_secret"`
	RelyingParty string `json:"rp_id"`
	Subject      string `json:"b2b_subject"`
	DisplayName  string `json:"display_name"`
}

type registerOptionsResponse struct {
	SessionID     string                             `json:"session_id"`
	Options       ceremony.CredentialCreationOptions `json:"options"`
	IsProvisioned bool                               `json:"is_provisioned"`
}

func (s *Server) handleRegisterOptions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}
	if !s.limiter.allow(clientIP(r)) {
		writeJSONError(w, http.StatusTooManyRequests, "rate_limited", "too many requests")
		return
	}

	var req registerOptionsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid_request", "request body is not valid JSON")
		return
	}
	if err := s.authenticateClient(r, req.ClientID, req.ClientSecret); err != nil {
		writeDomainError(w, err)
		return
	}

	options, err := s.engine.BeginRegistration(r.Context(), ceremony.RegistrationOptionsParams{
		ClientID:       req.ClientID,
		RelyingPartyID: req.RelyingParty,
		Subject:        req.Subject,
		DisplayName:    req.DisplayName,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, registerOptionsResponse{
		SessionID:     options.SessionID,
		Options:       options.Options,
		IsProvisioned: options.Provisioned,
	})
}

type registerVerifyRequest struct {
	ClientID     int64           `json:"client_id"`
	ClientSecret string          `json:"client_secret"`
	SessionID    string          `json:"session_id"`
	Response     json.RawMessage `json:"response"`
	DeviceName   string          `json:"device_name"`
}

type verifyResponse struct {
	Success      bool   `json:"success"`
	CredentialID string `json:"credential_id,omitempty"`
	Error        string `json:"error,omitempty"`
}

func (s *Server) handleRegisterVerify(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}

	var req registerVerifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid_request", "request body is not valid JSON")
		return
	}
	if err := s.authenticateClient(r, req.ClientID, req.ClientSecret); err != nil {
		writeDomainError(w, err)
		return
	}

	result, err := s.engine.FinishRegistration(r.Context(), ceremony.FinishRegistrationParams{
		ClientID:   req.ClientID,
		SessionID:  req.SessionID,
		Response:   req.Response,
		DeviceName: req.DeviceName,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if !result.OK {
		writeJSON(w, http.StatusBadRequest, verifyResponse{Error: result.Reason})
		return
	}
	writeJSON(w, http.StatusOK, verifyResponse{Success: true, CredentialID: result.CredentialID})
}

type authenticateOptionsRequest struct {
	ClientID     int64  `json:"client_id"`
	RelyingParty string `json:"rp_id"`
	Subject      string `json:"b2b_subject"`
}

type authenticateOptionsResponse struct {
	SessionID string                            `json:"session_id"`
	Options   ceremony.CredentialRequestOptions `json:"options"`
}

// handleAuthenticateOptions deliberately takes no client secret: the request
// reaches an unauthenticated browser, and the challenge it yields is useless
// without a matching signature from an enrolled authenticator.
func (s *Server) handleAuthenticateOptions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}
	if !s.limiter.allow(clientIP(r)) {
		writeJSONError(w, http.StatusTooManyRequests, "rate_limited", "too many requests")
		return
	}

	var req authenticateOptionsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid_request", "request body is not valid JSON")
		return
	}

	options, err := s.engine.BeginAuthentication(r.Context(), ceremony.AuthenticationOptionsParams{
		ClientID:       req.ClientID,
		RelyingPartyID: req.RelyingParty,
		Subject:        req.Subject,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, authenticateOptionsResponse{
		SessionID: options.SessionID,
		Options:   options.Options,
	})
}

type authenticateVerifyRequest struct {
	ClientID    int64           `json:"client_id"`
	SessionID   string          `json:"session_id"`
	RedirectURI string          `json:"redirect_uri"`
	State       string          `json:"state"`
	Response    json.RawMessage `json:"response"`
}

type authenticateVerifyResponse struct {
	Success     bool   `json:"success"`
	RedirectURL string `json:"redirect_url,omitempty"`
	Error       string `json:"error,omitempty"`
}

func (s *Server) handleAuthenticateVerify(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}

	var req authenticateVerifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid_request", "request body is not valid JSON")
		return
	}

	client, err := s.clients.GetClient(r.Context(), req.ClientID)
	if err != nil {
		if err == storage.ErrNotFound {
			writeDomainError(w, errors.New(errors.CodeClientAuthFailed, "client authentication failed"))
			return
		}
		writeDomainError(w, err)
		return
	}
	if !allowedRedirect(client, req.RedirectURI) {
		writeDomainError(w, errors.WithField(errors.CodeClientIDInvalid, "redirect uri is not registered for this client", "redirect_uri"))
		return
	}

	result, err := s.engine.FinishAuthentication(r.Context(), ceremony.FinishAuthenticationParams{
		ClientID:  req.ClientID,
		SessionID: req.SessionID,
		Response:  req.Response,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if !result.OK {
		writeJSON(w, http.StatusBadRequest, authenticateVerifyResponse{Error: result.Reason})
		return
	}

	code, err := s.authcodes.Issue(r.Context(), result.Subject, client.ID, req.RedirectURI, req.State, "openid", s.config.AuthCodeTTL, true)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	redirectURL, err := buildRedirectURL(req.RedirectURI, code, req.State)
	if err != nil {
		writeDomainError(w, errors.WithField(errors.CodeClientIDInvalid, "redirect uri is not parsable", "redirect_uri"))
		return
	}

	writeJSON(w, http.StatusOK, authenticateVerifyResponse{Success: true, RedirectURL: redirectURL})
}

// authenticateClient checks the shared secret in constant time. Unknown
// client and wrong secret are indistinguishable to the caller.
func (s *Server) authenticateClient(r *http.Request, clientID int64, secret string) error {
	if clientID <= 0 {
		return errors.WithField(errors.CodeClientIDInvalid, "client id must be positive", "client_id")
	}
	client, err := s.clients.GetClient(r.Context(), clientID)
	if err != nil {
		if err == storage.ErrNotFound {
			return errors.New(errors.CodeClientAuthFailed, "client authentication failed")
		}
		return err
	}
	if !secretsEqual(client.Secret, secret) {
		return errors.New(errors.CodeClientAuthFailed, "client authentication failed")
	}
	return nil
}

// secretsEqual hashes both sides first so comparison time is independent of
// both secret length and matching prefix length.
func secretsEqual(stored, presented string) bool {
	storedSum := sha256.Sum256([]byte(stored))
	presentedSum := sha256.Sum256([]byte(presented))
	return subtle.ConstantTimeCompare(storedSum[:], presentedSum[:]) == 1
}

func allowedRedirect(client storage.Client, redirectURI string) bool {
	for _, allowed := range client.RedirectURIs {
		if allowed == redirectURI {
			return true
		}
	}
	return false
}

func buildRedirectURL(redirectURI string, code string, state string) (string, error) {
	parsed, err := url.Parse(redirectURI)
	if err != nil {
		return "", err
	}
	query := parsed.Query()
	query.Set("code", code)
	if state != "" {
		query.Set("state", state)
	}
	parsed.RawQuery = query.Encode()
	return parsed.String(), nil
}
