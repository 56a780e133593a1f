package httpapi

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/tessera-id/tessera/internal/storage"
	"github.com/tessera-id/tessera/internal/token"
)

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	IDToken     string `json:"id_token,omitempty"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
	Scope       string `json:"scope,omitempty"`
}

// handleToken redeems an authorization code for tokens. Form-encoded per the
// authorization_code grant convention.
func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONError(w, http.StatusMethodNotAllowed, "invalid_request", "method not allowed")
		return
	}
	if err := r.ParseForm(); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid_request", "invalid form data")
		return
	}

	grantType := r.FormValue("grant_type")
	code := r.FormValue("code")
	redirectURI := r.FormValue("redirect_uri")
	clientSecret := r.FormValue("client_secret")

	if grantType != "authorization_code" {
		writeJSONError(w, http.StatusBadRequest, "unsupported_grant_type", "only authorization_code is supported")
		return
	}
	clientID, err := strconv.ParseInt(r.FormValue("client_id"), 10, 64)
	if err != nil || clientID <= 0 {
		writeJSONError(w, http.StatusUnauthorized, "invalid_client", "invalid client authentication")
		return
	}
	if code == "" || redirectURI == "" {
		writeJSONError(w, http.StatusBadRequest, "invalid_request", "missing required fields")
		return
	}

	client, err := s.clients.GetClient(r.Context(), clientID)
	if err != nil {
		if err == storage.ErrNotFound {
			writeJSONError(w, http.StatusUnauthorized, "invalid_client", "invalid client authentication")
			return
		}
		writeDomainError(w, err)
		return
	}
	if !secretsEqual(client.Secret, clientSecret) {
		writeJSONError(w, http.StatusUnauthorized, "invalid_client", "invalid client authentication")
		return
	}

	authCode, ok, err := s.authcodes.Consume(r.Context(), code)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if !ok {
		writeJSONError(w, http.StatusBadRequest, "invalid_grant", "invalid authorization code")
		return
	}
	if authCode.ClientID != clientID {
		writeJSONError(w, http.StatusBadRequest, "invalid_grant", "client_id mismatch")
		return
	}
	if authCode.RedirectURI != redirectURI {
		writeJSONError(w, http.StatusBadRequest, "invalid_grant", "redirect_uri mismatch")
		return
	}

	subjectKind := storage.ActorKindB2C
	if authCode.IsB2B {
		subjectKind = storage.ActorKindB2B
	}
	scopes := strings.Fields(authCode.Scope)

	accessToken, err := s.tokens.IssueAccessToken(r.Context(), authCode.Subject, subjectKind, client, scopes)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	response := tokenResponse{
		AccessToken: accessToken,
		TokenType:   "Bearer",
		ExpiresIn:   int64(token.TTL.Seconds()),
		Scope:       authCode.Scope,
	}
	if containsScope(scopes, "openid") {
		idToken, err := s.tokens.IssueIDToken(r.Context(), authCode.Subject, client, scopes, "")
		if err != nil {
			writeDomainError(w, err)
			return
		}
		response.IDToken = idToken
	}

	writeJSON(w, http.StatusOK, response)
}

// handleRevoke revokes an access token on behalf of its client.
func (s *Server) handleRevoke(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONError(w, http.StatusMethodNotAllowed, "invalid_request", "method not allowed")
		return
	}
	if err := r.ParseForm(); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid_request", "invalid form data")
		return
	}

	clientID, err := strconv.ParseInt(r.FormValue("client_id"), 10, 64)
	if err != nil {
		writeJSONError(w, http.StatusUnauthorized, "invalid_client", "invalid client authentication")
		return
	}
	if err := s.authenticateClient(r, clientID, r.FormValue("client_secret")); err != nil {
		writeDomainError(w, err)
		return
	}

	revoked, err := s.tokens.RevokeAccessToken(r.Context(), r.FormValue("token"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"revoked": revoked})
}

func containsScope(scopes []string, want string) bool {
	for _, scope := range scopes {
		if scope == want {
			return true
		}
	}
	return false
}
