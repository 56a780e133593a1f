// Package errors provides structured error handling for the identity core.
package errors

import "net/http"

// Code is a machine-readable error code.
type Code string

const (
	// CodeUnknown represents an unknown error.
	CodeUnknown Code = "UNKNOWN"

	// Challenge errors
	CodeChallengeKindInvalid   Code = "CHALLENGE_KIND_INVALID"
	CodeChallengeActorInvalid  Code = "CHALLENGE_ACTOR_INVALID"
	CodeChallengeSubjectNeeded Code = "CHALLENGE_SUBJECT_REQUIRED"

	// Ceremony input errors
	CodeSubjectInvalid         Code = "SUBJECT_INVALID"
	CodeRelyingPartyRequired   Code = "RELYING_PARTY_REQUIRED"
	CodeRelyingPartyNotAllowed Code = "RELYING_PARTY_NOT_ALLOWED"

	// Client errors
	CodeClientIDInvalid  Code = "CLIENT_ID_INVALID"
	CodeClientAuthFailed Code = "CLIENT_AUTH_FAILED"

	// Token errors
	CodeTokenInvalid      Code = "TOKEN_INVALID"
	CodeSigningKeyMissing Code = "SIGNING_KEY_MISSING"

	// Storage errors
	CodeNotFound      Code = "NOT_FOUND"
	CodeAlreadyExists Code = "ALREADY_EXISTS"
)

// HTTPStatus maps domain codes to HTTP status codes.
func (c Code) HTTPStatus() int {
	switch c {
	// Bad request - validation failures, malformed input
	case CodeChallengeKindInvalid,
		CodeChallengeActorInvalid,
		CodeChallengeSubjectNeeded,
		CodeSubjectInvalid,
		CodeRelyingPartyRequired,
		CodeRelyingPartyNotAllowed,
		CodeClientIDInvalid,
		CodeTokenInvalid:
		return http.StatusBadRequest

	// Unauthorized - unknown client or bad secret, deliberately vague
	case CodeClientAuthFailed:
		return http.StatusUnauthorized

	// Not found - resource doesn't exist or isn't owned by the caller
	case CodeNotFound:
		return http.StatusNotFound

	// Conflict - unique resource constraint
	case CodeAlreadyExists:
		return http.StatusConflict

	default:
		return http.StatusInternalServerError
	}
}
