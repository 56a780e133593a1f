package errors

import (
	stderrors "errors"
	"net/http"
	"testing"
)

func TestErrorMessageAndUnwrap(t *testing.T) {
	cause := stderrors.New("boom")
	err := Wrap(CodeTokenInvalid, "token is not parsable", cause)

	if err.Error() != "token is not parsable" {
		t.Fatalf("unexpected message %q", err.Error())
	}
	if !stderrors.Is(err, cause) {
		t.Fatal("expected the cause to be reachable via errors.Is")
	}
}

func TestGetCode(t *testing.T) {
	err := New(CodeNotFound, "record not found")
	if got := GetCode(err); got != CodeNotFound {
		t.Fatalf("expected %q, got %q", CodeNotFound, got)
	}
	if got := GetCode(stderrors.New("plain")); got != CodeUnknown {
		t.Fatalf("expected %q for a plain error, got %q", CodeUnknown, got)
	}
	if got := GetCode(nil); got != CodeUnknown {
		t.Fatalf("expected %q for nil, got %q", CodeUnknown, got)
	}
}

func TestField(t *testing.T) {
	err := WithField(CodeSubjectInvalid, "subject must be a UUID", "b2b_subject")
	if got := Field(err); got != "b2b_subject" {
		t.Fatalf("expected field b2b_subject, got %q", got)
	}
	if got := Field(New(CodeNotFound, "record not found")); got != "" {
		t.Fatalf("expected no field, got %q", got)
	}
}

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		code Code
		want int
	}{
		{CodeChallengeKindInvalid, http.StatusBadRequest},
		{CodeSubjectInvalid, http.StatusBadRequest},
		{CodeRelyingPartyNotAllowed, http.StatusBadRequest},
		{CodeClientAuthFailed, http.StatusUnauthorized},
		{CodeNotFound, http.StatusNotFound},
		{CodeAlreadyExists, http.StatusConflict},
		{CodeUnknown, http.StatusInternalServerError},
		{CodeSigningKeyMissing, http.StatusInternalServerError},
	}
	for _, tc := range tests {
		if got := tc.code.HTTPStatus(); got != tc.want {
			t.Fatalf("code %q: expected %d, got %d", tc.code, tc.want, got)
		}
	}
}
