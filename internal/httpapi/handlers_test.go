package httpapi

import "testing"

func TestSecretsEqual(t *testing.T) {
	if !secretsEqual("s3cret", "s3cret") {
		t.Fatal("expected matching secrets to compare equal")
	}
	if secretsEqual("s3cret", "s3cret ") {
		t.Fatal("expected differing secrets to compare unequal")
	}
	if secretsEqual("s3cret", "") {
		t.Fatal("expected an empty secret to compare unequal")
	}
}

func TestBuildRedirectURL(t *testing.T) {
	got, err := buildRedirectURL("https://app.example.com/callback?keep=1", "the-code", "xyz")
	if err != nil {
		t.Fatalf("build redirect url: %v", err)
	}
	want := "https://app.example.com/callback?code=the-code&keep=1&state=xyz"
	if got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}

	got, err = buildRedirectURL("https://app.example.com/callback", "the-code", "")
	if err != nil {
		t.Fatalf("build redirect url without state: %v", err)
	}
	want = "https://app.example.com/callback?code=the-code"
	if got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
}
