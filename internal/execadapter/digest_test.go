package execadapter

import (
	"strings"
	"testing"
)

func TestParseDigestChallenge(t *testing.T) {
	header := `Digest realm="tidb.cloud", qop="auth", nonce="abc123", opaque="xyz", algorithm=MD5`
	params, err := parseDigestChallenge(header)
	if err != nil {
		t.Fatalf("parseDigestChallenge returned unexpected error: %v", err)
	}
	if params["realm"] != "tidb.cloud" {
		t.Errorf("realm = %q", params["realm"])
	}
	if params["nonce"] != "abc123" {
		t.Errorf("nonce = %q", params["nonce"])
	}
	if params["qop"] != "auth" {
		t.Errorf("qop = %q", params["qop"])
	}
	if params["algorithm"] != "MD5" {
		t.Errorf("algorithm = %q", params["algorithm"])
	}
}

func TestParseDigestChallengeQuotedComma(t *testing.T) {
	header := `Digest realm="a, b", nonce="n1"`
	params, err := parseDigestChallenge(header)
	if err != nil {
		t.Fatalf("parseDigestChallenge returned unexpected error: %v", err)
	}
	if params["realm"] != "a, b" {
		t.Errorf("realm = %q, want \"a, b\"", params["realm"])
	}
}

func TestParseDigestChallengeRejectsBasic(t *testing.T) {
	if _, err := parseDigestChallenge(`Basic realm="x"`); err == nil {
		t.Fatal("parseDigestChallenge should reject a Basic challenge")
	}
}

func TestDigestAuthorization(t *testing.T) {
	challenge := `Digest realm="tidb.cloud", qop="auth", nonce="abc123"`
	authz, err := digestAuthorization(challenge, "GET", "/api/v1beta/projects", "pub", "priv")
	if err != nil {
		t.Fatalf("digestAuthorization returned unexpected error: %v", err)
	}
	for _, want := range []string{
		`Digest username="pub"`,
		`realm="tidb.cloud"`,
		`nonce="abc123"`,
		`uri="/api/v1beta/projects"`,
		`qop=auth`,
		`nc=00000001`,
	} {
		if !strings.Contains(authz, want) {
			t.Errorf("authorization %q missing %q", authz, want)
		}
	}
	if strings.Contains(authz, "priv") {
		t.Error("authorization must not contain the private key")
	}
}

func TestDigestAuthorizationMissingNonce(t *testing.T) {
	if _, err := digestAuthorization(`Digest realm="x"`, "GET", "/", "u", "p"); err == nil {
		t.Fatal("digestAuthorization without nonce should return an error")
	}
}
