package auth

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return LoadStore(filepath.Join(t.TempDir(), "tokens.json"))
}

func TestLoadStoreMissingFile(t *testing.T) {
	s := LoadStore(filepath.Join(t.TempDir(), "nope.json"))
	if s.Len() != 0 {
		t.Fatalf("expected empty store for missing file")
	}
}

func TestLoadStoreUnparseableFile(t *testing.T) {
	p := filepath.Join(t.TempDir(), "tokens.json")
	if err := os.WriteFile(p, []byte("{broken"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	s := LoadStore(p)
	if s.Len() != 0 {
		t.Fatalf("expected empty store for unparseable file")
	}
}

func TestCreateSaveLoadRoundTrip(t *testing.T) {
	p := filepath.Join(t.TempDir(), "tokens.json")
	s := LoadStore(p)
	tok, err := s.Create("ci bot", []string{"baseball"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if len(tok) != 64 {
		t.Fatalf("expected 64 hex chars, got %d", len(tok))
	}

	reloaded := LoadStore(p)
	rec, ok := reloaded.Get(tok)
	if !ok {
		t.Fatalf("token lost on reload")
	}
	if rec.Note != "ci bot" || len(rec.Models) != 1 || rec.Models[0] != "baseball" {
		t.Fatalf("record mangled on reload: %+v", rec)
	}
	if rec.CreatedAt.IsZero() {
		t.Fatalf("created_at not persisted")
	}
}

func TestRevokeRestoresPriorState(t *testing.T) {
	p := filepath.Join(t.TempDir(), "tokens.json")
	s := LoadStore(p)
	if _, err := s.Create("keep", []string{"a"}); err != nil {
		t.Fatalf("create: %v", err)
	}
	before := s.Len()

	tok, err := s.Create("temp", []string{"b"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	ok, err := s.Revoke(tok)
	if err != nil || !ok {
		t.Fatalf("revoke: ok=%v err=%v", ok, err)
	}
	if s.Len() != before {
		t.Fatalf("expected %d tokens after revoke, got %d", before, s.Len())
	}
	if ok, _ := s.Revoke(tok); ok {
		t.Fatalf("double revoke should report missing token")
	}
}

func bearerReq(token string) *http.Request {
	r := httptest.NewRequest(http.MethodGet, "/api/tags", nil)
	if token != "" {
		r.Header.Set("Authorization", "Bearer "+token)
	}
	return r
}

func TestExtractTokenSchemeCaseInsensitive(t *testing.T) {
	for _, scheme := range []string{"Bearer", "bearer", "BEARER"} {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.Header.Set("Authorization", scheme+" abc123")
		if got := ExtractToken(r); got != "abc123" {
			t.Fatalf("scheme %s: got %q", scheme, got)
		}
	}
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("Authorization", "Basic abc123")
	if got := ExtractToken(r); got != "" {
		t.Fatalf("non-bearer scheme should yield empty token, got %q", got)
	}
}

func TestAuthenticateRules(t *testing.T) {
	s := newTestStore(t)
	tok, err := s.Create("t", []string{"baseball"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	lax := NewFilter(s, false)
	strict := NewFilter(s, true)

	// Absent token.
	if d := lax.Authenticate(bearerReq("")); d.Reject != nil || d.Allowed != nil {
		t.Fatalf("lax absent: %+v", d)
	}
	if d := strict.Authenticate(bearerReq("")); d.Reject == nil || d.Reject.Status != http.StatusUnauthorized || d.Reject.Message != "Authorization required" {
		t.Fatalf("strict absent: %+v", d)
	}

	// Unknown token.
	if d := lax.Authenticate(bearerReq("ffff")); d.Reject != nil || d.Allowed != nil {
		t.Fatalf("lax unknown: %+v", d)
	}
	if d := strict.Authenticate(bearerReq("ffff")); d.Reject == nil || d.Reject.Message != "Invalid token" {
		t.Fatalf("strict unknown: %+v", d)
	}

	// Valid token.
	d := strict.Authenticate(bearerReq(tok))
	if d.Reject != nil || len(d.Allowed) != 1 || d.Allowed[0] != "baseball" {
		t.Fatalf("strict valid: %+v", d)
	}
	if !d.Permits("baseball") || d.Permits("assistant") {
		t.Fatalf("permits misbehaves: %+v", d)
	}
}

func TestGateAllows(t *testing.T) {
	s := newTestStore(t)
	tok, err := s.Create("t", []string{"baseball"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	configured := []string{"baseball", "assistant"}

	lax := NewFilter(s, false)
	if rej := lax.GateAllows(bearerReq(""), configured); rej != nil {
		t.Fatalf("lax gate should be open: %+v", rej)
	}

	strict := NewFilter(s, true)
	if rej := strict.GateAllows(bearerReq(tok), configured); rej != nil {
		t.Fatalf("valid overlapping token rejected: %+v", rej)
	}
	if rej := strict.GateAllows(bearerReq(""), configured); rej == nil || rej.Status != http.StatusForbidden || rej.Message != "Forbidden: valid bearer token required" {
		t.Fatalf("missing token: %+v", rej)
	}
	if rej := strict.GateAllows(bearerReq("ffff"), configured); rej == nil || rej.Status != http.StatusForbidden {
		t.Fatalf("invalid token: %+v", rej)
	}
	if rej := strict.GateAllows(bearerReq(tok), []string{"other"}); rej == nil || rej.Message != "Forbidden: token does not grant access to any available model" {
		t.Fatalf("non-overlapping token: %+v", rej)
	}

	// Preflight is exempt even without a token.
	opt := httptest.NewRequest(http.MethodOptions, "/api/chat", nil)
	if rej := strict.GateAllows(opt, configured); rej != nil {
		t.Fatalf("preflight should bypass the gate: %+v", rej)
	}
}
