package auth

import (
	"net/http/httptest"
	"testing"
)

func TestExtractBearerToken(t *testing.T) {
	tests := []struct {
		name    string
		header  string
		want    string
		wantErr bool
	}{
		{name: "valid", header: "Bearer tok-1", want: "tok-1"},
		{name: "missing header", header: "", wantErr: true},
		{name: "wrong scheme", header: "Basic dXNlcjpwYXNz", wantErr: true},
		{name: "empty token", header: "Bearer ", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", "/events", nil)
			if tt.header != "" {
				r.Header.Set("Authorization", tt.header)
			}
			got, err := ExtractBearerToken(r)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("token = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestAuthenticate(t *testing.T) {
	tokens := []TokenConfig{
		{Token: "reader", Scopes: []string{"events:ro"}},
		{Token: "admin", Scopes: []string{"*"}},
		{Token: "linker", Scopes: []string{"users:rw"}},
	}

	p, ok := Authenticate("reader", tokens)
	if !ok {
		t.Fatal("reader token should authenticate")
	}
	if !HasAnyScope(p, "events:ro") {
		t.Error("reader should have events:ro")
	}
	if HasAnyScope(p, "users:rw") {
		t.Error("reader should not have users:rw")
	}

	if _, ok := Authenticate("unknown", tokens); ok {
		t.Error("unknown token must not authenticate")
	}
	if _, ok := Authenticate("", tokens); ok {
		t.Error("empty token must not authenticate")
	}

	p, ok = Authenticate("admin", tokens)
	if !ok || !HasAnyScope(p, "events:ro", "users:rw") {
		t.Error("wildcard scope should satisfy any requirement")
	}
}

func TestWriteImpliesRead(t *testing.T) {
	p, ok := Authenticate("w", []TokenConfig{{Token: "w", Scopes: []string{"users:rw", "events:rw"}}})
	if !ok {
		t.Fatal("token should authenticate")
	}
	for _, scope := range []string{"users:ro", "events:ro"} {
		if !HasAnyScope(p, scope) {
			t.Errorf("write scope should imply %s", scope)
		}
	}
}
