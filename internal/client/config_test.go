package client

import "testing"

func TestValidateLoginRequiresUserAndPassword(t *testing.T) {
	cfg := &Config{Identifier: "alice", Password: "pw"}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("valid login config rejected: %v", err)
	}
	cfg = &Config{Identifier: "alice"}
	if err := cfg.Validate(); err == nil {
		t.Fatal("missing password accepted")
	}
	cfg = &Config{Password: "pw"}
	if err := cfg.Validate(); err == nil {
		t.Fatal("missing identifier accepted")
	}
}

func TestValidateRegistrationNeedsAllFields(t *testing.T) {
	cfg := &Config{Register: true, Nickname: "alice", Email: "a@example.com", Password: "pw"}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("valid registration config rejected: %v", err)
	}
	cfg = &Config{Register: true, Nickname: "alice", Password: "pw"}
	if err := cfg.Validate(); err == nil {
		t.Fatal("registration without email accepted")
	}
}

func TestWebSocketURLSchemeMapping(t *testing.T) {
	cases := []struct {
		server string
		want   string
	}{
		{"http://127.0.0.1:8080", "ws://127.0.0.1:8080/ws"},
		{"https://forum.example.com", "wss://forum.example.com/ws"},
		{"http://forum.example.com/api/", "ws://forum.example.com/api/ws"},
	}
	for _, tc := range cases {
		cfg := &Config{ServerURL: tc.server}
		if got := cfg.WebSocketURL(); got != tc.want {
			t.Errorf("WebSocketURL(%q) = %q, want %q", tc.server, got, tc.want)
		}
	}
}

func TestSanitizePathToken(t *testing.T) {
	if got := sanitizePathToken("alice@example.com"); got != "alice-example-com" {
		t.Errorf("email not sanitized, got %q", got)
	}
	if got := sanitizePathToken("  "); got != "client" {
		t.Errorf("blank input should fall back, got %q", got)
	}
	if got := sanitizePathToken("bob_99"); got != "bob_99" {
		t.Errorf("safe token altered, got %q", got)
	}
}
