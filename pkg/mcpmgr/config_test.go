package mcpmgr

import (
	"testing"
	"time"
)

func TestParseConfigDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := ParseConfig([]byte(`{
		"files": {"command": "npx", "args": ["-y", "@example/files"]},
		"remote": {"transport": "http", "url": "https://mcp.example.com", "headers": {"Authorization": "Bearer t"}},
		"push": {"transport": "websocket", "url": "wss://mcp.example.com/ws", "reconnectAttempts": 3, "reconnectDelayMs": 250}
	}`))
	if err != nil {
		t.Fatalf("ParseConfig: %v", err)
	}

	files := cfg["files"]
	if files.Kind() != TransportStdio {
		t.Fatalf("missing transport should default to stdio, got %s", files.Kind())
	}
	if !files.IsEnabled() {
		t.Fatalf("missing enabled should default to true")
	}
	if push := cfg["push"]; push.ReconnectDelay() != 250*time.Millisecond {
		t.Fatalf("ReconnectDelay = %v", push.ReconnectDelay())
	}
}

func TestParseConfigRejectsInvalidEntries(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		doc  string
	}{
		{"malformed json", `{"a": {`},
		{"stdio without command", `{"a": {"transport": "stdio"}}`},
		{"stdio with url", `{"a": {"command": "x", "url": "http://h"}}`},
		{"http without url", `{"a": {"transport": "http"}}`},
		{"http with command", `{"a": {"transport": "http", "url": "http://h", "command": "x"}}`},
		{"unknown transport", `{"a": {"transport": "carrier-pigeon", "command": "x"}}`},
		{"empty id", `{"": {"command": "x"}}`},
	}
	for _, tc := range cases {
		if _, err := ParseConfig([]byte(tc.doc)); err == nil {
			t.Errorf("%s: expected error", tc.name)
		}
	}
}

func TestConfigHelpers(t *testing.T) {
	t.Parallel()

	sc := StdioServer("python3", "server.py")
	if err := sc.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if sc.Kind() != TransportStdio || len(sc.Args) != 1 {
		t.Fatalf("StdioServer = %+v", sc)
	}

	off := Disabled(sc)
	if off.IsEnabled() {
		t.Fatalf("Disabled config reports enabled")
	}
	if !sc.IsEnabled() {
		t.Fatalf("Disabled mutated its argument")
	}

	if err := HTTPServer("https://mcp.example.com").Validate(); err != nil {
		t.Fatalf("HTTPServer invalid: %v", err)
	}
	if err := WebSocketServer("wss://mcp.example.com").Validate(); err != nil {
		t.Fatalf("WebSocketServer invalid: %v", err)
	}
}

func TestConfigIDsSorted(t *testing.T) {
	t.Parallel()

	cfg := Config{"zeta": StdioServer("x"), "alpha": StdioServer("y"), "mid": StdioServer("z")}
	ids := cfg.IDs()
	if len(ids) != 3 || ids[0] != "alpha" || ids[1] != "mid" || ids[2] != "zeta" {
		t.Fatalf("IDs() = %v", ids)
	}
}
