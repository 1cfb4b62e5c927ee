package script

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestRunCommand(t *testing.T) {
	r := NewRunner(WithLua(false))
	defer r.Close()

	err := r.Run(context.Background(), Action{Command: "true"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	err = r.Run(context.Background(), Action{Command: "false"})
	if err == nil {
		t.Error("failing command should return an error")
	}
}

func TestRunCommandEnv(t *testing.T) {
	r := NewRunner(WithLua(false))
	defer r.Close()

	action := Action{
		Command: `test "$KEYDECK_PAGE" = "3" -a "$KEYDECK_KEY_ROW" = "2"`,
		Env: map[string]string{
			"page":    "3",
			"key_row": "2",
		},
	}
	if err := r.Run(context.Background(), action); err != nil {
		t.Errorf("env vars not exported: %v", err)
	}
}

func TestRunCommandTimeout(t *testing.T) {
	tests := []struct {
		name    string
		command string
	}{
		{"direct", "sleep 5"},
		{"forked child", "sleep 5 & wait"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRunner(WithLua(false), WithTimeout(50*time.Millisecond))
			defer r.Close()

			start := time.Now()
			err := r.Run(context.Background(), Action{Command: tt.command})
			if err == nil {
				t.Error("timed-out command should return an error")
			}
			if time.Since(start) > 2*time.Second {
				t.Error("timeout was not enforced")
			}
		})
	}
}

func TestRunDetached(t *testing.T) {
	r := NewRunner(WithLua(false))
	defer r.Close()

	start := time.Now()
	if err := r.Run(context.Background(), Action{Command: "sleep 2", Detached: true}); err != nil {
		t.Fatalf("Run detached: %v", err)
	}
	if time.Since(start) > time.Second {
		t.Error("detached command should not be waited on")
	}
}

func TestRunNoAction(t *testing.T) {
	r := NewRunner(WithLua(false))
	defer r.Close()

	if err := r.Run(context.Background(), Action{}); !errors.Is(err, ErrNoAction) {
		t.Errorf("Run(empty) = %v, want ErrNoAction", err)
	}
}

func TestRunLua(t *testing.T) {
	r := NewRunner(WithLua(true))
	defer r.Close()

	path := filepath.Join(t.TempDir(), "action.lua")
	script := `
if deck.page ~= "3" then
	error("expected page 3, got " .. tostring(deck.page))
end
local s = string.upper(deck.key_name)
if s ~= "LOBBY" then
	error("string lib broken")
end
`
	if err := os.WriteFile(path, []byte(script), 0o644); err != nil {
		t.Fatal(err)
	}

	action := Action{
		LuaPath: path,
		Env:     map[string]string{"page": "3", "key_name": "lobby"},
	}
	if err := r.Run(context.Background(), action); err != nil {
		t.Fatalf("Run lua: %v", err)
	}
}

func TestRunLuaError(t *testing.T) {
	r := NewRunner(WithLua(true))
	defer r.Close()

	path := filepath.Join(t.TempDir(), "bad.lua")
	if err := os.WriteFile(path, []byte("this is not lua"), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := r.Run(context.Background(), Action{LuaPath: path}); err == nil {
		t.Error("invalid lua should return an error")
	}
}

func TestRunLuaDisabled(t *testing.T) {
	r := NewRunner(WithLua(false))
	defer r.Close()

	err := r.Run(context.Background(), Action{LuaPath: "/nope.lua"})
	if !errors.Is(err, ErrLuaDisabled) {
		t.Errorf("Run = %v, want ErrLuaDisabled", err)
	}
}

func TestRunLuaSandbox(t *testing.T) {
	r := NewRunner(WithLua(true))
	defer r.Close()

	path := filepath.Join(t.TempDir(), "sandbox.lua")
	// os and io must not be available to event scripts.
	if err := os.WriteFile(path, []byte(`if os ~= nil or io ~= nil then error("sandbox leak") end`), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := r.Run(context.Background(), Action{LuaPath: path}); err != nil {
		t.Errorf("sandbox check failed: %v", err)
	}
}

func TestExportEnvDeterministic(t *testing.T) {
	vars := map[string]string{"b": "2", "a": "1", "c": "3"}
	first := exportEnv(vars)
	for i := 0; i < 10; i++ {
		again := exportEnv(vars)
		for j := range first {
			if first[j] != again[j] {
				t.Fatalf("exportEnv is not deterministic: %v vs %v", first, again)
			}
		}
	}
	if first[0] != "KEYDECK_A=1" {
		t.Errorf("first entry = %q, want KEYDECK_A=1", first[0])
	}
}
