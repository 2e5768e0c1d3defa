package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// clearEnv blanks the environment fallbacks so host settings do not leak in.
func clearEnv(t *testing.T) {
	t.Helper()
	t.Setenv("BOT_TOKEN", "")
	t.Setenv("SOURCE_CHAT_ID", "")
	t.Setenv("DESTINATION_CHAT_ID", "")
}

// --- Validate ---

func TestValidate_ValidConfig(t *testing.T) {
	cfg := Defaults()
	if err := Validate(cfg); err != nil {
		t.Fatalf("expected valid config, got: %v", err)
	}
}

func TestValidate_MaxAttempts(t *testing.T) {
	cfg := Defaults()
	cfg.Delivery.MaxAttempts = 0
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for maxAttempts=0")
	}

	cfg.Delivery.MaxAttempts = 1
	if err := Validate(cfg); err != nil {
		t.Fatalf("maxAttempts=1 should be valid: %v", err)
	}

	cfg.Delivery.MaxAttempts = 21
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for maxAttempts=21")
	}
}

func TestValidate_InvalidMode(t *testing.T) {
	cfg := Defaults()
	cfg.Normalize.Mode = "fancy"
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for unknown normalize mode")
	}
}

func TestValidate_ValidModes(t *testing.T) {
	for _, mode := range []string{"generic", "structured"} {
		cfg := Defaults()
		cfg.Normalize.Mode = mode
		if err := Validate(cfg); err != nil {
			t.Fatalf("mode %q should be valid: %v", mode, err)
		}
	}
}

func TestValidate_StoreBackend(t *testing.T) {
	cfg := Defaults()
	cfg.Store.Backend = "redis"
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for unknown backend")
	}

	cfg = Defaults()
	cfg.Store.Backend = "sqlite"
	cfg.Store.DBPath = ""
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for sqlite without dbPath")
	}
}

func TestValidate_SameSourceAndDestination(t *testing.T) {
	cfg := Defaults()
	cfg.Telegram.SourceChatID = -100
	cfg.Telegram.DestinationChatID = -100
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error when source equals destination")
	}
}

func TestValidate_MetricsEndpoint(t *testing.T) {
	cfg := Defaults()
	cfg.Metrics.Enabled = true
	cfg.Metrics.Endpoint = "metrics"
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for endpoint without leading slash")
	}
}

func TestValidate_CollectsAllErrors(t *testing.T) {
	cfg := Defaults()
	cfg.General.LogLevel = "loud"
	cfg.Supervisor.RestartDelaySeconds = 0
	err := Validate(cfg)
	if err == nil {
		t.Fatal("expected errors")
	}
	for _, want := range []string{"general.logLevel", "supervisor.restartDelaySeconds"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error should mention %s: %v", want, err)
		}
	}
}

func TestRequireCredentials(t *testing.T) {
	cfg := Defaults()
	err := RequireCredentials(cfg)
	if err == nil {
		t.Fatal("expected missing settings")
	}
	if !strings.Contains(err.Error(), "BOT_TOKEN") {
		t.Errorf("error should name the env fallback: %v", err)
	}

	cfg.Telegram.Token = "123:abc"
	cfg.Telegram.SourceChatID = -1001
	cfg.Telegram.DestinationChatID = -1002
	if err := RequireCredentials(cfg); err != nil {
		t.Fatalf("complete config rejected: %v", err)
	}
}

// --- Load / Save ---

func TestLoadSave_RoundTrip(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "config.json")

	original := Defaults()
	original.Telegram.Token = "123:abc"
	original.Telegram.SourceChatID = -1001234567890
	original.Delivery.MaxAttempts = 5

	if err := Save(path, original); err != nil {
		t.Fatalf("save: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Errorf("config file mode = %v, want 0600", info.Mode().Perm())
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.Telegram.SourceChatID != -1001234567890 {
		t.Fatalf("source chat = %d", loaded.Telegram.SourceChatID)
	}
	if loaded.Delivery.MaxAttempts != 5 {
		t.Fatalf("maxAttempts = %d", loaded.Delivery.MaxAttempts)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.json")
	if err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoad_InvalidJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.json")
	os.WriteFile(path, []byte("{not json}"), 0o644)

	_, err := Load(path)
	if err == nil {
		t.Fatal("expected error for invalid JSON")
	}
}

func TestLoad_ValidatesConfig(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "config.json")
	content := `{"delivery": {"maxAttempts": 0}}`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := Load(path); err == nil {
		t.Fatal("expected validation error for maxAttempts=0")
	}
}

func TestLoad_PartialFileKeepsDefaults(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "config.json")
	content := `{"normalize": {"mode": "structured"}}`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Normalize.Mode != "structured" {
		t.Errorf("mode = %q", cfg.Normalize.Mode)
	}
	if cfg.Supervisor.MaxRestarts != 5 || cfg.Delivery.RateLimitPaddingSeconds != 5 {
		t.Errorf("defaults lost: %+v %+v", cfg.Supervisor, cfg.Delivery)
	}
}

func TestLoad_EnvFallbacks(t *testing.T) {
	t.Setenv("BOT_TOKEN", "999:env-token")
	t.Setenv("SOURCE_CHAT_ID", "-1001")
	t.Setenv("DESTINATION_CHAT_ID", "-1002")

	path := filepath.Join(t.TempDir(), "config.json")
	content := `{"telegram": {"destinationChatId": "-2002"}}`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Telegram.Token != "999:env-token" {
		t.Errorf("token = %q", cfg.Telegram.Token)
	}
	if cfg.Telegram.SourceChatID != -1001 {
		t.Errorf("source = %d", cfg.Telegram.SourceChatID)
	}
	// File values win over the environment.
	if cfg.Telegram.DestinationChatID != -2002 {
		t.Errorf("destination = %d", cfg.Telegram.DestinationChatID)
	}
}

func TestLoad_InvalidEnvChatID(t *testing.T) {
	clearEnv(t)
	t.Setenv("SOURCE_CHAT_ID", "not-a-number")

	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(`{}`), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for invalid SOURCE_CHAT_ID")
	}
}

func TestLoad_WithEnvVarSubstitution(t *testing.T) {
	clearEnv(t)
	t.Setenv("TEST_RELAY_TOKEN", "123:from-env")

	path := filepath.Join(t.TempDir(), "config.json")
	content := `{"telegram": {"token": "${TEST_RELAY_TOKEN}", "pollTimeout": ${TEST_RELAY_POLL:-25}}}`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Telegram.Token != "123:from-env" {
		t.Fatalf("token = %q", cfg.Telegram.Token)
	}
	if cfg.Telegram.PollTimeout != 25 {
		t.Fatalf("pollTimeout = %d", cfg.Telegram.PollTimeout)
	}
}

// --- FlexInt64 ---

func TestFlexInt64_NumberAndString(t *testing.T) {
	var v struct {
		A FlexInt64 `json:"a"`
		B FlexInt64 `json:"b"`
		C FlexInt64 `json:"c"`
	}
	if err := json.Unmarshal([]byte(`{"a": -1001234567890, "b": "-1009876543210", "c": ""}`), &v); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if v.A != -1001234567890 || v.B != -1009876543210 || v.C != 0 {
		t.Fatalf("got %d %d %d", v.A, v.B, v.C)
	}
}

func TestFlexInt64_Invalid(t *testing.T) {
	var v FlexInt64
	if err := json.Unmarshal([]byte(`"@channel"`), &v); err == nil {
		t.Fatal("expected error for non-numeric string")
	}
	if err := json.Unmarshal([]byte(`true`), &v); err == nil {
		t.Fatal("expected error for bool")
	}
}

// --- Accessor ---

func TestGetByPath_ValidPaths(t *testing.T) {
	cfg := Defaults()

	val, err := GetByPath(cfg, "normalize.mode")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if val != "generic" {
		t.Fatalf("expected 'generic', got %v", val)
	}
}

func TestGetByPath_InvalidPath(t *testing.T) {
	cfg := Defaults()
	if _, err := GetByPath(cfg, "nonexistent.path"); err == nil {
		t.Fatal("expected error for nonexistent path")
	}
}

func TestSetByPath_String(t *testing.T) {
	cfg := Defaults()
	if err := SetByPath(cfg, "store.backend", "sqlite"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if cfg.Store.Backend != "sqlite" {
		t.Fatalf("expected 'sqlite', got %q", cfg.Store.Backend)
	}
}

func TestSetByPath_BoolConversion(t *testing.T) {
	cfg := Defaults()
	if err := SetByPath(cfg, "delivery.notifyOnFailure", "false"); err != nil {
		t.Fatalf("set bool: %v", err)
	}
	if cfg.Delivery.NotifyOnFailure {
		t.Fatal("expected delivery.notifyOnFailure=false")
	}
}

func TestSetByPath_ChatID(t *testing.T) {
	cfg := Defaults()
	if err := SetByPath(cfg, "telegram.destinationChatId", "-1001234567890"); err != nil {
		t.Fatalf("set chat id: %v", err)
	}
	if cfg.Telegram.DestinationChatID != -1001234567890 {
		t.Fatalf("expected -1001234567890, got %d", cfg.Telegram.DestinationChatID)
	}
}

func TestSetByPath_RejectsInvalidResult(t *testing.T) {
	tests := []struct {
		path, value string
	}{
		{"normalize.mode", "foo"},
		{"delivery.maxAttempts", "0"},
		{"delivery.maxAttempts", "three"},
		{"store.backend", "postgres"},
		{"delivery.notifyOnFailure", "maybe"},
		{"telegram.sourceChatId", "@channel"},
	}
	for _, tt := range tests {
		t.Run(tt.path+"="+tt.value, func(t *testing.T) {
			cfg := Defaults()
			if err := SetByPath(cfg, tt.path, tt.value); err == nil {
				t.Fatalf("expected error setting %s=%s", tt.path, tt.value)
			}
			if cfg.Normalize.Mode != "generic" || cfg.Delivery.MaxAttempts != 3 || cfg.Store.Backend != "memory" {
				t.Fatal("config must be unchanged after a rejected set")
			}
		})
	}
}

func TestSetByPath_UnknownKey(t *testing.T) {
	cfg := Defaults()
	for _, path := range []string{"delivery.maxAtempts", "nosuch.key", "delivery", "a.b.c"} {
		if err := SetByPath(cfg, path, "1"); err == nil {
			t.Errorf("expected error for path %q", path)
		}
	}
}

func TestSetByPath_NumericStringStaysString(t *testing.T) {
	cfg := Defaults()
	if err := SetByPath(cfg, "normalize.rulesFile", "123"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if cfg.Normalize.RulesFile != "123" {
		t.Fatalf("expected rulesFile '123', got %q", cfg.Normalize.RulesFile)
	}
}

func TestSetByPath_SourceEqualsDestinationRejected(t *testing.T) {
	cfg := Defaults()
	cfg.Telegram.SourceChatID = -100111
	if err := SetByPath(cfg, "telegram.destinationChatId", "-100111"); err == nil {
		t.Fatal("expected error when destination equals source")
	}
	if cfg.Telegram.DestinationChatID != 0 {
		t.Fatalf("destination should be unchanged, got %d", cfg.Telegram.DestinationChatID)
	}
}

// --- Sanitize ---

func TestSanitize_MasksToken(t *testing.T) {
	cfg := Defaults()
	cfg.Telegram.Token = "123456789:ABCdefGHIjklMNOpqrSTUvwxyz"

	sanitized := Sanitize(cfg)

	if sanitized.Telegram.Token == cfg.Telegram.Token {
		t.Fatal("telegram token should be masked")
	}
	if !strings.HasPrefix(sanitized.Telegram.Token, "1234") {
		t.Fatalf("unexpected mask: %q", sanitized.Telegram.Token)
	}
	if cfg.Telegram.Token != "123456789:ABCdefGHIjklMNOpqrSTUvwxyz" {
		t.Fatal("original config should not be modified")
	}
}

func TestSanitize_ShortSecret(t *testing.T) {
	cfg := Defaults()
	cfg.Telegram.Token = "short"
	if got := Sanitize(cfg).Telegram.Token; got != "***" {
		t.Fatalf("short secret should be '***', got %q", got)
	}
}

// --- ListPaths ---

func TestListPaths_ReturnsAllLeaves(t *testing.T) {
	paths := ListPaths(Defaults())
	for _, expected := range []string{"general.logLevel", "telegram.sourceChatId", "delivery.maxAttempts", "store.backend"} {
		if _, ok := paths[expected]; !ok {
			t.Errorf("missing expected path: %s", expected)
		}
	}
}

// --- ExpandEnvVars ---

func TestExpandEnvVars_SimpleSubstitution(t *testing.T) {
	t.Setenv("TEST_BOT_TOKEN", "123:abc")
	result := ExpandEnvVars(`{"token": "${TEST_BOT_TOKEN}"}`)
	expected := `{"token": "123:abc"}`
	if result != expected {
		t.Fatalf("expected %q, got %q", expected, result)
	}
}

func TestExpandEnvVars_DefaultValue(t *testing.T) {
	os.Unsetenv("NONEXISTENT_VAR_12345")
	result := ExpandEnvVars(`{"mode": "${NONEXISTENT_VAR_12345:-generic}"}`)
	expected := `{"mode": "generic"}`
	if result != expected {
		t.Fatalf("expected %q, got %q", expected, result)
	}
}

func TestExpandEnvVars_SetVarOverridesDefault(t *testing.T) {
	t.Setenv("MY_MODE", "structured")
	result := ExpandEnvVars(`{"mode": "${MY_MODE:-generic}"}`)
	expected := `{"mode": "structured"}`
	if result != expected {
		t.Fatalf("expected %q, got %q", expected, result)
	}
}

func TestExpandEnvVars_UnsetVarNoDefault_KeepsOriginal(t *testing.T) {
	os.Unsetenv("TOTALLY_UNSET_VAR_XYZ")
	result := ExpandEnvVars(`"${TOTALLY_UNSET_VAR_XYZ}"`)
	if result != `"${TOTALLY_UNSET_VAR_XYZ}"` {
		t.Fatalf("expected no change, got %q", result)
	}
}

func TestExpandEnvVars_EmptyVarUsesDefault(t *testing.T) {
	t.Setenv("EMPTY_VAR", "")
	result := ExpandEnvVars(`"${EMPTY_VAR:-fallback}"`)
	if result != `"fallback"` {
		t.Fatalf("expected fallback, got %q", result)
	}
}

func TestExpandEnvVars_DollarSignWithoutBraces(t *testing.T) {
	input := `"$HOME is not substituted"`
	if result := ExpandEnvVars(input); result != input {
		t.Fatalf("expected no change for bare $VAR, got %q", result)
	}
}

// --- Defaults ---

func TestDefaults_ReturnsValidConfig(t *testing.T) {
	cfg := Defaults()
	if err := Validate(cfg); err != nil {
		t.Fatalf("defaults should be valid: %v", err)
	}
	if cfg.Store.Backend != "memory" {
		t.Fatalf("default backend should be memory, got %q", cfg.Store.Backend)
	}
	if cfg.Delivery.MaxAttempts != 3 || cfg.Supervisor.MaxRestarts != 5 || cfg.Supervisor.RestartDelaySeconds != 10 {
		t.Fatalf("unexpected delivery/supervisor defaults: %+v %+v", cfg.Delivery, cfg.Supervisor)
	}
}
