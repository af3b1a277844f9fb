package config_test

import (
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"github.com/MrWong99/tasmi/internal/config"
)

func TestLoadFromReader_ExpandsEnv(t *testing.T) {
	t.Setenv("TASMI_TEST_WHISPER_URL", "http://whisper:9000")
	cfg, err := config.LoadFromReader(strings.NewReader(`
providers:
  stt:
    name: whisper
    base_url: ${TASMI_TEST_WHISPER_URL}
words:
  seed_sample: true
`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := cfg.Providers.STT.BaseURL; got != "http://whisper:9000" {
		t.Errorf("base_url = %q", got)
	}
}

func TestLoadFromReader_EnvFallbacks(t *testing.T) {
	t.Setenv(config.EnvOpenAIKey, "sk-env")
	t.Setenv(config.EnvDeepgramKey, "dg-env")
	t.Setenv(config.EnvDatabaseURL, "postgres://env/db")
	cfg, err := config.LoadFromReader(strings.NewReader(`
providers:
  stt:
    name: openai
    fallbacks:
      - name: openai
        api_key: sk-explicit
      - name: deepgram
words:
  backend: postgres
`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Providers.STT.APIKey != "sk-env" {
		t.Errorf("api_key = %q, want sk-env", cfg.Providers.STT.APIKey)
	}
	if cfg.Providers.STT.Fallbacks[0].APIKey != "sk-explicit" {
		t.Errorf("explicit fallback key overridden: %q", cfg.Providers.STT.Fallbacks[0].APIKey)
	}
	if cfg.Providers.STT.Fallbacks[1].APIKey != "dg-env" {
		t.Errorf("deepgram fallback key = %q, want dg-env", cfg.Providers.STT.Fallbacks[1].APIKey)
	}
	if cfg.Words.DSN != "postgres://env/db" {
		t.Errorf("dsn = %q", cfg.Words.DSN)
	}
}

func TestLoad_DotEnvNextToConfig(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("TASMI_TEST_DOTENV_MODEL", "")
	os.Unsetenv("TASMI_TEST_DOTENV_MODEL")

	writeFile(t, filepath.Join(dir, ".env"), "TASMI_TEST_DOTENV_MODEL=whisper-large\n")
	cfgPath := filepath.Join(dir, "tasmi.yaml")
	writeFile(t, cfgPath, `
providers:
  stt:
    name: whisper
    model: ${TASMI_TEST_DOTENV_MODEL}
words:
  seed_sample: true
`)

	cfg, err := config.Load(cfgPath)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Providers.STT.Model != "whisper-large" {
		t.Errorf("model = %q, want value from .env", cfg.Providers.STT.Model)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := config.Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoadDotEnv_MissingIsSkipped(t *testing.T) {
	if err := config.LoadDotEnv(filepath.Join(t.TempDir(), "nope.env")); err != nil {
		t.Errorf("missing .env should be skipped, got %v", err)
	}
}

func TestValidProviderNames(t *testing.T) {
	t.Parallel()
	for _, name := range []string{"openai", "deepgram", "whisper", "whisper-native"} {
		if !slices.Contains(config.ValidProviderNames["stt"], name) {
			t.Errorf("stt provider %q not listed", name)
		}
	}
	if !slices.Contains(config.ValidProviderNames["vad"], "energy") {
		t.Error("vad engine energy not listed")
	}
}
