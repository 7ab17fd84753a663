package app

import (
	"reflect"
	"strings"
	"testing"
	"time"
)

func TestLoadConfig_Defaults(t *testing.T) {
	for _, k := range []string{
		"PORT", "SSO_HTTP_ADDR", "SSO_ENV", "SSO_API_BASE", "SSO_FRONTEND_URL",
		"SSO_CORS_ALLOWED_ORIGINS", "SSO_LOG_FORMAT", "SSO_DATABASE_URL",
	} {
		t.Setenv(k, "")
	}

	cfg := LoadConfig()
	if cfg.HTTPAddr != "0.0.0.0:8080" {
		t.Fatalf("HTTPAddr=%q", cfg.HTTPAddr)
	}
	if cfg.Env != EnvDevelopment || cfg.IsProduction() {
		t.Fatalf("Env=%q", cfg.Env)
	}
	if cfg.APIBase != "/api/v1" {
		t.Fatalf("APIBase=%q", cfg.APIBase)
	}
	if !reflect.DeepEqual(cfg.CORSAllowedOrigins, []string{"http://localhost:3000"}) {
		t.Fatalf("CORSAllowedOrigins=%v", cfg.CORSAllowedOrigins)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config must validate: %v", err)
	}
}

func TestLoadConfig_Overrides(t *testing.T) {
	t.Setenv("PORT", "9000")
	t.Setenv("SSO_HTTP_ADDR", "")
	t.Setenv("SSO_ENV", "Production")
	t.Setenv("SSO_API_BASE", "api/v2/")
	t.Setenv("SSO_FRONTEND_URL", "https://app.example.com/")
	t.Setenv("SSO_CORS_ALLOWED_ORIGINS", " https://app.example.com , ,http://127.0.0.1:* ")
	t.Setenv("SSO_HTTP_WRITE_TIMEOUT", "45s")

	cfg := LoadConfig()
	if cfg.HTTPAddr != "0.0.0.0:9000" {
		t.Fatalf("HTTPAddr=%q", cfg.HTTPAddr)
	}
	if !cfg.IsProduction() {
		t.Fatalf("expected production")
	}
	if cfg.APIBase != "/api/v2" {
		t.Fatalf("APIBase=%q", cfg.APIBase)
	}
	if cfg.FrontendURL != "https://app.example.com" {
		t.Fatalf("FrontendURL=%q", cfg.FrontendURL)
	}
	want := []string{"https://app.example.com", "http://127.0.0.1:*"}
	if !reflect.DeepEqual(cfg.CORSAllowedOrigins, want) {
		t.Fatalf("CORSAllowedOrigins=%v want=%v", cfg.CORSAllowedOrigins, want)
	}
	if cfg.WriteTimeout != 45*time.Second {
		t.Fatalf("WriteTimeout=%v", cfg.WriteTimeout)
	}
}

func TestConfigValidate_ReportsEveryProblem(t *testing.T) {
	t.Parallel()

	cfg := Config{
		Env:                  "staging",
		HTTPAddr:             "",
		LogFormat:            "xml",
		FrontendURL:          "localhost",
		CORSAllowedOrigins:   []string{"*", "ftp://x"},
		CORSAllowCredentials: true,
	}
	err := cfg.Validate()
	if err == nil {
		t.Fatalf("expected error")
	}
	for _, want := range []string{"SSO_ENV", "SSO_LOG_FORMAT", "SSO_HTTP_ADDR", "SSO_FRONTEND_URL", `"*"`, "ftp://x"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("missing %q in %q", want, err.Error())
		}
	}
}

func TestEnvCSV(t *testing.T) {
	t.Setenv("SSO_TEST_CSV", " a, ,b ,")
	if got := EnvCSV("SSO_TEST_CSV", nil); !reflect.DeepEqual(got, []string{"a", "b"}) {
		t.Fatalf("EnvCSV=%v", got)
	}

	t.Setenv("SSO_TEST_CSV", " , ")
	if got := EnvCSV("SSO_TEST_CSV", []string{"def"}); !reflect.DeepEqual(got, []string{"def"}) {
		t.Fatalf("EnvCSV blank=%v", got)
	}
}
