package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/docwell-ai/ragcore/internal/logging"
)

// writeConfig writes a YAML config to a temp file and returns its path.
func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ragcore.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func Test_Load_AppliesYAMLValuesAsEnv(t *testing.T) {
	t.Setenv("EMBEDDING_PROVIDER", "")
	os.Unsetenv("EMBEDDING_PROVIDER")
	t.Setenv("RAGCORE_TOP_K", "")
	os.Unsetenv("RAGCORE_TOP_K")

	path := writeConfig(t, `
embedding:
  provider: ollama
retrieval:
  top_k: 7
`)
	loaded, err := Load(path, logging.New())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded != path {
		t.Fatalf("loaded path = %q, want %q", loaded, path)
	}
	if got := os.Getenv("EMBEDDING_PROVIDER"); got != "ollama" {
		t.Fatalf("EMBEDDING_PROVIDER = %q, want ollama", got)
	}
	if got := os.Getenv("RAGCORE_TOP_K"); got != "7" {
		t.Fatalf("RAGCORE_TOP_K = %q, want 7", got)
	}
}

func Test_Load_EnvWinsOverYAML(t *testing.T) {
	t.Setenv("EMBEDDING_MODEL", "from-env")

	path := writeConfig(t, `
embedding:
  model: from-yaml
`)
	if _, err := Load(path, logging.New()); err != nil {
		t.Fatalf("load: %v", err)
	}
	if got := os.Getenv("EMBEDDING_MODEL"); got != "from-env" {
		t.Fatalf("env var overridden by YAML: %q", got)
	}
}

func Test_Load_NoFileIsNotAnError(t *testing.T) {
	t.Setenv("RAGCORE_CONFIG", "")
	os.Unsetenv("RAGCORE_CONFIG")

	loaded, err := Load(filepath.Join(t.TempDir(), "missing.yaml"), logging.New())
	if err != nil {
		t.Fatalf("missing file should not error: %v", err)
	}
	if loaded != "" {
		t.Fatalf("expected empty path, got %q", loaded)
	}
}

func Test_Load_RejectsMalformedYAML(t *testing.T) {
	path := writeConfig(t, "embedding: [not a mapping")
	if _, err := Load(path, logging.New()); err == nil {
		t.Fatal("expected parse error")
	}
}

func Test_Load_BoolAndZeroValuesSkipped(t *testing.T) {
	t.Setenv("RAGCORE_CROSS_SESSION", "")
	os.Unsetenv("RAGCORE_CROSS_SESSION")
	t.Setenv("RAGCORE_BATCH_SIZE", "")
	os.Unsetenv("RAGCORE_BATCH_SIZE")

	path := writeConfig(t, `
retrieval:
  cross_session: false
cache:
  batch_size: 0
`)
	if _, err := Load(path, logging.New()); err != nil {
		t.Fatal(err)
	}
	if _, set := os.LookupEnv("RAGCORE_CROSS_SESSION"); set {
		t.Fatal("false bool should not be exported")
	}
	if _, set := os.LookupEnv("RAGCORE_BATCH_SIZE"); set {
		t.Fatal("zero int should not be exported")
	}
}
