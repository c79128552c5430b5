package config

import (
	"os"
	"testing"
)

func TestLoad_ValidatesStorePath(t *testing.T) {
	defer os.Unsetenv("STORE_PATH")

	invalidPaths := []string{
		"../../../etc/passwd",
		"/data/../../../etc/passwd",
	}

	for _, path := range invalidPaths {
		t.Run(path, func(t *testing.T) {
			os.Setenv("STORE_PATH", path)
			cfg := Load()

			err := cfg.Validate()
			if err == nil {
				t.Errorf("Expected validation error for path traversal: %s", path)
			}
		})
	}
}

func TestLoad_ValidatesEmbeddingsBaseURL(t *testing.T) {
	defer os.Unsetenv("EMBEDDINGS_BASE_URL")

	invalidURLs := []string{
		"javascript:alert(1)",
		"file:///etc/passwd",
		"ftp://malicious.com",
	}

	for _, url := range invalidURLs {
		t.Run(url, func(t *testing.T) {
			os.Setenv("EMBEDDINGS_BASE_URL", url)
			cfg := Load()

			err := cfg.Validate()
			if err == nil {
				t.Errorf("Expected validation error for invalid URL: %s", url)
			}
		})
	}
}

func TestLoad_ValidatesOpsLogPath(t *testing.T) {
	defer os.Unsetenv("OPSLOG_PATH")

	os.Setenv("OPSLOG_PATH", "../../../etc/ops.log")
	cfg := Load()

	if err := cfg.Validate(); err == nil {
		t.Error("Expected validation error for ops log path traversal")
	}
}

func TestLoad_AllowsValidConfig(t *testing.T) {
	defer os.Unsetenv("STORE_PATH")
	defer os.Unsetenv("EMBEDDINGS_BASE_URL")

	os.Setenv("STORE_PATH", "/data/memory.db")
	os.Setenv("EMBEDDINGS_BASE_URL", "http://localhost:8081")

	cfg := Load()
	err := cfg.Validate()
	if err != nil {
		t.Errorf("Valid configuration rejected: %v", err)
	}
}
