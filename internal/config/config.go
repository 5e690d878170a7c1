package config

import (
	"fmt"
	"log"
	"net"
	"os"
	"path/filepath"
	"runtime"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config holds all environment-based configuration for media-stage.
type Config struct {
	// Host backend the commit pipeline uploads to and submits against.
	// Optional: without it the tool still stages, reorders and drafts
	// locally; only commit needs the backend.
	APIBaseURL string `env:"MEDIA_API_URL"`
	APIToken   string `env:"MEDIA_API_TOKEN"`

	// Path of the single-file upload endpoint, relative to APIBaseURL.
	UploadPath string `env:"MEDIA_UPLOAD_PATH" envDefault:"/api/media/upload"`

	// Directory holding the stage.yaml manifest and staged image files.
	StageDir string `env:"MEDIA_STAGE_DIR" envDefault:"."`

	// Preview server. Loopback only; the address is validated against
	// non-loopback binds since the endpoint carries no authentication.
	EnablePreview bool   `env:"ENABLE_PREVIEW" envDefault:"true"`
	PreviewAddr   string `env:"PREVIEW_LISTEN_ADDR" envDefault:"127.0.0.1:8790"`

	// MCP tool server settings.
	EnableMCP     bool   `env:"ENABLE_MCP" envDefault:"false"`
	MCPListenAddr string `env:"MCP_LISTEN_ADDR" envDefault:"127.0.0.1:8791"`

	// Environment controls log format; LogLevel the minimum level.
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`
}

// warnInsecureEnvFile checks whether the .env file (if present) has
// overly permissive permissions. On Unix systems, group or world
// readable files risk exposing the API token to other users.
func warnInsecureEnvFile() {
	if runtime.GOOS == "windows" {
		return
	}

	info, err := os.Stat(".env")
	if err != nil {
		return // file does not exist, nothing to check
	}

	mode := info.Mode().Perm()
	if mode&0o077 != 0 {
		log.Printf("WARNING: .env file has insecure permissions %04o; recommended 0600", mode)
	}
}

// Load reads configuration from environment variables. It first
// attempts to load a .env file if present, then parses env vars.
func Load() (*Config, error) {
	_ = godotenv.Load()

	warnInsecureEnvFile()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	// Resolve StageDir to an absolute path at startup: the watcher and
	// the draft store key staged files by absolute path.
	absDir, err := filepath.Abs(cfg.StageDir)
	if err != nil {
		return nil, fmt.Errorf("resolving stage dir to absolute path: %w", err)
	}

	cfg.StageDir = absDir

	return cfg, nil
}

func (c *Config) validate() error {
	if c.EnablePreview && !isLoopbackAddr(c.PreviewAddr) {
		return fmt.Errorf("PREVIEW_LISTEN_ADDR must bind a loopback address, got %q", c.PreviewAddr)
	}

	return nil
}

// isLoopbackAddr reports whether addr binds localhost. The preview
// server serves the unauthenticated display projection, so anything
// else is refused at config time.
func isLoopbackAddr(addr string) bool {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return false
	}

	return host == "127.0.0.1" || host == "::1" || host == "localhost"
}

// IsProduction returns true when the environment is set to production.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}
