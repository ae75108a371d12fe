// Package config loads the orchestrator's section-based TOML
// configuration, grounded on Tutu-Engine's internal/daemon/config.go
// (BurntSushi/toml, toml:"section" struct tags, DefaultConfig() +
// LoadConfig() falling back to defaults when no file is present).
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/BurntSushi/toml"
)

// Config is the root configuration object, decoded from one TOML file
// whose sections mirror spec.md §6's collaborator shapes one-to-one.
type Config struct {
	Server      ServerConfig      `toml:"server"`
	Ollama      OllamaConfig      `toml:"ollama"`
	Gpu         GpuConfig         `toml:"gpu"`
	Docker      DockerConfig      `toml:"docker"`
	MemoryAgent MemoryAgentConfig `toml:"memory_agent"`
	Sandbox     SandboxConfig     `toml:"sandbox"`
	Engine      EngineConfig      `toml:"engine"`
	Logging     LoggingConfig     `toml:"logging"`
	Storage     StorageConfig     `toml:"storage"`
}

// ServerConfig configures the HTTP API surface.
type ServerConfig struct {
	Port        int      `toml:"port"`
	EnableCORS  bool      `toml:"enable_cors"`
	JWTSecret   string    `toml:"jwt_secret"`
	RequireAuth bool      `toml:"require_auth"`
}

// OllamaConfig points at the pinned inference backend.
type OllamaConfig struct {
	BaseURL string `toml:"base_url"`
}

// GpuConfig describes the host's VRAM inventory when the backend itself
// cannot report per-device totals.
type GpuConfig struct {
	TotalVRAMBytes int64 `toml:"total_vram_bytes"`
}

// DockerConfig configures WarmupSupervisor.
type DockerConfig struct {
	Enabled      bool     `toml:"enabled"`
	WarmupImages []string `toml:"warmup_images"`
}

// MemoryAgentConfig points at the external memory service.
type MemoryAgentConfig struct {
	BaseURL string `toml:"base_url"`
	Enabled bool   `toml:"enabled"`
}

// SandboxConfig points at the external sandbox build service.
type SandboxConfig struct {
	BaseURL             string `toml:"base_url"`
	Enabled             bool   `toml:"enabled"`
	FailuresAreTerminal bool   `toml:"failures_are_terminal"`
}

// EngineConfig bounds the iteration loop and ensemble behavior.
// MinScore is on spec.md §3/§8's 0-10 validation scale, not 0-1.
type EngineConfig struct {
	MinScore      float64 `toml:"min_score"`
	MaxIterations int     `toml:"max_iterations"`
	MaxParallel   int     `toml:"max_parallel"`
	EnsembleSize  int     `toml:"ensemble_size"`
	PrimaryModel  string  `toml:"primary_model"`
	Strategy      string  `toml:"strategy"`
	Category      string  `toml:"category"`
	Verbose       bool    `toml:"verbose"`
}

// LoggingConfig configures the global zerolog logger.
type LoggingConfig struct {
	Level  string `toml:"level"`
	Pretty bool   `toml:"pretty"`
}

// StorageConfig points at the optional, non-authoritative Postgres audit
// mirror (spec.md §6: "the core keeps no durable state of its own").
type StorageConfig struct {
	Enabled bool   `toml:"enabled"`
	DSN     string `toml:"dsn"`
}

// DefaultConfig returns every knob at a sensible out-of-the-box value,
// the way Tutu-Engine's DefaultConfig does.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{Port: 8080, EnableCORS: true},
		Ollama: OllamaConfig{BaseURL: "http://localhost:11434"},
		Gpu:    GpuConfig{TotalVRAMBytes: 0},
		Docker: DockerConfig{Enabled: false},
		MemoryAgent: MemoryAgentConfig{
			BaseURL: "http://localhost:8765",
			Enabled: false,
		},
		Sandbox: SandboxConfig{Enabled: false, FailuresAreTerminal: false},
		Engine: EngineConfig{
			MinScore:      8.0,
			MaxIterations: 5,
			MaxParallel:   runtime.NumCPU(),
			EnsembleSize:  3,
			Strategy:      "single",
			Category:      "code",
		},
		Logging: LoggingConfig{Level: "info"},
		Storage: StorageConfig{Enabled: false},
	}
}

// orchestratorHome resolves ORCHESTRATOR_HOME or falls back to
// ~/.codegen-orchestrator, the same resolution order as Tutu-Engine's
// tutuHome().
func orchestratorHome() string {
	if v := os.Getenv("ORCHESTRATOR_HOME"); v != "" {
		return v
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".codegen-orchestrator"
	}
	return filepath.Join(home, ".codegen-orchestrator")
}

// Load reads config.toml from path (or, if path is empty, from
// $ORCHESTRATOR_HOME/config.toml), falling back to DefaultConfig when no
// file exists, and applies environment overrides for secrets that should
// never live in a checked-in config file.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path == "" {
		path = filepath.Join(orchestratorHome(), "config.toml")
	}

	if _, err := os.Stat(path); err == nil {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, fmt.Errorf("decode config %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("OLLAMA_BASE_URL"); v != "" {
		cfg.Ollama.BaseURL = v
	}
	if v := os.Getenv("MEMORY_AGENT_BASE_URL"); v != "" {
		cfg.MemoryAgent.BaseURL = v
	}
	if v := os.Getenv("STORAGE_DSN"); v != "" {
		cfg.Storage.DSN = v
	}
	if v := os.Getenv("JWT_SECRET"); v != "" {
		cfg.Server.JWTSecret = v
	}
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		// Read directly by internal/backend.OpenAIDelegate at construction
		// time; no Config field needed, kept out of config.toml on purpose.
		_ = v
	}
}

// Save writes cfg to path as TOML, the way Tutu-Engine's SaveConfig does,
// for an operator bootstrapping a new config.toml from defaults.
func Save(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create config file: %w", err)
	}
	defer f.Close()
	return toml.NewEncoder(f).Encode(cfg)
}
