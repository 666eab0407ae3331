package config

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Transport selects how the tool server is reached.
//
// "local" launches the configured server binary and talks to it over
// streamable HTTP; "http" expects an externally managed HTTP endpoint;
// "stdio" spawns the binary per session over a process pipe.
const (
	TransportLocal = "local"
	TransportHTTP  = "http"
	TransportStdio = "stdio"
)

// Config holds resolved application settings.
//
// Precedence, lowest to highest: built-in defaults, environment variables,
// explicit values from config.json. Explicit user settings always win.
type Config struct {
	// Transport is the tool-server transport kind: "local", "http", or "stdio".
	Transport string `json:"transport,omitempty"`

	// ServerPath is the executable path of the local tool server binary.
	// Required for stdio transport and for auto-launch.
	ServerPath string `json:"server_path,omitempty"`

	// ServerURL is the streamable-HTTP endpoint of the tool server.
	ServerURL string `json:"server_url,omitempty"`

	// ToolName pins the content-fetch tool explicitly, skipping auto-detection.
	ToolName string `json:"tool_name,omitempty"`

	// APIKey authenticates against the completion endpoint.
	APIKey string `json:"api_key,omitempty"`

	// BaseURL is the completion endpoint API root.
	BaseURL string `json:"base_url,omitempty"`

	// Model is the primary completion model identifier.
	Model string `json:"model,omitempty"`

	// FallbackModel is used when the primary model yields blank output.
	FallbackModel string `json:"fallback_model,omitempty"`

	// Language controls recipe output: "zh", "en", or "both".
	Language string `json:"language,omitempty"`

	// ImageMaxBytes is the per-image download ceiling.
	ImageMaxBytes int64 `json:"image_max_bytes,omitempty"`

	// ImageMaxEdge is the longest edge an attached image is downscaled to.
	ImageMaxEdge int `json:"image_max_edge,omitempty"`

	// ImageLimit caps how many post images are attached to a generation call.
	ImageLimit int `json:"image_limit,omitempty"`

	// ToolTimeoutSeconds bounds a single content-fetch tool call.
	ToolTimeoutSeconds int `json:"tool_timeout_seconds,omitempty"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *Config {
	return &Config{
		Transport:          TransportLocal,
		ServerURL:          "http://127.0.0.1:18060/mcp",
		BaseURL:            "https://api.openai.com/v1",
		Model:              "gpt-5-mini",
		FallbackModel:      "gpt-4o",
		Language:           "both",
		ImageMaxBytes:      4 << 20,
		ImageMaxEdge:       1280,
		ImageLimit:         9,
		ToolTimeoutSeconds: 30,
	}
}

// Load resolves configuration from baseDir/config.json layered over environment
// variables layered over defaults. A missing file is not an error.
func Load(baseDir string) (*Config, error) {
	file, err := loadFileRaw(filepath.Join(baseDir, "config.json"))
	if err != nil {
		return nil, err
	}
	return Merge(Merge(DefaultConfig(), fromEnv()), file), nil
}

// loadFileRaw loads configuration from a specific file path.
// Returns a zero-valued config if the file doesn't exist (not defaults).
func loadFileRaw(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &Config{}, nil
		}
		return nil, err
	}

	cfg := &Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// fromEnv builds a config overlay from environment variables.
func fromEnv() *Config {
	cfg := &Config{
		Transport:     os.Getenv("XHS_RECIPE_TRANSPORT"),
		ServerPath:    os.Getenv("XHS_RECIPE_SERVER_PATH"),
		ServerURL:     os.Getenv("XHS_RECIPE_SERVER_URL"),
		ToolName:      os.Getenv("XHS_RECIPE_TOOL"),
		APIKey:        os.Getenv("OPENAI_API_KEY"),
		BaseURL:       os.Getenv("OPENAI_BASE_URL"),
		Model:         os.Getenv("XHS_RECIPE_MODEL"),
		FallbackModel: os.Getenv("XHS_RECIPE_FALLBACK_MODEL"),
		Language:      os.Getenv("XHS_RECIPE_LANGUAGE"),
	}
	if v := os.Getenv("XHS_RECIPE_IMAGE_MAX_BYTES"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			cfg.ImageMaxBytes = n
		}
	}
	if v := os.Getenv("XHS_RECIPE_TOOL_TIMEOUT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.ToolTimeoutSeconds = n
		}
	}
	return cfg
}

// Merge combines base and overlay configs. Overlay values win when non-zero.
func Merge(base, overlay *Config) *Config {
	result := &Config{}

	result.Transport = pick(base.Transport, overlay.Transport)
	result.ServerPath = pick(base.ServerPath, overlay.ServerPath)
	result.ServerURL = pick(base.ServerURL, overlay.ServerURL)
	result.ToolName = pick(base.ToolName, overlay.ToolName)
	result.APIKey = pick(base.APIKey, overlay.APIKey)
	result.BaseURL = pick(base.BaseURL, overlay.BaseURL)
	result.Model = pick(base.Model, overlay.Model)
	result.FallbackModel = pick(base.FallbackModel, overlay.FallbackModel)
	result.Language = pick(base.Language, overlay.Language)

	result.ImageMaxBytes = overlay.ImageMaxBytes
	if result.ImageMaxBytes == 0 {
		result.ImageMaxBytes = base.ImageMaxBytes
	}
	result.ImageMaxEdge = overlay.ImageMaxEdge
	if result.ImageMaxEdge == 0 {
		result.ImageMaxEdge = base.ImageMaxEdge
	}
	result.ImageLimit = overlay.ImageLimit
	if result.ImageLimit == 0 {
		result.ImageLimit = base.ImageLimit
	}
	result.ToolTimeoutSeconds = overlay.ToolTimeoutSeconds
	if result.ToolTimeoutSeconds == 0 {
		result.ToolTimeoutSeconds = base.ToolTimeoutSeconds
	}

	return result
}

// pick returns overlay if non-empty, else base.
func pick(base, overlay string) string {
	if strings.TrimSpace(overlay) != "" {
		return overlay
	}
	return base
}
