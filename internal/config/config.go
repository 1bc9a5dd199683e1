package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Workflow type identifiers accepted in workflow definitions.
const (
	TypeV2V       = "v2v"
	TypeT2I       = "t2i"
	TypeComposite = "t2i_then_v2v"
)

// Enumeration policies for v2v workflows.
const (
	EnumerationCross       = "cross"
	EnumerationInterleaved = "interleaved"
)

// Engine contains connection and polling settings for the remote render engine.
type Engine struct {
	URL                   string `toml:"url"`
	PollIntervalMillis    int    `toml:"poll_interval_ms"`
	TimeoutSeconds        int    `toml:"timeout_seconds"`
	RequestTimeoutSeconds int    `toml:"request_timeout_seconds"`
	Concurrency           int    `toml:"concurrency"`
}

// Paths contains input and output directory configuration.
type Paths struct {
	InputBaseDir  string `toml:"input_base_dir"`
	OutputBaseDir string `toml:"output_base_dir"`
	LogDir        string `toml:"log_dir"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Notifications contains configuration for ntfy push notifications.
type Notifications struct {
	NtfyTopic      string `toml:"ntfy_topic"`
	RequestTimeout int    `toml:"request_timeout"`
	BatchStarted   bool   `toml:"batch_started"`
	BatchCompleted bool   `toml:"batch_completed"`
	Errors         bool   `toml:"errors"`
}

// Ledger controls the SQLite run history.
type Ledger struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
}

// Influencer declares a persona for text-to-image workflows.
type Influencer struct {
	Name    string `toml:"name"`
	Keyword string `toml:"keyword"`
	LoRA    string `toml:"lora"`
}

// PoseStyle is a named prompt fragment combined with outfits and keywords.
type PoseStyle struct {
	Name   string `toml:"name"`
	Prompt string `toml:"prompt"`
}

// Workflow declares one runnable workflow. Which fields apply depends on Type.
//
// Inputs maps semantic keys (video, person, background, num_frames,
// frame_window_size, prompt, model, seed, lora) to "node" or "node:input".
type Workflow struct {
	Name         string            `toml:"name"`
	Type         string            `toml:"type"`
	WorkflowFile string            `toml:"workflow_file"`
	Inputs       map[string]string `toml:"inputs"`
	OutputNode   string            `toml:"output_node"`
	OutputKind   string            `toml:"output_kind"`
	Extension    string            `toml:"extension"`

	// v2v
	SrcVideoDir    string   `toml:"src_video_dir"`
	BackgroundDir  string   `toml:"background_dir"`
	UsesBackground *bool    `toml:"uses_background"`
	Influencers    []string `toml:"influencers"`
	Enumeration    string   `toml:"enumeration"`

	// t2i
	Model             string       `toml:"model"`
	PoseStyles        []PoseStyle  `toml:"pose_styles"`
	Outfits           []string     `toml:"outfits"`
	Prompts           []string     `toml:"prompt_set"`
	InfluencerConfigs []Influencer `toml:"influencer_configs"`

	// t2i_then_v2v
	T2IWorkflow string `toml:"t2i_workflow"`
	V2VWorkflow string `toml:"v2v_workflow"`
}

// BackgroundsEnabled reports whether a v2v workflow draws background images.
func (w Workflow) BackgroundsEnabled() bool {
	if w.UsesBackground != nil {
		return *w.UsesBackground
	}
	return strings.TrimSpace(w.BackgroundDir) != ""
}

// Config encapsulates all configuration values for comfybatch.
type Config struct {
	ActiveWorkflow string        `toml:"active_workflow"`
	Seed           uint64        `toml:"seed"`
	Engine         Engine        `toml:"engine"`
	Paths          Paths         `toml:"paths"`
	Logging        Logging       `toml:"logging"`
	Notifications  Notifications `toml:"notifications"`
	Ledger         Ledger        `toml:"ledger"`
	Workflows      []Workflow    `toml:"workflows"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/comfybatch/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		if err := loadDotEnv(filepath.Dir(resolvedPath)); err != nil {
			return nil, "", false, err
		}
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	cfg.applyEnv()

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

// Workflow returns the workflow definition with the given name.
func (c *Config) Workflow(name string) (*Workflow, bool) {
	name = strings.TrimSpace(name)
	for i := range c.Workflows {
		if c.Workflows[i].Name == name {
			return &c.Workflows[i], true
		}
	}
	return nil, false
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("comfybatch.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// loadDotEnv populates unset environment variables from a .env file next to
// the config file. A missing file is not an error.
func loadDotEnv(dir string) error {
	envPath := filepath.Join(dir, ".env")
	if _, err := os.Stat(envPath); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("stat env file: %w", err)
	}
	if err := godotenv.Load(envPath); err != nil {
		return fmt.Errorf("load env file %s: %w", envPath, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	if value, ok := os.LookupEnv("COMFYUI_URL"); ok && strings.TrimSpace(value) != "" {
		c.Engine.URL = value
	}
	if value, ok := os.LookupEnv("COMFYBATCH_NTFY_TOPIC"); ok && strings.TrimSpace(value) != "" {
		c.Notifications.NtfyTopic = value
	}
}

// EnsureDirectories creates the output and log directories.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.OutputBaseDir, c.Paths.LogDir} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// LedgerPath returns the SQLite ledger location.
func (c *Config) LedgerPath() string {
	if strings.TrimSpace(c.Ledger.Path) != "" {
		return c.Ledger.Path
	}
	return filepath.Join(c.Paths.LogDir, "ledger.db")
}

// FFprobeBinary returns the ffprobe executable name used for frame metadata.
func (c *Config) FFprobeBinary() string {
	return "ffprobe"
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
