package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config holds application configuration.
type Config struct {
	Tool      ToolConfig
	Scheduler SchedulerConfig
	Recent    RecentConfig
	Output    OutputConfig
	Producer  ProducerConfig
	Log       LogConfig
}

// ToolConfig locates the external conversion tool.
type ToolConfig struct {
	Dir        string
	Executable string
}

// SchedulerConfig sizes the background pool.
type SchedulerConfig struct {
	Workers int
}

// RecentConfig holds the recent-items store settings.
type RecentConfig struct {
	DBPath string `mapstructure:"db_path"`
	Limit  int
}

// OutputConfig holds where default destinations go for unsaved documents.
type OutputConfig struct {
	FallbackDir string `mapstructure:"fallback_dir"`
}

// ProducerConfig is the command that makes the intermediate artifact.
type ProducerConfig struct {
	Command string
	Args    []string
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level string
	Path  string
}

// flagKeys maps command-line flags to configuration keys.
var flagKeys = map[string]string{
	"tool-dir":        "tool.dir",
	"tool-executable": "tool.executable",
	"workers":         "scheduler.workers",
	"log-level":       "log.level",
	"log-path":        "log.path",
}

// RegisterFlags adds the flags that override configuration keys. Unset flags
// leave the file, env and default values in place.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.String("tool-dir", "", "directory holding the conversion tool")
	fs.String("tool-executable", "", "conversion tool executable name")
	fs.Int("workers", 0, "background worker count")
	fs.String("log-level", "", "log level (debug|info|warn|error)")
	fs.String("log-path", "", "log file path")
}

func home() string { return os.Getenv("HOME") }

// Path is the configuration file location.
func Path() string {
	if p := os.Getenv("DOCCONVERT_CONFIG"); p != "" {
		return p
	}
	return filepath.Join(home(), ".config", "docconvert", "config.toml")
}

// Load reads configuration from defaults, file, env and flags, in increasing
// priority. Env var overrides use prefix DOCCONVERT_. flags may be nil.
func Load(flags *pflag.FlagSet) (Config, error) {
	v := viper.New()

	// default values
	v.SetDefault("tool.dir", "")
	v.SetDefault("tool.executable", "kindlegen")
	v.SetDefault("scheduler.workers", 4)
	v.SetDefault("recent.db_path", filepath.Join(home(), ".local", "share", "docconvert", "recent.db"))
	v.SetDefault("recent.limit", 20)
	v.SetDefault("output.fallback_dir", home())
	v.SetDefault("producer.command", "asciidoctor-epub3")
	v.SetDefault("producer.args", []string{"-o", "{output}", "{input}"})
	v.SetDefault("log.level", "info")
	v.SetDefault("log.path", filepath.Join(home(), ".local", "state", "docconvert", "docconvert.log"))

	v.SetConfigType("toml")
	v.SetConfigFile(Path())

	v.SetEnvPrefix("DOCCONVERT")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if flags != nil {
		for name, key := range flagKeys {
			f := flags.Lookup(name)
			if f == nil {
				continue
			}
			if err := v.BindPFlag(key, f); err != nil {
				return Config{}, fmt.Errorf("bind flag %s: %w", name, err)
			}
		}
	}

	if err := v.ReadInConfig(); err != nil && !os.IsNotExist(err) {
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if c.Scheduler.Workers < 1 {
		c.Scheduler.Workers = 1
	}
	return c, nil
}

// Save writes cfg to Path, creating the config directory if needed.
func Save(cfg Config) error {
	path := Path()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("mkdir config dir: %w", err)
	}

	v := viper.New()
	v.SetConfigType("toml")
	v.Set("tool.dir", cfg.Tool.Dir)
	v.Set("tool.executable", cfg.Tool.Executable)
	v.Set("scheduler.workers", cfg.Scheduler.Workers)
	v.Set("recent.db_path", cfg.Recent.DBPath)
	v.Set("recent.limit", cfg.Recent.Limit)
	v.Set("output.fallback_dir", cfg.Output.FallbackDir)
	v.Set("producer.command", cfg.Producer.Command)
	v.Set("producer.args", cfg.Producer.Args)
	v.Set("log.level", cfg.Log.Level)
	v.Set("log.path", cfg.Log.Path)

	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// ToolPath is the conversion tool to execute. With no directory the bare
// name is returned and resolved through PATH when run.
func (c Config) ToolPath() string {
	if c.Tool.Dir == "" {
		return c.Tool.Executable
	}
	return filepath.Join(c.Tool.Dir, c.Tool.Executable)
}

// Level parses Log.Level, defaulting to info.
func (c Config) Level() slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(c.Log.Level)); err != nil {
		return slog.LevelInfo
	}
	return l
}
