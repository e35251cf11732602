// Package config loads termax's YAML configuration file and environment
// overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/felixgeelhaar/termax/internal/credential"
	"github.com/felixgeelhaar/termax/internal/embed"
	"github.com/felixgeelhaar/termax/internal/guard"
	"github.com/felixgeelhaar/termax/internal/memory"
	"github.com/felixgeelhaar/termax/internal/provider"
)

const (
	HomeEnv    = "TERMAX_HOME"
	FileName   = "config.yaml"
	DBFileName = "termax.db"
	envPrefix  = "TERMAX"
)

var ErrExists = errors.New("config file already exists")

// General holds the settings that are not specific to one platform.
type General struct {
	Platform       string   `mapstructure:"platform" yaml:"platform"`
	StorageSize    int      `mapstructure:"storage_size" yaml:"storage_size"`
	AutoExecute    bool     `mapstructure:"auto_execute" yaml:"auto_execute"`
	ShowCommand    bool     `mapstructure:"show_command" yaml:"show_command"`
	Eviction       string   `mapstructure:"eviction" yaml:"eviction"`
	RecallLimit    int      `mapstructure:"recall_limit" yaml:"recall_limit"`
	Embedder       string   `mapstructure:"embedder" yaml:"embedder"`
	EmbedCacheSize int      `mapstructure:"embed_cache_size" yaml:"embed_cache_size"`
	DeniedCommands []string `mapstructure:"denied_commands" yaml:"denied_commands"`
	AllowReset     bool     `mapstructure:"allow_reset" yaml:"allow_reset,omitempty"`
}

type Config struct {
	General           General `mapstructure:"general" yaml:"general"`
	provider.Settings `mapstructure:",squash" yaml:",inline"`

	// Home is the directory the file was loaded from.
	Home string `mapstructure:"-" yaml:"-"`
}

// Default returns the configuration used when no file exists.
func Default() Config {
	return Config{
		General: General{
			Platform:       "openai",
			StorageSize:    memory.DefaultStorageSize,
			AutoExecute:    true,
			ShowCommand:    false,
			Eviction:       string(memory.PolicyWindow),
			RecallLimit:    memory.DefaultRecallLimit,
			Embedder:       embed.KindHashing,
			EmbedCacheSize: 1024,
			DeniedCommands: slices.Clone(guard.DefaultPolicy.DeniedCommands),
		},
	}
}

// Legacy returns the defaults of earlier releases: a small store that is
// dropped as a whole once full.
func Legacy() Config {
	c := Default()
	c.General.StorageSize = memory.LegacyStorageSize
	c.General.Eviction = string(memory.PolicyPartition)
	return c
}

// Home returns $TERMAX_HOME or ~/.termax.
func Home() (string, error) {
	if h := os.Getenv(HomeEnv); h != "" {
		return h, nil
	}
	userHome, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to locate home directory: %w", err)
	}
	return filepath.Join(userHome, ".termax"), nil
}

// Path is the configuration file inside home.
func Path(home string) string {
	return filepath.Join(home, FileName)
}

// DBPath is where the memory index lives.
func (c *Config) DBPath() string {
	return filepath.Join(c.Home, DBFileName)
}

// vendorEnv are the variables the platforms' own tooling reads.
var vendorEnv = map[string]string{
	"openai.api_key":  "OPENAI_API_KEY",
	"mistral.api_key": "MISTRAL_API_KEY",
	"qianwen.api_key": "DASHSCOPE_API_KEY",
	"ernie.api_key":   "QIANFAN_API_KEY",
	"gemini.api_key":  "GEMINI_API_KEY",
	"claude.api_key":  "ANTHROPIC_API_KEY",
	"ollama.host":     "OLLAMA_HOST",
}

// Load reads <home>/config.yaml if present, applies TERMAX_* environment
// overrides, decrypts credentials and validates the result.
func Load(home string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(Path(home))
	v.SetConfigType("yaml")

	defaults := Default()
	for _, key := range Keys() {
		if val, ok := defaults.lookup(key); ok && val != nil {
			v.SetDefault(key, val)
		}
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, env := range vendorEnv {
		if err := v.BindEnv(key, envName(key), env); err != nil {
			return nil, err
		}
	}
	if err := v.BindEnv("general.allow_reset", envName("general.allow_reset"), "TERMAX_ALLOW_RESET"); err != nil {
		return nil, err
	}

	if _, err := os.Stat(Path(home)); err == nil {
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", Path(home), err)
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}

	c := Default()
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	c.Home = home

	if err := c.openSecrets(); err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func envName(key string) string {
	return envPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
}

// Validate rejects unknown names and out-of-range values.
func (c *Config) Validate() error {
	var errs []error
	g := c.General

	if !provider.Known(g.Platform) {
		errs = append(errs, fmt.Errorf("general.platform: unknown platform %q (known: %s)", g.Platform, strings.Join(provider.Platforms(), ", ")))
	}
	if g.StorageSize < 0 {
		errs = append(errs, fmt.Errorf("general.storage_size must be >= 0, got %d", g.StorageSize))
	}
	if g.RecallLimit < 0 {
		errs = append(errs, fmt.Errorf("general.recall_limit must be >= 0, got %d", g.RecallLimit))
	}
	if g.EmbedCacheSize < 0 {
		errs = append(errs, fmt.Errorf("general.embed_cache_size must be >= 0, got %d", g.EmbedCacheSize))
	}
	if _, err := memory.ParsePolicy(g.Eviction); err != nil {
		errs = append(errs, fmt.Errorf("general.eviction: %w", err))
	}
	if g.Embedder != "" && !slices.Contains(embed.Kinds, g.Embedder) {
		errs = append(errs, fmt.Errorf("general.embedder: unknown embedder %q (known: %s)", g.Embedder, strings.Join(embed.Kinds, ", ")))
	}
	for _, p := range g.DeniedCommands {
		if !doublestar.ValidatePattern(p) {
			errs = append(errs, fmt.Errorf("general.denied_commands: invalid pattern %q", p))
		}
	}
	if err := c.Settings.Validate(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// secrets returns the credential fields of every platform section.
func (c *Config) secrets() []*string {
	return []*string{
		&c.OpenAI.APIKey, &c.Mistral.APIKey, &c.Qianwen.APIKey, &c.Ernie.APIKey,
		&c.Gemini.APIKey, &c.VertexAI.APIKey, &c.Claude.APIKey,
	}
}

var envRef = regexp.MustCompile(`\$([A-Z_][A-Z0-9_]*)`)

// openSecrets expands $VAR references and decrypts sealed values.
func (c *Config) openSecrets() error {
	var mgr *credential.Manager
	for _, s := range c.secrets() {
		*s = envRef.ReplaceAllStringFunc(*s, func(match string) string {
			if val, ok := os.LookupEnv(strings.TrimPrefix(match, "$")); ok {
				return val
			}
			return match
		})
		if !credential.IsEncrypted(*s) {
			continue
		}
		if mgr == nil {
			var err error
			if mgr, err = credential.NewManager(); err != nil {
				return err
			}
		}
		plain, err := mgr.Decrypt(*s)
		if err != nil {
			return fmt.Errorf("failed to decrypt credential: %w", err)
		}
		*s = plain
	}
	return nil
}

// YAML renders the configuration with credentials masked.
func (c *Config) YAML() ([]byte, error) {
	masked := *c
	for _, s := range masked.secrets() {
		*s = credential.MaskSecret(*s)
	}
	return yaml.Marshal(&masked)
}

// Init writes a fresh configuration file. It refuses to overwrite an
// existing one unless force is set.
func Init(home string, c Config, force bool) (string, error) {
	path := Path(home)
	if _, err := os.Stat(path); err == nil && !force {
		return path, fmt.Errorf("%w: %s", ErrExists, path)
	}
	if err := os.MkdirAll(home, 0700); err != nil {
		return path, fmt.Errorf("failed to create %s: %w", home, err)
	}

	data, err := yaml.Marshal(&c)
	if err != nil {
		return path, err
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return path, fmt.Errorf("failed to write %s: %w", path, err)
	}
	return path, nil
}

// Set stores one dotted key in the file. Credentials are encrypted before
// they are written, and the resulting configuration must validate.
func Set(home, key, value string) error {
	key = strings.ToLower(key)
	typed, err := parseValue(key, value)
	if err != nil {
		return err
	}

	if credential.IsSecretKey(key) && value != "" {
		mgr, err := credential.NewManager()
		if err != nil {
			return err
		}
		if typed, err = mgr.Encrypt(value); err != nil {
			return fmt.Errorf("failed to encrypt %s: %w", key, err)
		}
	}

	v := viper.New()
	v.SetConfigFile(Path(home))
	v.SetConfigType("yaml")
	if _, err := os.Stat(Path(home)); err == nil {
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("failed to read %s: %w", Path(home), err)
		}
	}
	v.Set(key, typed)

	c := Default()
	if err := v.Unmarshal(&c); err != nil {
		return fmt.Errorf("failed to decode config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return err
	}

	if err := os.MkdirAll(home, 0700); err != nil {
		return fmt.Errorf("failed to create %s: %w", home, err)
	}
	if err := v.WriteConfigAs(Path(home)); err != nil {
		return fmt.Errorf("failed to write %s: %w", Path(home), err)
	}
	return os.Chmod(Path(home), 0600)
}

// Get returns the display form of one dotted key. Credentials are masked.
func (c *Config) Get(key string) (string, error) {
	key = strings.ToLower(key)
	val, ok := c.lookup(key)
	if !ok {
		return "", unknownKey(key)
	}

	var s string
	switch x := val.(type) {
	case nil:
		s = ""
	case []string:
		s = strings.Join(x, ",")
	default:
		s = fmt.Sprint(x)
	}
	if credential.IsSecretKey(key) {
		s = credential.MaskSecret(s)
	}
	return s, nil
}

func unknownKey(key string) error {
	return fmt.Errorf("unknown key %q (known keys: %s)", key, strings.Join(Keys(), ", "))
}
