// Package config loads vlogguard settings from a YAML file, a .env file and
// VLOGGUARD_* environment variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/hed1ad/vlogguard/pkg/interpret"
)

// Config is the full application configuration.
type Config struct {
	App        AppConfig        `mapstructure:"app"`
	Model      ModelConfig      `mapstructure:"model"`
	Preprocess PreprocessConfig `mapstructure:"preprocess"`
	Interpret  InterpretConfig  `mapstructure:"interpret"`
	Server     ServerConfig     `mapstructure:"server"`
	Explain    ExplainConfig    `mapstructure:"explain"`
}

// AppConfig controls process-wide logging.
type AppConfig struct {
	LogLevel  string `mapstructure:"log_level" validate:"oneof=debug info warn error"`
	LogFormat string `mapstructure:"log_format" validate:"oneof=json console"`
}

// ModelConfig names the sensor profile and the artifact files loaded at
// startup.
type ModelConfig struct {
	Profile    string `mapstructure:"profile" validate:"required"`
	ScalerPath string `mapstructure:"scaler_path" validate:"required"`
	ForestPath string `mapstructure:"forest_path" validate:"required"`
}

// PreprocessConfig selects what happens to rows that cannot be imputed.
type PreprocessConfig struct {
	Policy string `mapstructure:"policy" validate:"oneof=drop reject"`
}

// InterpretConfig holds the fault rules and how many of them may fire per row.
type InterpretConfig struct {
	Mode string `mapstructure:"mode" validate:"oneof=first all"`
	// Rules replace the profile defaults when set.
	Rules []interpret.Spec `mapstructure:"rules"`
}

// ServerConfig is used by the serve command only.
type ServerConfig struct {
	Addr           string `mapstructure:"addr" validate:"required"`
	MaxUploadBytes int64  `mapstructure:"max_upload_bytes" validate:"gt=0"`
}

// ExplainConfig enables LLM advice for anomalous rows. The API key may also
// come from OPENAI_API_KEY.
type ExplainConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	APIKey  string        `mapstructure:"api_key" validate:"required_if=Enabled true"`
	BaseURL string        `mapstructure:"base_url" validate:"omitempty,url"`
	Model   string        `mapstructure:"model" validate:"required_if=Enabled true"`
	Timeout time.Duration `mapstructure:"timeout"`
	// MaxRows caps the number of anomalous rows sent for advice per report.
	MaxRows int `mapstructure:"max_rows" validate:"gte=0"`
}

const envPrefix = "VLOGGUARD"

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.log_level", "info")
	v.SetDefault("app.log_format", "console")
	v.SetDefault("model.profile", "synthetic")
	v.SetDefault("model.scaler_path", "models/scaler.msgpack")
	v.SetDefault("model.forest_path", "models/forest.msgpack")
	v.SetDefault("preprocess.policy", "drop")
	v.SetDefault("interpret.mode", "first")
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.max_upload_bytes", 32<<20)
	v.SetDefault("explain.enabled", false)
	v.SetDefault("explain.api_key", "")
	v.SetDefault("explain.base_url", "")
	v.SetDefault("explain.model", "gpt-3.5-turbo")
	v.SetDefault("explain.timeout", 20*time.Second)
	v.SetDefault("explain.max_rows", 20)
}

// Load reads the configuration. path may be empty, in which case only
// defaults and the environment apply. Variables from envFiles (".env" when
// none are given) are loaded first and never override the real environment.
func Load(path string, envFiles ...string) (*Config, error) {
	if err := loadEnvFiles(envFiles); err != nil {
		return nil, err
	}

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.BindEnv("explain.api_key", envPrefix+"_EXPLAIN_API_KEY", "OPENAI_API_KEY"); err != nil {
		return nil, err
	}

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config failed: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config failed: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func loadEnvFiles(files []string) error {
	explicit := len(files) > 0
	if !explicit {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil {
			if !explicit && errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("load %s: %w", f, err)
		}
	}
	return nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks field constraints and the rule definitions.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fieldMessage(fe))
			}
			return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	if len(c.Interpret.Rules) > 0 {
		if _, err := interpret.Compile(c.Interpret.Rules); err != nil {
			return fmt.Errorf("invalid config: interpret.rules: %w", err)
		}
	}
	return nil
}

func fieldMessage(fe validator.FieldError) string {
	field := strings.TrimPrefix(fe.Namespace(), "Config.")
	switch fe.Tag() {
	case "required", "required_if":
		return field + " is required"
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s]", field, fe.Param())
	case "gt", "gte":
		return fmt.Sprintf("%s must be %s %s", field, fe.Tag(), fe.Param())
	default:
		return field + " is invalid"
	}
}
