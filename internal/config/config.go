package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Mode string

const (
	ModeOffline Mode = "offline"
	ModeOnline  Mode = "online"
)

type LockMode string

const (
	LockWait     LockMode = "wait"
	LockFailFast LockMode = "failfast"
)

type Config struct {
	Mode Mode `mapstructure:"mode"`

	DBDriver string `mapstructure:"db_driver"`
	DBDSN    string `mapstructure:"db_dsn"`

	LogLevel string `mapstructure:"log_level"`
	LogFile  string `mapstructure:"log_file"`

	LockMode         LockMode      `mapstructure:"lock_mode"`
	RecomputeWorkers int           `mapstructure:"recompute_workers"`
	RecomputeTimeout time.Duration `mapstructure:"recompute_timeout"`

	MetricsAddr string `mapstructure:"metrics_addr"`

	Gradebook GradebookConfig `mapstructure:",squash"`
}

type GradebookConfig struct {
	Sink string `mapstructure:"gradebook_sink"` // none|ags|kafka

	AGSTokenURL     string        `mapstructure:"ags_token_url"`
	AGSClientID     string        `mapstructure:"ags_client_id"`
	AGSClientSecret string        `mapstructure:"ags_client_secret"`
	AGSLineItemsURL string        `mapstructure:"ags_lineitems_url"`
	AGSTimeout      time.Duration `mapstructure:"ags_timeout"`

	KafkaBrokers     []string `mapstructure:"kafka_brokers"`
	KafkaGradesTopic string   `mapstructure:"kafka_grades_topic"`
}

// Load reads the configuration from the environment and, when CONFIG_FILE
// is set, from that YAML file. Environment values win over the file.
func Load() (Config, error) {
	v := viper.New()
	setDefaults(v)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if file := v.GetString("config_file"); file != "" {
		v.SetConfigFile(file)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("config: read %s: %w", file, err)
		}
	}
	return fromViper(v)
}

func fromViper(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: unmarshal: %w", err)
	}
	cfg.Gradebook.KafkaBrokers = csv(v.GetString("kafka_brokers"))
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", string(ModeOffline))
	v.SetDefault("db_driver", "sqlite")
	v.SetDefault("db_dsn", "")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_file", "")
	v.SetDefault("lock_mode", string(LockWait))
	v.SetDefault("recompute_workers", 4)
	v.SetDefault("recompute_timeout", 10*time.Minute)
	v.SetDefault("metrics_addr", "")
	v.SetDefault("gradebook_sink", "none")
	v.SetDefault("ags_token_url", "")
	v.SetDefault("ags_client_id", "")
	v.SetDefault("ags_client_secret", "")
	v.SetDefault("ags_lineitems_url", "")
	v.SetDefault("ags_timeout", 10*time.Second)
	v.SetDefault("kafka_brokers", "")
	v.SetDefault("kafka_grades_topic", "peer-grades")
	v.SetDefault("config_file", "")
}

func (c Config) validate() error {
	switch c.LockMode {
	case LockWait, LockFailFast:
	default:
		return fmt.Errorf("config: unknown LOCK_MODE %q", c.LockMode)
	}
	switch c.Gradebook.Sink {
	case "none", "":
	case "ags":
		if c.Gradebook.AGSTokenURL == "" || c.Gradebook.AGSLineItemsURL == "" {
			return fmt.Errorf("config: ags sink needs AGS_TOKEN_URL and AGS_LINEITEMS_URL")
		}
	case "kafka":
		if len(c.Gradebook.KafkaBrokers) == 0 {
			return fmt.Errorf("config: kafka sink needs KAFKA_BROKERS")
		}
	default:
		return fmt.Errorf("config: unknown GRADEBOOK_SINK %q", c.Gradebook.Sink)
	}
	if c.RecomputeWorkers < 1 {
		return fmt.Errorf("config: RECOMPUTE_WORKERS must be at least 1")
	}
	return nil
}

func csv(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
