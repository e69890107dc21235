package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"

	errspkg "github.com/drblury/soknadflow/internal/runtime/errors"
)

// EnvPrefix namespaces every environment variable read by Load, for example
// SOKNADFLOW_KAFKA_BROKERS=broker-1:9092,broker-2:9092.
const EnvPrefix = "SOKNADFLOW"

// Load builds a Config from defaults, an optional config file and the
// environment, in increasing order of precedence. An empty path skips the
// file. The result has defaults applied and is validated.
func Load(path string) (*Config, error) {
	v := newViper()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file %q: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, errspkg.NewConfigValidationError(err)
	}
	return &cfg, nil
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	// Unmarshal only sees keys viper knows about, so every field gets a default.
	v.SetDefault("pubsub_system", "channel")
	v.SetDefault("kafka_brokers", []string{})
	v.SetDefault("kafka_client_id", DefaultKafkaClientID)
	v.SetDefault("kafka_consumer_group", DefaultKafkaConsumerGroup)
	v.SetDefault("rabbitmq_url", "")
	v.SetDefault("nats_url", "")
	v.SetDefault("aws_region", "")
	v.SetDefault("aws_account_id", "")
	v.SetDefault("aws_access_key_id", "")
	v.SetDefault("aws_secret_access_key", "")
	v.SetDefault("aws_endpoint", "")
	v.SetDefault("topic_prefix", DefaultTopicPrefix)
	v.SetDefault("retry_initial_interval", DefaultRetryInitialInterval)
	v.SetDefault("retry_max_interval", DefaultRetryMaxInterval)
	v.SetDefault("retry_factor", DefaultRetryFactor)
	v.SetDefault("supported_entry_versions", []int{1})
	v.SetDefault("skip_list", []string{})
	v.SetDefault("stage_start_timeout", DefaultStageStartTimeout)
	v.SetDefault("stage_close_timeout", DefaultStageCloseTimeout)
	v.SetDefault("auto_resume_after", 0)
	v.SetDefault("metrics_enabled", true)
	v.SetDefault("health_port", DefaultHealthPort)
	return v
}
