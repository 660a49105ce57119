package config

import (
	"github.com/kelseyhightower/envconfig"
	"github.com/pkg/errors"
)

// EnvPrefix prefixes every environment override, e.g. EDA_LOG_LEVEL.
const EnvPrefix = "EDA"

// Runtime controls execution rather than the data flow. Every field can be
// overridden from the environment.
type Runtime struct {
	LogLevel  string `json:"log_level" yaml:"log_level" envconfig:"LOG_LEVEL" validate:"omitempty,oneof=debug info warn error"`
	LogFormat string `json:"log_format" yaml:"log_format" envconfig:"LOG_FORMAT" validate:"omitempty,oneof=text json"`

	// SeqURL enables the Seq log sink.
	SeqURL string `json:"seq_url" yaml:"seq_url" envconfig:"SEQ_URL"`

	// MetricsBackend: "none" | "datadog" | "pushgateway".
	MetricsBackend string `json:"metrics_backend" yaml:"metrics_backend" envconfig:"METRICS_BACKEND" validate:"omitempty,oneof=none noop datadog dd pushgateway prometheus"`
	PushgatewayURL string `json:"pushgateway_url" yaml:"pushgateway_url" envconfig:"PUSHGATEWAY_URL"`

	// Workers bounds how many sources load concurrently.
	Workers       int `json:"workers" yaml:"workers" envconfig:"WORKERS" validate:"gte=0"`
	ChannelBuffer int `json:"channel_buffer" yaml:"channel_buffer" envconfig:"CHANNEL_BUFFER" validate:"gte=0"`
}

// WithDefaults fills unset fields.
func (r Runtime) WithDefaults() Runtime {
	if r.LogLevel == "" {
		r.LogLevel = "info"
	}
	if r.LogFormat == "" {
		r.LogFormat = "text"
	}
	if r.MetricsBackend == "" {
		r.MetricsBackend = "none"
	}
	if r.Workers <= 0 {
		r.Workers = 4
	}
	if r.ChannelBuffer <= 0 {
		r.ChannelBuffer = 256
	}
	return r
}

// ApplyEnv overlays EDA_* environment variables on r. Variables that are
// unset leave the file value in place.
func ApplyEnv(r Runtime) (Runtime, error) {
	var env Runtime
	if err := envconfig.Process(EnvPrefix, &env); err != nil {
		return r, errors.Wrap(err, "runtime env")
	}
	return mergeRuntime(r, env), nil
}

func mergeRuntime(file, env Runtime) Runtime {
	if env.LogLevel != "" {
		file.LogLevel = env.LogLevel
	}
	if env.LogFormat != "" {
		file.LogFormat = env.LogFormat
	}
	if env.SeqURL != "" {
		file.SeqURL = env.SeqURL
	}
	if env.MetricsBackend != "" {
		file.MetricsBackend = env.MetricsBackend
	}
	if env.PushgatewayURL != "" {
		file.PushgatewayURL = env.PushgatewayURL
	}
	if env.Workers != 0 {
		file.Workers = env.Workers
	}
	if env.ChannelBuffer != 0 {
		file.ChannelBuffer = env.ChannelBuffer
	}
	return file
}
