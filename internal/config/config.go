package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const prefix = "RELAYER"

// LaneRelayerConfig is the relayer's environment-driven configuration.
type LaneRelayerConfig struct {
	// SourceRPCAddress is the source chain bridge node HTTP API root.
	SourceRPCAddress string `required:"true" split_words:"true"`
	// TargetRPCAddress is the target chain bridge node HTTP API root.
	TargetRPCAddress string `required:"true" split_words:"true"`
	// Lane is the serviced lane id in hex (8 characters).
	Lane string `required:"true"`
	// StoragePath is the LevelDB directory; empty disables persistence.
	StoragePath string `split_words:"true"`

	SourceTick     time.Duration `default:"5s" split_words:"true"`
	TargetTick     time.Duration `default:"5s" split_words:"true"`
	ReconnectDelay time.Duration `default:"10s" split_words:"true"`
	StallTimeout   time.Duration `default:"5m" split_words:"true"`

	MaxUnrewardedRelayerEntries  uint64 `default:"128" split_words:"true"`
	MaxUnconfirmedNonces         uint64 `default:"1024" split_words:"true"`
	MaxMessagesSizeInSingleBatch uint64 `default:"1048576" split_words:"true"`

	RPCTimeout     time.Duration `default:"10s" split_words:"true"`
	TxPollInterval time.Duration `default:"1s" split_words:"true"`

	PrometheusPort uint16 `default:"9090" split_words:"true"`
	WebserverPort  uint16 `default:"9999" split_words:"true"`
}

// NewLaneRelayerConfig loads the configuration from RELAYER_* env vars.
func NewLaneRelayerConfig() (LaneRelayerConfig, error) {
	var cfg LaneRelayerConfig
	if err := envconfig.Process(prefix, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to init config: %w", err)
	}
	return cfg, nil
}
