package protocol

import (
	"time"

	"github.com/mitchellh/mapstructure"
)

// Config holds every recognized configuration option from §6. It is
// normally produced by LoadConfig from a map[string]any (JSON/YAML/env
// land here without pulling in a full config framework); DefaultConfig
// gives sane defaults for everything else.
type Config struct {
	MaximumTransmissionUnit   int     `mapstructure:"maximum_transmission_unit"`
	ThrottleBytesPerSecond    float64 `mapstructure:"throttle_bytes_per_second"`
	ThrottlePeakBytes         float64 `mapstructure:"throttle_peak_bytes"`
	UseMessageCoalescing      bool    `mapstructure:"use_message_coalescing"`
	HandshakeAttemptDelay     time.Duration `mapstructure:"handshake_attempt_delay"`
	HandshakeMaxAttempts      int     `mapstructure:"handshake_max_attempts"`
	MaxAckDelayTime           time.Duration `mapstructure:"max_ack_delay_time"`
	NetChannelsPerDeliveryMethod int  `mapstructure:"net_channels_per_delivery_method"`
	FragmentHeaderSize        int     `mapstructure:"fragment_header_size"`

	// ConnectionTimeout is the last-heard-from age after which a
	// connection is declared dead (§4.5 timeout semantics). Not named
	// in §6's option table but required to implement it; defaults
	// match the teacher's DEFAULT_TIMEOUT convention.
	ConnectionTimeout time.Duration `mapstructure:"connection_timeout"`
	// HeartbeatPeriod is the fixed cadence at which the network thread
	// invokes the Heartbeat Engine (§4.6).
	HeartbeatPeriod time.Duration `mapstructure:"heartbeat_period"`
	// ApprovalRequired gates inbound Connect behind the application's
	// Approve/Deny call (§4.5 Approval).
	ApprovalRequired bool `mapstructure:"approval_required"`
	// PingInterval drives both the RTT-measuring Ping/Pong exchange and
	// the plain KeepAlive heartbeat described in §4.5/§4.6; not named
	// in §6's option table, added because the keepalive cadence has to
	// come from somewhere.
	PingInterval time.Duration `mapstructure:"ping_interval"`
	// Debug gates the §7 dispatch-exception policy: propagate in
	// debug, log-and-continue in release.
	Debug bool `mapstructure:"debug"`
}

// DefaultConfig returns the configuration used when no options are
// supplied, chosen to match the worked examples in §8.
func DefaultConfig() Config {
	return Config{
		MaximumTransmissionUnit:      1408,
		ThrottleBytesPerSecond:       0,
		ThrottlePeakBytes:            0,
		UseMessageCoalescing:         true,
		HandshakeAttemptDelay:        500 * time.Millisecond,
		HandshakeMaxAttempts:         5,
		MaxAckDelayTime:              250 * time.Millisecond,
		NetChannelsPerDeliveryMethod: 32,
		FragmentHeaderSize:           FragmentHeaderSize,
		ConnectionTimeout:            25 * time.Second,
		HeartbeatPeriod:              50 * time.Millisecond,
		ApprovalRequired:             false,
		Debug:                        false,
		PingInterval:                 5 * time.Second,
	}
}

// LoadConfig decodes recognized options out of a generic map (as
// produced by decoding JSON/YAML/env into map[string]any) on top of
// DefaultConfig, via mapstructure so callers are not forced to build a
// typed Config by hand.
func LoadConfig(opts map[string]interface{}) (Config, error) {
	cfg := DefaultConfig()
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &cfg,
		WeaklyTypedInput: true,
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
	})
	if err != nil {
		return cfg, err
	}
	if err := decoder.Decode(opts); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// FragmentPayloadSize returns the number of application bytes carried
// by one fragment at this MTU: MTU minus the fragment header. (The
// message header is not subtracted here — matching the worked example
// in §8, MTU=1408 splits a 4000-byte message into fragments of
// 1402/1402/1196 bytes, i.e. 1408-6.)
func (c Config) FragmentPayloadSize() int {
	size := c.MaximumTransmissionUnit - FragmentHeaderSize
	if size < 1 {
		return 1
	}
	return size
}
