package modem

import (
	"log/slog"
	"time"

	"i4.energy/across/atlink/at"
)

func (c *Config) validate() error {
	if c.Dialer == nil {
		return ErrNoDialer
	}
	return nil
}

type Config struct {
	Dialer Dialer
	SimPIN string
	// EchoOn leaves command echo enabled; echoed lines are dropped by
	// the channel either way.
	EchoOn bool

	ATTimeout     time.Duration
	InitTimeout   time.Duration
	PromptTimeout time.Duration
	BodyTimeout   time.Duration
	WriteDelay    time.Duration
	USSDTimeout   time.Duration
	SIMPoll       PollConfig

	Profile Profile
	Logger  *slog.Logger
	Clock   at.Clock
	Metrics *at.Metrics
}

func (c *Config) setDefaults() {
	if c.ATTimeout == 0 {
		c.ATTimeout = 5 * time.Second
	}
	if c.InitTimeout == 0 {
		c.InitTimeout = 30 * time.Second
	}
	if c.PromptTimeout == 0 {
		c.PromptTimeout = at.DefaultPromptTimeout
	}
	if c.BodyTimeout == 0 {
		c.BodyTimeout = at.DefaultBodyTimeout
	}
	if c.WriteDelay == 0 {
		c.WriteDelay = at.DefaultWriteDelay
	}
	if c.USSDTimeout == 0 {
		c.USSDTimeout = 30 * time.Second
	}
	if c.Profile.Name == "" {
		c.Profile = Generic
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Clock == nil {
		c.Clock = at.SystemClock{}
	}
}

// ConfigBuilder assembles a Config.
type ConfigBuilder struct {
	config Config
}

func NewConfigBuilder() *ConfigBuilder {
	return &ConfigBuilder{}
}

func (b *ConfigBuilder) WithDialer(d Dialer) *ConfigBuilder {
	b.config.Dialer = d
	return b
}

func (b *ConfigBuilder) WithSimPIN(pin string) *ConfigBuilder {
	b.config.SimPIN = pin
	return b
}

func (b *ConfigBuilder) WithEcho(on bool) *ConfigBuilder {
	b.config.EchoOn = on
	return b
}

func (b *ConfigBuilder) WithATTimeout(d time.Duration) *ConfigBuilder {
	b.config.ATTimeout = d
	return b
}

func (b *ConfigBuilder) WithInitTimeout(d time.Duration) *ConfigBuilder {
	b.config.InitTimeout = d
	return b
}

// WithSMSTimeouts sets the prompt and body timeouts of message
// submission.
func (b *ConfigBuilder) WithSMSTimeouts(prompt, body time.Duration) *ConfigBuilder {
	b.config.PromptTimeout = prompt
	b.config.BodyTimeout = body
	return b
}

func (b *ConfigBuilder) WithWriteDelay(d time.Duration) *ConfigBuilder {
	b.config.WriteDelay = d
	return b
}

func (b *ConfigBuilder) WithUSSDTimeout(d time.Duration) *ConfigBuilder {
	b.config.USSDTimeout = d
	return b
}

func (b *ConfigBuilder) WithSIMPoll(p PollConfig) *ConfigBuilder {
	b.config.SIMPoll = p
	return b
}

func (b *ConfigBuilder) WithProfile(p Profile) *ConfigBuilder {
	b.config.Profile = p
	return b
}

func (b *ConfigBuilder) WithLogger(l *slog.Logger) *ConfigBuilder {
	b.config.Logger = l
	return b
}

func (b *ConfigBuilder) WithClock(c at.Clock) *ConfigBuilder {
	b.config.Clock = c
	return b
}

func (b *ConfigBuilder) WithMetrics(m *at.Metrics) *ConfigBuilder {
	b.config.Metrics = m
	return b
}

// Build validates the configuration and fills in defaults.
func (b *ConfigBuilder) Build() (Config, error) {
	c := b.config
	if err := c.validate(); err != nil {
		return Config{}, err
	}
	c.setDefaults()
	return c, nil
}
