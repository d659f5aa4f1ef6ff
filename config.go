package main

import (
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds the application configuration
type Config struct {
	// BindAddress is the address the server listens on (e.g. "0.0.0.0:8080")
	BindAddress string `yaml:"bind_address"`
	// SerialPort is the path to the modem's serial port (e.g. "/dev/ttyUSB0")
	SerialPort string `yaml:"serial_port"`
	// BaudRate is the baud rate for serial communication with the modem (e.g. 115200)
	BaudRate int `yaml:"baud_rate"`
	// ModemAddress reaches the modem over TCP instead of the serial port
	// when set (e.g. "10.0.0.5:4001")
	ModemAddress string `yaml:"modem_address"`
	// LogLevel sets the logging level (e.g. "debug", "info", "warn", "error")
	LogLevel string `yaml:"log_level"`
	// SimPIN is the SIM card PIN code
	SimPIN string `yaml:"sim_pin"`
	// Model selects the modem profile (e.g. "sim800", "quectel-m26")
	Model string `yaml:"model"`
	// ProfilesFile is an optional YAML file with additional modem profiles
	ProfilesFile string `yaml:"profiles_file"`

	// MinSendInterval is the minimum pause between two outgoing messages
	MinSendInterval time.Duration `yaml:"min_send_interval"`
	// MaxRetries bounds the resubmissions of a failed message
	MaxRetries int `yaml:"max_retries"`
	// QueueSize is the capacity of the outgoing message queue
	QueueSize int `yaml:"queue_size"`

	// APIToken, when set, is required as a bearer token on every API call
	APIToken string `yaml:"api_token"`
	// AllowedOrigins lists the CORS origins; empty allows all
	AllowedOrigins []string `yaml:"allowed_origins"`

	// MQTTBroker enables the MQTT bridge when set (e.g. "tcp://localhost:1883")
	MQTTBroker      string `yaml:"mqtt_broker"`
	MQTTClientID    string `yaml:"mqtt_client_id"`
	MQTTUsername    string `yaml:"mqtt_username"`
	MQTTPassword    string `yaml:"mqtt_password"`
	MQTTTopic       string `yaml:"mqtt_topic"`
	MQTTEventsTopic string `yaml:"mqtt_events_topic"`
}

// ConfigOption is a function that modifies a Config
type ConfigOption func(*Config) error

// LoadConfig creates a new config by applying the given options in order
func LoadConfig(opts ...ConfigOption) (*Config, error) {
	config := &Config{}

	for _, opt := range opts {
		if err := opt(config); err != nil {
			return nil, err
		}
	}

	return config, config.validate()
}

func (c *Config) validate() error {
	if c.SerialPort == "" && c.ModemAddress == "" {
		return errors.New("either a serial port or a modem address is required")
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log level %q", c.LogLevel)
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("max retries must not be negative, got %d", c.MaxRetries)
	}
	if c.MQTTBroker != "" && c.MQTTTopic == "" {
		return errors.New("an MQTT topic is required with an MQTT broker")
	}
	return nil
}

// WithDefaults applies default configuration values
func WithDefaults() ConfigOption {
	return func(c *Config) error {
		c.BindAddress = "0.0.0.0:8080"
		c.SerialPort = "/dev/ttyUSB0"
		c.BaudRate = 115200
		c.LogLevel = "info"
		c.Model = "generic"
		c.MinSendInterval = 10 * time.Second
		c.MaxRetries = 3
		c.QueueSize = 1024
		c.MQTTClientID = "atlink"
		c.MQTTTopic = "sms/send"
		return nil
	}
}

// WithEnvFile loads variables from a .env file into the process
// environment. A missing file is not an error.
func WithEnvFile(path string) ConfigOption {
	return func(c *Config) error {
		if path == "" {
			return nil
		}
		if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load env file %s: %w", path, err)
		}
		return nil
	}
}

// WithFile loads configuration from a YAML file. Keys absent from the
// file keep their current value.
func WithFile(path string) ConfigOption {
	return func(c *Config) error {
		if path == "" {
			return nil
		}
		f, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("open config file: %w", err)
		}
		defer f.Close()

		dec := yaml.NewDecoder(f)
		dec.KnownFields(true)
		if err := dec.Decode(c); err != nil {
			return fmt.Errorf("decode config file %s: %w", path, err)
		}
		return nil
	}
}

// WithEnv loads configuration from environment variables
func WithEnv() ConfigOption {
	return func(c *Config) error {
		if addr := os.Getenv("BIND_ADDRESS"); addr != "" {
			c.BindAddress = addr
		}

		if serial := os.Getenv("SERIAL_PORT"); serial != "" {
			c.SerialPort = serial
		}

		if baud := os.Getenv("BAUD_RATE"); baud != "" {
			if b, err := strconv.Atoi(baud); err == nil {
				c.BaudRate = b
			}
		}

		if addr := os.Getenv("MODEM_ADDRESS"); addr != "" {
			c.ModemAddress = addr
		}

		if level := os.Getenv("LOG_LEVEL"); level != "" {
			c.LogLevel = level
		}

		if simPIN := os.Getenv("SIM_PIN"); simPIN != "" {
			c.SimPIN = simPIN
		}

		if model := os.Getenv("MODEM_MODEL"); model != "" {
			c.Model = model
		}

		if path := os.Getenv("PROFILES_FILE"); path != "" {
			c.ProfilesFile = path
		}

		if interval := os.Getenv("MIN_SEND_INTERVAL"); interval != "" {
			if d, err := time.ParseDuration(interval); err == nil {
				c.MinSendInterval = d
			}
		}

		if retries := os.Getenv("MAX_RETRIES"); retries != "" {
			if n, err := strconv.Atoi(retries); err == nil {
				c.MaxRetries = n
			}
		}

		if size := os.Getenv("QUEUE_SIZE"); size != "" {
			if n, err := strconv.Atoi(size); err == nil {
				c.QueueSize = n
			}
		}

		if token := os.Getenv("API_TOKEN"); token != "" {
			c.APIToken = token
		}

		if origins := os.Getenv("ALLOWED_ORIGINS"); origins != "" {
			c.AllowedOrigins = strings.Split(origins, ",")
		}

		for env, field := range map[string]*string{
			"MQTT_BROKER":       &c.MQTTBroker,
			"MQTT_CLIENT_ID":    &c.MQTTClientID,
			"MQTT_USERNAME":     &c.MQTTUsername,
			"MQTT_PASSWORD":     &c.MQTTPassword,
			"MQTT_TOPIC":        &c.MQTTTopic,
			"MQTT_EVENTS_TOPIC": &c.MQTTEventsTopic,
		} {
			if v := os.Getenv(env); v != "" {
				*field = v
			}
		}

		return nil
	}
}

// WithFlags loads configuration from command-line flags
func WithFlags(fSet *flag.FlagSet) ConfigOption {
	return func(c *Config) error {
		fSet.Visit(func(f *flag.Flag) {
			switch f.Name {
			case "bind-address":
				c.BindAddress = f.Value.String()
			case "serial-port":
				c.SerialPort = f.Value.String()
			case "baud-rate":
				if b, err := strconv.Atoi(f.Value.String()); err == nil {
					c.BaudRate = b
				}
			case "modem-address":
				c.ModemAddress = f.Value.String()
			case "log-level":
				c.LogLevel = f.Value.String()
			case "sim-pin":
				c.SimPIN = f.Value.String()
			case "model":
				c.Model = f.Value.String()
			case "profiles":
				c.ProfilesFile = f.Value.String()
			case "min-send-interval":
				if d, err := time.ParseDuration(f.Value.String()); err == nil {
					c.MinSendInterval = d
				}
			case "mqtt-broker":
				c.MQTTBroker = f.Value.String()
			}

		})
		return nil
	}

}
