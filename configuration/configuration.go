package configuration

import (
	"fmt"
	"io"
	"io/ioutil"
	"time"

	"gopkg.in/yaml.v2"
)

// Loglevel is the level at which operational messages are logged.
type Loglevel string

const (
	LogLevelError Loglevel = "error"
	LogLevelWarn  Loglevel = "warn"
	LogLevelInfo  Loglevel = "info"
	LogLevelDebug Loglevel = "debug"
	LogLevelTrace Loglevel = "trace"
)

// Parameters is a map of storage driver parameters as found in the
// configuration file.
type Parameters map[string]interface{}

// Storage defines the configuration of the blob object store. Exactly one
// driver must be configured, keyed by driver name.
type Storage map[string]Parameters

// Type returns the configured storage driver name.
func (s Storage) Type() string {
	for k := range s {
		return k
	}
	return ""
}

// Parameters returns the parameters of the configured storage driver.
func (s Storage) Parameters() Parameters {
	return s[s.Type()]
}

// Configuration is the root registry configuration, parsed from a yaml file.
type Configuration struct {
	Log struct {
		Level  Loglevel               `yaml:"level,omitempty"`
		Fields map[string]interface{} `yaml:"fields,omitempty"`
	} `yaml:"log,omitempty"`

	HTTP struct {
		Addr   string `yaml:"addr,omitempty"`
		Prefix string `yaml:"prefix,omitempty"`
	} `yaml:"http,omitempty"`

	Database struct {
		Host           string        `yaml:"host,omitempty"`
		Port           int           `yaml:"port,omitempty"`
		User           string        `yaml:"user,omitempty"`
		Password       string        `yaml:"password,omitempty"`
		DBName         string        `yaml:"dbname,omitempty"`
		SSLMode        string        `yaml:"sslmode,omitempty"`
		SSLCert        string        `yaml:"sslcert,omitempty"`
		SSLKey         string        `yaml:"sslkey,omitempty"`
		SSLRootCert    string        `yaml:"sslrootcert,omitempty"`
		ConnectTimeout time.Duration `yaml:"connecttimeout,omitempty"`
		Pool           struct {
			MaxIdle     int           `yaml:"maxidle,omitempty"`
			MaxOpen     int           `yaml:"maxopen,omitempty"`
			MaxLifetime time.Duration `yaml:"maxlifetime,omitempty"`
		} `yaml:"pool,omitempty"`
	} `yaml:"database,omitempty"`

	Storage Storage `yaml:"storage,omitempty"`

	Redis struct {
		Enabled  bool   `yaml:"enabled,omitempty"`
		Addr     string `yaml:"addr,omitempty"`
		Password string `yaml:"password,omitempty"`
		DB       int    `yaml:"db,omitempty"`
	} `yaml:"redis,omitempty"`

	Auth struct {
		// Realm is echoed on WWW-Authenticate challenges.
		Realm string `yaml:"realm,omitempty"`
		// Endpoint answers authorization checks for (project, permission).
		Endpoint string `yaml:"endpoint,omitempty"`
		// InfoEndpoint answers identity lookups for a bare credential.
		InfoEndpoint string `yaml:"infoendpoint,omitempty"`
		// TTL bounds how long delegate answers may be served from cache.
		TTL time.Duration `yaml:"ttl,omitempty"`
	} `yaml:"auth,omitempty"`
}

const defaultAuthTTL = 30 * time.Second

// Parse parses and validates a configuration file from rd.
func Parse(rd io.Reader) (*Configuration, error) {
	in, err := ioutil.ReadAll(rd)
	if err != nil {
		return nil, err
	}

	config := new(Configuration)
	if err := yaml.Unmarshal(in, config); err != nil {
		return nil, fmt.Errorf("error parsing configuration: %w", err)
	}

	if config.Log.Level == "" {
		config.Log.Level = LogLevelInfo
	}
	if config.HTTP.Addr == "" {
		config.HTTP.Addr = ":5000"
	}
	if config.Auth.TTL == 0 {
		config.Auth.TTL = defaultAuthTTL
	}

	if len(config.Storage) != 1 {
		return nil, fmt.Errorf("exactly one storage driver must be configured, got %d", len(config.Storage))
	}

	return config, nil
}
