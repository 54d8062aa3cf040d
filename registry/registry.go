// Package registry wires configuration, database, object store and HTTP surface into a runnable
// server, and exposes the cobra commands of the registry binary.
package registry

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/deploys-app/registry/configuration"
	"github.com/deploys-app/registry/registry/auth"
	"github.com/deploys-app/registry/registry/auth/cache"
	"github.com/deploys-app/registry/registry/datastore"
	"github.com/deploys-app/registry/registry/handlers"
	"github.com/deploys-app/registry/registry/storage/driver/factory"
)

// A Registry represents a complete instance of the registry.
type Registry struct {
	config *configuration.Configuration
	server *http.Server
	log    *logrus.Entry
}

// ServeCmd is a cobra command for running the registry.
var ServeCmd = &cobra.Command{
	Use:   "serve <config>",
	Short: "`serve` stores and distributes container images",
	Long:  "`serve` stores and distributes container images.",
	RunE: func(cmd *cobra.Command, args []string) error {
		config, err := resolveConfiguration(args)
		if err != nil {
			return fmt.Errorf("configuration error: %w", err)
		}

		registry, err := NewRegistry(config)
		if err != nil {
			return err
		}

		return registry.ListenAndServe()
	},
}

// NewRegistry creates a new registry from a configuration struct.
func NewRegistry(config *configuration.Configuration) (*Registry, error) {
	log, err := configureLogging(config)
	if err != nil {
		return nil, fmt.Errorf("error configuring logger: %w", err)
	}

	db, err := openDatabase(config, log)
	if err != nil {
		return nil, err
	}

	driver, err := factory.Create(config.Storage.Type(), config.Storage.Parameters())
	if err != nil {
		return nil, fmt.Errorf("error creating storage driver: %w", err)
	}

	var decisions cache.Cache
	if config.Redis.Enabled {
		decisions = cache.NewRedis(redis.NewClient(&redis.Options{
			Addr:     config.Redis.Addr,
			Password: config.Redis.Password,
			DB:       config.Redis.DB,
		}), log)
	} else {
		decisions = cache.NewInMemory()
	}

	authorizer := auth.NewDelegate(auth.DelegateOptions{
		Endpoint:     config.Auth.Endpoint,
		InfoEndpoint: config.Auth.InfoEndpoint,
		Cache:        decisions,
		TTL:          config.Auth.TTL,
		Log:          log,
	})

	app := handlers.NewApp(config, db, driver, authorizer, log)

	return &Registry{
		config: config,
		log:    log,
		server: &http.Server{
			Addr:    config.HTTP.Addr,
			Handler: app,
		},
	}, nil
}

// ListenAndServe runs the registry's HTTP server until SIGTERM or SIGINT, then drains in-flight
// requests before returning.
func (registry *Registry) ListenAndServe() error {
	registry.log.WithField("addr", registry.config.HTTP.Addr).Info("listening on addr")

	errCh := make(chan error, 1)
	go func() {
		errCh <- registry.server.ListenAndServe()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGTERM, syscall.SIGINT)

	select {
	case err := <-errCh:
		return err
	case s := <-quit:
		registry.log.WithField("signal", s).Info("shutting down")

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return registry.server.Shutdown(ctx)
	}
}

func configureLogging(config *configuration.Configuration) (*logrus.Entry, error) {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	level, err := logrus.ParseLevel(string(config.Log.Level))
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", config.Log.Level, err)
	}
	logger.SetLevel(level)

	fields := logrus.Fields{}
	for k, v := range config.Log.Fields {
		fields[k] = v
	}

	return logger.WithFields(fields), nil
}

func openDatabase(config *configuration.Configuration, log *logrus.Entry) (*datastore.DB, error) {
	db, err := datastore.Open(&datastore.DSN{
		Host:           config.Database.Host,
		Port:           config.Database.Port,
		User:           config.Database.User,
		Password:       config.Database.Password,
		DBName:         config.Database.DBName,
		SSLMode:        config.Database.SSLMode,
		SSLCert:        config.Database.SSLCert,
		SSLKey:         config.Database.SSLKey,
		SSLRootCert:    config.Database.SSLRootCert,
		ConnectTimeout: config.Database.ConnectTimeout,
	},
		datastore.WithLogger(log),
		datastore.WithLogLevel(config.Log.Level),
		datastore.WithPoolConfig(&datastore.PoolConfig{
			MaxIdle:     config.Database.Pool.MaxIdle,
			MaxOpen:     config.Database.Pool.MaxOpen,
			MaxLifetime: config.Database.Pool.MaxLifetime,
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to construct database connection: %w", err)
	}

	return db, nil
}

func resolveConfiguration(args []string) (*configuration.Configuration, error) {
	var configurationPath string

	if len(args) > 0 {
		configurationPath = args[0]
	} else if os.Getenv("REGISTRY_CONFIGURATION_PATH") != "" {
		configurationPath = os.Getenv("REGISTRY_CONFIGURATION_PATH")
	}

	if configurationPath == "" {
		return nil, fmt.Errorf("configuration path unspecified")
	}

	fp, err := os.Open(configurationPath)
	if err != nil {
		return nil, err
	}
	defer fp.Close()

	config, err := configuration.Parse(fp)
	if err != nil {
		return nil, fmt.Errorf("error parsing %s: %w", configurationPath, err)
	}

	return config, nil
}
