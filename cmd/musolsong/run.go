package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/musolsong/musolsong-core/internal/device"
	"github.com/musolsong/musolsong-core/internal/device/remote"
	"github.com/musolsong/musolsong-core/internal/device/sim"
	"github.com/musolsong/musolsong-core/internal/engine"
	"github.com/musolsong/musolsong-core/internal/infrastructure/config"
	"github.com/musolsong/musolsong-core/internal/infrastructure/database"
	"github.com/musolsong/musolsong-core/internal/infrastructure/influxdb"
	"github.com/musolsong/musolsong-core/internal/infrastructure/logging"
	"github.com/musolsong/musolsong-core/internal/infrastructure/mqtt"
	"github.com/musolsong/musolsong-core/internal/sequence"
)

// runSequence is the body of the root command: parse, validate, and
// unless --validate-only was given, execute the sequence.
func runSequence(opts *Options) error {
	cfg, err := loadConfig(opts.ConfigPath)
	if err != nil {
		return err
	}

	level := cfg.Logging.Level
	if opts.Verbose {
		level = "debug"
	}
	// Logs go to stderr; stdout carries only the JSON report.
	logger := logging.NewWriter(os.Stderr, level, cfg.Logging.Format, version)

	doc, err := sequence.ParseFile(opts.SequenceYAML)
	if err != nil {
		return err
	}
	if opts.ProjectName != "" {
		doc.ProjectName = opts.ProjectName
	}
	if opts.ProjectNumber != 0 {
		doc.ProjectNumber = opts.ProjectNumber
	}

	// One validator serves both paths, so --validate-only and a real
	// run always agree on what a valid sequence is.
	validator := sequence.NewValidator(nil)

	if opts.ValidateOnly {
		return validateOnly(validator, doc)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	return execute(ctx, cfg, logger, validator, doc)
}

// loadConfig resolves the configuration path and loads it. An explicit
// path must exist; the default path falls back to built-in defaults so
// a bare simulation run needs no config file at all.
func loadConfig(path string) (*config.Config, error) {
	explicit := path != ""
	if !explicit {
		if env := os.Getenv("MUSOLSONG_CONFIG"); env != "" {
			path = env
			explicit = true
		} else {
			path = defaultConfigPath
		}
	}

	if !explicit {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			logging.Default().Info("no config file found, using built-in defaults", "path", path)
			return config.Default(), nil
		}
	}
	return config.Load(path)
}

// validateOnly runs validation and prints its result without touching
// any instrument.
func validateOnly(validator *sequence.Validator, doc *sequence.Document) error {
	_, validationErrs := validator.Validate(doc)

	out := struct {
		Valid  bool                       `json:"valid"`
		Errors []sequence.ValidationError `json:"errors,omitempty"`
	}{Valid: len(validationErrs) == 0, Errors: validationErrs}

	if err := printJSON(out); err != nil {
		return err
	}
	if len(validationErrs) > 0 {
		return fmt.Errorf("sequence is invalid: %d error(s)", len(validationErrs))
	}
	return nil
}

// execute wires the configured collaborators and runs the sequence.
func execute(ctx context.Context, cfg *config.Config, logger *logging.Logger, validator *sequence.Validator, doc *sequence.Document) error {
	engineOpts := []engine.Option{engine.WithValidator(validator)}

	// MQTT backs both the real instruments and run progress events.
	var broker *mqtt.Client
	if cfg.MQTT.Enabled {
		var err error
		broker, err = mqtt.Connect(cfg.MQTT)
		if err != nil {
			return fmt.Errorf("connecting to MQTT broker: %w", err)
		}
		defer func() {
			if closeErr := broker.Close(); closeErr != nil {
				logger.Error("closing MQTT client", "error", closeErr)
			}
		}()
		broker.SetLogger(logger)
		broker.SetOnConnect(func() {
			logger.Info("MQTT reconnected")
		})
		broker.SetOnDisconnect(func(err error) {
			logger.Warn("MQTT disconnected", "error", err)
		})
		engineOpts = append(engineOpts, engine.WithNotifier(newMQTTNotifier(broker, logger)))
		logger.Info("MQTT connected", "host", cfg.MQTT.Broker.Host, "port", cfg.MQTT.Broker.Port)
	}

	instruments, cleanup, err := buildInstruments(cfg, broker, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	if cfg.Database.Enabled {
		db, err := database.Open(database.Config{
			Path:        cfg.Database.Path,
			WALMode:     cfg.Database.WALMode,
			BusyTimeout: cfg.Database.BusyTimeout,
		})
		if err != nil {
			return fmt.Errorf("opening run-history database: %w", err)
		}
		defer func() {
			if closeErr := db.Close(); closeErr != nil {
				logger.Error("closing database", "error", closeErr)
			}
		}()
		if err := db.Migrate(ctx); err != nil {
			return fmt.Errorf("migrating run-history database: %w", err)
		}
		engineOpts = append(engineOpts, engine.WithRepository(engine.NewSQLiteRepository(db.DB)))
		logger.Info("run history enabled", "path", db.Path())
	}

	if cfg.InfluxDB.Enabled {
		influx, err := influxdb.Connect(cfg.InfluxDB)
		if err != nil && !errors.Is(err, influxdb.ErrDisabled) {
			// Timing metrics are not worth refusing an observation run.
			logger.Warn("InfluxDB unavailable, timings will not be recorded", "error", err)
		}
		if err == nil {
			defer influx.Close()
			influx.SetOnError(func(err error) {
				logger.Error("InfluxDB write error", "error", err)
			})
			engineOpts = append(engineOpts, engine.WithRecorder(influx))
			logger.Info("step timing metrics enabled", "url", cfg.InfluxDB.URL)
		}
	}

	eng := engine.New(instruments, logger, engineOpts...)

	report, runErr := eng.Execute(ctx, doc)
	if report != nil {
		publishReport(broker, logger, report)
		if err := printJSON(report); err != nil {
			return err
		}
	}
	return runErr
}

// buildInstruments returns the instrument set for the configured mode:
// in-process simulators, or MQTT bridge clients for the real bench.
func buildInstruments(cfg *config.Config, broker *mqtt.Client, logger *logging.Logger) ([]device.Interface, func(), error) {
	if cfg.Simulation {
		logger.Info("simulation mode, using in-process instruments")
		return []device.Interface{
			sim.NewInstrument(device.RolePolarimeter),
			sim.NewInstrument(device.RoleSpectrograph),
		}, func() {}, nil
	}

	if broker == nil {
		return nil, nil, errors.New("real instruments require mqtt.enabled: true")
	}

	var instruments []device.Interface
	var remotes []*remote.Instrument
	cleanup := func() {
		for _, inst := range remotes {
			if err := inst.Close(); err != nil {
				logger.Error("closing instrument", "role", inst.Role(), "error", err)
			}
		}
	}

	for _, role := range device.AllRoles() {
		inst, err := remote.New(role, broker, cfg.AckTimeout(), logger)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("connecting %s bridge: %w", role, err)
		}
		remotes = append(remotes, inst)
		instruments = append(instruments, inst)
	}
	logger.Info("instrument bridges subscribed", "count", len(instruments))
	return instruments, cleanup, nil
}

// publishReport sends the final report to the run's report topic.
// Best effort: a failed publish is logged, the report still reaches
// stdout.
func publishReport(broker *mqtt.Client, logger *logging.Logger, report *engine.Report) {
	if broker == nil {
		return
	}
	payload, err := json.Marshal(report)
	if err != nil {
		logger.Error("marshalling report", "error", err)
		return
	}
	var topics mqtt.Topics
	if err := broker.Publish(topics.RunReport(report.RunID), payload, 1, false); err != nil {
		logger.Error("publishing report", "error", err)
	}
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("writing report: %w", err)
	}
	return nil
}
