// Package config provides functionality for loading and parsing bulkq relay
// configuration from a YAML file. The package includes utilities to convert
// the parsed configuration into a form usable by the relay daemon runtime,
// initializing the sink, the optional journal, and the queue thresholds.
package config

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/harbor-io/bulkq/daemon"
	"github.com/harbor-io/bulkq/journal"
	"github.com/harbor-io/bulkq/sink"
	"github.com/kapetan-io/tackle/clock"
	"github.com/kapetan-io/tackle/color"
)

type File struct {
	Logging Logging `yaml:"logging"`
	Queue   Queue   `yaml:"queue"`
	Sink    Sink    `yaml:"sink"`
	Journal Journal `yaml:"journal"`
	// ConfigFile is the path to the config file that was loaded
	ConfigFile string
}

type Logging struct {
	Level   string `yaml:"level"`
	Handler string `yaml:"handler"`
}

type Queue struct {
	MaxItems      int           `yaml:"max-items"`
	FlushInterval time.Duration `yaml:"flush-interval"`
	TrackRows     bool          `yaml:"track-rows"`
}

type Sink struct {
	Endpoint string `yaml:"endpoint"`
}

type Journal struct {
	Driver     string `yaml:"driver"`
	StorageDir string `yaml:"storage-dir"`
}

func ApplyConfigFile(conf *daemon.Config, file File, w io.Writer) error {
	if err := setupLogger(file, w, conf); err != nil {
		return err
	}

	if err := setupSink(file, conf); err != nil {
		return err
	}

	if err := setupJournal(file, conf); err != nil {
		return err
	}

	conf.Queue.MaxItems = file.Queue.MaxItems
	conf.Queue.FlushInterval = clock.Duration(file.Queue.FlushInterval)
	conf.Queue.TrackRows = file.Queue.TrackRows

	// Apply defaults if there are required config items missing from the provided config file
	if err := conf.SetDefaults(); err != nil {
		return err
	}

	if file.ConfigFile != "" {
		conf.Log.Info("Loaded config from file", "file", file.ConfigFile)
	}
	return nil
}

func setupLogger(file File, w io.Writer, d *daemon.Config) error {
	switch file.Logging.Handler {
	case "color", "":
		d.Log = slog.New(color.NewLog(&color.LogOptions{
			HandlerOptions: slog.HandlerOptions{
				Level: toLogLevel(file.Logging.Level),
			},
			Writer: w,
		}))
		return nil
	case "text":
		d.Log = slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{
			Level: toLogLevel(file.Logging.Level),
		}))
		return nil
	case "json":
		d.Log = slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
			Level: toLogLevel(file.Logging.Level),
		}))
		return nil
	default:
		return fmt.Errorf("invalid handler; '%s' is not one of (color, text, json)",
			file.Logging.Handler)
	}
}

func toLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "error":
		return slog.LevelError
	case "warn":
		return slog.LevelWarn
	case "info":
		return slog.LevelInfo
	default:
		return slog.LevelInfo
	}
}

func setupSink(file File, d *daemon.Config) error {
	if file.Sink.Endpoint == "" {
		return fmt.Errorf("invalid sink; 'endpoint' is required")
	}
	s, err := sink.NewHTTP(sink.HTTPConfig{Endpoint: file.Sink.Endpoint})
	if err != nil {
		return err
	}
	d.Queue.Sink = s
	return nil
}

func setupJournal(file File, d *daemon.Config) error {
	switch strings.ToLower(file.Journal.Driver) {
	case "":
		// No journal configured; buffered rows do not survive a restart
		return nil
	case "memory":
		d.Queue.Journal = journal.NewMemory()
	case "bolt":
		if file.Journal.StorageDir == "" {
			return fmt.Errorf("invalid journal; 'storage-dir' is required for the bolt driver")
		}
		d.Queue.Journal = journal.NewBolt(journal.BoltConfig{
			StorageDir: file.Journal.StorageDir,
		})
	case "badger":
		if file.Journal.StorageDir == "" {
			return fmt.Errorf("invalid journal; 'storage-dir' is required for the badger driver")
		}
		d.Queue.Journal = journal.NewBadger(journal.BadgerConfig{
			StorageDir: file.Journal.StorageDir,
			Log:        d.Log,
		})
	default:
		return fmt.Errorf("invalid driver; '%s' is not one of (memory, bolt, badger)",
			file.Journal.Driver)
	}
	return nil
}
