// cliptrim/logging/logger.go
package logging

import (
	"io"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Canonical field names shared by every component.
const (
	FieldComponent = "component"
	FieldJobID     = "job_id"
	FieldPath      = "path"
	FieldStatus    = "status"
	FieldExitCode  = "exit_code"
	FieldStrategy  = "strategy"
)

// Config captures options for configuring the base logger.
type Config struct {
	Level   string    // "debug", "info", ... defaults to info
	Output  io.Writer // defaults to os.Stdout
	Service string    // attached to every entry, defaults to "cliptrim"
}

var (
	mu   sync.Mutex
	set  bool
	base zerolog.Logger
)

// Configure installs the base logger. The first call wins; later calls are ignored
// so packages that log during init cannot clobber the CLI's settings.
func Configure(cfg Config) {
	mu.Lock()
	defer mu.Unlock()
	if set {
		return
	}
	set = true

	level := zerolog.InfoLevel
	if cfg.Level != "" {
		if parsed, err := zerolog.ParseLevel(cfg.Level); err == nil {
			level = parsed
		}
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339

	writer := cfg.Output
	if writer == nil {
		writer = os.Stdout
	}
	service := cfg.Service
	if service == "" {
		service = "cliptrim"
	}

	base = zerolog.New(writer).With().
		Timestamp().
		Str("service", service).
		Logger()
}

func logger() zerolog.Logger {
	mu.Lock()
	configured := set
	mu.Unlock()
	if !configured {
		Configure(Config{})
	}
	mu.Lock()
	defer mu.Unlock()
	return base
}

// Base returns the configured base logger.
func Base() zerolog.Logger {
	return logger()
}

// WithComponent returns a child logger annotated with the given component name.
func WithComponent(component string) zerolog.Logger {
	return logger().With().Str(FieldComponent, component).Logger()
}
