// Package observability holds the process-wide CLI logger.
package observability

import (
	"strings"

	"github.com/fulmenhq/gofulmen/logging"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// CLILogger is the logger used by command handlers and handed to library
// packages. Entries are written through Fulmen, the gofulmen logger
// configured by InitCLILogger.
//
// It is a no-op logger until InitCLILogger is called so that packages and
// tests can log safely before the root command runs.
var CLILogger = zap.NewNop()

// Fulmen is the gofulmen logger behind CLILogger, nil before init.
var Fulmen *logging.Logger

// InitCLILogger configures CLILogger for the named service with the gofulmen
// CLI preset. Output goes to stderr so that stdout stays reserved for JSONL
// records and streamed job logs.
func InitCLILogger(service string, verbose bool) {
	l, err := logging.NewCLI(service)
	if err != nil {
		return
	}
	if verbose {
		l.SetLevel(logging.DEBUG)
	}
	install(l)
}

// InitCLILoggerWithLevel configures CLILogger from a textual level and a
// logging profile: "STRUCTURED" writes JSON, anything else the console
// format of the CLI preset.
func InitCLILoggerWithLevel(service, level, profile string) {
	l, err := newFulmenLogger(service, profile)
	if err != nil {
		return
	}
	l.SetLevel(logging.ParseSeverity(strings.ToUpper(strings.TrimSpace(level))))
	install(l)
}

func newFulmenLogger(service, profile string) (*logging.Logger, error) {
	if !strings.EqualFold(profile, string(logging.ProfileStructured)) {
		return logging.NewCLI(service)
	}
	return logging.New(&logging.LoggerConfig{
		Profile:      logging.ProfileStructured,
		DefaultLevel: string(logging.INFO),
		Service:      service,
		Environment:  "cli",
		Sinks: []logging.SinkConfig{{
			Type:    "console",
			Format:  "json",
			Console: &logging.ConsoleSinkConfig{Stream: "stderr"},
		}},
	})
}

func install(l *logging.Logger) {
	Fulmen = l
	CLILogger = zap.New(&fulmenCore{l: l})
}

// fulmenCore adapts a gofulmen logger to zapcore.Core so packages that take
// a *zap.Logger share its sinks, level and middleware.
type fulmenCore struct {
	l      *logging.Logger
	fields []zapcore.Field
}

func (c *fulmenCore) Enabled(lvl zapcore.Level) bool {
	return lvl >= c.l.GetLevel().ToZapLevel()
}

func (c *fulmenCore) With(fields []zapcore.Field) zapcore.Core {
	return &fulmenCore{l: c.l, fields: append(c.fields[:len(c.fields):len(c.fields)], fields...)}
}

func (c *fulmenCore) Check(ent zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if c.Enabled(ent.Level) {
		return ce.AddCore(ent, c)
	}
	return ce
}

// Write forwards the entry. Levels above error are logged as errors; zap
// itself panics or exits for them after Write returns.
func (c *fulmenCore) Write(ent zapcore.Entry, fields []zapcore.Field) error {
	all := append(c.fields[:len(c.fields):len(c.fields)], fields...)
	if ent.LoggerName != "" {
		all = append(all, zap.String("logger", ent.LoggerName))
	}
	switch {
	case ent.Level <= zapcore.DebugLevel:
		c.l.Debug(ent.Message, all...)
	case ent.Level == zapcore.InfoLevel:
		c.l.Info(ent.Message, all...)
	case ent.Level == zapcore.WarnLevel:
		c.l.Warn(ent.Message, all...)
	default:
		c.l.Error(ent.Message, all...)
	}
	return nil
}

func (c *fulmenCore) Sync() error { return c.l.Sync() }
