// Package logging builds the zap logger described by the logging section of
// the configuration.
package logging

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	FormatConsole = "console"
	FormatJSON    = "json"

	unknownFormatErrorFormat = "unknown logging format %q (expected console or json)"
	invalidLevelErrorFormat  = "parse logging level %q: %w"
)

// New returns a logger writing to stderr. An empty level means info and an
// empty format means console.
func New(level string, format string) (*zap.Logger, error) {
	parsedLevel := zapcore.InfoLevel
	if trimmed := strings.TrimSpace(level); trimmed != "" {
		var err error
		parsedLevel, err = zapcore.ParseLevel(trimmed)
		if err != nil {
			return nil, fmt.Errorf(invalidLevelErrorFormat, level, err)
		}
	}

	var configuration zap.Config
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", FormatConsole:
		configuration = zap.NewDevelopmentConfig()
		configuration.Development = false
	case FormatJSON:
		configuration = zap.NewProductionConfig()
	default:
		return nil, fmt.Errorf(unknownFormatErrorFormat, format)
	}
	configuration.Level = zap.NewAtomicLevelAt(parsedLevel)
	return configuration.Build()
}
