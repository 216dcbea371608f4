// Package sysutil holds process-level helpers shared by the proposald
// subcommands and the storage bootstrap: log level setup and environment flag
// parsing.
package sysutil

import (
	"strings"

	"github.com/rs/zerolog"
	gormlogger "gorm.io/gorm/logger"
)

// ParseLevel maps a LOG_LEVEL value to a zerolog level. Matching is
// case-insensitive, "warning" is accepted for warn, and empty or unknown
// values mean info.
func ParseLevel(lvl string) zerolog.Level {
	s := strings.ToLower(strings.TrimSpace(lvl))
	if s == "warning" {
		s = "warn"
	}
	l, err := zerolog.ParseLevel(s)
	if err != nil || s == "" || l == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return l
}

// SetLogLevel sets the global zerolog level from a LOG_LEVEL value and
// returns the level applied.
func SetLogLevel(lvl string) zerolog.Level {
	l := ParseLevel(lvl)
	zerolog.SetGlobalLevel(l)
	return l
}

// GormLogLevel picks the GORM logger verbosity matching a zerolog level.
// SQL statements are only traced at debug and below.
func GormLogLevel(l zerolog.Level) gormlogger.LogLevel {
	switch {
	case l <= zerolog.DebugLevel:
		return gormlogger.Info
	case l <= zerolog.WarnLevel:
		return gormlogger.Warn
	case l <= zerolog.ErrorLevel:
		return gormlogger.Error
	default:
		return gormlogger.Silent
	}
}

// IsTruthy reports whether an environment value means true: "1", "true",
// "yes", "y" or "on", case-insensitive.
func IsTruthy(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "y", "on":
		return true
	default:
		return false
	}
}

// FirstNonEmpty returns the first value that is not blank, or "".
func FirstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
