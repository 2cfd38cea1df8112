package builder

import (
	"log"

	"github.com/rs/zerolog"
)

// zlog is an optional structured logger. If unset, falls back to log.Printf.
var zlog *zerolog.Logger

// SetLogger installs a structured logger used by the builder.
func SetLogger(l zerolog.Logger) { zlog = &l }

func logDebugf(format string, args ...any) {
	if zlog != nil {
		zlog.Debug().Msgf(format, args...)
		return
	}
	log.Printf("builder: "+format, args...)
}

func logInfof(format string, args ...any) {
	if zlog != nil {
		zlog.Info().Msgf(format, args...)
		return
	}
	log.Printf("builder: "+format, args...)
}

func logWarnf(format string, args ...any) {
	if zlog != nil {
		zlog.Warn().Msgf(format, args...)
		return
	}
	log.Printf("builder: WARN "+format, args...)
}
