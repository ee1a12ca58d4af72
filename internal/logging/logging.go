// Package logging centralizes the zerolog setup shared by the authorization
// server, resource server, and resolver processes.
package logging

import (
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Init configures the global zerolog logger. In development (the default)
// it writes human-readable console output; set LWS_ENV=production for JSON
// output suitable for log aggregation.
func Init(service string) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	if strings.EqualFold(os.Getenv("LWS_ENV"), "production") {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Str("service", service).Logger()
	} else {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr}).With().Str("service", service).Logger()
	}
}

// TokenPrefix returns up to the first 12 characters of a token, for logging
// only. Full tokens must never be logged (see spec §7).
func TokenPrefix(token string) string {
	if len(token) <= 12 {
		return token
	}
	return token[:12]
}
