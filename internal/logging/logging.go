// Package logging wraps zap the way the pack's p2p node packages do:
// zap.NewProduction()/zap.NewDevelopment() behind a single constructor,
// used as a SugaredLogger so call sites read like the teacher's
// log.Printf calls instead of structured zap.Field lists.
package logging

import "go.uber.org/zap"

// New builds a SugaredLogger. debug selects zap's development config
// (human-readable, caller-annotated, debug level) over its production
// config (JSON, info level and above).
func New(debug bool) (*zap.SugaredLogger, error) {
	var logger *zap.Logger
	var err error
	if debug {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		return nil, err
	}
	return logger.Sugar(), nil
}

// Noop returns a logger that discards everything, for tests and
// components constructed without a configured logger.
func Noop() *zap.SugaredLogger {
	return zap.NewNop().Sugar()
}
