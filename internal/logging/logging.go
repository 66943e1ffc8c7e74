// Package logging configures the structured logger shared by the control
// process and every worker process.
package logging

import (
	"os"

	"github.com/sirupsen/logrus"
)

// Fields commonly attached to log entries across the core.
const (
	FieldAccountID     = "account_id"
	FieldSymbol        = "symbol"
	FieldCorrelationID = "correlation_id"
	FieldComponent     = "component"
)

// New builds a logrus logger writing JSON in live-shaped environments and
// human-readable text otherwise, applied uniformly across the control
// process and every worker process.
func New(level string, json bool) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(os.Stdout)

	if json {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	logger.SetLevel(lvl)

	return logger
}

// Component returns a logger scoped to a single core component, e.g.
// "config", "terminal", "engine".
func Component(base *logrus.Logger, component string) *logrus.Entry {
	return base.WithField(FieldComponent, component)
}

// ForAccount returns a logger scoped to a single account.
func ForAccount(base *logrus.Logger, accountID int64) *logrus.Entry {
	return base.WithField(FieldAccountID, accountID)
}
