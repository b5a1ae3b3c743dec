package logging

import (
	"fmt"

	"go.uber.org/zap"
)

// NewLogger builds the process logger: JSON output in prod, console output
// everywhere else.
func NewLogger(env string) (*zap.Logger, error) {
	var (
		logger *zap.Logger
		err    error
	)

	if env == "prod" {
		logger, err = zap.NewProduction()
	} else {
		logger, err = zap.NewDevelopment()
	}
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}

	return logger.With(zap.String("env", env)), nil
}
