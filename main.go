package main

import (
	"os"

	"go.uber.org/zap"

	"github.com/temirov/autoreel/cmd/autoreel"
)

func main() {
	logger := zap.Must(zap.NewProduction())

	executionErr := autoreel.Execute()
	if executionErr != nil {
		logger.Error("command execution failed", zap.Error(executionErr))
		_ = logger.Sync()
		os.Exit(1)
	}

	_ = logger.Sync()
}
