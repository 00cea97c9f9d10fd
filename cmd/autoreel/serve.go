package autoreel

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"strings"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/temirov/autoreel/internal/server"
)

type serveCommandOptions struct {
	configPath string
	address    string
}

func newServeCommand() *cobra.Command {
	options := &serveCommandOptions{configPath: defaultConfigPath}

	command := &cobra.Command{
		Use:   serveCommandUse,
		Short: serveCommandShort,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServeCommand(ctx, *options)
		},
	}

	command.Flags().StringVar(&options.configPath, configFlagName, defaultConfigPath, configFlagUsage)
	command.Flags().StringVar(&options.address, addressFlagName, "", addressFlagUsage)
	return command
}

func runServeCommand(ctx context.Context, options serveCommandOptions) error {
	env, loadErr := loadEnvironment(options.configPath)
	if loadErr != nil {
		return loadErr
	}
	defer func() { _ = env.logger.Sync() }()

	app := buildApplication(env)
	gin.SetMode(gin.ReleaseMode)
	router := server.NewRouter(server.Options{
		Runner:    app.orchestrator,
		Providers: env.credentials.Configured(),
		Static:    app.static,
		Logger:    env.logger,
	})

	address := env.root.Server.Address
	if strings.TrimSpace(options.address) != "" {
		address = strings.TrimSpace(options.address)
	}
	httpServer := &http.Server{Addr: address, Handler: router}

	serveErrors := make(chan error, 1)
	go func() {
		env.logger.Info("listening", zap.String("address", address))
		serveErrors <- httpServer.ListenAndServe()
	}()

	select {
	case serveErr := <-serveErrors:
		if errors.Is(serveErr, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve %s: %w", address, serveErr)
	case <-ctx.Done():
	}

	env.logger.Info("shutting down", zap.Duration("timeout", env.root.Server.ShutdownTimeout()))
	shutdownCtx, cancel := context.WithTimeout(context.Background(), env.root.Server.ShutdownTimeout())
	defer cancel()
	if shutdownErr := httpServer.Shutdown(shutdownCtx); shutdownErr != nil {
		return fmt.Errorf("shutdown: %w", shutdownErr)
	}
	return nil
}
