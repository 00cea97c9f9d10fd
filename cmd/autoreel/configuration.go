package autoreel

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/temirov/autoreel/internal/config"
	"github.com/temirov/autoreel/internal/logging"
)

func loadRootConfiguration(configurationPath string) (config.Root, error) {
	configurationLoader, loaderErr := config.NewDefaultRootConfigurationLoader()
	if loaderErr != nil {
		return config.Root{}, fmt.Errorf(configurationLoaderInitializationErrorFormat, loaderErr)
	}
	if configurationPath == defaultConfigPath {
		configurationPath = ""
	}
	rootConfiguration, reference, loadErr := configurationLoader.Load(configurationPath)
	if loadErr != nil {
		if reference == "" {
			return config.Root{}, fmt.Errorf(configurationSourceResolutionErrorFormat, loadErr)
		}
		return config.Root{}, fmt.Errorf(rootConfigurationLoadErrorFormat, reference, loadErr)
	}
	return config.ApplyEnvironmentOverrides(rootConfiguration), nil
}

// environment is everything a command needs once configuration is resolved.
type environment struct {
	root        config.Root
	credentials config.Credentials
	logger      *zap.Logger
}

func loadEnvironment(configurationPath string) (environment, error) {
	rootConfiguration, loadErr := loadRootConfiguration(configurationPath)
	if loadErr != nil {
		return environment{}, loadErr
	}
	credentials, credentialsErr := config.ResolveCredentials(rootConfiguration)
	if credentialsErr != nil {
		return environment{}, fmt.Errorf(credentialResolutionErrorFormat, credentialsErr)
	}
	logger, loggerErr := logging.New(rootConfiguration.Logging.Level, rootConfiguration.Logging.Format)
	if loggerErr != nil {
		return environment{}, fmt.Errorf(loggerInitializationErrorFormat, loggerErr)
	}
	return environment{root: rootConfiguration, credentials: credentials, logger: logger}, nil
}
