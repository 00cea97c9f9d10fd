package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/spf13/afero"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const (
	// EmbeddedRootConfigurationReference identifies the embedded fallback configuration source.
	EmbeddedRootConfigurationReference = "embedded default configuration"
	// ConfigurationPathEnvironmentVariable names a configuration file when no --config path is given.
	ConfigurationPathEnvironmentVariable = "AUTOREEL_CONFIG"

	configurationPathKey              = "config"
	configurationFileName             = "config"
	configurationFileType             = "yaml"
	homeConfigurationDirectory        = ".autoreel"
	loaderHomeEnvironmentVariableName = "HOME"
	loaderWorkingDirectoryErrorFormat = "determine working directory: %w"
	configurationReadErrorFormat      = "read configuration %s: %w"
	configurationReencodeErrorFormat  = "encode configuration %s: %w"
)

var (
	//go:embed default_root_configuration.yaml
	embeddedRootConfigurationBytes []byte
)

// RootConfigurationSource holds the raw configuration data and its origin.
type RootConfigurationSource struct {
	Reference string
	Content   []byte
}

// RootConfigurationLoader finds config.yaml and decodes it into a validated
// Root. The search order is the explicit path, then AUTOREEL_CONFIG, then the
// working directory, then $HOME/.autoreel. The embedded defaults apply when
// none of them holds a file.
type RootConfigurationLoader struct {
	workingDirectory string
	homeDirectory    string
	files            afero.Fs
}

// NewRootConfigurationLoader constructs a loader over files rooted at the given directories.
func NewRootConfigurationLoader(files afero.Fs, workingDirectory string, homeDirectory string) RootConfigurationLoader {
	return RootConfigurationLoader{
		workingDirectory: workingDirectory,
		homeDirectory:    homeDirectory,
		files:            files,
	}
}

// NewDefaultRootConfigurationLoader builds a loader over the OS filesystem using the process working directory and HOME.
func NewDefaultRootConfigurationLoader() (RootConfigurationLoader, error) {
	workingDirectory, workingDirectoryError := os.Getwd()
	if workingDirectoryError != nil {
		return RootConfigurationLoader{}, fmt.Errorf(loaderWorkingDirectoryErrorFormat, workingDirectoryError)
	}
	homeDirectory := os.Getenv(loaderHomeEnvironmentVariableName)
	return NewRootConfigurationLoader(afero.NewOsFs(), workingDirectory, homeDirectory), nil
}

// Load resolves, decodes and validates the configuration. The returned
// reference names the file that was used.
func (loader RootConfigurationLoader) Load(explicitPath string) (Root, string, error) {
	source, sourceErr := loader.Source(explicitPath)
	if sourceErr != nil {
		return Root{}, "", sourceErr
	}
	root, loadErr := LoadRoot(source)
	if loadErr != nil {
		return Root{}, source.Reference, loadErr
	}
	return root, source.Reference, nil
}

// Source resolves the configuration file. A named file that does not exist
// falls through to the search paths; one that exists but cannot be read or
// parsed is an error.
func (loader RootConfigurationLoader) Source(explicitPath string) (RootConfigurationSource, error) {
	for _, namedPath := range []string{explicitPath, loader.environmentPath()} {
		if namedPath == "" {
			continue
		}
		source, found, err := loader.read(namedPath)
		if err != nil {
			return RootConfigurationSource{}, fmt.Errorf(configurationReadErrorFormat, namedPath, err)
		}
		if found {
			return source, nil
		}
	}

	source, found, err := loader.read("")
	if err != nil {
		return RootConfigurationSource{}, fmt.Errorf(configurationReadErrorFormat, source.Reference, err)
	}
	if found {
		return source, nil
	}
	return RootConfigurationSource{Reference: EmbeddedRootConfigurationReference, Content: embeddedRootConfigurationBytes}, nil
}

// read loads path, or searches the configured directories when path is empty.
// YAML syntax is checked while reading.
func (loader RootConfigurationLoader) read(path string) (RootConfigurationSource, bool, error) {
	reader := viper.New()
	reader.SetFs(loader.fileSystem())
	reader.SetConfigType(configurationFileType)
	if path != "" {
		reader.SetConfigFile(path)
	} else {
		reader.SetConfigName(configurationFileName)
		for _, directory := range loader.searchDirectories() {
			reader.AddConfigPath(directory)
		}
	}

	if err := reader.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) || errors.Is(err, fs.ErrNotExist) {
			return RootConfigurationSource{}, false, nil
		}
		return RootConfigurationSource{Reference: reader.ConfigFileUsed()}, false, err
	}

	reference := reader.ConfigFileUsed()
	content, encodeErr := yaml.Marshal(reader.AllSettings())
	if encodeErr != nil {
		return RootConfigurationSource{Reference: reference}, false, fmt.Errorf(configurationReencodeErrorFormat, reference, encodeErr)
	}
	return RootConfigurationSource{Reference: reference, Content: content}, true, nil
}

func (loader RootConfigurationLoader) environmentPath() string {
	environment := viper.New()
	_ = environment.BindEnv(configurationPathKey, ConfigurationPathEnvironmentVariable)
	return environment.GetString(configurationPathKey)
}

func (loader RootConfigurationLoader) searchDirectories() []string {
	var directories []string
	if loader.workingDirectory != "" {
		directories = append(directories, loader.workingDirectory)
	}
	if loader.homeDirectory != "" {
		directories = append(directories, filepath.Join(loader.homeDirectory, homeConfigurationDirectory))
	}
	return directories
}

func (loader RootConfigurationLoader) fileSystem() afero.Fs {
	if loader.files == nil {
		return afero.NewOsFs()
	}
	return loader.files
}
