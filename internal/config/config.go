package config

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	ProviderOpenRouter  = "openrouter"
	ProviderGemini      = "gemini"
	ProviderFal         = "fal"
	ProviderKling       = "kling"
	ProviderArk         = "ark"
	ProviderPlaceholder = "placeholder"
	ProviderCloudinary  = "cloudinary"

	AssetHostLocal      = "local"
	AssetHostCloudinary = "cloudinary"

	rootConfigurationEmptyContentErrorFormat = "root configuration %s is empty"
	rootConfigurationUnmarshalErrorFormat    = "unmarshal root configuration %s: %w"
	unknownStageProviderErrorFormat          = "stages.%s.provider %q is not one of %s"
	nonPositiveTimeoutErrorFormat            = "stages.%s.timeout_seconds must be positive"
	unknownAssetHostErrorFormat              = "assets.host %q is not one of local, cloudinary"
	nonPositiveAssetSizeErrorMessage         = "assets.size must be greater than 0"
	nonPositiveMaxPromptsErrorMessage        = "stages.image.max_prompts must be greater than 0"
	minSuccessfulRangeErrorFormat            = "stages.image.min_successful must be between 1 and %d"
	missingServerAddressErrorMessage         = "server.address is required"
)

var (
	textProviders  = []string{ProviderOpenRouter, ProviderGemini}
	imageProviders = []string{ProviderFal, ProviderArk}
	videoProviders = []string{ProviderFal, ProviderKling, ProviderArk, ProviderPlaceholder}
)

type Root struct {
	Server    Server    `yaml:"server"`
	Logging   Logging   `yaml:"logging"`
	Providers Providers `yaml:"providers"`
	Stages    Stages    `yaml:"stages"`
	Assets    Assets    `yaml:"assets"`
}

type Server struct {
	Address                string `yaml:"address"`
	ShutdownTimeoutSeconds int    `yaml:"shutdown_timeout_seconds"`
}

type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type Providers struct {
	OpenRouter struct {
		Endpoint  string `yaml:"endpoint"`
		APIKeyEnv string `yaml:"api_key_env"`
		Model     string `yaml:"model"`
		Referer   string `yaml:"referer"`
		Title     string `yaml:"title"`
	} `yaml:"openrouter"`
	Gemini struct {
		Endpoint  string `yaml:"endpoint"`
		APIKeyEnv string `yaml:"api_key_env"`
		Model     string `yaml:"model"`
	} `yaml:"gemini"`
	Fal struct {
		RunEndpoint         string   `yaml:"run_endpoint"`
		QueueEndpoint       string   `yaml:"queue_endpoint"`
		APIKeyEnv           string   `yaml:"api_key_env"`
		ImageModel          string   `yaml:"image_model"`
		ImageSize           string   `yaml:"image_size"`
		InlineImages        bool     `yaml:"inline_images"`
		VideoModel          string   `yaml:"video_model"`
		VideoDuration       string   `yaml:"video_duration"`
		QueueOnlyModels     []string `yaml:"queue_only_models"`
		PollIntervalSeconds int      `yaml:"poll_interval_seconds"`
	} `yaml:"fal"`
	Kling struct {
		Endpoint            string `yaml:"endpoint"`
		AccessKeyEnv        string `yaml:"access_key_env"`
		SecretKeyEnv        string `yaml:"secret_key_env"`
		Model               string `yaml:"model"`
		Mode                string `yaml:"mode"`
		Duration            string `yaml:"duration"`
		PollIntervalSeconds int    `yaml:"poll_interval_seconds"`
	} `yaml:"kling"`
	Ark struct {
		Endpoint            string `yaml:"endpoint"`
		APIKeyEnv           string `yaml:"api_key_env"`
		ImageModel          string `yaml:"image_model"`
		ImageSize           string `yaml:"image_size"`
		Watermark           bool   `yaml:"watermark"`
		VideoModel          string `yaml:"video_model"`
		Resolution          string `yaml:"resolution"`
		Duration            int    `yaml:"duration"`
		PollIntervalSeconds int    `yaml:"poll_interval_seconds"`
	} `yaml:"ark"`
	Placeholder struct {
		VideoURL        string  `yaml:"video_url"`
		DurationSeconds float64 `yaml:"duration_seconds"`
	} `yaml:"placeholder"`
	Cloudinary struct {
		Endpoint     string `yaml:"endpoint"`
		CloudNameEnv string `yaml:"cloud_name_env"`
		APIKeyEnv    string `yaml:"api_key_env"`
		APISecretEnv string `yaml:"api_secret_env"`
		Folder       string `yaml:"folder"`
	} `yaml:"cloudinary"`
}

type Stage struct {
	Provider       string `yaml:"provider"`
	Model          string `yaml:"model"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// Timeout is the per-attempt budget of the stage.
func (stage Stage) Timeout() time.Duration {
	return time.Duration(stage.TimeoutSeconds) * time.Second
}

type Stages struct {
	Script Stage `yaml:"script"`
	Image  struct {
		Stage         `yaml:",inline"`
		MaxPrompts    int  `yaml:"max_prompts"`
		MinSuccessful int  `yaml:"min_successful"`
		Concurrency   int  `yaml:"concurrency"`
		Rehost        bool `yaml:"rehost"`
	} `yaml:"image"`
	Video struct {
		Stage              `yaml:",inline"`
		DefaultPrompt      string `yaml:"default_prompt"`
		PollTimeoutSeconds int    `yaml:"poll_timeout_seconds"`
	} `yaml:"video"`
	Subtitle Stage `yaml:"subtitle"`
}

type Assets struct {
	Host           string `yaml:"host"`
	Size           int    `yaml:"size"`
	Directory      string `yaml:"directory"`
	URLPrefix      string `yaml:"url_prefix"`
	BaseURL        string `yaml:"base_url"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// Timeout bounds one upload to or download from the asset host. It falls back
// to thirty seconds when unset.
func (assets Assets) Timeout() time.Duration {
	if assets.TimeoutSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(assets.TimeoutSeconds) * time.Second
}

// LoadRoot parses the provided configuration source and validates required fields.
func LoadRoot(source RootConfigurationSource) (Root, error) {
	if len(source.Content) == 0 {
		return Root{}, fmt.Errorf(rootConfigurationEmptyContentErrorFormat, source.Reference)
	}

	var rootConfiguration Root
	if err := yaml.Unmarshal(source.Content, &rootConfiguration); err != nil {
		return Root{}, fmt.Errorf(rootConfigurationUnmarshalErrorFormat, source.Reference, err)
	}
	if err := rootConfiguration.Validate(); err != nil {
		return Root{}, err
	}
	return rootConfiguration, nil
}

func (root Root) Validate() error {
	if strings.TrimSpace(root.Server.Address) == "" {
		return errors.New(missingServerAddressErrorMessage)
	}
	stageChecks := []struct {
		name      string
		stage     Stage
		providers []string
	}{
		{name: "script", stage: root.Stages.Script, providers: textProviders},
		{name: "image", stage: root.Stages.Image.Stage, providers: imageProviders},
		{name: "video", stage: root.Stages.Video.Stage, providers: videoProviders},
		{name: "subtitle", stage: root.Stages.Subtitle, providers: textProviders},
	}
	for _, check := range stageChecks {
		if !slices.Contains(check.providers, strings.TrimSpace(check.stage.Provider)) {
			return fmt.Errorf(unknownStageProviderErrorFormat, check.name, check.stage.Provider, strings.Join(check.providers, ", "))
		}
		if check.stage.TimeoutSeconds <= 0 {
			return fmt.Errorf(nonPositiveTimeoutErrorFormat, check.name)
		}
	}
	if root.Stages.Image.MaxPrompts <= 0 {
		return errors.New(nonPositiveMaxPromptsErrorMessage)
	}
	if root.Stages.Image.MinSuccessful < 1 || root.Stages.Image.MinSuccessful > root.Stages.Image.MaxPrompts {
		return fmt.Errorf(minSuccessfulRangeErrorFormat, root.Stages.Image.MaxPrompts)
	}
	if root.Assets.Host != AssetHostLocal && root.Assets.Host != AssetHostCloudinary {
		return fmt.Errorf(unknownAssetHostErrorFormat, root.Assets.Host)
	}
	if root.Assets.Size <= 0 {
		return errors.New(nonPositiveAssetSizeErrorMessage)
	}
	return nil
}

// VideoBudget bounds the whole video invocation, retries included. Polling
// providers may extend it from timeout_seconds up to poll_timeout_seconds.
func (stages Stages) VideoBudget() time.Duration {
	budget := stages.Video.Timeout()
	if poll := time.Duration(stages.Video.PollTimeoutSeconds) * time.Second; poll > budget {
		return poll
	}
	return budget
}

// ShutdownTimeout falls back to ten seconds when unset.
func (server Server) ShutdownTimeout() time.Duration {
	if server.ShutdownTimeoutSeconds <= 0 {
		return 10 * time.Second
	}
	return time.Duration(server.ShutdownTimeoutSeconds) * time.Second
}

// Seconds converts a configured poll interval, leaving zero for the adapter default.
func Seconds(value int) time.Duration {
	if value <= 0 {
		return 0
	}
	return time.Duration(value) * time.Second
}
