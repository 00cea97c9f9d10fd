package autoreel

import (
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/temirov/autoreel/internal/ark"
	"github.com/temirov/autoreel/internal/assethost"
	"github.com/temirov/autoreel/internal/config"
	"github.com/temirov/autoreel/internal/fal"
	"github.com/temirov/autoreel/internal/fsops"
	"github.com/temirov/autoreel/internal/gemini"
	"github.com/temirov/autoreel/internal/kling"
	"github.com/temirov/autoreel/internal/llm"
	"github.com/temirov/autoreel/internal/pipeline"
	"github.com/temirov/autoreel/internal/placeholder"
	"github.com/temirov/autoreel/internal/retry"
	"github.com/temirov/autoreel/internal/server"
)

// application is the wired pipeline plus the static mount of the local asset host.
type application struct {
	orchestrator *pipeline.Orchestrator
	static       *server.StaticMount
}

// buildApplication turns configuration and credentials into adapters. Stage
// providers are validated by config.LoadRoot, so every name has a builder.
func buildApplication(env environment) application {
	root := env.root
	credentials := env.credentials
	logger := env.logger

	textClients := map[string]func(model string) pipeline.LLMClient{
		config.ProviderOpenRouter: func(model string) pipeline.LLMClient {
			settings := root.Providers.OpenRouter
			return llm.Adapter{
				Client: llm.Client{
					HTTPBaseURL: settings.Endpoint,
					APIKey:      credentials.OpenRouterAPIKey,
					Referer:     settings.Referer,
					Title:       settings.Title,
				},
				DefaultModel: firstNonBlank(model, settings.Model),
			}
		},
		config.ProviderGemini: func(model string) pipeline.LLMClient {
			settings := root.Providers.Gemini
			return gemini.Adapter{APIKey: credentials.GeminiAPIKey, DefaultModel: firstNonBlank(model, settings.Model), Endpoint: settings.Endpoint}
		},
	}

	falClient := func() fal.Client {
		settings := root.Providers.Fal
		client := fal.NewClient(credentials.FalKey, logger)
		client.RunBaseURL = settings.RunEndpoint
		client.QueueBaseURL = firstNonBlank(settings.QueueEndpoint, fal.DefaultQueueBaseURL)
		client.QueueOnlyModels = settings.QueueOnlyModels
		if interval := config.Seconds(settings.PollIntervalSeconds); interval > 0 {
			client.PollInterval = interval
		}
		return client
	}
	arkProvider := func() ark.Provider {
		settings := root.Providers.Ark
		return ark.Provider{
			Runtime:      ark.NewRuntime(credentials.ArkAPIKey, settings.Endpoint),
			ImageModel:   settings.ImageModel,
			ImageSize:    settings.ImageSize,
			Watermark:    settings.Watermark,
			VideoModel:   settings.VideoModel,
			Resolution:   settings.Resolution,
			Duration:     settings.Duration,
			PollInterval: config.Seconds(settings.PollIntervalSeconds),
			Logger:       logger,
		}
	}

	imageGenerators := map[string]func() pipeline.ImageGenerator{
		config.ProviderFal: func() pipeline.ImageGenerator {
			settings := root.Providers.Fal
			return fal.ImageAdapter{Client: falClient(), Model: settings.ImageModel, ImageSize: settings.ImageSize, Inline: settings.InlineImages}
		},
		config.ProviderArk: func() pipeline.ImageGenerator { return arkProvider() },
	}
	videoGenerators := map[string]func() pipeline.VideoGenerator{
		config.ProviderFal: func() pipeline.VideoGenerator {
			settings := root.Providers.Fal
			return fal.VideoAdapter{Client: falClient(), Model: settings.VideoModel, Duration: settings.VideoDuration}
		},
		config.ProviderKling: func() pipeline.VideoGenerator {
			settings := root.Providers.Kling
			return kling.Provider{
				BaseURL:      settings.Endpoint,
				AccessKey:    credentials.KlingAccessKey,
				SecretKey:    credentials.KlingSecretKey,
				Model:        settings.Model,
				Mode:         settings.Mode,
				Duration:     settings.Duration,
				PollInterval: config.Seconds(settings.PollIntervalSeconds),
				Logger:       logger,
			}
		},
		config.ProviderArk: func() pipeline.VideoGenerator { return arkProvider() },
		config.ProviderPlaceholder: func() pipeline.VideoGenerator {
			settings := root.Providers.Placeholder
			return placeholder.Provider{VideoURL: settings.VideoURL, Duration: settings.DurationSeconds}
		},
	}

	assetClient := &http.Client{Timeout: root.Assets.Timeout()}
	host, static := buildAssetHost(root, credentials, assetClient)
	bridge := assethost.NewBridge(host, root.Assets.Size, logger)
	bridge.HTTPClient = assetClient

	stages := root.Stages
	orchestrator := &pipeline.Orchestrator{
		Script:   textClients[stages.Script.Provider](stages.Script.Model),
		Subtitle: textClients[stages.Subtitle.Provider](stages.Subtitle.Model),
		Images:   imageGenerators[stages.Image.Provider](),
		Video:    videoGenerators[stages.Video.Provider](),
		Bridge:   bridge,
		Retry:    retry.NewPolicy(logger),
		Options: pipeline.Options{
			ScriptTimeout:       stages.Script.Timeout(),
			ImageTimeout:        stages.Image.Timeout(),
			VideoTimeout:        stages.VideoBudget(),
			VideoBudget:         stages.VideoBudget(),
			SubtitleTimeout:     stages.Subtitle.Timeout(),
			AssetTimeout:        root.Assets.Timeout(),
			MaxImagePrompts:     stages.Image.MaxPrompts,
			MinSuccessfulImages: stages.Image.MinSuccessful,
			ImageConcurrency:    stages.Image.Concurrency,
			DefaultVideoPrompt:  stages.Video.DefaultPrompt,
		},
		Logger: logger,
	}
	if stages.Image.Rehost {
		orchestrator.Rehost = bridge
	}
	logger.Debug("pipeline wired",
		zap.String("script", stages.Script.Provider),
		zap.String("image", stages.Image.Provider),
		zap.String("video", stages.Video.Provider),
		zap.String("subtitle", stages.Subtitle.Provider),
		zap.String("assets", root.Assets.Host),
		zap.Bool("rehost_images", stages.Image.Rehost),
	)
	return application{orchestrator: orchestrator, static: static}
}

func buildAssetHost(root config.Root, credentials config.Credentials, client *http.Client) (assethost.Host, *server.StaticMount) {
	if root.Assets.Host == config.AssetHostCloudinary {
		settings := root.Providers.Cloudinary
		return assethost.Cloudinary{
			Endpoint:   settings.Endpoint,
			CloudName:  credentials.CloudinaryCloudName,
			APIKey:     credentials.CloudinaryAPIKey,
			APISecret:  credentials.CloudinaryAPISecret,
			Folder:     settings.Folder,
			HTTPClient: client,
		}, nil
	}

	files := fsops.NewOS()
	prefix := "/" + strings.Trim(root.Assets.URLPrefix, "/")
	host := assethost.Local{
		Files:     fsops.NewOps(files),
		Directory: root.Assets.Directory,
		BaseURL:   strings.TrimRight(root.Assets.BaseURL, "/") + prefix,
	}
	return host, &server.StaticMount{URLPrefix: prefix, FileSystem: files.HTTPDir(root.Assets.Directory)}
}

func firstNonBlank(values ...string) string {
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			return trimmed
		}
	}
	return ""
}
