package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	environmentPrefix     = "AUTOREEL"
	serverAddressKey      = "server.address"
	loggingLevelKey       = "logging.level"
	loggingFormatKey      = "logging.format"
	credentialKeyPrefix   = "credentials."
	dotenvLoadErrorFormat = "load .env: %w"
)

// Credentials holds the provider secrets resolved once at startup.
type Credentials struct {
	OpenRouterAPIKey    string
	GeminiAPIKey        string
	FalKey              string
	KlingAccessKey      string
	KlingSecretKey      string
	ArkAPIKey           string
	CloudinaryCloudName string
	CloudinaryAPIKey    string
	CloudinaryAPISecret string
}

// Configured reports, per provider, whether every secret it needs is present.
func (credentials Credentials) Configured() map[string]bool {
	return map[string]bool{
		ProviderOpenRouter: credentials.OpenRouterAPIKey != "",
		ProviderGemini:     credentials.GeminiAPIKey != "",
		ProviderFal:        credentials.FalKey != "",
		ProviderKling:      credentials.KlingAccessKey != "" && credentials.KlingSecretKey != "",
		ProviderArk:        credentials.ArkAPIKey != "",
		ProviderCloudinary: credentials.CloudinaryCloudName != "" && credentials.CloudinaryAPIKey != "" && credentials.CloudinaryAPISecret != "",
	}
}

// ResolveCredentials reads .env files when present, then resolves every
// configured *_env variable through viper. Without paths it loads ./.env.
func ResolveCredentials(root Root, dotenvPaths ...string) (Credentials, error) {
	if err := godotenv.Load(dotenvPaths...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Credentials{}, fmt.Errorf(dotenvLoadErrorFormat, err)
	}

	environment := viper.New()
	resolve := func(name string, variable string) string {
		variable = strings.TrimSpace(variable)
		if variable == "" {
			return ""
		}
		key := credentialKeyPrefix + name
		_ = environment.BindEnv(key, variable)
		return strings.TrimSpace(environment.GetString(key))
	}

	providers := root.Providers
	return Credentials{
		OpenRouterAPIKey:    resolve("openrouter_api_key", providers.OpenRouter.APIKeyEnv),
		GeminiAPIKey:        resolve("gemini_api_key", providers.Gemini.APIKeyEnv),
		FalKey:              resolve("fal_key", providers.Fal.APIKeyEnv),
		KlingAccessKey:      resolve("kling_access_key", providers.Kling.AccessKeyEnv),
		KlingSecretKey:      resolve("kling_secret_key", providers.Kling.SecretKeyEnv),
		ArkAPIKey:           resolve("ark_api_key", providers.Ark.APIKeyEnv),
		CloudinaryCloudName: resolve("cloudinary_cloud_name", providers.Cloudinary.CloudNameEnv),
		CloudinaryAPIKey:    resolve("cloudinary_api_key", providers.Cloudinary.APIKeyEnv),
		CloudinaryAPISecret: resolve("cloudinary_api_secret", providers.Cloudinary.APISecretEnv),
	}, nil
}

// ApplyEnvironmentOverrides lets AUTOREEL_SERVER_ADDRESS, AUTOREEL_LOGGING_LEVEL
// and AUTOREEL_LOGGING_FORMAT replace the file values.
func ApplyEnvironmentOverrides(root Root) Root {
	environment := viper.New()
	environment.SetEnvPrefix(environmentPrefix)
	environment.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	environment.AutomaticEnv()

	if address := strings.TrimSpace(environment.GetString(serverAddressKey)); address != "" {
		root.Server.Address = address
	}
	if level := strings.TrimSpace(environment.GetString(loggingLevelKey)); level != "" {
		root.Logging.Level = level
	}
	if format := strings.TrimSpace(environment.GetString(loggingFormatKey)); format != "" {
		root.Logging.Format = format
	}
	return root
}
