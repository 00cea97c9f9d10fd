package autoreel

const (
	rootCommandUse                               = "autoreel"
	rootCommandShort                             = "Turn a topic into a short video reel"
	defaultConfigPath                            = "./config.yaml"
	configFlagName                               = "config"
	configFlagUsage                              = "Path to config.yaml"
	addressFlagName                              = "address"
	addressFlagUsage                             = "Listen address (overrides server.address)"
	subtitlesFlagName                            = "subtitles"
	subtitlesFlagUsage                           = "Generate subtitles after the video"
	throughFlagName                              = "through"
	throughFlagUsage                             = "Last stage to run: script, image, video or subtitle"
	serveCommandUse                              = "serve"
	serveCommandShort                            = "Serve the generation stages over HTTP"
	generateCommandUse                           = "generate TOPIC"
	generateCommandShort                         = "Run the stages for TOPIC and print their outputs as JSON"
	healthCommandUse                             = "health"
	healthCommandShort                           = "Show which providers have credentials"
	configuredLabel                              = "configured"
	missingLabel                                 = "missing"
	configurationLoaderInitializationErrorFormat = "initialize configuration loader: %w"
	configurationSourceResolutionErrorFormat     = "resolve configuration source: %w"
	rootConfigurationLoadErrorFormat             = "load root configuration %s: %w"
	credentialResolutionErrorFormat              = "resolve credentials: %w"
	loggerInitializationErrorFormat              = "initialize logger: %w"
	unknownStageErrorFormat                      = "unknown stage %q (expected script, image, video or subtitle)"
	stageFailedErrorFormat                       = "%s stage failed: %s: %s"
	progressLineFormat                           = "[%s] %s: %s\n"
	invalidSubtitlesValueFormat                  = "invalid boolean value %q for --%s"
	topicArgumentCountFormat                     = "expected exactly one TOPIC argument, got %d"
)
