package autoreel

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/pflag"

	"github.com/temirov/autoreel/internal/pipeline"
)

var _ pflag.Value = (*subtitlesChoice)(nil)

// subtitlesChoice backs --subtitles. The flag takes an optional value, so in
// "generate cats --subtitles no" the trailing boolean is read as the flag's
// value instead of as part of the topic.
type subtitlesChoice struct {
	enabled bool
	given   bool
}

func newSubtitlesChoice() *subtitlesChoice {
	return &subtitlesChoice{enabled: true}
}

// register adds the flag. Written bare, it means true.
func (choice *subtitlesChoice) register(flags *pflag.FlagSet) {
	flag := flags.VarPF(choice, subtitlesFlagName, "", subtitlesFlagUsage)
	flag.NoOptDefVal = strconv.FormatBool(true)
}

func (choice *subtitlesChoice) String() string {
	if choice == nil {
		return ""
	}
	return strconv.FormatBool(choice.enabled)
}

func (choice *subtitlesChoice) Set(input string) error {
	enabled, ok := parseBoolChoice(input)
	if !ok {
		return fmt.Errorf(invalidSubtitlesValueFormat, input, subtitlesFlagName)
	}
	choice.enabled = enabled
	choice.given = true
	return nil
}

func (choice *subtitlesChoice) Type() string {
	return "bool"
}

// validateArgs accepts TOPIC, or TOPIC followed by a boolean once the flag was given.
func (choice *subtitlesChoice) validateArgs(args []string) error {
	if len(args) == 2 && choice.given {
		if _, ok := parseBoolChoice(args[1]); ok {
			return nil
		}
		return fmt.Errorf(invalidSubtitlesValueFormat, args[1], subtitlesFlagName)
	}
	if len(args) != 1 {
		return fmt.Errorf(topicArgumentCountFormat, len(args))
	}
	return nil
}

// topic joins the positional arguments, consuming a trailing boolean as the
// flag's value when the flag was given without one.
func (choice *subtitlesChoice) topic(args []string) string {
	if choice.given && len(args) > 1 {
		if enabled, ok := parseBoolChoice(args[len(args)-1]); ok {
			choice.enabled = enabled
			args = args[:len(args)-1]
		}
	}
	return strings.Join(args, " ")
}

// lastStage stops the run at the video stage when subtitles are disabled.
func (choice *subtitlesChoice) lastStage(through pipeline.Stage) pipeline.Stage {
	if !choice.enabled && through == pipeline.StageSubtitle {
		return pipeline.StageVideo
	}
	return through
}

func parseBoolChoice(input string) (bool, bool) {
	switch strings.ToLower(strings.TrimSpace(input)) {
	case "", "true", "t", "1", "yes", "y", "on":
		return true, true
	case "false", "f", "0", "no", "n", "off":
		return false, true
	default:
		return false, false
	}
}
