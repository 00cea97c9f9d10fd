package pipeline

import (
	"sort"
	"strings"
	"unicode/utf8"
)

const (
	DefaultMaxImagePrompts = 4
	DefaultVideoPrompt     = "Create a smooth video transition"

	scenePromptPrefix      = "High quality, cinematic, "
	scenePromptMaxRunes    = 200
	sceneLineMinRunes      = 50
	sceneLineTrimCharacter = "-*•# \t"

	scriptSystemPrompt       = "You are a concise script writer for short social video reels. Keep sentences short and vivid."
	scriptUserPromptTemplate = "Turn this idea into a 6-10 sentence reel script with 4-6 shot cues (SHOT: ...). Keep it punchy. Idea: "
	scriptTemperature        = 0.7
	scriptMaxTokens          = 500

	subtitleSystemPrompt       = "Return only SRT subtitles for the given short script."
	subtitleUserPromptTemplate = "Create 6-10 SRT subtitles that match this short reel script. Keep each caption under 8 words. Script: "
	subtitleTemperature        = 0.6
	subtitleMaxTokens          = 350

	codeFenceMarker = "```"
)

var sceneCues = []string{"scene", "visual", "shot"}

// DeriveImagePrompts picks up to limit lines from text that describe something
// to show, and turns each into an image prompt. Lines mentioning a scene cue or
// longer than fifty characters qualify; when none do, the longest lines are used.
// The result is deterministic and keeps the original line order.
func DeriveImagePrompts(text string, limit int) []string {
	if limit <= 0 {
		limit = DefaultMaxImagePrompts
	}
	lines := candidateLines(text)
	if len(lines) == 0 {
		return nil
	}

	var selected []string
	for _, line := range lines {
		if len(selected) == limit {
			break
		}
		if mentionsSceneCue(line) || utf8.RuneCountInString(line) > sceneLineMinRunes {
			selected = append(selected, line)
		}
	}
	if len(selected) == 0 {
		selected = longestLines(lines, limit)
	}

	prompts := make([]string, 0, len(selected))
	for _, line := range selected {
		prompts = append(prompts, scenePromptPrefix+firstRunes(line, scenePromptMaxRunes))
	}
	return prompts
}

func candidateLines(text string) []string {
	var lines []string
	for _, rawLine := range strings.Split(text, "\n") {
		line := strings.TrimSpace(strings.TrimLeft(strings.TrimSpace(rawLine), sceneLineTrimCharacter))
		if line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}

func mentionsSceneCue(line string) bool {
	lowered := strings.ToLower(line)
	for _, cue := range sceneCues {
		if strings.Contains(lowered, cue) {
			return true
		}
	}
	return false
}

func longestLines(lines []string, limit int) []string {
	order := make([]int, len(lines))
	for index := range order {
		order[index] = index
	}
	sort.SliceStable(order, func(left, right int) bool {
		return utf8.RuneCountInString(lines[order[left]]) > utf8.RuneCountInString(lines[order[right]])
	})
	if len(order) > limit {
		order = order[:limit]
	}
	sort.Ints(order)
	selected := make([]string, 0, len(order))
	for _, index := range order {
		selected = append(selected, lines[index])
	}
	return selected
}

func firstRunes(text string, limit int) string {
	if utf8.RuneCountInString(text) <= limit {
		return text
	}
	return string([]rune(text)[:limit])
}

func scriptRequest(topic string) LLMRequest {
	return LLMRequest{
		SystemPrompt: scriptSystemPrompt,
		UserPrompt:   scriptUserPromptTemplate + strings.TrimSpace(topic),
		Temperature:  scriptTemperature,
		MaxTokens:    scriptMaxTokens,
	}
}

func subtitleRequest(script string) LLMRequest {
	return LLMRequest{
		SystemPrompt: subtitleSystemPrompt,
		UserPrompt:   subtitleUserPromptTemplate + strings.TrimSpace(script),
		Temperature:  subtitleTemperature,
		MaxTokens:    subtitleMaxTokens,
	}
}

// stripCodeFence removes a surrounding markdown fence such as ```srt ... ```.
func stripCodeFence(text string) string {
	trimmed := strings.TrimSpace(text)
	if !strings.HasPrefix(trimmed, codeFenceMarker) {
		return trimmed
	}
	trimmed = strings.TrimPrefix(trimmed, codeFenceMarker)
	if newline := strings.Index(trimmed, "\n"); newline >= 0 {
		trimmed = trimmed[newline+1:]
	} else {
		trimmed = ""
	}
	trimmed = strings.TrimSuffix(strings.TrimSpace(trimmed), codeFenceMarker)
	return strings.TrimSpace(trimmed)
}
