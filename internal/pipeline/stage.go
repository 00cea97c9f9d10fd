package pipeline

import (
	"github.com/google/uuid"

	"github.com/temirov/autoreel/internal/failure"
)

type Stage string

const (
	StageScript   Stage = "script"
	StageImage    Stage = "image"
	StageVideo    Stage = "video"
	StageSubtitle Stage = "subtitle"
)

// Stages lists every stage in execution order.
var Stages = []Stage{StageScript, StageImage, StageVideo, StageSubtitle}

func (s Stage) index() int {
	for position, stage := range Stages {
		if stage == s {
			return position
		}
	}
	return -1
}

// ParseStage resolves a stage by name.
func ParseStage(name string) (Stage, bool) {
	candidate := Stage(name)
	return candidate, candidate.index() >= 0
}

// StageInput is implemented by the per-stage input types.
type StageInput interface {
	Stage() Stage
}

type ScriptInput struct {
	Topic string
}

type ImageInput struct {
	Text string
}

type VideoInput struct {
	Images []string
	Prompt string
}

type SubtitleInput struct {
	Script string
}

func (ScriptInput) Stage() Stage   { return StageScript }
func (ImageInput) Stage() Stage    { return StageImage }
func (VideoInput) Stage() Stage    { return StageVideo }
func (SubtitleInput) Stage() Stage { return StageSubtitle }

// GenerationRequest is created per user action and discarded once its result is returned.
type GenerationRequest struct {
	ID    string
	Stage Stage
	Input StageInput
}

// NewRequest stamps input with a fresh request id.
func NewRequest(input StageInput) GenerationRequest {
	return GenerationRequest{ID: uuid.NewString(), Stage: input.Stage(), Input: input}
}

type ScriptPayload struct {
	Script string `json:"script"`
}

type ImagePayload struct {
	Images  []string `json:"images"`
	Prompts []string `json:"prompts"`
}

type VideoPayload struct {
	VideoURL string   `json:"video_url"`
	Duration *float64 `json:"duration,omitempty"`
}

type SubtitlePayload struct {
	SRT string `json:"srt"`
}

// StageResult carries exactly one of Payload or Error.
type StageResult struct {
	Success bool
	Payload any
	Error   *failure.Envelope
}

func succeeded(payload any) StageResult {
	return StageResult{Success: true, Payload: payload}
}

func failed(err error) StageResult {
	envelope := failure.EnvelopeFor(err)
	return StageResult{Error: &envelope}
}
