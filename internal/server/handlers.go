package server

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/temirov/autoreel/internal/failure"
	"github.com/temirov/autoreel/internal/pipeline"
)

type scriptBody struct {
	Prompt string `json:"prompt" binding:"required,notblank"`
}

type imageBody struct {
	Prompt string `json:"prompt" binding:"required,notblank"`
}

type videoBody struct {
	Images []string `json:"images" binding:"required,min=1,dive,notblank"`
	Prompt string   `json:"prompt"`
}

type subtitleBody struct {
	Script string `json:"script" binding:"required,notblank"`
}

func (s *Server) handleScript(c *gin.Context) {
	var body scriptBody
	if !s.bind(c, &body) {
		return
	}
	s.run(c, pipeline.ScriptInput{Topic: body.Prompt})
}

func (s *Server) handleImage(c *gin.Context) {
	var body imageBody
	if !s.bind(c, &body) {
		return
	}
	s.run(c, pipeline.ImageInput{Text: body.Prompt})
}

func (s *Server) handleVideo(c *gin.Context) {
	var body videoBody
	if !s.bind(c, &body) {
		return
	}
	s.run(c, pipeline.VideoInput{Images: body.Images, Prompt: body.Prompt})
}

func (s *Server) handleSubtitle(c *gin.Context) {
	var body subtitleBody
	if !s.bind(c, &body) {
		return
	}
	s.run(c, pipeline.SubtitleInput{Script: body.Script})
}

func (s *Server) bind(c *gin.Context, target any) bool {
	if err := c.ShouldBindJSON(target); err != nil {
		s.fail(c, failure.EnvelopeFor(failure.New(failure.KindValidation, bindingMessage(err))))
		return false
	}
	return true
}

// run detaches the stage from client disconnects. A stage abandoned by its
// caller still runs to completion and its result is dropped.
func (s *Server) run(c *gin.Context, input pipeline.StageInput) {
	if s.runner == nil {
		s.fail(c, failure.EnvelopeFor(failure.New(failure.KindProvider, "pipeline is not configured")))
		return
	}
	request := pipeline.NewRequest(input)
	if requestID := c.GetString(requestIDKey); requestID != "" {
		request.ID = requestID
	}
	result := s.runner.Run(context.WithoutCancel(c.Request.Context()), request)
	if !result.Success {
		s.fail(c, *result.Error)
		return
	}
	c.JSON(http.StatusOK, result.Payload)
}

func (s *Server) fail(c *gin.Context, envelope failure.Envelope) {
	status := envelope.HTTPStatus
	if status == 0 {
		status = failure.StatusFor(envelope.Kind)
	}
	s.logger.Debug("request failed", zap.String("kind", string(envelope.Kind)), zap.Int("status", status))
	c.AbortWithStatusJSON(status, envelope)
}
