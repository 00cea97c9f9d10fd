package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/temirov/autoreel/internal/failure"
)

type State string

const (
	StateIdle            State = "idle"
	StateScriptPending   State = "script_pending"
	StateScriptDone      State = "script_done"
	StateImagePending    State = "image_pending"
	StateImageDone       State = "image_done"
	StateVideoPending    State = "video_pending"
	StateVideoDone       State = "video_done"
	StateSubtitlePending State = "subtitle_pending"
	StateSubtitleDone    State = "subtitle_done"
	StateFailed          State = "failed"
)

var (
	ErrStageInFlight   = errors.New("another stage is in flight")
	ErrStageOutOfOrder = errors.New("stage cannot start before the prior stages complete")
	ErrStageNotPending = errors.New("stage is not pending")
)

const (
	unknownStageFormat    = "unknown stage %q"
	stageInFlightFormat   = "cannot begin %s while %s"
	priorStageMissingFmt  = "cannot begin %s before %s completes"
	failedStageOnlyFormat = "cannot begin %s while %s is failed"
	completeNotPendingFmt = "cannot complete %s in state %s"
)

// StageRunner executes one generation request.
type StageRunner interface {
	Run(ctx context.Context, request GenerationRequest) StageResult
}

// Session tracks one user's progress through the stages. It is owned by the
// caller and safe for use from multiple goroutines.
type Session struct {
	mu          sync.Mutex
	state       State
	outputs     map[Stage]any
	failedStage Stage
	lastError   *failure.Envelope
}

func NewSession() *Session {
	return &Session{state: StateIdle, outputs: make(map[Stage]any)}
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Output returns the payload of a completed stage.
func (s *Session) Output(stage Stage) (any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	payload, ok := s.outputs[stage]
	return payload, ok
}

// LastError returns the envelope that moved the session to Failed.
func (s *Session) LastError() *failure.Envelope {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastError
}

// Begin moves the session into the pending state of stage. The outputs of
// stage and of every later stage are discarded.
func (s *Session) Begin(stage Stage) error {
	position := stage.index()
	if position < 0 {
		return failure.Validation(unknownStageFormat, stage)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state.pending() {
		return failure.Wrap(failure.KindValidation, fmt.Sprintf(stageInFlightFormat, stage, s.state), ErrStageInFlight)
	}
	if s.state == StateFailed && stage != s.failedStage {
		return failure.Wrap(failure.KindValidation, fmt.Sprintf(failedStageOnlyFormat, stage, s.failedStage), ErrStageOutOfOrder)
	}
	for _, prior := range Stages[:position] {
		if _, ok := s.outputs[prior]; !ok {
			return failure.Wrap(failure.KindValidation, fmt.Sprintf(priorStageMissingFmt, stage, prior), ErrStageOutOfOrder)
		}
	}

	for _, downstream := range Stages[position:] {
		delete(s.outputs, downstream)
	}
	s.state = pendingState(stage)
	return nil
}

// Complete records the result of a pending stage.
func (s *Session) Complete(stage Stage, result StageResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != pendingState(stage) {
		return fmt.Errorf(completeNotPendingFmt+": %w", stage, s.state, ErrStageNotPending)
	}
	if result.Success {
		s.outputs[stage] = result.Payload
		s.state = doneState(stage)
		s.failedStage = ""
		s.lastError = nil
		return nil
	}
	s.state = StateFailed
	s.failedStage = stage
	s.lastError = result.Error
	return nil
}

// Execute runs request through runner between Begin and Complete. A request
// the session refuses to start is reported as a failed result.
func (s *Session) Execute(ctx context.Context, runner StageRunner, request GenerationRequest) StageResult {
	stage := request.Stage
	if stage == "" && request.Input != nil {
		stage = request.Input.Stage()
	}
	if err := s.Begin(stage); err != nil {
		return failed(err)
	}
	result := runner.Run(ctx, request)
	if err := s.Complete(stage, result); err != nil {
		return failed(err)
	}
	return result
}

func (state State) pending() bool {
	for _, stage := range Stages {
		if state == pendingState(stage) {
			return true
		}
	}
	return false
}

func pendingState(stage Stage) State { return State(string(stage) + "_pending") }
func doneState(stage Stage) State    { return State(string(stage) + "_done") }
