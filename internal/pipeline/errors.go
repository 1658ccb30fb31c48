package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/MimeLyc/faceless-pipeline/internal/jobs"
	"github.com/MimeLyc/faceless-pipeline/internal/script"
)

type FailureKind int

const (
	// TransientUnitFailure is one unit failing; the stage stays incomplete
	// and the unit is retried on the next run.
	TransientUnitFailure FailureKind = iota
	// OptionalStageFailure is a thumbnail or subtitle failure. It never
	// blocks completion.
	OptionalStageFailure
	// StageFailure ends the run as failed.
	StageFailure
	// ConsistencyFailure is a recorded artifact missing on disk. It is
	// repaired silently and never reported in a JobResult.
	ConsistencyFailure
)

func (k FailureKind) String() string {
	switch k {
	case TransientUnitFailure:
		return "TransientUnitFailure"
	case OptionalStageFailure:
		return "OptionalStageFailure"
	case StageFailure:
		return "StageFailure"
	case ConsistencyFailure:
		return "ConsistencyFailure"
	default:
		return "Unknown"
	}
}

type StageError struct {
	Kind     FailureKind
	Stage    jobs.Stage
	Scene    int
	Platform script.Platform
	Message  string
	Context  map[string]any
	Cause    error
}

func NewError(kind FailureKind, stage jobs.Stage, message string) *StageError {
	return &StageError{
		Kind:    kind,
		Stage:   stage,
		Message: message,
		Context: make(map[string]any),
	}
}

func WrapError(err error, kind FailureKind, stage jobs.Stage, message string) *StageError {
	e := NewError(kind, stage, message)
	e.Cause = err
	return e
}

func (e *StageError) Error() string {
	var parts []string
	where := "pipeline"
	if e.Stage.Valid() {
		where = e.Stage.String()
	}
	head := fmt.Sprintf("[%s] %s", e.Kind, where)
	if e.Scene > 0 {
		head += fmt.Sprintf(" scene %d", e.Scene)
	}
	if e.Platform != "" {
		head += fmt.Sprintf(" %s", e.Platform)
	}
	parts = append(parts, head+": "+e.Message)

	if len(e.Context) > 0 {
		keys := make([]string, 0, len(e.Context))
		for k := range e.Context {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		ctxParts := make([]string, 0, len(keys))
		for _, k := range keys {
			ctxParts = append(ctxParts, fmt.Sprintf("%s=%v", k, e.Context[k]))
		}
		parts = append(parts, "context: "+strings.Join(ctxParts, ", "))
	}
	if e.Cause != nil {
		parts = append(parts, fmt.Sprintf("cause: %v", e.Cause))
	}
	return strings.Join(parts, " | ")
}

func (e *StageError) Unwrap() error {
	return e.Cause
}

func (e *StageError) WithContext(key string, value any) *StageError {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

func (e *StageError) WithScene(n int) *StageError {
	e.Scene = n
	return e
}

func (e *StageError) WithPlatform(p script.Platform) *StageError {
	e.Platform = p
	return e
}

// Timeout reports whether the failure came from a deadline.
func (e *StageError) Timeout() bool {
	return errors.Is(e.Cause, context.DeadlineExceeded)
}

func IsFailureKind(err error, kind FailureKind) bool {
	var se *StageError
	if errors.As(err, &se) {
		return se.Kind == kind
	}
	return false
}

// Advice is a short operator hint for a failure.
func Advice(err *StageError) string {
	if err == nil {
		return ""
	}
	if err.Timeout() {
		return "The call timed out; rerun to retry only the unfinished units"
	}
	switch err.Kind {
	case TransientUnitFailure:
		return "Rerun the same script; completed units are kept"
	case OptionalStageFailure:
		return "Videos are complete; some thumbnails or subtitles were not produced"
	case StageFailure:
		switch err.Stage {
		case jobs.StageVideo:
			return "Check that ffmpeg is installed and that images and audio were generated"
		default:
			return "Check the script file and the API credentials"
		}
	default:
		return "Review the error details"
	}
}

// SafeExecute runs fn and turns a panic into an error.
func SafeExecute(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("runtime error: %v", r)
		}
	}()
	return fn()
}

// safeCall runs a collaborator call that returns a value, recovering panics.
func safeCall[T any](fn func() (T, error)) (out T, err error) {
	err = SafeExecute(func() error {
		var callErr error
		out, callErr = fn()
		return callErr
	})
	return out, err
}
