package dataset

import (
	"errors"
	"fmt"
)

// Stage names a step of a sync cycle.
type Stage string

const (
	StageVersion  Stage = "version"
	StageDownload Stage = "download"
	StageExtract  Stage = "extract"
	StagePatch    Stage = "patch"
	StageSwap     Stage = "swap"
	StageCleanup  Stage = "cleanup"
)

// ErrStage matches every StageError with errors.Is.
var ErrStage = errors.New("dataset: sync stage failed")

// StageError records which stage of a cycle failed.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("dataset: %s failed: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

func (e *StageError) Is(target error) bool { return target == ErrStage }

func stageErr(stage Stage, err error) error {
	if err == nil {
		return nil
	}
	return &StageError{Stage: stage, Err: err}
}
