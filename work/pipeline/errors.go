package pipeline

import (
	"fmt"

	"m3u-catalog/work/utils"
)

// Stage names the pipeline step that failed.
type Stage string

const (
	StageLoad   Stage = "load"   // reading the existing catalog
	StageFetch  Stage = "fetch"  // fetching a source playlist
	StageParse  Stage = "parse"  // tokenizing a fetched playlist
	StageProbe  Stage = "probe"  // setting up the reachability prober
	StageWrite  Stage = "write"  // persisting the catalog
	StageReport Stage = "report" // writing the dead stream report
)

// StageError is a fatal pipeline error. It names the stage and the file or
// URL involved; the prior catalog is always left untouched when one is
// returned.
type StageError struct {
	Stage    Stage
	Resource string
	Err      error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s stage failed for %s: %v", e.Stage, utils.LogURL(e.Resource), e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

func stageErr(stage Stage, resource string, err error) *StageError {
	return &StageError{Stage: stage, Resource: resource, Err: err}
}
