// Package pipeline orchestrates the complete tree walk → convert or copy → report flow.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/book-expert/logger"
	"github.com/google/uuid"

	"github.com/book-expert/heic-to-jpeg/internal/codec"
	"github.com/book-expert/heic-to-jpeg/internal/events"
)

var (
	// ErrNilConverter indicates that New was called without an image converter.
	ErrNilConverter = errors.New("image converter is required")
	// ErrNilLogger indicates that New was called without a logger.
	ErrNilLogger = errors.New("logger is required")
)

// ImageConverter defines the interface for re-encoding one image file.
type ImageConverter interface {
	Convert(ctx context.Context, srcPath, dstPath string) error
}

// Observer receives the conversion event stream. The pipeline never calls
// Observe concurrently, even when several workers are running.
type Observer interface {
	Observe(event events.Event)
}

type nopObserver struct{}

func (nopObserver) Observe(events.Event) {}

// Pipeline mirrors an input tree into an output tree. It keeps no state
// between runs; every Run owns its counters.
type Pipeline struct {
	converter ImageConverter
	logger    *logger.Logger
	workers   int
}

// New creates a pipeline. A worker count below one runs sequentially.
func New(converter ImageConverter, log *logger.Logger, workers int) (*Pipeline, error) {
	if converter == nil {
		return nil, ErrNilConverter
	}

	if log == nil {
		return nil, ErrNilLogger
	}

	if workers < 1 {
		workers = 1
	}

	return &Pipeline{
		converter: converter,
		logger:    log,
		workers:   workers,
	}, nil
}

// Prepare validates request, resolves the output root and counts the input
// files. It performs no filesystem writes. ErrEmptyInput is returned together
// with a plan whose TotalFiles is zero.
func (p *Pipeline) Prepare(request Request) (Plan, error) {
	outputRoot, err := DeriveOutputRoot(request.InputRoot, request.Placement, request.OutputRoot)
	if err != nil {
		return Plan{}, fmt.Errorf("resolve output directory: %w", err)
	}

	plan := Plan{
		RunID:      uuid.NewString(),
		InputRoot:  request.InputRoot,
		OutputRoot: outputRoot,
		TotalFiles: countFiles(request.InputRoot, outputRoot),
	}

	if plan.TotalFiles == 0 {
		p.logger.Info("No files found in %s", request.InputRoot)

		return plan, fmt.Errorf("%s: %w", request.InputRoot, ErrEmptyInput)
	}

	p.logger.Info("Found %d files to process in %s", plan.TotalFiles, request.InputRoot)

	return plan, nil
}

// Convert runs Prepare and Run. The returned summary is never nil.
func (p *Pipeline) Convert(ctx context.Context, request Request, observer Observer) (*Summary, error) {
	plan, err := p.Prepare(request)
	if err != nil {
		summary := &Summary{
			StartedAt:  time.Now(),
			RunID:      plan.RunID,
			OutputRoot: plan.OutputRoot,
			Outcome:    OutcomeAborted,
		}

		if errors.Is(err, ErrEmptyInput) {
			summary.Outcome = OutcomeEmpty
		}

		return summary, err
	}

	return p.Run(ctx, plan, observer)
}

// Run converts the tree described by plan, streaming events to observer.
//
// Per-file failures are reported as FileFailed events and counted in the
// summary; they never stop the run. Cancellation of ctx is checked before
// every file; a canceled run emits no Completed event and leaves the files
// already written in place.
func (p *Pipeline) Run(ctx context.Context, plan Plan, observer Observer) (*Summary, error) {
	summary := &Summary{
		StartedAt:  time.Now(),
		RunID:      plan.RunID,
		OutputRoot: plan.OutputRoot,
		TotalFiles: plan.TotalFiles,
	}

	if plan.TotalFiles == 0 {
		summary.Outcome = OutcomeEmpty

		return summary, fmt.Errorf("%s: %w", plan.InputRoot, ErrEmptyInput)
	}

	err := p.checkPlan(plan)
	if err != nil {
		summary.finish(true)

		return summary, err
	}

	if observer == nil {
		observer = nopObserver{}
	}

	p.logger.Info(
		"Starting conversion: input=%s output=%s files=%d workers=%d",
		plan.InputRoot,
		plan.OutputRoot,
		plan.TotalFiles,
		p.workers,
	)

	mkdirErr := os.MkdirAll(plan.OutputRoot, defaultDirPermission)
	if mkdirErr != nil {
		summary.finish(true)

		return summary, fmt.Errorf("%w %s: %w", ErrOutputCreation, plan.OutputRoot, mkdirErr)
	}

	state := &runState{
		pipeline:   p,
		observer:   observer,
		summary:    summary,
		plan:       plan,
		outputRoot: normalizePath(plan.OutputRoot),
	}

	state.walk(ctx, plan.InputRoot)

	if state.isAborted() {
		summary.finish(true)
		p.logger.Warn(
			"Conversion aborted after %d of %d files: %v",
			summary.Processed,
			summary.TotalFiles,
			ctx.Err(),
		)

		return summary, fmt.Errorf("conversion aborted: %w", ctx.Err())
	}

	summary.finish(false)
	state.emit(events.Completed{
		Converted:  summary.Converted,
		Copied:     summary.Copied,
		Failed:     summary.Failed,
		OutputRoot: summary.OutputRoot,
	})

	p.reportResults(summary)

	return summary, nil
}

// checkPlan re-validates the invariants of plan before the first write.
func (p *Pipeline) checkPlan(plan Plan) error {
	err := validateInputRoot(plan.InputRoot)
	if err != nil {
		return err
	}

	if plan.OutputRoot == "" {
		return fmt.Errorf("empty output path: %w", ErrInvalidInput)
	}

	if samePath(plan.InputRoot, plan.OutputRoot) {
		return fmt.Errorf("%s: %w", plan.OutputRoot, ErrConflict)
	}

	return nil
}

// reportResults logs summary statistics about the run.
func (p *Pipeline) reportResults(summary *Summary) {
	p.logger.Success(
		"Conversion complete: %d converted, %d copied, %d failed of %d files in %v",
		summary.Converted,
		summary.Copied,
		summary.Failed,
		summary.TotalFiles,
		summary.Duration,
	)

	if summary.Processed > 0 {
		averageTime := summary.Duration / time.Duration(summary.Processed)
		p.logger.Info("Average time per file: %v", averageTime)
	}
}

// fileJob is one file scheduled inside a directory.
type fileJob struct {
	// collision is set when an earlier sibling already claimed outputPath.
	collision    error
	name         string
	relativePath string
	sourcePath   string
	outputPath   string
	action       Action
}

// runState holds everything owned by a single Run.
type runState struct {
	observer   Observer
	pipeline   *Pipeline
	summary    *Summary
	plan       Plan
	outputRoot string
	mutex      sync.Mutex
	aborted    bool
}

// walk processes dirPath and then its subdirectories. All files of a
// directory are finished before the next directory is entered.
func (r *runState) walk(ctx context.Context, dirPath string) {
	if r.isAborted() {
		return
	}

	relativeDir, err := filepath.Rel(r.plan.InputRoot, dirPath)
	if err != nil {
		relativeDir = filepath.Base(dirPath)
	}

	outputDir := filepath.Join(r.plan.OutputRoot, relativeDir)

	if relativeDir != "." {
		mkdirErr := os.MkdirAll(outputDir, defaultDirPermission)
		if mkdirErr != nil {
			r.failSubtree(ctx, dirPath, fmt.Errorf("%w %s: %w", ErrOutputCreation, outputDir, mkdirErr))

			return
		}

		r.emit(events.FolderEntered{RelativePath: relativeDir})
	}

	listing, err := listDirectory(dirPath)
	if err != nil {
		r.pipeline.logger.Warn("Skipping unreadable directory: %v", err)

		return
	}

	r.processJobs(ctx, r.planJobs(dirPath, outputDir, listing.files))

	for _, dir := range listing.dirs {
		childPath := filepath.Join(dirPath, dir)
		if normalizePath(childPath) == r.outputRoot {
			continue
		}

		r.walk(ctx, childPath)
	}
}

// planJobs classifies the files of one directory and detects output name collisions.
func (r *runState) planJobs(dirPath, outputDir string, files []string) []fileJob {
	jobs := make([]fileJob, 0, len(files))
	claimed := make(map[string]string, len(files))

	for _, name := range files {
		action := ActionCopy
		outputName := name

		if codec.IsConvertible(name) {
			action = ActionConvert
			outputName = codec.OutputName(name)
		}

		sourcePath := filepath.Join(dirPath, name)

		relativePath, err := filepath.Rel(r.plan.InputRoot, sourcePath)
		if err != nil {
			relativePath = name
		}

		job := fileJob{
			collision:    nil,
			name:         name,
			relativePath: relativePath,
			sourcePath:   sourcePath,
			outputPath:   filepath.Join(outputDir, outputName),
			action:       action,
		}

		if owner, taken := claimed[outputName]; taken {
			job.collision = fmt.Errorf("%s already written from %s: %w", outputName, owner, ErrOutputCollision)
		} else {
			claimed[outputName] = name
		}

		jobs = append(jobs, job)
	}

	return jobs
}

// processJobs runs jobs sequentially, or on a bounded worker pool when more
// than one worker is configured. It returns once every job has finished.
func (r *runState) processJobs(ctx context.Context, jobs []fileJob) {
	workers := min(r.pipeline.workers, len(jobs))

	if workers <= 1 {
		for _, job := range jobs {
			if !r.processJob(ctx, job) {
				return
			}
		}

		return
	}

	jobChannel := make(chan fileJob, len(jobs))
	for _, job := range jobs {
		jobChannel <- job
	}

	close(jobChannel)

	var waitGroup sync.WaitGroup
	for range workers {
		waitGroup.Add(1)

		go r.worker(ctx, &waitGroup, jobChannel)
	}

	waitGroup.Wait()
}

// worker drains jobs until the channel is closed.
func (r *runState) worker(ctx context.Context, waitGroup *sync.WaitGroup, jobs <-chan fileJob) {
	defer waitGroup.Done()

	for job := range jobs {
		r.processJob(ctx, job)
	}
}

// processJob handles one file and reports false once the run is canceled.
func (r *runState) processJob(ctx context.Context, job fileJob) bool {
	if ctx.Err() != nil {
		r.markAborted()

		return false
	}

	result := r.execute(ctx, job)

	if !result.Success && ctx.Err() != nil && errors.Is(result.Error, ctx.Err()) {
		r.markAborted()

		return false
	}

	r.record(result)

	return true
}

// execute converts or copies one file and returns its explicit outcome.
func (r *runState) execute(ctx context.Context, job fileJob) FileResult {
	result := FileResult{
		ProcessedAt:  time.Now(),
		Error:        nil,
		SourcePath:   job.sourcePath,
		OutputPath:   job.outputPath,
		RelativePath: job.relativePath,
		Name:         job.name,
		Action:       job.action,
		Success:      false,
	}

	err := job.collision
	if err == nil {
		switch job.action {
		case ActionConvert:
			err = r.pipeline.converter.Convert(ctx, job.sourcePath, job.outputPath)
		case ActionCopy:
			err = copyFile(job.sourcePath, job.outputPath)
		}
	}

	if err != nil {
		result.Error = &FileError{
			Err:          err,
			Name:         job.name,
			RelativePath: job.relativePath,
			Action:       job.action,
		}

		return result
	}

	result.Success = true

	return result
}

// failSubtree reports every file under dirPath as failed with cause.
func (r *runState) failSubtree(ctx context.Context, dirPath string, cause error) {
	r.pipeline.logger.Error("Skipping subtree %s: %v", dirPath, cause)

	for _, relativePath := range collectFiles(r.plan.InputRoot, dirPath) {
		if ctx.Err() != nil {
			r.markAborted()

			return
		}

		action := ActionCopy
		if codec.IsConvertible(relativePath) {
			action = ActionConvert
		}

		r.record(FileResult{
			ProcessedAt:  time.Now(),
			Error:        &FileError{Err: cause, Name: filepath.Base(relativePath), RelativePath: relativePath, Action: action},
			SourcePath:   filepath.Join(r.plan.InputRoot, relativePath),
			OutputPath:   "",
			RelativePath: relativePath,
			Name:         filepath.Base(relativePath),
			Action:       action,
			Success:      false,
		})
	}
}

// record folds result into the summary and emits its event followed by a progress report.
func (r *runState) record(result FileResult) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	r.summary.Processed++

	if result.Success {
		switch result.Action {
		case ActionConvert:
			r.summary.Converted++
			r.observer.Observe(events.FileConverted{Name: result.Name, OutputName: filepath.Base(result.OutputPath)})
		case ActionCopy:
			r.summary.Copied++
			r.observer.Observe(events.FileCopied{Name: result.Name})
		}
	} else {
		fileErr := asFileError(result)
		r.summary.Failed++
		r.summary.Failures = append(r.summary.Failures, fileErr)
		r.observer.Observe(events.FileFailed{Name: result.Name, Reason: fileErr.Err.Error()})
		r.pipeline.logger.Error("Failed %s: %v", result.RelativePath, fileErr.Err)
	}

	r.observer.Observe(events.Progress{Processed: r.summary.Processed, Total: r.summary.TotalFiles})
}

func asFileError(result FileResult) *FileError {
	var fileErr *FileError
	if errors.As(result.Error, &fileErr) {
		return fileErr
	}

	return &FileError{
		Err:          result.Error,
		Name:         result.Name,
		RelativePath: result.RelativePath,
		Action:       result.Action,
	}
}

func (r *runState) emit(event events.Event) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	r.observer.Observe(event)
}

func (r *runState) markAborted() {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	r.aborted = true
}

func (r *runState) isAborted() bool {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	return r.aborted
}
