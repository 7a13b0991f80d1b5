package pipeline_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/book-expert/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/book-expert/heic-to-jpeg/internal/events"
	"github.com/book-expert/heic-to-jpeg/internal/observer"
	"github.com/book-expert/heic-to-jpeg/internal/pipeline"
)

const corruptPayload = "corrupt"

var errCorruptImage = errors.New("unsupported image data")

// mockConverter writes a marker JPEG or fails on corrupt payloads.
type mockConverter struct{}

func (m *mockConverter) Convert(ctx context.Context, srcPath, dstPath string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := os.ReadFile(srcPath)
	if err != nil {
		return err
	}

	if string(data) == corruptPayload {
		return errCorruptImage
	}

	return os.WriteFile(dstPath, append([]byte("jpeg:"), data...), 0o600)
}

func newTestLogger(t *testing.T) *logger.Logger {
	t.Helper()

	log, err := logger.New(t.TempDir(), "test.log")
	require.NoError(t, err)

	return log
}

func newTestPipeline(t *testing.T, workers int) *pipeline.Pipeline {
	t.Helper()

	p, err := pipeline.New(&mockConverter{}, newTestLogger(t), workers)
	require.NoError(t, err)

	return p
}

// buildTree creates files (relative path → content) under a fresh input directory.
func buildTree(t *testing.T, files map[string]string) string {
	t.Helper()

	root := filepath.Join(t.TempDir(), "photos")
	require.NoError(t, os.MkdirAll(root, 0o750))

	for relativePath, content := range files {
		fullPath := filepath.Join(root, relativePath)
		require.NoError(t, os.MkdirAll(filepath.Dir(fullPath), 0o750))
		require.NoError(t, os.WriteFile(fullPath, []byte(content), 0o600))
	}

	return root
}

// listTree returns the sorted relative paths of all files and directories under root.
func listTree(t *testing.T, root string) (files, dirs []string) {
	t.Helper()

	err := filepath.WalkDir(root, func(path string, entry fs.DirEntry, walkErr error) error {
		require.NoError(t, walkErr)

		relativePath, err := filepath.Rel(root, path)
		require.NoError(t, err)

		if relativePath == "." {
			return nil
		}

		if entry.IsDir() {
			dirs = append(dirs, filepath.ToSlash(relativePath))
		} else {
			files = append(files, filepath.ToSlash(relativePath))
		}

		return nil
	})
	require.NoError(t, err)

	sort.Strings(files)
	sort.Strings(dirs)

	return files, dirs
}

func explicitRequest(inputRoot, outputRoot string) pipeline.Request {
	return pipeline.Request{
		InputRoot:  inputRoot,
		OutputRoot: outputRoot,
		Placement:  pipeline.PlacementExplicit,
	}
}

func kinds(recorded []events.Event) []events.Kind {
	result := make([]events.Kind, 0, len(recorded))
	for _, event := range recorded {
		result = append(result, event.Kind())
	}

	return result
}

func TestConvert_MirrorsTree(t *testing.T) {
	t.Parallel()

	inputRoot := buildTree(t, map[string]string{
		"a.HEIC":     "image-a",
		"sub/b.png":  "png-bytes",
		"sub/c.heif": "image-c",
	})
	outputRoot := filepath.Join(t.TempDir(), "out")
	recorder := observer.NewRecorder()

	summary, err := newTestPipeline(t, 1).Convert(
		context.Background(),
		explicitRequest(inputRoot, outputRoot),
		recorder,
	)
	require.NoError(t, err)

	assert.Equal(t, pipeline.OutcomeSucceeded, summary.Outcome)
	assert.Equal(t, 2, summary.Converted)
	assert.Equal(t, 1, summary.Copied)
	assert.Equal(t, 0, summary.Failed)
	assert.Equal(t, 3, summary.TotalFiles)
	assert.Equal(t, outputRoot, summary.OutputRoot)

	files, dirs := listTree(t, outputRoot)
	assert.Equal(t, []string{"a.jpg", "sub/b.png", "sub/c.jpg"}, files)
	assert.Equal(t, []string{"sub"}, dirs)

	copied, err := os.ReadFile(filepath.Join(outputRoot, "sub", "b.png"))
	require.NoError(t, err)
	assert.Equal(t, "png-bytes", string(copied))

	assert.Equal(t, []events.Kind{
		events.KindFileConverted, events.KindProgress,
		events.KindFolderEntered,
		events.KindFileCopied, events.KindProgress,
		events.KindFileConverted, events.KindProgress,
		events.KindCompleted,
	}, kinds(recorder.Events()))

	recorded := recorder.Events()
	assert.Equal(t, events.FileConverted{Name: "a.HEIC", OutputName: "a.jpg"}, recorded[0])
	assert.Equal(t, events.FolderEntered{RelativePath: "sub"}, recorded[2])
	assert.Equal(t, events.Completed{
		Converted:  2,
		Copied:     1,
		Failed:     0,
		OutputRoot: outputRoot,
	}, recorded[len(recorded)-1])
}

func TestConvert_CorruptImageDoesNotAbort(t *testing.T) {
	t.Parallel()

	inputRoot := buildTree(t, map[string]string{
		"one.heic":   "image-1",
		"two.heic":   corruptPayload,
		"three.heic": "image-3",
	})
	outputRoot := filepath.Join(t.TempDir(), "out")
	recorder := observer.NewRecorder()

	summary, err := newTestPipeline(t, 1).Convert(
		context.Background(),
		explicitRequest(inputRoot, outputRoot),
		recorder,
	)
	require.NoError(t, err)

	assert.Equal(t, pipeline.OutcomeSucceededWithFailures, summary.Outcome)
	assert.Equal(t, 2, summary.Converted)
	assert.Equal(t, 0, summary.Copied)
	assert.Equal(t, 1, summary.Failed)
	require.Len(t, summary.Failures, 1)
	assert.Equal(t, "two.heic", summary.Failures[0].Name)
	require.ErrorIs(t, summary.Failures[0], errCorruptImage)

	var failed []events.FileFailed
	for _, event := range recorder.Events() {
		if failure, ok := event.(events.FileFailed); ok {
			failed = append(failed, failure)
		}
	}

	require.Len(t, failed, 1)
	assert.Equal(t, "two.heic", failed[0].Name)
	assert.Contains(t, failed[0].Reason, errCorruptImage.Error())

	files, _ := listTree(t, outputRoot)
	assert.Equal(t, []string{"one.jpg", "three.jpg"}, files)
}

func TestConvert_ProgressIsReportedPerFile(t *testing.T) {
	t.Parallel()

	inputRoot := buildTree(t, map[string]string{
		"a.txt":       "a",
		"b.heic":      "b",
		"x/c.txt":     "c",
		"x/y/d.heic":  "d",
		"x/y/z/e.bin": "e",
	})
	recorder := observer.NewRecorder()

	_, err := newTestPipeline(t, 1).Convert(
		context.Background(),
		explicitRequest(inputRoot, filepath.Join(t.TempDir(), "out")),
		recorder,
	)
	require.NoError(t, err)

	var reports []events.Progress
	for _, event := range recorder.Events() {
		if progress, ok := event.(events.Progress); ok {
			reports = append(reports, progress)
		}
	}

	require.Len(t, reports, 5)

	for index, report := range reports {
		assert.Equal(t, index+1, report.Processed)
		assert.Equal(t, 5, report.Total)
	}

	assert.InDelta(t, 1.0, reports[len(reports)-1].Fraction(), 0.0001)
}

func TestConvert_ConflictPerformsNoWrites(t *testing.T) {
	t.Parallel()

	inputRoot := buildTree(t, map[string]string{"a.heic": "image", "b.txt": "text"})
	filesBefore, dirsBefore := listTree(t, inputRoot)
	recorder := observer.NewRecorder()

	summary, err := newTestPipeline(t, 1).Convert(
		context.Background(),
		explicitRequest(inputRoot, inputRoot+string(filepath.Separator)),
		recorder,
	)
	require.ErrorIs(t, err, pipeline.ErrConflict)
	assert.Equal(t, pipeline.OutcomeAborted, summary.Outcome)
	assert.Empty(t, recorder.Events())

	filesAfter, dirsAfter := listTree(t, inputRoot)
	assert.Equal(t, filesBefore, filesAfter)
	assert.Equal(t, dirsBefore, dirsAfter)
}

func TestRun_ConflictingPlanIsRejected(t *testing.T) {
	t.Parallel()

	inputRoot := buildTree(t, map[string]string{"a.heic": "image"})

	summary, err := newTestPipeline(t, 1).Run(context.Background(), pipeline.Plan{
		RunID:      "run",
		InputRoot:  inputRoot,
		OutputRoot: inputRoot,
		TotalFiles: 1,
	}, nil)
	require.ErrorIs(t, err, pipeline.ErrConflict)
	assert.Equal(t, pipeline.OutcomeAborted, summary.Outcome)
}

func TestConvert_EmptyInputCreatesNothing(t *testing.T) {
	t.Parallel()

	parent := t.TempDir()
	inputRoot := filepath.Join(parent, "empty")
	require.NoError(t, os.Mkdir(inputRoot, 0o750))

	summary, err := newTestPipeline(t, 1).Convert(
		context.Background(),
		pipeline.Request{InputRoot: inputRoot, Placement: pipeline.PlacementParentOfInput},
		observer.NewRecorder(),
	)
	require.ErrorIs(t, err, pipeline.ErrEmptyInput)
	assert.Equal(t, pipeline.OutcomeEmpty, summary.Outcome)

	entries, err := os.ReadDir(parent)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "empty", entries[0].Name())
}

func TestConvert_EmptyDirectoriesOnlyIsEmptyInput(t *testing.T) {
	t.Parallel()

	inputRoot := filepath.Join(t.TempDir(), "nested")
	require.NoError(t, os.MkdirAll(filepath.Join(inputRoot, "a", "b"), 0o750))
	outputRoot := filepath.Join(t.TempDir(), "out")

	_, err := newTestPipeline(t, 1).Convert(
		context.Background(),
		explicitRequest(inputRoot, outputRoot),
		nil,
	)
	require.ErrorIs(t, err, pipeline.ErrEmptyInput)

	_, statErr := os.Stat(outputRoot)
	assert.ErrorIs(t, statErr, os.ErrNotExist)
}

func TestRun_ZeroTotalIsRefused(t *testing.T) {
	t.Parallel()

	inputRoot := buildTree(t, map[string]string{"a.txt": "a"})
	outputRoot := filepath.Join(t.TempDir(), "out")

	summary, err := newTestPipeline(t, 1).Run(context.Background(), pipeline.Plan{
		InputRoot:  inputRoot,
		OutputRoot: outputRoot,
		TotalFiles: 0,
	}, nil)
	require.ErrorIs(t, err, pipeline.ErrEmptyInput)
	assert.Equal(t, pipeline.OutcomeEmpty, summary.Outcome)

	_, statErr := os.Stat(outputRoot)
	assert.ErrorIs(t, statErr, os.ErrNotExist)
}

func TestConvert_InvalidInput(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	plainFile := filepath.Join(dir, "file.txt")
	require.NoError(t, os.WriteFile(plainFile, []byte("x"), 0o600))

	testCases := []struct {
		name      string
		inputRoot string
	}{
		{name: "missing", inputRoot: filepath.Join(dir, "missing")},
		{name: "not a directory", inputRoot: plainFile},
		{name: "empty path", inputRoot: ""},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			_, err := newTestPipeline(t, 1).Convert(
				context.Background(),
				pipeline.Request{InputRoot: testCase.inputRoot, Placement: pipeline.PlacementParentOfInput},
				nil,
			)
			require.ErrorIs(t, err, pipeline.ErrInvalidInput)
		})
	}
}

func TestConvert_ParallelWorkersKeepCountsConsistent(t *testing.T) {
	t.Parallel()

	files := map[string]string{}
	for index := range 40 {
		name := fmt.Sprintf("file%02d", index)
		switch index % 4 {
		case 0:
			files["dir1/"+name+".heic"] = "img"
		case 1:
			files["dir1/dir2/"+name+".txt"] = "txt"
		case 2:
			files[name+".HEIF"] = corruptPayload
		default:
			files["dir3/"+name+".png"] = "png"
		}
	}

	inputRoot := buildTree(t, files)
	recorder := observer.NewRecorder()

	summary, err := newTestPipeline(t, 8).Convert(
		context.Background(),
		explicitRequest(inputRoot, filepath.Join(t.TempDir(), "out")),
		recorder,
	)
	require.NoError(t, err)

	assert.Equal(t, 40, summary.TotalFiles)
	assert.Equal(t, 10, summary.Converted)
	assert.Equal(t, 20, summary.Copied)
	assert.Equal(t, 10, summary.Failed)
	assert.Equal(t, summary.TotalFiles, summary.Converted+summary.Copied+summary.Failed)

	recorded := recorder.Events()
	assert.Equal(t, events.KindCompleted, recorded[len(recorded)-1].Kind())

	lastProcessed := 0
	for _, event := range recorded {
		if progress, ok := event.(events.Progress); ok {
			assert.Equal(t, lastProcessed+1, progress.Processed)
			lastProcessed = progress.Processed
		}
	}

	assert.Equal(t, 40, lastProcessed)
}

// cancelAfter cancels the run once the given number of files were processed.
type cancelAfter struct {
	cancel context.CancelFunc
	events []events.Event
	limit  int
}

func (c *cancelAfter) Observe(event events.Event) {
	c.events = append(c.events, event)

	if progress, ok := event.(events.Progress); ok && progress.Processed == c.limit {
		c.cancel()
	}
}

func TestConvert_CancellationStopsBetweenFiles(t *testing.T) {
	t.Parallel()

	inputRoot := buildTree(t, map[string]string{
		"a.txt":  "a",
		"b.heic": "b",
		"c.txt":  "c",
		"d.heic": "d",
	})
	outputRoot := filepath.Join(t.TempDir(), "out")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sink := &cancelAfter{cancel: cancel, limit: 2}

	summary, err := newTestPipeline(t, 1).Convert(ctx, explicitRequest(inputRoot, outputRoot), sink)
	require.ErrorIs(t, err, context.Canceled)

	assert.Equal(t, pipeline.OutcomeAborted, summary.Outcome)
	assert.Equal(t, 2, summary.Processed)

	for _, event := range sink.events {
		assert.NotEqual(t, events.KindCompleted, event.Kind())
	}

	files, _ := listTree(t, outputRoot)
	assert.Equal(t, []string{"a.txt", "b.jpg"}, files, "written files stay in place")
}

func TestConvert_OutputCreationFailureSkipsSubtree(t *testing.T) {
	t.Parallel()

	inputRoot := buildTree(t, map[string]string{
		"top.txt":          "top",
		"blocked/a.heic":   "a",
		"blocked/deep/b.c": "b",
		"open/c.txt":       "c",
	})
	outputRoot := filepath.Join(t.TempDir(), "out")
	require.NoError(t, os.MkdirAll(outputRoot, 0o750))
	// A regular file where the mirrored directory should go.
	require.NoError(t, os.WriteFile(filepath.Join(outputRoot, "blocked"), []byte("in the way"), 0o600))

	recorder := observer.NewRecorder()

	summary, err := newTestPipeline(t, 1).Convert(
		context.Background(),
		explicitRequest(inputRoot, outputRoot),
		recorder,
	)
	require.NoError(t, err)

	assert.Equal(t, pipeline.OutcomeSucceededWithFailures, summary.Outcome)
	assert.Equal(t, 2, summary.Copied)
	assert.Equal(t, 2, summary.Failed)
	assert.Equal(t, summary.TotalFiles, summary.Converted+summary.Copied+summary.Failed)

	for _, failure := range summary.Failures {
		require.ErrorIs(t, failure, pipeline.ErrOutputCreation)
	}

	recorded := recorder.Events()
	assert.Equal(t, events.KindCompleted, recorded[len(recorded)-1].Kind())

	var entered []string

	for _, event := range recorded {
		if folder, ok := event.(events.FolderEntered); ok {
			entered = append(entered, folder.RelativePath)
		}
	}

	assert.Equal(t, []string{"open"}, entered, "folders that could not be created are never entered")
}

func TestConvert_SymlinkedDirectoryIsSkipped(t *testing.T) {
	t.Parallel()

	inputRoot := buildTree(t, map[string]string{"a.txt": "a"})
	target := filepath.Join(t.TempDir(), "elsewhere")
	require.NoError(t, os.MkdirAll(target, 0o750))
	require.NoError(t, os.WriteFile(filepath.Join(target, "b.txt"), []byte("b"), 0o600))
	require.NoError(t, os.Symlink(target, filepath.Join(inputRoot, "linked")))

	assert.Equal(t, 1, pipeline.CountFiles(inputRoot))

	outputRoot := filepath.Join(t.TempDir(), "out")
	recorder := observer.NewRecorder()

	summary, err := newTestPipeline(t, 1).Convert(
		context.Background(),
		explicitRequest(inputRoot, outputRoot),
		recorder,
	)
	require.NoError(t, err)

	assert.Equal(t, pipeline.OutcomeSucceeded, summary.Outcome)
	assert.Equal(t, 1, summary.TotalFiles)
	assert.Equal(t, 1, summary.Copied)
	assert.Equal(t, 0, summary.Failed)
	assert.Empty(t, recorder.Failures())

	_, statErr := os.Lstat(filepath.Join(outputRoot, "linked"))
	require.ErrorIs(t, statErr, fs.ErrNotExist)
}

func TestConvert_DanglingSymlinkFails(t *testing.T) {
	t.Parallel()

	inputRoot := buildTree(t, map[string]string{"a.txt": "a"})
	require.NoError(t, os.Symlink(filepath.Join(inputRoot, "gone"), filepath.Join(inputRoot, "dangling")))

	summary, err := newTestPipeline(t, 1).Convert(
		context.Background(),
		explicitRequest(inputRoot, filepath.Join(t.TempDir(), "out")),
		nil,
	)
	require.NoError(t, err)

	assert.Equal(t, 2, summary.TotalFiles)
	assert.Equal(t, 1, summary.Copied)
	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, pipeline.OutcomeSucceededWithFailures, summary.Outcome)
}

func TestConvert_CopyPreservesBytesAndModificationTime(t *testing.T) {
	t.Parallel()

	payload := bytes.Repeat([]byte{0x00, 0xFF, 0x10}, 4096)
	inputRoot := buildTree(t, map[string]string{})
	sourcePath := filepath.Join(inputRoot, "archive.bin")
	require.NoError(t, os.WriteFile(sourcePath, payload, 0o640))

	modificationTime := time.Date(2021, time.March, 4, 5, 6, 7, 0, time.UTC)
	require.NoError(t, os.Chtimes(sourcePath, modificationTime, modificationTime))

	outputRoot := filepath.Join(t.TempDir(), "out")

	_, err := newTestPipeline(t, 1).Convert(context.Background(), explicitRequest(inputRoot, outputRoot), nil)
	require.NoError(t, err)

	copiedPath := filepath.Join(outputRoot, "archive.bin")
	copied, err := os.ReadFile(copiedPath)
	require.NoError(t, err)
	assert.Equal(t, payload, copied)

	info, err := os.Stat(copiedPath)
	require.NoError(t, err)
	assert.True(t, info.ModTime().Equal(modificationTime))
	assert.Equal(t, os.FileMode(0o640), info.Mode().Perm())
}

func TestConvert_InsidePlacementDoesNotRecurseIntoOutput(t *testing.T) {
	t.Parallel()

	inputRoot := buildTree(t, map[string]string{
		"a.heic":    "a",
		"sub/b.txt": "b",
	})

	summary, err := newTestPipeline(t, 1).Convert(
		context.Background(),
		pipeline.Request{InputRoot: inputRoot, Placement: pipeline.PlacementInsideInput},
		nil,
	)
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(inputRoot, "photos_converted"), summary.OutputRoot)
	assert.Equal(t, 2, summary.TotalFiles)
	assert.Equal(t, 2, summary.Processed)

	files, _ := listTree(t, summary.OutputRoot)
	assert.Equal(t, []string{"a.jpg", "sub/b.txt"}, files)
}

func TestConvert_OutputNameCollisionFailsLaterFile(t *testing.T) {
	t.Parallel()

	inputRoot := buildTree(t, map[string]string{
		"a.HEIF": "first",
		"a.heic": "second",
	})
	outputRoot := filepath.Join(t.TempDir(), "out")

	summary, err := newTestPipeline(t, 1).Convert(context.Background(), explicitRequest(inputRoot, outputRoot), nil)
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Converted)
	assert.Equal(t, 1, summary.Failed)
	require.Len(t, summary.Failures, 1)
	assert.Equal(t, "a.heic", summary.Failures[0].Name)
	require.ErrorIs(t, summary.Failures[0], pipeline.ErrOutputCollision)

	converted, err := os.ReadFile(filepath.Join(outputRoot, "a.jpg"))
	require.NoError(t, err)
	assert.Equal(t, "jpeg:first", string(converted))
}

func TestNew_RequiresConverter(t *testing.T) {
	t.Parallel()

	_, err := pipeline.New(nil, newTestLogger(t), 1)
	require.ErrorIs(t, err, pipeline.ErrNilConverter)
}

func TestNew_RequiresLogger(t *testing.T) {
	t.Parallel()

	_, err := pipeline.New(&mockConverter{}, nil, 1)
	require.ErrorIs(t, err, pipeline.ErrNilLogger)
}
