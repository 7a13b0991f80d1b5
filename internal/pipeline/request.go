package pipeline

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

var (
	// ErrInvalidInput indicates a missing input root or one that is not a directory.
	ErrInvalidInput = errors.New("invalid input directory")
	// ErrConflict indicates that the output root resolves to the input root.
	ErrConflict = errors.New("output directory conflicts with input directory")
	// ErrEmptyInput indicates that the input tree holds no files.
	ErrEmptyInput = errors.New("no files to process")
	// ErrOutputCreation indicates that a directory of the output tree could not be created.
	ErrOutputCreation = errors.New("create output directory")
	// ErrUnknownPlacement indicates a placement outside the known set.
	ErrUnknownPlacement = errors.New("unknown output placement")
)

// Placement decides where the output root is created.
type Placement int

const (
	// PlacementParentOfInput creates the output root next to the input root.
	PlacementParentOfInput Placement = iota
	// PlacementInsideInput creates the output root inside the input root.
	PlacementInsideInput
	// PlacementExplicit uses the caller supplied output root.
	PlacementExplicit
)

func (p Placement) String() string {
	switch p {
	case PlacementParentOfInput:
		return "parent"
	case PlacementInsideInput:
		return "inside"
	case PlacementExplicit:
		return "explicit"
	default:
		return "Placement(" + strconv.Itoa(int(p)) + ")"
	}
}

// ParsePlacement converts the configuration spelling of a placement.
func ParsePlacement(value string) (Placement, error) {
	switch value {
	case "parent":
		return PlacementParentOfInput, nil
	case "inside":
		return PlacementInsideInput, nil
	case "explicit":
		return PlacementExplicit, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownPlacement, value)
	}
}

// Request describes one conversion run. OutputRoot is only read for PlacementExplicit.
type Request struct {
	InputRoot  string
	OutputRoot string
	Placement  Placement
}

// outputNameTemplates are tried in order before falling back to a numbered suffix.
var outputNameTemplates = []string{
	"%s_converted",
	"%s_JPEG",
	"Converted_%s",
	"JPEG_%s",
}

// DeriveOutputRoot resolves the output root for inputRoot.
//
// For PlacementExplicit the explicit path is returned unchanged. Otherwise the
// first candidate name that does not exist under the chosen parent is picked;
// the filesystem is never modified, so two calls without creating the result
// return the same path.
func DeriveOutputRoot(inputRoot string, placement Placement, explicitPath string) (string, error) {
	err := validateInputRoot(inputRoot)
	if err != nil {
		return "", err
	}

	var outputRoot string

	switch placement {
	case PlacementExplicit:
		if explicitPath == "" {
			return "", fmt.Errorf("explicit placement without output path: %w", ErrInvalidInput)
		}

		outputRoot = explicitPath
	case PlacementParentOfInput:
		outputRoot, err = firstFreeName(filepath.Dir(cleanRoot(inputRoot)), leafName(inputRoot))
	case PlacementInsideInput:
		outputRoot, err = firstFreeName(inputRoot, leafName(inputRoot))
	default:
		return "", fmt.Errorf("%w: %s", ErrUnknownPlacement, placement)
	}

	if err != nil {
		return "", err
	}

	if samePath(inputRoot, outputRoot) {
		return "", fmt.Errorf("%s: %w", outputRoot, ErrConflict)
	}

	return outputRoot, nil
}

func firstFreeName(parent, base string) (string, error) {
	for _, template := range outputNameTemplates {
		candidate := filepath.Join(parent, fmt.Sprintf(template, base))

		free, err := pathIsFree(candidate)
		if err != nil {
			return "", err
		}

		if free {
			return candidate, nil
		}
	}

	for suffix := 1; ; suffix++ {
		candidate := filepath.Join(parent, fmt.Sprintf("%s_converted_%d", base, suffix))

		free, err := pathIsFree(candidate)
		if err != nil {
			return "", err
		}

		if free {
			return candidate, nil
		}
	}
}

func pathIsFree(candidate string) (bool, error) {
	_, err := os.Lstat(candidate)
	if err == nil {
		return false, nil
	}

	if errors.Is(err, os.ErrNotExist) {
		return true, nil
	}

	return false, fmt.Errorf("check output candidate %s: %w", candidate, err)
}

func validateInputRoot(inputRoot string) error {
	if inputRoot == "" {
		return fmt.Errorf("empty input path: %w", ErrInvalidInput)
	}

	info, err := os.Stat(inputRoot)
	if err != nil {
		return fmt.Errorf("%s: %w: %w", inputRoot, ErrInvalidInput, err)
	}

	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory: %w", inputRoot, ErrInvalidInput)
	}

	return nil
}

// leafName returns the last element of root, resolving "." and trailing separators.
func leafName(root string) string {
	return filepath.Base(cleanRoot(root))
}

func cleanRoot(root string) string {
	absolute, err := filepath.Abs(root)
	if err != nil {
		return filepath.Clean(root)
	}

	return absolute
}

// normalizePath returns the absolute, symlink-resolved form of path where it exists.
func normalizePath(path string) string {
	absolute := cleanRoot(path)

	resolved, err := filepath.EvalSymlinks(absolute)
	if err != nil {
		return absolute
	}

	return resolved
}

func samePath(left, right string) bool {
	return normalizePath(left) == normalizePath(right)
}
