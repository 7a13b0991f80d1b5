// Package codec converts HEIC/HEIF images to JPEG.
package codec

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/book-expert/logger"
	"github.com/gen2brain/heic"
)

const (
	// JPEGQuality is the fixed encoder quality on the 0-100 scale.
	JPEGQuality = 95
	// OutputExtension is appended to the stem of every converted image.
	OutputExtension = ".jpg"

	defaultFilePermission = 0o644
)

var (
	// ErrNotConvertible indicates that the source does not carry a HEIC/HEIF extension.
	ErrNotConvertible = errors.New("file is not a HEIC/HEIF image")
	// ErrPathIsDirectory indicates that the provided path is a directory, not a file.
	ErrPathIsDirectory = errors.New("path is a directory")
	// ErrFileEmpty indicates that the source file is empty.
	ErrFileEmpty = errors.New("file is empty")
	// ErrDecode indicates that the source bytes could not be decoded as an image.
	ErrDecode = errors.New("decode image")
	// ErrEncode indicates that the decoded image could not be encoded as JPEG.
	ErrEncode = errors.New("encode JPEG")
)

// convertibleExtensions lists the lower-cased extensions treated as convertible images.
var convertibleExtensions = map[string]struct{}{
	".heic": {},
	".heif": {},
}

// IsConvertible reports whether filename is a HEIC/HEIF image, ignoring case.
func IsConvertible(filename string) bool {
	_, ok := convertibleExtensions[strings.ToLower(filepath.Ext(filename))]

	return ok
}

// OutputName returns the JPEG filename for a convertible source: "{stem}.jpg".
func OutputName(filename string) string {
	return strings.TrimSuffix(filename, filepath.Ext(filename)) + OutputExtension
}

// Decoder turns encoded bytes into a raster image.
type Decoder func(reader io.Reader) (image.Image, error)

// Converter implements HEIC to JPEG conversion.
//
// The decoder defaults to the pure-Go libheif build shipped by
// github.com/gen2brain/heic, so no system libraries are needed at runtime.
type Converter struct {
	logger  *logger.Logger
	decode  Decoder
	quality int
}

// NewConverter creates a Converter that decodes with heic.Decode and encodes at JPEGQuality.
func NewConverter(log *logger.Logger) *Converter {
	return NewConverterWithDecoder(log, heic.Decode)
}

// NewConverterWithDecoder creates a Converter with a custom decoder. Used by
// tests to feed images that do not need a real HEIC payload.
func NewConverterWithDecoder(log *logger.Logger, decode Decoder) *Converter {
	return &Converter{
		logger:  log,
		decode:  decode,
		quality: JPEGQuality,
	}
}

// Convert decodes the image at srcPath and writes it as JPEG to dstPath.
//
// The JPEG is written to a temporary file next to dstPath and renamed into
// place, so a failed conversion never leaves a partial output behind.
func (c *Converter) Convert(ctx context.Context, srcPath, dstPath string) error {
	err := c.validateFile(srcPath)
	if err != nil {
		return fmt.Errorf("validate source: %w", err)
	}

	err = ctx.Err()
	if err != nil {
		return fmt.Errorf("convert %s: %w", filepath.Base(srcPath), err)
	}

	img, err := c.decodeFile(srcPath)
	if err != nil {
		return err
	}

	return c.writeJPEG(img, dstPath)
}

// validateFile checks that the source exists, is a regular file and is not empty.
func (c *Converter) validateFile(srcPath string) error {
	if !IsConvertible(srcPath) {
		return fmt.Errorf("%s: %w", filepath.Base(srcPath), ErrNotConvertible)
	}

	info, err := os.Stat(srcPath)
	if err != nil {
		return fmt.Errorf("stat %s: %w", srcPath, err)
	}

	if info.IsDir() {
		return fmt.Errorf("%s: %w", srcPath, ErrPathIsDirectory)
	}

	if info.Size() == 0 {
		return fmt.Errorf("%s: %w", srcPath, ErrFileEmpty)
	}

	return nil
}

func (c *Converter) decodeFile(srcPath string) (image.Image, error) {
	sourceFile, err := os.Open(srcPath)
	if err != nil {
		return nil, fmt.Errorf("open source: %w", err)
	}

	defer func() {
		closeErr := sourceFile.Close()
		if closeErr != nil {
			c.logger.Warn("Failed to close %s: %v", srcPath, closeErr)
		}
	}()

	img, err := c.decode(sourceFile)
	if err != nil {
		return nil, fmt.Errorf("%w %s: %w", ErrDecode, filepath.Base(srcPath), err)
	}

	return img, nil
}

func (c *Converter) writeJPEG(img image.Image, dstPath string) error {
	tempFile, err := os.CreateTemp(filepath.Dir(dstPath), "."+filepath.Base(dstPath)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temporary output: %w", err)
	}

	tempPath := tempFile.Name()

	encodeErr := jpeg.Encode(tempFile, img, &jpeg.Options{Quality: c.quality})
	closeErr := tempFile.Close()

	if encodeErr != nil {
		c.removeTemp(tempPath)

		return fmt.Errorf("%w %s: %w", ErrEncode, filepath.Base(dstPath), encodeErr)
	}

	if closeErr != nil {
		c.removeTemp(tempPath)

		return fmt.Errorf("close temporary output: %w", closeErr)
	}

	err = os.Chmod(tempPath, defaultFilePermission)
	if err != nil {
		c.removeTemp(tempPath)

		return fmt.Errorf("set output permissions: %w", err)
	}

	err = os.Rename(tempPath, dstPath)
	if err != nil {
		c.removeTemp(tempPath)

		return fmt.Errorf("move output into place: %w", err)
	}

	return nil
}

func (c *Converter) removeTemp(tempPath string) {
	removeErr := os.Remove(tempPath)
	if removeErr != nil && !errors.Is(removeErr, os.ErrNotExist) {
		c.logger.Warn("Failed to remove temporary file %s: %v", tempPath, removeErr)
	}
}
