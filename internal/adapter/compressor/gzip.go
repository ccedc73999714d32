package compressor

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/klauspost/compress/gzip"
)

// GzipCompressor compresses artifacts before they are handed to the sink.
type GzipCompressor struct {
	level int
}

func NewGzip(level int) *GzipCompressor {
	if level < gzip.HuffmanOnly || level > gzip.BestCompression {
		level = gzip.DefaultCompression
	}
	return &GzipCompressor{level: level}
}

func (g *GzipCompressor) Extension() string {
	return ".gz"
}

var gzipMagic = []byte{0x1f, 0x8b}

// Compressed sniffs the gzip magic bytes at the start of the file.
func (g *GzipCompressor) Compressed(path string) (bool, error) {
	file, err := os.Open(path)
	if err != nil {
		return false, fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	header := make([]byte, len(gzipMagic))
	if _, err := io.ReadFull(file, header); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return false, nil
		}
		return false, fmt.Errorf("failed to read header: %w", err)
	}
	return bytes.Equal(header, gzipMagic), nil
}

func (g *GzipCompressor) Compress(sourcePath, destPath string) error {
	sourceFile, err := os.Open(sourcePath)
	if err != nil {
		return fmt.Errorf("failed to open source file: %w", err)
	}
	defer sourceFile.Close()

	destFile, err := os.Create(destPath)
	if err != nil {
		return fmt.Errorf("failed to create dest file: %w", err)
	}
	defer destFile.Close()

	gzipWriter, err := gzip.NewWriterLevel(destFile, g.level)
	if err != nil {
		return fmt.Errorf("failed to create gzip writer: %w", err)
	}

	if _, err := io.Copy(gzipWriter, sourceFile); err != nil {
		gzipWriter.Close()
		return fmt.Errorf("failed to compress: %w", err)
	}
	if err := gzipWriter.Close(); err != nil {
		return fmt.Errorf("failed to flush gzip stream: %w", err)
	}

	return destFile.Sync()
}

func (g *GzipCompressor) Decompress(sourcePath, destPath string) error {
	sourceFile, err := os.Open(sourcePath)
	if err != nil {
		return fmt.Errorf("failed to open source file: %w", err)
	}
	defer sourceFile.Close()

	gzipReader, err := gzip.NewReader(sourceFile)
	if err != nil {
		return fmt.Errorf("failed to create gzip reader: %w", err)
	}
	defer gzipReader.Close()

	destFile, err := os.Create(destPath)
	if err != nil {
		return fmt.Errorf("failed to create dest file: %w", err)
	}
	defer destFile.Close()

	if _, err := io.Copy(destFile, gzipReader); err != nil {
		return fmt.Errorf("failed to decompress: %w", err)
	}

	return nil
}

// NewWriter wraps w in a gzip stream at the compressor's level.
func (g *GzipCompressor) NewWriter(w io.Writer) (io.WriteCloser, error) {
	return gzip.NewWriterLevel(w, g.level)
}

// NewReader opens a gzip stream over r.
func (g *GzipCompressor) NewReader(r io.Reader) (io.ReadCloser, error) {
	return gzip.NewReader(r)
}
