package compressor

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/gzip"
	. "github.com/smartystreets/goconvey/convey"
)

func TestGzipCompressor(t *testing.T) {
	Convey("Given a GzipCompressor", t, func() {
		compressor := NewGzip(gzip.BestCompression)
		dir := t.TempDir()

		inputContent := bytes.Repeat([]byte("pg_dump custom format block "), 256)
		inputPath := filepath.Join(dir, "shop.dump")
		So(os.WriteFile(inputPath, inputContent, 0644), ShouldBeNil)

		Convey("When compressing and decompressing a dump", func() {
			compressedPath := filepath.Join(dir, "shop.dump"+compressor.Extension())
			restoredPath := filepath.Join(dir, "shop.restored")

			So(compressor.Compress(inputPath, compressedPath), ShouldBeNil)
			So(compressor.Decompress(compressedPath, restoredPath), ShouldBeNil)

			Convey("Only the compressed file should be detected as gzip", func() {
				gz, err := compressor.Compressed(compressedPath)
				So(err, ShouldBeNil)
				So(gz, ShouldBeTrue)

				plain, err := compressor.Compressed(inputPath)
				So(err, ShouldBeNil)
				So(plain, ShouldBeFalse)
			})

			Convey("It should round-trip the content and shrink it", func() {
				restored, err := os.ReadFile(restoredPath)
				So(err, ShouldBeNil)
				So(restored, ShouldResemble, inputContent)

				info, err := os.Stat(compressedPath)
				So(err, ShouldBeNil)
				So(info.Size(), ShouldBeLessThan, len(inputContent))
			})
		})

		Convey("When the source file does not exist", func() {
			err := compressor.Compress(filepath.Join(dir, "missing"), filepath.Join(dir, "out.gz"))
			So(err, ShouldNotBeNil)
			So(err.Error(), ShouldContainSubstring, "failed to open source file")
		})

		Convey("When the destination path is invalid", func() {
			err := compressor.Compress(inputPath, "/invalid/path/output.gz")
			So(err, ShouldNotBeNil)
			So(err.Error(), ShouldContainSubstring, "failed to create dest file")
		})

		Convey("When the source is not a gzip stream", func() {
			err := compressor.Decompress(inputPath, filepath.Join(dir, "out"))
			So(err, ShouldNotBeNil)
			So(err.Error(), ShouldContainSubstring, "failed to create gzip reader")
		})

		Convey("Detection treats short files as uncompressed and reports missing ones", func() {
			short := filepath.Join(dir, "short")
			So(os.WriteFile(short, []byte{0x1f}, 0644), ShouldBeNil)
			gz, err := compressor.Compressed(short)
			So(err, ShouldBeNil)
			So(gz, ShouldBeFalse)

			_, err = compressor.Compressed(filepath.Join(dir, "missing"))
			So(err, ShouldNotBeNil)
		})

		Convey("An out-of-range level falls back to the default", func() {
			So(NewGzip(42).level, ShouldEqual, gzip.DefaultCompression)
		})
	})
}
