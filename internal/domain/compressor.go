package domain

type Compressor interface {
	Compress(sourcePath, destPath string) error
	Decompress(sourcePath, destPath string) error
	// Compressed reports whether the file at path is in this compressor's format.
	Compressed(path string) (bool, error)
	Extension() string
}
