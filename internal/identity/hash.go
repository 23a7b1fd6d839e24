package identity

import (
	"fmt"
	"io"
	"os"

	"github.com/cespare/xxhash/v2"
)

// DefaultSampleSize is how many leading bytes of a file XXHash reads.
// The byte size is part of the content key, so a prefix is enough to
// tell archives apart in practice.
const DefaultSampleSize = 1 << 20

// Hasher computes the content hash half of a content key.
type Hasher interface {
	Sum(r io.Reader) (string, error)
}

// XXHash hashes up to Limit bytes with 64-bit xxhash. Limit <= 0 reads everything.
type XXHash struct {
	Limit int64
}

// NewXXHash returns the default hasher.
func NewXXHash() XXHash {
	return XXHash{Limit: DefaultSampleSize}
}

func (x XXHash) Sum(r io.Reader) (string, error) {
	if x.Limit > 0 {
		r = io.LimitReader(r, x.Limit)
	}
	d := xxhash.New()
	if _, err := io.Copy(d, r); err != nil {
		return "", fmt.Errorf("hash content: %w", err)
	}
	return fmt.Sprintf("%016x", d.Sum64()), nil
}

// KeyForFile opens path and returns its content key.
func KeyForFile(path string, h Hasher) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return "", fmt.Errorf("stat %s: %w", path, err)
	}
	if info.IsDir() {
		return "", fmt.Errorf("%s is a directory", path)
	}

	sum, err := h.Sum(f)
	if err != nil {
		return "", err
	}
	return NewContentKey(info.Size(), sum), nil
}
