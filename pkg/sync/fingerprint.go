package sync

import (
	"crypto/md5"
	"encoding/hex"
	"io"

	"github.com/spf13/afero"

	"github.com/safiul0073/CodeLift/pkg/errors"
)

// Fingerprint identifies the contents of a file independently of its name
// and timestamps.
type Fingerprint struct {
	// Hash is the hex-encoded 128-bit MD5 digest of the contents.
	Hash string

	// Size is the length of the contents in bytes.
	Size int64
}

// HashFile returns the fingerprint of the file at the given path.
func HashFile(fs afero.Fs, path string) (Fingerprint, error) {
	f, err := fs.Open(path)
	if err != nil {
		return Fingerprint{}, errors.WithContext(err, "open")
	}
	defer f.Close()

	hasher := md5.New()
	size, err := io.Copy(hasher, f)
	if err != nil {
		return Fingerprint{}, errors.WithContext(err, "read")
	}

	return Fingerprint{
		Hash: hex.EncodeToString(hasher.Sum(nil)),
		Size: size,
	}, nil
}
