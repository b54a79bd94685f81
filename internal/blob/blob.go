// Package blob stores uploaded avatar images on disk. Files are named
// after their owner and a content identifier (CIDv1, raw codec, SHA-256)
// so re-uploading the same image is idempotent and stale references are
// easy to detect.
package blob

import (
	"bytes"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/ipfs/go-cid"
	"github.com/multiformats/go-multihash"
)

// MaxAvatarSize is the maximum accepted upload size (5MB).
const MaxAvatarSize = 5 << 20

// URLPrefix is the public path avatar references are served under.
const URLPrefix = "/uploads/"

var (
	ErrTooLarge        = errors.New("blob: exceeds maximum size")
	ErrUnsupportedType = errors.New("blob: unsupported image type")
	ErrInvalidRef      = errors.New("blob: invalid reference")
)

var extensions = map[string]string{
	"image/png":  ".png",
	"image/jpeg": ".jpg",
	"image/gif":  ".gif",
	"image/webp": ".webp",
}

// Store writes avatar files into a single directory.
type Store struct {
	dir string
}

// NewStore creates the upload directory if needed and returns a Store.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("blob: create %s: %w", dir, err)
	}
	return &Store{dir: dir}, nil
}

// Dir returns the directory files are written to.
func (s *Store) Dir() string {
	return s.dir
}

// ComputeCID returns the CIDv1 (raw codec, SHA-256) of data.
func ComputeCID(data []byte) (cid.Cid, error) {
	hash := sha256.Sum256(data)
	mh, err := multihash.Encode(hash[:], multihash.SHA2_256)
	if err != nil {
		return cid.Undef, fmt.Errorf("blob: multihash: %w", err)
	}
	return cid.NewCidV1(cid.Raw, mh), nil
}

// Save reads an image from r and writes it for owner. The content type
// is sniffed from the data, not trusted from the client. Returns the
// public reference, e.g. "/uploads/<owner>-<cid>.png".
func (s *Store) Save(owner uuid.UUID, r io.Reader) (string, error) {
	data, err := io.ReadAll(io.LimitReader(r, MaxAvatarSize+1))
	if err != nil {
		return "", fmt.Errorf("blob: read: %w", err)
	}
	if len(data) > MaxAvatarSize {
		return "", fmt.Errorf("%w of %d bytes", ErrTooLarge, MaxAvatarSize)
	}

	mimeType := http.DetectContentType(data)
	ext, ok := extensions[mimeType]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnsupportedType, mimeType)
	}

	c, err := ComputeCID(data)
	if err != nil {
		return "", err
	}
	name := owner.String() + "-" + c.String() + ext

	tmp, err := os.CreateTemp(s.dir, ".upload-*")
	if err != nil {
		return "", fmt.Errorf("blob: create temp: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, bytes.NewReader(data)); err != nil {
		tmp.Close()
		return "", fmt.Errorf("blob: write: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("blob: close: %w", err)
	}
	if err := os.Rename(tmp.Name(), filepath.Join(s.dir, name)); err != nil {
		return "", fmt.Errorf("blob: store %s: %w", name, err)
	}
	return URLPrefix + name, nil
}

// Remove deletes the file behind a reference returned by Save. A missing
// file is not an error.
func (s *Store) Remove(ref string) error {
	name, err := parseRef(ref)
	if err != nil {
		return err
	}
	if err := os.Remove(filepath.Join(s.dir, name)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("blob: remove %s: %w", name, err)
	}
	return nil
}

// parseRef validates that ref names a file Save could have produced and
// returns the bare file name.
func parseRef(ref string) (string, error) {
	if !strings.HasPrefix(ref, URLPrefix) {
		return "", fmt.Errorf("%w: %q", ErrInvalidRef, ref)
	}
	name := path.Base(ref)
	stem := strings.TrimSuffix(name, path.Ext(name))

	// <uuid>-<cid>; a UUID string is 36 characters.
	if len(stem) < 38 || stem[36] != '-' {
		return "", fmt.Errorf("%w: %q", ErrInvalidRef, ref)
	}
	if _, err := uuid.Parse(stem[:36]); err != nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidRef, ref)
	}
	if _, err := cid.Decode(stem[37:]); err != nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidRef, ref)
	}
	return name, nil
}
