// Package filestore persists uploaded attachments in a flat root directory.
//
// Stored names have the form "<code>-<original name>". Every file operation
// goes through an os.Root, so a name can never resolve outside the root
// directory even if it slipped past name validation.
package filestore

import (
	"context"
	"io"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
)

const (
	// DefaultCodeLength is the number of hex characters in a generated code.
	DefaultCodeLength = 8
	// maxNameLength is the longest stored name most filesystems accept.
	maxNameLength = 255
	// maxAttempts bounds code regeneration on collision.
	maxAttempts = 5
)

var (
	// ErrNotFound is returned when no file exists under a stored name.
	ErrNotFound = errors.New("file not found")
	// ErrConflict is returned when no free name was found after maxAttempts codes.
	ErrConflict = errors.New("stored file name conflict")
)

// InvalidNameError reports a file name that could escape the root directory
// or is otherwise unusable.
type InvalidNameError struct {
	Name   string
	Reason string
}

func (e *InvalidNameError) Error() string {
	return "invalid file name " + strconv.Quote(e.Name) + ": " + e.Reason
}

// StoredFile describes a file written by Save.
type StoredFile struct {
	Name string
	Size int64
}

// Info describes a stored file.
type Info struct {
	Name    string
	Size    int64
	ModTime time.Time
}

// File is an open stored file. The caller must close Content.
type File struct {
	Content io.ReadCloser
	Info    Info
}

// Store is a local-directory attachment store. It is safe for concurrent use.
type Store struct {
	root     *os.Root
	dir      string
	codeLen  int
	nextCode func() string
}

// Option configures a Store.
type Option func(*Store)

// WithCodeLength sets the number of characters in generated codes.
func WithCodeLength(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.codeLen = n
		}
	}
}

// WithCodeGenerator replaces the random code source.
func WithCodeGenerator(next func() string) Option {
	return func(s *Store) {
		s.nextCode = next
	}
}

// Open creates dir if needed and returns a Store rooted at it.
func Open(dir string, opts ...Option) (*Store, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, errors.Wrapf(err, "create root %s", dir)
	}
	root, err := os.OpenRoot(dir)
	if err != nil {
		return nil, errors.Wrapf(err, "open root %s", dir)
	}
	s := &Store{root: root, dir: dir, codeLen: DefaultCodeLength}
	for _, opt := range opts {
		opt(s)
	}
	if s.nextCode == nil {
		s.nextCode = s.randomCode
	}
	return s, nil
}

// Close releases the root directory handle.
func (s *Store) Close() error {
	return s.root.Close()
}

// Dir returns the root directory path.
func (s *Store) Dir() string {
	return s.dir
}

// Save writes content under a freshly generated "<code>-<originalName>" and
// returns the stored name. An existing file is never overwritten: a code
// collision draws a new code.
func (s *Store) Save(ctx context.Context, originalName string, content io.Reader) (StoredFile, error) {
	if err := ValidateName(originalName); err != nil {
		return StoredFile{}, err
	}

	for range maxAttempts {
		if err := ctx.Err(); err != nil {
			return StoredFile{}, err
		}
		name := s.nextCode() + "-" + originalName
		if len(name) > maxNameLength {
			return StoredFile{}, &InvalidNameError{Name: originalName, Reason: "too long"}
		}

		f, err := s.root.OpenFile(name, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o640)
		if err != nil {
			if errors.Is(err, fs.ErrExist) {
				continue
			}
			return StoredFile{}, errors.Wrapf(err, "create %s", name)
		}

		n, err := io.Copy(f, content)
		if err == nil {
			err = f.Sync()
		}
		if closeErr := f.Close(); err == nil {
			err = closeErr
		}
		if err != nil {
			_ = s.root.Remove(name)
			return StoredFile{}, errors.Wrapf(err, "write %s", name)
		}
		return StoredFile{Name: name, Size: n}, nil
	}
	return StoredFile{}, ErrConflict
}

// Open returns the stored file with its size, or ErrNotFound.
func (s *Store) Open(_ context.Context, storedName string) (*File, error) {
	if err := ValidateName(storedName); err != nil {
		return nil, err
	}

	f, err := s.root.Open(storedName)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, errors.Wrapf(err, "open %s", storedName)
	}

	st, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, errors.Wrapf(err, "stat %s", storedName)
	}
	if !st.Mode().IsRegular() {
		_ = f.Close()
		return nil, ErrNotFound
	}

	return &File{
		Content: f,
		Info: Info{
			Name:    storedName,
			Size:    st.Size(),
			ModTime: st.ModTime(),
		},
	}, nil
}

// Check verifies that the root directory accepts writes.
func (s *Store) Check(_ context.Context) error {
	const name = ".writecheck"
	f, err := s.root.OpenFile(name, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o640)
	if err != nil {
		return errors.Wrap(err, "root not writable")
	}
	_ = f.Close()
	return s.root.Remove(name)
}

func (s *Store) randomCode() string {
	code := strings.ReplaceAll(uuid.NewString(), "-", "")
	if s.codeLen < len(code) {
		code = code[:s.codeLen]
	}
	return code
}

// ValidateName rejects names that are empty, contain separators or parent
// references, control characters, or are absolute.
func ValidateName(name string) error {
	switch {
	case name == "":
		return &InvalidNameError{Name: name, Reason: "empty"}
	case len(name) > maxNameLength:
		return &InvalidNameError{Name: name, Reason: "too long"}
	case name == "." || name == "..":
		return &InvalidNameError{Name: name, Reason: "reserved"}
	case strings.ContainsAny(name, `/\`):
		return &InvalidNameError{Name: name, Reason: "contains a path separator"}
	case strings.Contains(name, ".."):
		return &InvalidNameError{Name: name, Reason: "contains a parent reference"}
	case strings.HasPrefix(name, "."):
		return &InvalidNameError{Name: name, Reason: "hidden name"}
	}
	for _, r := range name {
		if r < 0x20 || r == 0x7f {
			return &InvalidNameError{Name: name, Reason: "contains a control character"}
		}
	}
	return nil
}
