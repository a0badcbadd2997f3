// Package vault stores per-identity credential tokens as a directory
// of one file per token, written atomically via a
// write-to-temp-then-rename pattern so a concurrent reader never
// observes a partial file.
package vault

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/oriys/skysweep/internal/logging"
)

// ErrNotFound is returned by Retrieve when no file exists for the name.
var ErrNotFound = errors.New("vault: token not found")

// Vault is a directory-backed store of opaque token blobs. It carries
// no state beyond its root path; every operation is a single file
// syscall sequence, so concurrent callers touching different names
// never interact; there are no cross-file invariants.
type Vault struct {
	root string
}

// New creates a Vault rooted at dir. The directory is created lazily
// on first Store, not here.
func New(dir string) *Vault {
	return &Vault{root: dir}
}

// Root returns the vault's backing directory.
func (v *Vault) Root() string { return v.root }

// Name composes the on-disk file name for a producer tag + login:
// "<producer-tag>-<login>".
func Name(producerTag, login string) string {
	return producerTag + "-" + login
}

func (v *Vault) path(name string) string {
	return filepath.Join(v.root, name)
}

// Store writes raw token bytes under name, creating the vault directory
// if needed and replacing any existing file atomically.
func (v *Vault) Store(name string, data []byte) error {
	if err := os.MkdirAll(v.root, 0o755); err != nil {
		return fmt.Errorf("vault: create dir %s: %w", v.root, err)
	}

	tmp, err := os.CreateTemp(v.root, ".tmp-"+name+"-*")
	if err != nil {
		return fmt.Errorf("vault: create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("vault: write %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("vault: close temp file for %s: %w", name, err)
	}

	if err := os.Rename(tmpName, v.path(name)); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("vault: rename into place for %s: %w", name, err)
	}
	return nil
}

// Retrieve returns the raw bytes stored under name, or ErrNotFound.
func (v *Vault) Retrieve(name string) ([]byte, error) {
	data, err := os.ReadFile(v.path(name))
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("vault: read %s: %w", name, err)
	}
	return data, nil
}

// Purge removes the file stored under name. Purging a name that does
// not exist is not an error.
func (v *Vault) Purge(name string) error {
	err := os.Remove(v.path(name))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("vault: purge %s: %w", name, err)
	}
	return nil
}

// Entry describes one stored token file for List.
type Entry struct {
	Name string
	Size int64
}

// List returns the current contents of the vault directory. A missing
// directory yields an empty list, not an error.
func (v *Vault) List() ([]Entry, error) {
	dirEntries, err := os.ReadDir(v.root)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("vault: list %s: %w", v.root, err)
	}

	out := make([]Entry, 0, len(dirEntries))
	for _, de := range dirEntries {
		if de.IsDir() {
			continue
		}
		info, err := de.Info()
		if err != nil {
			continue
		}
		out = append(out, Entry{Name: de.Name(), Size: info.Size()})
	}
	return out, nil
}

// PurgeIfExpired purges name when the token is expired. Purge
// failures are logged as warnings rather than propagated.
func (v *Vault) PurgeIfExpired(name string, tok *Token) {
	if tok == nil || !tok.IsExpired() {
		return
	}
	if err := v.Purge(name); err != nil {
		logging.Op().Warn("vault: failed to purge expired token", "name", name, "error", err)
	}
}
