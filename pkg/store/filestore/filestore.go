// Package filestore implements store.Store on top of the local
// filesystem, one file per key. Files are created 0600 inside a 0700
// directory and guarded by an advisory file lock so that concurrent
// CLI invocations do not interleave writes.
package filestore

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	"github.com/pkg/errors"

	"github.com/mousybusiness/cognauth/pkg/store"
)

const (
	// lockTimeout bounds how long we wait for the advisory lock.
	lockTimeout = 10 * time.Second

	// lockRetryInterval is how often we poll for the lock.
	lockRetryInterval = 10 * time.Millisecond
)

type fileStore struct {
	dir string
}

// New returns a Store rooted at dir, creating it if necessary.
func New(dir string) (store.Store, error) {
	if dir == "" {
		return nil, errors.New("require dir")
	}

	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, errors.Wrap(err, "couldn't create store directory")
	}

	return &fileStore{dir: dir}, nil
}

func (f *fileStore) Save(data []byte, key string) error {
	unlock, err := f.lock(key)
	if err != nil {
		return err
	}
	defer unlock()

	if err := os.WriteFile(f.path(key), data, 0600); err != nil {
		return errors.Wrap(err, "couldn't write record")
	}
	return nil
}

func (f *fileStore) Load(key string) ([]byte, error) {
	unlock, err := f.lock(key)
	if err != nil {
		return nil, err
	}
	defer unlock()

	info, err := os.Stat(f.path(key))
	if errors.Is(err, os.ErrNotExist) {
		return nil, store.ErrItemNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "couldn't stat record")
	}
	if !info.Mode().IsRegular() {
		return nil, store.ErrUnexpectedData
	}

	b, err := os.ReadFile(f.path(key))
	if err != nil {
		return nil, store.ErrUnexpectedData
	}
	return b, nil
}

func (f *fileStore) Delete(key string) error {
	unlock, err := f.lock(key)
	if err != nil {
		return err
	}
	defer unlock()

	if err := os.Remove(f.path(key)); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return store.ErrItemNotFound
		}
		return errors.Wrap(err, "couldn't delete record")
	}
	return nil
}

func (f *fileStore) path(key string) string {
	return filepath.Join(f.dir, key)
}

func (f *fileStore) lock(key string) (func(), error) {
	lock := flock.New(f.path(key) + ".lock")

	ctx, cancel := context.WithTimeout(context.Background(), lockTimeout)
	defer cancel()

	if _, err := lock.TryLockContext(ctx, lockRetryInterval); err != nil {
		return nil, errors.Wrap(err, "couldn't acquire store lock")
	}
	return func() { _ = lock.Unlock() }, nil
}
