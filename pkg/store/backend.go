package store

import (
	"os"
	"path/filepath"
	"syscall"

	"github.com/pkg/errors"
)

// Backend abstracts the key-value slot the conversation record lives in.
// The production implementation is a file on disk; tests use an in-memory
// map or a backend that simulates a full device.
type Backend interface {
	// Read returns the payload for the slot and whether the slot exists.
	Read(slot string) ([]byte, bool, error)
	Write(slot string, data []byte) error
	// Delete removes the slot. Deleting an absent slot is not an error.
	Delete(slot string) error
}

// FileBackend stores each slot as a JSON file in a directory.
type FileBackend struct {
	dir string
}

func NewFileBackend(dir string) (*FileBackend, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrap(err, "failed to create storage directory")
	}
	return &FileBackend{dir: dir}, nil
}

func (b *FileBackend) path(slot string) string {
	return filepath.Join(b.dir, slot+".json")
}

func (b *FileBackend) Read(slot string) ([]byte, bool, error) {
	data, err := os.ReadFile(b.path(slot))
	if os.IsNotExist(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}

func (b *FileBackend) Write(slot string, data []byte) error {
	tmp := b.path(slot) + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		_ = os.Remove(tmp)
		return translateWriteError(err)
	}
	if err := os.Rename(tmp, b.path(slot)); err != nil {
		_ = os.Remove(tmp)
		return translateWriteError(err)
	}
	return nil
}

func (b *FileBackend) Delete(slot string) error {
	err := os.Remove(b.path(slot))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

// translateWriteError maps device-full conditions onto ErrQuotaExceeded so
// callers can present the specific remediation message.
func translateWriteError(err error) error {
	if errors.Is(err, syscall.ENOSPC) || errors.Is(err, syscall.EDQUOT) {
		return errors.Wrap(ErrQuotaExceeded, err.Error())
	}
	return err
}

var _ Backend = (*FileBackend)(nil)
