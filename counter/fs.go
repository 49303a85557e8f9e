package counter

import (
	"os"
)

// FS is the filesystem surface used by Store. Tests inject faulty implementations to
// simulate locked or corrupted files.
type FS interface {
	ReadFile(name string) ([]byte, error)
	// WriteTemp creates a new temporary file in dir, writes data, syncs and closes it,
	// and returns its path.
	WriteTemp(dir, pattern string, data []byte) (string, error)
	Rename(oldpath, newpath string) error
	Remove(name string) error
}

// OSFS is the FS backed by the operating system.
type OSFS struct{}

var _ FS = OSFS{}

func (OSFS) ReadFile(name string) ([]byte, error) { return os.ReadFile(name) }

func (OSFS) WriteTemp(dir, pattern string, data []byte) (string, error) {
	f, err := os.CreateTemp(dir, pattern)
	if err != nil {
		return "", err
	}
	name := f.Name()

	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		_ = os.Remove(name)
		return "", err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(name)
		return "", err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(name)
		return "", err
	}

	return name, nil
}

func (OSFS) Rename(oldpath, newpath string) error { return os.Rename(oldpath, newpath) }

func (OSFS) Remove(name string) error { return os.Remove(name) }
