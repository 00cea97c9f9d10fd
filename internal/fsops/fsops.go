package fsops

import (
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
)

const (
	assetDirectoryPermissions = 0o755
	assetFilePermissions      = 0o644
)

// FS is the filesystem the asset host writes to and the HTTP layer serves from.
type FS interface {
	ReadFile(name string) ([]byte, error)
	WriteFile(name string, data []byte, perm os.FileMode) error
	Stat(name string) (fs.FileInfo, error)
	MkdirAll(path string, perm os.FileMode) error
	HTTPDir(root string) http.FileSystem

	Join(elem ...string) string
	Base(name string) string
	Clean(name string) string
}

// ---------- OS-backed implementation ----------

type OS struct{ fs afero.Fs }

func NewOS() OS { return OS{fs: afero.NewOsFs()} }

func (o OS) ReadFile(name string) ([]byte, error) { return afero.ReadFile(o.fs, filepath.Clean(name)) }
func (o OS) WriteFile(name string, b []byte, p os.FileMode) error {
	return afero.WriteFile(o.fs, filepath.Clean(name), b, p)
}
func (o OS) Stat(name string) (fs.FileInfo, error)     { return o.fs.Stat(filepath.Clean(name)) }
func (o OS) MkdirAll(path string, p os.FileMode) error { return o.fs.MkdirAll(filepath.Clean(path), p) }
func (o OS) HTTPDir(root string) http.FileSystem {
	return afero.NewHttpFs(afero.NewReadOnlyFs(o.fs)).Dir(filepath.Clean(root))
}
func (OS) Join(elem ...string) string { return filepath.Join(elem...) }
func (OS) Base(name string) string    { return filepath.Base(name) }
func (OS) Clean(name string) string   { return filepath.Clean(name) }

// ---------- In-memory implementation (for tests) ----------

type Mem struct{ Fs afero.Fs }

func NewMem() Mem { return Mem{Fs: afero.NewMemMapFs()} }

func (m Mem) ReadFile(name string) ([]byte, error) { return afero.ReadFile(m.Fs, filepath.Clean(name)) }
func (m Mem) WriteFile(name string, b []byte, p os.FileMode) error {
	return afero.WriteFile(m.Fs, filepath.Clean(name), b, p)
}
func (m Mem) Stat(name string) (fs.FileInfo, error) { return m.Fs.Stat(filepath.Clean(name)) }
func (m Mem) MkdirAll(path string, p os.FileMode) error {
	return m.Fs.MkdirAll(filepath.Clean(path), p)
}
func (m Mem) HTTPDir(root string) http.FileSystem {
	return afero.NewHttpFs(afero.NewReadOnlyFs(m.Fs)).Dir(filepath.Clean(root))
}

func (Mem) Join(elem ...string) string { return filepath.Join(elem...) }
func (Mem) Base(name string) string    { return filepath.Base(name) }
func (Mem) Clean(name string) string   { return filepath.Clean(name) }

// ---------- Asset façade ----------

type Ops struct{ FS FS }

func NewOps(fs FS) Ops { return Ops{FS: fs} }

// SaveAsset writes data as directory/name, creating directory when needed.
// The name is reduced to its base so callers cannot escape directory.
func (o Ops) SaveAsset(directory string, name string, data []byte) (string, error) {
	safeName := o.FS.Base(strings.TrimSpace(name))
	if safeName == "." || safeName == string(filepath.Separator) || safeName == "" {
		return "", fs.ErrInvalid
	}
	if err := o.FS.MkdirAll(directory, assetDirectoryPermissions); err != nil {
		return "", err
	}
	assetPath := o.FS.Join(directory, safeName)
	if err := o.FS.WriteFile(assetPath, data, assetFilePermissions); err != nil {
		return "", err
	}
	return assetPath, nil
}

func (o Ops) FileExists(p string) bool { _, err := o.FS.Stat(p); return err == nil }
