// Package tree enumerates the local files that make up a deployment.
//
// A deployment is described by a list of FolderSpecs. Each folder is mirrored
// to a directory of the same name under the device root. Only the top level
// files of a folder are filtered by extension. Subdirectories are followed
// exactly one level deep and all of their files are deployed. Anything nested
// deeper than that is ignored.
package tree

import (
	"os"
	"path"
	"path/filepath"
	"strings"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"github.com/sidkik/picosync/pkg/errors"
)

// Mocked out for unit testing.
var fs = afero.NewOsFs()

// RemoteRoot is the root of the device filesystem.
const RemoteRoot = "/"

// FolderSpec describes a top-level local folder and which file extensions are
// eligible for upload from it. An empty Extensions list matches every file.
type FolderSpec struct {
	Name       string
	Extensions []string
}

// Matches returns whether a file at the top level of the folder should be
// deployed.
func (spec FolderSpec) Matches(name string) bool {
	if len(spec.Extensions) == 0 {
		return true
	}

	ext := filepath.Ext(name)
	for _, allowed := range spec.Extensions {
		if ext == NormalizeExtension(allowed) {
			return true
		}
	}
	return false
}

// RemoteDir returns the directory on the device that mirrors the folder.
func (spec FolderSpec) RemoteDir() string {
	return RemotePath(spec.Name)
}

// NormalizeExtension adds the leading dot to an extension if it's missing.
func NormalizeExtension(ext string) string {
	if ext == "" || strings.HasPrefix(ext, ".") {
		return ext
	}
	return "." + ext
}

// RemotePath converts a path relative to the project root into the path on
// the device that mirrors it.
func RemotePath(relative string) string {
	return path.Join(RemoteRoot, filepath.ToSlash(relative))
}

// Kind is the type of a local entry.
type Kind int

const (
	// Directory entries must be created on the device before any of the
	// File entries that follow them.
	Directory Kind = iota
	File
)

func (k Kind) String() string {
	switch k {
	case Directory:
		return "directory"
	case File:
		return "file"
	default:
		return "unknown"
	}
}

// Entry is a single step of a deployment discovered on the local disk.
type Entry struct {
	Kind Kind

	// Local is the path of the entry on the host.
	Local string

	// RemoteDir is the directory on the device the entry belongs in. For
	// Directory entries, it's the directory to create. For File entries, it's
	// the directory the file is copied into.
	RemoteDir string
}

// UploadTask is the atomic unit of work for copying a file to the device.
type UploadTask struct {
	LocalFile string
	RemoteDir string
}

// UploadTask returns the upload described by a File entry.
func (e Entry) UploadTask() UploadTask {
	return UploadTask{LocalFile: e.Local, RemoteDir: e.RemoteDir}
}

// Sequence lazily walks a single folder. Directories are only read when the
// walk reaches them. A Sequence can't be restarted.
type Sequence struct {
	root string
	spec FolderSpec

	started bool
	pending []Entry
	subdirs []string
}

// Enumerate returns the entries to deploy for `spec`, whose folder is
// resolved relative to `root`.
func Enumerate(root string, spec FolderSpec) *Sequence {
	return &Sequence{root: root, spec: spec}
}

// Next returns the next entry of the walk. The second return value is false
// once the walk is complete.
func (s *Sequence) Next() (Entry, bool, error) {
	if !s.started {
		s.started = true
		dir := filepath.Join(s.root, filepath.FromSlash(s.spec.Name))
		remoteDir := s.spec.RemoteDir()

		files, subdirs, err := readDir(dir)
		if err != nil {
			return Entry{}, false, errors.WithContext(err, "read folder")
		}

		for _, name := range files {
			if s.spec.Matches(name) {
				s.pending = append(s.pending, Entry{
					Kind:      File,
					Local:     filepath.Join(dir, name),
					RemoteDir: remoteDir,
				})
			}
		}
		for _, name := range subdirs {
			s.subdirs = append(s.subdirs, filepath.Join(dir, name))
		}

		// The folder itself is always created, even if it doesn't exist
		// locally or nothing in it matches.
		return Entry{Kind: Directory, Local: dir, RemoteDir: remoteDir}, true, nil
	}

	if len(s.pending) > 0 {
		next := s.pending[0]
		s.pending = s.pending[1:]
		return next, true, nil
	}

	if len(s.subdirs) > 0 {
		subdir := s.subdirs[0]
		s.subdirs = s.subdirs[1:]
		remoteDir := path.Join(s.spec.RemoteDir(), filepath.Base(subdir))

		files, _, err := readDir(subdir)
		if err != nil {
			return Entry{}, false, errors.WithContext(err, "read subfolder")
		}
		for _, name := range files {
			s.pending = append(s.pending, Entry{
				Kind:      File,
				Local:     filepath.Join(subdir, name),
				RemoteDir: remoteDir,
			})
		}
		return Entry{Kind: Directory, Local: subdir, RemoteDir: remoteDir}, true, nil
	}

	return Entry{}, false, nil
}

// Collect drains the sequence.
func (s *Sequence) Collect() ([]Entry, error) {
	var entries []Entry
	for {
		entry, ok, err := s.Next()
		if err != nil {
			return nil, err
		}
		if !ok {
			return entries, nil
		}
		entries = append(entries, entry)
	}
}

// readDir splits the immediate children of `dir` into files and
// directories. A directory that doesn't exist has no children.
func readDir(dir string) (files, dirs []string, err error) {
	infos, err := afero.ReadDir(fs, dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil, nil
		}
		return nil, nil, err
	}

	for _, info := range infos {
		// ReadDir doesn't follow symlinks, but the device gets a copy of
		// whatever they point to.
		if info.Mode()&os.ModeSymlink != 0 {
			target, err := fs.Stat(filepath.Join(dir, info.Name()))
			if err != nil {
				log.WithError(err).WithField("path", filepath.Join(dir, info.Name())).
					Warn("Skipping broken symlink")
				continue
			}
			info = renamedInfo{target, info.Name()}
		}

		switch {
		case info.IsDir():
			dirs = append(dirs, info.Name())
		case info.Mode().IsRegular():
			files = append(files, info.Name())
		default:
			log.WithField("path", filepath.Join(dir, info.Name())).
				Warn("Skipping file that isn't a regular file or directory")
		}
	}
	return files, dirs, nil
}

// renamedInfo is the target of a symlink, reported under the link's name.
type renamedInfo struct {
	os.FileInfo
	name string
}

func (i renamedInfo) Name() string {
	return i.name
}
