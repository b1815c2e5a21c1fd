package fswatch

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"github.com/sidkik/picosync/pkg/errors"
	"github.com/sidkik/picosync/pkg/tree"
)

var fs = afero.NewOsFs()

// Watcher notifies when any file that's part of a deployment changes.
type Watcher struct {
	// Changes receives a value after files changed. Bursts of changes are
	// combined into a single notification.
	Changes chan struct{}

	watcher *fsnotify.Watcher
}

// Watch watches the project root, each configured folder, and their
// immediate subfolders. The root is watched so that the entry script and
// folders that are created after the watch starts are noticed.
func Watch(root string, folders []tree.FolderSpec) (*Watcher, error) {
	pathsToWatch, err := getPathsToWatch(root, folders)
	if err != nil {
		return nil, errors.WithContext(err, "get paths")
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.WithContext(err, "create watcher")
	}

	for _, path := range pathsToWatch {
		if err := watcher.Add(path); err != nil {
			// Close the watcher so that we release the file handlers for the
			// previously added paths.
			if err := watcher.Close(); err != nil {
				log.WithError(err).Warn("Failed to close file watcher")
			}

			return nil, errors.WithContext(err, fmt.Sprintf("watch %q", path))
		}
	}

	go func() {
		for err := range watcher.Errors {
			log.WithError(err).Debug("File watcher error")
		}
	}()
	return &Watcher{
		Changes: combineUpdates(watcher.Events),
		watcher: watcher,
	}, nil
}

// Close stops watching.
func (w *Watcher) Close() error {
	return w.watcher.Close()
}

func combineUpdates(updates <-chan fsnotify.Event) chan struct{} {
	combined := make(chan struct{}, 1)
	go func() {
		for range updates {
			select {
			case combined <- struct{}{}:
			default:
			}
		}
	}()
	return combined
}

// getPathsToWatch returns the directories whose contents are deployed.
// fsnotify reports changes to the files in a watched directory, so the
// files themselves don't need to be added. Directories nested deeper than
// the deployment reaches are left out.
func getPathsToWatch(root string, folders []tree.FolderSpec) ([]string, error) {
	fi, err := fs.Stat(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.FileNotFound{Path: root}
		}
		return nil, errors.WithContext(err, "stat")
	}
	if !fi.IsDir() {
		return nil, errors.Newf("%s is not a directory", root)
	}

	paths := []string{root}
	for _, folder := range folders {
		dir := filepath.Join(root, filepath.FromSlash(folder.Name))
		children, err := afero.ReadDir(fs, dir)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, errors.WithContext(err, fmt.Sprintf("read %s", dir))
		}

		paths = append(paths, dir)
		for _, child := range children {
			if child.IsDir() {
				paths = append(paths, filepath.Join(dir, child.Name()))
			}
		}
	}
	return paths, nil
}
