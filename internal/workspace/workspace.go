// Package workspace manages the private temporary directory holding all
// resources for one harness run: the data directory, the socket directory
// and the log files.
package workspace

import (
	"fmt"
	"path/filepath"
	"sync"

	"github.com/spf13/afero"
)

// Names of the entries created inside the workspace root.
const (
	dataDirName   = "data"
	socketDirName = "socket"
	serverLogName = "server.log"
	setupLogName  = "setup.log"

	// rootPattern is the prefix handed to the temp-dir allocator; the OS
	// supplies the unique suffix, so roots are collision-free.
	rootPattern = "pgbox-"
)

// Workspace is the private filesystem root for one run. All paths are
// derived once at allocation and never change.
type Workspace struct {
	fs afero.Fs

	Root      string
	DataDir   string
	SocketDir string
	ServerLog string
	SetupLog  string

	preserve bool

	mu      sync.Mutex
	removed bool
}

// New allocates a uniquely-named workspace under parent. An empty parent
// means the system temp directory. The data directory is created with mode
// 0700 as the server requires.
//
// On a partial failure the root is deleted again unless preserve is set.
func New(fs afero.Fs, parent string, preserve bool) (*Workspace, error) {
	root, err := afero.TempDir(fs, parent, rootPattern)
	if err != nil {
		return nil, fmt.Errorf("allocate workspace: %w", err)
	}

	w := &Workspace{
		fs:        fs,
		Root:      root,
		DataDir:   filepath.Join(root, dataDirName),
		SocketDir: filepath.Join(root, socketDirName),
		ServerLog: filepath.Join(root, serverLogName),
		SetupLog:  filepath.Join(root, setupLogName),
		preserve:  preserve,
	}

	if err := fs.MkdirAll(w.DataDir, 0o700); err != nil {
		w.discard()
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	if err := fs.MkdirAll(w.SocketDir, 0o700); err != nil {
		w.discard()
		return nil, fmt.Errorf("create socket dir: %w", err)
	}

	return w, nil
}

// Preserve reports whether the workspace is kept after the run.
func (w *Workspace) Preserve() bool {
	return w.preserve
}

// OpenSetupLog creates the setup log file inside the workspace.
func (w *Workspace) OpenSetupLog() (afero.File, error) {
	return w.fs.Create(w.SetupLog)
}

// Remove deletes the workspace recursively. It is idempotent and honors
// preserve mode, in which case nothing is deleted and the caller is
// expected to print the workspace path.
func (w *Workspace) Remove() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.removed || w.preserve {
		return nil
	}
	if err := w.fs.RemoveAll(w.Root); err != nil {
		return fmt.Errorf("remove workspace: %w", err)
	}
	w.removed = true
	return nil
}

// discard cleans up a half-built workspace. Preserve mode applies here too
// so a failed setup can still be inspected.
func (w *Workspace) discard() {
	if w.preserve {
		return
	}
	_ = w.fs.RemoveAll(w.Root)
}
