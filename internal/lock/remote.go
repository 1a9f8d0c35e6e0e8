package lock

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// remoteKinds are filesystems whose flock is local to the client host, or
// not honoured at all, so two runners on different hosts can both hold it.
var remoteKinds = map[string]bool{
	"9p":     true,
	"afpfs":  true,
	"afs":    true,
	"ceph":   true,
	"cifs":   true,
	"nfs":    true,
	"smb2":   true,
	"smbfs":  true,
	"webdav": true,
}

// RemoteFilesystemError means a lock file is on a filesystem where flock
// does not exclude other hosts.
type RemoteFilesystemError struct {
	LockPath   string
	Filesystem string
}

func (e *RemoteFilesystemError) Error() string {
	return fmt.Sprintf("lock file %q is on %s; runs started on other hosts will not wait for it. Set RUNNER_LOCK_FILE to a local path",
		e.LockPath, e.Filesystem)
}

// CheckHostLocal returns a *RemoteFilesystemError when the directory that
// will hold lockPath is on a shared filesystem. The lock file and its parents
// need not exist yet.
func CheckHostLocal(lockPath string) error {
	return checkHostLocal(lockPath, filesystemKind)
}

// kindFunc names the filesystem that holds an existing directory.
type kindFunc func(dir string) (string, error)

func checkHostLocal(lockPath string, kindOf kindFunc) error {
	if lockPath == "" {
		return errors.New("lock path is empty")
	}
	dir, err := existingDir(lockPath)
	if err != nil {
		return fmt.Errorf("lock %s: %w", lockPath, err)
	}
	kind, err := kindOf(dir)
	if err != nil {
		return fmt.Errorf("lock %s: filesystem of %s: %w", lockPath, dir, err)
	}
	if isRemote(kind) {
		return &RemoteFilesystemError{LockPath: lockPath, Filesystem: kind}
	}
	return nil
}

// existingDir walks up from the lock file's directory to the first one that
// exists, which is where TryAcquire would create the missing parents.
func existingDir(lockPath string) (string, error) {
	abs, err := filepath.Abs(lockPath)
	if err != nil {
		return "", err
	}
	for dir := filepath.Dir(abs); ; dir = filepath.Dir(dir) {
		info, err := os.Stat(dir)
		switch {
		case err == nil && info.IsDir():
			return dir, nil
		case err == nil:
			return "", fmt.Errorf("%s is not a directory", dir)
		case !errors.Is(err, os.ErrNotExist):
			return "", err
		}
		if dir == filepath.Dir(dir) {
			return "", fmt.Errorf("no existing directory above %s", abs)
		}
	}
}

func isRemote(kind string) bool {
	return remoteKinds[strings.ToLower(strings.TrimSpace(kind))]
}
