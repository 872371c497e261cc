// Package fsutil contains utilities for working with the file system.
package fsutil

import (
	"os"
	"os/user"
	"path"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/afero"
	"k8s.io/klog/v2"
)

// FileExists returns whether the file or directory exists or an error if something went wrong in the filesystem.
func FileExists(fs afero.Fs, path string) (bool, error) {
	exists, err := afero.Exists(fs, path)
	if err != nil {
		return false, errors.Wrapf(err, "failed to FileExists(%q)", path)
	}
	return exists, nil
}

// EnsureDirectoryExists creates dir and its parents if they don't exist yet.
func EnsureDirectoryExists(fs afero.Fs, dir string) error {
	isDir, err := afero.IsDir(fs, dir)
	if err == nil && isDir {
		return nil
	}
	if err == nil {
		return errors.Errorf("%q exists and is not a directory", dir)
	}
	if !errors.Is(err, os.ErrNotExist) {
		return errors.Wrapf(err, "failed to stat %q", dir)
	}
	return errors.Wrapf(fs.MkdirAll(dir, 0o755), "failed to create directory %q", dir)
}

// ReplaceTildeInDir by the user's home directory. Returns dir if it doesn't start with "~".
//
// It returns an error if `dir` has an unknown user or some other filesystem error (e.g: `~unknown/...`)
func ReplaceTildeInDir(dir string) (string, error) {
	if len(dir) == 0 {
		return dir, nil
	}
	if dir[0] != '~' {
		return dir, nil
	}
	var userName string
	if dir != "~" && !strings.HasPrefix(dir, "~/") {
		sepIdx := strings.IndexRune(dir, '/')
		if sepIdx == -1 {
			userName = dir[1:]
		} else {
			userName = dir[1:sepIdx]
		}
	}
	var usr *user.User
	var err error
	if userName == "" {
		usr, err = user.Current()
	} else {
		usr, err = user.Lookup(userName)
	}
	if err != nil {
		return "", errors.Wrapf(err, "failed to lookup home directory for user in path %q", dir)
	}
	homeDir := usr.HomeDir
	return path.Join(homeDir, dir[1+len(userName):]), nil
}

// LogFileName returns the name of the log file of the running program in dir: "<dir>/<program>.log".
func LogFileName(dir string) string {
	return filepath.Join(dir, filepath.Base(os.Args[0])+".log")
}

// RedirectStdoutAndStderr sends the output of the program to LogFileName(dir), created if needed and
// appended to otherwise. The logs always go there; os.Stdout and os.Stderr are pointed at the file too when
// fs is backed by the OS filesystem.
//
// The returned function flushes the logs, restores the standard streams and logging to stderr, and closes
// the file.
func RedirectStdoutAndStderr(fs afero.Fs, dir string) (restore func() error, err error) {
	if err = EnsureDirectoryExists(fs, dir); err != nil {
		return nil, err
	}
	name := LogFileName(dir)
	f, err := fs.OpenFile(name, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open log file %q", name)
	}
	stdout, stderr := os.Stdout, os.Stderr
	if osFile, ok := f.(*os.File); ok {
		os.Stdout, os.Stderr = osFile, osFile
	}
	klog.Flush()
	klog.LogToStderr(false)
	klog.SetOutput(f)
	return func() error {
		klog.Flush()
		os.Stdout, os.Stderr = stdout, stderr
		klog.SetOutput(os.Stderr)
		klog.LogToStderr(true)
		return errors.Wrapf(f.Close(), "failed to close log file %q", name)
	}, nil
}
