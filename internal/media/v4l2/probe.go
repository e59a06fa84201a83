package v4l2

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/gofrs/flock"

	"github.com/fpang/meme-studio/internal/media"
)

// probe checks that path is a device this process may open, the way a
// browser asks for camera permission before starting capture.
func probe(path string) error {
	fi, err := os.Stat(path)
	if err != nil {
		return &media.DeviceError{Device: path, Op: "stat", Err: classifyOpenError(err)}
	}
	if fi.Mode()&fs.ModeCharDevice == 0 {
		return &media.DeviceError{
			Device: path,
			Op:     "stat",
			Err:    fmt.Errorf("%w: not a character device", media.ErrDeviceUnavailable),
		}
	}

	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return &media.DeviceError{Device: path, Op: "open", Err: classifyOpenError(err)}
	}
	return f.Close()
}

// classifyOpenError maps an OS error to the media error taxonomy.
func classifyOpenError(err error) error {
	switch {
	case errors.Is(err, fs.ErrNotExist), errors.Is(err, syscall.ENODEV), errors.Is(err, syscall.ENXIO):
		return fmt.Errorf("%w: %v", media.ErrDeviceUnavailable, err)
	case errors.Is(err, fs.ErrPermission), errors.Is(err, syscall.EACCES), errors.Is(err, syscall.EPERM):
		return fmt.Errorf("%w: %v", media.ErrDeviceAccessDenied, err)
	case errors.Is(err, syscall.EBUSY):
		return fmt.Errorf("%w: device busy: %v", media.ErrDeviceUnavailable, err)
	default:
		return fmt.Errorf("%w: %v", media.ErrDeviceUnavailable, err)
	}
}

// classifyPipelineError maps a GStreamer error message to the media taxonomy.
// GStreamer does not expose errno, so this relies on the message text.
func classifyPipelineError(msg string) error {
	lower := strings.ToLower(msg)
	for _, kw := range []string{"permission denied", "not permitted", "eacces"} {
		if strings.Contains(lower, kw) {
			return media.ErrDeviceAccessDenied
		}
	}
	return media.ErrDeviceUnavailable
}

// lockPath returns the advisory lock file guarding device path.
func lockPath(dir, path string) string {
	if dir == "" {
		dir = os.TempDir()
	}
	return filepath.Join(dir, "meme-studio-"+filepath.Base(path)+".lock")
}

// acquireLock takes an exclusive, non-blocking lock so two processes never
// share one camera.
func acquireLock(dir, path string) (*flock.Flock, error) {
	lock := flock.New(lockPath(dir, path))
	ok, err := lock.TryLock()
	if err != nil {
		return nil, &media.DeviceError{Device: path, Op: "lock", Err: fmt.Errorf("%w: %v", media.ErrDeviceUnavailable, err)}
	}
	if !ok {
		return nil, &media.DeviceError{Device: path, Op: "lock", Err: fmt.Errorf("%w: in use by another process", media.ErrDeviceUnavailable)}
	}
	return lock, nil
}
