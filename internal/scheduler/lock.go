package scheduler

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

// ErrAlreadyRunning — другой scheduler уже держит блокировку.
var ErrAlreadyRunning = errors.New("scheduler already running")

// InstanceLock — файловая блокировка единственного экземпляра scheduler.
type InstanceLock struct {
	lock *flock.Flock
}

// AcquireInstanceLock берёт блокировку без ожидания.
// Если блокировку держит другой процесс, возвращается ErrAlreadyRunning.
func AcquireInstanceLock(path string) (*InstanceLock, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create lock directory: %w", err)
	}

	lock := flock.New(path)
	ok, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s is locked", ErrAlreadyRunning, path)
	}
	return &InstanceLock{lock: lock}, nil
}

// Path возвращает путь к файлу блокировки.
func (l *InstanceLock) Path() string {
	return l.lock.Path()
}

// Release снимает блокировку.
func (l *InstanceLock) Release() error {
	return l.lock.Unlock()
}
