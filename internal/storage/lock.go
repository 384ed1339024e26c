package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/starford/lcca/internal/apperr"
)

// LockInfo is the informational content of a lock marker. Nothing relies on
// it for correctness; it is shown to the user when deciding on a stale lock.
type LockInfo struct {
	PID        int       `json:"pid"`
	Host       string    `json:"host"`
	Session    string    `json:"session,omitempty"`
	AcquiredAt time.Time `json:"acquired_at"`
}

// Alive reports whether the holder process still runs on this host. A
// holder on another host is assumed alive.
func (l LockInfo) Alive() bool {
	host, _ := os.Hostname()
	if l.Host != "" && l.Host != host {
		return true
	}
	if l.PID <= 0 {
		return false
	}
	return processAlive(l.PID)
}

// AcquireLock creates the lock marker. It returns false without error when
// a marker is already present.
func (s *Store) AcquireLock(owner string) (bool, error) {
	f, err := os.OpenFile(s.LockPath(), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		switch {
		case errors.Is(err, fs.ErrExist):
			return false, nil
		case errors.Is(err, fs.ErrNotExist):
			return false, fmt.Errorf("storage: lock %s: %w", s.id, apperr.ErrNotFound)
		default:
			return false, fmt.Errorf("storage: lock %s: %w", s.id, err)
		}
	}
	defer f.Close()

	host, _ := os.Hostname()
	info := LockInfo{PID: os.Getpid(), Host: host, Session: owner, AcquiredAt: s.now().UTC()}
	// The marker's presence is the lock; holder info is best effort.
	_ = json.NewEncoder(f).Encode(info)
	return true, nil
}

// ReleaseLock removes the marker. Releasing an absent lock is not an error.
func (s *Store) ReleaseLock() error {
	if err := os.Remove(s.LockPath()); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("storage: unlock %s: %w", s.id, err)
	}
	return nil
}

// LockHolder reads the marker. A marker whose content is unreadable yields
// a zero LockInfo; a missing marker yields apperr.ErrNotFound.
func (s *Store) LockHolder() (LockInfo, error) {
	data, err := os.ReadFile(s.LockPath())
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return LockInfo{}, fmt.Errorf("storage: lock holder %s: %w", s.id, apperr.ErrNotFound)
		}
		return LockInfo{}, fmt.Errorf("storage: lock holder %s: %w", s.id, err)
	}
	var info LockInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return LockInfo{}, nil
	}
	return info, nil
}
