// Package discovery implements the single-instance coordination
// protocol: the DiscoveryRecord that names the authoritative backend,
// and the LaunchLock that serializes concurrent launch attempts.
//
// Grounded on src/swan/daemon/manager.go's pid-liveness probe and
// atomic-save shape, generalized to the rename-based atomic publish
// the spec requires (§4.2, §9 "Atomic file publish must be
// rename-based").
package discovery

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sys/unix"
)

// Record is the single fact that coordinates all instances.
type Record struct {
	Host      string  `json:"host"`
	Port      int     `json:"port"`
	Status    string  `json:"status"`
	PID       int     `json:"pid"`
	Instance  string  `json:"instance"`
	Timestamp float64 `json:"timestamp"`
}

// StatusRunning is the only Status value the protocol emits.
const StatusRunning = "running"

// ErrVerificationFailed is returned by Publish when the re-read record
// does not echo back the instance token that was just written.
type ErrVerificationFailed struct{ Path string }

func (e *ErrVerificationFailed) Error() string {
	return fmt.Sprintf("discovery record at %s did not round-trip after publish", e.Path)
}

// Registry manages the DiscoveryRecord and its sibling LaunchLock file
// at a fixed path.
type Registry struct {
	path string
}

// New returns a Registry rooted at path (conventionally
// <app-support>/<app>/server.json).
func New(path string) *Registry {
	return &Registry{path: path}
}

func (r *Registry) lockPath() string {
	return r.path + ".launching"
}

// Publish atomically writes a fresh DiscoveryRecord naming (host, port,
// pid) with a new Instance token, verifies the round-trip, and returns
// the token.
func (r *Registry) Publish(host string, port, pid int) (string, error) {
	if err := os.MkdirAll(filepath.Dir(r.path), 0755); err != nil {
		log.Printf("[registry] failed to create discovery directory: %v", err)
		return "", fmt.Errorf("failed to create discovery directory: %w", err)
	}

	instance := uuid.NewString()
	rec := Record{
		Host:      host,
		Port:      port,
		Status:    StatusRunning,
		PID:       pid,
		Instance:  instance,
		Timestamp: float64(time.Now().UnixNano()) / 1e9,
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return "", fmt.Errorf("failed to marshal discovery record: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(r.path), ".server-*.json.tmp")
	if err != nil {
		return "", fmt.Errorf("failed to create temp discovery file: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return "", fmt.Errorf("failed to write temp discovery file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("failed to close temp discovery file: %w", err)
	}
	if err := os.Rename(tmpPath, r.path); err != nil {
		os.Remove(tmpPath)
		log.Printf("[registry] failed to publish discovery record: %v", err)
		return "", fmt.Errorf("failed to publish discovery record: %w", err)
	}

	readBack, err := r.Read()
	if err != nil {
		log.Printf("[registry] failed to re-read discovery record after publish: %v", err)
		return "", fmt.Errorf("failed to re-read discovery record: %w", err)
	}
	if readBack == nil || readBack.Instance != instance {
		log.Printf("[registry] discovery record at %s did not round-trip after publish", r.path)
		return "", &ErrVerificationFailed{Path: r.path}
	}

	return instance, nil
}

// Read parses the canonical discovery file. A missing file is not an
// error: it returns (nil, nil).
func (r *Registry) Read() (*Record, error) {
	data, err := os.ReadFile(r.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read discovery record: %w", err)
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		log.Printf("[registry] failed to parse discovery record at %s: %v", r.path, err)
		return nil, fmt.Errorf("failed to parse discovery record: %w", err)
	}
	return &rec, nil
}

// Remove idempotently deletes the canonical discovery file.
func (r *Registry) Remove() error {
	if err := os.Remove(r.path); err != nil && !os.IsNotExist(err) {
		log.Printf("[registry] failed to remove discovery record: %v", err)
		return fmt.Errorf("failed to remove discovery record: %w", err)
	}
	return nil
}

// IsAlive probes whether pid names a live process via signal 0. It
// distinguishes "process does not exist" (false) from "exists but not
// ours" (true, e.g. EPERM) the way `kill -0` does.
func IsAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := unix.Kill(pid, 0)
	if err == nil {
		return true
	}
	return err == unix.EPERM
}

// ReadLive returns the current record, deleting and discarding it
// first if its pid is no longer alive (the "stale record" cleanup
// §4.2 requires of any observer).
func (r *Registry) ReadLive() (*Record, error) {
	rec, err := r.Read()
	if err != nil || rec == nil {
		return rec, err
	}
	if !IsAlive(rec.PID) {
		if err := r.Remove(); err != nil {
			return nil, err
		}
		return nil, nil
	}
	return rec, nil
}

// AcquireLaunchLock attempts exclusive creation of the sibling
// `.launching` file. It returns true if this call created the lock.
func (r *Registry) AcquireLaunchLock() (bool, error) {
	f, err := os.OpenFile(r.lockPath(), os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		if os.IsExist(err) {
			return false, nil
		}
		log.Printf("[registry] failed to acquire launch lock: %v", err)
		return false, fmt.Errorf("failed to acquire launch lock: %w", err)
	}
	return true, f.Close()
}

// ReleaseLaunchLock idempotently removes the launch lock.
func (r *Registry) ReleaseLaunchLock() error {
	if err := os.Remove(r.lockPath()); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to release launch lock: %w", err)
	}
	return nil
}

// LaunchLockExists reports whether the sibling `.launching` file is
// currently present, used by the wait-loop to detect that the proxy
// holding the lock has disappeared.
func (r *Registry) LaunchLockExists() bool {
	_, err := os.Stat(r.lockPath())
	return err == nil
}
