package prof

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/pprof"
	"os"
	"runtime"
	rpprof "runtime/pprof"
	"sync"
)

// Profiling errors.
var (
	// ErrCPUProfileActive indicates CPU profiling is already active.
	ErrCPUProfileActive = errors.New("cpu profile already active")

	// ErrInvalidProfile indicates an unknown profile or a CPU profile
	// requested as a snapshot.
	ErrInvalidProfile = errors.New("invalid profile")
)

// Profile names a runtime profile.
type Profile string

// Snapshot profiles.
const (
	ProfileCPU       Profile = "cpu"
	ProfileHeap      Profile = "heap"
	ProfileAllocs    Profile = "allocs"
	ProfileGoroutine Profile = "goroutine"
	ProfileBlock     Profile = "block"
	ProfileMutex     Profile = "mutex"
)

// String returns the profile name.
func (p Profile) String() string {
	return string(p)
}

// Handle registers the pprof handlers under /debug/pprof/ on mux.
func Handle(mux *http.ServeMux) {
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
}

var (
	cpuMutex sync.Mutex
	cpuFile  *os.File // Open while CPU profiling
)

// StartCPU starts CPU profiling into the file at path.
func StartCPU(path string) error {
	cpuMutex.Lock()
	defer cpuMutex.Unlock()

	if cpuFile != nil {
		return ErrCPUProfileActive
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("cpu profile: %w", err)
	}
	if err := rpprof.StartCPUProfile(f); err != nil {
		f.Close()
		return fmt.Errorf("cpu profile: %w", err)
	}
	cpuFile = f
	return nil
}

// StopCPU stops CPU profiling and closes the profile file. Stopping when
// no profile is active is a no-op.
func StopCPU() error {
	cpuMutex.Lock()
	defer cpuMutex.Unlock()

	if cpuFile == nil {
		return nil
	}
	rpprof.StopCPUProfile()
	err := cpuFile.Close()
	cpuFile = nil
	return err
}

// IsCPUActive reports whether CPU profiling is active.
func IsCPUActive() bool {
	cpuMutex.Lock()
	defer cpuMutex.Unlock()
	return cpuFile != nil
}

// Write writes a snapshot of profile to the file at path.
func Write(profile Profile, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("%s profile: %w", profile, err)
	}
	if err := WriteTo(profile, f, 0); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// WriteTo writes a snapshot of profile to w. Debug level 0 is the binary
// format read by go tool pprof; 1 is text.
func WriteTo(profile Profile, w io.Writer, debug int) error {
	if profile == ProfileCPU {
		return fmt.Errorf("%s: %w", profile, ErrInvalidProfile)
	}
	p := rpprof.Lookup(string(profile))
	if p == nil {
		return fmt.Errorf("%s: %w", profile, ErrInvalidProfile)
	}
	return p.WriteTo(w, debug)
}

// SetContentionRate enables the block and mutex profiles. A rate of 1
// records every event; 0 disables both.
func SetContentionRate(rate int) {
	runtime.SetBlockProfileRate(rate)
	runtime.SetMutexProfileFraction(rate)
}
