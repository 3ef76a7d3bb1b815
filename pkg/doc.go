// Package pkg provides shared utilities for the softuac audio device.
//
// It holds the pieces every other package leans on:
//
//   - Structured logging via Go's standard [log/slog] package, tagged with
//     the component that emitted the record
//   - Sentinel errors for transport, streaming and codec conditions
//   - Transfer completion status values reported by controllers
//
// # Logging
//
// The logging helpers wrap [log/slog] with a component attribute so that
// interrupt-context noise (feeder, governor) can be filtered separately
// from control-path messages:
//
//	pkg.SetLogLevel(slog.LevelDebug)
//	pkg.LogInfo(pkg.ComponentPipeline, "playback started", "rate", 48000)
//
// # Errors
//
// Conditions the streaming core absorbs locally are still reported as
// sentinel values so callers can count them:
//
//	if errors.Is(err, pkg.ErrRingFull) {
//	    // oldest slot was overwritten
//	}
package pkg
