package service

import "sync/atomic"

// TerminationFlag is the process-wide cooperative stop signal.
//
// Every Set starts a new epoch. A job captures the epoch when it starts and treats
// itself as interrupted if the flag is up or the epoch has moved on, so a straggler
// from a previous cycle cannot progress after the flag is cleared.
type TerminationFlag struct {
	set   atomic.Bool
	epoch atomic.Uint64
}

func NewTerminationFlag() *TerminationFlag {
	return &TerminationFlag{}
}

// Set raises the flag and returns the new epoch.
func (f *TerminationFlag) Set() uint64 {
	e := f.epoch.Add(1)
	f.set.Store(true)
	return e
}

func (f *TerminationFlag) Clear() {
	f.set.Store(false)
}

func (f *TerminationFlag) IsSet() bool {
	return f.set.Load()
}

func (f *TerminationFlag) Epoch() uint64 {
	return f.epoch.Load()
}

// Interrupted reports whether work started in epoch must stop at the next boundary.
func (f *TerminationFlag) Interrupted(epoch uint64) bool {
	return f.set.Load() || f.epoch.Load() != epoch
}
