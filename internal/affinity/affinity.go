// Package affinity pins the calling goroutine's OS thread to a
// specific CPU core, used to keep the datapath goroutine off the
// cores handling interrupts or other work.
package affinity

import (
	"fmt"
	"runtime"

	"golang.org/x/sys/unix"
)

// Pin locks the calling goroutine to its current OS thread and sets
// that thread's CPU affinity to the given core. Must be called from
// the goroutine that should be pinned, before it starts its hot loop.
func Pin(core int) error {
	runtime.LockOSThread()

	numCPU := runtime.NumCPU()
	if core < 0 || core >= numCPU {
		return fmt.Errorf("cpu core %d not available (have %d)", core, numCPU)
	}

	var set unix.CPUSet
	set.Zero()
	set.Set(core)

	tid := unix.Gettid()
	if err := unix.SchedSetaffinity(tid, &set); err != nil {
		return fmt.Errorf("sched_setaffinity core %d: %w", core, err)
	}
	return nil
}
