//go:build linux

package worker

import "golang.org/x/sys/unix"

// schedFIFO is SCHED_FIFO from <sched.h>.
const schedFIFO = 1

var setPriority = setThreadPriority

// setThreadPriority moves the calling thread to SCHED_FIFO at priority. The
// returned function puts back the scheduling the thread had before.
func setThreadPriority(priority int) (func() error, error) {
	prev, err := unix.SchedGetAttr(0, 0)
	if err != nil {
		return nil, err
	}

	err = unix.SchedSetAttr(0, &unix.SchedAttr{
		Size:     unix.SizeofSchedAttr,
		Policy:   schedFIFO,
		Priority: uint32(priority),
	}, 0)
	if err != nil {
		return nil, err
	}

	return func() error {
		prev.Size = unix.SizeofSchedAttr
		return unix.SchedSetAttr(0, prev, 0)
	}, nil
}
