package transport

import (
	"os"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sys/unix"
)

// Poll maps the poll set onto a level-triggered select over three
// descriptor sets. Every valid handle is watched for error conditions
// regardless of its requested events. Entries whose handle is invalid
// or beyond FD_SETSIZE are skipped, not failed; their Returned field
// is still cleared. When nothing valid remains the call returns 0
// ready without invoking select at all.
func (t *TCPBackend) Poll(set *PollSet, timeoutMs int) (int, error) {
	var readSet, writeSet, exceptSet unix.FdSet
	maxFd := -1

	for i := 0; i < set.Len(); i++ {
		entry := set.Entry(i)
		entry.Returned = 0

		fd := int(entry.Handle)
		if fd < 0 {
			continue
		}
		if fd >= unix.FD_SETSIZE {
			log.Error().Msgf("[%d] handle exceeds FD_SETSIZE %d, skipping",
				fd, unix.FD_SETSIZE)
			continue
		}

		if entry.Requested&Readable != 0 {
			readSet.Set(fd)
		}
		if entry.Requested&Writable != 0 {
			writeSet.Set(fd)
		}
		exceptSet.Set(fd)

		if fd > maxFd {
			maxFd = fd
		}
	}

	if maxFd < 0 {
		// No valid handles to monitor, skip the syscall.
		return 0, nil
	}

	var tvp *unix.Timeval
	if timeoutMs >= 0 {
		tv := unix.NsecToTimeval(int64(timeoutMs) * int64(time.Millisecond))
		tvp = &tv
	}

	n, err := t.selectFn(maxFd+1, &readSet, &writeSet, &exceptSet, tvp)
	if err != nil {
		return 0, os.NewSyscallError("select", err)
	}
	if n == 0 {
		return 0, nil
	}

	ready := 0
	for i := 0; i < set.Len(); i++ {
		entry := set.Entry(i)
		fd := int(entry.Handle)
		if fd < 0 || fd >= unix.FD_SETSIZE {
			continue
		}

		if readSet.IsSet(fd) {
			entry.Returned |= Readable
		}
		if writeSet.IsSet(fd) {
			entry.Returned |= Writable
		}
		if exceptSet.IsSet(fd) {
			entry.Returned |= Error
		}

		if entry.Returned != 0 {
			ready++
		}
	}

	return ready, nil
}

func selectWait(nfd int, r, w, e *unix.FdSet, timeout *unix.Timeval) (int, error) {
	for {
		n, err := unix.Select(nfd, r, w, e, timeout)
		if err == unix.EINTR {
			continue
		}
		return n, err
	}
}
