package transport

import (
	"io"
	"net"
	"os"

	"github.com/rs/zerolog/log"
	"golang.org/x/sys/unix"
)

// Placeholder peer host when the remote endpoint cannot be formatted.
const unknownPeer = "unknown"

// TCPBackend is the reference Backend over stream sockets. Handles are
// raw file descriptors; readiness is a level-triggered select over the
// poll set.
type TCPBackend struct {
	res *resolver

	// selectWait by default; swappable so tests can count wait
	// invocations.
	selectFn func(nfd int, r, w, e *unix.FdSet, timeout *unix.Timeval) (int, error)
}

func NewTCPBackend() *TCPBackend {
	return &TCPBackend{
		res:      newResolver(resolveCacheTTL),
		selectFn: selectWait,
	}
}

func (t *TCPBackend) Name() string {
	return "tcp"
}

// ListenAt binds the first resolved candidate address that round-trips
// through socket, option setup, bind and listen. Failed intermediate
// sockets are closed before the next candidate is tried, so no handle
// leaks out of a failed attempt.
func (t *TCPBackend) ListenAt(bindAddr string, port, backlog int) (Handle, error) {
	addrs, err := t.res.lookup(bindAddr, port)
	if err != nil {
		return InvalidHandle, err
	}

	for _, sa := range addrs {
		fd, err := unix.Socket(saFamily(sa), unix.SOCK_STREAM, 0)
		if err != nil {
			continue
		}

		if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
			log.Error().Msgf("transport: setsockopt SO_REUSEADDR failed: %+v",
				os.NewSyscallError("setsockopt", err))
		}
		if saFamily(sa) == unix.AF_INET6 {
			// Keep v6 sockets v6-only so a v4 wildcard candidate can
			// still bind the same port.
			if err := unix.SetsockoptInt(fd, unix.IPPROTO_IPV6, unix.IPV6_V6ONLY, 1); err != nil {
				log.Error().Msgf("transport: setsockopt IPV6_V6ONLY failed: %+v",
					os.NewSyscallError("setsockopt", err))
			}
		}

		if unix.Bind(fd, sa) == nil && unix.Listen(fd, backlog) == nil {
			if err := unix.SetNonblock(fd, true); err != nil {
				log.Error().Msgf("[%d] can't set listener non-blocking: %+v",
					fd, os.NewSyscallError("fcntl", err))
			}
			return Handle(fd), nil
		}

		unix.Close(fd)
	}

	return InvalidHandle, noUsableAddress
}

// AcceptConn accepts a pending connection on a listening handle. It
// does not distinguish would-block from other failures: callers gate
// on Poll before accepting. The new handle is non-blocking.
func (t *TCPBackend) AcceptConn(listener Handle) (Handle, string, error) {
	nfd, sa, err := unix.Accept(int(listener))
	if err != nil {
		return InvalidHandle, "", os.NewSyscallError("accept", err)
	}

	if err := unix.SetNonblock(nfd, true); err != nil {
		log.Error().Msgf("[%d] can't set accepted connection non-blocking: %+v",
			nfd, os.NewSyscallError("fcntl", err))
	}

	return Handle(nfd), peerHost(sa), nil
}

// ConnectTo tries every resolved candidate until one connects. The
// socket stays in blocking mode for the connect call, so completion is
// synchronous in practice; EINPROGRESS is still accepted as success
// for parity with non-blocking callers. Callers wanting non-blocking
// I/O call SetNonblock on the returned handle.
func (t *TCPBackend) ConnectTo(host string, port int) (Handle, error) {
	addrs, err := t.res.lookup(host, port)
	if err != nil {
		return InvalidHandle, err
	}

	for _, sa := range addrs {
		fd, err := unix.Socket(saFamily(sa), unix.SOCK_STREAM, 0)
		if err != nil {
			continue
		}

		err = unix.Connect(fd, sa)
		if err == nil || err == unix.EINPROGRESS {
			return Handle(fd), nil
		}

		unix.Close(fd)
	}

	return InvalidHandle, noUsableAddress
}

func (t *TCPBackend) Close(h Handle) {
	if !h.Valid() {
		return
	}
	if err := unix.Close(int(h)); err != nil {
		log.Error().Msgf("[%d] close failed: %+v", h, os.NewSyscallError("close", err))
	}
}

func (t *TCPBackend) Read(h Handle, buf []byte) (int, error) {
	n, err := unix.Read(int(h), buf)
	if err != nil {
		return 0, os.NewSyscallError("read", err)
	}
	if n == 0 && len(buf) > 0 {
		return 0, io.EOF
	}
	return n, nil
}

func (t *TCPBackend) Write(h Handle, buf []byte) (int, error) {
	n, err := unix.Write(int(h), buf)
	if err != nil {
		return 0, os.NewSyscallError("write", err)
	}
	return n, nil
}

func (t *TCPBackend) SetNonblock(h Handle) {
	if !h.Valid() {
		return
	}
	if err := unix.SetNonblock(int(h), true); err != nil {
		log.Error().Msgf("[%d] can't set non-blocking: %+v",
			h, os.NewSyscallError("fcntl", err))
	}
}

func saFamily(sa unix.Sockaddr) int {
	if _, ok := sa.(*unix.SockaddrInet6); ok {
		return unix.AF_INET6
	}
	return unix.AF_INET
}

func peerHost(sa unix.Sockaddr) string {
	switch a := sa.(type) {
	case *unix.SockaddrInet4:
		return net.IP(a.Addr[:]).String()
	case *unix.SockaddrInet6:
		return net.IP(a.Addr[:]).String()
	}
	return unknownPeer
}
