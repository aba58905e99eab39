package transport

import (
	"bytes"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func localPort(t *testing.T, h Handle) int {
	t.Helper()
	sa, err := unix.Getsockname(int(h))
	require.NoError(t, err)
	switch a := sa.(type) {
	case *unix.SockaddrInet4:
		return a.Port
	case *unix.SockaddrInet6:
		return a.Port
	}
	t.Fatalf("unexpected sockaddr type %T", sa)
	return 0
}

func pollOne(t *testing.T, b *TCPBackend, h Handle, requested Event, timeoutMs int) Event {
	t.Helper()
	set, err := NewPollSet(4, 3)
	require.NoError(t, err)
	require.NoError(t, set.Add(h, requested))
	_, err = b.Poll(set, timeoutMs)
	require.NoError(t, err)
	return set.Entry(0).Returned
}

// Full listener lifecycle on loopback: ephemeral-port listen, connect
// from the same process, readiness on both sides, byte-exact ordered
// round-trip, EOF on peer close.
func TestListenConnectRoundTrip(t *testing.T) {
	b := NewTCPBackend()

	listener, err := b.ListenAt("127.0.0.1", 0, 5)
	require.NoError(t, err)
	require.True(t, listener.Valid())
	defer b.Close(listener)

	port := localPort(t, listener)
	require.NotZero(t, port)

	client, err := b.ConnectTo("127.0.0.1", port)
	require.NoError(t, err)
	require.True(t, client.Valid())
	defer b.Close(client)

	returned := pollOne(t, b, listener, Readable, 2000)
	assert.NotZero(t, returned&Readable, "listener must signal the pending connection")

	server, peer, err := b.AcceptConn(listener)
	require.NoError(t, err)
	require.True(t, server.Valid())
	assert.Equal(t, "127.0.0.1", peer)
	defer b.Close(server)

	returned = pollOne(t, b, client, Writable, 2000)
	assert.NotZero(t, returned&Writable, "fresh connection must be writable")

	payload := bytes.Repeat([]byte("freeciv transport round trip "), 32)
	sent := payload
	for len(sent) > 0 {
		n, err := b.Write(client, sent)
		require.NoError(t, err)
		require.Positive(t, n)
		sent = sent[n:]
	}

	received := make([]byte, 0, len(payload))
	buf := make([]byte, 256)
	for len(received) < len(payload) {
		returned = pollOne(t, b, server, Readable, 2000)
		require.NotZero(t, returned&Readable, "payload must become readable")
		n, err := b.Read(server, buf)
		require.NoError(t, err)
		received = append(received, buf[:n]...)
	}
	assert.Equal(t, payload, received, "bytes must arrive unchanged and in order")

	// Peer close surfaces as readable EOF.
	b.Close(client)
	returned = pollOne(t, b, server, Readable, 2000)
	require.NotZero(t, returned&Readable)
	n, err := b.Read(server, buf)
	assert.Zero(t, n)
	assert.ErrorIs(t, err, io.EOF)
}

func TestListenRejectsBadPort(t *testing.T) {
	b := NewTCPBackend()
	h, err := b.ListenAt("127.0.0.1", 70000, 5)
	require.Error(t, err)
	assert.Equal(t, InvalidHandle, h)

	h, err = b.ConnectTo("127.0.0.1", -1)
	require.Error(t, err)
	assert.Equal(t, InvalidHandle, h)
}

func TestCloseInvalidHandleIsNoop(t *testing.T) {
	b := NewTCPBackend()
	require.NotPanics(t, func() { b.Close(InvalidHandle) })
}

// A closed handle must fail hard rather than silently act on an
// unrelated resource; the fd is only reused after a new allocating
// call.
func TestReadWriteAfterCloseFail(t *testing.T) {
	b := NewTCPBackend()

	listener, err := b.ListenAt("127.0.0.1", 0, 5)
	require.NoError(t, err)
	port := localPort(t, listener)

	client, err := b.ConnectTo("127.0.0.1", port)
	require.NoError(t, err)

	pollOne(t, b, listener, Readable, 2000)
	server, _, err := b.AcceptConn(listener)
	require.NoError(t, err)
	defer b.Close(server)
	defer b.Close(listener)

	b.Close(client)

	buf := make([]byte, 8)
	_, err = b.Read(client, buf)
	require.Error(t, err)
	_, err = b.Write(client, buf)
	require.Error(t, err)
}

// An interest set with no valid handle short-circuits without calling
// the underlying wait primitive, and still clears stale returned
// events, even on skipped entries.
func TestPollSkipsWaitForEmptyInterestSet(t *testing.T) {
	b := NewTCPBackend()

	waitCalls := 0
	realSelect := b.selectFn
	b.selectFn = func(nfd int, r, w, e *unix.FdSet, tv *unix.Timeval) (int, error) {
		waitCalls++
		return realSelect(nfd, r, w, e, tv)
	}

	set, err := NewPollSet(4, 3)
	require.NoError(t, err)
	require.NoError(t, set.Add(InvalidHandle, Readable))
	require.NoError(t, set.Add(Handle(unix.FD_SETSIZE+7), Readable))
	set.Entry(0).Returned = Readable | Error // stale garbage
	set.Entry(1).Returned = Writable

	ready, err := b.Poll(set, -1)
	require.NoError(t, err)
	assert.Zero(t, ready)
	assert.Zero(t, waitCalls, "no valid handle means no wait syscall")
	assert.Zero(t, set.Entry(0).Returned, "stale returned events must be cleared")
	assert.Zero(t, set.Entry(1).Returned)
}

// Returned events reflect only the current call, never a previous one.
func TestPollClearsReturnedEachCall(t *testing.T) {
	b := NewTCPBackend()

	listener, err := b.ListenAt("127.0.0.1", 0, 5)
	require.NoError(t, err)
	defer b.Close(listener)
	port := localPort(t, listener)

	client, err := b.ConnectTo("127.0.0.1", port)
	require.NoError(t, err)
	defer b.Close(client)

	set, err := NewPollSet(4, 3)
	require.NoError(t, err)
	require.NoError(t, set.Add(listener, Readable))

	ready, err := b.Poll(set, 2000)
	require.NoError(t, err)
	require.Equal(t, 1, ready)
	require.NotZero(t, set.Entry(0).Returned&Readable)

	server, _, err := b.AcceptConn(listener)
	require.NoError(t, err)
	defer b.Close(server)

	// Same set, nothing pending on the listener anymore.
	ready, err = b.Poll(set, 0)
	require.NoError(t, err)
	assert.Zero(t, ready)
	assert.Zero(t, set.Entry(0).Returned, "previous call's events must not leak")
}

func TestPollZeroTimeoutReturnsImmediately(t *testing.T) {
	b := NewTCPBackend()

	listener, err := b.ListenAt("127.0.0.1", 0, 5)
	require.NoError(t, err)
	defer b.Close(listener)

	start := time.Now()
	returned := pollOne(t, b, listener, Readable, 0)
	elapsed := time.Since(start)

	assert.Zero(t, returned)
	assert.Less(t, elapsed, 50*time.Millisecond)
}

func TestPollPositiveTimeoutExpires(t *testing.T) {
	b := NewTCPBackend()

	listener, err := b.ListenAt("127.0.0.1", 0, 5)
	require.NoError(t, err)
	defer b.Close(listener)

	set, err := NewPollSet(4, 3)
	require.NoError(t, err)
	require.NoError(t, set.Add(listener, Readable))

	start := time.Now()
	ready, err := b.Poll(set, 50)
	elapsed := time.Since(start)

	require.NoError(t, err)
	assert.Zero(t, ready)
	assert.GreaterOrEqual(t, elapsed, 40*time.Millisecond)
}

func TestSetNonblock(t *testing.T) {
	b := NewTCPBackend()

	listener, err := b.ListenAt("127.0.0.1", 0, 5)
	require.NoError(t, err)
	defer b.Close(listener)
	port := localPort(t, listener)

	client, err := b.ConnectTo("127.0.0.1", port)
	require.NoError(t, err)
	defer b.Close(client)

	// ConnectTo leaves the handle blocking; flip it and verify a read
	// with nothing pending fails instead of hanging.
	b.SetNonblock(client)
	buf := make([]byte, 8)
	_, err = b.Read(client, buf)
	require.Error(t, err)

	require.NotPanics(t, func() { b.SetNonblock(InvalidHandle) })
}

// Wildcard listen commits to the first bindable family and stays
// usable through the dispatcher surface.
func TestDispatcherWildcardListen(t *testing.T) {
	d := NewDispatcher()
	defer d.Done()

	listener, err := d.Listen("", 0, 5)
	require.NoError(t, err)
	require.True(t, listener.Valid())
	defer d.Close(listener)

	port := localPort(t, listener)
	client, err := d.Connect("localhost", port)
	require.NoError(t, err)
	defer d.Close(client)

	set, err := NewPollSet(8, 7)
	require.NoError(t, err)
	require.NoError(t, set.Add(listener, Readable))
	require.NoError(t, set.Add(client, Writable))

	ready, err := d.Poll(set, 2000)
	require.NoError(t, err)
	require.GreaterOrEqual(t, ready, 1)
	assert.NotZero(t, set.Entry(0).Returned&Readable)

	conn, peer, err := d.Accept(listener)
	require.NoError(t, err)
	defer d.Close(conn)
	assert.NotEmpty(t, peer)
}
