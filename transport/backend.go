package transport

// Backend is the contract every transport implementation provides.
// All operations are mandatory. Return conventions:
//   - Read returns bytes read and io.EOF at end of stream
//   - Write may transfer fewer bytes than requested; callers retry
//     the remainder themselves
//   - Poll returns the number of entries with returned events, 0 on
//     timeout
//
// Backends with conditionally non-blocking handles additionally
// implement NonblockSetter.
type Backend interface {
	// Name is a human-readable backend identifier, e.g. "tcp".
	Name() string

	// ListenAt creates a listening endpoint bound to bindAddr:port.
	// Empty bindAddr means the wildcard address. The returned handle
	// is non-blocking.
	ListenAt(bindAddr string, port, backlog int) (Handle, error)

	// AcceptConn accepts an incoming connection on a listening handle
	// and reports the numeric peer host, "unknown" if it cannot be
	// formatted. Callers check readiness through Poll first; a
	// premature call fails like any other I/O error.
	AcceptConn(listener Handle) (Handle, string, error)

	// ConnectTo opens a connection to host:port. Completion semantics
	// (synchronous vs. deferred) are backend-specific and documented
	// per backend.
	ConnectTo(host string, port int) (Handle, error)

	// Close releases all resources tied to the handle. No-op on
	// InvalidHandle.
	Close(h Handle)

	Read(h Handle, buf []byte) (int, error)
	Write(h Handle, buf []byte) (int, error)

	// Poll waits for events on the set. timeoutMs < 0 blocks
	// indefinitely, 0 polls without blocking, positive values bound
	// the wait in milliseconds. Entries with invalid handles are
	// skipped; a set with no valid handle returns 0 without touching
	// the underlying wait primitive.
	Poll(set *PollSet, timeoutMs int) (int, error)
}

// NonblockSetter is the optional capability to flip a handle to
// non-blocking mode. Inherently async backends omit it; the
// Dispatcher treats its absence as a silent no-op.
type NonblockSetter interface {
	SetNonblock(h Handle)
}

// BackendFuncs adapts plain functions into a Backend. It exists for
// backends assembled at startup (and for stubs in tests). All slots
// except SetNonblockFn are mandatory; Dispatcher.SetBackend rejects a
// BackendFuncs with an empty mandatory slot.
type BackendFuncs struct {
	BackendName string

	ListenAtFn    func(bindAddr string, port, backlog int) (Handle, error)
	AcceptConnFn  func(listener Handle) (Handle, string, error)
	ConnectToFn   func(host string, port int) (Handle, error)
	CloseFn       func(h Handle)
	ReadFn        func(h Handle, buf []byte) (int, error)
	WriteFn       func(h Handle, buf []byte) (int, error)
	PollFn        func(set *PollSet, timeoutMs int) (int, error)
	SetNonblockFn func(h Handle)
}

func (b *BackendFuncs) Name() string {
	return b.BackendName
}

func (b *BackendFuncs) ListenAt(bindAddr string, port, backlog int) (Handle, error) {
	return b.ListenAtFn(bindAddr, port, backlog)
}

func (b *BackendFuncs) AcceptConn(listener Handle) (Handle, string, error) {
	return b.AcceptConnFn(listener)
}

func (b *BackendFuncs) ConnectTo(host string, port int) (Handle, error) {
	return b.ConnectToFn(host, port)
}

func (b *BackendFuncs) Close(h Handle) {
	b.CloseFn(h)
}

func (b *BackendFuncs) Read(h Handle, buf []byte) (int, error) {
	return b.ReadFn(h, buf)
}

func (b *BackendFuncs) Write(h Handle, buf []byte) (int, error) {
	return b.WriteFn(h, buf)
}

func (b *BackendFuncs) Poll(set *PollSet, timeoutMs int) (int, error) {
	return b.PollFn(set, timeoutMs)
}

// SetNonblock is a no-op when the slot is empty, preserving "absence
// is a valid, silent no-op" for async backends.
func (b *BackendFuncs) SetNonblock(h Handle) {
	if b.SetNonblockFn != nil {
		b.SetNonblockFn(h)
	}
}

func (b *BackendFuncs) missingOps() []string {
	var missing []string
	if b.BackendName == "" {
		missing = append(missing, "name")
	}
	if b.ListenAtFn == nil {
		missing = append(missing, "listen_at")
	}
	if b.AcceptConnFn == nil {
		missing = append(missing, "accept_conn")
	}
	if b.ConnectToFn == nil {
		missing = append(missing, "connect_to")
	}
	if b.CloseFn == nil {
		missing = append(missing, "close")
	}
	if b.ReadFn == nil {
		missing = append(missing, "read")
	}
	if b.WriteFn == nil {
		missing = append(missing, "write")
	}
	if b.PollFn == nil {
		missing = append(missing, "poll")
	}
	return missing
}
