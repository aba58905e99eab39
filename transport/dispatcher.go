package transport

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
)

// Dispatcher forwards every public call to the single active backend.
// Exactly one backend is active at a time; NewDispatcher installs the
// TCP backend as the default and SetBackend swaps it during startup.
//
// The dispatcher does no locking. Swapping the backend while dispatch
// calls are in flight is a usage error, as is swapping while handles
// issued by the previous backend are still outstanding (handles are
// not portable across backends).
//
// Calling a dispatch function with no backend installed is a
// programming error and panics; it is deliberately not an ordinary
// I/O error result.
type Dispatcher struct {
	backend Backend
}

func NewDispatcher() *Dispatcher {
	d := &Dispatcher{backend: NewTCPBackend()}
	log.Info().Msgf("transport: initialized with backend '%s'", d.backend.Name())
	return d
}

// Done detaches the active backend. Outstanding handles are not
// closed; releasing them remains the caller's responsibility.
func (d *Dispatcher) Done() {
	log.Info().Msgf("transport: shutting down backend '%s'", d.BackendName())
	d.backend = nil
}

// SetBackend replaces the active backend. Intended for startup only,
// strictly before any connection exists under the previous backend.
// A nil backend or a BackendFuncs with an empty mandatory slot panics.
func (d *Dispatcher) SetBackend(b Backend) {
	if b == nil {
		panic("transport: SetBackend with nil backend")
	}
	if fns, ok := b.(*BackendFuncs); ok {
		if missing := fns.missingOps(); len(missing) > 0 {
			panic(fmt.Sprintf("transport: backend '%s' missing mandatory ops: %s",
				fns.BackendName, strings.Join(missing, ", ")))
		}
	}
	log.Info().Msgf("transport: switching backend from '%s' to '%s'",
		d.BackendName(), b.Name())
	d.backend = b
}

// BackendName reports the active backend's name, "(uninitialized)"
// when none is installed.
func (d *Dispatcher) BackendName() string {
	if d.backend == nil {
		return "(uninitialized)"
	}
	return d.backend.Name()
}

func (d *Dispatcher) ops() Backend {
	if d.backend == nil {
		panic("transport: dispatch call with no backend installed")
	}
	return d.backend
}

func (d *Dispatcher) Listen(bindAddr string, port, backlog int) (Handle, error) {
	return d.ops().ListenAt(bindAddr, port, backlog)
}

func (d *Dispatcher) Accept(listener Handle) (Handle, string, error) {
	return d.ops().AcceptConn(listener)
}

func (d *Dispatcher) Connect(host string, port int) (Handle, error) {
	return d.ops().ConnectTo(host, port)
}

// Close is safe with no backend installed so teardown paths can run
// unconditionally.
func (d *Dispatcher) Close(h Handle) {
	if d.backend != nil {
		d.backend.Close(h)
	}
}

func (d *Dispatcher) Read(h Handle, buf []byte) (int, error) {
	return d.ops().Read(h, buf)
}

func (d *Dispatcher) Write(h Handle, buf []byte) (int, error) {
	return d.ops().Write(h, buf)
}

func (d *Dispatcher) Poll(set *PollSet, timeoutMs int) (int, error) {
	return d.ops().Poll(set, timeoutMs)
}

// SetNonblock forwards to the backend when it has the capability and
// is a silent no-op otherwise.
func (d *Dispatcher) SetNonblock(h Handle) {
	if nb, ok := d.backend.(NonblockSetter); ok {
		nb.SetNonblock(h)
	}
}
