// Package trace records packets crossing the transport boundary to an
// append-only binary file for later analysis. It is a diagnostic
// collaborator of the transport layer, not part of it: recording has
// no influence on dispatch, and an inactive recorder costs nothing.
//
// File layout, all fields little-endian:
//
//	uint32  magic    (0x46435054, "FCPT")
//	uint32  version  (1)
//
// followed by per-packet records:
//
//	uint16  packet type
//	uint32  payload length
//	uint32  connection id
//	uint8   direction (0 = send, 1 = recv)
//	uint64  timestamp, microseconds since epoch
//	<payload bytes>
package trace

import (
	"bufio"
	"encoding/binary"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"
	"go.uber.org/atomic"
)

const (
	Magic   uint32 = 0x46435054
	Version uint32 = 1

	// EnvDir activates tracing when Open gets no explicit directory.
	EnvDir = "FREECIV_PACKET_TRACE_DIR"

	fileName         = "packet_trace.bin"
	recordHeaderSize = 19
	flushInterval    = 1024
)

// Direction of a traced packet relative to this process.
type Direction uint8

const (
	DirSend Direction = 0
	DirRecv Direction = 1
)

type typeStats struct {
	packets int
	bytes   int64
}

// Recorder appends packet records to a single trace file. It is meant
// to be driven from the same single control-flow context as the
// transport layer; only the active flag is safe to read from
// elsewhere.
type Recorder struct {
	active *atomic.Bool

	file *os.File
	w    *bufio.Writer

	packets int
	bytes   int64
	perType map[uint16]*typeStats
}

// Open starts recording under dir. An empty dir falls back to the
// FREECIV_PACKET_TRACE_DIR environment variable; if that is unset too,
// or the file cannot be created, the returned recorder is inactive and
// every call on it is a no-op.
func Open(dir string) *Recorder {
	r := &Recorder{
		active:  atomic.NewBool(false),
		perType: make(map[uint16]*typeStats),
	}

	if dir == "" {
		dir = os.Getenv(EnvDir)
	}
	if dir == "" {
		return r
	}

	path := filepath.Join(dir, fileName)
	file, err := os.Create(path)
	if err != nil {
		log.Error().Msgf("trace: can't open trace file '%s': %+v", path, err)
		return r
	}
	r.file = file
	r.w = bufio.NewWriter(file)

	var hdr [8]byte
	binary.LittleEndian.PutUint32(hdr[0:4], Magic)
	binary.LittleEndian.PutUint32(hdr[4:8], Version)
	if _, err := r.w.Write(hdr[:]); err != nil {
		r.disable(err)
		return r
	}

	r.active.Store(true)
	log.Info().Msgf("trace: recording packets to '%s'", path)
	return r
}

func (r *Recorder) Active() bool {
	return r.active.Load()
}

// Count reports the number of packets recorded so far.
func (r *Recorder) Count() int {
	return r.packets
}

func (r *Recorder) RecordSend(ptype uint16, data []byte, connID int32) {
	r.record(ptype, data, connID, DirSend)
}

func (r *Recorder) RecordRecv(ptype uint16, data []byte, connID int32) {
	r.record(ptype, data, connID, DirRecv)
}

func (r *Recorder) record(ptype uint16, data []byte, connID int32, dir Direction) {
	if !r.active.Load() {
		return
	}

	var hdr [recordHeaderSize]byte
	binary.LittleEndian.PutUint16(hdr[0:2], ptype)
	binary.LittleEndian.PutUint32(hdr[2:6], uint32(len(data)))
	binary.LittleEndian.PutUint32(hdr[6:10], uint32(connID))
	hdr[10] = byte(dir)
	binary.LittleEndian.PutUint64(hdr[11:19], uint64(time.Now().UnixMicro()))

	if _, err := r.w.Write(hdr[:]); err != nil {
		r.disable(err)
		return
	}
	if len(data) > 0 {
		if _, err := r.w.Write(data); err != nil {
			r.disable(err)
			return
		}
	}

	r.packets++
	r.bytes += int64(len(data))
	st := r.perType[ptype]
	if st == nil {
		st = &typeStats{}
		r.perType[ptype] = st
	}
	st.packets++
	st.bytes += int64(len(data))

	// Bound data loss on crash.
	if r.packets%flushInterval == 0 {
		if err := r.w.Flush(); err != nil {
			r.disable(err)
		}
	}
}

func (r *Recorder) disable(err error) {
	log.Error().Msgf("trace: write failed, disabling trace: %+v", err)
	r.active.Store(false)
	if r.file != nil {
		r.file.Close()
		r.file = nil
		r.w = nil
	}
}

// Close flushes the trace file and logs summary statistics.
func (r *Recorder) Close() {
	if !r.active.Load() {
		return
	}
	r.active.Store(false)

	if err := r.w.Flush(); err != nil {
		log.Error().Msgf("trace: flush failed: %+v", err)
	}
	if err := r.file.Close(); err != nil {
		log.Error().Msgf("trace: close failed: %+v", err)
	}
	r.file = nil
	r.w = nil

	log.Info().Msgf("trace: recorded %d packets, %d payload bytes, %d packet types",
		r.packets, r.bytes, len(r.perType))
	if log.Debug().Enabled() {
		for ptype, st := range r.perType {
			log.Debug().Msgf("trace:   type %3d: %6d packets, %8d bytes",
				ptype, st.packets, st.bytes)
		}
	}
}
