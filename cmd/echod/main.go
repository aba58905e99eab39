// echod is a demonstration daemon for the transport layer: it listens
// on the configured address, polls for readiness, and echoes back
// whatever connected clients send, recording traffic through the
// packet trace recorder when enabled.
package main

import (
	"flag"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/average-gary/freeciv-nostr/config"
	"github.com/average-gary/freeciv-nostr/trace"
	"github.com/average-gary/freeciv-nostr/transport"
)

// Trace records carry no codec information at this level; everything
// is raw bytes.
const rawPacketType = 0

const pollTimeoutMs = 1000

var cfg *config.Config

func init() {
	configFilePath := flag.String("c", "", "path to configuration file.")
	flag.Parse()
	if *configFilePath == "" {
		cfg = config.Default()
	} else {
		var err error
		cfg, err = config.Load(*configFilePath)
		if err != nil {
			log.Fatal().Msgf("can't load config: %+v", err)
		}
	}
	initLog(cfg)
}

func initLog(cfg *config.Config) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	zerolog.SetGlobalLevel(cfg.Global.ZerologLevel())
}

func main() {
	recorder := trace.Open(cfg.Trace.Dir)
	defer recorder.Close()

	dispatcher := transport.NewDispatcher()
	defer dispatcher.Done()
	log.Info().Msgf("starting echod with backend '%s'", dispatcher.BackendName())

	listener, err := dispatcher.Listen(cfg.Transport.ListenAddress, cfg.Transport.Port, cfg.Transport.Backlog)
	if err != nil {
		log.Fatal().Msgf("can't listen on %s:%d: %+v",
			cfg.Transport.ListenAddress, cfg.Transport.Port, err)
	}
	defer dispatcher.Close(listener)
	log.Info().Msgf("[%d] listening on %s:%d",
		listener, cfg.Transport.ListenAddress, cfg.Transport.Port)

	set, err := transport.NewPollSet(cfg.Transport.PollCapacity, cfg.Transport.MaxConnections)
	if err != nil {
		log.Fatal().Msgf("can't build poll set: %+v", err)
	}

	conns := make(map[transport.Handle]struct{})
	buffer := make([]byte, 4096)

	for {
		set.Clear()
		if err := set.Add(listener, transport.Readable); err != nil {
			log.Fatal().Msgf("poll set can't hold listener: %+v", err)
		}
		for conn := range conns {
			if err := set.Add(conn, transport.Readable); err != nil {
				log.Error().Msgf("[%d] poll set full, dropping connection: %+v", conn, err)
				dispatcher.Close(conn)
				delete(conns, conn)
			}
		}

		ready, err := dispatcher.Poll(set, pollTimeoutMs)
		if err != nil {
			log.Error().Msgf("poll failed: %+v", err)
			continue
		}
		if ready == 0 {
			continue
		}

		for i := 0; i < set.Len(); i++ {
			entry := set.Entry(i)
			if entry.Returned == 0 {
				continue
			}
			if entry.Handle == listener {
				acceptConn(dispatcher, listener, conns)
				continue
			}
			serveConn(dispatcher, recorder, conns, entry, buffer)
		}
	}
}

func acceptConn(dispatcher *transport.Dispatcher, listener transport.Handle,
	conns map[transport.Handle]struct{}) {
	conn, peer, err := dispatcher.Accept(listener)
	if err != nil {
		log.Error().Msgf("accept failed: %+v", err)
		return
	}
	if len(conns) >= cfg.Transport.MaxConnections {
		log.Error().Msgf("[%d] connection limit %d reached, rejecting %s",
			conn, cfg.Transport.MaxConnections, peer)
		dispatcher.Close(conn)
		return
	}
	log.Info().Msgf("[%d] accepted connection from %s", conn, peer)
	conns[conn] = struct{}{}
}

func serveConn(dispatcher *transport.Dispatcher, recorder *trace.Recorder,
	conns map[transport.Handle]struct{}, entry *transport.PollEntry, buffer []byte) {
	conn := entry.Handle

	if entry.Returned&transport.Error != 0 {
		log.Info().Msgf("[%d] error condition, closing", conn)
		dispatcher.Close(conn)
		delete(conns, conn)
		return
	}

	read, err := dispatcher.Read(conn, buffer)
	if err != nil {
		log.Info().Msgf("[%d] connection closed: %+v", conn, err)
		dispatcher.Close(conn)
		delete(conns, conn)
		return
	}
	recorder.RecordRecv(rawPacketType, buffer[:read], int32(conn))

	if err := writeAll(dispatcher, conn, buffer[:read]); err != nil {
		log.Error().Msgf("[%d] echo write failed: %+v", conn, err)
		dispatcher.Close(conn)
		delete(conns, conn)
		return
	}
	recorder.RecordSend(rawPacketType, buffer[:read], int32(conn))
}

// writeAll retries short writes; the backend contract allows partial
// transfers.
func writeAll(dispatcher *transport.Dispatcher, conn transport.Handle, data []byte) error {
	for len(data) > 0 {
		n, err := dispatcher.Write(conn, data)
		if err != nil {
			return err
		}
		data = data[n:]
	}
	return nil
}
