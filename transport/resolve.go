package transport

import (
	"context"
	"net"
	"time"

	"github.com/dgraph-io/ristretto"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"golang.org/x/sys/unix"
)

const resolveCacheTTL = time.Minute

// resolver turns host/port pairs into socket address candidates,
// caching name lookups so repeated listen/connect calls against the
// same host skip the resolver round-trip. Literal IPs and the
// wildcard bypass the cache.
type resolver struct {
	cache *ristretto.Cache
	ttl   time.Duration
}

func newResolver(ttl time.Duration) *resolver {
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 4096,
		MaxCost:     1024,
		BufferItems: 64,
	})
	if err != nil {
		// Lookups still work without the cache, just slower.
		log.Error().Msgf("transport: resolver cache disabled: %+v", err)
		cache = nil
	}
	return &resolver{cache: cache, ttl: ttl}
}

// lookup returns one sockaddr per resolved address, port applied, in
// resolver order so dual-stack fallback can walk them. An empty host
// yields the wildcard pair, v6 first.
func (r *resolver) lookup(host string, port int) ([]unix.Sockaddr, error) {
	if port < 0 || port > 65535 {
		return nil, errors.Errorf("port %d out of range", port)
	}

	if host == "" {
		return []unix.Sockaddr{
			&unix.SockaddrInet6{Port: port},
			&unix.SockaddrInet4{Port: port},
		}, nil
	}

	ips, err := r.lookupIPs(host)
	if err != nil {
		return nil, err
	}

	addrs := make([]unix.Sockaddr, 0, len(ips))
	for _, ip := range ips {
		if v4 := ip.To4(); v4 != nil {
			sa := &unix.SockaddrInet4{Port: port}
			copy(sa.Addr[:], v4)
			addrs = append(addrs, sa)
		} else if v6 := ip.To16(); v6 != nil {
			sa := &unix.SockaddrInet6{Port: port}
			copy(sa.Addr[:], v6)
			addrs = append(addrs, sa)
		}
	}
	if len(addrs) == 0 {
		return nil, errors.Errorf("no addresses for host %q", host)
	}
	return addrs, nil
}

func (r *resolver) lookupIPs(host string) ([]net.IP, error) {
	if ip := net.ParseIP(host); ip != nil {
		return []net.IP{ip}, nil
	}

	if r.cache != nil {
		if cached, ok := r.cache.Get(host); ok {
			return cached.([]net.IP), nil
		}
	}

	resolved, err := net.DefaultResolver.LookupIPAddr(context.Background(), host)
	if err != nil {
		return nil, errors.Wrapf(err, "resolving host %q", host)
	}

	ips := make([]net.IP, 0, len(resolved))
	for _, a := range resolved {
		ips = append(ips, a.IP)
	}

	if r.cache != nil {
		r.cache.SetWithTTL(host, ips, int64(len(ips)), r.ttl)
	}
	return ips, nil
}
