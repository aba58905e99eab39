package transport

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestLookupWildcardDualStack(t *testing.T) {
	r := newResolver(time.Minute)

	addrs, err := r.lookup("", 7777)
	require.NoError(t, err)
	require.Len(t, addrs, 2)

	v6, ok := addrs[0].(*unix.SockaddrInet6)
	require.True(t, ok, "v6 wildcard comes first")
	assert.Equal(t, 7777, v6.Port)

	v4, ok := addrs[1].(*unix.SockaddrInet4)
	require.True(t, ok)
	assert.Equal(t, 7777, v4.Port)
}

func TestLookupLiteralAddresses(t *testing.T) {
	r := newResolver(time.Minute)

	addrs, err := r.lookup("127.0.0.1", 80)
	require.NoError(t, err)
	require.Len(t, addrs, 1)
	v4, ok := addrs[0].(*unix.SockaddrInet4)
	require.True(t, ok)
	assert.Equal(t, [4]byte{127, 0, 0, 1}, v4.Addr)
	assert.Equal(t, 80, v4.Port)

	addrs, err = r.lookup("::1", 80)
	require.NoError(t, err)
	require.Len(t, addrs, 1)
	v6, ok := addrs[0].(*unix.SockaddrInet6)
	require.True(t, ok)
	assert.Equal(t, byte(1), v6.Addr[15])
}

func TestLookupRejectsBadPort(t *testing.T) {
	r := newResolver(time.Minute)

	_, err := r.lookup("127.0.0.1", -1)
	require.Error(t, err)
	_, err = r.lookup("127.0.0.1", 65536)
	require.Error(t, err)
}

func TestResolverSurvivesDisabledCache(t *testing.T) {
	r := &resolver{ttl: time.Minute} // no cache
	addrs, err := r.lookup("127.0.0.1", 9999)
	require.NoError(t, err)
	require.Len(t, addrs, 1)
}
