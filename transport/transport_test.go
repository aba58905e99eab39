package transport

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPollSetCapacityContract(t *testing.T) {
	_, err := NewPollSet(8, 8)
	require.Error(t, err, "capacity equal to max connections must be rejected")

	_, err = NewPollSet(4, 8)
	require.Error(t, err)

	_, err = NewPollSet(0, -1)
	require.Error(t, err)

	set, err := NewPollSet(9, 8)
	require.NoError(t, err)
	assert.Equal(t, 9, set.Cap())
	assert.Equal(t, 0, set.Len())
}

func TestPollSetAddOverflow(t *testing.T) {
	set, err := NewPollSet(2, 1)
	require.NoError(t, err)

	require.NoError(t, set.Add(3, Readable))
	require.NoError(t, set.Add(4, Writable))
	require.Error(t, set.Add(5, Readable))
	assert.Equal(t, 2, set.Len())

	set.Clear()
	assert.Equal(t, 0, set.Len())
	require.NoError(t, set.Add(6, Readable))
	assert.Equal(t, Handle(6), set.Entry(0).Handle)
	assert.Equal(t, Readable, set.Entry(0).Requested)
}

func TestEventString(t *testing.T) {
	assert.Equal(t, "none", Event(0).String())
	assert.Equal(t, "readable", Readable.String())
	assert.Equal(t, "readable|writable|error", (Readable | Writable | Error).String())
}

func TestHandleValid(t *testing.T) {
	assert.False(t, InvalidHandle.Valid())
	assert.True(t, Handle(0).Valid())
	assert.True(t, Handle(17).Valid())
}
