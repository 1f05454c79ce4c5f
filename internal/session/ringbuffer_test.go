package session

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRingBufferBelowCapacityReturnsWrittenBytes(t *testing.T) {
	r := NewRingBuffer(16)
	n, err := r.Write([]byte("hello"))
	require.NoError(t, err)
	require.Equal(t, 5, n)
	require.Equal(t, []byte("hello"), r.Bytes())
}

func TestRingBufferWraparoundKeepsMostRecentBytes(t *testing.T) {
	r := NewRingBuffer(8)
	_, err := r.Write([]byte("abcdefgh"))
	require.NoError(t, err)
	_, err = r.Write([]byte("ij"))
	require.NoError(t, err)
	require.Equal(t, []byte("cdefghij"), r.Bytes())
}

func TestRingBufferWriteLargerThanCapacityKeepsTail(t *testing.T) {
	r := NewRingBuffer(4)
	_, err := r.Write([]byte("abcdefgh"))
	require.NoError(t, err)
	require.Equal(t, []byte("efgh"), r.Bytes())
}

func TestRingBufferConcurrentWritesDoNotRace(t *testing.T) {
	r := NewRingBuffer(64)
	done := make(chan struct{})
	for i := 0; i < 4; i++ {
		go func() {
			for j := 0; j < 100; j++ {
				r.Write([]byte("x"))
			}
			done <- struct{}{}
		}()
	}
	for i := 0; i < 4; i++ {
		<-done
	}
	require.Len(t, r.Bytes(), 64)
}
