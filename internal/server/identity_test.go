package server

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIDAllocatorMintsShortIDs(t *testing.T) {
	a := newIDAllocator()
	first := a.next()
	second := a.next()
	assert.Len(t, first, 8)
	assert.Len(t, second, 8)
	assert.NotEqual(t, first, second)
}

func TestIDAllocatorRegeneratesOnCollision(t *testing.T) {
	a := newIDAllocator()
	seq := []string{"aaaa1111", "aaaa1111", "aaaa1111", "bbbb2222"}
	var calls int
	a.gen = func() string {
		id := seq[calls]
		calls++
		return id
	}

	require.Equal(t, "aaaa1111", a.next())
	require.Equal(t, "bbbb2222", a.next())
	assert.Equal(t, 4, calls)
}
