package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func stubSession(id string, observer bool, at time.Time) *Session {
	return &Session{ID: id, DisplayName: "Client-" + id[:4], IsObserver: observer, ConnectedAt: at}
}

func TestRegistryMembersExcludesObservers(t *testing.T) {
	r := NewRegistry()
	t0 := time.Now()
	r.Insert(stubSession("bbbb2222", false, t0.Add(time.Second)))
	r.Insert(stubSession("aaaa1111", false, t0))
	r.Insert(stubSession("mmmm9999", true, t0.Add(2*time.Second)))

	members := r.Members(false)
	require.Len(t, members, 2)
	assert.Equal(t, "aaaa1111", members[0].ID)
	assert.Equal(t, "bbbb2222", members[1].ID)

	all := r.Members(true)
	assert.Len(t, all, 3)

	m, o := r.Counts()
	assert.Equal(t, 2, m)
	assert.Equal(t, 1, o)
}

func TestRegistryRemoveReportsPresenceOnce(t *testing.T) {
	r := NewRegistry()
	r.Insert(stubSession("aaaa1111", false, time.Now()))

	assert.True(t, r.Remove("aaaa1111"))
	assert.False(t, r.Remove("aaaa1111"))

	_, ok := r.Get("aaaa1111")
	assert.False(t, ok)
}
