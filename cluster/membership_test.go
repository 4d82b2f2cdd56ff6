package cluster

import (
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type changeLog struct {
	mu      sync.Mutex
	changes []OwnershipChange
}

func (c *changeLog) record(change OwnershipChange) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.changes = append(c.changes, change)
}

func (c *changeLog) all() []OwnershipChange {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]OwnershipChange(nil), c.changes...)
}

func TestReconcileReportsHandoff(t *testing.T) {
	ring := NewLocalRing(32, "node-1")
	log := &changeLog{}
	m := newMembership(ring, Config{NodeName: "node-1"}, log.record)

	m.reconcile()
	assert.Empty(t, log.all())

	require.NoError(t, ring.Join("node-2", "10.0.0.2:8080"))
	m.reconcile()
	changes := log.all()
	require.Len(t, changes, 1)
	assert.Empty(t, changes[0].Gained)
	assert.NotEmpty(t, changes[0].Lost)
	assert.Equal(t, 32-len(changes[0].Lost), changes[0].Owned)

	require.NoError(t, ring.Leave("node-2"))
	m.reconcile()
	changes = log.all()
	require.Len(t, changes, 2)
	assert.ElementsMatch(t, changes[0].Lost, changes[1].Gained)
	assert.Equal(t, 32, changes[1].Owned)
}

func TestMembershipFeedsRing(t *testing.T) {
	if testing.Short() {
		t.Skip("gossip test skipped in short mode")
	}
	firstLog := &changeLog{}
	first, firstRing := newMember(t, "node-1", nil, firstLog.record)
	_, secondRing := newMember(t, "node-2", []string{first.conf.BindAddr})

	require.Eventually(t, func() bool {
		return len(firstRing.Members()) == 2 && len(secondRing.Members()) == 2
	}, 5*time.Second, 100*time.Millisecond)

	owned := len(firstRing.GetPartitions()) + len(secondRing.GetPartitions())
	assert.Equal(t, 32, owned)
	require.Eventually(t, func() bool { return len(firstLog.all()) > 0 }, 5*time.Second, 100*time.Millisecond)
	assert.NotEmpty(t, firstLog.all()[0].Lost)

	nodes := first.Nodes()
	require.Len(t, nodes, 2)
	assert.Equal(t, "node-2", nodes[1].Name)
	assert.Equal(t, "127.0.0.1:9090", nodes[1].Addr)
}

func newMember(t *testing.T, name string, join []string, listeners ...OwnershipListener) (*Membership, *Ring) {
	t.Helper()
	ring := NewLocalRing(32, name)
	m, err := NewMembership(ring, Config{
		NodeName:       name,
		BindAddr:       freeAddr(t),
		HttpAddr:       "127.0.0.1:9090",
		StartJoinAddrs: join,
	}, listeners...)
	require.NoError(t, err)
	t.Cleanup(func() { m.Leave() })
	return m, ring
}

func freeAddr(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())
	return addr
}
