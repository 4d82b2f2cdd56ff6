package cluster

import (
	"sort"
	"sync"

	"github.com/buraksezer/consistent"
	"github.com/mohitkumar/autoflow/logger"
	"github.com/mohitkumar/autoflow/util"
	"github.com/spaolacci/murmur3"
	"go.uber.org/zap"
)

type hasher struct {
}

func NewHasher() *hasher {
	return &hasher{}
}

func (h hasher) Sum64(data []byte) uint64 {
	return murmur3.Sum64(data)
}

type RingConfig struct {
	PartitionCount int
}

// Ring maps run ids to partitions and partitions to cluster members. The
// key-to-partition mapping depends only on PartitionCount, so it is stable
// while members come and go.
type Ring struct {
	RingConfig
	hring     *consistent.Consistent
	nodes     map[string]Node
	localNode Node
	mu        sync.RWMutex
}

type Node struct {
	Name string
	Addr string
}

func (n Node) String() string {
	return n.Name
}

func NewRing(c RingConfig) *Ring {
	cfg := consistent.Config{
		PartitionCount:    c.PartitionCount,
		ReplicationFactor: 20,
		Load:              1.25,
		Hasher:            NewHasher(),
	}
	hr := consistent.New(nil, cfg)
	return &Ring{
		RingConfig: c,
		hring:      hr,
		nodes:      make(map[string]Node),
	}
}

// NewLocalRing is a ring owning every partition on a single node.
func NewLocalRing(partitions int, nodeName string) *Ring {
	r := NewRing(RingConfig{PartitionCount: partitions})
	r.JoinLocal(nodeName, "")
	return r
}

func (r *Ring) JoinLocal(name string, addr string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	node := Node{Name: name, Addr: addr}
	logger.Info("adding local member to cluster", zap.String("node", name), zap.String("address", addr))
	r.localNode = node
	r.nodes[name] = node
	r.hring.Add(node)
}

func (r *Ring) Join(name string, addr string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.nodes[name]; ok {
		return nil
	}
	logger.Info("adding member to cluster", zap.String("node", name), zap.String("address", addr))
	node := Node{Name: name, Addr: addr}
	r.nodes[name] = node
	r.hring.Add(node)
	return nil
}

func (r *Ring) Leave(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.nodes[name]; !ok {
		return nil
	}
	logger.Info("removing member from cluster", zap.String("node", name))
	delete(r.nodes, name)
	r.hring.Remove(name)
	return nil
}

func (r *Ring) GetPartition(key string) int {
	return r.hring.FindPartitionID([]byte(key))
}

// GetPartitions returns the partitions owned by the local node in random
// order, so restarts do not always favour the lowest partitions.
func (r *Ring) GetPartitions() []int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	partitions := make([]int, 0)
	if r.localNode.Name == "" {
		return partitions
	}
	for i := 0; i < r.PartitionCount; i++ {
		owner := r.hring.GetPartitionOwner(i)
		if owner != nil && owner.String() == r.localNode.Name {
			partitions = append(partitions, i)
		}
	}
	util.Shuffle(partitions)
	return partitions
}

func (r *Ring) Members() []Node {
	r.mu.RLock()
	defer r.mu.RUnlock()
	nodes := make([]Node, 0, len(r.nodes))
	for _, node := range r.nodes {
		nodes = append(nodes, node)
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].Name < nodes[j].Name })
	return nodes
}

func (r *Ring) LocalNode() Node {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.localNode
}
