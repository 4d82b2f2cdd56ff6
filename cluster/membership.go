package cluster

import (
	"net"
	"sort"
	"sync"

	"github.com/hashicorp/serf/serf"
	"github.com/mohitkumar/autoflow/logger"
	"go.uber.org/zap"
)

const HTTP_ADDR_TAG string = "http_addr"

type Config struct {
	NodeName       string
	BindAddr       string
	HttpAddr       string
	StartJoinAddrs []string
}

// Topology is what gossip keeps up to date, normally the Ring.
type Topology interface {
	Join(name string, addr string) error
	Leave(name string) error
	GetPartitions() []int
}

// OwnershipChange lists the partitions this node took over or handed off
// after a membership event.
type OwnershipChange struct {
	Gained []int
	Lost   []int
	Owned  int
}

type OwnershipListener func(OwnershipChange)

// Membership gossips node liveness with serf and applies every join and
// leave to a Topology. After each event it compares the partitions the local
// node owns with what it owned before and reports any difference.
type Membership struct {
	conf      Config
	topology  Topology
	serf      *serf.Serf
	events    chan serf.Event
	log       *zap.Logger
	listeners []OwnershipListener
	mu        sync.Mutex
	owned     map[int]bool
}

func NewMembership(topology Topology, conf Config, listeners ...OwnershipListener) (*Membership, error) {
	m := newMembership(topology, conf, listeners...)
	if err := m.setupSerf(); err != nil {
		return nil, err
	}
	return m, nil
}

func newMembership(topology Topology, conf Config, listeners ...OwnershipListener) *Membership {
	return &Membership{
		conf:      conf,
		topology:  topology,
		log:       logger.Named("membership"),
		listeners: listeners,
		owned:     toSet(topology.GetPartitions()),
	}
}

func (m *Membership) setupSerf() error {
	addr, err := net.ResolveTCPAddr("tcp", m.conf.BindAddr)
	if err != nil {
		return err
	}
	config := serf.DefaultConfig()
	config.Init()
	config.MemberlistConfig.BindAddr = addr.IP.String()
	config.MemberlistConfig.BindPort = addr.Port
	m.events = make(chan serf.Event)
	config.EventCh = m.events
	config.Tags = map[string]string{HTTP_ADDR_TAG: m.conf.HttpAddr}
	config.NodeName = m.conf.NodeName
	m.serf, err = serf.Create(config)
	if err != nil {
		return err
	}
	go m.eventHandler()
	if len(m.conf.StartJoinAddrs) > 0 {
		if _, err := m.serf.Join(m.conf.StartJoinAddrs, true); err != nil {
			return err
		}
	}
	return nil
}

func (m *Membership) eventHandler() {
	for e := range m.events {
		me, ok := e.(serf.MemberEvent)
		if !ok {
			continue
		}
		for _, member := range me.Members {
			if member.Name == m.conf.NodeName {
				continue
			}
			switch me.Type {
			case serf.EventMemberJoin, serf.EventMemberUpdate:
				if err := m.topology.Join(member.Name, member.Tags[HTTP_ADDR_TAG]); err != nil {
					m.logError(err, "failed to join", member)
				}
			case serf.EventMemberLeave, serf.EventMemberFailed, serf.EventMemberReap:
				if err := m.topology.Leave(member.Name); err != nil {
					m.logError(err, "failed to leave", member)
				}
			}
		}
		m.reconcile()
	}
}

// reconcile compares current ownership against the last snapshot and
// notifies listeners when it moved.
func (m *Membership) reconcile() {
	current := toSet(m.topology.GetPartitions())

	m.mu.Lock()
	change := OwnershipChange{Owned: len(current)}
	for p := range current {
		if !m.owned[p] {
			change.Gained = append(change.Gained, p)
		}
	}
	for p := range m.owned {
		if !current[p] {
			change.Lost = append(change.Lost, p)
		}
	}
	m.owned = current
	m.mu.Unlock()

	if len(change.Gained) == 0 && len(change.Lost) == 0 {
		return
	}
	sort.Ints(change.Gained)
	sort.Ints(change.Lost)
	m.log.Info("partition ownership changed",
		zap.Ints("gained", change.Gained),
		zap.Ints("lost", change.Lost),
		zap.Int("owned", change.Owned))
	for _, l := range m.listeners {
		l(change)
	}
}

// Nodes returns the live members with their HTTP addresses.
func (m *Membership) Nodes() []Node {
	nodes := make([]Node, 0)
	for _, member := range m.serf.Members() {
		if member.Status != serf.StatusAlive {
			continue
		}
		nodes = append(nodes, Node{Name: member.Name, Addr: member.Tags[HTTP_ADDR_TAG]})
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].Name < nodes[j].Name })
	return nodes
}

func (m *Membership) Leave() error {
	if err := m.serf.Leave(); err != nil {
		return err
	}
	return m.serf.Shutdown()
}

func (m *Membership) logError(err error, msg string, member serf.Member) {
	m.log.Error(msg,
		zap.Error(err),
		zap.String("node", member.Name),
		zap.String(HTTP_ADDR_TAG, member.Tags[HTTP_ADDR_TAG]))
}

func toSet(partitions []int) map[int]bool {
	set := make(map[int]bool, len(partitions))
	for _, p := range partitions {
		set[p] = true
	}
	return set
}
