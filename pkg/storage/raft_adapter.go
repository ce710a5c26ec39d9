package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/cuemby/entitycore/pkg/types"
	"github.com/hashicorp/raft"
	raftboltdb "github.com/hashicorp/raft-boltdb"
)

// RaftConfig configures a replicated RaftAdapter.
type RaftConfig struct {
	NodeID   string
	BindAddr string
	DataDir  string
}

// RaftAdapter replicates CommitBatch through Raft consensus over a local
// BoltAdapter; it stands in for the out-of-scope "persistent storage
// engine" the entity core is built against, using a real consensus
// library rather than reimplementing one. Reads, queries, and cleanup
// sweeps are served directly from the local replica.
type RaftAdapter struct {
	nodeID string
	raft   *raft.Raft
	fsm    *entityFSM
	local  *BoltAdapter
}

// NewRaftAdapter opens the local BoltDB replica and FSM without starting
// Raft; call Bootstrap or Join to join the consensus group.
func NewRaftAdapter(cfg RaftConfig) (*RaftAdapter, error) {
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}

	local, err := NewBoltAdapter(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("create local store: %w", err)
	}

	return &RaftAdapter{
		nodeID: cfg.NodeID,
		fsm:    newEntityFSM(local),
		local:  local,
	}, nil
}

// Bootstrap starts a new single-node Raft cluster rooted at this node.
func (a *RaftAdapter) Bootstrap(bindAddr, dataDir string) error {
	raftInstance, transport, err := newRaftNode(a.nodeID, bindAddr, dataDir, a.fsm)
	if err != nil {
		return err
	}

	configuration := raft.Configuration{
		Servers: []raft.Server{
			{ID: raft.ServerID(a.nodeID), Address: transport.LocalAddr()},
		},
	}
	if err := raftInstance.BootstrapCluster(configuration).Error(); err != nil {
		return fmt.Errorf("bootstrap raft cluster: %w", err)
	}

	a.raft = raftInstance
	return nil
}

// newRaftNode tunes Raft for the lower-latency LAN deployments the entity
// core expects, rather than hashicorp/raft's WAN-conservative defaults.
func newRaftNode(nodeID, bindAddr, dataDir string, fsm raft.FSM) (*raft.Raft, *raft.NetworkTransport, error) {
	config := raft.DefaultConfig()
	config.LocalID = raft.ServerID(nodeID)
	config.HeartbeatTimeout = 500 * time.Millisecond
	config.ElectionTimeout = 500 * time.Millisecond
	config.LeaderLeaseTimeout = 250 * time.Millisecond

	addr, err := net.ResolveTCPAddr("tcp", bindAddr)
	if err != nil {
		return nil, nil, fmt.Errorf("resolve bind address: %w", err)
	}

	transport, err := raft.NewTCPTransport(bindAddr, addr, 3, 10*time.Second, os.Stderr)
	if err != nil {
		return nil, nil, fmt.Errorf("create raft transport: %w", err)
	}

	snapshotStore, err := raft.NewFileSnapshotStore(dataDir, 2, os.Stderr)
	if err != nil {
		return nil, nil, fmt.Errorf("create snapshot store: %w", err)
	}

	logStore, err := raftboltdb.NewBoltStore(filepath.Join(dataDir, "raft-log.db"))
	if err != nil {
		return nil, nil, fmt.Errorf("create raft log store: %w", err)
	}

	stableStore, err := raftboltdb.NewBoltStore(filepath.Join(dataDir, "raft-stable.db"))
	if err != nil {
		return nil, nil, fmt.Errorf("create raft stable store: %w", err)
	}

	r, err := raft.NewRaft(config, fsm, logStore, stableStore, snapshotStore, transport)
	if err != nil {
		return nil, nil, fmt.Errorf("create raft instance: %w", err)
	}
	return r, transport, nil
}

// Join starts this node's Raft instance without bootstrapping a cluster.
// It does not contact leaderAddr; the node takes part only once the
// leader adds it to the cluster configuration.
func (a *RaftAdapter) Join(bindAddr, dataDir, leaderAddr string) error {
	raftInstance, _, err := newRaftNode(a.nodeID, bindAddr, dataDir, a.fsm)
	if err != nil {
		return err
	}
	a.raft = raftInstance
	return nil
}

func (a *RaftAdapter) Load(ctx context.Context, id types.InstanceID) (*types.Record, error) {
	return a.local.Load(ctx, id)
}

func (a *RaftAdapter) CommitBatch(ctx context.Context, rec *types.Record, expectedVersion uint64) error {
	cmd := command{Record: rec, ExpectedVersion: expectedVersion}
	data, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("marshal commit command: %w", err)
	}

	future := a.raft.Apply(data, 10*time.Second)
	if err := future.Error(); err != nil {
		return fmt.Errorf("raft apply: %w", err)
	}

	if resp := future.Response(); resp != nil {
		if err, ok := resp.(error); ok && err != nil {
			return err
		}
	}
	return nil
}

func (a *RaftAdapter) Query(ctx context.Context, filter types.Filter) (types.Page, error) {
	return a.local.Query(ctx, filter)
}

func (a *RaftAdapter) Clean(ctx context.Context, isLive func(holder types.InstanceID) bool) (types.CleanResult, error) {
	return a.local.Clean(ctx, isLive)
}

func (a *RaftAdapter) BackendSupportsImplicitEntityDeletion() bool {
	return false
}

func (a *RaftAdapter) Stats() Stats {
	stats := a.local.Stats()
	stats.IsLeader = a.raft != nil && a.raft.State() == raft.Leader
	if a.raft != nil {
		stats.AppliedIndex = a.raft.AppliedIndex()
	}
	return stats
}

func (a *RaftAdapter) Close() error {
	if a.raft != nil {
		if err := a.raft.Shutdown().Error(); err != nil {
			return fmt.Errorf("shutdown raft: %w", err)
		}
	}
	return a.local.Close()
}
