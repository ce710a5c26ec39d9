package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/cuemby/entitycore/pkg/types"
	"github.com/hashicorp/raft"
)

// entityFSM implements the Raft Finite State Machine backing RaftAdapter.
// Every committed log entry is a single CommitBatch call against the
// local BoltAdapter; reads never go through Raft.
type entityFSM struct {
	mu    sync.RWMutex
	store *BoltAdapter
}

func newEntityFSM(store *BoltAdapter) *entityFSM {
	return &entityFSM{store: store}
}

// command is the Raft log entry payload: a single versioned record write.
type command struct {
	Record          *types.Record `json:"record"`
	ExpectedVersion uint64        `json:"expected_version"`
}

// Apply applies one committed log entry to the local store.
func (f *entityFSM) Apply(log *raft.Log) interface{} {
	var cmd command
	if err := json.Unmarshal(log.Data, &cmd); err != nil {
		return fmt.Errorf("unmarshal command: %w", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	return f.store.CommitBatch(context.Background(), cmd.Record, cmd.ExpectedVersion)
}

// Snapshot captures every record currently in the store.
func (f *entityFSM) Snapshot() (raft.FSMSnapshot, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	page, err := f.store.Query(context.Background(), types.Filter{IncludeState: true, IncludeTransient: true})
	if err != nil {
		return nil, fmt.Errorf("list records for snapshot: %w", err)
	}

	records := make([]*types.Record, 0, len(page.Items))
	for _, meta := range page.Items {
		rec, err := f.store.Load(context.Background(), meta.ID)
		if err != nil {
			return nil, fmt.Errorf("load record %s for snapshot: %w", meta.ID, err)
		}
		records = append(records, rec)
	}

	return &entitySnapshot{records: records}, nil
}

// Restore writes every record in a snapshot over its local copy.
// Local records that are absent from the snapshot are left in place.
func (f *entityFSM) Restore(rc io.ReadCloser) error {
	defer rc.Close()

	var snap entitySnapshot
	if err := json.NewDecoder(rc).Decode(&snap); err != nil {
		return fmt.Errorf("decode snapshot: %w", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	for _, rec := range snap.records {
		current, err := f.store.Load(context.Background(), rec.ID)
		if err != nil {
			return fmt.Errorf("load record %s for restore: %w", rec.ID, err)
		}
		if err := f.store.CommitBatch(context.Background(), rec, current.Version); err != nil {
			return fmt.Errorf("restore record %s: %w", rec.ID, err)
		}
	}
	return nil
}

type entitySnapshot struct {
	records []*types.Record
}

func (s *entitySnapshot) Persist(sink raft.SnapshotSink) error {
	err := func() error {
		return json.NewEncoder(sink).Encode(s)
	}()
	if err != nil {
		sink.Cancel()
		return err
	}
	return sink.Close()
}

func (s *entitySnapshot) Release() {}

func (s *entitySnapshot) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Records []*types.Record `json:"records"`
	}{Records: s.records})
}

func (s *entitySnapshot) UnmarshalJSON(data []byte) error {
	var wire struct {
		Records []*types.Record `json:"records"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	s.records = wire.Records
	return nil
}
