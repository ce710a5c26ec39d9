package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/cuemby/entitycore/pkg/types"
	bolt "go.etcd.io/bbolt"
)

var bucketEntities = []byte("entities")

// BoltAdapter implements Store on a single embedded BoltDB file. It is the
// non-replicated reference adapter: CommitBatch's compare-and-swap is
// enforced by doing the version check and the Put inside one bbolt
// transaction, which BoltDB serializes against every other writer.
type BoltAdapter struct {
	db *bolt.DB
}

// NewBoltAdapter opens (creating if necessary) a BoltDB file under dataDir.
func NewBoltAdapter(dataDir string) (*BoltAdapter, error) {
	dbPath := filepath.Join(dataDir, "entitycore.db")

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketEntities)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create entities bucket: %w", err)
	}

	return &BoltAdapter{db: db}, nil
}

// Close closes the database.
func (a *BoltAdapter) Close() error {
	return a.db.Close()
}

// BackendSupportsImplicitEntityDeletion reports false: BoltAdapter only
// removes empty records during an explicit Clean() sweep.
func (a *BoltAdapter) BackendSupportsImplicitEntityDeletion() bool {
	return false
}

func (a *BoltAdapter) Load(_ context.Context, id types.InstanceID) (*types.Record, error) {
	var rec *types.Record
	err := a.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketEntities)
		data := b.Get([]byte(id.String()))
		if data == nil {
			rec = &types.Record{ID: id}
			return nil
		}
		var stored types.Record
		if err := json.Unmarshal(data, &stored); err != nil {
			return fmt.Errorf("unmarshal record %s: %w", id, err)
		}
		rec = &stored
		return nil
	})
	return rec, err
}

func (a *BoltAdapter) CommitBatch(_ context.Context, rec *types.Record, expectedVersion uint64) error {
	return a.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketEntities)
		key := []byte(rec.ID.String())

		var current uint64
		if data := b.Get(key); data != nil {
			var stored types.Record
			if err := json.Unmarshal(data, &stored); err != nil {
				return fmt.Errorf("unmarshal record %s: %w", rec.ID, err)
			}
			current = stored.Version
		}

		if current != expectedVersion {
			return ErrVersionConflict
		}

		rec.Version = expectedVersion + 1

		// BackendSupportsImplicitEntityDeletion is false: an empty record
		// is kept until an explicit Clean() sweep removes it, not purged
		// here at commit time.
		data, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("marshal record %s: %w", rec.ID, err)
		}
		return b.Put(key, data)
	})
}

// normalizeIDPrefix puts a Filter.IDPrefix into the same case-folded,
// "@"-led form keys are stored under (InstanceID.String()), so a
// prefix like "StringStore" or "@StringStore" matches the same
// records as "@stringstore" would (§4.6).
func normalizeIDPrefix(prefix string) string {
	prefix = strings.ToLower(prefix)
	if prefix == "" || strings.HasPrefix(prefix, "@") {
		return prefix
	}
	return "@" + prefix
}

func (a *BoltAdapter) Query(_ context.Context, filter types.Filter) (types.Page, error) {
	var metas []types.Metadata

	prefix := []byte(normalizeIDPrefix(filter.IDPrefix))

	err := a.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketEntities)
		c := b.Cursor()

		var k, v []byte
		if filter.HasIDPrefix {
			k, v = c.Seek(prefix)
		} else {
			k, v = c.First()
		}

		for ; k != nil; k, v = c.Next() {
			if filter.HasIDPrefix && !bytes.HasPrefix(k, prefix) {
				break
			}

			var rec types.Record
			if err := json.Unmarshal(v, &rec); err != nil {
				return fmt.Errorf("unmarshal record %s: %w", k, err)
			}

			if !filter.IncludeTransient && rec.Transient() {
				continue
			}
			if filter.HasFrom && rec.LastModified.Before(filter.LastModifiedFrom) {
				continue
			}
			if filter.HasTo && rec.LastModified.After(filter.LastModifiedTo) {
				continue
			}

			metas = append(metas, recordToMetadata(&rec, filter.IncludeState))
		}
		return nil
	})
	if err != nil {
		return types.Page{}, err
	}

	sort.SliceStable(metas, func(i, j int) bool { return metas[i].LastModified.After(metas[j].LastModified) })

	// The continuation token is the ID of the previous page's last item;
	// resume right after it in this same ordering.
	if filter.ContinuationToken != "" {
		for i, m := range metas {
			if m.ID.String() == filter.ContinuationToken {
				metas = metas[i+1:]
				break
			}
		}
	}

	page := types.Page{Items: metas}
	if filter.PageSize > 0 && len(metas) > filter.PageSize {
		page.Items = metas[:filter.PageSize]
		page.NextToken = page.Items[len(page.Items)-1].ID.String()
		page.HasMore = true
	}
	return page, nil
}

func (a *BoltAdapter) Clean(_ context.Context, isLive func(holder types.InstanceID) bool) (types.CleanResult, error) {
	var result types.CleanResult

	err := a.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketEntities)
		c := b.Cursor()

		var toDelete [][]byte
		var toUpdate []*types.Record

		for k, v := c.First(); k != nil; k, v = c.Next() {
			var rec types.Record
			if err := json.Unmarshal(v, &rec); err != nil {
				return fmt.Errorf("unmarshal record %s: %w", k, err)
			}

			if rec.Locked && !isLive(rec.LockedBy) {
				rec.Locked = false
				rec.LockedBy = types.InstanceID{}
				if len(rec.PendingLockQueue) > 0 {
					next := rec.PendingLockQueue[0]
					rec.PendingLockQueue = rec.PendingLockQueue[1:]
					rec.Locked = true
					if len(next.OrderedTargets) > 0 {
						rec.LockedBy = next.OrchestrationID
					}
				}
				result.OrphanedLocksReleased++
				toUpdate = append(toUpdate, &rec)
				continue
			}

			if !rec.Exists() && len(rec.Backlog) == 0 && !rec.Locked {
				toDelete = append(toDelete, append([]byte(nil), k...))
				result.EmptyEntitiesRemoved++
			}
		}

		for _, rec := range toUpdate {
			data, err := json.Marshal(rec)
			if err != nil {
				return fmt.Errorf("marshal record %s: %w", rec.ID, err)
			}
			if err := b.Put([]byte(rec.ID.String()), data); err != nil {
				return err
			}
		}
		for _, k := range toDelete {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})

	return result, err
}

func (a *BoltAdapter) Stats() Stats {
	var total int
	_ = a.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketEntities)
		total = b.Stats().KeyN
		return nil
	})
	return Stats{IsLeader: true, EntitiesTotal: total}
}

func recordToMetadata(rec *types.Record, includeState bool) types.Metadata {
	m := types.Metadata{
		ID:                   rec.ID,
		Exists:               rec.Exists(),
		LockedBy:             rec.LockedBy,
		Locked:               rec.Locked,
		LastModified:         rec.LastModified,
		BacklogQueueSize:     len(rec.Backlog),
		PendingLockQueueSize: len(rec.PendingLockQueue),
	}
	if includeState {
		m.State = rec.State
	}
	return m
}
