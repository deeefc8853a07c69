// Package auditstore is the per-auditor local ledger: the "already audited"
// task-ID set and this epoch's cumulative worker scores, both of which must
// survive a process restart without depending on a shared database. Storage
// follows a bucket-per-entity, JSON-marshal-value pattern on top of an
// embedded key-value store.
package auditstore

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
)

var (
	bucketAudited    = []byte("audited_tasks")
	bucketCumulative = []byte("cumulative_scores")
)

// Store is a bbolt-backed local ledger for one auditor process.
type Store struct {
	db *bolt.DB
}

// Open opens (creating if absent) the bbolt database under dataDir.
func Open(dataDir string) (*Store, error) {
	dbPath := filepath.Join(dataDir, "auditor.db")

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open auditor store: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{bucketAudited, bucketCumulative} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", b, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

type auditedRecord struct {
	TaskID     string    `json:"task_id"`
	AuditedAt  time.Time `json:"audited_at"`
}

// MarkAudited records taskID as audited, surviving restart: this is the
// durable backstop behind the in-memory dedup set, so a restarted auditor
// doesn't re-audit a task it already scored.
func (s *Store) MarkAudited(taskID string) error {
	rec := auditedRecord{TaskID: taskID, AuditedAt: time.Now()}
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketAudited).Put([]byte(taskID), data)
	})
}

// IsAudited reports whether taskID has already been marked audited.
func (s *Store) IsAudited(taskID string) bool {
	var found bool
	_ = s.db.View(func(tx *bolt.Tx) error {
		found = tx.Bucket(bucketAudited).Get([]byte(taskID)) != nil
		return nil
	})
	return found
}

// ListAudited returns all task IDs marked audited by this auditor locally.
func (s *Store) ListAudited() ([]string, error) {
	var ids []string
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketAudited).ForEach(func(k, v []byte) error {
			ids = append(ids, string(k))
			return nil
		})
	})
	return ids, err
}

// AddCumulativeScore adds delta, the capped contribution from one task, to
// workerID's running total for the current epoch.
func (s *Store) AddCumulativeScore(workerID string, delta float64) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketCumulative)
		current := 0.0
		if data := b.Get([]byte(workerID)); data != nil {
			if err := json.Unmarshal(data, &current); err != nil {
				return err
			}
		}
		current += delta
		data, err := json.Marshal(current)
		if err != nil {
			return err
		}
		return b.Put([]byte(workerID), data)
	})
}

// CumulativeScores returns a snapshot of this epoch's per-worker totals.
func (s *Store) CumulativeScores() (map[string]float64, error) {
	out := make(map[string]float64)
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketCumulative).ForEach(func(k, v []byte) error {
			var score float64
			if err := json.Unmarshal(v, &score); err != nil {
				return err
			}
			out[string(k)] = score
			return nil
		})
	})
	return out, err
}

// ResetEpoch clears the cumulative-score bucket at the start of a new
// epoch; the audited-tasks bucket is left intact, since it tracks
// cross-epoch dedup, not per-epoch scoring.
func (s *Store) ResetEpoch() error {
	return s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.DeleteBucket(bucketCumulative); err != nil {
			return err
		}
		_, err := tx.CreateBucket(bucketCumulative)
		return err
	})
}
