package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	bolt "go.etcd.io/bbolt"
	"paper2slides/pkg/domain"
)

var (
	convItemsBucket = []byte("conv_items")
	convIndexBucket = []byte("conv_index")
	convOrderKey    = []byte("order")
)

// BoltPersister stores conversation snapshots in a local BoltDB file.
// The file is opened per operation so several CLI processes can share it.
type BoltPersister struct {
	path string
}

// NewBoltPersister prepares the directory for the BoltDB file at path.
func NewBoltPersister(path string) (*BoltPersister, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("bolt path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create bolt dir: %w", err)
	}
	return &BoltPersister{path: path}, nil
}

// Load reads conversations in saved order. Malformed records are skipped.
func (p *BoltPersister) Load() ([]domain.Conversation, error) {
	db, err := bolt.Open(p.path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt: %w", err)
	}
	defer func() { _ = db.Close() }()

	var res []domain.Conversation
	err = db.View(func(tx *bolt.Tx) error {
		items := tx.Bucket(convItemsBucket)
		if items == nil {
			return nil
		}
		var order []string
		if idx := tx.Bucket(convIndexBucket); idx != nil {
			if raw := idx.Get(convOrderKey); len(raw) > 0 {
				_ = json.Unmarshal(raw, &order)
			}
		}
		seen := make(map[string]struct{}, len(order))
		for _, id := range order {
			var conv domain.Conversation
			raw := items.Get([]byte(id))
			if len(raw) == 0 || json.Unmarshal(raw, &conv) != nil {
				continue
			}
			seen[id] = struct{}{}
			res = append(res, conv)
		}
		// Records missing from the index still load, after the indexed ones.
		return items.ForEach(func(k, v []byte) error {
			if _, ok := seen[string(k)]; ok {
				return nil
			}
			var conv domain.Conversation
			if json.Unmarshal(v, &conv) != nil {
				return nil
			}
			res = append(res, conv)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// Save rewrites both buckets so they reflect convs exactly.
func (p *BoltPersister) Save(convs []domain.Conversation) error {
	db, err := bolt.Open(p.path, 0o600, &bolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return fmt.Errorf("open bolt: %w", err)
	}
	defer func() { _ = db.Close() }()
	return db.Update(func(tx *bolt.Tx) error {
		items, err := recreateBucket(tx, convItemsBucket)
		if err != nil {
			return err
		}
		order := make([]string, 0, len(convs))
		for _, conv := range convs {
			enc, err := json.Marshal(conv)
			if err != nil {
				return fmt.Errorf("encode conversation %s: %w", conv.ID, err)
			}
			if err := items.Put([]byte(conv.ID), enc); err != nil {
				return err
			}
			order = append(order, conv.ID)
		}
		idx, err := recreateBucket(tx, convIndexBucket)
		if err != nil {
			return err
		}
		enc, err := json.Marshal(order)
		if err != nil {
			return err
		}
		return idx.Put(convOrderKey, enc)
	})
}

// Clear drops both buckets.
func (p *BoltPersister) Clear() error {
	db, err := bolt.Open(p.path, 0o600, &bolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return fmt.Errorf("open bolt: %w", err)
	}
	defer func() { _ = db.Close() }()
	return db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{convItemsBucket, convIndexBucket} {
			if tx.Bucket(name) == nil {
				continue
			}
			if err := tx.DeleteBucket(name); err != nil {
				return err
			}
		}
		return nil
	})
}

func recreateBucket(tx *bolt.Tx, name []byte) (*bolt.Bucket, error) {
	if tx.Bucket(name) != nil {
		if err := tx.DeleteBucket(name); err != nil {
			return nil, err
		}
	}
	return tx.CreateBucket(name)
}
