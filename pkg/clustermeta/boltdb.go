package clustermeta

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"path/filepath"

	bolt "go.etcd.io/bbolt"
)

var (
	bucketNodes      = []byte("nodes")
	bucketConfigs    = []byte("cache_configs")
	bucketAffinities = []byte("affinity_snapshots")
)

// BoltStore implements Store using bbolt.
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens (creating if necessary) the cluster metadata
// database under workDir/meta.db.
func NewBoltStore(workDir string) (*BoltStore, error) {
	dbPath := filepath.Join(workDir, "meta.db")

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("clustermeta: open %s: %w", dbPath, err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{bucketNodes, bucketConfigs, bucketAffinities} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return fmt.Errorf("create bucket %s: %w", b, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

// Close closes the database.
func (s *BoltStore) Close() error {
	return s.db.Close()
}

func (s *BoltStore) CreateNode(node *NodeRecord) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(node)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketNodes).Put([]byte(node.ID), data)
	})
}

func (s *BoltStore) GetNode(id string) (*NodeRecord, error) {
	var node NodeRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketNodes).Get([]byte(id))
		if data == nil {
			return fmt.Errorf("node not found: %s", id)
		}
		return json.Unmarshal(data, &node)
	})
	if err != nil {
		return nil, err
	}
	return &node, nil
}

func (s *BoltStore) ListNodes() ([]*NodeRecord, error) {
	var nodes []*NodeRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketNodes).ForEach(func(k, v []byte) error {
			var node NodeRecord
			if err := json.Unmarshal(v, &node); err != nil {
				return err
			}
			nodes = append(nodes, &node)
			return nil
		})
	})
	return nodes, err
}

func (s *BoltStore) DeleteNode(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketNodes).Delete([]byte(id))
	})
}

func (s *BoltStore) SaveCacheConfig(cfg *CacheConfig) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(cfg)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketConfigs).Put([]byte(cfg.Name), data)
	})
}

func (s *BoltStore) GetCacheConfig(name string) (*CacheConfig, error) {
	var cfg CacheConfig
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketConfigs).Get([]byte(name))
		if data == nil {
			return fmt.Errorf("cache config not found: %s", name)
		}
		return json.Unmarshal(data, &cfg)
	})
	if err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (s *BoltStore) ListCacheConfigs() ([]*CacheConfig, error) {
	var cfgs []*CacheConfig
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketConfigs).ForEach(func(k, v []byte) error {
			var cfg CacheConfig
			if err := json.Unmarshal(v, &cfg); err != nil {
				return err
			}
			cfgs = append(cfgs, &cfg)
			return nil
		})
	})
	return cfgs, err
}

func (s *BoltStore) DeleteCacheConfig(name string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketConfigs).Delete([]byte(name))
	})
}

// affinityKey packs cacheName and topVer into a sortable bucket key so a
// cursor range-scan can find and delete all snapshots below a version.
func affinityKey(cacheName string, topVer int64) []byte {
	key := make([]byte, len(cacheName)+1+8)
	copy(key, cacheName)
	key[len(cacheName)] = 0
	binary.BigEndian.PutUint64(key[len(cacheName)+1:], uint64(topVer))
	return key
}

func (s *BoltStore) SaveAffinitySnapshot(snap *AffinitySnapshot) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(snap)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketAffinities).Put(affinityKey(snap.CacheName, snap.TopologyVersion), data)
	})
}

func (s *BoltStore) LoadAffinitySnapshot(cacheName string, topVer int64) (*AffinitySnapshot, error) {
	var snap AffinitySnapshot
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketAffinities).Get(affinityKey(cacheName, topVer))
		if data == nil {
			return fmt.Errorf("affinity snapshot not found: %s@%d", cacheName, topVer)
		}
		return json.Unmarshal(data, &snap)
	})
	if err != nil {
		return nil, err
	}
	return &snap, nil
}

func (s *BoltStore) DeleteAffinitySnapshotsBefore(cacheName string, topVer int64) error {
	prefix := append([]byte(cacheName), 0)
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketAffinities)
		c := b.Cursor()
		var toDelete [][]byte
		for k, _ := c.Seek(prefix); k != nil && hasPrefix(k, prefix); k, _ = c.Next() {
			version := int64(binary.BigEndian.Uint64(k[len(prefix):]))
			if version < topVer {
				toDelete = append(toDelete, append([]byte(nil), k...))
			}
		}
		for _, k := range toDelete {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
}

func hasPrefix(b, prefix []byte) bool {
	return len(b) >= len(prefix) && string(b[:len(prefix)]) == string(prefix)
}
