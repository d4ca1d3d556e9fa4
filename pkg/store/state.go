package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/markus-lassfolk/acsd/pkg/acs"
	"github.com/markus-lassfolk/acsd/pkg/logx"
)

// Bucket names for bbolt database
const (
	ResultsBucket  = "results"
	MetadataBucket = "metadata"
)

// Record is the persisted state of one interface
type Record struct {
	Result  *acs.Result `json:"result"`
	SavedAt time.Time   `json:"saved_at"`
}

// StateStore keeps the latest result per interface across restarts
type StateStore struct {
	db     *bolt.DB
	logger *logx.Logger
}

// OpenState opens or creates the state database at path
func OpenState(path string, logger *logx.Logger) (*StateStore, error) {
	if logger == nil {
		logger = logx.NewLogger("info", "store")
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}

	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open state database: %w", err)
	}

	s := &StateStore{db: db, logger: logger}
	if err := s.initializeBuckets(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize state buckets: %w", err)
	}
	return s, nil
}

func (s *StateStore) initializeBuckets() error {
	return s.db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range []string{ResultsBucket, MetadataBucket} {
			if _, err := tx.CreateBucketIfNotExists([]byte(bucket)); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})
}

// Save stores res as the latest result of its interface
func (s *StateStore) Save(res *acs.Result) error {
	if res == nil || res.Iface == "" {
		return fmt.Errorf("result without interface")
	}
	data, err := json.Marshal(Record{Result: res, SavedAt: time.Now()})
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(ResultsBucket)).Put([]byte(res.Iface), data)
	})
}

// Get returns the record of iface or nil
func (s *StateStore) Get(iface string) (*Record, error) {
	var rec *Record
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket([]byte(ResultsBucket)).Get([]byte(iface))
		if data == nil {
			return nil
		}
		rec = &Record{}
		return json.Unmarshal(data, rec)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read record %s: %w", iface, err)
	}
	return rec, nil
}

// All returns every stored record keyed by interface. Undecodable entries
// are skipped and logged.
func (s *StateStore) All() (map[string]*Record, error) {
	out := make(map[string]*Record)
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(ResultsBucket)).ForEach(func(k, v []byte) error {
			rec := &Record{}
			if err := json.Unmarshal(v, rec); err != nil || rec.Result == nil {
				s.logger.Warn("state_record_skipped", "iface", string(k), "error", err)
				return nil
			}
			out[string(k)] = rec
			return nil
		})
	})
	return out, err
}

// Delete forgets iface
func (s *StateStore) Delete(iface string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(ResultsBucket)).Delete([]byte(iface))
	})
}

// SetMeta stores a metadata value such as the last regulatory country
func (s *StateStore) SetMeta(key, value string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(MetadataBucket)).Put([]byte(key), []byte(value))
	})
}

// Meta returns a metadata value or ""
func (s *StateStore) Meta(key string) (string, error) {
	var value string
	err := s.db.View(func(tx *bolt.Tx) error {
		value = string(tx.Bucket([]byte(MetadataBucket)).Get([]byte(key)))
		return nil
	})
	return value, err
}

// Deliver persists a completed selection
func (s *StateStore) Deliver(res *acs.Result) {
	if err := s.Save(res); err != nil {
		s.logger.Error("state_save_failed", "iface", res.Iface, "error", err)
	}
}

// RestoreInto seeds the engine with every stored result and returns how
// many interfaces were restored.
func (s *StateStore) RestoreInto(e *acs.Engine) (int, error) {
	records, err := s.All()
	if err != nil {
		return 0, err
	}
	for iface, rec := range records {
		e.Restore(rec.Result.Request, rec.Result)
		s.logger.Debug("state_restored", "iface", iface, "primary_freq", rec.Result.Primary)
	}
	return len(records), nil
}

// Close closes the database
func (s *StateStore) Close() error {
	return s.db.Close()
}
