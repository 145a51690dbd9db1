// Package journal keeps a short history of bring-up outcomes in a BoltDB file.
package journal

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"

	"stripled-controller/internal/core"
)

// Keep is the number of boots retained.
const Keep = 50

var ErrEmpty = errors.New("journal empty")

var bucketBoots = []byte("boots")

// Entry records one bring-up.
type Entry struct {
	At            time.Time `json:"at"`
	Mode          string    `json:"mode"`
	NetworkJoined bool      `json:"networkJoined"`
	BrokerJoined  bool      `json:"brokerJoined"`
	Error         string    `json:"error,omitempty"`
}

// EntryFrom summarizes a connection state.
func EntryFrom(at time.Time, st core.ConnectionState) Entry {
	e := Entry{
		At:            at.UTC(),
		Mode:          st.Mode.String(),
		NetworkJoined: st.NetworkJoined,
		BrokerJoined:  st.BrokerJoined,
	}
	if st.Err != nil {
		e.Error = st.Err.Error()
	}
	return e
}

// Journal is a BoltDB-backed boot history.
type Journal struct {
	db *bolt.DB
}

// Open opens or creates the journal database.
func Open(path string) (*Journal, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketBoots)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create buckets: %w", err)
	}
	return &Journal{db: db}, nil
}

// Record appends e and drops the oldest entries beyond Keep.
func (j *Journal) Record(e Entry) error {
	return j.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketBoots)
		if b == nil {
			return fmt.Errorf("bucket %q not found", bucketBoots)
		}
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		data, err := json.Marshal(e)
		if err != nil {
			return err
		}
		if err := b.Put(itob(seq), data); err != nil {
			return err
		}

		var keys [][]byte
		c := b.Cursor()
		for k, _ := c.First(); k != nil; k, _ = c.Next() {
			keys = append(keys, append([]byte(nil), k...))
		}
		for i := 0; i < len(keys)-Keep; i++ {
			if err := b.Delete(keys[i]); err != nil {
				return err
			}
		}
		return nil
	})
}

// Last returns the most recent entry.
func (j *Journal) Last() (Entry, error) {
	var e Entry
	err := j.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketBoots)
		if b == nil {
			return ErrEmpty
		}
		_, v := b.Cursor().Last()
		if v == nil {
			return ErrEmpty
		}
		return json.Unmarshal(v, &e)
	})
	return e, err
}

// List returns the retained entries, oldest first.
func (j *Journal) List() ([]Entry, error) {
	var out []Entry
	err := j.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketBoots)
		if b == nil {
			return nil
		}
		return b.ForEach(func(_, v []byte) error {
			var e Entry
			if err := json.Unmarshal(v, &e); err != nil {
				return err
			}
			out = append(out, e)
			return nil
		})
	})
	return out, err
}

func (j *Journal) Close() error {
	return j.db.Close()
}

func itob(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}
