package history

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/hydropi/hydropi/controller"
)

const Bucket = "decisions"

var ErrNotFound = errors.New("decision not found")

var errFound = errors.New("found")

// storeIface is the minimal subset of the controller store we need.
type storeIface interface {
	List(bucket string, fn func(string, []byte) error) error
	Create(bucket string, fn func(string) interface{}) error
}

// tailer is implemented by stores that can read the newest entries without a full scan.
type tailer interface {
	Tail(bucket string, n int, fn func(string, []byte) error) error
}

// Store is the append-only log of decision records. Records are never
// updated or deleted through it.
type Store struct {
	store storeIface
	mu    sync.Mutex
}

func New(store storeIface) *Store {
	return &Store{store: store}
}

// Append persists rec. The stored id is the store's sequence key when rec has none.
func (s *Store) Append(rec controller.DecisionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	fn := func(id string) interface{} {
		if rec.ID == "" {
			rec.ID = id
		}
		return &rec
	}
	if err := s.store.Create(Bucket, fn); err != nil {
		return fmt.Errorf("append decision %s: %w", rec.ID, err)
	}
	return nil
}

// Recent returns up to k records, oldest first. An empty history yields an empty slice.
func (s *Store) Recent(k int) ([]controller.DecisionRecord, error) {
	recs := []controller.DecisionRecord{}
	if k <= 0 {
		return recs, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	collect := func(_ string, v []byte) error {
		var r controller.DecisionRecord
		if err := json.Unmarshal(v, &r); err != nil {
			return err
		}
		recs = append(recs, r)
		return nil
	}
	var err error
	if t, ok := s.store.(tailer); ok {
		err = t.Tail(Bucket, k, collect)
	} else {
		err = s.store.List(Bucket, collect)
	}
	if err != nil {
		return nil, fmt.Errorf("read recent decisions: %w", err)
	}

	sort.SliceStable(recs, func(i, j int) bool {
		return recs[i].Time.Before(recs[j].Time)
	})
	if len(recs) > k {
		recs = recs[len(recs)-k:]
	}
	return recs, nil
}

// Get finds a record by its id.
func (s *Store) Get(id string) (controller.DecisionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var found controller.DecisionRecord
	err := s.store.List(Bucket, func(_ string, v []byte) error {
		var r controller.DecisionRecord
		if err := json.Unmarshal(v, &r); err == nil && r.ID == id {
			found = r
			return errFound
		}
		return nil
	})
	switch {
	case errors.Is(err, errFound):
		return found, nil
	case err != nil:
		return found, err
	default:
		return found, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
}
