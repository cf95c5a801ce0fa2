package lsm

import (
	"github.com/dd0wney/cluso-kv/pkg/logging"
	"github.com/dd0wney/cluso-kv/pkg/workers"
)

// PutTask dispatches Put onto the worker pool. Returns
// workers.ErrPoolClosed if the store is shutting down; the write itself is
// fire-and-forget, failures are logged.
func (s *Store) PutTask(key int64, value []byte, toCache bool) error {
	return s.pool.Submit(func() {
		if err := s.Put(key, value, toCache); err != nil {
			s.logger.Error("async put failed",
				logging.Int64("key", key), logging.Error(err))
		}
	})
}

// GetTask dispatches Get onto the worker pool and returns a future for the
// result. The future resolves to nil for absent or tombstoned keys.
func (s *Store) GetTask(key int64) (*workers.Future[[]byte], error) {
	fut := workers.NewFuture[[]byte]()
	if err := s.pool.Submit(func() {
		val, _ := s.Get(key)
		fut.Resolve(val)
	}); err != nil {
		return nil, err
	}
	return fut, nil
}

// DelTask dispatches Del onto the worker pool.
func (s *Store) DelTask(key int64, toCache bool) error {
	return s.pool.Submit(func() {
		if err := s.Del(key, toCache); err != nil {
			s.logger.Error("async del failed",
				logging.Int64("key", key), logging.Error(err))
		}
	})
}
