package bolt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"go.etcd.io/bbolt"

	"github.com/orrn/printq/internal/core"
)

const (
	BucketPending  = "pending_tasks"
	BucketFinished = "finished_tasks"
)

var ErrClosed = errors.New("store is already shutdown")

// Record is the JSON document stored per task.
type Record struct {
	core.TaskSnapshot
	UpdatedAt  time.Time  `json:"updated_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

type Opts struct {
	Path    string
	Timeout time.Duration
	Logger  *slog.Logger
}

func defaultOpts(o *Opts) *Opts {
	def := &Opts{
		Path:    "printq.bolt",
		Timeout: time.Second,
		Logger:  slog.Default(),
	}
	if o == nil {
		return def
	}
	if len(o.Path) > 0 {
		def.Path = o.Path
	}
	if o.Timeout > 0 {
		def.Timeout = o.Timeout
	}
	if o.Logger != nil {
		def.Logger = o.Logger
	}
	return def
}

// Store keeps unfinished tasks in one bucket and finished tasks in another,
// keyed by task ID.
type Store struct {
	mu     sync.RWMutex
	db     *bbolt.DB
	logger *slog.Logger
	now    func() time.Time
}

func Open(opts *Opts) (*Store, error) {
	o := defaultOpts(opts)

	if dir := filepath.Dir(o.Path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create store directory: %w", err)
		}
	}

	db, err := bbolt.Open(o.Path, 0o600, &bbolt.Options{Timeout: o.Timeout})
	if err != nil {
		return nil, fmt.Errorf("failed to open bolt database: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range []string{BucketPending, BucketFinished} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return fmt.Errorf("failed to initialize %s bucket: %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db, logger: o.Logger, now: time.Now}, nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	s.db = nil
	return nil
}

func (s *Store) handle() (*bbolt.DB, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.db == nil {
		return nil, ErrClosed
	}
	return s.db, nil
}

func (s *Store) Save(_ context.Context, snap core.TaskSnapshot) error {
	db, err := s.handle()
	if err != nil {
		return err
	}

	return db.Update(func(tx *bbolt.Tx) error {
		if tx.Bucket([]byte(BucketFinished)).Get([]byte(snap.ID)) != nil {
			return nil
		}
		return putRecord(tx.Bucket([]byte(BucketPending)), &Record{
			TaskSnapshot: snap,
			UpdatedAt:    s.now().UTC(),
		})
	})
}

// LoadPending returns every unfinished task, oldest first.
func (s *Store) LoadPending(_ context.Context) ([]core.TaskSnapshot, error) {
	db, err := s.handle()
	if err != nil {
		return nil, err
	}

	var snaps []core.TaskSnapshot
	err = db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(BucketPending)).ForEach(func(k, v []byte) error {
			r, err := decode(v)
			if err != nil {
				s.logger.With("task_id", string(k)).With("err", err).Warn("skipping unreadable task record")
				return nil
			}
			snaps = append(snaps, r.TaskSnapshot)
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load pending tasks: %w", err)
	}

	sort.SliceStable(snaps, func(i, j int) bool {
		return snaps[i].CreatedAt.Before(snaps[j].CreatedAt)
	})
	return snaps, nil
}

func (s *Store) MarkCompleted(_ context.Context, id string) error {
	return s.finish(id, core.TaskStatusCompleted, "")
}

func (s *Store) MarkFailed(_ context.Context, id string, reason string) error {
	return s.finish(id, core.TaskStatusFailed, reason)
}

func (s *Store) finish(id string, status core.TaskStatus, reason string) error {
	db, err := s.handle()
	if err != nil {
		return err
	}

	return db.Update(func(tx *bbolt.Tx) error {
		pending := tx.Bucket([]byte(BucketPending))
		data := pending.Get([]byte(id))
		if data == nil {
			return fmt.Errorf("task %s: %w", id, core.ErrTaskNotFound)
		}

		r, err := decode(data)
		if err != nil {
			return err
		}
		now := s.now().UTC()
		r.Status = status
		if reason != "" {
			r.LastError = reason
		}
		r.UpdatedAt = now
		r.FinishedAt = &now

		if err := putRecord(tx.Bucket([]byte(BucketFinished)), r); err != nil {
			return err
		}
		if err := pending.Delete([]byte(id)); err != nil {
			return fmt.Errorf("failed to delete pending task: %w", err)
		}
		return nil
	})
}

func (s *Store) Delete(_ context.Context, id string) error {
	db, err := s.handle()
	if err != nil {
		return err
	}

	return db.Update(func(tx *bbolt.Tx) error {
		for _, name := range []string{BucketPending, BucketFinished} {
			if err := tx.Bucket([]byte(name)).Delete([]byte(id)); err != nil {
				return fmt.Errorf("failed to delete task: %w", err)
			}
		}
		return nil
	})
}

func (s *Store) Get(ctx context.Context, id string) (*core.TaskSnapshot, error) {
	r, err := s.GetRecord(ctx, id)
	if err != nil {
		return nil, err
	}
	return &r.TaskSnapshot, nil
}

func (s *Store) GetRecord(_ context.Context, id string) (*Record, error) {
	db, err := s.handle()
	if err != nil {
		return nil, err
	}

	var r *Record
	err = db.View(func(tx *bbolt.Tx) error {
		for _, name := range []string{BucketPending, BucketFinished} {
			if data := tx.Bucket([]byte(name)).Get([]byte(id)); data != nil {
				r, err = decode(data)
				return err
			}
		}
		return fmt.Errorf("task %s: %w", id, core.ErrTaskNotFound)
	})
	return r, err
}

// PruneFinished deletes finished tasks older than before.
func (s *Store) PruneFinished(_ context.Context, before time.Time) (int64, error) {
	db, err := s.handle()
	if err != nil {
		return 0, err
	}

	var pruned int64
	err = db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(BucketFinished))

		var stale [][]byte
		err := bucket.ForEach(func(k, v []byte) error {
			r, err := decode(v)
			if err == nil && r.FinishedAt != nil && !r.FinishedAt.Before(before) {
				return nil
			}
			stale = append(stale, append([]byte(nil), k...))
			return nil
		})
		if err != nil {
			return err
		}

		for _, k := range stale {
			if err := bucket.Delete(k); err != nil {
				return fmt.Errorf("failed to prune task: %w", err)
			}
			pruned++
		}
		return nil
	})
	return pruned, err
}

func putRecord(bucket *bbolt.Bucket, r *Record) error {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("failed to encode task: %w", err)
	}
	if err := bucket.Put([]byte(r.ID), data); err != nil {
		return fmt.Errorf("failed to save task: %w", err)
	}
	return nil
}

func decode(data []byte) (*Record, error) {
	var r Record
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("failed to decode task: %w", err)
	}
	return &r, nil
}
