package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
)

var (
	bucketJobs      = []byte("jobs")
	bucketScheduled = []byte("scheduled")
)

// BoltStorage implements Queue using BoltDB. Jobs live in one bucket keyed
// by id; a second bucket is a run-time ordered index so Dequeue is a prefix
// scan, not a full walk.
type BoltStorage struct {
	db *bolt.DB
}

// NewBoltStorage creates a new BoltDB storage
func NewBoltStorage(path string) (*BoltStorage, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}

	db, err := bolt.Open(path, 0600, &bolt.Options{
		Timeout: 5 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketJobs, bucketScheduled} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStorage{db: db}, nil
}

// Enqueue adds a job to the queue
func (s *BoltStorage) Enqueue(ctx context.Context, job *Job) error {
	now := time.Now()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	job.UpdatedAt = now
	job.Status = StatusScheduled

	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(job)
		if err != nil {
			return fmt.Errorf("failed to marshal job: %w", err)
		}
		if err := tx.Bucket(bucketJobs).Put([]byte(job.ID), data); err != nil {
			return fmt.Errorf("failed to store job: %w", err)
		}

		indexKey := makeIndexKey(job.RunAt, job.ID)
		if err := tx.Bucket(bucketScheduled).Put(indexKey, []byte(job.ID)); err != nil {
			return fmt.Errorf("failed to add to scheduled index: %w", err)
		}
		return nil
	})
}

// Dequeue gets the next due job, marking it running
func (s *BoltStorage) Dequeue(ctx context.Context) (*Job, error) {
	var job *Job

	err := s.db.Update(func(tx *bolt.Tx) error {
		jobBucket := tx.Bucket(bucketJobs)
		c := tx.Bucket(bucketScheduled).Cursor()
		now := time.Now()

		for k, v := c.First(); k != nil; k, v = c.Next() {
			ts := parseTimestampFromKey(k)
			if ts.After(now) {
				break // index is run-time ordered, all remaining are future
			}

			data := jobBucket.Get(v)
			if data == nil {
				// Job was deleted, clean up index
				c.Delete()
				continue
			}

			var j Job
			if err := json.Unmarshal(data, &j); err != nil {
				continue
			}

			j.Status = StatusRunning
			j.Attempts++
			j.UpdatedAt = now

			updated, err := json.Marshal(&j)
			if err != nil {
				return err
			}
			if err := jobBucket.Put([]byte(j.ID), updated); err != nil {
				return err
			}
			if err := c.Delete(); err != nil {
				return err
			}

			job = &j
			return nil
		}
		return nil
	})

	return job, err
}

// Update updates the job status
func (s *BoltStorage) Update(ctx context.Context, job *Job) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		job.UpdatedAt = time.Now()

		data, err := json.Marshal(job)
		if err != nil {
			return fmt.Errorf("failed to marshal job: %w", err)
		}
		if err := tx.Bucket(bucketJobs).Put([]byte(job.ID), data); err != nil {
			return fmt.Errorf("failed to update job: %w", err)
		}

		// A rescheduled job goes back into the index
		if job.Status == StatusScheduled {
			indexKey := makeIndexKey(job.RunAt, job.ID)
			if err := tx.Bucket(bucketScheduled).Put(indexKey, []byte(job.ID)); err != nil {
				return fmt.Errorf("failed to add to scheduled index: %w", err)
			}
		}
		return nil
	})
}

// Get retrieves a job by ID
func (s *BoltStorage) Get(ctx context.Context, id string) (*Job, error) {
	var job *Job

	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketJobs).Get([]byte(id))
		if data == nil {
			return nil
		}
		job = &Job{}
		return json.Unmarshal(data, job)
	})

	return job, err
}

// DeleteByCampaign removes any queued jobs for a campaign
func (s *BoltStorage) DeleteByCampaign(ctx context.Context, campaignID string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		jobBucket := tx.Bucket(bucketJobs)
		scheduled := tx.Bucket(bucketScheduled)

		c := jobBucket.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var j Job
			if err := json.Unmarshal(v, &j); err != nil {
				continue
			}
			if j.CampaignID != campaignID {
				continue
			}
			if err := scheduled.Delete(makeIndexKey(j.RunAt, j.ID)); err != nil {
				return err
			}
			if err := c.Delete(); err != nil {
				return err
			}
		}
		return nil
	})
}

// Stats returns queue statistics
func (s *BoltStorage) Stats(ctx context.Context) (*Stats, error) {
	stats := &Stats{}

	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketJobs).Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var j Job
			if err := json.Unmarshal(v, &j); err != nil {
				continue
			}
			stats.Total++
			switch j.Status {
			case StatusScheduled:
				stats.Scheduled++
			case StatusRunning:
				stats.Running++
			case StatusDone:
				stats.Done++
			case StatusFailed:
				stats.Failed++
			}
		}
		return nil
	})

	return stats, err
}

// OldestScheduled returns the run time of the earliest queued job. Zero time
// when the queue is empty.
func (s *BoltStorage) OldestScheduled(ctx context.Context) (time.Time, error) {
	var oldest time.Time
	err := s.db.View(func(tx *bolt.Tx) error {
		k, _ := tx.Bucket(bucketScheduled).Cursor().First()
		if k != nil {
			oldest = parseTimestampFromKey(k)
		}
		return nil
	})
	return oldest, err
}

// Close closes the storage connection
func (s *BoltStorage) Close() error {
	return s.db.Close()
}

// makeIndexKey creates a sortable key from timestamp and ID
func makeIndexKey(t time.Time, id string) []byte {
	return []byte(t.UTC().Format(time.RFC3339Nano) + ":" + id)
}

// parseTimestampFromKey extracts timestamp from index key
func parseTimestampFromKey(key []byte) time.Time {
	s := string(key)
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == ':' {
			ts, _ := time.Parse(time.RFC3339Nano, s[:i])
			return ts
		}
	}
	return time.Time{}
}
