package scan

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.etcd.io/bbolt"

	"github.com/zombor/invoice-scanner/internal/auth"
)

const (
	scanBucketName = "scans"
	userBucketName = "users"
)

// ErrNotFound is returned when a scan does not exist
var ErrNotFound = errors.New("scan not found")

// DB defines the interface for database operations. Users live in the same
// store as scans.
type DB interface {
	auth.UserStore

	// SaveScan saves a scan to the database
	SaveScan(ctx context.Context, scan *Scan) error

	// GetScan retrieves a scan by ID
	GetScan(ctx context.Context, id string) (*Scan, error)

	// ListScans returns matching scans, newest first
	ListScans(ctx context.Context, filter Filter) ([]*Scan, error)

	// DeleteScan removes a scan from the database
	DeleteScan(ctx context.Context, id string) error

	// Close closes the database connection
	Close() error
}

// BoltDB implements the DB interface using BoltDB
type BoltDB struct {
	db *bbolt.DB
}

// NewBoltDB creates a new BoltDB instance
func NewBoltDB(path string) (*BoltDB, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening boltdb: %w", err)
	}

	// Create buckets if they don't exist
	err = db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists([]byte(scanBucketName)); err != nil {
			return err
		}
		if _, err := tx.CreateBucketIfNotExists([]byte(userBucketName)); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating buckets: %w", err)
	}

	return &BoltDB{db: db}, nil
}

// SaveScan saves a scan to the database
func (b *BoltDB) SaveScan(ctx context.Context, scan *Scan) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(scanBucketName))
		data, err := json.Marshal(scan)
		if err != nil {
			return fmt.Errorf("marshaling scan: %w", err)
		}
		return bucket.Put([]byte(scan.ID), data)
	})
}

// GetScan retrieves a scan by ID
func (b *BoltDB) GetScan(ctx context.Context, id string) (*Scan, error) {
	var scan *Scan
	err := b.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(scanBucketName))
		data := bucket.Get([]byte(id))
		if data == nil {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return json.Unmarshal(data, &scan)
	})
	if err != nil {
		return nil, err
	}
	return scan, nil
}

// ListScans returns the scans matching filter, newest first
func (b *BoltDB) ListScans(ctx context.Context, filter Filter) ([]*Scan, error) {
	scans := make([]*Scan, 0)
	err := b.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(scanBucketName))
		return bucket.ForEach(func(k, v []byte) error {
			var scan Scan
			if err := json.Unmarshal(v, &scan); err != nil {
				return fmt.Errorf("unmarshaling scan: %w", err)
			}
			if filter.Matches(&scan) {
				scans = append(scans, &scan)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	sort.SliceStable(scans, func(i, j int) bool {
		return scans[i].CreatedAt.After(scans[j].CreatedAt)
	})
	return scans, nil
}

// DeleteScan removes a scan from the database
func (b *BoltDB) DeleteScan(ctx context.Context, id string) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(scanBucketName))
		return bucket.Delete([]byte(id))
	})
}

// CreateUser stores a new user keyed by email
func (b *BoltDB) CreateUser(ctx context.Context, user *auth.User) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(userBucketName))
		if bucket.Get([]byte(user.Email)) != nil {
			return auth.ErrUserExists
		}
		data, err := json.Marshal(user)
		if err != nil {
			return fmt.Errorf("marshaling user: %w", err)
		}
		return bucket.Put([]byte(user.Email), data)
	})
}

// GetUserByEmail retrieves a user by email
func (b *BoltDB) GetUserByEmail(ctx context.Context, email string) (*auth.User, error) {
	var user *auth.User
	err := b.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(userBucketName))
		data := bucket.Get([]byte(email))
		if data == nil {
			return auth.ErrUserNotFound
		}
		return json.Unmarshal(data, &user)
	})
	if err != nil {
		return nil, err
	}
	return user, nil
}

// Close closes the database connection
func (b *BoltDB) Close() error {
	return b.db.Close()
}

// Matches reports whether scan passes the filter
func (f Filter) Matches(scan *Scan) bool {
	if f.UserID != "" && scan.UserID != f.UserID {
		return false
	}
	query := strings.ToLower(strings.TrimSpace(f.Query))
	if query == "" {
		return true
	}
	candidates := []string{scan.ExtractedText}
	if scan.TaxID != nil {
		candidates = append(candidates, *scan.TaxID)
	}
	if scan.Date != nil {
		candidates = append(candidates, *scan.Date)
	}
	for _, c := range candidates {
		if strings.Contains(strings.ToLower(c), query) {
			return true
		}
	}
	return false
}
