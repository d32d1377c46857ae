package webapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/cryguy/jshost/internal/core"
)

// storageItem is one localStorage entry.
type storageItem struct {
	ItemKey string `gorm:"primaryKey;column:item_key"`
	Value   string
}

func (storageItem) TableName() string { return "local_storage" }

const storageJS = `
(function() {
	var ls = {
		getItem: function(key) { return JSON.parse(__storageGet(String(key))); },
		setItem: function(key, value) { __storageSet(String(key), String(value)); },
		removeItem: function(key) { __storageRemove(String(key)); },
		clear: function() { __storageClear(); },
		key: function(i) { return JSON.parse(__storageKey(Math.floor(Number(i) || 0))); }
	};
	Object.defineProperty(ls, 'length', { get: function() { return __storageLength(); } });
	globalThis.localStorage = ls;
})();
`

// Storage backs localStorage with a SQLite table.
type Storage struct {
	mu     sync.Mutex
	db     *gorm.DB
	closed bool
}

// NewStorage opens (or creates) the SQLite database at path. ":memory:"
// keeps the data in RAM for the lifetime of the host.
func NewStorage(path string) (*Storage, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("opening storage: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("opening storage: %w", err)
	}
	// A second connection to ":memory:" would see a different database.
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(&storageItem{}); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("migrating storage: %w", err)
	}
	return &Storage{db: db}, nil
}

// Setup registers the localStorage bridge.
func (s *Storage) Setup(rt core.JSRuntime) error {
	funcs := []struct {
		name string
		fn   any
	}{
		{"__storageGet", s.getJSON},
		{"__storageSet", s.Set},
		{"__storageRemove", s.Remove},
		{"__storageClear", s.Clear},
		{"__storageKey", s.keyJSON},
		{"__storageLength", s.Length},
	}
	for _, fn := range funcs {
		if err := rt.RegisterFunc(fn.name, fn.fn); err != nil {
			return fmt.Errorf("registering %s: %w", fn.name, err)
		}
	}
	return rt.Eval(storageJS)
}

func (s *Storage) handle() (*gorm.DB, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, errSubsystemClosed
	}
	return s.db, nil
}

// Get returns the value for key and whether it exists.
func (s *Storage) Get(key string) (string, bool, error) {
	db, err := s.handle()
	if err != nil {
		return "", false, err
	}
	var item storageItem
	err = db.First(&item, "item_key = ?", key).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return item.Value, true, nil
}

// Set stores value under key, replacing any previous value. It returns the
// number of rows written.
func (s *Storage) Set(key, value string) (int, error) {
	db, err := s.handle()
	if err != nil {
		return 0, err
	}
	res := db.Clauses(clause.OnConflict{UpdateAll: true}).
		Create(&storageItem{ItemKey: key, Value: value})
	return int(res.RowsAffected), res.Error
}

// Remove deletes key and returns the number of rows removed.
func (s *Storage) Remove(key string) (int, error) {
	db, err := s.handle()
	if err != nil {
		return 0, err
	}
	res := db.Delete(&storageItem{}, "item_key = ?", key)
	return int(res.RowsAffected), res.Error
}

// Clear deletes every key and returns how many there were.
func (s *Storage) Clear() (int, error) {
	db, err := s.handle()
	if err != nil {
		return 0, err
	}
	res := db.Where("1 = 1").Delete(&storageItem{})
	return int(res.RowsAffected), res.Error
}

// Length returns the number of stored keys.
func (s *Storage) Length() (int, error) {
	db, err := s.handle()
	if err != nil {
		return 0, err
	}
	var n int64
	err = db.Model(&storageItem{}).Count(&n).Error
	return int(n), err
}

// Key returns the i-th key in key order.
func (s *Storage) Key(i int) (string, bool, error) {
	db, err := s.handle()
	if err != nil {
		return "", false, err
	}
	if i < 0 {
		return "", false, nil
	}
	var items []storageItem
	if err := db.Order("item_key").Offset(i).Limit(1).Find(&items).Error; err != nil {
		return "", false, err
	}
	if len(items) == 0 {
		return "", false, nil
	}
	return items[0].ItemKey, true, nil
}

// getJSON and keyJSON encode a missing value as JSON null, since the JS
// wrapper treats a second return value as an error.
func (s *Storage) getJSON(key string) (string, error) {
	v, ok, err := s.Get(key)
	return nullableJSON(v, ok), err
}

func (s *Storage) keyJSON(i int) (string, error) {
	k, ok, err := s.Key(i)
	return nullableJSON(k, ok), err
}

func nullableJSON(v string, ok bool) string {
	if !ok {
		return "null"
	}
	b, _ := json.Marshal(v)
	return string(b)
}

// Close closes the database. It is idempotent.
func (s *Storage) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
