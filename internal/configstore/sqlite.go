package configstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// configEntry is the single table shared by the SQL backends.
type configEntry struct {
	Key       string    `gorm:"column:config_key;primaryKey;size:255"`
	Value     string    `gorm:"column:value;type:text;not null"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (configEntry) TableName() string { return "config_entries" }

type sqliteKV struct {
	db   *gorm.DB
	path string
}

// OpenSQLite opens (or creates) the embedded database at path. ":memory:" and
// "file::memory:" DSNs are passed through untouched.
func OpenSQLite(path string) (KV, error) {
	if !strings.Contains(path, ":memory:") {
		if dir := filepath.Dir(path); dir != "" {
			if err := os.MkdirAll(dir, 0o750); err != nil {
				return nil, fmt.Errorf("create sqlite dir: %w", err)
			}
		}
	}
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.AutoMigrate(&configEntry{}); err != nil {
		return nil, fmt.Errorf("migrate sqlite: %w", err)
	}
	return &sqliteKV{db: db, path: path}, nil
}

func (s *sqliteKV) Get(ctx context.Context, key string) (string, bool, error) {
	var entry configEntry
	err := s.db.WithContext(ctx).Where("config_key = ?", key).Take(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("sqlite get %s: %w", key, err)
	}
	return entry.Value, true, nil
}

func (s *sqliteKV) Set(ctx context.Context, key, value string) error {
	entry := configEntry{Key: key, Value: value, UpdatedAt: time.Now().UTC()}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "config_key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&entry).Error
	if err != nil {
		return fmt.Errorf("sqlite set %s: %w", key, err)
	}
	return nil
}

func (s *sqliteKV) Delete(ctx context.Context, key string) error {
	if err := s.db.WithContext(ctx).Where("config_key = ?", key).Delete(&configEntry{}).Error; err != nil {
		return fmt.Errorf("sqlite delete %s: %w", key, err)
	}
	return nil
}

func (s *sqliteKV) List(ctx context.Context, prefix string) (map[string]string, error) {
	var entries []configEntry
	err := s.db.WithContext(ctx).
		Where(`config_key LIKE ? ESCAPE '\'`, escapeLike(prefix)+"%").
		Find(&entries).Error
	if err != nil {
		return nil, fmt.Errorf("sqlite list %s: %w", prefix, err)
	}
	out := make(map[string]string, len(entries))
	for _, e := range entries {
		out[e.Key] = e.Value
	}
	return out, nil
}

func (s *sqliteKV) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (s *sqliteKV) Backend() string { return "sqlite" }

func (s *sqliteKV) Location() string { return s.path }

func (s *sqliteKV) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
