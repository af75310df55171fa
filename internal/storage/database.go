package storage

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/slicebot/slicebot-backend/internal/models"
)

// DatabaseStore persists sessions with gorm (PostgreSQL in production)
type DatabaseStore struct {
	db *gorm.DB
}

// NewDatabaseStore creates a store on top of an open gorm connection.
// Tables are expected to exist, see database.Migrate.
func NewDatabaseStore(db *gorm.DB) *DatabaseStore {
	return &DatabaseStore{db: db}
}

func (d *DatabaseStore) findSession(ctx context.Context, id models.UserIdentity) (*models.SessionRecord, error) {
	var rec models.SessionRecord
	err := d.db.WithContext(ctx).Where("identity = ?", string(id)).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (d *DatabaseStore) GetState(ctx context.Context, id models.UserIdentity) (string, bool, error) {
	rec, err := d.findSession(ctx, id)
	if err != nil {
		return "", false, unavailable("get state", err)
	}
	if rec == nil || rec.State == "" {
		return "", false, nil
	}
	return rec.State, true, nil
}

func (d *DatabaseStore) SetState(ctx context.Context, id models.UserIdentity, state models.SessionState) error {
	rec := models.SessionRecord{Identity: string(id), State: string(state)}
	err := d.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "identity"}},
		DoUpdates: clause.AssignmentColumns([]string{"state", "updated_at"}),
	}).Create(&rec).Error
	if err != nil {
		return unavailable("set state", err)
	}
	return nil
}

func (d *DatabaseStore) GetContext(ctx context.Context, id models.UserIdentity) (*models.SessionContext, error) {
	rec, err := d.findSession(ctx, id)
	if err != nil {
		return nil, unavailable("get context", err)
	}
	if rec == nil {
		return &models.SessionContext{}, nil
	}
	return decodeContext(id, rec.Context), nil
}

func (d *DatabaseStore) SetContext(ctx context.Context, id models.UserIdentity, sc *models.SessionContext) error {
	raw, err := encodeContext(sc)
	if err != nil {
		return err
	}
	rec := models.SessionRecord{Identity: string(id), Context: raw}
	err = d.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "identity"}},
		DoUpdates: clause.AssignmentColumns([]string{"context", "updated_at"}),
	}).Create(&rec).Error
	if err != nil {
		return unavailable("set context", err)
	}
	return nil
}

func (d *DatabaseStore) SaveSession(ctx context.Context, id models.UserIdentity, state models.SessionState, sc *models.SessionContext) error {
	raw, err := encodeContext(sc)
	if err != nil {
		return err
	}
	rec := models.SessionRecord{Identity: string(id), State: string(state), Context: raw}
	err = d.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "identity"}},
		DoUpdates: clause.AssignmentColumns([]string{"state", "context", "updated_at"}),
	}).Create(&rec).Error
	if err != nil {
		return unavailable("save session", err)
	}
	return nil
}

func (d *DatabaseStore) GetMenu(ctx context.Context, key string) (*models.MenuCacheEntry, error) {
	var rec models.MenuCacheRecord
	err := d.db.WithContext(ctx).Where("cache_key = ?", key).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, unavailable("get menu", err)
	}
	return &models.MenuCacheEntry{
		Key:       rec.Key,
		Payload:   []byte(rec.Payload),
		CreatedAt: rec.CreatedAt,
	}, nil
}

func (d *DatabaseStore) PutMenu(ctx context.Context, entry *models.MenuCacheEntry) error {
	rec := models.MenuCacheRecord{
		Key:       entry.Key,
		Payload:   string(entry.Payload),
		CreatedAt: entry.CreatedAt,
	}
	// created_at is listed explicitly: gorm leaves auto-create columns out of UpdateAll
	err := d.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "cache_key"}},
		DoUpdates: clause.AssignmentColumns([]string{"payload", "created_at"}),
	}).Create(&rec).Error
	if err != nil {
		return unavailable("put menu", err)
	}
	return nil
}

func (d *DatabaseStore) Ping(ctx context.Context) error {
	sqlDB, err := d.db.DB()
	if err != nil {
		return unavailable("ping", err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return unavailable("ping", err)
	}
	return nil
}

func (d *DatabaseStore) Close() error {
	sqlDB, err := d.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
