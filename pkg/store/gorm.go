package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"cardscan/models"
)

// GormStore keeps the service data in Postgres.
type GormStore struct {
	db *gorm.DB
}

// GormConfig configures OpenGorm.
type GormConfig struct {
	DSN         string
	AutoMigrate bool
	// LogSQL enables gorm's statement logger.
	LogSQL bool
}

// OpenGorm connects to Postgres and, when asked, migrates the schema.
// Migration failures are logged per table and do not abort startup, so a
// database user without DDL rights can still run the service.
func OpenGorm(cfg GormConfig) (*GormStore, error) {
	if cfg.DSN == "" {
		return nil, errors.New("empty DSN")
	}
	level := logger.Silent
	if cfg.LogSQL {
		level = logger.Info
	}
	db, err := gorm.Open(postgres.Open(cfg.DSN), &gorm.Config{Logger: logger.Default.LogMode(level)})
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	s := &GormStore{db: db}
	if cfg.AutoMigrate {
		s.Migrate()
	}
	return s, nil
}

// NewGormStore wraps an existing connection.
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

// DB exposes the connection for maintenance tools.
func (s *GormStore) DB() *gorm.DB {
	return s.db
}

// Migrate creates or updates the tables. Roles go first so users can reference them.
func (s *GormStore) Migrate() {
	for _, m := range []struct {
		table string
		model interface{}
	}{
		{"roles", &models.Role{}},
		{"users", &models.User{}},
		{"sessions", &models.Session{}},
		{"scans", &models.Scan{}},
		{"records", &models.Record{}},
		{"refresh_tokens", &models.RefreshToken{}},
	} {
		if err := s.db.AutoMigrate(m.model); err != nil {
			log.Warn().Err(err).Str("component", "store").Str("table", m.table).Msg("migration warning")
		}
	}
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}

func (s *GormStore) EnsureRole(ctx context.Context, name, description string) (*models.Role, error) {
	role := models.Role{Name: name, Description: description}
	if err := s.db.WithContext(ctx).Where("name = ?", name).FirstOrCreate(&role).Error; err != nil {
		return nil, fmt.Errorf("ensure role %s: %w", name, err)
	}
	return &role, nil
}

func (s *GormStore) RoleByID(ctx context.Context, id uint) (*models.Role, error) {
	var r models.Role
	if err := s.db.WithContext(ctx).First(&r, id).Error; err != nil {
		return nil, notFound(err)
	}
	return &r, nil
}

func (s *GormStore) CreateUser(ctx context.Context, u *models.User) error {
	var n int64
	s.db.WithContext(ctx).Model(&models.User{}).Where("username = ?", u.Username).Count(&n)
	if n > 0 {
		return ErrExists
	}
	if err := s.db.WithContext(ctx).Omit("Role").Create(u).Error; err != nil {
		if isUniqueConstraintError(err) { // lost a race after the count
			return ErrExists
		}
		return err
	}
	return nil
}

func (s *GormStore) UserByUsername(ctx context.Context, username string) (*models.User, error) {
	var u models.User
	if err := s.db.WithContext(ctx).Where("username = ?", username).First(&u).Error; err != nil {
		return nil, notFound(err)
	}
	return &u, nil
}

func (s *GormStore) UserByID(ctx context.Context, id uint) (*models.User, error) {
	var u models.User
	if err := s.db.WithContext(ctx).First(&u, id).Error; err != nil {
		return nil, notFound(err)
	}
	return &u, nil
}

func (s *GormStore) UpdatePassword(ctx context.Context, userID uint, hash []byte) error {
	res := s.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", userID).Update("hashed_password", hash)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *GormStore) CreateRefreshToken(ctx context.Context, rt *models.RefreshToken) error {
	if err := s.db.WithContext(ctx).Create(rt).Error; err != nil {
		if isUniqueConstraintError(err) {
			return ErrExists
		}
		return err
	}
	return nil
}

func (s *GormStore) RefreshTokenByHash(ctx context.Context, hash string) (*models.RefreshToken, error) {
	var rt models.RefreshToken
	if err := s.db.WithContext(ctx).Where("token_hash = ?", hash).First(&rt).Error; err != nil {
		return nil, notFound(err)
	}
	return &rt, nil
}

func (s *GormStore) RevokeRefreshToken(ctx context.Context, id uint) error {
	res := s.db.WithContext(ctx).Model(&models.RefreshToken{}).Where("id = ?", id).Update("revoked", true)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *GormStore) CreateSession(ctx context.Context, sess *models.Session) error {
	if err := s.db.WithContext(ctx).Omit("User").Create(sess).Error; err != nil {
		if isUniqueConstraintError(err) {
			return ErrExists
		}
		return err
	}
	return nil
}

func (s *GormStore) SessionByID(ctx context.Context, id string) (*models.Session, error) {
	var sess models.Session
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&sess).Error; err != nil {
		return nil, notFound(err)
	}
	return &sess, nil
}

func (s *GormStore) ListSessions(ctx context.Context, userID uint) ([]models.Session, error) {
	var out []models.Session
	if err := s.db.WithContext(ctx).Where("user_id = ?", userID).Order("created_at desc").Limit(100).Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (s *GormStore) CreateScan(ctx context.Context, sc *models.Scan) error {
	return s.db.WithContext(ctx).Create(sc).Error
}

func (s *GormStore) UpdateScan(ctx context.Context, sc *models.Scan) error {
	return s.db.WithContext(ctx).Save(sc).Error
}

func (s *GormStore) ScanByID(ctx context.Context, sessionID string, id uint) (*models.Scan, error) {
	var sc models.Scan
	if err := s.db.WithContext(ctx).Where("session_id = ? AND id = ?", sessionID, id).First(&sc).Error; err != nil {
		return nil, notFound(err)
	}
	return &sc, nil
}

func (s *GormStore) ListScans(ctx context.Context, sessionID string) ([]models.Scan, error) {
	var out []models.Scan
	if err := s.db.WithContext(ctx).Where("session_id = ?", sessionID).Order("id desc").Limit(200).Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// AppendRecord retries a few times when a concurrent append in the same
// session took the position first.
func (s *GormStore) AppendRecord(ctx context.Context, sessionID string, r *models.Record) error {
	var err error
	for attempt := 0; attempt < 3; attempt++ {
		err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			var next int
			if err := tx.Model(&models.Record{}).
				Where("session_id = ?", sessionID).
				Select("COALESCE(MAX(position) + 1, 0)").
				Scan(&next).Error; err != nil {
				return err
			}
			r.ID = 0
			r.SessionID = sessionID
			r.Position = next
			return tx.Create(r).Error
		})
		if err == nil || !isUniqueConstraintError(err) {
			return err
		}
	}
	return err
}

func (s *GormStore) ListRecords(ctx context.Context, sessionID string) ([]models.Record, error) {
	var out []models.Record
	if err := s.db.WithContext(ctx).Where("session_id = ?", sessionID).Order("position asc").Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (s *GormStore) UpdateRecord(ctx context.Context, sessionID string, pos int, first, last string) (*models.Record, error) {
	var r models.Record
	if err := s.db.WithContext(ctx).Where("session_id = ? AND position = ?", sessionID, pos).First(&r).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrOutOfRange
		}
		return nil, err
	}
	r.FirstName = first
	r.LastName = last
	if err := s.db.WithContext(ctx).Save(&r).Error; err != nil {
		return nil, err
	}
	return &r, nil
}

// DeleteRecord shifts later rows through negative positions so the
// (session_id, position) unique index never sees two equal rows mid-update.
func (s *GormStore) DeleteRecord(ctx context.Context, sessionID string, pos int) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("session_id = ? AND position = ?", sessionID, pos).Delete(&models.Record{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrOutOfRange
		}
		if err := tx.Model(&models.Record{}).
			Where("session_id = ? AND position > ?", sessionID, pos).
			Update("position", gorm.Expr("-position")).Error; err != nil {
			return err
		}
		return tx.Model(&models.Record{}).
			Where("session_id = ? AND position < 0", sessionID).
			Update("position", gorm.Expr("-position - 1")).Error
	})
}

func (s *GormStore) ReplaceRecords(ctx context.Context, sessionID string, rows []models.Record) ([]models.Record, error) {
	out := make([]models.Record, len(rows))
	for i, r := range rows {
		out[i] = models.Record{SessionID: sessionID, Position: i, FirstName: r.FirstName, LastName: r.LastName, ScanID: r.ScanID}
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("session_id = ?", sessionID).Delete(&models.Record{}).Error; err != nil {
			return err
		}
		if err := tx.Model(&models.Scan{}).
			Where("session_id = ? AND record_id IS NOT NULL", sessionID).
			Update("record_id", nil).Error; err != nil {
			return err
		}
		if len(out) == 0 {
			return nil
		}
		if err := tx.Create(&out).Error; err != nil {
			return err
		}
		for i := range out {
			if out[i].ScanID == nil {
				continue
			}
			if err := tx.Model(&models.Scan{}).
				Where("id = ? AND session_id = ?", *out[i].ScanID, sessionID).
				Update("record_id", out[i].ID).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *GormStore) ClearRecords(ctx context.Context, sessionID string) error {
	return s.db.WithContext(ctx).Where("session_id = ?", sessionID).Delete(&models.Record{}).Error
}

func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
