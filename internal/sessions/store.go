package sessions

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const flagValue = "1"

var (
	errMissingDatabase = errors.New("database handle is required")
	errMissingUserID   = errors.New("user identifier is required")
	errMissingKey      = errors.New("state key is required")
	noOpLogger         = zap.NewNop()
)

// State is one piece of per-user transient state. Popped values are deleted on read.
type State struct {
	UserID    string    `gorm:"column:user_id;primaryKey;size:190"`
	Key       string    `gorm:"column:state_key;primaryKey;size:64"`
	Value     string    `gorm:"column:value;type:text;not null"`
	UpdatedAt time.Time `gorm:"column:updated_at;not null"`
}

// TableName provides the explicit table binding for GORM.
func (State) TableName() string {
	return "session_state"
}

type Config struct {
	Database *gorm.DB
	Clock    func() time.Time
	Logger   *zap.Logger
}

// Store keeps one-shot flags and cached request parameters between requests of a user.
type Store struct {
	db     *gorm.DB
	clock  func() time.Time
	logger *zap.Logger
}

func NewStore(cfg Config) (*Store, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("sessions: %w", errMissingDatabase)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Store{db: cfg.Database, clock: clock, logger: logger}, nil
}

// SetFlag raises a one-shot flag.
func (s *Store) SetFlag(ctx context.Context, userID, key string) error {
	return s.Remember(ctx, userID, key, flagValue)
}

// PopFlag reports whether the flag was raised and lowers it.
func (s *Store) PopFlag(ctx context.Context, userID, key string) (bool, error) {
	value, ok, err := s.Recall(ctx, userID, key)
	if err != nil {
		return false, err
	}
	return ok && value == flagValue, nil
}

// Remember stores value under key, replacing any previous value.
func (s *Store) Remember(ctx context.Context, userID, key, value string) error {
	if err := validateKey(userID, key); err != nil {
		return err
	}
	record := State{UserID: userID, Key: key, Value: value, UpdatedAt: s.clock().UTC()}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}, {Name: "state_key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&record).Error
	if err != nil {
		s.logger.Error("session state write failed", zap.String("user_id", userID), zap.String("key", key), zap.Error(err))
		return fmt.Errorf("sessions: remember %s: %w", key, err)
	}
	return nil
}

// Recall returns the value stored under key and deletes it.
func (s *Store) Recall(ctx context.Context, userID, key string) (string, bool, error) {
	if err := validateKey(userID, key); err != nil {
		return "", false, err
	}
	var record State
	found := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Where("user_id = ? AND state_key = ?", userID, key).Take(&record).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		return tx.Where("user_id = ? AND state_key = ?", userID, key).Delete(&State{}).Error
	})
	if err != nil {
		s.logger.Error("session state read failed", zap.String("user_id", userID), zap.String("key", key), zap.Error(err))
		return "", false, fmt.Errorf("sessions: recall %s: %w", key, err)
	}
	if !found {
		return "", false, nil
	}
	return record.Value, true, nil
}

// Lookup returns the value stored under key without clearing it.
func (s *Store) Lookup(ctx context.Context, userID, key string) (string, bool, error) {
	if err := validateKey(userID, key); err != nil {
		return "", false, err
	}
	var record State
	err := s.db.WithContext(ctx).Where("user_id = ? AND state_key = ?", userID, key).Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("sessions: lookup %s: %w", key, err)
	}
	return record.Value, true, nil
}

func validateKey(userID, key string) error {
	if userID == "" {
		return fmt.Errorf("sessions: %w", errMissingUserID)
	}
	if key == "" {
		return fmt.Errorf("sessions: %w", errMissingKey)
	}
	return nil
}
