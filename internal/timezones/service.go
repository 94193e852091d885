package timezones

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	_ "time/tzdata"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// FallbackTimezone is used when no locator is configured.
const FallbackTimezone = "UTC"

var (
	// ErrInvalidTimezone indicates a name unknown to the time zone database.
	ErrInvalidTimezone = errors.New("timezones: invalid time zone")

	errMissingDatabase = errors.New("database handle is required")
	errMissingUserID   = errors.New("user identifier is required")
	noOpLogger         = zap.NewNop()
)

const (
	opServiceNew = "timezones.service.new"
	opResolve    = "timezones.resolve"
	opUpdate     = "timezones.update"
)

type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

func (e *ServiceError) Code() string {
	return e.code
}

func newServiceError(operation, reason string, cause error) error {
	return &ServiceError{code: fmt.Sprintf("%s.%s", operation, reason), err: cause}
}

// UserTimezone stores the time zone a user's dates are computed in.
type UserTimezone struct {
	UserID   string `gorm:"column:user_id;primaryKey;size:190"`
	Timezone string `gorm:"column:timezone;size:64;not null"`
}

// TableName provides the explicit table binding for GORM.
func (UserTimezone) TableName() string {
	return "user_timezones"
}

// Locator resolves a client IP to a time zone name.
type Locator interface {
	Timezone(ctx context.Context, ip string) (string, error)
}

type ServiceConfig struct {
	Database *gorm.DB
	Locator  Locator
	Clock    func() time.Time
	Logger   *zap.Logger
}

// Service manages user time zones. A missing time zone is created from the client IP on first use.
type Service struct {
	db      *gorm.DB
	locator Locator
	clock   func() time.Time
	logger  *zap.Logger
}

func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opServiceNew, "missing_database", errMissingDatabase)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Service{db: cfg.Database, locator: cfg.Locator, clock: clock, logger: logger}, nil
}

// Get returns the stored time zone, if any.
func (s *Service) Get(ctx context.Context, userID string) (string, bool, error) {
	var record UserTimezone
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return record.Timezone, true, nil
}

// Resolve returns the user's time zone, creating it from the geolocation of clientIP when absent.
// Locator failures propagate unchanged.
func (s *Service) Resolve(ctx context.Context, userID, clientIP string) (string, error) {
	if userID == "" {
		return "", newServiceError(opResolve, "missing_user_id", errMissingUserID)
	}
	stored, ok, err := s.Get(ctx, userID)
	if err != nil {
		s.logError(opResolve, "select_failed", err, zap.String("user_id", userID))
		return "", newServiceError(opResolve, "select_failed", err)
	}
	if ok {
		return stored, nil
	}

	timezone := FallbackTimezone
	if s.locator != nil {
		located, err := s.locator.Timezone(ctx, clientIP)
		if err != nil {
			s.logError(opResolve, "lookup_failed", err, zap.String("user_id", userID))
			return "", err
		}
		if _, err := time.LoadLocation(located); err != nil {
			s.logError(opResolve, "lookup_invalid", err, zap.String("user_id", userID), zap.String("timezone", located))
			return "", newServiceError(opResolve, "lookup_invalid", ErrInvalidTimezone)
		}
		timezone = located
	}

	record := UserTimezone{UserID: userID, Timezone: timezone}
	if err := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&record).Error; err != nil {
		s.logError(opResolve, "insert_failed", err, zap.String("user_id", userID))
		return "", newServiceError(opResolve, "insert_failed", err)
	}
	return timezone, nil
}

// LocalDate is the current calendar date in the user's time zone.
func (s *Service) LocalDate(ctx context.Context, userID, clientIP string) (time.Time, error) {
	timezone, err := s.Resolve(ctx, userID, clientIP)
	if err != nil {
		return time.Time{}, err
	}
	location, err := time.LoadLocation(timezone)
	if err != nil {
		return time.Time{}, newServiceError(opResolve, "stored_invalid", ErrInvalidTimezone)
	}
	year, month, day := s.clock().In(location).Date()
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC), nil
}

// Update replaces the user's time zone after checking the name.
func (s *Service) Update(ctx context.Context, userID, timezone string) error {
	if userID == "" {
		return newServiceError(opUpdate, "missing_user_id", errMissingUserID)
	}
	timezone = strings.TrimSpace(timezone)
	if timezone == "" || strings.EqualFold(timezone, "local") {
		return newServiceError(opUpdate, "invalid_timezone", ErrInvalidTimezone)
	}
	if _, err := time.LoadLocation(timezone); err != nil {
		return newServiceError(opUpdate, "invalid_timezone", ErrInvalidTimezone)
	}

	record := UserTimezone{UserID: userID, Timezone: timezone}
	if err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"timezone"}),
	}).Create(&record).Error; err != nil {
		s.logError(opUpdate, "upsert_failed", err, zap.String("user_id", userID))
		return newServiceError(opUpdate, "upsert_failed", err)
	}
	return nil
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.logger.Error("timezones service error", attrs...)
}
