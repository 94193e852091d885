package backlog

import (
	"context"
	"errors"

	"github.com/backlogged/backlogged/internal/platforms"
	"gorm.io/gorm"
)

// Order selects how List sorts a user's entries. Every order breaks ties by insertion.
type Order string

const (
	OrderDefault    Order = "default"
	OrderAlphabetic Order = "alphabetic"
	OrderDateOldest Order = "date_oldest"
	OrderDateNewest Order = "date_newest"
)

const (
	queryUserID        = "user_id = ?"
	queryUserGame      = "user_id = ? AND game_id = ?"
	queryUserStatus    = "user_id = ? AND status_id = ?"
	queryUserPlatform  = "user_id = ? AND platform_id = ?"
	queryUserEntry     = "user_id = ? AND entry_id = ?"
	orderStatusDefault = "status_id DESC, entry_id ASC"
	orderNameAsc       = "LOWER(game_name) ASC, entry_id ASC"
	orderDateAsc       = "date_added ASC, entry_id ASC"
	orderDateDesc      = "date_added DESC, entry_id DESC"
)

// ListOptions restricts and orders List.
type ListOptions struct {
	UserID     string
	PlatformID *int
	Order      Order
}

// Repository persists backlog entries and their custom game details.
type Repository struct {
	db *gorm.DB
}

// NewRepository wraps a gorm handle.
func NewRepository(db *gorm.DB) (*Repository, error) {
	if db == nil {
		return nil, newServiceError(opServiceNew, "missing_database", errMissingDatabase)
	}
	return &Repository{db: db}, nil
}

// FindByGame returns the user's entry for gameID or ErrNotFound.
func (r *Repository) FindByGame(ctx context.Context, userID, gameID string) (Entry, error) {
	var entry Entry
	err := r.db.WithContext(ctx).Where(queryUserGame, userID, gameID).Take(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Entry{}, ErrNotFound
	}
	if err != nil {
		return Entry{}, err
	}
	return entry, nil
}

// StatusesByGame maps game ids to status ids for the given games the user has backlogged.
func (r *Repository) StatusesByGame(ctx context.Context, userID string, gameIDs []string) (map[string]int, error) {
	statuses := make(map[string]int, len(gameIDs))
	if len(gameIDs) == 0 {
		return statuses, nil
	}
	var entries []Entry
	if err := r.db.WithContext(ctx).
		Select("game_id", "status_id").
		Where("user_id = ? AND game_id IN ?", userID, gameIDs).
		Find(&entries).Error; err != nil {
		return nil, err
	}
	for _, entry := range entries {
		statuses[entry.GameID] = entry.StatusID
	}
	return statuses, nil
}

// List returns the user's entries ordered as requested.
func (r *Repository) List(ctx context.Context, options ListOptions) ([]Entry, error) {
	query := r.db.WithContext(ctx).Where(queryUserID, options.UserID)
	if options.PlatformID != nil {
		query = r.db.WithContext(ctx).Where(queryUserPlatform, options.UserID, *options.PlatformID)
	}
	var entries []Entry
	if err := query.Order(orderClause(options.Order)).Find(&entries).Error; err != nil {
		return nil, err
	}
	return entries, nil
}

// CountNowPlaying counts the user's Now Playing entries.
func (r *Repository) CountNowPlaying(ctx context.Context, userID string) (int, error) {
	var count int64
	if err := r.db.WithContext(ctx).
		Model(&Entry{}).
		Where(queryUserStatus, userID, StatusNowPlaying).
		Count(&count).Error; err != nil {
		return 0, err
	}
	return int(count), nil
}

// UserPlatforms returns the distinct platforms across the user's entries, ordered by name.
func (r *Repository) UserPlatforms(ctx context.Context, userID string) ([]platforms.Canonical, error) {
	var rows []platforms.Canonical
	if err := r.db.WithContext(ctx).
		Model(&Entry{}).
		Distinct("platform_id", "platform_name").
		Where(queryUserID, userID).
		Order("platform_name ASC").
		Scan(&rows).Error; err != nil {
		return nil, err
	}
	platforms.SortByName(rows)
	return rows, nil
}

// Create inserts a new entry.
func (r *Repository) Create(ctx context.Context, entry *Entry) error {
	return r.db.WithContext(ctx).Create(entry).Error
}

// CreateCustom inserts a custom entry and its detail atomically.
func (r *Repository) CreateCustom(ctx context.Context, entry *Entry, detail *CustomGameDetail) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(entry).Error; err != nil {
			return err
		}
		detail.EntryID = entry.EntryID
		detail.UserID = entry.UserID
		return tx.Create(detail).Error
	})
}

// Save persists every column of an existing entry.
func (r *Repository) Save(ctx context.Context, entry *Entry) error {
	return r.db.WithContext(ctx).Save(entry).Error
}

// SaveCustom persists a custom entry and its detail atomically.
func (r *Repository) SaveCustom(ctx context.Context, entry *Entry, detail *CustomGameDetail) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Save(entry).Error; err != nil {
			return err
		}
		detail.EntryID = entry.EntryID
		detail.UserID = entry.UserID
		return tx.Save(detail).Error
	})
}

// Delete removes an entry together with its custom detail, if any.
func (r *Repository) Delete(ctx context.Context, entry Entry) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where(queryUserEntry, entry.UserID, entry.EntryID).Delete(&CustomGameDetail{}).Error; err != nil {
			return err
		}
		result := tx.Where(queryUserEntry, entry.UserID, entry.EntryID).Delete(&Entry{})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return ErrNotFound
		}
		return nil
	})
}

// CustomDetail loads the detail of a custom entry or ErrNotFound.
func (r *Repository) CustomDetail(ctx context.Context, userID string, entryID uint) (CustomGameDetail, error) {
	var detail CustomGameDetail
	err := r.db.WithContext(ctx).Where(queryUserEntry, userID, entryID).Take(&detail).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return CustomGameDetail{}, ErrNotFound
	}
	if err != nil {
		return CustomGameDetail{}, err
	}
	return detail, nil
}

func orderClause(order Order) string {
	switch order {
	case OrderAlphabetic:
		return orderNameAsc
	case OrderDateOldest:
		return orderDateAsc
	case OrderDateNewest:
		return orderDateDesc
	default:
		return orderStatusDefault
	}
}
