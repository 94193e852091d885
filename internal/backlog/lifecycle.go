package backlog

import (
	"context"
	"errors"
	"time"

	"github.com/backlogged/backlogged/internal/platforms"
	"go.uber.org/zap"
)

// UpdateMode is the intent of a game-info form submission.
type UpdateMode string

const (
	ModeNone           UpdateMode = ""
	ModeAdd            UpdateMode = "add"
	ModeMove           UpdateMode = "move"
	ModeChangePlatform UpdateMode = "change_platform"
	ModePlatformUpdate UpdateMode = "platform_update"
	ModeEditCustom     UpdateMode = "edit_custom"
	ModeRemove         UpdateMode = "remove"
)

// ActionKind tells the HTTP layer where to send the user after an update.
type ActionKind string

const (
	ActionRedirectBacklog    ActionKind = "redirect_backlog"
	ActionRedirectGameInfo   ActionKind = "redirect_game_info"
	ActionRedirectEditCustom ActionKind = "redirect_edit_custom"
)

// FlagChangingPlatform is the one-shot flag asking the next game-info render for the platform sub-form.
const FlagChangingPlatform = "changing_platform"

// Action is the outcome of Apply.
type Action struct {
	Kind   ActionKind `json:"kind"`
	GameID string     `json:"game_id"`
}

// GameRef identifies the game a form was posted for.
type GameRef struct {
	GameID   string
	GameName string
	CoverURL string
}

// UpdateRequest is one submission of the game-info form. Today is the user's local date and
// falls back to the lifecycle clock when zero.
type UpdateRequest struct {
	Game  GameRef
	Form  UpdateForm
	Today time.Time
}

// FlagSetter raises one-shot session flags.
type FlagSetter interface {
	SetFlag(ctx context.Context, userID, key string) error
}

// LifecycleConfig wires a Lifecycle.
type LifecycleConfig struct {
	Repository      *Repository
	Flags           FlagSetter
	IDProvider      IDProvider
	Clock           func() time.Time
	NowPlayingLimit int
	Logger          *zap.Logger
}

// Lifecycle creates, updates and deletes backlog entries. Every call mutates at most one entry
// and its custom detail.
type Lifecycle struct {
	repository      *Repository
	flags           FlagSetter
	idProvider      IDProvider
	clock           func() time.Time
	nowPlayingLimit int
	logger          *zap.Logger
}

// NewLifecycle validates the configuration.
func NewLifecycle(cfg LifecycleConfig) (*Lifecycle, error) {
	if cfg.Repository == nil {
		return nil, newServiceError(opServiceNew, "missing_repository", errMissingRepository)
	}
	if cfg.Flags == nil {
		return nil, newServiceError(opServiceNew, "missing_flag_store", errMissingFlagStore)
	}
	if cfg.IDProvider == nil {
		return nil, newServiceError(opServiceNew, "missing_id_provider", errMissingIDProvider)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Lifecycle{
		repository:      cfg.Repository,
		flags:           cfg.Flags,
		idProvider:      cfg.IDProvider,
		clock:           clock,
		nowPlayingLimit: cfg.NowPlayingLimit,
		logger:          logger,
	}, nil
}

// FormConfig completes the caller's platform choices with the user's Now Playing count and limit.
func (l *Lifecycle) FormConfig(ctx context.Context, userID string, choices []platforms.Canonical) (FormConfig, error) {
	count, err := l.repository.CountNowPlaying(ctx, userID)
	if err != nil {
		logError(l.logger, opApply, "count_failed", err, zap.String("user_id", userID))
		return FormConfig{}, newServiceError(opApply, "count_failed", err)
	}
	return FormConfig{
		PlatformChoices: choices,
		NumNowPlaying:   count,
		NowPlayingLimit: l.nowPlayingLimit,
	}, nil
}

// Apply validates the form and performs the requested mode. Adding a game that is already
// backlogged is ignored. Every other mode requires the entry to exist.
func (l *Lifecycle) Apply(ctx context.Context, userID string, request UpdateRequest, cfg FormConfig) (Action, error) {
	if userID == "" {
		return Action{}, newServiceError(opApply, "missing_user_id", errMissingUserID)
	}
	gameID := request.Game.GameID
	stay := Action{Kind: ActionRedirectGameInfo, GameID: gameID}

	entry, err := l.repository.FindByGame(ctx, userID, gameID)
	found := err == nil
	if err != nil && !errors.Is(err, ErrNotFound) {
		logError(l.logger, opApply, "entry_select_failed", err, zap.String("user_id", userID), zap.String("game_id", gameID))
		return Action{}, newServiceError(opApply, "entry_select_failed", err)
	}
	// An add for a game already on the list is dropped before the form is looked at.
	if found && UpdateMode(request.Form.UpdateMode) == ModeAdd {
		return stay, nil
	}

	update, err := ValidateUpdate(request.Form, cfg)
	if err != nil {
		return Action{}, err
	}
	if update.Mode == ModeNone {
		return stay, nil
	}

	if update.Mode == ModeAdd {
		if IsCustomGameID(gameID) {
			return Action{}, fieldError(fieldUpdateMode, messageInvalidChoice)
		}
		if err := l.add(ctx, userID, request, update); err != nil {
			return Action{}, err
		}
		return stay, nil
	}

	if !found {
		return Action{}, newServiceError(opApply, "entry_not_found", ErrNotFound)
	}

	switch update.Mode {
	case ModeMove:
		nowPlaying := !entry.NowPlaying()
		if nowPlaying && cfg.nowPlayingFull() {
			return Action{}, fieldError(fieldUpdateMode, cfg.nowPlayingMessage())
		}
		entry.StatusID, entry.StatusName = StatusFor(nowPlaying)
		if err := l.save(ctx, &entry); err != nil {
			return Action{}, err
		}
		return stay, nil
	case ModeChangePlatform:
		if err := l.flags.SetFlag(ctx, userID, FlagChangingPlatform); err != nil {
			logError(l.logger, opApply, "flag_failed", err, zap.String("user_id", userID))
			return Action{}, newServiceError(opApply, "flag_failed", err)
		}
		return stay, nil
	case ModePlatformUpdate:
		entry.PlatformID = update.Platform.PlatformID
		entry.PlatformName = update.Platform.PlatformName
		if err := l.save(ctx, &entry); err != nil {
			return Action{}, err
		}
		return stay, nil
	case ModeEditCustom:
		if !entry.IsCustom {
			return Action{}, fieldError(fieldUpdateMode, messageInvalidChoice)
		}
		return Action{Kind: ActionRedirectEditCustom, GameID: gameID}, nil
	case ModeRemove:
		if err := l.repository.Delete(ctx, entry); err != nil {
			if errors.Is(err, ErrNotFound) {
				return Action{}, newServiceError(opApply, "entry_not_found", ErrNotFound)
			}
			logError(l.logger, opApply, "entry_delete_failed", err, zap.String("user_id", userID), zap.String("game_id", gameID))
			return Action{}, newServiceError(opApply, "entry_delete_failed", err)
		}
		return Action{Kind: ActionRedirectBacklog}, nil
	}
	return stay, nil
}

func (l *Lifecycle) add(ctx context.Context, userID string, request UpdateRequest, update ValidUpdate) error {
	statusID, statusName := StatusFor(update.NowPlaying)
	entry := Entry{
		UserID:       userID,
		GameID:       request.Game.GameID,
		GameName:     request.Game.GameName,
		CoverURL:     request.Game.CoverURL,
		PlatformID:   update.Platform.PlatformID,
		PlatformName: update.Platform.PlatformName,
		StatusID:     statusID,
		StatusName:   statusName,
		DateAdded:    DateOf(l.today(request.Today)),
	}
	if err := l.repository.Create(ctx, &entry); err != nil {
		logError(l.logger, opApply, "entry_insert_failed", err, zap.String("user_id", userID), zap.String("game_id", entry.GameID))
		return newServiceError(opApply, "entry_insert_failed", err)
	}
	return nil
}

func (l *Lifecycle) save(ctx context.Context, entry *Entry) error {
	if err := l.repository.Save(ctx, entry); err != nil {
		logError(l.logger, opApply, "entry_save_failed", err, zap.String("user_id", entry.UserID), zap.String("game_id", entry.GameID))
		return newServiceError(opApply, "entry_save_failed", err)
	}
	return nil
}

// AddCustom creates a custom game entry and its detail in one transaction.
func (l *Lifecycle) AddCustom(ctx context.Context, userID string, game ValidCustomGame, today time.Time) (Entry, error) {
	if userID == "" {
		return Entry{}, newServiceError(opAddCustom, "missing_user_id", errMissingUserID)
	}
	gameID, err := l.idProvider.NewID()
	if err != nil {
		logError(l.logger, opAddCustom, "id_generation_failed", err, zap.String("user_id", userID))
		return Entry{}, newServiceError(opAddCustom, "id_generation_failed", err)
	}

	statusID, statusName := StatusFor(game.NowPlaying)
	entry := Entry{
		UserID:       userID,
		GameID:       gameID,
		GameName:     game.GameName,
		PlatformID:   game.Platform.PlatformID,
		PlatformName: game.Platform.PlatformName,
		StatusID:     statusID,
		StatusName:   statusName,
		DateAdded:    DateOf(l.today(today)),
		IsCustom:     true,
	}
	detail := CustomGameDetail{
		InvolvedCompanies: game.InvolvedCompanies,
		Summary:           game.Summary,
	}
	if len(game.Cover) > 0 {
		entry.CoverURL = CoverPath(gameID)
		detail.CoverImage = game.Cover
		detail.CoverContentType = game.CoverContentType
	}

	if err := l.repository.CreateCustom(ctx, &entry, &detail); err != nil {
		logError(l.logger, opAddCustom, "entry_insert_failed", err, zap.String("user_id", userID), zap.String("game_id", gameID))
		return Entry{}, newServiceError(opAddCustom, "entry_insert_failed", err)
	}
	return entry, nil
}

// EditCustom replaces the details of an existing custom game. The stored cover is kept unless
// a new one is supplied. Status and date added are not touched.
func (l *Lifecycle) EditCustom(ctx context.Context, userID, gameID string, game ValidCustomGame) (Entry, error) {
	entry, detail, err := l.customEntry(ctx, opEditCustom, userID, gameID)
	if err != nil {
		return Entry{}, err
	}

	entry.GameName = game.GameName
	entry.PlatformID = game.Platform.PlatformID
	entry.PlatformName = game.Platform.PlatformName
	detail.InvolvedCompanies = game.InvolvedCompanies
	detail.Summary = game.Summary
	if len(game.Cover) > 0 {
		entry.CoverURL = CoverPath(gameID)
		detail.CoverImage = game.Cover
		detail.CoverContentType = game.CoverContentType
	}

	if err := l.repository.SaveCustom(ctx, &entry, &detail); err != nil {
		logError(l.logger, opEditCustom, "entry_save_failed", err, zap.String("user_id", userID), zap.String("game_id", gameID))
		return Entry{}, newServiceError(opEditCustom, "entry_save_failed", err)
	}
	return entry, nil
}

// CustomGame loads a custom entry with its detail.
func (l *Lifecycle) CustomGame(ctx context.Context, userID, gameID string) (Entry, CustomGameDetail, error) {
	return l.customEntry(ctx, opEditCustom, userID, gameID)
}

// Cover returns the stored cover image of a custom game and its content type.
func (l *Lifecycle) Cover(ctx context.Context, userID, gameID string) ([]byte, string, error) {
	_, detail, err := l.customEntry(ctx, opCover, userID, gameID)
	if err != nil {
		return nil, "", err
	}
	if len(detail.CoverImage) == 0 {
		return nil, "", newServiceError(opCover, "cover_not_found", ErrNotFound)
	}
	return detail.CoverImage, detail.CoverContentType, nil
}

func (l *Lifecycle) customEntry(ctx context.Context, operation, userID, gameID string) (Entry, CustomGameDetail, error) {
	if userID == "" {
		return Entry{}, CustomGameDetail{}, newServiceError(operation, "missing_user_id", errMissingUserID)
	}
	entry, err := l.repository.FindByGame(ctx, userID, gameID)
	if errors.Is(err, ErrNotFound) {
		return Entry{}, CustomGameDetail{}, newServiceError(operation, "entry_not_found", ErrNotFound)
	}
	if err != nil {
		logError(l.logger, operation, "entry_select_failed", err, zap.String("user_id", userID), zap.String("game_id", gameID))
		return Entry{}, CustomGameDetail{}, newServiceError(operation, "entry_select_failed", err)
	}
	if !entry.IsCustom {
		return Entry{}, CustomGameDetail{}, &ValidationError{Fields: map[string]string{"game_id": errNotCustom.Error()}}
	}
	detail, err := l.repository.CustomDetail(ctx, userID, entry.EntryID)
	if errors.Is(err, ErrNotFound) {
		detail = CustomGameDetail{EntryID: entry.EntryID, UserID: userID}
	} else if err != nil {
		logError(l.logger, operation, "detail_select_failed", err, zap.String("user_id", userID), zap.String("game_id", gameID))
		return Entry{}, CustomGameDetail{}, newServiceError(operation, "detail_select_failed", err)
	}
	return entry, detail, nil
}

func (l *Lifecycle) today(localDate time.Time) time.Time {
	if localDate.IsZero() {
		return l.clock()
	}
	return localDate
}
