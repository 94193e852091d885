package backlog

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/backlogged/backlogged/internal/platforms"
	"github.com/gabriel-vasile/mimetype"
	"github.com/go-playground/validator/v10"
)

const (
	// PlatformChoiceTag names the validator rule accepting "<id>,<name>" platform choices.
	PlatformChoiceTag = "platform_choice"

	MaxNameLength      = 1024
	MaxCompaniesLength = 1024
	MaxSummaryLength   = 3000
	MaxSearchLength    = 1024
	MaxCoverBytes      = 5 << 20

	fieldUpdateMode = "update_mode"
	fieldPlatform   = "platform"
	fieldNowPlaying = "now_playing"
	fieldCover      = "cover"
	fieldSortOption = "sort_option"
	fieldQuery      = "query"

	messageRequired      = "This field is required."
	messageInvalidChoice = "Select a valid choice."
	messageInvalidImage  = "Upload a valid image."
	messageInvalidValue  = "Enter a valid value."
)

var (
	formValidator     *validator.Validate
	formValidatorOnce sync.Once
)

// UpdateForm is the game-info form posted for an official or custom game.
type UpdateForm struct {
	UpdateMode string `form:"update_mode" validate:"omitempty,oneof=add move change_platform platform_update edit_custom remove"`
	Platform   string `form:"platform" validate:"omitempty,platform_choice"`
	NowPlaying string `form:"now_playing"`
}

// ValidUpdate is an UpdateForm that passed validation.
type ValidUpdate struct {
	Mode       UpdateMode
	Platform   platforms.Canonical
	NowPlaying bool
}

// CustomGameForm carries user supplied details of a game missing from the metadata source.
type CustomGameForm struct {
	GameName          string `form:"game_name" validate:"required,max=1024"`
	Platform          string `form:"platform" validate:"required,platform_choice"`
	InvolvedCompanies string `form:"involved_companies" validate:"max=1024"`
	Summary           string `form:"summary" validate:"max=3000"`
	NowPlaying        string `form:"now_playing"`
	Cover             []byte `form:"cover" validate:"omitempty,max=5242880"`
}

// ValidCustomGame is a CustomGameForm that passed validation.
type ValidCustomGame struct {
	GameName          string
	Platform          platforms.Canonical
	InvolvedCompanies string
	Summary           string
	NowPlaying        bool
	Cover             []byte
	CoverContentType  string
}

// FormConfig carries the choices and limits a form is validated against. Callers gather the
// platform choices (from the metadata source or the session) before validating. An empty
// choice list accepts no platform.
type FormConfig struct {
	PlatformChoices []platforms.Canonical
	NumNowPlaying   int
	NowPlayingLimit int
}

func (c FormConfig) nowPlayingFull() bool {
	return c.NowPlayingLimit > 0 && c.NumNowPlaying >= c.NowPlayingLimit
}

func (c FormConfig) nowPlayingMessage() string {
	return fmt.Sprintf("You can only have %d games in Now Playing.", c.NowPlayingLimit)
}

func (c FormConfig) allows(choice platforms.Canonical) bool {
	return platforms.Contains(c.PlatformChoices, choice)
}

// parseCheckbox reads an HTML checkbox value. An absent box posts nothing and a checked one
// posts "on" unless the form sets its own value.
func parseCheckbox(value string) (bool, bool) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", "0", "f", "false", "off":
		return false, true
	case "1", "t", "true", "on":
		return true, true
	default:
		return false, false
	}
}

// ValidPlatformChoice is the validator function behind PlatformChoiceTag.
func ValidPlatformChoice(field validator.FieldLevel) bool {
	_, err := platforms.ParseChoice(field.Field().String())
	return err == nil
}

// ValidateUpdate checks an update form against cfg. It never touches storage.
func ValidateUpdate(form UpdateForm, cfg FormConfig) (ValidUpdate, error) {
	validation := &ValidationError{}
	collectStructErrors(validation, form)

	mode := UpdateMode(form.UpdateMode)
	nowPlaying, ok := parseCheckbox(form.NowPlaying)
	if !ok {
		validation.add(fieldNowPlaying, messageInvalidValue)
	}
	valid := ValidUpdate{Mode: mode, NowPlaying: nowPlaying}

	if mode == ModeAdd || mode == ModePlatformUpdate {
		if strings.TrimSpace(form.Platform) == "" {
			validation.add(fieldPlatform, messageRequired)
		} else if choice, err := platforms.ParseChoice(form.Platform); err == nil {
			if cfg.allows(choice) {
				valid.Platform = choice
			} else {
				validation.add(fieldPlatform, messageInvalidChoice)
			}
		}
	}
	if mode == ModeAdd && nowPlaying && cfg.nowPlayingFull() {
		validation.add(fieldNowPlaying, cfg.nowPlayingMessage())
	}

	if err := validation.orNil(); err != nil {
		return ValidUpdate{}, err
	}
	return valid, nil
}

// ValidateCustom checks a custom game form against cfg and sniffs the optional cover upload.
func ValidateCustom(form CustomGameForm, cfg FormConfig) (ValidCustomGame, error) {
	form.GameName = strings.TrimSpace(form.GameName)
	form.InvolvedCompanies = strings.TrimSpace(form.InvolvedCompanies)
	form.Summary = strings.TrimSpace(form.Summary)

	validation := &ValidationError{}
	collectStructErrors(validation, form)

	nowPlaying, ok := parseCheckbox(form.NowPlaying)
	if !ok {
		validation.add(fieldNowPlaying, messageInvalidValue)
	}
	valid := ValidCustomGame{
		GameName:          form.GameName,
		InvolvedCompanies: form.InvolvedCompanies,
		Summary:           form.Summary,
		NowPlaying:        nowPlaying,
	}
	if choice, err := platforms.ParseChoice(form.Platform); err == nil {
		if cfg.allows(choice) {
			valid.Platform = choice
		} else {
			validation.add(fieldPlatform, messageInvalidChoice)
		}
	}
	if nowPlaying && cfg.nowPlayingFull() {
		validation.add(fieldNowPlaying, cfg.nowPlayingMessage())
	}
	if len(form.Cover) > 0 {
		detected := mimetype.Detect(form.Cover)
		if !strings.HasPrefix(detected.String(), "image/") {
			validation.add(fieldCover, messageInvalidImage)
		} else {
			valid.Cover = form.Cover
			valid.CoverContentType = detected.String()
		}
	}

	if err := validation.orNil(); err != nil {
		return ValidCustomGame{}, err
	}
	return valid, nil
}

func collectStructErrors(validation *ValidationError, form any) {
	err := formValidatorInstance().Struct(form)
	if err == nil {
		return
	}
	var fieldErrors validator.ValidationErrors
	if !errors.As(err, &fieldErrors) {
		validation.add("form", err.Error())
		return
	}
	for _, fieldErr := range fieldErrors {
		validation.add(fieldErr.Field(), messageFor(fieldErr))
	}
}

func messageFor(fieldErr validator.FieldError) string {
	switch fieldErr.Tag() {
	case "required":
		return messageRequired
	case "max":
		if fieldErr.Kind() == reflect.Slice {
			return "The uploaded file is too large."
		}
		return fmt.Sprintf("Ensure this value has at most %s characters.", fieldErr.Param())
	case "oneof", PlatformChoiceTag:
		return messageInvalidChoice
	default:
		return messageInvalidValue
	}
}

func formValidatorInstance() *validator.Validate {
	formValidatorOnce.Do(func() {
		instance := validator.New(validator.WithRequiredStructEnabled())
		instance.RegisterTagNameFunc(func(field reflect.StructField) string {
			name, _, _ := strings.Cut(field.Tag.Get("form"), ",")
			if name == "" || name == "-" {
				return field.Name
			}
			return name
		})
		if err := instance.RegisterValidation(PlatformChoiceTag, ValidPlatformChoice); err != nil {
			panic(err)
		}
		formValidator = instance
	})
	return formValidator
}
