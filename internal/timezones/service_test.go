package timezones

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	"gorm.io/gorm"
)

type stubLocator struct {
	timezone string
	err      error
	calls    int
}

func (l *stubLocator) Timezone(_ context.Context, _ string) (string, error) {
	l.calls++
	return l.timezone, l.err
}

func newTestService(t *testing.T, locator Locator, now time.Time, logger *zap.Logger) *Service {
	t.Helper()
	dsn := fmt.Sprintf("file:timezones_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&UserTimezone{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	service, err := NewService(ServiceConfig{
		Database: db,
		Locator:  locator,
		Clock:    func() time.Time { return now },
		Logger:   logger,
	})
	if err != nil {
		t.Fatalf("failed to construct service: %v", err)
	}
	return service
}

func TestLocalDateCreatesTimezoneLazily(t *testing.T) {
	locator := &stubLocator{timezone: "Pacific/Auckland"}
	now := time.Date(2024, time.June, 30, 15, 0, 0, 0, time.UTC)
	service := newTestService(t, locator, now, nil)
	ctx := context.Background()

	date, err := service.LocalDate(ctx, "user-1", "203.0.113.7")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if date.Month() != time.July || date.Day() != 1 {
		t.Fatalf("expected next calendar day in Auckland, got %v", date)
	}

	if _, err := service.LocalDate(ctx, "user-1", "203.0.113.7"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if locator.calls != 1 {
		t.Fatalf("expected a single lookup, got %d", locator.calls)
	}

	stored, ok, err := service.Get(ctx, "user-1")
	if err != nil || !ok || stored != "Pacific/Auckland" {
		t.Fatalf("unexpected stored timezone %q ok=%v err=%v", stored, ok, err)
	}
}

func TestResolvePropagatesLocatorFailure(t *testing.T) {
	upstream := errors.New("lookup failed")
	core, logs := observer.New(zap.ErrorLevel)
	service := newTestService(t, &stubLocator{err: upstream}, time.Now(), zap.New(core))

	_, err := service.Resolve(context.Background(), "user-1", "203.0.113.7")
	if !errors.Is(err, upstream) {
		t.Fatalf("expected locator error, got %v", err)
	}
	if logs.FilterField(zap.String("reason", "lookup_failed")).Len() != 1 {
		t.Fatalf("expected lookup failure to be logged")
	}
	if _, ok, _ := service.Get(context.Background(), "user-1"); ok {
		t.Fatalf("nothing must be stored after a failed lookup")
	}
}

func TestResolveWithoutLocatorFallsBackToUTC(t *testing.T) {
	service := newTestService(t, nil, time.Now(), nil)

	timezone, err := service.Resolve(context.Background(), "user-1", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if timezone != FallbackTimezone {
		t.Fatalf("unexpected timezone %q", timezone)
	}
}

func TestUpdate(t *testing.T) {
	service := newTestService(t, &stubLocator{timezone: "Europe/Berlin"}, time.Now(), nil)
	ctx := context.Background()

	if _, err := service.Resolve(ctx, "user-1", "203.0.113.7"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := service.Update(ctx, "user-1", "America/New_York"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	stored, _, _ := service.Get(ctx, "user-1")
	if stored != "America/New_York" {
		t.Fatalf("unexpected stored timezone %q", stored)
	}

	for _, invalid := range []string{"", "Mars/Olympus_Mons", "Local"} {
		err := service.Update(ctx, "user-1", invalid)
		if !errors.Is(err, ErrInvalidTimezone) {
			t.Fatalf("expected invalid timezone for %q, got %v", invalid, err)
		}
	}
}
