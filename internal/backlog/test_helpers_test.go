package backlog

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x02\x00\x00\x00")

type staticIDGenerator struct {
	ids   []string
	index int
}

func (g *staticIDGenerator) NewID() (string, error) {
	if g.index >= len(g.ids) {
		return "", errors.New("exhausted ids")
	}
	id := g.ids[g.index]
	g.index++
	return id, nil
}

type recordingFlags struct {
	raised []string
}

func (f *recordingFlags) SetFlag(_ context.Context, userID, key string) error {
	f.raised = append(f.raised, userID+":"+key)
	return nil
}

func newTestDatabase(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:backlog_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&Entry{}, &CustomGameDetail{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	return db
}

func newTestRepository(t *testing.T) *Repository {
	t.Helper()
	repository, err := NewRepository(newTestDatabase(t))
	if err != nil {
		t.Fatalf("failed to construct repository: %v", err)
	}
	return repository
}

func newTestLifecycle(t *testing.T, repository *Repository, ids ...string) (*Lifecycle, *recordingFlags) {
	t.Helper()
	flags := &recordingFlags{}
	lifecycle, err := NewLifecycle(LifecycleConfig{
		Repository:      repository,
		Flags:           flags,
		IDProvider:      &staticIDGenerator{ids: ids},
		Clock:           func() time.Time { return time.Date(2024, time.March, 9, 18, 30, 0, 0, time.UTC) },
		NowPlayingLimit: 2,
	})
	if err != nil {
		t.Fatalf("failed to construct lifecycle: %v", err)
	}
	return lifecycle, flags
}

type seedEntry struct {
	gameID     string
	name       string
	platformID int
	platform   string
	nowPlaying bool
	added      time.Time
	custom     bool
}

func seedEntries(t *testing.T, repository *Repository, userID string, seeds ...seedEntry) {
	t.Helper()
	for index, seed := range seeds {
		gameID := seed.gameID
		if gameID == "" {
			gameID = fmt.Sprintf("%d", 1000+index)
		}
		platformID, platformName := seed.platformID, seed.platform
		if platformName == "" {
			platformID, platformName = 6, "Microsoft Windows (PC)"
		}
		added := seed.added
		if added.IsZero() {
			added = time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)
		}
		statusID, statusName := StatusFor(seed.nowPlaying)
		entry := Entry{
			UserID:       userID,
			GameID:       gameID,
			GameName:     seed.name,
			PlatformID:   platformID,
			PlatformName: platformName,
			StatusID:     statusID,
			StatusName:   statusName,
			DateAdded:    DateOf(added),
			IsCustom:     seed.custom,
		}
		if err := repository.Create(context.Background(), &entry); err != nil {
			t.Fatalf("failed to seed %q: %v", seed.name, err)
		}
	}
}

func entryNames(entries []Entry) []string {
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		names = append(names, entry.GameName)
	}
	return names
}
