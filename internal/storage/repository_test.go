package storage

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/micro-ha/minirack-dashboard/internal/model"
	"github.com/micro-ha/minirack-dashboard/internal/persistence"
)

func newTestRepo(t *testing.T, ctx context.Context) *Repository {
	t.Helper()
	repo, err := New(ctx, filepath.Join(t.TempDir(), "history.db"), slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("open repo: %v", err)
	}
	t.Cleanup(func() { _ = repo.Close() })
	return repo
}

func TestReadHistoryEmpty(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t, ctx)
	if _, err := repo.ReadHistory(ctx); !errors.Is(err, persistence.ErrNoHistory) {
		t.Fatalf("expected ErrNoHistory, got %v", err)
	}
}

func TestWriteReadHistoryRoundTrip(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t, ctx)
	at := time.Date(2026, 3, 1, 10, 0, 0, 500, time.UTC)
	success := at.Add(-time.Minute)

	in := model.History{
		SavedAt: at,
		Networks: map[string]model.NetworkHistory{
			"1001": {
				Name: "Home",
				Series: model.Series{
					ConnectedUsers: []model.Point{
						{Timestamp: at.Add(-time.Hour), Value: 3},
						{Timestamp: at.Add(-30 * time.Minute), Value: 5},
						{Timestamp: at, Value: 4},
					},
					SignalStrengthAvg: []model.Point{{Timestamp: at, Value: -61.5}},
				},
				DeviceCount:          4,
				LastSuccessfulUpdate: &success,
			},
			"2002": {Name: "Office"},
		},
		Combined: model.Series{ConnectedUsers: []model.Point{{Timestamp: at, Value: 4}}},
	}

	if err := repo.WriteHistory(ctx, in); err != nil {
		t.Fatalf("write: %v", err)
	}
	// A second write replaces rather than appends.
	if err := repo.WriteHistory(ctx, in); err != nil {
		t.Fatalf("rewrite: %v", err)
	}

	got, err := repo.ReadHistory(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if diff := cmp.Diff(in, got); diff != "" {
		t.Fatalf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestManagerOverSQLite(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t, ctx)
	m := persistence.NewManager(repo, time.Hour, nil)

	if err := m.Save(ctx, model.History{Networks: map[string]model.NetworkHistory{}}); err != nil {
		t.Fatalf("save: %v", err)
	}
	if _, ok := m.Load(ctx); !ok {
		t.Fatalf("expected fresh history to load")
	}
}

func TestDatabaseFileIsOwnerOnly(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "history.db")
	repo, err := New(ctx, path, nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer repo.Close()
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Fatalf("expected 0600, got %o", info.Mode().Perm())
	}
}
