//go:build integration

package postgres

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	postgrescontainer "github.com/testcontainers/testcontainers-go/modules/postgres"

	"example.com/casework/internal/casefile"
	"example.com/casework/internal/engine"
	"example.com/casework/internal/ontology"
)

func TestStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	pool := startDatabase(t, ctx)
	store := NewStore(pool)

	caseID := uuid.NewString()
	rec := casefile.New(caseID, "GARBAGE")
	require.NoError(t, rec.AssertProperty(caseID, ontology.PropAddress, "111 NW 1st St"))
	require.NoError(t, rec.AssertRelation(caseID, ontology.RelStatus, "O-OPEN"))

	_, err := store.Submit(ctx, rec)
	require.NoError(t, err)
	require.Equal(t, int64(1), rec.Version())

	loaded, err := store.LoadCase(ctx, caseID)
	require.NoError(t, err)
	require.Equal(t, "GARBAGE", loaded.CaseType())
	require.Equal(t, int64(1), loaded.Version())
	addr, _ := loaded.GetProperty(caseID, ontology.PropAddress)
	require.Equal(t, "111 NW 1st St", addr)

	_, err = store.LoadCase(ctx, uuid.NewString())
	require.ErrorIs(t, err, ErrNotFound)
}

func TestStoreOptimisticConcurrency(t *testing.T) {
	ctx := context.Background()
	pool := startDatabase(t, ctx)
	store := NewStore(pool)

	caseID := uuid.NewString()
	rec := casefile.New(caseID, "GARBAGE")
	_, err := store.Submit(ctx, rec)
	require.NoError(t, err)

	first, err := store.LoadCase(ctx, caseID)
	require.NoError(t, err)
	second, err := store.LoadCase(ctx, caseID)
	require.NoError(t, err)

	require.NoError(t, first.AssertProperty(caseID, ontology.PropDetails, "first writer"))
	require.NoError(t, store.SaveCase(ctx, first, nil))
	require.Equal(t, int64(2), first.Version())

	require.NoError(t, second.AssertProperty(caseID, ontology.PropDetails, "second writer"))
	err = store.SaveCase(ctx, second, nil)
	require.ErrorIs(t, err, ErrVersionConflict)

	// The losing writer replays from the stored state.
	replay, err := store.LoadCase(ctx, caseID)
	require.NoError(t, err)
	details, _ := replay.GetProperty(caseID, ontology.PropDetails)
	require.Equal(t, "first writer", details)
}

func TestStoreListOpenActivities(t *testing.T) {
	ctx := context.Background()
	pool := startDatabase(t, ctx)
	store := NewStore(pool)

	now := time.Now().UTC().Truncate(time.Microsecond)
	caseID := uuid.NewString()
	rec := casefile.New(caseID, "GARBAGE")
	_, err := store.Submit(ctx, rec)
	require.NoError(t, err)

	loaded, err := store.LoadCase(ctx, caseID)
	require.NoError(t, err)

	later := now.Add(48 * time.Hour)
	sooner := now.Add(24 * time.Hour)
	completed := now
	require.NoError(t, store.SaveCase(ctx, loaded, []engine.Activity{
		{ID: uuid.NewString(), Type: "REVIEW", CreatedDate: now, UpdatedDate: now, DueDate: &later},
		{ID: uuid.NewString(), Type: "INSPECT", CreatedDate: now, UpdatedDate: now, DueDate: &sooner},
		{ID: uuid.NewString(), Type: "DONE", Outcome: "OUTCOME_OK", CreatedDate: now, UpdatedDate: now, DueDate: &now, CompletedDate: &completed},
		{ID: uuid.NewString(), Type: "NO_DEADLINE", CreatedDate: now, UpdatedDate: now},
	}))

	open, err := store.ListOpenActivities(ctx, 10)
	require.NoError(t, err)
	require.Len(t, open, 2, "only outcome-less activities with due dates")
	require.Equal(t, "INSPECT", open[0].Type, "ordered by due date")
	require.Equal(t, "REVIEW", open[1].Type)

	open, err = store.ListOpenActivities(ctx, 1)
	require.NoError(t, err)
	require.Len(t, open, 1)
}

func startDatabase(t *testing.T, ctx context.Context) *pgxpool.Pool {
	t.Helper()

	pg, err := postgrescontainer.RunContainer(ctx,
		postgrescontainer.WithDatabase("casework"),
		postgrescontainer.WithUsername("casework"),
		postgrescontainer.WithPassword("casework"),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = pg.Terminate(ctx) })

	connStr, err := pg.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	require.NoError(t, waitForDatabase(ctx, connStr))
	runMigrations(t, ctx, connStr)

	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)
	t.Cleanup(func() { pool.Close() })
	return pool
}

func runMigrations(t *testing.T, ctx context.Context, connStr string) {
	files := []string{
		"../../../db/postgres/migrations/0001_init.up.sql",
	}

	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)
	defer pool.Close()

	for _, rel := range files {
		path := resolvePath(t, rel)
		contents, readErr := os.ReadFile(path)
		require.NoError(t, readErr)

		_, execErr := pool.Exec(ctx, string(contents))
		require.NoError(t, execErr)
	}
}

func resolvePath(t *testing.T, rel string) string {
	t.Helper()
	_, file, _, ok := runtime.Caller(0)
	require.True(t, ok)
	return filepath.Join(filepath.Dir(file), rel)
}

func waitForDatabase(ctx context.Context, connStr string) error {
	deadline := time.Now().Add(30 * time.Second)
	for {
		pool, err := pgxpool.New(ctx, connStr)
		if err == nil {
			err = pool.Ping(ctx)
			pool.Close()
			if err == nil {
				return nil
			}
		}
		if time.Now().After(deadline) {
			return err
		}
		time.Sleep(time.Second)
	}
}
