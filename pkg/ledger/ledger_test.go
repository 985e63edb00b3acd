package ledger

import (
	"context"
	"errors"
	"path/filepath"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"
)

func openTemp(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), "file:"+filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestRecordAndGet(t *testing.T) {
	s := openTemp(t)
	ctx := context.Background()
	at := time.Date(2026, 3, 1, 12, 0, 0, 123, time.UTC)

	run := Run{
		RunID: "run-1", PayloadDigest: "sha256:aa", Mode: "auto", BackendUsed: "fallback",
		Status: "FAIL", Reason: "preflight_failed", FailedGates: []string{"citation_integrity"}, CreatedAt: at,
	}
	require.NoError(t, s.Record(ctx, run))

	got, err := s.Get(ctx, "run-1")
	require.NoError(t, err)
	require.Equal(t, run.FailedGates, got.FailedGates)
	require.True(t, got.CreatedAt.Equal(at))
	require.Equal(t, "preflight_failed", got.Reason)

	_, err = s.Get(ctx, "missing")
	require.ErrorIs(t, err, ErrNotFound)

	require.Error(t, s.Record(ctx, run), "duplicate run id")
}

func TestLastPassPicksNewest(t *testing.T) {
	s := openTemp(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, s.Record(ctx, Run{RunID: "a", PayloadDigest: "d", Mode: "auto", Status: "PASS", ArtifactPath: "/a.pdf", CreatedAt: base}))
	require.NoError(t, s.Record(ctx, Run{RunID: "b", PayloadDigest: "d", Mode: "auto", Status: "PASS", ArtifactPath: "/b.pdf", CreatedAt: base.Add(time.Minute)}))
	require.NoError(t, s.Record(ctx, Run{RunID: "c", PayloadDigest: "d", Mode: "auto", Status: "FAIL", CreatedAt: base.Add(2 * time.Minute)}))
	require.NoError(t, s.Record(ctx, Run{RunID: "e", PayloadDigest: "other", Mode: "auto", Status: "PASS", CreatedAt: base.Add(3 * time.Minute)}))

	got, err := s.LastPass(ctx, "d")
	require.NoError(t, err)
	require.Equal(t, "b", got.RunID)
	require.Nil(t, got.FailedGates)

	_, err = s.LastPass(ctx, "none")
	require.ErrorIs(t, err, ErrNotFound)

	runs, err := s.List(ctx, 2)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	require.Equal(t, "e", runs[0].RunID)
}

func TestRecordRequiresRunID(t *testing.T) {
	require.Error(t, NewStore(nil).Record(context.Background(), Run{}))
}

func TestRecordWithMock(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("an error '%s' was not expected when opening a stub database connection", err)
	}
	defer func() { _ = db.Close() }()

	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO runs")).
		WithArgs("run-9", "sha256:bb", "primary", "primary", "PENDING", "", "", "", "[]", "2026-03-01T12:00:00.000000000Z").
		WillReturnResult(sqlmock.NewResult(1, 1))

	s := NewStore(db)
	err = s.Record(context.Background(), Run{RunID: "run-9", PayloadDigest: "sha256:bb", Mode: "primary", BackendUsed: "primary", Status: "PENDING", CreatedAt: at})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordSurfacesDriverError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	mock.ExpectExec("INSERT INTO runs").WillReturnError(errors.New("disk full"))
	err = NewStore(db).Record(context.Background(), Run{RunID: "x", CreatedAt: time.Now()})
	require.ErrorContains(t, err, "disk full")
}

func TestGetNotFoundWithMock(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	mock.ExpectQuery("SELECT run_id").WithArgs("nope").WillReturnRows(sqlmock.NewRows([]string{"run_id"}))
	_, err = NewStore(db).Get(context.Background(), "nope")
	require.ErrorIs(t, err, ErrNotFound)
}
