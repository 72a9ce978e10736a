package sqlite

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/gitforme/gitforme/internal/apperror"
)

// =========================================================================
// SESSION STORE TESTS
// =========================================================================

func TestCreateSession_RoundTrip(t *testing.T) {
	db := newTestDB(t)
	user := createTestUser(t, db, 42, "alice")

	sess, err := db.Create(context.Background(), user.ID)
	if err != nil {
		t.Fatalf("Create(): %v", err)
	}
	if sess.ID == "" {
		t.Fatal("Create() returned empty session ID")
	}

	got, err := db.Get(context.Background(), sess.ID)
	if err != nil {
		t.Fatalf("Get(): %v", err)
	}
	if got.UserID != user.ID {
		t.Errorf("Get() UserID = %q, want %q", got.UserID, user.ID)
	}

	// The expiry must be roughly 24h out
	ttl := time.Until(got.ExpiresAt)
	if ttl < 23*time.Hour || ttl > 25*time.Hour {
		t.Errorf("session TTL = %v, want ~24h", ttl)
	}
}

func TestCreateSession_DistinctIDs(t *testing.T) {
	db := newTestDB(t)
	user := createTestUser(t, db, 42, "alice")

	a, _ := db.Create(context.Background(), user.ID)
	b, _ := db.Create(context.Background(), user.ID)
	if a.ID == b.ID {
		t.Error("two Create() calls returned the same session ID")
	}
}

func TestGetSession_NotFound(t *testing.T) {
	db := newTestDB(t)

	_, err := db.Get(context.Background(), "no-such-session")
	if !errors.Is(err, apperror.ErrNotFound) {
		t.Errorf("Get() error = %v, want ErrNotFound", err)
	}
}

// An expired row must behave exactly like a missing one, even before the
// reaper runs. We back-date the row directly — the public API never creates
// expired sessions.
func TestGetSession_ExpiredBehavesAsAbsent(t *testing.T) {
	db := newTestDB(t)
	user := createTestUser(t, db, 42, "alice")
	sess, _ := db.Create(context.Background(), user.ID)

	_, err := db.conn.Exec(`UPDATE sessions SET expires_at = ? WHERE id = ?`,
		time.Now().Add(-time.Minute), sess.ID)
	if err != nil {
		t.Fatalf("back-dating session: %v", err)
	}

	if _, err := db.Get(context.Background(), sess.ID); !errors.Is(err, apperror.ErrNotFound) {
		t.Errorf("Get() on expired session = %v, want ErrNotFound", err)
	}
}

func TestDeleteSession_Idempotent(t *testing.T) {
	db := newTestDB(t)
	user := createTestUser(t, db, 42, "alice")
	sess, _ := db.Create(context.Background(), user.ID)

	if err := db.Delete(context.Background(), sess.ID); err != nil {
		t.Fatalf("Delete(): %v", err)
	}
	if _, err := db.Get(context.Background(), sess.ID); !errors.Is(err, apperror.ErrNotFound) {
		t.Errorf("Get() after Delete = %v, want ErrNotFound", err)
	}

	// Second delete (e.g. logout from another tab) must not error
	if err := db.Delete(context.Background(), sess.ID); err != nil {
		t.Errorf("second Delete() = %v, want nil", err)
	}
}

func TestDeleteExpired_ReapsOnlyExpiredRows(t *testing.T) {
	db := newTestDB(t)
	user := createTestUser(t, db, 42, "alice")

	live, _ := db.Create(context.Background(), user.ID)
	stale, _ := db.Create(context.Background(), user.ID)

	_, err := db.conn.Exec(`UPDATE sessions SET expires_at = ? WHERE id = ?`,
		time.Now().Add(-time.Minute), stale.ID)
	if err != nil {
		t.Fatalf("back-dating session: %v", err)
	}

	if err := db.DeleteExpired(context.Background()); err != nil {
		t.Fatalf("DeleteExpired(): %v", err)
	}

	if _, err := db.Get(context.Background(), live.ID); err != nil {
		t.Errorf("live session was reaped: %v", err)
	}

	var n int
	if err := db.conn.QueryRow(`SELECT COUNT(*) FROM sessions WHERE id = ?`, stale.ID).Scan(&n); err != nil {
		t.Fatalf("counting stale rows: %v", err)
	}
	if n != 0 {
		t.Error("DeleteExpired() left the expired row in place")
	}
}
