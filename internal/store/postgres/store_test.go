package postgres_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/voxrelay/voxrelay/internal/cache"
	"github.com/voxrelay/voxrelay/internal/store/postgres"
)

// testDSN returns the test database DSN from the environment, or skips the
// test if VOXRELAY_TEST_POSTGRES_DSN is not set.
func testDSN(t *testing.T) string {
	t.Helper()
	dsn := os.Getenv("VOXRELAY_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("VOXRELAY_TEST_POSTGRES_DSN not set — skipping PostgreSQL integration tests")
	}
	return dsn
}

func newTestStore(t *testing.T) *postgres.Store {
	t.Helper()
	s, err := postgres.NewStore(context.Background(), testDSN(t))
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(s.Close)
	return s
}

func TestCacheStoreRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)

	e := cache.Entry{
		Key:            "en:es:deadbeefdeadbeef",
		SourceText:     "hello everyone",
		TranslatedText: "hola a todos",
		CreatedAt:      now,
		LastAccessedAt: now,
		ExpiresAt:      now.Add(time.Hour),
		AccessCount:    1,
	}
	if err := s.Cache().Put(ctx, e); err != nil {
		t.Fatalf("Put: %v", err)
	}
	t.Cleanup(func() { _ = s.Cache().Delete(ctx, e.Key) })

	got, err := s.Cache().Get(ctx, e.Key)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got == nil || got.TranslatedText != "hola a todos" || got.AccessCount != 1 {
		t.Fatalf("Get = %+v", got)
	}

	if err := s.Cache().Touch(ctx, e.Key, now.Add(time.Minute), 2); err != nil {
		t.Fatalf("Touch: %v", err)
	}
	got, _ = s.Cache().Get(ctx, e.Key)
	if got.AccessCount != 2 {
		t.Errorf("AccessCount after Touch = %d, want 2", got.AccessCount)
	}

	if err := s.Cache().Delete(ctx, e.Key); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if got, _ := s.Cache().Get(ctx, e.Key); got != nil {
		t.Errorf("entry survived Delete: %+v", got)
	}
}

func TestCacheStoreGetAbsent(t *testing.T) {
	s := newTestStore(t)

	got, err := s.Cache().Get(context.Background(), "en:xx:0000000000000000")
	if err != nil || got != nil {
		t.Fatalf("Get(absent) = %v, %v; want nil, nil", got, err)
	}
}

func TestSessionStoreRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)

	sess := postgres.SessionRecord{
		SessionID:      "it-talk",
		SourceLanguage: "en",
		SpeakerConnID:  "speaker-1",
		CreatedAt:      now,
		ExpiresAt:      now.Add(time.Hour),
	}
	if err := s.Sessions().SaveSession(ctx, sess); err != nil {
		t.Fatalf("SaveSession: %v", err)
	}
	t.Cleanup(func() { _ = s.Sessions().DeleteSession(ctx, sess.SessionID) })

	conn := postgres.ConnectionRecord{
		ConnectionID:   "it-conn-1",
		SessionID:      sess.SessionID,
		TargetLanguage: "es",
		ConnectedAt:    now,
		ExpiresAt:      now.Add(time.Hour),
	}
	if err := s.Sessions().SaveConnection(ctx, conn); err != nil {
		t.Fatalf("SaveConnection: %v", err)
	}

	conns, err := s.Sessions().ListConnections(ctx, sess.SessionID)
	if err != nil {
		t.Fatalf("ListConnections: %v", err)
	}
	if len(conns) != 1 || conns[0].TargetLanguage != "es" {
		t.Fatalf("ListConnections = %+v", conns)
	}

	if err := s.Sessions().DeleteSession(ctx, sess.SessionID); err != nil {
		t.Fatalf("DeleteSession: %v", err)
	}
	got, err := s.Sessions().GetSession(ctx, sess.SessionID)
	if err != nil || got != nil {
		t.Fatalf("GetSession after delete = %v, %v; want nil, nil", got, err)
	}
	if conns, _ := s.Sessions().ListConnections(ctx, sess.SessionID); len(conns) != 0 {
		t.Errorf("connections survived session delete: %+v", conns)
	}
}
