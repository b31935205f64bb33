package session

import (
	"context"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/clinicware/medibot/pkg/logging"
)

type fakeSnapshots struct {
	mu    sync.Mutex
	saved map[string]*Session
}

func newFakeSnapshots() *fakeSnapshots {
	return &fakeSnapshots{saved: make(map[string]*Session)}
}

func (f *fakeSnapshots) Save(_ context.Context, sess *Session) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	copied := *sess
	f.saved[sess.ConversationID] = &copied
	return nil
}

func (f *fakeSnapshots) Load(_ context.Context, conversationID string) (*Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	sess, ok := f.saved[conversationID]
	if !ok {
		return nil, nil
	}
	copied := *sess
	return &copied, nil
}

func newTestStore(t *testing.T, snaps SnapshotStore, opts ...Option) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return NewStore(client, snaps, logging.Default(), opts...), mr
}

func TestUpdateThenGetReturnsMergedSession(t *testing.T) {
	store, _ := newTestStore(t, newFakeSnapshots())
	ctx := context.Background()

	_, err := store.Update(ctx, "wa:111", Update{
		LastIntent: "booking",
		Turn:       &Turn{Role: "user", Text: "book appointment", At: time.Now()},
		Attributes: map[string]string{"doctor_id": "d1"},
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}

	sess, err := store.Get(ctx, "wa:111")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if sess == nil {
		t.Fatal("expected session")
	}
	if sess.LastIntent != "booking" {
		t.Fatalf("lastIntent = %q", sess.LastIntent)
	}
	if sess.Attributes["doctor_id"] != "d1" {
		t.Fatalf("attributes not merged: %v", sess.Attributes)
	}
	if len(sess.RecentTurns) != 1 {
		t.Fatalf("expected 1 turn, got %d", len(sess.RecentTurns))
	}
	if sess.CreatedAt.IsZero() || sess.UpdatedAt.IsZero() {
		t.Fatal("timestamps not set")
	}
}

func TestUpdateResetsTTLToFullWindow(t *testing.T) {
	store, mr := newTestStore(t, nil, WithTTL(time.Hour))
	ctx := context.Background()

	if _, err := store.Update(ctx, "wa:ttl", Update{LastIntent: "greeting"}); err != nil {
		t.Fatalf("update: %v", err)
	}

	// Burn down half the window, then update again: TTL must be the full
	// window, not the pre-update remainder.
	mr.FastForward(30 * time.Minute)
	if _, err := store.Update(ctx, "wa:ttl", Update{LastIntent: "booking"}); err != nil {
		t.Fatalf("second update: %v", err)
	}
	if ttl := mr.TTL(sessionKey("wa:ttl")); ttl != time.Hour {
		t.Fatalf("expected full TTL after update, got %s", ttl)
	}
}

func TestGetExtendsTTL(t *testing.T) {
	store, mr := newTestStore(t, nil, WithTTL(time.Hour))
	ctx := context.Background()

	if _, err := store.Update(ctx, "wa:slide", Update{LastIntent: "greeting"}); err != nil {
		t.Fatalf("update: %v", err)
	}
	mr.FastForward(45 * time.Minute)
	if _, err := store.Get(ctx, "wa:slide"); err != nil {
		t.Fatalf("get: %v", err)
	}
	if ttl := mr.TTL(sessionKey("wa:slide")); ttl != time.Hour {
		t.Fatalf("expected sliding TTL back to full window, got %s", ttl)
	}
}

func TestRecentTurnsBounded(t *testing.T) {
	store, _ := newTestStore(t, nil, WithRecentTurns(3))
	ctx := context.Background()

	texts := []string{"one", "two", "three", "four", "five"}
	for _, txt := range texts {
		if _, err := store.Update(ctx, "wa:ring", Update{Turn: &Turn{Role: "user", Text: txt}}); err != nil {
			t.Fatalf("update %q: %v", txt, err)
		}
	}

	sess, err := store.Get(ctx, "wa:ring")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(sess.RecentTurns) != 3 {
		t.Fatalf("expected window of 3, got %d", len(sess.RecentTurns))
	}
	if sess.RecentTurns[0].Text != "three" || sess.RecentTurns[2].Text != "five" {
		t.Fatalf("wrong window contents: %+v", sess.RecentTurns)
	}
}

func TestGetRehydratesFromSnapshotAfterEviction(t *testing.T) {
	snaps := newFakeSnapshots()
	store, mr := newTestStore(t, snaps)
	ctx := context.Background()

	if _, err := store.Update(ctx, "wa:cold", Update{LastIntent: "booking", Attributes: map[string]string{"doctor_id": "d2"}}); err != nil {
		t.Fatalf("update: %v", err)
	}
	store.Flush()

	// Simulate TTL eviction.
	mr.Del(sessionKey("wa:cold"))

	sess, err := store.Get(ctx, "wa:cold")
	if err != nil {
		t.Fatalf("get after eviction: %v", err)
	}
	if sess == nil {
		t.Fatal("expected rehydrated session")
	}
	if sess.LastIntent != "booking" || sess.Attributes["doctor_id"] != "d2" {
		t.Fatalf("snapshot lost state: %+v", sess)
	}
	// The cache should be repopulated.
	if !mr.Exists(sessionKey("wa:cold")) {
		t.Fatal("cache not repopulated after rehydration")
	}
}

func TestStaleSnapshotDoesNotOverwriteCachedState(t *testing.T) {
	snaps := newFakeSnapshots()
	snaps.saved["wa:fresh"] = &Session{ConversationID: "wa:fresh", LastIntent: "greeting"}
	store, _ := newTestStore(t, snaps)
	ctx := context.Background()

	// Cache holds fresher state than the snapshot.
	if _, err := store.Update(ctx, "wa:fresh", Update{LastIntent: "cancel_booking"}); err != nil {
		t.Fatalf("update: %v", err)
	}
	sess, err := store.Update(ctx, "wa:fresh", Update{Attributes: map[string]string{"k": "v"}})
	if err != nil {
		t.Fatalf("second update: %v", err)
	}
	if sess.LastIntent != "cancel_booking" {
		t.Fatalf("stale snapshot overwrote cache: %q", sess.LastIntent)
	}
}

func TestDeleteRemovesCacheOnly(t *testing.T) {
	snaps := newFakeSnapshots()
	store, mr := newTestStore(t, snaps)
	ctx := context.Background()

	if _, err := store.Update(ctx, "wa:del", Update{LastIntent: "greeting"}); err != nil {
		t.Fatalf("update: %v", err)
	}
	store.Flush()

	if err := store.Delete(ctx, "wa:del"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if mr.Exists(sessionKey("wa:del")) {
		t.Fatal("cache entry not removed")
	}
	if _, ok := snaps.saved["wa:del"]; !ok {
		t.Fatal("snapshot must be retained after delete")
	}
}

func TestGetAbsentReturnsNil(t *testing.T) {
	store, _ := newTestStore(t, newFakeSnapshots())
	sess, err := store.Get(context.Background(), "wa:missing")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if sess != nil {
		t.Fatalf("expected absent session, got %+v", sess)
	}
}
