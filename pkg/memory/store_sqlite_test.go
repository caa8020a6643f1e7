package memory

import (
	"context"
	"path/filepath"
	"testing"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "state", "conversations.db")
	store, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestSQLiteStore_GetOrCreateUserIdempotent(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	first, err := store.GetOrCreateUser(ctx, "anon-1")
	if err != nil {
		t.Fatalf("first get or create: %v", err)
	}
	second, err := store.GetOrCreateUser(ctx, "anon-1")
	if err != nil {
		t.Fatalf("second get or create: %v", err)
	}

	if first.ID != second.ID {
		t.Fatalf("expected same user, got %q and %q", first.ID, second.ID)
	}
	if first.CreatedAtMS != second.CreatedAtMS {
		t.Fatalf("second call recreated the user row")
	}
	if len(second.Profile) != 0 || second.Summary != "" {
		t.Fatalf("new user should have empty memory, got %#v %q", second.Profile, second.Summary)
	}
}

func TestSQLiteStore_GetOrCreateConversationPinned(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	if _, err := store.GetOrCreateUser(ctx, "anon-1"); err != nil {
		t.Fatalf("create user: %v", err)
	}

	first, err := store.GetOrCreateConversation(ctx, "anon-1")
	if err != nil {
		t.Fatalf("first conversation: %v", err)
	}
	second, err := store.GetOrCreateConversation(ctx, "anon-1")
	if err != nil {
		t.Fatalf("second conversation: %v", err)
	}
	if first.ID != second.ID {
		t.Fatalf("expected pinned conversation, got %q and %q", first.ID, second.ID)
	}
}

func TestSQLiteStore_AppendAndListRecentMessages(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	if _, err := store.GetOrCreateUser(ctx, "anon-1"); err != nil {
		t.Fatalf("create user: %v", err)
	}
	conv, err := store.GetOrCreateConversation(ctx, "anon-1")
	if err != nil {
		t.Fatalf("create conversation: %v", err)
	}

	contents := []string{"one", "two", "three", "four", "five"}
	for i, c := range contents {
		role := RoleUser
		if i%2 == 1 {
			role = RoleAssistant
		}
		if _, err := store.AppendMessage(ctx, conv.ID, role, c); err != nil {
			t.Fatalf("append %q: %v", c, err)
		}
	}

	got, err := store.ListRecentMessages(ctx, conv.ID, 3)
	if err != nil {
		t.Fatalf("list recent: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(got))
	}
	// Tail of the sequence, ascending: three, four, five.
	if got[0].Content != "three" || got[1].Content != "four" || got[2].Content != "five" {
		t.Fatalf("unexpected window: %q %q %q", got[0].Content, got[1].Content, got[2].Content)
	}
	if got[2].Content != contents[len(contents)-1] {
		t.Fatalf("window must always include the newest message")
	}
}

func TestSQLiteStore_AppendMessageRejectsBadRole(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	if _, err := store.GetOrCreateUser(ctx, "anon-1"); err != nil {
		t.Fatalf("create user: %v", err)
	}
	conv, err := store.GetOrCreateConversation(ctx, "anon-1")
	if err != nil {
		t.Fatalf("create conversation: %v", err)
	}

	if _, err := store.AppendMessage(ctx, conv.ID, "system", "nope"); err == nil {
		t.Fatal("expected error for invalid role")
	}
}

func TestSQLiteStore_UserMemoryRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	// Unknown user reads as empty memory, not an error.
	rec, err := store.GetUserMemory(ctx, "ghost")
	if err != nil {
		t.Fatalf("get memory for unknown user: %v", err)
	}
	if len(rec.Profile) != 0 || rec.Summary != "" {
		t.Fatalf("expected empty record, got %#v", rec)
	}

	if _, err := store.GetOrCreateUser(ctx, "anon-1"); err != nil {
		t.Fatalf("create user: %v", err)
	}

	want := Record{
		Profile: map[string]interface{}{"name": "Sam"},
		Summary: "Discussed work stress.",
	}
	if err := store.SetUserMemory(ctx, "anon-1", want); err != nil {
		t.Fatalf("set memory: %v", err)
	}

	got, err := store.GetUserMemory(ctx, "anon-1")
	if err != nil {
		t.Fatalf("get memory: %v", err)
	}
	if got.Summary != want.Summary {
		t.Fatalf("summary = %q, want %q", got.Summary, want.Summary)
	}
	if got.Profile["name"] != "Sam" {
		t.Fatalf("profile = %#v, want name=Sam", got.Profile)
	}

	// Full replace, not merge.
	replacement := Record{
		Profile: map[string]interface{}{"timezone": "UTC"},
		Summary: "New themes.",
	}
	if err := store.SetUserMemory(ctx, "anon-1", replacement); err != nil {
		t.Fatalf("overwrite memory: %v", err)
	}
	got, err = store.GetUserMemory(ctx, "anon-1")
	if err != nil {
		t.Fatalf("get memory after overwrite: %v", err)
	}
	if _, stale := got.Profile["name"]; stale {
		t.Fatal("overwrite kept a stale profile key; expected full replace")
	}
}

func TestSQLiteStore_SetUserMemoryUnknownUser(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	if err := store.SetUserMemory(ctx, "ghost", EmptyRecord()); err == nil {
		t.Fatal("expected error for unknown user")
	}
}

func TestSQLiteStore_JobQueueLifecycle(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	job := Job{
		JobType: JobConsolidate,
		UserID:  "anon-1",
		Payload: map[string]string{"count": "1", "role_0": "user", "content_0": "hi"},
	}
	if err := store.EnqueueJob(ctx, job); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	claimed, ok, err := store.ClaimNextJob(ctx, nowMS(), 60_000)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if !ok {
		t.Fatal("expected a claimable job")
	}
	if claimed.Status != JobRunning || claimed.UserID != "anon-1" {
		t.Fatalf("unexpected claimed job: %#v", claimed)
	}

	// Lease is held; a second claim finds nothing.
	_, ok, err = store.ClaimNextJob(ctx, nowMS(), 60_000)
	if err != nil {
		t.Fatalf("second claim: %v", err)
	}
	if ok {
		t.Fatal("leased job should not be claimable")
	}

	if err := store.CompleteJob(ctx, claimed.ID); err != nil {
		t.Fatalf("complete: %v", err)
	}

	purged, err := store.PurgeFinishedJobs(ctx, nowMS()+1)
	if err != nil {
		t.Fatalf("purge: %v", err)
	}
	if purged != 1 {
		t.Fatalf("expected 1 purged job, got %d", purged)
	}
}

func TestSQLiteStore_PurgeLeavesActiveJobs(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	if err := store.EnqueueJob(ctx, Job{ID: "job-done", JobType: JobConsolidate, UserID: "anon-1", Payload: map[string]string{"count": "0"}}); err != nil {
		t.Fatalf("enqueue done: %v", err)
	}
	claimed, ok, err := store.ClaimNextJob(ctx, nowMS(), 60_000)
	if err != nil || !ok {
		t.Fatalf("claim done: ok=%v err=%v", ok, err)
	}
	if err := store.CompleteJob(ctx, claimed.ID); err != nil {
		t.Fatalf("complete: %v", err)
	}

	if err := store.EnqueueJob(ctx, Job{ID: "job-running", JobType: JobConsolidate, UserID: "anon-2", Payload: map[string]string{"count": "0"}}); err != nil {
		t.Fatalf("enqueue running: %v", err)
	}
	running, ok, err := store.ClaimNextJob(ctx, nowMS(), 60_000)
	if err != nil || !ok {
		t.Fatalf("claim running: ok=%v err=%v", ok, err)
	}
	if running.ID != "job-running" {
		t.Fatalf("claimed %q, want job-running", running.ID)
	}

	if err := store.EnqueueJob(ctx, Job{ID: "job-pending", JobType: JobConsolidate, UserID: "anon-3", Payload: map[string]string{"count": "0"}}); err != nil {
		t.Fatalf("enqueue pending: %v", err)
	}

	// A far-future cutoff covers every job; only the completed one may go.
	purged, err := store.PurgeFinishedJobs(ctx, nowMS()+60*60*1000)
	if err != nil {
		t.Fatalf("purge: %v", err)
	}
	if purged != 1 {
		t.Fatalf("purged %d jobs, want only the completed one", purged)
	}

	next, ok, err := store.ClaimNextJob(ctx, nowMS(), 60_000)
	if err != nil || !ok {
		t.Fatalf("claim after purge: ok=%v err=%v", ok, err)
	}
	if next.ID != "job-pending" {
		t.Fatalf("pending job did not survive the purge: got %q", next.ID)
	}

	// The running job is still there too: expire both leases and reclaim.
	future := nowMS() + 120_000
	if err := store.RequeueExpiredJobs(ctx, future); err != nil {
		t.Fatalf("requeue: %v", err)
	}
	survivors := map[string]bool{}
	for i := 0; i < 2; i++ {
		job, ok, err := store.ClaimNextJob(ctx, future, 60_000)
		if err != nil || !ok {
			t.Fatalf("reclaim %d: ok=%v err=%v", i, ok, err)
		}
		survivors[job.ID] = true
	}
	if !survivors["job-running"] || !survivors["job-pending"] {
		t.Fatalf("active jobs lost to purge: %v", survivors)
	}
}

func TestSQLiteStore_RequeueExpiredJobs(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	if err := store.EnqueueJob(ctx, Job{JobType: JobConsolidate, UserID: "anon-1", Payload: map[string]string{"count": "0"}}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	claimed, ok, err := store.ClaimNextJob(ctx, nowMS(), 10)
	if err != nil || !ok {
		t.Fatalf("claim: ok=%v err=%v", ok, err)
	}

	// Pretend the lease ran out.
	if err := store.RequeueExpiredJobs(ctx, claimed.LeaseUntilMS+1); err != nil {
		t.Fatalf("requeue: %v", err)
	}

	reclaimed, ok, err := store.ClaimNextJob(ctx, claimed.LeaseUntilMS+1, 60_000)
	if err != nil || !ok {
		t.Fatalf("reclaim: ok=%v err=%v", ok, err)
	}
	if reclaimed.ID != claimed.ID {
		t.Fatalf("expected the same job back, got %q", reclaimed.ID)
	}
}
