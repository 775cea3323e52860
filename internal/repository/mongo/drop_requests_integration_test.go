package mongo

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"go.mongodb.org/mongo-driver/mongo/options"

	"filedrop/internal/domain"
)

// testMongoURI returns the MongoDB connection URI for integration tests.
// Defaults to localhost:27017. Set MONGO_TEST_URI to override.
func testMongoURI() string {
	if uri := os.Getenv("MONGO_TEST_URI"); uri != "" {
		return uri
	}
	return "mongodb://localhost:27017"
}

// setupTestStore connects to MongoDB and returns a store on a unique test
// database. Calls t.Skip if MongoDB is unreachable.
func setupTestStore(t *testing.T) *DropRequestStore {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	uri := testMongoURI()
	client, err := Connect(ctx, uri, options.Client().SetConnectTimeout(3*time.Second))
	if err != nil {
		t.Skipf("MongoDB not available at %s: %v", uri, err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		t.Skipf("MongoDB ping failed at %s: %v", uri, err)
	}

	dbName := fmt.Sprintf("filedrop_test_%d", time.Now().UnixNano())
	store := NewDropRequestStore(client, dbName, "drop_requests", nil)
	store.retryDelay = 50 * time.Millisecond
	if err := store.EnsureIndexes(ctx); err != nil {
		_ = client.Disconnect(ctx)
		t.Fatalf("EnsureIndexes: %v", err)
	}

	t.Cleanup(func() {
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		_ = client.Database(dbName).Drop(ctx2)
		_ = client.Disconnect(ctx2)
	})
	return store
}

func makeRequest(id, alias string) domain.DropRequest {
	now := time.Now().UTC().Truncate(time.Second)
	return domain.DropRequest{
		ID:            domain.RequestID(id),
		SenderID:      "acct-" + id,
		SenderAlias:   "Blue-Fox-7",
		ReceiverAlias: alias,
		Filename:      id + ".bin",
		Filesize:      1000,
		Status:        domain.RequestPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

func TestStoreCreateGetUpdate(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	r := makeRequest("r1", "Red-Lion-42")
	if _, err := store.Create(ctx, r); err != nil {
		t.Fatalf("Create: %v", err)
	}
	got, err := store.Get(ctx, "r1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Filename != "r1.bin" || got.Status != domain.RequestPending {
		t.Fatalf("got = %+v", got)
	}

	if err := store.SetDescriptor(ctx, "r1", "magnet:?xt=urn:btih:abc"); err != nil {
		t.Fatalf("SetDescriptor: %v", err)
	}
	if err := store.UpdateStatus(ctx, "r1", domain.RequestAccepted, "acct-2"); err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}
	got, _ = store.Get(ctx, "r1")
	if got.Status != domain.RequestAccepted || got.ReceiverID != "acct-2" || got.Descriptor == "" {
		t.Fatalf("got = %+v", got)
	}

	if _, err := store.Get(ctx, "missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("Get missing err = %v", err)
	}
	if err := store.UpdateStatus(ctx, "missing", domain.RequestDeclined, ""); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("UpdateStatus missing err = %v", err)
	}
}

func TestStoreListPending(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	for _, r := range []domain.DropRequest{
		makeRequest("a", "Red-Lion-42"),
		makeRequest("b", "Red-Lion-42"),
		makeRequest("c", "Green-Wolf-1"),
	} {
		if _, err := store.Create(ctx, r); err != nil {
			t.Fatalf("Create: %v", err)
		}
	}
	_ = store.UpdateStatus(ctx, "b", domain.RequestDeclined, "")

	got, err := store.ListPending(ctx, "Red-Lion-42")
	if err != nil {
		t.Fatalf("ListPending: %v", err)
	}
	if len(got) != 1 || got[0].ID != "a" {
		t.Fatalf("pending = %+v", got)
	}
}

func TestStoreWatchPending(t *testing.T) {
	store := setupTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Change streams need a replica set; standalone servers refuse Watch.
	probe, err := store.collection.Watch(ctx, []any{})
	if err != nil {
		t.Skipf("change streams unavailable: %v", err)
	}
	_ = probe.Close(ctx)

	if _, err := store.Create(ctx, makeRequest("early", "Red-Lion-42")); err != nil {
		t.Fatalf("Create: %v", err)
	}

	var mu sync.Mutex
	var changes []domain.RequestChange
	go func() {
		_ = store.WatchPending(ctx, "Red-Lion-42", func(c domain.RequestChange) {
			mu.Lock()
			changes = append(changes, c)
			mu.Unlock()
		}, nil)
	}()

	waitChanges := func(n int) []domain.RequestChange {
		t.Helper()
		deadline := time.Now().Add(10 * time.Second)
		for time.Now().Before(deadline) {
			mu.Lock()
			got := append([]domain.RequestChange(nil), changes...)
			mu.Unlock()
			if len(got) >= n {
				return got
			}
			time.Sleep(20 * time.Millisecond)
		}
		t.Fatalf("timed out waiting for %d changes", n)
		return nil
	}

	got := waitChanges(1)
	if got[0].Kind != domain.ChangeAdded || got[0].Request.ID != "early" {
		t.Fatalf("initial change = %+v", got[0])
	}

	if _, err := store.Create(ctx, makeRequest("late", "Red-Lion-42")); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := store.Create(ctx, makeRequest("other", "Green-Wolf-1")); err != nil {
		t.Fatalf("Create: %v", err)
	}
	got = waitChanges(2)
	if got[1].Kind != domain.ChangeAdded || got[1].Request.ID != "late" {
		t.Fatalf("insert change = %+v", got[1])
	}

	if err := store.UpdateStatus(ctx, "early", domain.RequestAccepted, "acct-2"); err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}
	got = waitChanges(3)
	if got[2].Kind != domain.ChangeRemoved || got[2].Request.ID != "early" {
		t.Fatalf("accept change = %+v", got[2])
	}
}
