package pv_test

import (
	"context"
	"errors"
	"slices"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"pv-go/internal/account"
	"pv-go/internal/model"
	"pv-go/internal/pv"
	"pv-go/internal/testutil"
)

func TestSweep_CleanTreeIsUntouched(t *testing.T) {
	e := newEnv(t, envOptions{})
	ctx := context.Background()

	a := e.mkAlbum(t, "a", e.root())
	e.mkItem(t, "x.jpg", a.ID, "x")

	got, err := e.svc.Sweep(ctx)
	if err != nil {
		t.Fatalf("Sweep() error = %v", err)
	}
	if diff := cmp.Diff(&pv.SweepResult{}, got); diff != "" {
		t.Errorf("SweepResult mismatch (-want +got):\n%s", diff)
	}
	if n := e.albumCount(t); n != 2 {
		t.Errorf("album count = %d, want 2", n)
	}
	if n := e.itemCount(t); n != 1 {
		t.Errorf("media item count = %d, want 1", n)
	}
}

func TestSweep_RemovesOrphans(t *testing.T) {
	acct := testutil.NewTestAccount("acct-a", 1<<20)
	e := newEnv(t, envOptions{accounts: []pv.Account{acct}})
	ctx := context.Background()

	kept := e.mkAlbum(t, "kept", e.root())
	keptItem := e.mkItem(t, "kept.jpg", kept.ID, "kept")

	// A detached subtree: its top album points at a parent that does not exist.
	ghost := model.EntityID{Shard: "shard-a", Local: "ghost"}
	orphan := e.mkAlbum(t, "orphan", ghost)
	orphanChild := e.mkAlbum(t, "orphan-child", orphan.ID)
	e.mkItem(t, "orphan.jpg", orphanChild.ID, "orphan")

	// A blob no media item references.
	stray, err := acct.Upload(ctx, strings.NewReader("stray"), 5, "stray.jpg")
	if err != nil {
		t.Fatalf("Upload() error = %v", err)
	}

	got, err := e.svc.Sweep(ctx)
	if err != nil {
		t.Fatalf("Sweep() error = %v", err)
	}

	want := &pv.SweepResult{NumAlbumsDeleted: 2, NumMediaItemsDeleted: 1, NumBlobsQuarantined: 2}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("SweepResult mismatch (-want +got):\n%s", diff)
	}

	if n := e.albumCount(t); n != 2 {
		t.Errorf("album count = %d, want 2", n)
	}
	if _, err := e.svc.Media().Get(ctx, keptItem.ID); err != nil {
		t.Errorf("reachable media item deleted: %v", err)
	}

	live, err := acct.ListBlobIDs(ctx)
	if err != nil {
		t.Fatalf("ListBlobIDs() error = %v", err)
	}
	if diff := cmp.Diff([]string{keptItem.ExternalBlobID}, live); diff != "" {
		t.Errorf("live blobs mismatch (-want +got):\n%s", diff)
	}
	quarantined := acct.ContainerBlobIDs(pv.DefaultQuarantineContainer)
	if len(quarantined) != 2 || !slices.Contains(quarantined, stray) {
		t.Errorf("quarantined = %v, want 2 blobs including %s", quarantined, stray)
	}
}

func TestSweep_DropsItemsWithMissingBlobs(t *testing.T) {
	acct := testutil.NewTestAccount("acct-a", 1<<20)
	e := newEnv(t, envOptions{accounts: []pv.Account{acct}})
	ctx := context.Background()

	parent := e.mkAlbum(t, "parent", e.root())
	leaf := e.mkAlbum(t, "leaf", parent.ID)
	broken := e.mkItem(t, "broken.jpg", leaf.ID, "broken")
	acct.Delete(broken.ExternalBlobID)

	got, err := e.svc.Sweep(ctx)
	if err != nil {
		t.Fatalf("Sweep() error = %v", err)
	}

	want := &pv.SweepResult{NumMediaItemsDeleted: 1, NumAlbumsPruned: 2}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("SweepResult mismatch (-want +got):\n%s", diff)
	}
	if n := e.albumCount(t); n != 1 {
		t.Errorf("album count = %d, want 1", n)
	}
}

func TestSweep_KeepsOnlyReachableState(t *testing.T) {
	acct := testutil.NewTestAccount("acct-a", 1<<20)
	e := newEnv(t, envOptions{shardCapacities: []int64{1 << 30, 1 << 30}, accounts: []pv.Account{acct}})
	ctx := context.Background()

	a := createOn(t, e.shards[1], "a", e.root())
	b := createOn(t, e.shards[0], "b", a.ID)
	e.mkItem(t, "1.jpg", a.ID, "one")
	e.mkItem(t, "2.jpg", b.ID, "two")
	loose := createOn(t, e.shards[1], "loose", model.EntityID{Shard: "shard-b", Local: "nowhere"})
	e.mkItem(t, "3.jpg", loose.ID, "three")
	if _, err := acct.Upload(ctx, strings.NewReader("four"), 4, "4.jpg"); err != nil {
		t.Fatalf("Upload() error = %v", err)
	}

	if _, err := e.svc.Sweep(ctx); err != nil {
		t.Fatalf("Sweep() error = %v", err)
	}

	albums, err := e.svc.Albums().All(ctx)
	if err != nil {
		t.Fatalf("All() error = %v", err)
	}
	items, err := e.svc.Media().All(ctx)
	if err != nil {
		t.Fatalf("All() error = %v", err)
	}
	blobs, err := acct.ListBlobIDs(ctx)
	if err != nil {
		t.Fatalf("ListBlobIDs() error = %v", err)
	}

	reachable := map[model.EntityID]bool{e.root(): true, a.ID: true, b.ID: true}
	for _, album := range albums {
		if !reachable[album.ID] {
			t.Errorf("unreachable album %s (%s) survived", album.ID, album.Name)
		}
	}
	referenced := make(map[string]bool)
	for _, item := range items {
		if !reachable[item.AlbumID] {
			t.Errorf("media item %s in unreachable album survived", item.ID)
		}
		referenced[item.ExternalBlobID] = true
	}
	for _, id := range blobs {
		if !referenced[id] {
			t.Errorf("unreferenced blob %s left outside quarantine", id)
		}
	}
	if len(items) != 2 || len(blobs) != 2 {
		t.Errorf("got %d items and %d blobs, want 2 and 2", len(items), len(blobs))
	}
}

func TestSweep_QuarantineHonoursBatchLimit(t *testing.T) {
	inner := account.NewMemoryAccount("acct-a", 1<<20, 2, testutil.NewStubIDGenerator("blob"))
	acct := testutil.NewFailingAccount(inner)
	e := newEnv(t, envOptions{accounts: []pv.Account{acct}})
	ctx := context.Background()

	for _, name := range []string{"a", "b", "c", "d", "e"} {
		if _, err := acct.Upload(ctx, strings.NewReader(name), 1, name); err != nil {
			t.Fatalf("Upload(%q) error = %v", name, err)
		}
	}

	got, err := e.svc.Sweep(ctx)
	if err != nil {
		t.Fatalf("Sweep() error = %v", err)
	}
	if got.NumBlobsQuarantined != 5 {
		t.Errorf("NumBlobsQuarantined = %d, want 5", got.NumBlobsQuarantined)
	}

	want := [][]string{{"blob-001", "blob-002"}, {"blob-003", "blob-004"}, {"blob-005"}}
	if diff := cmp.Diff(want, acct.Batches()); diff != "" {
		t.Errorf("batches mismatch (-want +got):\n%s", diff)
	}
}

func TestSweep_MissingRoot(t *testing.T) {
	e := newEnv(t, envOptions{})
	ctx := context.Background()

	if err := e.svc.Albums().Delete(ctx, e.root()); err != nil {
		t.Fatalf("Delete(root) error = %v", err)
	}

	_, err := e.svc.Sweep(ctx)
	var cv *pv.ConsistencyViolation
	if !errors.As(err, &cv) {
		t.Fatalf("Sweep() error = %v, want *ConsistencyViolation", err)
	}
	if cv.AlbumID != e.root() {
		t.Errorf("AlbumID = %s, want %s", cv.AlbumID, e.root())
	}
}

func TestSweep_ParentCycle(t *testing.T) {
	e := newEnv(t, envOptions{})
	ctx := context.Background()

	child := e.mkAlbum(t, "child", e.root())
	e.mkItem(t, "x.jpg", child.ID, "x")
	if err := e.svc.Albums().Update(ctx, model.AlbumUpdate{ID: e.root(), ParentID: &child.ID}); err != nil {
		t.Fatalf("Update() error = %v", err)
	}

	_, err := e.svc.Sweep(ctx)
	var cv *pv.ConsistencyViolation
	if !errors.As(err, &cv) {
		t.Fatalf("Sweep() error = %v, want *ConsistencyViolation", err)
	}
	if !strings.Contains(cv.Reason, "cycle") {
		t.Errorf("Reason = %q, want mention of cycle", cv.Reason)
	}
	if n := e.itemCount(t); n != 1 {
		t.Errorf("media item count = %d, want 1; a failed sweep must not delete", n)
	}
}

func TestSweep_IsRepeatable(t *testing.T) {
	acct := testutil.NewTestAccount("acct-a", 1<<20)
	e := newEnv(t, envOptions{accounts: []pv.Account{acct}})
	ctx := context.Background()

	if _, err := acct.Upload(ctx, strings.NewReader("stray"), 5, "stray.jpg"); err != nil {
		t.Fatalf("Upload() error = %v", err)
	}
	if _, err := e.svc.Sweep(ctx); err != nil {
		t.Fatalf("first Sweep() error = %v", err)
	}

	got, err := e.svc.Sweep(ctx)
	if err != nil {
		t.Fatalf("second Sweep() error = %v", err)
	}
	if diff := cmp.Diff(&pv.SweepResult{}, got); diff != "" {
		t.Errorf("second SweepResult mismatch (-want +got):\n%s", diff)
	}
}
