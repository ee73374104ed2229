package pv_test

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"pv-go/internal/fs"
	"pv-go/internal/model"
	"pv-go/internal/pv"
	"pv-go/internal/testutil"
)

func TestPVService_InitRoot(t *testing.T) {
	ctx := context.Background()

	t.Run("creates a parentless root", func(t *testing.T) {
		shard := testutil.NewTestShard(t, "shard-a", 1<<30)
		fed, err := pv.NewFederation([]pv.Shard{shard}, nil, model.EntityID{})
		if err != nil {
			t.Fatalf("NewFederation() error = %v", err)
		}
		svc := pv.NewPVService(fed, nil, pv.NewNopLogger(), pv.ServiceOptions{})

		root, err := svc.InitRoot(ctx)
		if err != nil {
			t.Fatalf("InitRoot() error = %v", err)
		}
		if root.ParentID != nil {
			t.Errorf("ParentID = %v, want nil", root.ParentID)
		}
		if root.Name != pv.RootAlbumName {
			t.Errorf("Name = %q, want %q", root.Name, pv.RootAlbumName)
		}
	})

	t.Run("refuses when the root exists", func(t *testing.T) {
		e := newEnv(t, envOptions{})
		if _, err := e.svc.InitRoot(ctx); err == nil {
			t.Fatal("InitRoot() error = nil, want error")
		}
		if n := e.albumCount(t); n != 1 {
			t.Errorf("album count = %d, want 1", n)
		}
	})
}

func TestPVService_Status(t *testing.T) {
	e := newEnv(t, envOptions{shardCapacities: []int64{1 << 30, 1 << 29}})
	ctx := context.Background()

	e.mkItem(t, "x.jpg", e.root(), "12345")

	st, err := e.svc.Status(ctx)
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if st.RootAlbumID != e.root() {
		t.Errorf("RootAlbumID = %s, want %s", st.RootAlbumID, e.root())
	}
	if len(st.Shards) != 2 || st.Shards[0].ID != "shard-a" || st.Shards[1].ID != "shard-b" {
		t.Fatalf("Shards = %+v", st.Shards)
	}
	for _, s := range st.Shards {
		if s.FreeSpace <= 0 {
			t.Errorf("shard %s FreeSpace = %d, want positive", s.ID, s.FreeSpace)
		}
	}
	want := []pv.AccountStatus{{ID: "acct-a", Usage: 5, Limit: 1 << 20}}
	if diff := cmp.Diff(want, st.Accounts); diff != "" {
		t.Errorf("Accounts mismatch (-want +got):\n%s", diff)
	}
}

func TestPVService_Albums(t *testing.T) {
	ctx := context.Background()

	t.Run("create defaults to the root", func(t *testing.T) {
		e := newEnv(t, envOptions{})
		a, err := e.svc.CreateAlbum(ctx, "Trips", nil)
		if err != nil {
			t.Fatalf("CreateAlbum() error = %v", err)
		}
		if a.ParentID == nil || *a.ParentID != e.root() {
			t.Errorf("ParentID = %v, want root", a.ParentID)
		}

		listed, err := e.svc.ListAlbums(ctx, nil)
		if err != nil {
			t.Fatalf("ListAlbums() error = %v", err)
		}
		if len(listed) != 1 || listed[0].ID != a.ID {
			t.Errorf("ListAlbums() = %+v, want [%s]", listed, a.ID)
		}
	})

	t.Run("create validates input", func(t *testing.T) {
		e := newEnv(t, envOptions{})
		if _, err := e.svc.CreateAlbum(ctx, "", nil); err == nil {
			t.Error("CreateAlbum(\"\") error = nil, want error")
		}
		missing := model.EntityID{Shard: "shard-a", Local: "missing"}
		var nf *pv.NotFoundError
		if _, err := e.svc.CreateAlbum(ctx, "x", &missing); !errors.As(err, &nf) {
			t.Errorf("CreateAlbum(missing parent) error = %v, want *NotFoundError", err)
		}
		if _, err := e.svc.ListAlbums(ctx, &missing); !errors.As(err, &nf) {
			t.Errorf("ListAlbums(missing) error = %v, want *NotFoundError", err)
		}
	})

	t.Run("rename", func(t *testing.T) {
		e := newEnv(t, envOptions{})
		a := e.mkAlbum(t, "old", e.root())
		if err := e.svc.RenameAlbum(ctx, a.ID, "new"); err != nil {
			t.Fatalf("RenameAlbum() error = %v", err)
		}
		got, err := e.svc.Albums().Get(ctx, a.ID)
		if err != nil {
			t.Fatalf("Get() error = %v", err)
		}
		if got.Name != "new" {
			t.Errorf("Name = %q, want new", got.Name)
		}
		if err := e.svc.RenameAlbum(ctx, a.ID, ""); err == nil {
			t.Error("RenameAlbum(\"\") error = nil, want error")
		}
	})

	t.Run("move prunes the old parent", func(t *testing.T) {
		e := newEnv(t, envOptions{})
		src := e.mkAlbum(t, "src", e.root())
		dst := e.mkAlbum(t, "dst", e.root())
		moving := e.mkAlbum(t, "moving", src.ID)
		e.mkItem(t, "x.jpg", moving.ID, "x")

		if err := e.svc.MoveAlbum(ctx, moving.ID, dst.ID); err != nil {
			t.Fatalf("MoveAlbum() error = %v", err)
		}

		got, err := e.svc.Albums().Get(ctx, moving.ID)
		if err != nil {
			t.Fatalf("Get() error = %v", err)
		}
		if got.ParentID == nil || *got.ParentID != dst.ID {
			t.Errorf("ParentID = %v, want %s", got.ParentID, dst.ID)
		}
		var nf *pv.NotFoundError
		if _, err := e.svc.Albums().Get(ctx, src.ID); !errors.As(err, &nf) {
			t.Errorf("old parent should be pruned, Get() error = %v", err)
		}
	})

	t.Run("move rejects cycles and the root", func(t *testing.T) {
		e := newEnv(t, envOptions{})
		a := e.mkAlbum(t, "a", e.root())
		b := e.mkAlbum(t, "b", a.ID)
		c := e.mkAlbum(t, "c", b.ID)

		if err := e.svc.MoveAlbum(ctx, a.ID, c.ID); err == nil {
			t.Error("MoveAlbum(a beneath c) error = nil, want error")
		}
		if err := e.svc.MoveAlbum(ctx, a.ID, a.ID); err == nil {
			t.Error("MoveAlbum(a beneath a) error = nil, want error")
		}
		if err := e.svc.MoveAlbum(ctx, e.root(), c.ID); err == nil {
			t.Error("MoveAlbum(root) error = nil, want error")
		}

		got, err := e.svc.Albums().Get(ctx, a.ID)
		if err != nil {
			t.Fatalf("Get() error = %v", err)
		}
		if got.ParentID == nil || *got.ParentID != e.root() {
			t.Errorf("ParentID = %v, want root", got.ParentID)
		}
	})

	t.Run("delete", func(t *testing.T) {
		e := newEnv(t, envOptions{})
		a := e.mkAlbum(t, "a", e.root())
		b := e.mkAlbum(t, "b", a.ID)
		full := e.mkAlbum(t, "full", e.root())
		e.mkItem(t, "x.jpg", full.ID, "x")

		if _, err := e.svc.DeleteAlbum(ctx, e.root()); err == nil {
			t.Error("DeleteAlbum(root) error = nil, want error")
		}
		if _, err := e.svc.DeleteAlbum(ctx, full.ID); err == nil {
			t.Error("DeleteAlbum(non-empty) error = nil, want error")
		}
		if _, err := e.svc.DeleteAlbum(ctx, a.ID); err == nil {
			t.Error("DeleteAlbum(album with children) error = nil, want error")
		}

		n, err := e.svc.DeleteAlbum(ctx, b.ID)
		if err != nil {
			t.Fatalf("DeleteAlbum() error = %v", err)
		}
		if n != 2 {
			t.Errorf("DeleteAlbum() = %d, want 2", n)
		}
		if got := e.albumCount(t); got != 2 {
			t.Errorf("album count = %d, want 2", got)
		}
	})
}

func TestPVService_Media(t *testing.T) {
	ctx := context.Background()

	t.Run("move prunes the source album", func(t *testing.T) {
		e := newEnv(t, envOptions{})
		src := e.mkAlbum(t, "src", e.root())
		dst := e.mkAlbum(t, "dst", e.root())
		item := e.mkItem(t, "x.jpg", src.ID, "x")

		if err := e.svc.MoveMedia(ctx, item.ID, dst.ID); err != nil {
			t.Fatalf("MoveMedia() error = %v", err)
		}

		listed, err := e.svc.ListMedia(ctx, dst.ID)
		if err != nil {
			t.Fatalf("ListMedia() error = %v", err)
		}
		if len(listed) != 1 || listed[0].ID != item.ID {
			t.Errorf("ListMedia(dst) = %+v, want [%s]", listed, item.ID)
		}
		var nf *pv.NotFoundError
		if _, err := e.svc.Albums().Get(ctx, src.ID); !errors.As(err, &nf) {
			t.Errorf("source album should be pruned, Get() error = %v", err)
		}
	})

	t.Run("move to a missing album", func(t *testing.T) {
		e := newEnv(t, envOptions{})
		item := e.mkItem(t, "x.jpg", e.root(), "x")
		missing := model.EntityID{Shard: "shard-a", Local: "missing"}

		var nf *pv.NotFoundError
		if err := e.svc.MoveMedia(ctx, item.ID, missing); !errors.As(err, &nf) {
			t.Errorf("MoveMedia() error = %v, want *NotFoundError", err)
		}
	})

	t.Run("delete keeps the blob for the sweep", func(t *testing.T) {
		acct := testutil.NewTestAccount("acct-a", 1<<20)
		e := newEnv(t, envOptions{accounts: []pv.Account{acct}})
		a := e.mkAlbum(t, "a", e.root())
		item := e.mkItem(t, "x.jpg", a.ID, "x")

		n, err := e.svc.DeleteMedia(ctx, item.ID)
		if err != nil {
			t.Fatalf("DeleteMedia() error = %v", err)
		}
		if n != 1 {
			t.Errorf("DeleteMedia() pruned %d albums, want 1", n)
		}

		blobs, err := acct.ListBlobIDs(ctx)
		if err != nil {
			t.Fatalf("ListBlobIDs() error = %v", err)
		}
		if diff := cmp.Diff([]string{item.ExternalBlobID}, blobs); diff != "" {
			t.Errorf("blobs mismatch (-want +got):\n%s", diff)
		}

		res, err := e.svc.Sweep(ctx)
		if err != nil {
			t.Fatalf("Sweep() error = %v", err)
		}
		if res.NumBlobsQuarantined != 1 {
			t.Errorf("NumBlobsQuarantined = %d, want 1", res.NumBlobsQuarantined)
		}
	})

	t.Run("fetch", func(t *testing.T) {
		e := newEnv(t, envOptions{})
		item := e.mkItem(t, "x.jpg", e.root(), "picture bytes")

		var buf bytes.Buffer
		got, err := e.svc.FetchMedia(ctx, item.ID, &buf)
		if err != nil {
			t.Fatalf("FetchMedia() error = %v", err)
		}
		if got.ID != item.ID {
			t.Errorf("FetchMedia() item = %s, want %s", got.ID, item.ID)
		}
		if buf.String() != "picture bytes" {
			t.Errorf("content = %q, want %q", buf.String(), "picture bytes")
		}

		var nf *pv.NotFoundError
		if _, err := e.svc.FetchMedia(ctx, model.EntityID{Shard: "shard-a", Local: "missing"}, &buf); !errors.As(err, &nf) {
			t.Errorf("FetchMedia(missing) error = %v, want *NotFoundError", err)
		}
	})
}

func writeFile(t *testing.T, root, rel, data string) {
	t.Helper()
	p := filepath.Join(root, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		t.Fatalf("MkdirAll() error = %v", err)
	}
	if err := os.WriteFile(p, []byte(data), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
}

func TestPVService_BackupDirectory(t *testing.T) {
	shard := testutil.NewTestShard(t, "shard-a", 1<<30)
	acct := testutil.NewTestAccount("acct-a", 1<<20)
	fed := testutil.NewTestFederation(t, []pv.Shard{shard}, []pv.Account{acct})
	svc := pv.NewPVService(fed, fs.OSContentSource{}, pv.NewNopLogger(), pv.ServiceOptions{UploadConcurrency: 2})
	ctx := context.Background()

	dir := t.TempDir()
	writeFile(t, dir, "Trips/a.jpg", "aaa")
	writeFile(t, dir, "Trips/b.jpg", "bbb")
	writeFile(t, dir, "top.jpg", "top")
	writeFile(t, dir, "Trips/scratch.tmp", "ignored")
	writeFile(t, dir, fs.IgnoreFileName, "*.tmp\n")

	scanner, err := fs.NewScanner(dir, nil, pv.NewNopLogger())
	if err != nil {
		t.Fatalf("NewScanner() error = %v", err)
	}

	got, err := svc.Backup(ctx, scanner)
	if err != nil {
		t.Fatalf("first Backup() error = %v", err)
	}
	want := &pv.BackupResult{NumAlbumsCreated: 1, NumMediaItemsAdded: 3}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("first BackupResult mismatch (-want +got):\n%s", diff)
	}

	got, err = svc.Backup(ctx, scanner)
	if err != nil {
		t.Fatalf("second Backup() error = %v", err)
	}
	if diff := cmp.Diff(&pv.BackupResult{}, got); diff != "" {
		t.Errorf("second BackupResult mismatch (-want +got):\n%s", diff)
	}

	writeFile(t, dir, "Trips/a.jpg", "changed")
	if err := os.Remove(filepath.Join(dir, "top.jpg")); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}

	got, err = svc.Backup(ctx, scanner)
	if err != nil {
		t.Fatalf("third Backup() error = %v", err)
	}
	want = &pv.BackupResult{NumMediaItemsAdded: 1, NumMediaItemsDeleted: 2}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("third BackupResult mismatch (-want +got):\n%s", diff)
	}

	index, err := pv.BuildTreeIndex(ctx, svc.Albums(), svc.Media(), fed.RootAlbumID())
	if err != nil {
		t.Fatalf("BuildTreeIndex() error = %v", err)
	}
	if diff := cmp.Diff([]string{"a.jpg", "b.jpg"}, index.Files("Trips")); diff != "" {
		t.Errorf("Files(Trips) mismatch (-want +got):\n%s", diff)
	}
	if files := index.Files(""); len(files) != 0 {
		t.Errorf("Files(\"\") = %v, want none", files)
	}
	if hash, _ := index.Lookup("Trips", "a.jpg"); hash != testutil.SHA256Hex([]byte("changed")) {
		t.Errorf("Trips/a.jpg hash = %s, want hash of new content", hash)
	}
}
