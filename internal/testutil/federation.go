package testutil

import (
	"context"
	"testing"

	"pv-go/internal/model"
	"pv-go/internal/pv"
)

// NewTestFederation creates the root album on the first shard and returns a
// federation over shards and accounts rooted there.
func NewTestFederation(t *testing.T, shards []pv.Shard, accounts []pv.Account) *pv.Federation {
	t.Helper()

	var root *model.Album
	err := pv.InSession(context.Background(), shards[0], func(w pv.ShardWriter) error {
		var err error
		root, err = w.CreateAlbum(context.Background(), model.NewAlbum{Name: "root"})
		return err
	})
	if err != nil {
		t.Fatalf("failed to create root album: %v", err)
	}

	fed, err := pv.NewFederation(shards, accounts, root.ID)
	if err != nil {
		t.Fatalf("failed to build federation: %v", err)
	}
	return fed
}
