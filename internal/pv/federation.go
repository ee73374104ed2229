package pv

import (
	"fmt"

	"pv-go/internal/model"
)

// Federation is the immutable registry of shards and accounts shared by every
// component. It is built once at startup and never mutated afterwards.
type Federation struct {
	shards     []Shard
	shardsByID map[model.ShardID]Shard
	accounts   []Account
	accountsBy map[model.AccountID]Account
	root       model.EntityID
}

// NewFederation validates the registries and returns the federation context.
// root may be zero only while the root album is being created.
func NewFederation(shards []Shard, accounts []Account, root model.EntityID) (*Federation, error) {
	if len(shards) == 0 {
		return nil, fmt.Errorf("no shards registered")
	}

	f := &Federation{
		shards:     append([]Shard(nil), shards...),
		shardsByID: make(map[model.ShardID]Shard, len(shards)),
		accounts:   append([]Account(nil), accounts...),
		accountsBy: make(map[model.AccountID]Account, len(accounts)),
		root:       root,
	}

	for _, s := range shards {
		if _, dup := f.shardsByID[s.ID()]; dup {
			return nil, fmt.Errorf("duplicate shard id %q", s.ID())
		}
		f.shardsByID[s.ID()] = s
	}
	for _, a := range accounts {
		if _, dup := f.accountsBy[a.ID()]; dup {
			return nil, fmt.Errorf("duplicate account id %q", a.ID())
		}
		f.accountsBy[a.ID()] = a
	}

	if !root.IsZero() {
		if _, ok := f.shardsByID[root.Shard]; !ok {
			return nil, &CrossShardMismatchError{ID: root}
		}
	}

	return f, nil
}

// Shards returns the registered shards in registration order.
func (f *Federation) Shards() []Shard { return f.shards }

// Accounts returns the registered accounts in registration order.
func (f *Federation) Accounts() []Account { return f.accounts }

// RootAlbumID returns the configured root album.
func (f *Federation) RootAlbumID() model.EntityID { return f.root }

// Shard resolves the shard an id lives on.
func (f *Federation) Shard(id model.EntityID) (Shard, error) {
	s, ok := f.shardsByID[id.Shard]
	if !ok {
		return nil, &CrossShardMismatchError{ID: id}
	}
	return s, nil
}

// Account resolves an account by id.
func (f *Federation) Account(id model.AccountID) (Account, error) {
	a, ok := f.accountsBy[id]
	if !ok {
		return nil, fmt.Errorf("account %q is not registered", id)
	}
	return a, nil
}
