package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"pv-go/internal/account"
	"pv-go/internal/config"
	"pv-go/internal/encryption"
	"pv-go/internal/fs"
	"pv-go/internal/model"
	"pv-go/internal/pv"
	"pv-go/internal/shard"
)

// Options controls how NewPVApp opens the federation.
type Options struct {
	// ConfigPath is where InitRoot saves the new root album id. Empty skips
	// saving.
	ConfigPath string

	// Migrate applies pending shard migrations instead of refusing to open
	// out-of-date shards.
	Migrate bool

	// Stderr, when set, receives Info and above in addition to the log file.
	Stderr io.Writer

	// Clock defaults to pv.RealClock.
	Clock pv.Clock
}

// PVApp is the application layer between the CLI and PVService. It builds
// the federation from config, exposes operations that take raw string ids
// and paths, and releases every backend on Close.
type PVApp struct {
	cfg       *config.Config
	opts      Options
	shards    []*shard.SQLShard
	fed       *pv.Federation
	encryptor pv.Encryptor
	service   *pv.PVService
	logger    pv.Logger
	op        *Operation
	logFile   *os.File
}

// NewPVApp opens every shard and account named in cfg and wires them into a
// PVService. operation names the CLI command being run (e.g. "Backup").
// The caller must call Close when done.
func NewPVApp(ctx context.Context, cfg *config.Config, operation string, opts Options) (*PVApp, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if opts.Clock == nil {
		opts.Clock = pv.RealClock{}
	}

	op := NewOperation(operation, opts.Clock.Now())
	logger, logFile, err := newLogger(cfg.LogDir, op.ID, opts.Stderr)
	if err != nil {
		return nil, fmt.Errorf("creating logger: %w", err)
	}

	a := &PVApp{cfg: cfg, opts: opts, logger: logger, op: op, logFile: logFile}
	if err := a.open(ctx); err != nil {
		a.closeBackends()
		logFile.Close()
		return nil, err
	}

	logger.Info("operation started", "operation", op.Name)
	return a, nil
}

func (a *PVApp) open(ctx context.Context) error {
	var shards []pv.Shard
	for _, sc := range a.cfg.Shards {
		s, err := shard.NewShardFromConfig(sc, a.opts.Migrate)
		if err != nil {
			return fmt.Errorf("opening shard: %w", err)
		}
		a.shards = append(a.shards, s)
		shards = append(shards, s)
	}

	enc, err := encryption.NewEncryptorFromConfig(a.cfg.Encryption)
	if err != nil {
		return fmt.Errorf("creating encryptor: %w", err)
	}
	a.encryptor = enc

	var accounts []pv.Account
	for _, ac := range a.cfg.Accounts {
		acct, err := account.NewAccountFromConfig(ctx, ac, a.cfg.Retry, enc, nil, a.logger)
		if err != nil {
			return fmt.Errorf("opening account: %w", err)
		}
		accounts = append(accounts, acct)
	}

	var root model.EntityID
	if a.cfg.RootAlbumID != "" {
		root, err = model.ParseEntityID(a.cfg.RootAlbumID)
		if err != nil {
			return fmt.Errorf("parsing root_album_id: %w", err)
		}
	}

	return a.wire(shards, accounts, root)
}

// wire builds the federation over shards and accounts with root as its root
// album, and the service on top of it.
func (a *PVApp) wire(shards []pv.Shard, accounts []pv.Account, root model.EntityID) error {
	fed, err := pv.NewFederation(shards, accounts, root)
	if err != nil {
		return fmt.Errorf("building federation: %w", err)
	}
	a.fed = fed
	a.service = pv.NewPVService(fed, fs.OSContentSource{}, a.logger, pv.ServiceOptions{
		UploadConcurrency:   a.cfg.Backup.UploadConcurrency,
		QuarantineContainer: a.cfg.Backup.QuarantineContainer,
	})
	return nil
}

// Service exposes the underlying service.
func (a *PVApp) Service() *pv.PVService { return a.service }

// Operation returns the record of the current run.
func (a *PVApp) Operation() *Operation { return a.op }

func (a *PVApp) requireRoot() error {
	if a.fed.RootAlbumID().IsZero() {
		return errors.New("no root album configured: run `pv root init` first")
	}
	return nil
}

// parseOptionalID parses raw, returning nil for the empty string.
func parseOptionalID(raw string) (*model.EntityID, error) {
	if raw == "" {
		return nil, nil
	}
	id, err := model.ParseEntityID(raw)
	if err != nil {
		return nil, err
	}
	return &id, nil
}

// InitRoot creates the root album, rewires the app around it and records its
// id in the config file. Later calls on the same app see the new root.
func (a *PVApp) InitRoot(ctx context.Context) (*model.Album, error) {
	album, err := a.service.InitRoot(ctx)
	if err != nil {
		return nil, a.op.Record(err)
	}
	if err := a.wire(a.fed.Shards(), a.fed.Accounts(), album.ID); err != nil {
		return album, a.op.Record(err)
	}

	a.cfg.RootAlbumID = album.ID.String()
	if a.opts.ConfigPath != "" {
		if err := config.Save(a.opts.ConfigPath, a.cfg); err != nil {
			return album, a.op.Record(fmt.Errorf("root album %s created but not saved: %w", album.ID, err))
		}
	}
	return album, nil
}

// Status reports shard free space and account usage.
func (a *PVApp) Status(ctx context.Context) (*pv.Status, error) {
	st, err := a.service.Status(ctx)
	return st, a.op.Record(err)
}

// ValidateAccounts checks every account's setup, and the encryption keys
// when any account is encrypted, and joins the failures.
func (a *PVApp) ValidateAccounts(ctx context.Context) error {
	var errs []error
	for _, ac := range a.cfg.Accounts {
		if ac.Encrypted && !a.encryptor.IsConfigured() {
			errs = append(errs, errors.New("encrypted accounts configured but no keys found: run `pv config keys init`"))
			break
		}
	}
	for _, acct := range a.fed.Accounts() {
		if err := acct.ValidateSetup(ctx); err != nil {
			errs = append(errs, fmt.Errorf("account %q: %w", acct.ID(), err))
		}
	}
	return a.op.Record(errors.Join(errs...))
}

// Backup scans dir against the remote tree and applies the differences.
func (a *PVApp) Backup(ctx context.Context, dir string) (*pv.BackupResult, error) {
	if err := a.requireRoot(); err != nil {
		return nil, a.op.Record(err)
	}
	scanner, err := fs.NewScanner(dir, a.cfg.Filesystem.Ignore, a.logger)
	if err != nil {
		return nil, a.op.Record(fmt.Errorf("preparing scan: %w", err))
	}
	a.op.Parameters = scanner.Root()

	result, err := a.service.Backup(ctx, scanner)
	return result, a.op.Record(err)
}

// Sweep runs the consistency sweep.
func (a *PVApp) Sweep(ctx context.Context) (*pv.SweepResult, error) {
	if err := a.requireRoot(); err != nil {
		return nil, a.op.Record(err)
	}
	result, err := a.service.Sweep(ctx)
	return result, a.op.Record(err)
}

// Prune deletes empty albums upward from rawID.
func (a *PVApp) Prune(ctx context.Context, rawID string) (int, error) {
	a.op.Parameters = rawID
	id, err := model.ParseEntityID(rawID)
	if err != nil {
		return 0, a.op.Record(err)
	}
	n, err := a.service.Prune(ctx, id)
	return n, a.op.Record(err)
}

// ListAlbums lists the children of rawParent, or of the root when empty.
func (a *PVApp) ListAlbums(ctx context.Context, rawParent string) ([]*model.Album, error) {
	if err := a.requireRoot(); err != nil {
		return nil, a.op.Record(err)
	}
	parent, err := parseOptionalID(rawParent)
	if err != nil {
		return nil, a.op.Record(err)
	}
	albums, err := a.service.ListAlbums(ctx, parent)
	return albums, a.op.Record(err)
}

// CreateAlbum creates name under rawParent, or under the root when empty.
func (a *PVApp) CreateAlbum(ctx context.Context, name, rawParent string) (*model.Album, error) {
	if err := a.requireRoot(); err != nil {
		return nil, a.op.Record(err)
	}
	a.op.Parameters = name
	parent, err := parseOptionalID(rawParent)
	if err != nil {
		return nil, a.op.Record(err)
	}
	album, err := a.service.CreateAlbum(ctx, name, parent)
	return album, a.op.Record(err)
}

func (a *PVApp) RenameAlbum(ctx context.Context, rawID, name string) error {
	a.op.Parameters = rawID
	id, err := model.ParseEntityID(rawID)
	if err != nil {
		return a.op.Record(err)
	}
	return a.op.Record(a.service.RenameAlbum(ctx, id, name))
}

func (a *PVApp) MoveAlbum(ctx context.Context, rawID, rawParent string) error {
	if err := a.requireRoot(); err != nil {
		return a.op.Record(err)
	}
	a.op.Parameters = rawID
	id, err := model.ParseEntityID(rawID)
	if err != nil {
		return a.op.Record(err)
	}
	parent, err := model.ParseEntityID(rawParent)
	if err != nil {
		return a.op.Record(err)
	}
	return a.op.Record(a.service.MoveAlbum(ctx, id, parent))
}

// DeleteAlbum removes an empty album and returns how many albums went away.
func (a *PVApp) DeleteAlbum(ctx context.Context, rawID string) (int, error) {
	if err := a.requireRoot(); err != nil {
		return 0, a.op.Record(err)
	}
	a.op.Parameters = rawID
	id, err := model.ParseEntityID(rawID)
	if err != nil {
		return 0, a.op.Record(err)
	}
	n, err := a.service.DeleteAlbum(ctx, id)
	return n, a.op.Record(err)
}

func (a *PVApp) ListMedia(ctx context.Context, rawAlbum string) ([]*model.MediaItem, error) {
	id, err := model.ParseEntityID(rawAlbum)
	if err != nil {
		return nil, a.op.Record(err)
	}
	items, err := a.service.ListMedia(ctx, id)
	return items, a.op.Record(err)
}

func (a *PVApp) MoveMedia(ctx context.Context, rawID, rawAlbum string) error {
	a.op.Parameters = rawID
	id, err := model.ParseEntityID(rawID)
	if err != nil {
		return a.op.Record(err)
	}
	album, err := model.ParseEntityID(rawAlbum)
	if err != nil {
		return a.op.Record(err)
	}
	return a.op.Record(a.service.MoveMedia(ctx, id, album))
}

// DeleteMedia removes a media item and returns how many albums were pruned.
func (a *PVApp) DeleteMedia(ctx context.Context, rawID string) (int, error) {
	a.op.Parameters = rawID
	id, err := model.ParseEntityID(rawID)
	if err != nil {
		return 0, a.op.Record(err)
	}
	n, err := a.service.DeleteMedia(ctx, id)
	return n, a.op.Record(err)
}

// FetchMedia downloads the content of rawID into outPath. When the item's
// account is encrypted, passphrase is asked for the key that unlocks it.
// outPath is only created once the download succeeds.
func (a *PVApp) FetchMedia(ctx context.Context, rawID, outPath string, passphrase func() (string, error)) (*model.MediaItem, error) {
	a.op.Parameters = rawID
	id, err := model.ParseEntityID(rawID)
	if err != nil {
		return nil, a.op.Record(err)
	}
	item, err := a.service.Media().Get(ctx, id)
	if err != nil {
		return nil, a.op.Record(err)
	}
	if err := a.unlock(item.ExternalAccountID, passphrase); err != nil {
		return nil, a.op.Record(err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(outPath), ".pv-fetch-*")
	if err != nil {
		return nil, a.op.Record(fmt.Errorf("creating output file: %w", err))
	}
	defer os.Remove(tmp.Name())

	if _, err := a.service.FetchMedia(ctx, id, tmp); err != nil {
		tmp.Close()
		return nil, a.op.Record(err)
	}
	if err := tmp.Close(); err != nil {
		return nil, a.op.Record(fmt.Errorf("closing output file: %w", err))
	}
	if err := os.Rename(tmp.Name(), outPath); err != nil {
		return nil, a.op.Record(fmt.Errorf("writing %s: %w", outPath, err))
	}
	return item, nil
}

// unlock gives a locked encrypted account a decryption context.
func (a *PVApp) unlock(id model.AccountID, passphrase func() (string, error)) error {
	acct, err := a.fed.Account(id)
	if err != nil {
		return err
	}
	enc, ok := acct.(*account.EncryptedAccount)
	if !ok || !enc.Locked() {
		return nil
	}
	if passphrase == nil {
		return account.ErrLocked
	}

	p, err := passphrase()
	if err != nil {
		return fmt.Errorf("reading passphrase: %w", err)
	}
	dec, err := a.encryptor.Unlock(p)
	if err != nil {
		return fmt.Errorf("unlocking key: %w", err)
	}
	enc.SetDecryptionContext(dec)
	return nil
}

// Close logs the outcome of the operation and closes every shard.
func (a *PVApp) Close() error {
	a.logger.Info("operation finished",
		"operation", a.op.Name,
		"parameters", a.op.Parameters,
		"status", a.op.Status,
		"duration", a.opts.Clock.Now().Sub(a.op.StartedAt).Truncate(time.Millisecond).String(),
	)

	err := a.closeBackends()
	if a.logFile != nil {
		a.logFile.Close()
	}
	return err
}

func (a *PVApp) closeBackends() error {
	var errs []error
	for _, s := range a.shards {
		if err := s.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing shard %q: %w", s.ID(), err))
		}
	}
	return errors.Join(errs...)
}

// MigrateShards opens every shard with pending migrations applied and
// returns the ids migrated.
func MigrateShards(cfg *config.Config) ([]model.ShardID, error) {
	var ids []model.ShardID
	for _, sc := range cfg.Shards {
		s, err := shard.NewShardFromConfig(sc, true)
		if err != nil {
			return ids, err
		}
		ids = append(ids, s.ID())
		if err := s.Close(); err != nil {
			return ids, fmt.Errorf("closing shard %q: %w", s.ID(), err)
		}
	}
	return ids, nil
}

// SetupKeys generates the key pair used by encrypted accounts.
func SetupKeys(cfg *config.Config, passphrase string) error {
	enc, err := encryption.NewEncryptorFromConfig(cfg.Encryption)
	if err != nil {
		return fmt.Errorf("creating encryptor: %w", err)
	}
	if err := enc.Setup(passphrase); err != nil {
		return fmt.Errorf("generating keys: %w", err)
	}
	return nil
}
