package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"pv-go/internal/app"
	"pv-go/internal/config"
	"pv-go/internal/pv"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// readConfig loads the config file named by the defaults.
func readConfig() (*config.Config, string, error) {
	defaults, err := app.GetDefaults()
	if err != nil {
		return nil, "", fmt.Errorf("getting defaults: %w", err)
	}

	cfg, err := config.ReadFromFile(defaults.ConfigPath)
	if err != nil {
		return nil, "", fmt.Errorf("reading config: %w", err)
	}
	return cfg, defaults.ConfigPath, nil
}

// newApp reads the config and creates a PVApp. The caller must defer app.Close().
// operation identifies the CLI command being run (e.g. "Backup", "Sweep").
func newApp(cmd *cobra.Command, operation string) (*app.PVApp, error) {
	cfg, path, err := readConfig()
	if err != nil {
		return nil, err
	}

	a, err := app.NewPVApp(cmd.Context(), cfg, operation, app.Options{
		ConfigPath: path,
		Stderr:     os.Stderr,
	})
	if err != nil {
		return nil, fmt.Errorf("initializing app: %w", err)
	}
	return a, nil
}

// readPassphrase prompts on stderr and reads a line from the terminal
// without echo.
func readPassphrase(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	b, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

var rootCmd = &cobra.Command{
	Use:          "pv",
	Short:        "Sharded photo and video library",
	SilenceUsage: true,
}

// config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		cfg := config.NewConfig(defaults.BaseDir)
		if err := config.Init(defaults.ConfigPath, cfg); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}

		fmt.Printf("Configuration initialized at %s\n", defaults.ConfigPath)
		fmt.Printf("Base Dir: %s\n", cfg.BaseDir)
		fmt.Println("Next: pv shard migrate && pv root init")
		return nil
	},
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "View configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, path, err := readConfig()
		if err != nil {
			return err
		}

		root := cfg.RootAlbumID
		if root == "" {
			root = "(not initialized)"
		}
		fmt.Printf("Configuration from %s:\n\n", path)
		fmt.Printf("Root:     %s\n", root)
		fmt.Printf("Base Dir: %s\n", cfg.BaseDir)
		fmt.Printf("Log Dir:  %s\n", cfg.LogDir)
		for _, s := range cfg.Shards {
			fmt.Printf("Shard:    %-12s %-8s capacity=%d\n", s.ID, s.Type, s.CapacityBytes)
		}
		for _, a := range cfg.Accounts {
			enc := ""
			if a.Encrypted {
				enc = " encrypted"
			}
			fmt.Printf("Account:  %-12s %-10s capacity=%d%s\n", a.ID, a.Type, a.CapacityBytes, enc)
		}
		return nil
	},
}

var configKeysCmd = &cobra.Command{
	Use:   "keys",
	Short: "Manage encryption keys",
}

var configKeysInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Generate the key pair for encrypted accounts",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := readConfig()
		if err != nil {
			return err
		}

		p, err := readPassphrase("Passphrase: ")
		if err != nil {
			return fmt.Errorf("reading passphrase: %w", err)
		}
		confirm, err := readPassphrase("Repeat passphrase: ")
		if err != nil {
			return fmt.Errorf("reading passphrase: %w", err)
		}
		if p != confirm {
			return errors.New("passphrases do not match")
		}

		if err := app.SetupKeys(cfg, p); err != nil {
			return err
		}
		fmt.Printf("Keys written to %s and %s\n", cfg.Encryption.PublicKeyPath, cfg.Encryption.PrivateKeyPath)
		return nil
	},
}

// shard command
var shardCmd = &cobra.Command{
	Use:   "shard",
	Short: "Manage metadata shards",
}

var shardMigrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending schema migrations to every shard",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := readConfig()
		if err != nil {
			return err
		}

		ids, err := app.MigrateShards(cfg)
		for _, id := range ids {
			fmt.Printf("Migrated shard %s\n", id)
		}
		return err
	},
}

// root command
var rootAlbumCmd = &cobra.Command{
	Use:   "root",
	Short: "Manage the root album",
}

var rootInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create the root album",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, "InitRoot")
		if err != nil {
			return err
		}
		defer a.Close()

		album, err := a.InitRoot(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Printf("Root album: %s\n", album.ID)
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show shard free space and account usage",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, "Status")
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.ValidateAccounts(cmd.Context()); err != nil {
			return fmt.Errorf("validating accounts: %w", err)
		}
		st, err := a.Status(cmd.Context())
		if err != nil {
			return err
		}

		if st.RootAlbumID.IsZero() {
			fmt.Println("Root:  (not initialized)")
		} else {
			fmt.Printf("Root:  %s\n", st.RootAlbumID)
		}
		for _, s := range st.Shards {
			fmt.Printf("shard    %-12s free=%d\n", s.ID, s.FreeSpace)
		}
		for _, acct := range st.Accounts {
			fmt.Printf("account  %-12s used=%d limit=%d\n", acct.ID, acct.Usage, acct.Limit)
		}
		return nil
	},
}

var backupCmd = &cobra.Command{
	Use:   "backup DIR",
	Short: "Back up a directory into the album tree",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, "Backup")
		if err != nil {
			return err
		}
		defer a.Close()

		result, err := a.Backup(cmd.Context(), args[0])
		var uploadErr *pv.UploadError
		if err != nil && !errors.As(err, &uploadErr) {
			return fmt.Errorf("backup failed: %w", err)
		}

		fmt.Printf("Albums:  %d created, %d deleted\n", result.NumAlbumsCreated, result.NumAlbumsDeleted)
		fmt.Printf("Media:   %d added, %d deleted\n", result.NumMediaItemsAdded, result.NumMediaItemsDeleted)
		if uploadErr != nil {
			for _, f := range uploadErr.Failures {
				fmt.Fprintf(os.Stderr, "failed: %s: %v\n", f.Diff.FilePath, f.Err)
			}
			return fmt.Errorf("%d upload(s) failed", len(uploadErr.Failures))
		}
		return nil
	},
}

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Delete unreachable metadata and quarantine orphaned blobs",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, "Sweep")
		if err != nil {
			return err
		}
		defer a.Close()

		result, err := a.Sweep(cmd.Context())
		if err != nil {
			return fmt.Errorf("sweep failed: %w", err)
		}
		fmt.Printf("Albums deleted:      %d\n", result.NumAlbumsDeleted)
		fmt.Printf("Media deleted:       %d\n", result.NumMediaItemsDeleted)
		fmt.Printf("Blobs quarantined:   %d\n", result.NumBlobsQuarantined)
		fmt.Printf("Empty albums pruned: %d\n", result.NumAlbumsPruned)
		return nil
	},
}

var pruneCmd = &cobra.Command{
	Use:   "prune ALBUM_ID",
	Short: "Delete empty albums upward from an album",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, "Prune")
		if err != nil {
			return err
		}
		defer a.Close()

		n, err := a.Prune(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		fmt.Printf("Pruned %d album(s)\n", n)
		return nil
	},
}

// album command
var albumCmd = &cobra.Command{
	Use:   "album",
	Short: "Manage albums",
}

var albumLsCmd = &cobra.Command{
	Use:   "ls [ID]",
	Short: "List child albums (of the root by default)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, "ListAlbums")
		if err != nil {
			return err
		}
		defer a.Close()

		parent := ""
		if len(args) > 0 {
			parent = args[0]
		}
		albums, err := a.ListAlbums(cmd.Context(), parent)
		if err != nil {
			return err
		}
		if len(albums) == 0 {
			fmt.Println("No albums.")
			return nil
		}
		for _, album := range albums {
			fmt.Printf("%-24s  %s\n", album.ID, album.Name)
		}
		return nil
	},
}

var albumCreateCmd = &cobra.Command{
	Use:   "create NAME",
	Short: "Create an album",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		parent, _ := cmd.Flags().GetString("parent")

		a, err := newApp(cmd, "CreateAlbum")
		if err != nil {
			return err
		}
		defer a.Close()

		album, err := a.CreateAlbum(cmd.Context(), args[0], parent)
		if err != nil {
			return err
		}
		fmt.Printf("Created album %s\n", album.ID)
		return nil
	},
}

var albumRenameCmd = &cobra.Command{
	Use:   "rename ID NAME",
	Short: "Rename an album",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, "RenameAlbum")
		if err != nil {
			return err
		}
		defer a.Close()

		return a.RenameAlbum(cmd.Context(), args[0], args[1])
	},
}

var albumMoveCmd = &cobra.Command{
	Use:   "move ID PARENT_ID",
	Short: "Move an album under another album",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, "MoveAlbum")
		if err != nil {
			return err
		}
		defer a.Close()

		return a.MoveAlbum(cmd.Context(), args[0], args[1])
	},
}

var albumRmCmd = &cobra.Command{
	Use:   "rm ID",
	Short: "Delete an empty album",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, "DeleteAlbum")
		if err != nil {
			return err
		}
		defer a.Close()

		n, err := a.DeleteAlbum(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		fmt.Printf("Deleted %d album(s)\n", n)
		return nil
	},
}

// media command
var mediaCmd = &cobra.Command{
	Use:   "media",
	Short: "Manage media items",
}

var mediaLsCmd = &cobra.Command{
	Use:   "ls ALBUM_ID",
	Short: "List the media items of an album",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, "ListMedia")
		if err != nil {
			return err
		}
		defer a.Close()

		items, err := a.ListMedia(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if len(items) == 0 {
			fmt.Println("No media items.")
			return nil
		}
		for _, item := range items {
			fmt.Printf("%-24s  %-12s  %s  %s\n",
				item.ID,
				item.MimeType,
				item.DateTaken.Format("2006-01-02 15:04:05"),
				item.FileName,
			)
		}
		return nil
	},
}

var mediaMoveCmd = &cobra.Command{
	Use:   "move ID ALBUM_ID",
	Short: "Move a media item to another album",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, "MoveMedia")
		if err != nil {
			return err
		}
		defer a.Close()

		return a.MoveMedia(cmd.Context(), args[0], args[1])
	},
}

var mediaRmCmd = &cobra.Command{
	Use:   "rm ID",
	Short: "Delete a media item",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, "DeleteMedia")
		if err != nil {
			return err
		}
		defer a.Close()

		n, err := a.DeleteMedia(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if n > 0 {
			fmt.Printf("Pruned %d empty album(s)\n", n)
		}
		return nil
	},
}

var mediaFetchCmd = &cobra.Command{
	Use:   "fetch ID FILE",
	Short: "Download a media item's content",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, "FetchMedia")
		if err != nil {
			return err
		}
		defer a.Close()

		out, err := filepath.Abs(args[1])
		if err != nil {
			return fmt.Errorf("resolving path: %w", err)
		}

		item, err := a.FetchMedia(cmd.Context(), args[0], out, func() (string, error) {
			return readPassphrase("Passphrase: ")
		})
		if err != nil {
			return err
		}
		fmt.Printf("Fetched %s to %s\n", item.FileName, out)
		return nil
	},
}

func init() {
	// config subcommands
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configListCmd)
	configCmd.AddCommand(configKeysCmd)
	configKeysCmd.AddCommand(configKeysInitCmd)

	shardCmd.AddCommand(shardMigrateCmd)
	rootAlbumCmd.AddCommand(rootInitCmd)

	// album subcommands
	albumCmd.AddCommand(albumLsCmd)
	albumCmd.AddCommand(albumCreateCmd)
	albumCreateCmd.Flags().StringP("parent", "p", "", "Parent album id (default: root)")
	albumCmd.AddCommand(albumRenameCmd)
	albumCmd.AddCommand(albumMoveCmd)
	albumCmd.AddCommand(albumRmCmd)

	// media subcommands
	mediaCmd.AddCommand(mediaLsCmd)
	mediaCmd.AddCommand(mediaMoveCmd)
	mediaCmd.AddCommand(mediaRmCmd)
	mediaCmd.AddCommand(mediaFetchCmd)

	// root commands
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(shardCmd)
	rootCmd.AddCommand(rootAlbumCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(backupCmd)
	rootCmd.AddCommand(sweepCmd)
	rootCmd.AddCommand(pruneCmd)
	rootCmd.AddCommand(albumCmd)
	rootCmd.AddCommand(mediaCmd)
}
