package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

var purgeCmd = &cobra.Command{
	Use:   "purge [SESSION...]",
	Short: "Delete cached entries",
	Long: `Delete cache sessions from disk, or every entry under a bucket prefix.

Sessions held by a running process are skipped.

Examples:
  # Delete one session
  tiercache purge default

  # Delete every idle session
  tiercache purge --all

  # Delete every object under the prefix in a bucket
  tiercache purge --gcs-bucket my-bucket --prefix tiercache`,
	RunE: runPurge,
}

var (
	purgeAll    bool
	purgeRemote remoteFlags
)

// errSessionInUse is returned when purging a session another process holds.
var errSessionInUse = errors.New("session is in use")

func init() {
	purgeCmd.Flags().BoolVar(&purgeAll, "all", false, "delete every idle session")
	purgeRemote.register(purgeCmd)
	rootCmd.AddCommand(purgeCmd)
}

func runPurge(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()

	if purgeRemote.enabled() {
		if len(args) > 0 || purgeAll {
			return errors.New("session arguments and --all cannot be combined with a bucket")
		}
		st, err := purgeRemote.open(cmd.Context())
		if err != nil {
			return err
		}
		defer st.Close()
		n, err := st.Purge(cmd.Context())
		if err != nil {
			return fmt.Errorf("purging bucket: %w", err)
		}
		fmt.Fprintf(out, "Deleted %d objects.\n", n)
		return nil
	}

	names := args
	if purgeAll {
		sessions, err := listSessions(cacheDir)
		if err != nil {
			return err
		}
		names = names[:0:0]
		for _, s := range sessions {
			if !s.InUse {
				names = append(names, s.Name)
			}
		}
	}
	if len(names) == 0 {
		return errors.New("no sessions given; pass session names or --all")
	}

	var errs []error
	for _, name := range names {
		if err := purgeSession(cacheDir, name); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
			continue
		}
		fmt.Fprintf(out, "Deleted session %s.\n", name)
	}
	return errors.Join(errs...)
}

// purgeSession removes root/sessions/name and its lock file.
func purgeSession(root, name string) error {
	if name == "" || name != filepath.Base(name) || name == "." || name == ".." {
		return fmt.Errorf("invalid session name %q", name)
	}
	sessionsDir := filepath.Join(root, "sessions")
	dir := filepath.Join(sessionsDir, name)
	if _, err := os.Stat(dir); err != nil {
		return fmt.Errorf("session not found: %w", err)
	}
	lockPath := filepath.Join(sessionsDir, name+".lock")
	if sessionLocked(lockPath) {
		return errSessionInUse
	}
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("removing session directory: %w", err)
	}
	if err := os.Remove(lockPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("removing lock file: %w", err)
	}
	return nil
}
