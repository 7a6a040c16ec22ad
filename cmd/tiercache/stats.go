package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/gofrs/flock"
	"github.com/spf13/cobra"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show disk usage of cache sessions",
	Long: `Display statistics about the cache sessions on disk including:
- Number of entries per session
- Size on disk per session
- Whether another process currently holds the session`,
	Args: cobra.NoArgs,
	RunE: runStats,
}

func init() {
	rootCmd.AddCommand(statsCmd)
}

type sessionInfo struct {
	Name    string
	Entries int
	Size    int64
	InUse   bool
}

func runStats(cmd *cobra.Command, args []string) error {
	sessions, err := listSessions(cacheDir)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if len(sessions) == 0 {
		fmt.Fprintln(out, "No sessions found in cache directory.")
		return nil
	}

	var entries int
	var total int64
	fmt.Fprintf(out, "Cache directory: %s\n", cacheDir)
	for _, s := range sessions {
		state := ""
		if s.InUse {
			state = " (in use)"
		}
		fmt.Fprintf(out, "  %-36s %6d entries %10s%s\n", s.Name, s.Entries, formatBytes(s.Size), state)
		entries += s.Entries
		total += s.Size
	}
	fmt.Fprintf(out, "Sessions:   %d\n", len(sessions))
	fmt.Fprintf(out, "Entries:    %d\n", entries)
	fmt.Fprintf(out, "Total size: %s\n", formatBytes(total))
	return nil
}

// listSessions scans root/sessions. A missing directory yields no sessions.
func listSessions(root string) ([]sessionInfo, error) {
	sessionsDir := filepath.Join(root, "sessions")
	dirs, err := os.ReadDir(sessionsDir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading sessions directory: %w", err)
	}

	var sessions []sessionInfo
	for _, d := range dirs {
		if !d.IsDir() {
			continue
		}
		info := sessionInfo{Name: d.Name()}
		files, err := os.ReadDir(filepath.Join(sessionsDir, d.Name(), "entries"))
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("reading session %q: %w", d.Name(), err)
		}
		for _, f := range files {
			if f.IsDir() || !strings.HasSuffix(f.Name(), ".entry") {
				continue
			}
			fi, err := f.Info()
			if err != nil {
				continue
			}
			info.Entries++
			info.Size += fi.Size()
		}
		info.InUse = sessionLocked(filepath.Join(sessionsDir, d.Name()+".lock"))
		sessions = append(sessions, info)
	}
	sort.Slice(sessions, func(i, j int) bool { return sessions[i].Name < sessions[j].Name })
	return sessions, nil
}

// sessionLocked reports whether another process holds the session lock.
func sessionLocked(path string) bool {
	if _, err := os.Stat(path); err != nil {
		return false
	}
	lock := flock.New(path)
	locked, err := lock.TryLock()
	if err != nil {
		return false
	}
	if locked {
		_ = lock.Unlock()
		return false
	}
	return true
}

func formatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
