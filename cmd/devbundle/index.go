package main

import (
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/aretw0/devbundle/pkg/adapters/fs"
	"github.com/aretw0/devbundle/pkg/core"
)

var indexJSON bool

var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Inspect the artifact index",
}

var indexListCmd = &cobra.Command{
	Use:   "list",
	Short: "List committed artifacts",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		idx, err := openIndex()
		if err != nil {
			return err
		}
		entries := idx.Entries()

		if indexJSON {
			data, err := json.MarshalIndent(entries, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return nil
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tLOCAL PATH\tDIGEST\tUPDATED")
		for _, e := range entries {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", e.Name, e.LocalPath, e.Digest, time.Unix(e.UpdatedAt, 0).Format(time.RFC3339))
		}
		return w.Flush()
	},
}

var indexLookupCmd = &cobra.Command{
	Use:   "lookup <name|url|path>",
	Short: "Resolve an artifact by name, source URL or local path",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		idx, err := openIndex()
		if err != nil {
			return err
		}
		e, ok := lookup(idx, args[0])
		if !ok {
			return fmt.Errorf("no artifact matches %q", args[0])
		}

		if indexJSON {
			data, err := json.MarshalIndent(e, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return nil
		}
		fmt.Fprintf(cmd.OutOrStdout(), "name:       %s\nsource_url: %s\nlocal_path: %s\ndigest:     %s\n",
			e.Name, e.SourceURL, e.LocalPath, e.Digest)
		return nil
	},
}

var indexPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Drop entries whose local file no longer exists",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		idx, err := openIndex()
		if err != nil {
			return err
		}
		removed := idx.Prune(func(e core.IndexEntry) bool {
			_, err := os.Stat(e.LocalPath)
			return err == nil
		})
		if err := idx.Save(); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "removed %d entries\n", removed)
		return nil
	},
}

func openIndex() (*fs.Index, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	idx := fs.NewIndexInDir(cfg.CacheDir)
	if err := idx.Load(); err != nil {
		return nil, fmt.Errorf("loading index: %w", err)
	}
	return idx, nil
}

// lookup tries the key as a name, then a source URL, then a local path.
func lookup(idx *fs.Index, key string) (core.IndexEntry, bool) {
	if e, ok := idx.Get(key); ok {
		return e, true
	}
	if name, ok := idx.NameOfSourceURL(key); ok {
		return idx.Get(name)
	}
	if name, ok := idx.NameOfLocalPath(key); ok {
		return idx.Get(name)
	}
	if abs, err := filepath.Abs(key); err == nil {
		if name, ok := idx.NameOfLocalPath(abs); ok {
			return idx.Get(name)
		}
	}
	return core.IndexEntry{}, false
}

func init() {
	indexCmd.PersistentFlags().BoolVar(&indexJSON, "json", false, "Print results as JSON")
	indexCmd.AddCommand(indexListCmd, indexLookupCmd, indexPruneCmd)
	rootCmd.AddCommand(indexCmd)
}
