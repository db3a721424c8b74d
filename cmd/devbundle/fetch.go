package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/aretw0/devbundle"
	"github.com/aretw0/devbundle/internal/platform"
	"github.com/aretw0/devbundle/pkg/core"
)

var (
	fetchDest string
	fetchMode string
	fetchJSON bool
)

var fetchCmd = &cobra.Command{
	Use:   "fetch [url]",
	Short: "Fetch the bundle once and commit it to the destination",
	Long: `Fetch requests the bundle from the development server and writes it to the
configured destination. Without a URL the entry point from the config file is used.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		req, err := buildRequest(cfg, args)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		o, err := newOrchestrator(cfg)
		if err != nil {
			return err
		}

		md, err := o.Fetch(ctx, req, progressPrinter(cmd.ErrOrStderr()))
		if err != nil {
			return err
		}

		if fetchJSON {
			data, err := json.MarshalIndent(md, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return nil
		}
		printMetadata(cmd.OutOrStdout(), md)
		return nil
	},
}

// buildRequest applies command line overrides to the configured entry point.
func buildRequest(cfg platform.Config, args []string) (devbundle.Request, error) {
	if fetchMode != "" {
		cfg.Mode = fetchMode
	}
	url := cfg.BundleURL()
	if len(args) == 1 {
		url = args[0]
	}
	mode, ok := core.ParseMode(cfg.Mode, url)
	if !ok {
		return devbundle.Request{}, fmt.Errorf("invalid mode %q (want plain, delta or auto)", cfg.Mode)
	}
	dest := cfg.Destination
	if fetchDest != "" {
		dest = fetchDest
	}
	return devbundle.Request{URL: url, Destination: dest, Mode: mode}, nil
}

func progressPrinter(w io.Writer) devbundle.Listener {
	return func(p core.Progress) {
		switch {
		case p.Done != nil && p.Total != nil:
			fmt.Fprintf(w, "%s %d/%d\n", p.Status, *p.Done, *p.Total)
		case p.Done != nil:
			fmt.Fprintf(w, "%s %d\n", p.Status, *p.Done)
		default:
			fmt.Fprintln(w, p.Status)
		}
	}
}

func printMetadata(w io.Writer, md core.Metadata) {
	state := "unchanged"
	if md.Written {
		state = fmt.Sprintf("%d bytes", md.Bytes)
	}
	fmt.Fprintf(w, "%s -> %s (%s)\n", md.Name, md.Path, state)
	for _, a := range md.Additional {
		fmt.Fprintf(w, "  + %s -> %s (%d bytes)\n", a.Name, a.Path, a.Bytes)
	}
}

func init() {
	fetchCmd.Flags().StringVarP(&fetchDest, "dest", "o", "", "Destination file (overrides config)")
	fetchCmd.Flags().StringVar(&fetchMode, "mode", "", "Transport mode: plain, delta or auto")
	fetchCmd.Flags().BoolVar(&fetchJSON, "json", false, "Print the result as JSON")
	rootCmd.AddCommand(fetchCmd)
}
