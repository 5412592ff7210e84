// Command objectsync is the CLI front-end for the storage-transfer core: it
// wires the index store, provider adapters, and transfer engines together
// and drives them from cobra subcommands. Grounded in the teacher's
// cmd/rescale-int/main.go composition-root shape, rebuilt around cobra the
// way marmos91-dittofs's cmd/dfsctl does for its control client.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/nimbusfs/objectsync/internal/config"
)

var configPath string

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "objectsync",
		Short:         "Multi-provider object-store sync and transfer client",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to config.ini (default: platform config dir)")

	root.AddCommand(
		syncCmd(),
		lsCmd(),
		searchCmd(),
		uploadCmd(),
		downloadCmd(),
		mvCmd(),
		queueCmd(),
		daemonCmd(),
	)
	return root
}

// withApp opens an app for the command's lifetime, running fn and always
// closing the store afterward.
func withApp(ctx context.Context, fn func(*app) error) error {
	resolvedPath := configPath
	if resolvedPath == "" {
		resolvedPath = config.DefaultPath()
	}
	a, err := newApp(ctx, resolvedPath)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(a)
}
