package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func lsCmd() *cobra.Command {
	var remote bool
	cmd := &cobra.Command{
		Use:   "ls <account> [prefix]",
		Short: "List cached files for an account, or paginate the remote bucket directly with --remote",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			prefix := ""
			if len(args) == 2 {
				prefix = args[1]
			}
			return withApp(cmd.Context(), func(a *app) error {
				client, err := a.client(args[0])
				if err != nil {
					return err
				}
				if remote {
					page, err := a.syncer.FolderLoad(cmd.Context(), client, prefix)
					if err != nil {
						return fmt.Errorf("list folder: %w", err)
					}
					for _, p := range page.CommonPrefixes {
						fmt.Printf("%s/\n", p)
					}
					for _, o := range page.Objects {
						fmt.Printf("%12d  %s  %s\n", o.Size, o.LastModified, o.Key)
					}
					return nil
				}

				files, err := a.db.GetAllCachedFiles(client.Bucket(), client.AccountID())
				if err != nil {
					return fmt.Errorf("list cached files: %w", err)
				}
				for _, f := range files {
					if prefix != "" && !strings.HasPrefix(f.Key, prefix) {
						continue
					}
					fmt.Printf("%12d  %s  %s\n", f.Size, f.LastModified, f.Key)
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&remote, "remote", false, "paginate the remote bucket directly instead of reading the cache")
	return cmd
}
