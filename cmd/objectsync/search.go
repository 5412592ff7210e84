package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func searchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "search <account> <query>",
		Short: "Search cached files by whitespace-separated AND terms (case-insensitive)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(a *app) error {
				client, err := a.client(args[0])
				if err != nil {
					return err
				}
				rows, err := a.db.SearchCachedFiles(client.Bucket(), client.AccountID(), args[1])
				if err != nil {
					return fmt.Errorf("search cached files: %w", err)
				}
				for _, r := range rows {
					fmt.Printf("%12d  %s  %s\n", r.Size, r.LastModified, r.Key)
				}
				return nil
			})
		},
	}
	return cmd
}
