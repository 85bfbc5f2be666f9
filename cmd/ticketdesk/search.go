package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/spec-kit/ticketdesk/internal/service"
)

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Look up tickets by id, owner, channel or subject text",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := loadRuntime(cmd.Context(), cmd.OutOrStdout())
		if err != nil {
			return err
		}
		defer rt.close()

		res, err := rt.service.Search(cmd.Context(), strings.Join(args, " "))
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), service.FormatSearch(res))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(searchCmd)
}
