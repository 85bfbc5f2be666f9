package main

import (
	"github.com/spf13/cobra"

	"github.com/spec-kit/ticketdesk/internal/service"
)

var publishCommandsCmd = &cobra.Command{
	Use:   "publish-commands",
	Short: "Publish the staff command set to the chat platform",
	Long: `Publish the staff command set.

With the slack gateway this prints the slash_commands section of an app
manifest, since bot tokens cannot register commands themselves.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		rt, err := loadRuntime(cmd.Context(), cmd.OutOrStdout())
		if err != nil {
			return err
		}
		defer rt.close()
		return rt.publisher.PublishCommands(cmd.Context(), service.CommandDefinitions())
	},
}

func init() {
	rootCmd.AddCommand(publishCommandsCmd)
}
