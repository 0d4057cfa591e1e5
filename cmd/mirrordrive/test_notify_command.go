package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"mirrordrive/internal/ipc"
)

func newTestNotifyCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "test-notify",
		Short: "Publish a test alert to the configured ntfy topic",
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp *ipc.TestNotificationResponse
			err := ctx.withClient(func(client *ipc.Client) error {
				var err error
				resp, err = client.TestNotification()
				return err
			})
			if err != nil {
				return fmt.Errorf("test notification: %w", err)
			}
			if resp == nil {
				resp = &ipc.TestNotificationResponse{}
			}
			if asJSON {
				return writeJSON(cmd, resp)
			}
			fmt.Fprintln(cmd.OutOrStdout(), notifyOutcome(*resp))
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the daemon response as JSON")
	return cmd
}

func notifyOutcome(resp ipc.TestNotificationResponse) string {
	switch {
	case resp.Sent:
		return "Test notification sent"
	case resp.Message != "":
		return resp.Message
	}
	return "Notification not sent"
}
