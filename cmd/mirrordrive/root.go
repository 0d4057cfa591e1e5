package main

import (
	"github.com/spf13/cobra"
)

const (
	groupDaemon      = "daemon"
	groupMappings    = "mappings"
	groupDiagnostics = "diagnostics"
)

func newRootCommand() *cobra.Command {
	var socketFlag string
	var configFlag string

	ctx := newCommandContext(&socketFlag, &configFlag)

	rootCmd := &cobra.Command{
		Use:   "mirrordrive",
		Short: "Map local directories to virtual drive letters",
		Long: "mirrordrive keeps a registry of source directories mapped to drive letters\n" +
			"and asks the background daemon to attach or detach them.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if shouldSkipConfig(cmd) {
				return nil
			}
			_, err := ctx.ensureConfig()
			return err
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().StringVar(&socketFlag, "socket", "", "Path to the mirrordrive daemon socket")
	rootCmd.PersistentFlags().StringVarP(&configFlag, "config", "c", "", "Configuration file path")

	rootCmd.AddGroup(
		&cobra.Group{ID: groupDaemon, Title: "Daemon:"},
		&cobra.Group{ID: groupMappings, Title: "Mappings:"},
		&cobra.Group{ID: groupDiagnostics, Title: "Diagnostics:"},
	)
	addGrouped(rootCmd, groupDaemon, append(newDaemonCommands(ctx), newDaemonRunCommand(ctx))...)
	addGrouped(rootCmd, groupMappings, append(newMountCommands(ctx), newQueryCommand(ctx))...)
	addGrouped(rootCmd, groupDiagnostics,
		newConfigCommand(ctx),
		newLogsCommand(ctx),
		newTestNotifyCommand(ctx),
	)
	return rootCmd
}

func addGrouped(root *cobra.Command, group string, cmds ...*cobra.Command) {
	for _, cmd := range cmds {
		cmd.GroupID = group
		root.AddCommand(cmd)
	}
}
