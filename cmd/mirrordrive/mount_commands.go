package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"mirrordrive/internal/config"
	"mirrordrive/internal/ipc"
)

func newMountCommands(ctx *commandContext) []*cobra.Command {
	return []*cobra.Command{
		newListCommand(ctx),
		newShowCommand(ctx),
		newAddCommand(ctx),
		newRemoveCommand(ctx),
		newAttachCommand(ctx),
		newDetachCommand(ctx),
		newSetCommand(ctx),
		newImportCommand(ctx),
	}
}

func newListCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List drive mappings",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.List()
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, resp)
				}
				out := cmd.OutOrStdout()
				if len(resp.Entries) == 0 {
					fmt.Fprintln(out, "No mappings configured")
					return nil
				}
				fmt.Fprint(out, renderTable(indexedMappingColumns, buildEntryListRows(resp.Entries)))
				fmt.Fprintln(out)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print mappings as JSON")
	return cmd
}

func newShowCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "show <ref>",
		Short: "Show one mapping (ref: list number, drive letter or id prefix)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.Get(args[0])
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, resp.Entry)
				}
				printEntryDetail(cmd.OutOrStdout(), resp.Entry, shouldColorize(cmd.OutOrStdout()))
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the mapping as JSON")
	return cmd
}

func newAddCommand(ctx *commandContext) *cobra.Command {
	var target string
	var readOnly bool
	var autoAttach bool
	cmd := &cobra.Command{
		Use:   "add <source>",
		Short: "Map a directory to a drive letter",
		Long: "Map a directory to a drive letter. The source may reference environment\n" +
			"variables ($HOME, ${HOME}, %HOME%) and is stored unexpanded. Without\n" +
			"--drive the next free letter is chosen.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.Add(ipc.AddRequest{
					SourceSpec: args[0],
					TargetID:   strings.TrimSpace(target),
					ReadOnly:   readOnly,
					AutoAttach: autoAttach,
				})
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Added mapping %d: %s -> %s\n", resp.Entry.Index, resp.Entry.SourcePath, displayTarget(resp.Entry.TargetID))
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&target, "drive", "d", "", "Drive letter (e.g. Z or Z:)")
	cmd.Flags().BoolVar(&readOnly, "read-only", false, "Expose the drive read-only")
	cmd.Flags().BoolVar(&autoAttach, "auto-attach", false, "Mount the drive when the daemon starts")
	return cmd
}

func newRemoveCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:     "remove <ref>",
		Aliases: []string{"rm"},
		Short:   "Remove an unmounted mapping",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.Remove(args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Removed mapping %s -> %s\n", resp.Entry.SourcePath, displayTarget(resp.Entry.TargetID))
				return nil
			})
		},
	}
}

func newAttachCommand(ctx *commandContext) *cobra.Command {
	return newOperationCommand(ctx, "attach", "Mount a mapping", func(client *ipc.Client, ref string, wait bool) (*ipc.OperationResponse, error) {
		return client.Attach(ref, wait)
	})
}

func newDetachCommand(ctx *commandContext) *cobra.Command {
	return newOperationCommand(ctx, "detach", "Unmount a mapping", func(client *ipc.Client, ref string, wait bool) (*ipc.OperationResponse, error) {
		return client.Detach(ref, wait)
	})
}

type operationCall func(client *ipc.Client, ref string, wait bool) (*ipc.OperationResponse, error)

func newOperationCommand(ctx *commandContext, use, short string, call operationCall) *cobra.Command {
	var wait bool
	var asJSON bool
	cmd := &cobra.Command{
		Use:   use + " <ref>",
		Short: short,
		Long: short + ". A slow operation continues in the background unless\n" +
			"--wait is given, in which case the command blocks through the extended timeout.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := call(client, args[0], wait)
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, resp.Result)
				}
				fmt.Fprintln(cmd.OutOrStdout(), describeOperation(use, resp.Result))
				return nil
			})
		},
	}
	cmd.Flags().BoolVarP(&wait, "wait", "w", false, "Wait for a slow operation instead of continuing in the background")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the result as JSON")
	return cmd
}

func newSetCommand(ctx *commandContext) *cobra.Command {
	var target string
	var readOnly bool
	var autoAttach bool
	cmd := &cobra.Command{
		Use:   "set <ref>",
		Short: "Edit an unmounted mapping",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := ipc.UpdateRequest{Ref: args[0]}
			flags := cmd.Flags()
			if flags.Changed("drive") {
				value := strings.TrimSpace(target)
				req.TargetID = &value
			}
			if flags.Changed("read-only") {
				req.ReadOnly = &readOnly
			}
			if flags.Changed("auto-attach") {
				req.AutoAttach = &autoAttach
			}
			if req.TargetID == nil && req.ReadOnly == nil && req.AutoAttach == nil {
				return errors.New("nothing to change; pass --drive, --read-only or --auto-attach")
			}
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.Update(req)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Updated mapping %d: %s -> %s (read-only: %s, auto-attach: %s)\n",
					resp.Entry.Index,
					resp.Entry.SourcePath,
					displayTarget(resp.Entry.TargetID),
					yesNo(resp.Entry.ReadOnly),
					yesNo(resp.Entry.AutoAttach),
				)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&target, "drive", "d", "", "New drive letter; empty clears the assignment")
	cmd.Flags().BoolVar(&readOnly, "read-only", false, "Expose the drive read-only")
	cmd.Flags().BoolVar(&autoAttach, "auto-attach", false, "Mount the drive when the daemon starts")
	return cmd
}

func newImportCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "import <mounts.json>",
		Short: "Import mappings from a legacy mounts.json file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := config.ExpandPath(args[0])
			if err != nil {
				return fmt.Errorf("resolve import path: %w", err)
			}
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.Import(path)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Imported %d mapping(s) from %s\n", resp.Added, path)
				return nil
			})
		},
	}
}
