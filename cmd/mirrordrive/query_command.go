package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"mirrordrive/internal/query"
)

func newQueryCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool
	var title string
	cmd := &cobra.Command{
		Use:   "query",
		Short: "Request a mapping snapshot over the cross-process query channel",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if strings.TrimSpace(title) == "" {
				title = cfg.Query.Title
			}
			resp, err := query.Request(cmd.Context(), query.RequestOptions{
				RunDir:         cfg.Paths.RunDir,
				Title:          title,
				ConnectTimeout: cfg.QueryConnectTimeout(),
				ReadTimeout:    cfg.QueryReadTimeout(),
			})
			if err != nil {
				return fmt.Errorf("query %q: %w", title, err)
			}
			if asJSON {
				return writeJSON(cmd, resp)
			}
			if !resp.Success {
				if resp.Error != nil {
					return errors.New(*resp.Error)
				}
				return errors.New("query failed")
			}
			out := cmd.OutOrStdout()
			if len(resp.MountPoints) == 0 {
				fmt.Fprintln(out, "No mappings configured")
				return nil
			}
			rows := make([][]string, 0, len(resp.MountPoints))
			for _, point := range resp.MountPoints {
				status := point.Status
				if point.ErrorMessage != "" {
					status = status + ": " + point.ErrorMessage
				}
				rows = append(rows, []string{
					displayTarget(point.DstPath),
					point.SrcPath,
					status,
					modeText(point.IsReadOnly),
					yesNo(point.AutoMount),
				})
			}
			fmt.Fprint(out, renderTable(mappingColumns, rows))
			fmt.Fprintf(out, "\nSnapshot %s (version %s)\n", resp.Timestamp, resp.Version)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the raw response document")
	cmd.Flags().StringVar(&title, "title", "", "Responder title (defaults to query.title)")
	return cmd
}
