package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func newOpenAPICmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "openapi",
		Short: "Inspect the SUT's API definition",
	}
	cmd.AddCommand(newOpenAPIListCmd())
	cmd.AddCommand(newOpenAPIExtractCmd())
	return cmd
}

func newOpenAPIListCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "list [QUERY]",
		Short: "List operations, optionally filtered by keyword",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := buildApp(cmd.Context())
			if err != nil {
				return err
			}
			defer app.Close()

			query := ""
			if len(args) == 1 {
				query = args[0]
			}
			ops := app.catalog.List(query, limit)
			for _, op := range ops {
				marker := " "
				if op.Checkpoint {
					marker = "!"
				}
				fmt.Printf("%s %-50s %-6s %s\n", marker, op.ID, op.Method, op.Path)
			}
			if len(ops) == 0 {
				fmt.Println("no matching operations")
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 50, "Maximum operations to show")
	return cmd
}

func newOpenAPIExtractCmd() *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "extract OPERATION_ID",
		Short: "Extract one operation with its schema closure",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := buildApp(cmd.Context())
			if err != nil {
				return err
			}
			defer app.Close()

			doc, err := app.catalog.Extract(args[0])
			if err != nil {
				return err
			}
			if out != "" {
				f, err := os.Create(out)
				if err != nil {
					return err
				}
				defer f.Close()
				enc := jsonEncoder(f)
				return enc.Encode(doc)
			}
			return printJSON(doc)
		},
	}
	cmd.Flags().StringVar(&out, "out", "", "Write the extract to this file instead of stdout")
	return cmd
}
