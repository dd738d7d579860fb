package main

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/freedeaths/tidbcloud-skills/internal/execadapter"
	"github.com/freedeaths/tidbcloud-skills/internal/pollengine"
)

func newExecCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "exec",
		Short: "Run one-off operations outside a session",
	}
	cmd.AddCommand(newExecHTTPCmd())
	cmd.AddCommand(newExecCLICmd())
	cmd.AddCommand(newExecPollCmd())
	return cmd
}

func newExecHTTPCmd() *cobra.Command {
	var (
		bodyJSON   string
		queryFlags []string
	)
	cmd := &cobra.Command{
		Use:   "http METHOD PATH",
		Short: "Send one authenticated API request",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := buildApp(cmd.Context())
			if err != nil {
				return err
			}
			defer app.Close()

			req := execadapter.Request{
				Type:   "http",
				Method: strings.ToUpper(args[0]),
				Path:   args[1],
			}
			if bodyJSON != "" {
				if err := json.Unmarshal([]byte(bodyJSON), &req.Body); err != nil {
					return fmt.Errorf("invalid --body: %w", err)
				}
			}
			for _, pair := range queryFlags {
				key, value, ok := strings.Cut(pair, "=")
				if !ok {
					return fmt.Errorf("invalid query parameter %q, expected key=value", pair)
				}
				if req.Query == nil {
					req.Query = make(map[string]string)
				}
				req.Query[key] = value
			}

			outcome, err := app.http.Execute(cmd.Context(), "adhoc", req)
			if err != nil {
				return err
			}
			return printJSON(outcome)
		},
	}
	cmd.Flags().StringVar(&bodyJSON, "body", "", "Request body as a JSON object")
	cmd.Flags().StringArrayVar(&queryFlags, "query", nil, "Query parameter as key=value (repeatable)")
	return cmd
}

func newExecCLICmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cli TOOL [ARGS...]",
		Short: "Run a local tool and capture its outcome",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := buildApp(cmd.Context())
			if err != nil {
				return err
			}
			defer app.Close()

			outcome, err := app.cli.Execute(cmd.Context(), "adhoc", execadapter.Request{
				Type: "cli",
				Tool: args[0],
				Args: args[1:],
			})
			if err != nil {
				return err
			}
			return printJSON(outcome)
		},
	}
}

func newExecPollCmd() *cobra.Command {
	var (
		until       string
		failures    []string
		interval    time.Duration
		maxAttempts int
	)
	cmd := &cobra.Command{
		Use:   "poll PATH",
		Short: "Poll a GET endpoint until a terminal condition matches",
		Long: `poll issues GET requests against PATH until a terminal signature
matches. Conditions are expressions over the response, e.g.
'body.state == "ACTIVE"' or 'status == 404'.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if until == "" {
				return fmt.Errorf("--until is required")
			}
			app, err := buildApp(cmd.Context())
			if err != nil {
				return err
			}
			defer app.Close()

			signatures := []pollengine.Signature{
				{Name: "done", Condition: until, Success: true},
			}
			for i, cond := range failures {
				signatures = append(signatures, pollengine.Signature{
					Name:      fmt.Sprintf("failure_%d", i+1),
					Condition: cond,
				})
			}

			result, err := app.poller.Poll(cmd.Context(), "adhoc", execadapter.Request{
				Type:   "http",
				Method: "GET",
				Path:   args[0],
			}, signatures, pollengine.Config{
				Interval:    interval,
				MaxAttempts: maxAttempts,
			})
			if err != nil {
				return err
			}
			return printJSON(result)
		},
	}
	cmd.Flags().StringVar(&until, "until", "", "Success condition, e.g. 'body.state == \"ACTIVE\"'")
	cmd.Flags().StringArrayVar(&failures, "fail", nil, "Failure condition that ends the poll (repeatable)")
	cmd.Flags().DurationVar(&interval, "interval", 10*time.Second, "Delay between attempts")
	cmd.Flags().IntVar(&maxAttempts, "max-attempts", 60, "Give up after this many attempts")
	return cmd
}
