package main

import (
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/freedeaths/tidbcloud-skills/internal/pollengine"
	"github.com/freedeaths/tidbcloud-skills/internal/run"
)

func newSessionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Drive exploration sessions",
	}
	cmd.AddCommand(newSessionNewCmd())
	cmd.AddCommand(newSessionStepCmd())
	cmd.AddCommand(newSessionResolveCmd())
	cmd.AddCommand(newSessionStatusCmd())
	cmd.AddCommand(newSessionListCmd())
	cmd.AddCommand(newSessionCompleteCmd())
	cmd.AddCommand(newSessionAbortCmd())
	cmd.AddCommand(newSessionPollCmd())
	cmd.AddCommand(newSessionSummaryCmd())
	cmd.AddCommand(newSessionRerunCmd())
	return cmd
}

func newSessionPollCmd() *cobra.Command {
	var (
		until       string
		failures    []string
		interval    time.Duration
		maxAttempts int
	)
	cmd := &cobra.Command{
		Use:   "poll SESSION_ID OPERATION_ID",
		Short: "Poll a read operation until a resource settles",
		Long: `poll repeats a session-scoped read until a terminal condition
matches, then applies the final state to the session's resource tracking.
Path parameters are filled from the session's variables.`,
		Args: cobra.ExactArgs(2),
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
			result, err := app.driver.Poll(cmd.Context(), args[0], args[1], signatures, pollengine.Config{
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

func newSessionNewCmd() *cobra.Command {
	var varFlags []string
	cmd := &cobra.Command{
		Use:   "new \"intent\"",
		Short: "Start a session for a natural-language intent",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := buildApp(cmd.Context())
			if err != nil {
				return err
			}
			defer app.Close()

			vars, err := parseVars(varFlags)
			if err != nil {
				return err
			}
			// Config-level preset variables seed every session; flags win.
			merged := make(map[string]any)
			for k, v := range app.cfg.PresetVars {
				merged[k] = v
			}
			for k, v := range vars {
				merged[k] = v
			}

			s, err := app.driver.Start(cmd.Context(), args[0], merged)
			if err != nil {
				return err
			}
			return printJSON(s)
		},
	}
	cmd.Flags().StringArrayVar(&varFlags, "var", nil, "Preset variable as key=value (repeatable)")
	return cmd
}

func newSessionStepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "step SESSION_ID",
		Short: "Advance the session by one operation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := buildApp(cmd.Context())
			if err != nil {
				return err
			}
			defer app.Close()

			result, err := app.driver.Step(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(result)
		},
	}
}

func newSessionResolveCmd() *cobra.Command {
	var (
		action      string
		operationID string
		varFlags    []string
	)
	cmd := &cobra.Command{
		Use:   "resolve SESSION_ID",
		Short: "Answer a pending step (approve, choose, or abort)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := buildApp(cmd.Context())
			if err != nil {
				return err
			}
			defer app.Close()

			vars, err := parseVars(varFlags)
			if err != nil {
				return err
			}
			result, err := app.driver.Resolve(cmd.Context(), args[0], run.Resolution{
				Action:      action,
				OperationID: operationID,
				Vars:        vars,
			})
			if err != nil {
				return err
			}
			return printJSON(result)
		},
	}
	cmd.Flags().StringVar(&action, "action", "approve", "Resolution action: approve, choose, or abort")
	cmd.Flags().StringVar(&operationID, "operation", "", "Operation to run instead (with --action choose)")
	cmd.Flags().StringArrayVar(&varFlags, "var", nil, "Fill a missing variable as key=value (repeatable)")
	return cmd
}

func newSessionStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status SESSION_ID",
		Short: "Show the full session record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := buildApp(cmd.Context())
			if err != nil {
				return err
			}
			defer app.Close()

			s, err := app.sessions.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(s)
		},
	}
}

func newSessionListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List sessions for the current SUT",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := buildApp(cmd.Context())
			if err != nil {
				return err
			}
			defer app.Close()

			sessions, err := app.sessions.List(cmd.Context(), app.sut)
			if err != nil {
				return err
			}
			for _, s := range sessions {
				fmt.Printf("%s  %-9s  %d steps  %s\n", s.ID, s.Status, len(s.Steps), s.Intent)
			}
			if len(sessions) == 0 {
				fmt.Println("no sessions")
			}
			return nil
		},
	}
}

func newSessionCompleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "complete SESSION_ID",
		Short: "Mark the session completed and record its outcome",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := buildApp(cmd.Context())
			if err != nil {
				return err
			}
			defer app.Close()

			s, err := app.driver.Complete(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(s)
		},
	}
}

func newSessionAbortCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "abort SESSION_ID",
		Short: "Abandon the session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := buildApp(cmd.Context())
			if err != nil {
				return err
			}
			defer app.Close()

			s, err := app.driver.Abort(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(s)
		},
	}
}

func newSessionSummaryCmd() *cobra.Command {
	var (
		out     string
		draft   bool
		removes string
	)
	cmd := &cobra.Command{
		Use:   "summary SESSION_ID",
		Short: "Distill the session into a replayable scenario",
		Long: `summary writes a scenario file from the session's successful steps.
With --draft every successful step is kept and the scenario is marked as
a draft, which rerun refuses to execute. Without --draft the steps named
by --remove are dropped and the remaining save/use chain is validated.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := buildApp(cmd.Context())
			if err != nil {
				return err
			}
			defer app.Close()

			s, err := app.sessions.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			var scenario run.Scenario
			if draft {
				scenario = app.driver.BuildDraft(s)
			} else {
				indices, err := parseIndices(removes)
				if err != nil {
					return err
				}
				scenario, err = app.driver.Summary(s, indices)
				if err != nil {
					return err
				}
			}

			if out == "" {
				out = scenario.Name + ".yaml"
			}
			if err := run.WriteScenario(out, scenario); err != nil {
				return err
			}
			fmt.Printf("wrote %s (%d steps)\n", out, len(scenario.Steps))
			return nil
		},
	}
	cmd.Flags().StringVar(&out, "out", "", "Output file (defaults to <name>.yaml)")
	cmd.Flags().BoolVar(&draft, "draft", false, "Keep every successful step and mark the scenario a draft")
	cmd.Flags().StringVar(&removes, "remove", "", "Comma-separated step indices to drop, e.g. 1,3")
	return cmd
}

func newSessionRerunCmd() *cobra.Command {
	var (
		varFlags []string
		cronSpec string
	)
	cmd := &cobra.Command{
		Use:   "rerun SCENARIO_FILE",
		Short: "Replay a finalized scenario",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := buildApp(cmd.Context())
			if err != nil {
				return err
			}
			defer app.Close()

			vars, err := parseVars(varFlags)
			if err != nil {
				return err
			}

			if cronSpec != "" {
				sched := run.NewScheduler(app.driver, app.logger)
				if _, err := sched.Add(cronSpec, args[0]); err != nil {
					return err
				}
				sched.Start()
				fmt.Printf("scheduled %s on %q, press Ctrl-C to stop\n", args[0], cronSpec)

				stop := make(chan os.Signal, 1)
				signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
				<-stop
				sched.Stop()
				return nil
			}

			scenario, err := run.LoadScenario(args[0])
			if err != nil {
				return err
			}
			results, err := app.driver.Rerun(cmd.Context(), scenario, vars)
			if printErr := printJSON(results); printErr != nil {
				return printErr
			}
			return err
		},
	}
	cmd.Flags().StringArrayVar(&varFlags, "var", nil, "Preset variable as key=value (repeatable)")
	cmd.Flags().StringVar(&cronSpec, "cron", "", "Run on a cron schedule instead of once, e.g. \"0 3 * * *\"")
	return cmd
}

func parseIndices(csv string) ([]int, error) {
	if strings.TrimSpace(csv) == "" {
		return nil, nil
	}
	var out []int
	for _, part := range strings.Split(csv, ",") {
		n, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil {
			return nil, fmt.Errorf("invalid step index %q", part)
		}
		out = append(out, n)
	}
	return out, nil
}
