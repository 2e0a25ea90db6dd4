package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/soyeahso/querydesk/internal/agent"
	"github.com/soyeahso/querydesk/internal/domain"
)

func newAskCmd() *cobra.Command {
	var (
		profile string
		user    string
		roles   []string
		stream  bool
		trace   bool
		asJSON  bool
	)

	cmd := &cobra.Command{
		Use:   "ask [question]",
		Short: "Answer one question through a profile and print the result",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			question := strings.Join(args, " ")

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if err := validate(&cfg); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			app, err := Build(ctx, cfg, paths, log, BuildOptions{Runners: true})
			if err != nil {
				return err
			}
			defer app.Close()

			runner, err := app.Runner(profile)
			if err != nil {
				return err
			}

			q := agent.Question{
				UserID:   user,
				Text:     question,
				Identity: domain.Identity{UserID: user, Roles: roles},
			}
			out := cmd.OutOrStdout()

			var res agent.Result
			if stream && !asJSON {
				res = runner.RunStream(ctx, q, func(ev agent.StreamEvent) {
					if ev.Type == agent.EventDelta {
						fmt.Fprint(out, ev.Content)
					}
				})
				fmt.Fprintln(out)
			} else {
				res = runner.Run(ctx, q)
			}

			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(res)
			}
			if !stream {
				fmt.Fprintln(out, res.Answer)
			}
			if trace {
				printTrace(cmd.ErrOrStderr(), res)
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "\n[status=%s iterations=%d tokens=%d+%d duration=%s]\n",
				res.Status, res.Iterations, res.Usage.InputTokens, res.Usage.OutputTokens, res.Duration.Round(time.Millisecond))
			if res.Status == agent.StatusFailed {
				return fmt.Errorf("run failed: %s", res.Error)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&profile, "profile", "p", agent.ProfileDocuments, "profile to ask (documents, sql)")
	cmd.Flags().StringVar(&user, "user", "cli", "user id the session belongs to")
	cmd.Flags().StringSliceVar(&roles, "roles", nil, "caller roles passed to tools")
	cmd.Flags().BoolVar(&stream, "stream", false, "stream the answer as it is generated")
	cmd.Flags().BoolVar(&trace, "trace", false, "print the tool calls made")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the full result as JSON")

	return cmd
}

// printTrace writes one line per tool call followed by its outcome.
func printTrace(w io.Writer, res agent.Result) {
	if len(res.Trace) == 0 {
		fmt.Fprintln(w, "\n(no tool calls)")
		return
	}
	fmt.Fprintln(w, "\nTool calls:")
	for i, c := range res.Trace {
		args, _ := json.Marshal(c.Arguments)
		fmt.Fprintf(w, "%d. %s %s\n", i+1, c.Name, args)
		if c.Result == nil {
			continue
		}
		if c.Result.Success {
			fmt.Fprintf(w, "   ok, %d result(s)\n", c.Result.TotalCount)
		} else {
			fmt.Fprintf(w, "   error: %s\n", c.Result.Error)
		}
		if c.Result.Query != "" {
			fmt.Fprintf(w, "   query: %s\n", c.Result.Query)
		}
	}
}
