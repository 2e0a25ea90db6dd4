package cli

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/soyeahso/querydesk/internal/config"
	"github.com/soyeahso/querydesk/internal/version"
)

func newStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the configuration summary and ping the backends",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "querydesk %s (commit %s)\n\n", version.Version, version.Commit)

			fmt.Fprintf(out, "Config:    %s\n", paths.Config)
			fmt.Fprintf(out, "Data:      %s\n", paths.Data)
			fmt.Fprintf(out, "Logs:      %s\n", paths.Logs)
			fmt.Fprintln(out)

			cfg, err := loadConfig()
			if err != nil {
				fmt.Fprintf(out, "Config:    error loading: %v\n", err)
				return nil
			}

			fmt.Fprintf(out, "Gateway:   port=%d bind=%s auth=%s\n", cfg.Gateway.Port, cfg.Gateway.Bind, cfg.Gateway.Auth.Mode)
			fmt.Fprintf(out, "LLM:       provider=%s model=%s", cfg.LLM.Provider, cfg.LLM.Model)
			if len(cfg.LLM.Fallbacks) > 0 {
				fmt.Fprintf(out, " fallbacks=%s", strings.Join(cfg.LLM.Fallbacks, ","))
			}
			fmt.Fprintln(out)
			if cfg.Documents.Enabled {
				fmt.Fprintf(out, "Documents: driver=%s collection=%s.%s\n", cfg.Documents.Driver, cfg.Documents.Database, cfg.Documents.Collection)
			} else {
				fmt.Fprintln(out, "Documents: (disabled)")
			}
			if cfg.SQL.Enabled {
				fmt.Fprintf(out, "SQL:       driver=%s maxRows=%d\n", cfg.SQL.Driver, cfg.SQL.MaxRows)
			} else {
				fmt.Fprintln(out, "SQL:       (disabled)")
			}
			fmt.Fprintf(out, "Export:    store=%s retention=%dm\n", cfg.Export.Store, cfg.Export.RetentionMinutes)
			fmt.Fprintf(out, "Audit:     enabled=%v  Tracing: enabled=%v\n", cfg.Audit.Enabled, cfg.Tracing.Enabled)

			if issues := config.Validate(&cfg); len(issues) > 0 {
				fmt.Fprintf(out, "\nValidation issues (%d):\n", len(issues))
				for _, issue := range issues {
					fmt.Fprintf(out, "  - %s: %s\n", issue.Path, issue.Message)
				}
				return nil
			}

			ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()

			app, err := Build(ctx, cfg, paths, log, BuildOptions{})
			if err != nil {
				fmt.Fprintf(out, "\nBackends:  %v\n", err)
				return nil
			}
			defer app.Close()

			fmt.Fprintln(out, "\nBackends:")
			names := make([]string, 0, len(app.Checks))
			for n := range app.Checks {
				names = append(names, n)
			}
			sort.Strings(names)
			for _, n := range names {
				if err := app.Checks[n](ctx); err != nil {
					fmt.Fprintf(out, "  %-10s %v\n", n, err)
				} else {
					fmt.Fprintf(out, "  %-10s ok\n", n)
				}
			}
			fmt.Fprintf(out, "Profiles:  %s\n", strings.Join(app.Profiles(), ", "))
			return nil
		},
	}

	return cmd
}
