package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/soyeahso/querydesk/internal/tool"
)

func newToolsCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "tools [profile]",
		Short: "List the tools each profile offers the model",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			app, err := Build(context.Background(), cfg, paths, log, BuildOptions{})
			if err != nil {
				return err
			}
			defer app.Close()

			profiles := app.Profiles()
			if len(args) > 0 {
				if _, ok := app.Registries[args[0]]; !ok {
					return fmt.Errorf("unknown profile %q (available: %v)", args[0], profiles)
				}
				profiles = args[:1]
			}

			out := cmd.OutOrStdout()
			if asJSON {
				defs := make(map[string]any, len(profiles))
				for _, p := range profiles {
					defs[p] = app.Registries[p].Definitions()
				}
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(defs)
			}
			for _, p := range profiles {
				printTools(out, p, app.Registries[p])
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "print the tool definitions with their JSON schemas")
	return cmd
}

func printTools(w io.Writer, profile string, reg *tool.Registry) {
	fmt.Fprintf(w, "%s (%d tools)\n", profile, reg.Len())
	for _, t := range reg.All() {
		fmt.Fprintf(w, "  %-26s %s\n", t.Name(), firstLine(t.Description()))
	}
	fmt.Fprintln(w)
}

func firstLine(s string) string {
	for i, r := range s {
		if r == '\n' {
			return s[:i]
		}
	}
	return s
}
