package cli

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"mpm/internal/claude"
	"mpm/internal/config"
	"mpm/internal/eventpool"
	"mpm/internal/framework"
	"mpm/internal/hooks"
)

// NewDoctorCmd creates the doctor command.
func NewDoctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check the environment for a working setup",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDoctor(cmd.OutOrStdout())
		},
	}
}

func runDoctor(w io.Writer) error {
	cfg := config.GetConfig()
	if cfg == nil {
		return fmt.Errorf("configuration not loaded")
	}

	check := func(name string, err error, detail string) {
		if err != nil {
			fmt.Fprintf(w, "✗ %s: %v\n", name, err)
			return
		}
		if detail != "" {
			fmt.Fprintf(w, "✓ %s: %s\n", name, detail)
		} else {
			fmt.Fprintf(w, "✓ %s\n", name)
		}
	}

	bin, err := claude.FindExecutable()
	check("claude CLI", err, bin)

	if root, ok := framework.DiscoverRoot(); ok {
		fw := (&framework.Loader{Root: root}).Load()
		check("framework", nil, fmt.Sprintf("%s (version %s, %d agents)", root, fw.Version, len(fw.Agents)))
	} else {
		fmt.Fprintln(w, "- framework: not installed, built-in minimal framework will be used")
	}

	if cfg.Hooks.Enabled && cfg.Hooks.URL != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		hs, err := hooks.NewClient(cfg.Hooks.URL, 3*time.Second).Health(ctx)
		detail := ""
		if err == nil {
			detail = fmt.Sprintf("%s, %d hooks", hs.Status, hs.HookCount)
		}
		check("hook service", err, detail)
	} else {
		fmt.Fprintln(w, "- hook service: disabled")
	}

	if cfg.EventStream.Enabled {
		check("event server", nil, fmt.Sprintf("port %d", eventpool.DiscoverPort()))
	} else {
		fmt.Fprintln(w, "- event stream: disabled")
	}

	return nil
}
