package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"mpm/internal/config"
	"mpm/internal/skills"
)

// NewSkillsCmd creates the skills command group.
func NewSkillsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "skills",
		Short: "Inspect the skills registry",
	}

	var source string
	list := &cobra.Command{
		Use:   "list",
		Short: "List loaded skills across all tiers",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.GetConfig()
			if cfg == nil {
				return fmt.Errorf("configuration not loaded")
			}

			m := buildSkills(cfg)
			loaded := m.ListSkills(skills.Source(source))
			if len(loaded) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no skills found")
				return nil
			}
			for _, s := range loaded {
				fmt.Fprintf(cmd.OutOrStdout(), "%-24s %-8s %s\n", s.Name, s.Source, s.Description)
			}
			return nil
		},
	}
	list.Flags().StringVar(&source, "source", "", "filter by tier (bundled, user, project)")

	mapCmd := &cobra.Command{
		Use:   "map <agent> <skill>...",
		Short: "Map skills to an agent and save the user mapping file",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.GetConfig()
			if cfg == nil {
				return fmt.Errorf("configuration not loaded")
			}

			agent, names := args[0], args[1:]
			m := buildSkills(cfg)
			for _, name := range names {
				if _, ok := m.GetSkill(name); !ok {
					return fmt.Errorf("unknown skill %q", name)
				}
			}
			m.SetMapping(agent, names)

			path := skillMappingPath(cfg)
			if path == "" {
				return fmt.Errorf("no mapping file path available")
			}
			if err := m.SaveUserMappings(path); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "mapped %d skill(s) to %s in %s\n", len(names), agent, path)
			return nil
		},
	}

	cmd.AddCommand(list)
	cmd.AddCommand(mapCmd)
	return cmd
}
