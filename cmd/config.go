package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/oantajames/tinyviber/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect and override the pipeline policy configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration (baseline merged with overrides)",
	RunE: func(cmd *cobra.Command, args []string) error {
		resolver, err := getResolver()
		if err != nil {
			return err
		}
		cfg, err := resolver.Resolve(cmd.Context())
		if err != nil {
			return err
		}

		data, err := yaml.Marshal(cfg)
		if err != nil {
			return fmt.Errorf("marshal config: %w", err)
		}
		fmt.Fprint(ui.Out, string(data))
		return nil
	},
}

var configSkillsCmd = &cobra.Command{
	Use:   "skills",
	Short: "List the skill catalog",
	RunE: func(cmd *cobra.Command, args []string) error {
		resolver, err := getResolver()
		if err != nil {
			return err
		}
		cfg, err := resolver.Resolve(cmd.Context())
		if err != nil {
			return err
		}

		table := ui.Table([]string{"ID", "NAME", "MAX FILES", "APPROVAL", "DESCRIPTION"})
		for _, s := range cfg.Skills {
			table.Append([]string{
				s.ID,
				s.Name,
				fmt.Sprintf("%d", cfg.EffectiveMaxFiles(&s)),
				fmt.Sprintf("%t", s.RequiresApproval),
				s.Description,
			})
		}
		return table.Render()
	},
}

var configSetOverrideCmd = &cobra.Command{
	Use:   "set-override [file.yaml]",
	Short: "Persist a configuration override record from a YAML file",
	Long: `Persist a partial configuration that is merged over the baseline on
every pipeline run. Scalar fields replace only when present; list fields
replace wholesale. The next pipeline run picks it up; in-flight runs keep
their snapshot.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		raw, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("read override file: %w", err)
		}

		// Parse up front so a broken override never lands in the store.
		var ov config.Override
		if err := yaml.Unmarshal(raw, &ov); err != nil {
			return fmt.Errorf("parse override: %w", err)
		}

		s, err := getStore()
		if err != nil {
			return err
		}
		if err := s.SetConfigOverride(cmd.Context(), raw); err != nil {
			return err
		}

		// Fail fast when the merged result would be unusable.
		resolver := config.NewResolver(s, ui.VerboseLog)
		if _, err := resolver.Resolve(cmd.Context()); err != nil {
			_ = s.ClearConfigOverride(cmd.Context())
			return fmt.Errorf("override rejected, %w", err)
		}

		ui.Success("override saved from %s", args[0])
		return nil
	},
}

var configClearOverrideCmd = &cobra.Command{
	Use:   "clear-override",
	Short: "Remove the persisted configuration override record",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := getStore()
		if err != nil {
			return err
		}
		if err := s.ClearConfigOverride(cmd.Context()); err != nil {
			return err
		}
		ui.Success("override cleared, baseline is in effect")
		return nil
	},
}

var configRulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "Print the effective path rules",
	RunE: func(cmd *cobra.Command, args []string) error {
		resolver, err := getResolver()
		if err != nil {
			return err
		}
		cfg, err := resolver.Resolve(cmd.Context())
		if err != nil {
			return err
		}

		ui.Info("allowed: %s", strings.Join(cfg.Rules.Allowed, ", "))
		ui.Info("blocked: %s", strings.Join(cfg.Rules.Blocked, ", "))
		ui.Info("max files per change: %d", cfg.Rules.MaxFilesPerChange)
		ui.Info("new files: %t, deletions: %t, dependency changes: %t",
			cfg.Rules.AllowNewFiles, cfg.Rules.AllowDeletions, cfg.Rules.AllowDependencyChanges)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSkillsCmd)
	configCmd.AddCommand(configRulesCmd)
	configCmd.AddCommand(configSetOverrideCmd)
	configCmd.AddCommand(configClearOverrideCmd)
}
