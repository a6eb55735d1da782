package cmd

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/oantajames/tinyviber/internal/output"
)

var statusCmd = &cobra.Command{
	Use:   "status [pr-number]",
	Short: "Show pull request status: state, checks, review, preview",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		// Without a PR number, list recent pipeline runs instead.
		if len(args) == 0 {
			return listPipelines(cmd)
		}

		resolver, err := getResolver()
		if err != nil {
			return err
		}
		cfg, err := resolver.Resolve(cmd.Context())
		if err != nil {
			return err
		}
		gh := getGitHub()

		prNumber, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("invalid PR number: %s", args[0])
		}

		st, err := gh.PRStatus(cmd.Context(), cfg, prNumber)
		if err != nil {
			return fmt.Errorf("fetch PR status: %w", err)
		}
		preview := gh.PreviewURL(cmd.Context(), cfg, prNumber)
		if preview == "" {
			preview = "not available yet"
		}

		table := ui.Table([]string{"PR", "STATE", "MERGEABLE", "CHECKS", "REVIEW", "PREVIEW"})
		table.Append([]string{
			fmt.Sprintf("#%d", prNumber),
			st.State,
			fmt.Sprintf("%t", st.Mergeable),
			output.ChecksColor(st.ChecksStatus),
			st.ReviewState,
			preview,
		})
		return table.Render()
	},
}

func listPipelines(cmd *cobra.Command) error {
	s, err := getStore()
	if err != nil {
		return err
	}
	pipelines, err := s.ListPipelines(cmd.Context(), 20)
	if err != nil {
		return err
	}
	if len(pipelines) == 0 {
		ui.Info("no pipeline runs yet")
		return nil
	}

	table := ui.Table([]string{"ID", "SKILL", "STATUS", "BRANCH", "PR", "FILES"})
	for _, p := range pipelines {
		pr := ""
		if p.PRNumber > 0 {
			pr = fmt.Sprintf("#%d", p.PRNumber)
		}
		id := p.ID
		if len(id) > 12 {
			id = id[:12]
		}
		table.Append([]string{
			id,
			p.SkillID,
			output.StatusColor(string(p.Status)),
			p.Branch,
			pr,
			strings.Join(p.FilesChanged, ", "),
		})
	}
	return table.Render()
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
