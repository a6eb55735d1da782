package cmd

import (
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/oantajames/tinyviber/internal/models"
	"github.com/oantajames/tinyviber/internal/output"
	"github.com/oantajames/tinyviber/internal/tools"
)

var (
	runSkill   string
	runSummary string
	runScreen  string
	runUser    string
)

var runCmd = &cobra.Command{
	Use:   "run [prompt]",
	Short: "Run the code-change pipeline once from the command line",
	Long: `Run a single code-change pipeline: validate the prompt, execute the
coding agent in a sandbox, audit the diff, push a branch, and open a PR.
Progress is printed as the status document advances.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		prompt := args[0]
		if runSummary == "" {
			runSummary = prompt
			if len(runSummary) > 60 {
				runSummary = runSummary[:60]
			}
		}

		s, err := getStore()
		if err != nil {
			return err
		}
		resolver, err := getResolver()
		if err != nil {
			return err
		}

		var summarizer tools.Summarizer
		if c := getSummarizer(); c != nil {
			summarizer = c
		}

		srv := tools.NewServer(s, resolver, getOrchestrator(), getGitHub(),
			summarizer, viper.GetString("github.token"), agentSecrets(), ui)

		// Subscribe before triggering so every transition is printed.
		entropy := rand.New(rand.NewSource(time.Now().UnixNano()))
		invocationID := "cli-" + ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
		updates, cancel := s.Watch(invocationID)
		defer cancel()

		done := make(chan struct{})
		go func() {
			defer close(done)
			var last models.PipelineStatus
			for doc := range updates {
				if doc.Status != last {
					last = doc.Status
					ui.Info("status: %s", output.StatusColor(string(doc.Status)))
				}
				if doc.Status.Terminal() {
					return
				}
			}
		}()

		result := srv.Trigger(cmd.Context(), tools.TriggerInput{
			Summary:       runSummary,
			Prompt:        prompt,
			SkillID:       runSkill,
			InvocationID:  invocationID,
			ScreenContext: runScreen,
			UserName:      runUser,
		})
		cancel()
		<-done

		if result.Status != "success" {
			ui.Error("pipeline failed: %s", result.Error)
			return fmt.Errorf("pipeline failed")
		}

		ui.Success("PR #%d opened: %s", result.PRNumber, output.Cyan(result.PRURL))
		ui.Info("branch %s, commit %s", result.Branch, result.CommitSHA)
		ui.Info("files changed: %s", strings.Join(result.FilesChanged, ", "))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVar(&runSkill, "skill", "", "Skill id to apply (required)")
	runCmd.Flags().StringVar(&runSummary, "summary", "", "Short change summary (defaults to the prompt)")
	runCmd.Flags().StringVar(&runScreen, "screen", "", "Screen context to scope edits to")
	runCmd.Flags().StringVar(&runUser, "user", "cli", "Requesting user name")
	_ = runCmd.MarkFlagRequired("skill")
}
