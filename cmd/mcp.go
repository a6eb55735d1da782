package cmd

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/oantajames/tinyviber/internal/output"
	"github.com/oantajames/tinyviber/internal/tools"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Start MCP stdio server exposing the pipeline tools",
	Long: `Start an MCP (Model Context Protocol) server on stdio.

This lets a conversational agent drive the code-change pipeline.
Configure in the client with:

  {
    "mcpServers": {
      "tinyviber": { "command": "tinyviber", "args": ["mcp"] }
    }
  }

Available tools: viber_plan_create, viber_plan_update, viber_code_change,
viber_pr_status, viber_project_context`,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := getStore()
		if err != nil {
			return err
		}
		resolver, err := getResolver()
		if err != nil {
			return err
		}

		// stdout carries the protocol; all diagnostics go to stderr.
		stderrUI := output.NewStderr()
		stderrUI.Verbose = verbose

		var summarizer tools.Summarizer
		if c := getSummarizer(); c != nil {
			summarizer = c
		}

		srv := tools.NewServer(s, resolver, getOrchestrator(), getGitHub(),
			summarizer, viper.GetString("github.token"), agentSecrets(), stderrUI)
		return srv.ServeStdio(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}
