// Package tools exposes the Tiny Viber pipeline to a conversational
// agent as MCP tools: plan authoring, the code-change trigger, PR status
// polling, and a read-only project context projection.
package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/oantajames/tinyviber/internal/branch"
	"github.com/oantajames/tinyviber/internal/config"
	"github.com/oantajames/tinyviber/internal/github"
	"github.com/oantajames/tinyviber/internal/models"
	"github.com/oantajames/tinyviber/internal/output"
	"github.com/oantajames/tinyviber/internal/rules"
	"github.com/oantajames/tinyviber/internal/sandbox"
	"github.com/oantajames/tinyviber/internal/store"
)

// Summarizer condenses agent output for the PR body. Nil is fine; the
// raw summary is used instead.
type Summarizer interface {
	SummarizeChange(ctx context.Context, request, agentReport string) (string, error)
}

// Server wraps the pipeline components and exposes them as MCP tools.
// All dependencies are injected; nothing here is a singleton.
type Server struct {
	store      store.Store
	resolver   *config.Resolver
	orch       *sandbox.Orchestrator
	gh         *github.Client
	summarizer Summarizer
	gitToken   string
	secrets    map[string]string
	ui         *output.UI
}

// NewServer creates the MCP server wrapper with all required dependencies.
// secrets are environment variables exported inside every sandbox so the
// coding agent can authenticate.
func NewServer(s store.Store, resolver *config.Resolver, orch *sandbox.Orchestrator, gh *github.Client, summarizer Summarizer, gitToken string, secrets map[string]string, ui *output.UI) *Server {
	if ui == nil {
		ui = output.NewStderr()
	}
	return &Server{
		store:      s,
		resolver:   resolver,
		orch:       orch,
		gh:         gh,
		summarizer: summarizer,
		gitToken:   gitToken,
		secrets:    secrets,
		ui:         ui,
	}
}

// MCPServer returns a configured mcp-go server with all tools registered.
func (s *Server) MCPServer() *server.MCPServer {
	srv := server.NewMCPServer("tinyviber", "1.0.0", server.WithToolCapabilities(true))

	srv.AddTool(s.planCreateTool())
	srv.AddTool(s.planUpdateTool())
	srv.AddTool(s.codeChangeTool())
	srv.AddTool(s.prStatusTool())
	srv.AddTool(s.projectContextTool())

	return srv
}

// ServeStdio starts the stdio transport, blocking until ctx is cancelled.
func (s *Server) ServeStdio(ctx context.Context) error {
	srv := s.MCPServer()
	stdioServer := server.NewStdioServer(srv)
	return stdioServer.Listen(ctx, os.Stdin, os.Stdout)
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("marshal result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

// ---------------------------------------------------------------------------
// viber_plan_create / viber_plan_update
// ---------------------------------------------------------------------------

func (s *Server) planCreateTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("viber_plan_create",
		mcp.WithDescription("Publish an implementation plan for the user to follow along. Every step starts as pending. Returns the plan as JSON."),
		mcp.WithString("title", mcp.Required(), mcp.Description("Plan title")),
		mcp.WithString("overview", mcp.Description("One-paragraph overview of the approach")),
		mcp.WithArray("steps", mcp.Required(), mcp.Description("Ordered steps, each with id and label")),
	)
	return tool, s.handlePlanCreate
}

func (s *Server) handlePlanCreate(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var args struct {
		Title    string            `json:"title"`
		Overview string            `json:"overview"`
		Steps    []models.PlanStep `json:"steps"`
	}
	if err := request.BindArguments(&args); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid arguments: %v", err)), nil
	}
	if args.Title == "" {
		return mcp.NewToolResultError("missing required parameter: title"), nil
	}
	if len(args.Steps) == 0 {
		return mcp.NewToolResultError("plan needs at least one step"), nil
	}

	plan := models.Plan{Title: args.Title, Overview: args.Overview, Steps: args.Steps}
	for i := range plan.Steps {
		if plan.Steps[i].ID == "" || plan.Steps[i].Label == "" {
			return mcp.NewToolResultError(fmt.Sprintf("step %d is missing id or label", i+1)), nil
		}
		plan.Steps[i].Status = models.StepPending
	}
	return jsonResult(plan)
}

func (s *Server) planUpdateTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("viber_plan_update",
		mcp.WithDescription("Republish the plan with updated step statuses (pending, in_progress, done, skipped). Send the full step list; it is relayed verbatim."),
		mcp.WithString("title", mcp.Required(), mcp.Description("Plan title")),
		mcp.WithString("overview", mcp.Description("Plan overview")),
		mcp.WithArray("steps", mcp.Required(), mcp.Description("All steps with id, label, and status")),
	)
	return tool, s.handlePlanUpdate
}

func (s *Server) handlePlanUpdate(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var args struct {
		Title    string            `json:"title"`
		Overview string            `json:"overview"`
		Steps    []models.PlanStep `json:"steps"`
	}
	if err := request.BindArguments(&args); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid arguments: %v", err)), nil
	}
	if len(args.Steps) == 0 {
		return mcp.NewToolResultError("plan needs at least one step"), nil
	}
	for i, step := range args.Steps {
		if step.ID == "" || step.Label == "" {
			return mcp.NewToolResultError(fmt.Sprintf("step %d is missing id or label", i+1)), nil
		}
		if !models.ValidStepStatus(step.Status) {
			return mcp.NewToolResultError(fmt.Sprintf("step %s has invalid status %q", step.ID, step.Status)), nil
		}
	}

	// The agent owns transition logic; this tool is a pure relay.
	return jsonResult(models.Plan{Title: args.Title, Overview: args.Overview, Steps: args.Steps})
}

// ---------------------------------------------------------------------------
// viber_code_change
// ---------------------------------------------------------------------------

// ChangeResult is the structured trigger outcome. Status is always
// "success" or "failed"; failed results instruct the caller not to retry
// since every attempt spins up a fresh sandbox.
type ChangeResult struct {
	Status       string   `json:"status"`
	PipelineID   string   `json:"pipeline_id,omitempty"`
	PRURL        string   `json:"pr_url,omitempty"`
	PRNumber     int      `json:"pr_number,omitempty"`
	Branch       string   `json:"branch,omitempty"`
	CommitSHA    string   `json:"commit_sha,omitempty"`
	FilesChanged []string `json:"files_changed,omitempty"`
	Error        string   `json:"error,omitempty"`
	DoNotRetry   bool     `json:"do_not_retry,omitempty"`
	Instruction  string   `json:"instruction,omitempty"`
}

func (s *Server) codeChangeTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("viber_code_change",
		mcp.WithDescription("Implement a code change: runs a coding agent in an ephemeral sandbox, validates the diff against the project rules, pushes a branch, and opens a pull request. Progress is published to a live status document keyed by invocation_id."),
		mcp.WithString("summary", mcp.Required(), mcp.Description("Short human summary of the change (used for branch and commit naming)")),
		mcp.WithString("prompt", mcp.Required(), mcp.Description("Full natural-language description of the change")),
		mcp.WithString("skill_id", mcp.Required(), mcp.Description("Skill to apply; see viber_project_context for the catalog")),
		mcp.WithString("invocation_id", mcp.Description("Caller-supplied id for the status document so a UI can subscribe up front")),
		mcp.WithString("screen_context", mcp.Description("Screen/page the user is currently on, to scope edits")),
		mcp.WithString("session_id", mcp.Description("Originating chat session id")),
		mcp.WithString("user", mcp.Description("Display name of the requesting user")),
	)
	return tool, s.handleCodeChange
}

func failure(errText string, timedOut bool) *ChangeResult {
	instruction := "Do not retry automatically. Report the error to the user and wait for their direction."
	if timedOut {
		instruction = "The change timed out in the sandbox. Do not retry automatically; suggest the user narrow the request and try again."
	}
	return &ChangeResult{
		Status:      "failed",
		Error:       errText,
		DoNotRetry:  true,
		Instruction: instruction,
	}
}

func (s *Server) handleCodeChange(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	summary, err := request.RequireString("summary")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: summary"), nil
	}
	prompt, err := request.RequireString("prompt")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: prompt"), nil
	}
	skillID, err := request.RequireString("skill_id")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: skill_id"), nil
	}

	return jsonResult(s.Trigger(ctx, TriggerInput{
		Summary:       summary,
		Prompt:        prompt,
		SkillID:       skillID,
		InvocationID:  request.GetString("invocation_id", ""),
		ScreenContext: request.GetString("screen_context", ""),
		SessionID:     request.GetString("session_id", ""),
		UserName:      request.GetString("user", ""),
	}))
}

// TriggerInput is one code-change request.
type TriggerInput struct {
	Summary       string
	Prompt        string
	SkillID       string
	InvocationID  string
	ScreenContext string
	SessionID     string
	UserName      string
}

// Trigger runs the full code-change pipeline: validate, create the
// status document, execute in the sandbox, open the PR, and fire
// auto-merge. Every failure path marks the status document failed and
// comes back as a structured result; no error escapes.
func (s *Server) Trigger(ctx context.Context, in TriggerInput) *ChangeResult {
	cfg, err := s.resolver.Resolve(ctx)
	if err != nil {
		return failure(fmt.Sprintf("resolve configuration: %v", err), false)
	}

	skill, ok := cfg.SkillByID(in.SkillID)
	if !ok {
		return failure(fmt.Sprintf("unknown skill %q, valid skills: %v", in.SkillID, cfg.SkillIDs()), false)
	}

	// Prompt rejection happens before any status document or sandbox
	// exists.
	if err := rules.ValidatePrompt(in.Prompt, skill); err != nil {
		return failure(err.Error(), false)
	}

	branchName := branch.Generate(in.Summary, cfg.Git.BranchPrefix, time.Now())

	doc := &models.PipelineRequest{
		ID:        in.InvocationID,
		SessionID: in.SessionID,
		UserName:  in.UserName,
		Prompt:    in.Prompt,
		SkillID:   in.SkillID,
		Branch:    branchName,
		Status:    models.StatusValidating,
	}
	if err := s.store.CreatePipeline(ctx, doc); err != nil {
		return failure(fmt.Sprintf("create status document: %v", err), false)
	}

	result, runErr := s.orch.ExecuteAndPush(ctx, sandbox.RunParams{
		Prompt:        in.Prompt,
		Summary:       in.Summary,
		ScreenContext: in.ScreenContext,
		Skill:         skill,
		Config:        cfg,
		Branch:        branchName,
		GitToken:      s.gitToken,
		Secrets:       s.secrets,
		Progress: func(status models.PipelineStatus) {
			s.updateDoc(ctx, doc.ID, store.PipelineUpdate{Status: &status})
		},
	})
	if runErr != nil {
		return s.failPipeline(ctx, doc.ID, runErr)
	}

	creating := models.StatusCreatingPR
	s.updateDoc(ctx, doc.ID, store.PipelineUpdate{Status: &creating})

	prSummary := in.Summary
	if s.summarizer != nil {
		if enriched, err := s.summarizer.SummarizeChange(ctx, in.Prompt, result.AgentOutput); err != nil {
			s.ui.VerboseLog("PR summary enrichment failed: %v", err)
		} else {
			prSummary = enriched
		}
	}

	pr, err := s.gh.CreatePullRequest(ctx, cfg, github.PullRequestInput{
		Branch:       result.Branch,
		Title:        in.Summary,
		Summary:      prSummary,
		FilesChanged: result.FilesChanged,
		SkillName:    skill.Name,
		UserName:     in.UserName,
	})
	if err != nil {
		return s.failPipeline(ctx, doc.ID, err)
	}

	deploying := models.StatusDeploying
	s.updateDoc(ctx, doc.ID, store.PipelineUpdate{
		Status:       &deploying,
		PRNumber:     &pr.Number,
		PRURL:        &pr.URL,
		CommitSHA:    &result.CommitSHA,
		FilesChanged: result.FilesChanged,
	})

	// Auto-merge is fire-and-forget; the pipeline result never waits on
	// it.
	go func(prNumber int) {
		mergeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
		defer cancel()
		if s.gh.MergePR(mergeCtx, cfg, prNumber) {
			s.ui.VerboseLog("auto-merge enabled for PR #%d", prNumber)
		}
	}(pr.Number)

	return &ChangeResult{
		Status:       "success",
		PipelineID:   doc.ID,
		PRURL:        pr.URL,
		PRNumber:     pr.Number,
		Branch:       result.Branch,
		CommitSHA:    result.CommitSHA,
		FilesChanged: result.FilesChanged,
	}
}

// updateDoc is a best-effort status write; failures are logged and never
// abort the pipeline.
func (s *Server) updateDoc(ctx context.Context, id string, u store.PipelineUpdate) {
	if err := s.store.UpdatePipeline(ctx, id, u); err != nil {
		s.ui.Warning("status document write failed for %s: %v", id, err)
	}
}

func (s *Server) failPipeline(ctx context.Context, id string, runErr error) *ChangeResult {
	failed := models.StatusFailed
	errText := runErr.Error()
	// The terminal write must land even when the tool call's context is
	// already cancelled; otherwise the document is stranded mid-pipeline.
	s.updateDoc(context.WithoutCancel(ctx), id, store.PipelineUpdate{Status: &failed, Error: &errText})

	var stepErr *sandbox.StepError
	timedOut := errors.As(runErr, &stepErr) && stepErr.TimedOut
	result := failure(errText, timedOut)
	result.PipelineID = id
	return result
}

// ---------------------------------------------------------------------------
// viber_pr_status
// ---------------------------------------------------------------------------

func (s *Server) prStatusTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("viber_pr_status",
		mcp.WithDescription("Poll a pull request: state, mergeability, CI checks rollup, latest review state, and preview URL. Safe to call repeatedly."),
		mcp.WithNumber("pr_number", mcp.Required(), mcp.Description("Pull request number")),
	)
	return tool, s.handlePRStatus
}

func (s *Server) handlePRStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	prNumber, err := request.RequireInt("pr_number")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: pr_number"), nil
	}

	cfg, err := s.resolver.Resolve(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("resolve configuration: %v", err)), nil
	}

	status, err := s.gh.PRStatus(ctx, cfg, prNumber)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("fetch PR status: %v", err)), nil
	}

	// This result is shown directly to the user, so absence gets a
	// readable placeholder instead of null.
	preview := s.gh.PreviewURL(ctx, cfg, prNumber)
	if preview == "" {
		preview = "not available yet"
	}

	return jsonResult(map[string]any{
		"status":       "success",
		"pr_number":    prNumber,
		"state":        status.State,
		"mergeable":    status.Mergeable,
		"checks":       status.ChecksStatus,
		"review_state": status.ReviewState,
		"preview_url":  preview,
	})
}

// ---------------------------------------------------------------------------
// viber_project_context
// ---------------------------------------------------------------------------

func (s *Server) projectContextTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("viber_project_context",
		mcp.WithDescription("Read-only projection of the effective configuration: project identity, skill catalog, and rule summary. No side effects."),
	)
	return tool, s.handleProjectContext
}

func (s *Server) handleProjectContext(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	cfg, err := s.resolver.Resolve(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("resolve configuration: %v", err)), nil
	}

	type skillOut struct {
		ID               string `json:"id"`
		Name             string `json:"name"`
		Description      string `json:"description"`
		Icon             string `json:"icon"`
		RequiresApproval bool   `json:"requires_approval"`
	}
	skills := make([]skillOut, len(cfg.Skills))
	for i, sk := range cfg.Skills {
		skills[i] = skillOut{
			ID:               sk.ID,
			Name:             sk.Name,
			Description:      sk.Description,
			Icon:             sk.Icon,
			RequiresApproval: sk.RequiresApproval,
		}
	}

	return jsonResult(map[string]any{
		"status": "success",
		"project": map[string]any{
			"name":           cfg.Project.Name,
			"repo":           cfg.Project.Repo,
			"default_branch": cfg.Project.DefaultBranch,
		},
		"skills": skills,
		"rules": map[string]any{
			"allowed":                  cfg.Rules.Allowed,
			"blocked":                  cfg.Rules.Blocked,
			"constraints":              cfg.Rules.Constraints,
			"max_files_per_change":     cfg.Rules.MaxFilesPerChange,
			"allow_new_files":          cfg.Rules.AllowNewFiles,
			"allow_deletions":          cfg.Rules.AllowDeletions,
			"allow_dependency_changes": cfg.Rules.AllowDependencyChanges,
		},
	})
}
