package sandbox

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/oantajames/tinyviber/internal/config"
	"github.com/oantajames/tinyviber/internal/models"
	"github.com/oantajames/tinyviber/internal/rules"
)

const (
	// repoDir is the fixed workspace path inside the environment.
	repoDir = "repo"

	// manifestFile carries the assembled rules into the workspace. It is
	// unstaged before commit so it never appears in the diff or the PR.
	manifestFile = "AGENT_RULES.md"

	// agentTools is the restricted toolset handed to the coding agent.
	agentTools = "Read Edit Write Grep Glob"

	// setupTimeout bounds every git/setup command.
	setupTimeout = 30 * time.Second

	// cloneTimeout is longer; a cold clone routinely exceeds 30s.
	cloneTimeout = 120 * time.Second

	// environmentLifetime is the ceiling the environment's default
	// lifetime is extended to, so it outlives the provider's default cap.
	environmentLifetime = 10 * time.Minute

	botName  = "tiny-viber-bot"
	botEmail = "tiny-viber-bot@users.noreply.github.com"
)

// StepError is a fatal pipeline failure attributed to one state-machine
// step, carrying any captured command output and a structured timeout
// signal.
type StepError struct {
	Step     models.PipelineStatus
	Msg      string
	Stdout   string
	Stderr   string
	TimedOut bool
}

func (e *StepError) Error() string {
	out := strings.TrimSpace(e.Stderr)
	if out == "" {
		out = strings.TrimSpace(e.Stdout)
	}
	if out != "" {
		return fmt.Sprintf("%s: %s", e.Msg, out)
	}
	return e.Msg
}

// ProgressFunc receives each forward status transition. Implementations
// are fire-and-forget; they cannot abort the pipeline.
type ProgressFunc func(status models.PipelineStatus)

// RunParams are the inputs for one pipeline execution.
type RunParams struct {
	Prompt        string
	Summary       string
	ScreenContext string
	Skill         *config.Skill
	Config        *config.Config
	Branch        string
	GitToken      string
	// Secrets are exported into the environment's shell profile before
	// the agent runs.
	Secrets  map[string]string
	Progress ProgressFunc
}

// RunResult is the outcome of a successful pipeline execution, ready for
// PR creation.
type RunResult struct {
	Branch       string
	CommitSHA    string
	FilesChanged []string
	AgentOutput  string
}

// Orchestrator drives the sandbox pipeline: provision, clone, branch,
// code, validate, commit, push, teardown. Steps run strictly in order;
// any failure aborts the rest and the environment is always torn down.
type Orchestrator struct {
	provider Provider
	logf     func(format string, a ...any)
}

// NewOrchestrator creates an orchestrator over the given environment
// provider. logf receives non-fatal diagnostics; pass nil to discard.
func NewOrchestrator(provider Provider, logf func(format string, a ...any)) *Orchestrator {
	if logf == nil {
		logf = func(string, ...any) {}
	}
	return &Orchestrator{provider: provider, logf: logf}
}

// ExecuteAndPush runs the full pipeline and returns the pushed commit.
// Responsibility ends after push; PR creation belongs to the caller.
func (o *Orchestrator) ExecuteAndPush(ctx context.Context, p RunParams) (*RunResult, error) {
	cfg := p.Config
	progress := p.Progress
	if progress == nil {
		progress = func(models.PipelineStatus) {}
	}

	env, err := o.provider.Create(ctx, cfg.Sandbox.TemplateID, time.Duration(cfg.Sandbox.TimeoutMS)*time.Millisecond)
	if err != nil {
		return nil, &StepError{Step: models.StatusValidating, Msg: fmt.Sprintf("provision environment: %v", err)}
	}
	defer func() {
		// Teardown is unconditional; its failure is logged, never surfaced.
		if killErr := env.Kill(context.WithoutCancel(ctx)); killErr != nil {
			o.logf("environment %s teardown failed: %v", env.ID(), killErr)
		}
	}()

	if err := env.ExtendDeadline(ctx, environmentLifetime); err != nil {
		o.logf("environment %s lifetime extension failed: %v", env.ID(), err)
	}

	progress(models.StatusBranching)
	if err := o.prepareRepo(ctx, env, p); err != nil {
		return nil, err
	}

	progress(models.StatusCoding)
	agentOut, err := o.runAgent(ctx, env, p)
	if err != nil {
		return nil, err
	}

	progress(models.StatusCommitting)
	res, err := o.commitAndPush(ctx, env, p)
	if err != nil {
		return nil, err
	}
	res.AgentOutput = agentOut
	return res, nil
}

// run executes a command and converts non-zero exits and timeouts into a
// StepError attributed to step.
func (o *Orchestrator) run(ctx context.Context, env Environment, step models.PipelineStatus, msg, command string, opts RunOpts) (Result, error) {
	res, err := env.Run(ctx, command, opts)
	if err != nil {
		return res, &StepError{Step: step, Msg: fmt.Sprintf("%s: %v", msg, err), TimedOut: res.TimedOut}
	}
	if res.ExitCode != 0 {
		return res, &StepError{Step: step, Msg: msg, Stdout: res.Stdout, Stderr: res.Stderr, TimedOut: res.TimedOut}
	}
	return res, nil
}

func (o *Orchestrator) prepareRepo(ctx context.Context, env Environment, p RunParams) error {
	if len(p.Secrets) > 0 {
		var profile strings.Builder
		for k, v := range p.Secrets {
			fmt.Fprintf(&profile, "export %s=%s\n", k, QuoteArg(v))
		}
		if err := env.WriteFile(ctx, ".profile", []byte(profile.String())); err != nil {
			return &StepError{Step: models.StatusBranching, Msg: fmt.Sprintf("write shell profile: %v", err)}
		}
	}

	cloneURL := fmt.Sprintf("https://x-access-token:%s@github.com/%s.git", p.GitToken, p.Config.Project.Repo)
	if _, err := o.run(ctx, env, models.StatusBranching, "clone repository",
		fmt.Sprintf("git clone --depth 1 --branch %s %s %s",
			QuoteArg(p.Config.Project.DefaultBranch), QuoteArg(cloneURL), repoDir),
		RunOpts{Timeout: cloneTimeout}); err != nil {
		return err
	}

	gitOpts := RunOpts{Dir: repoDir, Timeout: setupTimeout}
	if _, err := o.run(ctx, env, models.StatusBranching, "create branch",
		fmt.Sprintf("git checkout -b %s", QuoteArg(p.Branch)), gitOpts); err != nil {
		return err
	}

	identity := fmt.Sprintf("git config user.name %s && git config user.email %s",
		QuoteArg(botName), QuoteArg(botEmail))
	if _, err := o.run(ctx, env, models.StatusBranching, "configure bot identity", identity, gitOpts); err != nil {
		return err
	}
	return nil
}

func (o *Orchestrator) runAgent(ctx context.Context, env Environment, p RunParams) (string, error) {
	manifest := rules.BuildSystemPrompt(p.Skill, p.Config, p.ScreenContext)
	if err := env.WriteFile(ctx, repoDir+"/"+manifestFile, []byte(manifest)); err != nil {
		return "", &StepError{Step: models.StatusCoding, Msg: fmt.Sprintf("write rules manifest: %v", err)}
	}

	agentPrompt := fmt.Sprintf("%s\n\nSkill: %s. Read %s before changing anything and follow it exactly.",
		p.Prompt, p.Skill.ID, manifestFile)
	command := fmt.Sprintf("claude -p %s --allowedTools %s", QuoteArg(agentPrompt), QuoteArg(agentTools))

	res, err := o.run(ctx, env, models.StatusCoding, "coding agent failed", command, RunOpts{
		Dir:     repoDir,
		Timeout: time.Duration(p.Config.Sandbox.TimeoutMS) * time.Millisecond,
	})
	if err != nil {
		return "", err
	}
	return res.Stdout, nil
}

func (o *Orchestrator) commitAndPush(ctx context.Context, env Environment, p RunParams) (*RunResult, error) {
	gitOpts := RunOpts{Dir: repoDir, Timeout: setupTimeout}

	if _, err := o.run(ctx, env, models.StatusCommitting, "stage changes", "git add -A", gitOpts); err != nil {
		return nil, err
	}
	// The manifest is ours, not the agent's change.
	if _, err := o.run(ctx, env, models.StatusCommitting, "unstage rules manifest",
		fmt.Sprintf("git reset -q -- %s", manifestFile), gitOpts); err != nil {
		return nil, err
	}

	diffRes, err := o.run(ctx, env, models.StatusCommitting, "read staged diff", "git diff --cached", gitOpts)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(diffRes.Stdout) == "" {
		return nil, &StepError{Step: models.StatusCommitting, Msg: "no changes were made"}
	}

	validation := rules.ValidateDiff(diffRes.Stdout, p.Skill, p.Config)
	if !validation.Valid {
		return nil, &StepError{Step: models.StatusCommitting, Msg: validation.Error}
	}
	files := rules.DiffFiles(diffRes.Stdout)

	summary := p.Summary
	if r := []rune(summary); len(r) > 72 {
		summary = string(r[:72])
	}
	message := strings.TrimSpace(p.Config.Git.CommitPrefix + " " + summary)
	if _, err := o.run(ctx, env, models.StatusCommitting, "commit changes",
		fmt.Sprintf("git commit -m %s", QuoteArg(message)), gitOpts); err != nil {
		return nil, err
	}

	shaRes, err := o.run(ctx, env, models.StatusCommitting, "read commit sha", "git rev-parse HEAD", gitOpts)
	if err != nil {
		return nil, err
	}

	if _, err := o.run(ctx, env, models.StatusCommitting, "push branch",
		fmt.Sprintf("git push -u origin %s", QuoteArg(p.Branch)), gitOpts); err != nil {
		return nil, err
	}

	return &RunResult{
		Branch:       p.Branch,
		CommitSHA:    strings.TrimSpace(shaRes.Stdout),
		FilesChanged: files,
	}, nil
}
