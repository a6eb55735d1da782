// Package github is the source-control gateway: PR creation, status
// polling, preview URL discovery, and auto-merge.
package github

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/oantajames/tinyviber/internal/config"
)

// HTTPClient interface for HTTP operations (allows mocking in tests).
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// ClientConfig configures a Client.
type ClientConfig struct {
	// BaseURL defaults to the public GitHub API.
	BaseURL string
	Token   string
}

// Client talks to the GitHub REST and GraphQL APIs with a bearer token.
type Client struct {
	baseURL    string
	token      string
	httpClient HTTPClient
	logf       func(format string, a ...any)
}

// NewClient creates a gateway client. logf receives non-fatal
// diagnostics; pass nil to discard them.
func NewClient(cfg ClientConfig, httpClient HTTPClient, logf func(format string, a ...any)) *Client {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://api.github.com"
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if logf == nil {
		logf = func(string, ...any) {}
	}
	return &Client{baseURL: baseURL, token: cfg.Token, httpClient: httpClient, logf: logf}
}

// PullRequest identifies a created pull request.
type PullRequest struct {
	Number int
	URL    string
}

// PullRequestInput carries everything needed to open a PR.
type PullRequestInput struct {
	Branch       string
	Title        string
	Summary      string
	FilesChanged []string
	SkillName    string
	UserName     string
}

// RenderPRBody substitutes the named placeholders of the PR body
// template: {{summary}}, {{files}}, {{skill}}, {{user}}.
func RenderPRBody(template string, in PullRequestInput) string {
	var files strings.Builder
	for _, f := range in.FilesChanged {
		fmt.Fprintf(&files, "- `%s`\n", f)
	}
	r := strings.NewReplacer(
		"{{summary}}", in.Summary,
		"{{files}}", strings.TrimRight(files.String(), "\n"),
		"{{skill}}", in.SkillName,
		"{{user}}", in.UserName,
	)
	return r.Replace(template)
}

// CreatePullRequest opens a PR from in.Branch against the configured
// default branch.
func (c *Client) CreatePullRequest(ctx context.Context, cfg *config.Config, in PullRequestInput) (*PullRequest, error) {
	title := strings.TrimSpace(cfg.Git.CommitPrefix + " " + in.Title)
	payload := map[string]any{
		"title": title,
		"head":  in.Branch,
		"base":  cfg.Project.DefaultBranch,
		"body":  RenderPRBody(cfg.Git.PRBodyTemplate, in),
	}

	var created struct {
		Number  int    `json:"number"`
		HTMLURL string `json:"html_url"`
	}
	url := fmt.Sprintf("%s/repos/%s/pulls", c.baseURL, cfg.Project.Repo)
	if err := c.doRequest(ctx, http.MethodPost, url, payload, &created); err != nil {
		return nil, fmt.Errorf("create pull request: %w", err)
	}
	return &PullRequest{Number: created.Number, URL: created.HTMLURL}, nil
}

// Status is the merged view of a PR's state for display.
type Status struct {
	State        string // open, closed, merged
	Mergeable    bool
	ChecksStatus string // neutral, success, failure, pending
	ReviewState  string // approved, changes_requested, pending, none
}

type prDetail struct {
	State     string `json:"state"`
	Merged    bool   `json:"merged"`
	Mergeable *bool  `json:"mergeable"`
	NodeID    string `json:"node_id"`
	Head      struct {
		SHA string `json:"sha"`
	} `json:"head"`
}

func (c *Client) pullRequest(ctx context.Context, repo string, number int) (*prDetail, error) {
	var pr prDetail
	url := fmt.Sprintf("%s/repos/%s/pulls/%d", c.baseURL, repo, number)
	if err := c.doRequest(ctx, http.MethodGet, url, nil, &pr); err != nil {
		return nil, fmt.Errorf("get pull request #%d: %w", number, err)
	}
	return &pr, nil
}

// PRStatus fetches the PR's state, mergeability, check-run rollup, and
// most recent review state. Check and review fetch errors degrade to
// neutral/none rather than failing the call.
func (c *Client) PRStatus(ctx context.Context, cfg *config.Config, number int) (*Status, error) {
	pr, err := c.pullRequest(ctx, cfg.Project.Repo, number)
	if err != nil {
		return nil, err
	}

	state := pr.State
	if pr.Merged {
		state = "merged"
	}

	st := &Status{
		State:        state,
		Mergeable:    pr.Mergeable != nil && *pr.Mergeable,
		ChecksStatus: c.checksRollup(ctx, cfg.Project.Repo, pr.Head.SHA),
		ReviewState:  c.latestReviewState(ctx, cfg.Project.Repo, number),
	}
	return st, nil
}

// checksRollup collapses the commit's check-runs: neutral when there are
// none, success only when every run concluded successfully, failure when
// any concluded as failure, pending otherwise. Fetch errors degrade to
// neutral.
func (c *Client) checksRollup(ctx context.Context, repo, sha string) string {
	var resp struct {
		CheckRuns []struct {
			Status     string `json:"status"`
			Conclusion string `json:"conclusion"`
		} `json:"check_runs"`
	}
	url := fmt.Sprintf("%s/repos/%s/commits/%s/check-runs", c.baseURL, repo, sha)
	if err := c.doRequest(ctx, http.MethodGet, url, nil, &resp); err != nil {
		c.logf("check-runs fetch failed for %s: %v", sha, err)
		return "neutral"
	}

	if len(resp.CheckRuns) == 0 {
		return "neutral"
	}
	allSuccess := true
	for _, run := range resp.CheckRuns {
		if run.Status == "completed" && run.Conclusion == "failure" {
			return "failure"
		}
		if run.Status != "completed" || run.Conclusion != "success" {
			allSuccess = false
		}
	}
	if allSuccess {
		return "success"
	}
	return "pending"
}

// latestReviewState reflects only the most recent review. No reviews or
// a fetch error both read as none.
func (c *Client) latestReviewState(ctx context.Context, repo string, number int) string {
	var reviews []struct {
		State string `json:"state"`
	}
	url := fmt.Sprintf("%s/repos/%s/pulls/%d/reviews", c.baseURL, repo, number)
	if err := c.doRequest(ctx, http.MethodGet, url, nil, &reviews); err != nil {
		c.logf("reviews fetch failed for #%d: %v", number, err)
		return "none"
	}
	if len(reviews) == 0 {
		return "none"
	}
	switch reviews[len(reviews)-1].State {
	case "APPROVED":
		return "approved"
	case "CHANGES_REQUESTED":
		return "changes_requested"
	default:
		return "pending"
	}
}

// previewProviders are matched case-insensitively against commit status
// contexts when looking for a preview deployment.
var previewProviders = []string{"vercel", "netlify", "preview"}

// PreviewURL finds a preview-deployment URL for the PR's head commit:
// first via commit statuses whose context names a deployment provider,
// then via the most recent successful deployment's environment URL.
// Returns "" on any failure or absence; it never errors.
func (c *Client) PreviewURL(ctx context.Context, cfg *config.Config, number int) string {
	pr, err := c.pullRequest(ctx, cfg.Project.Repo, number)
	if err != nil {
		c.logf("preview lookup: %v", err)
		return ""
	}
	repo := cfg.Project.Repo

	var statuses []struct {
		Context   string `json:"context"`
		State     string `json:"state"`
		TargetURL string `json:"target_url"`
	}
	url := fmt.Sprintf("%s/repos/%s/commits/%s/statuses", c.baseURL, repo, pr.Head.SHA)
	if err := c.doRequest(ctx, http.MethodGet, url, nil, &statuses); err == nil {
		for _, st := range statuses {
			lower := strings.ToLower(st.Context)
			for _, provider := range previewProviders {
				if strings.Contains(lower, provider) && st.TargetURL != "" {
					return st.TargetURL
				}
			}
		}
	}

	var deployments []struct {
		ID int64 `json:"id"`
	}
	url = fmt.Sprintf("%s/repos/%s/deployments?sha=%s", c.baseURL, repo, pr.Head.SHA)
	if err := c.doRequest(ctx, http.MethodGet, url, nil, &deployments); err != nil || len(deployments) == 0 {
		return ""
	}

	var deployStatuses []struct {
		State          string `json:"state"`
		EnvironmentURL string `json:"environment_url"`
	}
	url = fmt.Sprintf("%s/repos/%s/deployments/%d/statuses", c.baseURL, repo, deployments[0].ID)
	if err := c.doRequest(ctx, http.MethodGet, url, nil, &deployStatuses); err != nil {
		return ""
	}
	for _, ds := range deployStatuses {
		if ds.State == "success" && ds.EnvironmentURL != "" {
			return ds.EnvironmentURL
		}
	}
	return ""
}

// MergePR attempts auto-merge. It is a no-op returning false when the
// policy disables auto-merge. It first enables GitHub's deferred
// auto-merge via GraphQL (queued until required checks pass); when that
// fails (typically no branch protection to defer against) it falls back
// to an immediate squash merge. Errors are logged and swallowed; the
// return is true only on a confirmed success path.
func (c *Client) MergePR(ctx context.Context, cfg *config.Config, number int) bool {
	if !cfg.Git.AutoMerge {
		return false
	}

	pr, err := c.pullRequest(ctx, cfg.Project.Repo, number)
	if err != nil {
		c.logf("auto-merge: %v", err)
		return false
	}

	if err := c.enableAutoMerge(ctx, pr.NodeID); err == nil {
		return true
	} else {
		c.logf("auto-merge enable failed for #%d, trying squash merge: %v", number, err)
	}

	var merged struct {
		Merged bool `json:"merged"`
	}
	url := fmt.Sprintf("%s/repos/%s/pulls/%d/merge", c.baseURL, cfg.Project.Repo, number)
	if err := c.doRequest(ctx, http.MethodPut, url, map[string]any{"merge_method": "squash"}, &merged); err != nil {
		c.logf("squash merge failed for #%d: %v", number, err)
		return false
	}
	return merged.Merged
}

func (c *Client) enableAutoMerge(ctx context.Context, nodeID string) error {
	query := `mutation($prId: ID!) {
		enablePullRequestAutoMerge(input: {pullRequestId: $prId, mergeMethod: SQUASH}) {
			pullRequest { id }
		}
	}`
	payload := map[string]any{
		"query":     query,
		"variables": map[string]any{"prId": nodeID},
	}

	var resp struct {
		Errors []struct {
			Message string `json:"message"`
		} `json:"errors"`
	}
	if err := c.doRequest(ctx, http.MethodPost, c.baseURL+"/graphql", payload, &resp); err != nil {
		return err
	}
	if len(resp.Errors) > 0 {
		return fmt.Errorf("graphql: %s", resp.Errors[0].Message)
	}
	return nil
}

// doRequest performs an authenticated request against the GitHub API.
func (c *Client) doRequest(ctx context.Context, method, url string, payload, result any) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal payload: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", c.token))
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("X-GitHub-Api-Version", "2022-11-28")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("API returned status %d: %s", resp.StatusCode, string(data))
	}

	if result != nil {
		if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}
