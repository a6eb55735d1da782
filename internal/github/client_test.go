package github

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oantajames/tinyviber/internal/config"
)

func gatewayConfig() *config.Config {
	return &config.Config{
		Git: config.GitPolicy{
			CommitPrefix:   "viber:",
			PRBodyTemplate: "## Summary\n{{summary}}\n\n## Files\n{{files}}\n\nSkill: {{skill}} | Requested by: {{user}}",
		},
		Project: config.ProjectIdentity{
			Name:          "studio-dashboard",
			Repo:          "oantajames/studio-dashboard",
			DefaultBranch: "main",
		},
	}
}

func testClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(ClientConfig{BaseURL: srv.URL, Token: "test-token"}, srv.Client(), nil)
}

func TestRenderPRBody(t *testing.T) {
	body := RenderPRBody("{{summary}} / {{files}} / {{skill}} / {{user}}", PullRequestInput{
		Summary:      "Made the header sticky",
		FilesChanged: []string{"components/header.tsx", "styles/main.css"},
		SkillName:    "UI Tweak",
		UserName:     "james",
	})

	assert.Contains(t, body, "Made the header sticky")
	assert.Contains(t, body, "- `components/header.tsx`\n- `styles/main.css`")
	assert.Contains(t, body, "UI Tweak")
	assert.Contains(t, body, "james")
}

func TestCreatePullRequest(t *testing.T) {
	var gotPayload map[string]any
	var gotAuth, gotAccept string

	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/repos/oantajames/studio-dashboard/pulls", r.URL.Path)
		gotAuth = r.Header.Get("Authorization")
		gotAccept = r.Header.Get("Accept")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotPayload))

		w.WriteHeader(http.StatusCreated)
		fmt.Fprint(w, `{"number": 42, "html_url": "https://github.com/oantajames/studio-dashboard/pull/42"}`)
	}))

	pr, err := c.CreatePullRequest(context.Background(), gatewayConfig(), PullRequestInput{
		Branch:       "viber/fix-header-1700000000",
		Title:        "Fix header",
		Summary:      "Fixes the sticky header",
		FilesChanged: []string{"components/header.tsx"},
		SkillName:    "UI Tweak",
		UserName:     "james",
	})
	require.NoError(t, err)

	assert.Equal(t, 42, pr.Number)
	assert.Equal(t, "https://github.com/oantajames/studio-dashboard/pull/42", pr.URL)

	assert.Equal(t, "Bearer test-token", gotAuth)
	assert.Equal(t, "application/vnd.github+json", gotAccept)
	assert.Equal(t, "viber: Fix header", gotPayload["title"])
	assert.Equal(t, "viber/fix-header-1700000000", gotPayload["head"])
	assert.Equal(t, "main", gotPayload["base"])
	assert.Contains(t, gotPayload["body"], "Fixes the sticky header")
	assert.Contains(t, gotPayload["body"], "- `components/header.tsx`")
}

func TestCreatePullRequest_APIError(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		fmt.Fprint(w, `{"message": "Validation Failed"}`)
	}))

	_, err := c.CreatePullRequest(context.Background(), gatewayConfig(), PullRequestInput{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "422")
}

type checkRun struct {
	Status     string `json:"status"`
	Conclusion string `json:"conclusion"`
}

func statusHandler(t *testing.T, pr string, runs []checkRun, reviews []map[string]string) http.Handler {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/repos/oantajames/studio-dashboard/pulls/5", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, pr)
	})
	mux.HandleFunc("/repos/oantajames/studio-dashboard/commits/headsha/check-runs", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"check_runs": runs})
	})
	mux.HandleFunc("/repos/oantajames/studio-dashboard/pulls/5/reviews", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(reviews)
	})
	return mux
}

const openPR = `{"state": "open", "merged": false, "mergeable": true, "node_id": "PR_node", "head": {"sha": "headsha"}}`

func TestPRStatus_ChecksRollup(t *testing.T) {
	tests := []struct {
		name string
		runs []checkRun
		want string
	}{
		{"no runs", nil, "neutral"},
		{"all success", []checkRun{
			{"completed", "success"}, {"completed", "success"},
		}, "success"},
		{"one failure", []checkRun{
			{"completed", "success"}, {"completed", "failure"},
		}, "failure"},
		{"still running", []checkRun{
			{"completed", "success"}, {"in_progress", ""},
		}, "pending"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := testClient(t, statusHandler(t, openPR, tt.runs, nil))

			st, err := c.PRStatus(context.Background(), gatewayConfig(), 5)
			require.NoError(t, err)
			assert.Equal(t, tt.want, st.ChecksStatus)
			assert.Equal(t, "open", st.State)
			assert.True(t, st.Mergeable)
		})
	}
}

func TestPRStatus_MergedPrecedence(t *testing.T) {
	merged := `{"state": "closed", "merged": true, "mergeable": null, "node_id": "n", "head": {"sha": "headsha"}}`
	c := testClient(t, statusHandler(t, merged, nil, nil))

	st, err := c.PRStatus(context.Background(), gatewayConfig(), 5)
	require.NoError(t, err)
	assert.Equal(t, "merged", st.State)
	assert.False(t, st.Mergeable)
}

func TestPRStatus_ReviewState(t *testing.T) {
	tests := []struct {
		name    string
		reviews []map[string]string
		want    string
	}{
		{"no reviews", nil, "none"},
		{"approved", []map[string]string{{"state": "APPROVED"}}, "approved"},
		{"changes requested last", []map[string]string{
			{"state": "APPROVED"}, {"state": "CHANGES_REQUESTED"},
		}, "changes_requested"},
		{"comment only", []map[string]string{{"state": "COMMENTED"}}, "pending"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := testClient(t, statusHandler(t, openPR, nil, tt.reviews))

			st, err := c.PRStatus(context.Background(), gatewayConfig(), 5)
			require.NoError(t, err)
			assert.Equal(t, tt.want, st.ReviewState)
		})
	}
}

func TestPreviewURL_FromCommitStatus(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/repos/oantajames/studio-dashboard/pulls/5", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, openPR)
	})
	mux.HandleFunc("/repos/oantajames/studio-dashboard/commits/headsha/statuses", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[
			{"context": "ci/build", "state": "success", "target_url": "https://ci.example.com/1"},
			{"context": "Vercel Preview", "state": "success", "target_url": "https://app-abc.vercel.app"}
		]`)
	})
	c := testClient(t, mux)

	url := c.PreviewURL(context.Background(), gatewayConfig(), 5)
	assert.Equal(t, "https://app-abc.vercel.app", url)
}

func TestPreviewURL_DeploymentFallback(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/repos/oantajames/studio-dashboard/pulls/5", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, openPR)
	})
	mux.HandleFunc("/repos/oantajames/studio-dashboard/commits/headsha/statuses", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[]`)
	})
	mux.HandleFunc("/repos/oantajames/studio-dashboard/deployments", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "headsha", r.URL.Query().Get("sha"))
		fmt.Fprint(w, `[{"id": 99}]`)
	})
	mux.HandleFunc("/repos/oantajames/studio-dashboard/deployments/99/statuses", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[
			{"state": "pending", "environment_url": ""},
			{"state": "success", "environment_url": "https://preview.example.com"}
		]`)
	})
	c := testClient(t, mux)

	url := c.PreviewURL(context.Background(), gatewayConfig(), 5)
	assert.Equal(t, "https://preview.example.com", url)
}

func TestPreviewURL_NothingFound(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/repos/oantajames/studio-dashboard/pulls/5", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, openPR)
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[]`)
	})
	c := testClient(t, mux)

	assert.Equal(t, "", c.PreviewURL(context.Background(), gatewayConfig(), 5))
}

func TestMergePR_DisabledMakesNoAPICalls(t *testing.T) {
	calls := 0
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
	}))

	cfg := gatewayConfig()
	cfg.Git.AutoMerge = false

	assert.False(t, c.MergePR(context.Background(), cfg, 5))
	assert.Equal(t, 0, calls)
}

func TestMergePR_GraphQLAutoMerge(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/repos/oantajames/studio-dashboard/pulls/5", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, openPR)
	})
	mux.HandleFunc("/graphql", func(w http.ResponseWriter, r *http.Request) {
		var payload struct {
			Variables map[string]string `json:"variables"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		assert.Equal(t, "PR_node", payload.Variables["prId"])
		fmt.Fprint(w, `{"data": {"enablePullRequestAutoMerge": {"pullRequest": {"id": "PR_node"}}}}`)
	})
	c := testClient(t, mux)

	cfg := gatewayConfig()
	cfg.Git.AutoMerge = true

	assert.True(t, c.MergePR(context.Background(), cfg, 5))
}

func TestMergePR_SquashFallback(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/repos/oantajames/studio-dashboard/pulls/5", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, openPR)
	})
	mux.HandleFunc("/graphql", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"errors": [{"message": "Pull request is not in the correct state"}]}`)
	})
	var squashed bool
	mux.HandleFunc("/repos/oantajames/studio-dashboard/pulls/5/merge", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPut, r.Method)
		var payload map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		assert.Equal(t, "squash", payload["merge_method"])
		squashed = true
		fmt.Fprint(w, `{"merged": true}`)
	})
	c := testClient(t, mux)

	cfg := gatewayConfig()
	cfg.Git.AutoMerge = true

	assert.True(t, c.MergePR(context.Background(), cfg, 5))
	assert.True(t, squashed)
}

func TestMergePR_AllPathsFail(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/repos/oantajames/studio-dashboard/pulls/5" {
			fmt.Fprint(w, openPR)
			return
		}
		w.WriteHeader(http.StatusMethodNotAllowed)
	}))

	cfg := gatewayConfig()
	cfg.Git.AutoMerge = true

	assert.False(t, c.MergePR(context.Background(), cfg, 5))
}
