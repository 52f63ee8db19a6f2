package dashboard

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

const defaultGitHubAPIBaseURL = "https://api.github.com"

// GitHubSummary はGitHubアカウントの公開統計。
type GitHubSummary struct {
	Login       string
	PublicRepos int
	Followers   int
	Following   int
}

// GitHubSource は GET /user から公開統計を取得する。
type GitHubSource struct {
	apiBaseURL string
}

// NewGitHubSource はGitHubSourceを生成する。apiBaseURLが空の場合はapi.github.comを使う。
func NewGitHubSource(apiBaseURL string) *GitHubSource {
	if apiBaseURL == "" {
		apiBaseURL = defaultGitHubAPIBaseURL
	}
	return &GitHubSource{apiBaseURL: strings.TrimRight(apiBaseURL, "/")}
}

func (s *GitHubSource) Name() string { return "github" }

func (s *GitHubSource) Fetch(ctx context.Context, client *http.Client, d *Dashboard) error {
	url := s.apiBaseURL + "/user"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/vnd.github+json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("github user request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return &statusError{URL: url, Status: resp.StatusCode}
	}

	var user struct {
		Login       string `json:"login"`
		PublicRepos int    `json:"public_repos"`
		Followers   int    `json:"followers"`
		Following   int    `json:"following"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&user); err != nil {
		return fmt.Errorf("failed to parse github user: %w", err)
	}

	d.GitHub = &GitHubSummary{
		Login:       user.Login,
		PublicRepos: user.PublicRepos,
		Followers:   user.Followers,
		Following:   user.Following,
	}
	return nil
}
