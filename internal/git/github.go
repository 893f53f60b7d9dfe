package git

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/go-github/v61/github"
	"golang.org/x/oauth2"
)

// ParseGitHubOwnerRepo extracts owner and repo from a remote URL.
// Supports https://host/owner/repo, ssh://git@host/owner/repo and git@host:owner/repo,
// each with or without a .git suffix.
func ParseGitHubOwnerRepo(remoteURL string) (owner, repo string, err error) {
	var repoPath string
	if rest, ok := strings.CutPrefix(remoteURL, "git@"); ok {
		_, p, found := strings.Cut(rest, ":")
		if !found {
			return "", "", fmt.Errorf("invalid git SSH URL: %s", remoteURL)
		}
		repoPath = p
	} else {
		parsed, err := url.Parse(remoteURL)
		if err != nil {
			return "", "", fmt.Errorf("invalid URL: %w", err)
		}
		if parsed.Host == "" && strings.Contains(remoteURL, "://") {
			return "", "", fmt.Errorf("invalid URL: missing host")
		}
		repoPath = parsed.Path
	}

	repoPath = strings.TrimSuffix(strings.Trim(repoPath, "/"), ".git")
	segments := strings.Split(repoPath, "/")
	if len(segments) < 2 || segments[0] == "" || segments[1] == "" {
		return "", "", fmt.Errorf("invalid GitHub path: %s", repoPath)
	}
	return segments[0], segments[1], nil
}

// NewClient creates a GitHub API client. token must be non-empty.
// baseURL is optional: empty means github.com; set for GitHub Enterprise (e.g. https://ghe.example.com).
// Never log or expose token.
func NewClient(ctx context.Context, token, baseURL string) (*github.Client, error) {
	if token == "" {
		return nil, fmt.Errorf("token is required")
	}
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
	client := github.NewClient(oauth2.NewClient(ctx, ts))
	if baseURL == "" {
		return client, nil
	}
	apiBase := strings.TrimSuffix(baseURL, "/") + "/api/v3"
	return client.WithEnterpriseURLs(apiBase, apiBase)
}

// BranchProtection describes the protection state of a remote branch.
type BranchProtection struct {
	Branch    string
	Protected bool
}

// GetBranchProtection reports whether branch is protected on GitHub.
func GetBranchProtection(ctx context.Context, client *github.Client, owner, repo, branch string) (BranchProtection, error) {
	b, _, err := client.Repositories.GetBranch(ctx, owner, repo, branch, 1)
	if err != nil {
		return BranchProtection{}, fmt.Errorf("failed to get branch %s: %w", branch, err)
	}
	return BranchProtection{Branch: branch, Protected: b.GetProtected()}, nil
}

// DeleteRemoteBranchAPI deletes refs/heads/<branch> through the API.
// A branch that does not exist counts as deleted.
func DeleteRemoteBranchAPI(ctx context.Context, client *github.Client, owner, repo, branch string) error {
	resp, err := client.Git.DeleteRef(ctx, owner, repo, "heads/"+branch)
	if err == nil {
		return nil
	}
	if resp != nil && resp.StatusCode == http.StatusNotFound {
		return nil
	}
	var ghErr *github.ErrorResponse
	if errors.As(err, &ghErr) && ghErr.Response != nil && ghErr.Response.StatusCode == http.StatusUnprocessableEntity {
		// GitHub answers 422 "Reference does not exist" for already-deleted refs.
		if strings.Contains(strings.ToLower(ghErr.Message), "does not exist") {
			return nil
		}
	}
	return &DeleteError{Branch: branch, Location: LocationRemote, Err: err}
}
