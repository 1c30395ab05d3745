package github

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gofri/go-github-ratelimit/v2/github_ratelimit"
	gh "github.com/google/go-github/v82/github"
	"github.com/gregjones/httpcache"

	"github.com/qacompanion/qac/errors"
	"github.com/qacompanion/qac/logger"
	"github.com/qacompanion/qac/sym"
)

const (
	// perPage is the page size for list calls.
	perPage = 100

	// lowRateThreshold is where remaining-quota warnings start.
	lowRateThreshold = 100
)

// Client wraps the GitHub REST API behind a layered transport:
//
//  1. httpcache (ETag-based conditional requests, free on unchanged pages)
//  2. go-github-ratelimit (sleeps through secondary rate limits)
//  3. go-github with token auth
type Client struct {
	gh *gh.Client
}

// NewClient builds the production client. An empty token works for public
// repositories at unauthenticated rate limits.
func NewClient(token string) *Client {
	cacheTransport := httpcache.NewMemoryCacheTransport()
	rateLimited := github_ratelimit.NewClient(cacheTransport)
	client := gh.NewClient(rateLimited)
	if token != "" {
		client = client.WithAuthToken(token)
	}
	return &Client{gh: client}
}

// NewClientWithBaseURL points the client at a different API endpoint, for
// GitHub Enterprise hosts and httptest servers.
func NewClientWithBaseURL(httpClient *http.Client, baseURL string) (*Client, error) {
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to parse base URL %s", baseURL)
	}
	client := gh.NewClient(httpClient)
	client.BaseURL = u
	return &Client{gh: client}, nil
}

// listIssues fetches the repository's issues, paginating until done. The
// result includes pull requests; callers filter those out. Since and label
// filters are applied server-side.
func (c *Client) listIssues(ctx context.Context, owner, repo string, opts Options) ([]*gh.Issue, error) {
	listOpts := &gh.IssueListByRepoOptions{
		State:       stateOrAll(opts.State),
		Labels:      opts.Labels,
		ListOptions: gh.ListOptions{PerPage: perPage},
	}
	if !opts.Since.IsZero() {
		listOpts.Since = opts.Since
	}

	var all []*gh.Issue
	for {
		issues, resp, err := c.gh.Issues.ListByRepo(ctx, owner, repo, listOpts)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to list issues for %s/%s (page %d)", owner, repo, listOpts.ListOptions.Page)
		}
		logRateLimit(resp, owner+"/"+repo+"/issues", listOpts.ListOptions.Page, len(issues))

		all = append(all, issues...)
		if resp.NextPage == 0 {
			break
		}
		listOpts.ListOptions.Page = resp.NextPage
	}
	return all, nil
}

// listPulls fetches pull requests newest-updated first. The pulls API has no
// server-side since filter, so the walk stops at the first stale entry.
func (c *Client) listPulls(ctx context.Context, owner, repo string, opts Options) ([]*gh.PullRequest, error) {
	listOpts := &gh.PullRequestListOptions{
		State:       stateOrAll(opts.State),
		Sort:        "updated",
		Direction:   "desc",
		ListOptions: gh.ListOptions{PerPage: perPage},
	}

	var all []*gh.PullRequest
	for {
		pulls, resp, err := c.gh.PullRequests.List(ctx, owner, repo, listOpts)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to list pull requests for %s/%s (page %d)", owner, repo, listOpts.Page)
		}
		logRateLimit(resp, owner+"/"+repo+"/pulls", listOpts.Page, len(pulls))

		stale := false
		for _, pr := range pulls {
			if !opts.Since.IsZero() && pr.GetUpdatedAt().Before(opts.Since) {
				stale = true
				break
			}
			all = append(all, pr)
		}
		if stale || resp.NextPage == 0 {
			break
		}
		listOpts.Page = resp.NextPage
	}
	return all, nil
}

func stateOrAll(state string) string {
	if state == "" {
		return "all"
	}
	return state
}

// logRateLimit records quota after each API page and warns when it runs low.
func logRateLimit(resp *gh.Response, endpoint string, page, count int) {
	if resp == nil {
		return
	}
	logger.Debugw(sym.IX+" GitHub API page fetched",
		"endpoint", endpoint,
		"page", page,
		"count", count,
		"rate_remaining", resp.Rate.Remaining,
	)
	if resp.Rate.Remaining > 0 && resp.Rate.Remaining < lowRateThreshold {
		logger.Warnw(sym.IX+" GitHub rate limit running low",
			"remaining", resp.Rate.Remaining,
			"reset_in", time.Until(resp.Rate.Reset.Time).Round(time.Second).String(),
		)
	}
}

// splitRepo splits "owner/repo" into its parts.
func splitRepo(fullName string) (string, string, error) {
	parts := strings.SplitN(fullName, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", errors.NewInvalidInputError("invalid repository %q: expected owner/repo", fullName)
	}
	return parts[0], parts[1], nil
}
