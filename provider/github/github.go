// Package github implements provider.Provider against the GitHub REST and
// GraphQL APIs.
package github

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/pithecene-io/pulse/clock"
	"github.com/pithecene-io/pulse/iox"
	"github.com/pithecene-io/pulse/provider"
	"github.com/pithecene-io/pulse/types"
)

// Name keys GitHub in the rate-limit table.
const Name = "github"

// DefaultBaseURL is the public GitHub API.
const DefaultBaseURL = "https://api.github.com"

// DefaultTimeout is the default per-request timeout.
const DefaultTimeout = 15 * time.Second

// DefaultRequestsPerSecond paces requests well under the secondary limits.
const DefaultRequestsPerSecond = 5

const perPage = 100

// Config configures the GitHub client.
type Config struct {
	// Token is a personal access token (required).
	Token string
	// BaseURL overrides the API root (GitHub Enterprise, tests).
	BaseURL string
	// UserAgent is sent on every request.
	UserAgent string
	// Timeout is the per-request timeout (default 15s).
	Timeout time.Duration
	// RequestsPerSecond paces outgoing requests (default 5).
	RequestsPerSecond float64
	// HTTPClient overrides the transport.
	HTTPClient *http.Client
	// Clock resolves relative Retry-After values.
	Clock clock.Clock
}

// Client talks to GitHub.
type Client struct {
	config  Config
	base    *url.URL
	client  *http.Client
	limiter *rate.Limiter
	clock   clock.Clock
}

var _ provider.Provider = (*Client)(nil)

// New creates a client. A missing token is reported as
// types.ErrConfigurationMissing before any network call.
func New(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, fmt.Errorf("github: token: %w", types.ErrConfigurationMissing)
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("github: invalid base URL: %w", err)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = DefaultRequestsPerSecond
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "pulse/" + types.Version
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: cfg.Timeout}
	}
	return &Client{
		config:  cfg,
		base:    base,
		client:  hc,
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1),
		clock:   clock.OrReal(cfg.Clock),
	}, nil
}

// Name implements provider.Provider.
func (c *Client) Name() string { return Name }

type userResponse struct {
	Login       string `json:"login"`
	Name        string `json:"name"`
	PublicRepos int    `json:"public_repos"`
	Followers   int    `json:"followers"`
}

// Viewer implements provider.Provider.
func (c *Client) Viewer(ctx context.Context) (*provider.Account, error) {
	var u userResponse
	resp, err := c.do(ctx, "viewer", http.MethodGet, "/user", nil, &u)
	if err != nil {
		return nil, err
	}
	a := &provider.Account{
		Login:       u.Login,
		Name:        u.Name,
		PublicRepos: u.PublicRepos,
		Followers:   u.Followers,
	}
	a.RateLimit, _ = strconv.Atoi(resp.Header.Get("X-RateLimit-Limit"))
	a.RateRemain, _ = strconv.Atoi(resp.Header.Get("X-RateLimit-Remaining"))
	if reset, err := strconv.ParseInt(resp.Header.Get("X-RateLimit-Reset"), 10, 64); err == nil {
		a.RateResetAt = time.Unix(reset, 0).UTC()
	}
	return a, nil
}

type repoResponse struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	FullName    string    `json:"full_name"`
	Description string    `json:"description"`
	HTMLURL     string    `json:"html_url"`
	Stars       int       `json:"stargazers_count"`
	Forks       int       `json:"forks_count"`
	PushedAt    time.Time `json:"pushed_at"`
	Visibility  string    `json:"visibility"`
	Fork        bool      `json:"fork"`
	Archived    bool      `json:"archived"`
	Private     bool      `json:"private"`
	Owner       struct {
		Login string `json:"login"`
	} `json:"owner"`
}

// ListRepos implements provider.Provider. Pages until a short page.
func (c *Client) ListRepos(ctx context.Context, user string) ([]provider.Repo, error) {
	var out []provider.Repo
	for page := 1; ; page++ {
		path := fmt.Sprintf("/users/%s/repos?type=owner&sort=pushed&per_page=%d&page=%d",
			url.PathEscape(user), perPage, page)
		var batch []repoResponse
		if _, err := c.do(ctx, "list_repos", http.MethodGet, path, nil, &batch); err != nil {
			return nil, err
		}
		for _, r := range batch {
			out = append(out, provider.Repo{
				ID:          r.ID,
				Owner:       r.Owner.Login,
				Name:        r.Name,
				FullName:    r.FullName,
				Description: r.Description,
				HTMLURL:     r.HTMLURL,
				Stars:       r.Stars,
				Forks:       r.Forks,
				PushedAt:    r.PushedAt,
				Visibility:  r.Visibility,
				Fork:        r.Fork,
				Archived:    r.Archived,
				Private:     r.Private,
			})
		}
		if len(batch) < perPage {
			return out, nil
		}
	}
}

type contributorResponse struct {
	Author *struct {
		Login string `json:"login"`
	} `json:"author"`
	Weeks []struct {
		W int64 `json:"w"`
		A int   `json:"a"`
		D int   `json:"d"`
		C int   `json:"c"`
	} `json:"weeks"`
}

// ContributorStats implements provider.Provider.
func (c *Client) ContributorStats(ctx context.Context, fullName string) ([]provider.ContributorStats, error) {
	var raw []contributorResponse
	resp, err := c.do(ctx, "contributor_stats", http.MethodGet, "/repos/"+fullName+"/stats/contributors", nil, &raw)
	if err != nil {
		return nil, err
	}
	switch resp.StatusCode {
	case http.StatusAccepted:
		return nil, provider.ErrStatsPending
	case http.StatusNoContent:
		return nil, nil
	}

	out := make([]provider.ContributorStats, 0, len(raw))
	for _, r := range raw {
		if r.Author == nil {
			continue
		}
		cs := provider.ContributorStats{Login: r.Author.Login}
		for _, w := range r.Weeks {
			cs.Weeks = append(cs.Weeks, types.WeekMetric{Week: w.W, Commits: w.C, Additions: w.A, Deletions: w.D})
		}
		out = append(out, cs)
	}
	return out, nil
}

const calendarQuery = `query($login: String!, $from: DateTime!, $to: DateTime!) {
  user(login: $login) {
    contributionsCollection(from: $from, to: $to) {
      contributionCalendar {
        weeks { contributionDays { date contributionCount } }
      }
    }
  }
}`

type calendarResponse struct {
	Data struct {
		User *struct {
			ContributionsCollection struct {
				ContributionCalendar struct {
					Weeks []struct {
						ContributionDays []struct {
							Date              string `json:"date"`
							ContributionCount int    `json:"contributionCount"`
						} `json:"contributionDays"`
					} `json:"weeks"`
				} `json:"contributionCalendar"`
			} `json:"contributionsCollection"`
		} `json:"user"`
	} `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

// ContributionCalendar implements provider.Provider via GraphQL.
func (c *Client) ContributionCalendar(ctx context.Context, user string, from, to time.Time) (*types.Contributions, error) {
	body, err := json.Marshal(map[string]any{
		"query": calendarQuery,
		"variables": map[string]string{
			"login": user,
			"from":  from.UTC().Format(time.RFC3339),
			"to":    to.UTC().Format(time.RFC3339),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("github: marshal calendar query: %w", err)
	}

	var cr calendarResponse
	if _, err := c.do(ctx, "contribution_calendar", http.MethodPost, "/graphql", body, &cr); err != nil {
		return nil, err
	}
	if len(cr.Errors) > 0 {
		return nil, &types.UpstreamError{Provider: Name, Op: "contribution_calendar", Err: errors.New(cr.Errors[0].Message)}
	}
	if cr.Data.User == nil {
		return nil, &types.UpstreamError{Provider: Name, Op: "contribution_calendar", Err: fmt.Errorf("user %q not found", user)}
	}

	out := &types.Contributions{
		From: from.UTC().Format(types.DateLayout),
		To:   to.UTC().Format(types.DateLayout),
	}
	for _, w := range cr.Data.User.ContributionsCollection.ContributionCalendar.Weeks {
		for _, d := range w.ContributionDays {
			out.Days = append(out.Days, types.ContributionDay{Date: d.Date, Count: d.ContributionCount})
		}
	}
	return out, nil
}

// do performs one paced request. 2xx bodies other than 202/204 are decoded
// into out. Rate-limit replies become *types.RateLimitError; other non-2xx
// replies and transport failures become *types.UpstreamError.
func (c *Client) do(ctx context.Context, op, method, path string, body []byte, out any) (*http.Response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base.String()+path, reader)
	if err != nil {
		return nil, fmt.Errorf("github: create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.config.Token)
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("X-GitHub-Api-Version", "2022-11-28")
	req.Header.Set("User-Agent", c.config.UserAgent)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, &types.UpstreamError{Provider: Name, Op: op, Err: err}
	}
	defer iox.DiscardClose(resp.Body)

	if rl := rateLimitFrom(resp, c.clock.Now()); rl != nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return resp, rl
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return resp, &types.UpstreamError{Provider: Name, Op: op, StatusCode: resp.StatusCode}
	}
	if resp.StatusCode == http.StatusAccepted || resp.StatusCode == http.StatusNoContent || out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return resp, nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return resp, &types.UpstreamError{Provider: Name, Op: op, Err: fmt.Errorf("decode: %w", err)}
	}
	return resp, nil
}

// rateLimitFrom recognizes primary (remaining 0, reset epoch) and secondary
// (Retry-After seconds) limits on 403 and 429 replies.
func rateLimitFrom(resp *http.Response, now time.Time) *types.RateLimitError {
	if resp.StatusCode != http.StatusForbidden && resp.StatusCode != http.StatusTooManyRequests {
		return nil
	}
	h := resp.Header
	if secs, err := strconv.Atoi(h.Get("Retry-After")); err == nil && secs >= 0 {
		return &types.RateLimitError{
			Provider: Name,
			Until:    now.Add(time.Duration(secs) * time.Second),
			Reason:   "secondary rate limit",
		}
	}
	if h.Get("X-RateLimit-Remaining") == "0" {
		until := now.Add(time.Minute)
		if reset, err := strconv.ParseInt(h.Get("X-RateLimit-Reset"), 10, 64); err == nil {
			until = time.Unix(reset, 0).UTC()
		}
		return &types.RateLimitError{Provider: Name, Until: until, Reason: "primary rate limit"}
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		return &types.RateLimitError{Provider: Name, Until: now.Add(time.Minute), Reason: "too many requests"}
	}
	return nil
}
