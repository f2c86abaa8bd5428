package reddit

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/vartanbeno/go-reddit/v2/reddit"
	"golang.org/x/time/rate"

	"feedwatch/internal/domain"
)

const permalinkBase = "https://reddit.com"

// Config holds Reddit client configuration.
type Config struct {
	ClientID          string
	ClientSecret      string
	Username          string
	Password          string
	UserAgent         string
	PageSize          int
	Timeout           time.Duration
	RequestsPerMinute int
	MaxAttempts       int
	InitialBackoff    time.Duration
	MaxBackoff        time.Duration
}

// postLister is the part of the go-reddit subreddit service the client uses.
type postLister interface {
	NewPosts(ctx context.Context, subreddit string, opts *reddit.ListOptions) ([]*reddit.Post, *reddit.Response, error)
}

// Client fetches the newest posts of a subreddit.
type Client struct {
	posts          postLister
	limiter        *rate.Limiter
	pageSize       int
	maxAttempts    int
	initialBackoff time.Duration
	maxBackoff     time.Duration
	logger         *slog.Logger
}

// New creates a Client. Without credentials it falls back to the read-only API.
func New(cfg Config, logger *slog.Logger) (*Client, error) {
	opts := []reddit.Opt{
		reddit.WithUserAgent(cfg.UserAgent),
		reddit.WithHTTPClient(&http.Client{Timeout: cfg.Timeout}),
	}

	var (
		rc  *reddit.Client
		err error
	)
	if cfg.ClientID == "" {
		rc, err = reddit.NewReadonlyClient(opts...)
	} else {
		rc, err = reddit.NewClient(reddit.Credentials{
			ID:       cfg.ClientID,
			Secret:   cfg.ClientSecret,
			Username: cfg.Username,
			Password: cfg.Password,
		}, opts...)
	}
	if err != nil {
		return nil, fmt.Errorf("create reddit client: %w", err)
	}

	return newClient(rc.Subreddit, cfg, logger), nil
}

func newClient(posts postLister, cfg Config, logger *slog.Logger) *Client {
	limit := rate.Inf
	if cfg.RequestsPerMinute > 0 {
		limit = rate.Every(time.Minute / time.Duration(cfg.RequestsPerMinute))
	}

	maxAttempts := cfg.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	pageSize := cfg.PageSize
	if pageSize <= 0 {
		pageSize = 100
	}

	return &Client{
		posts:          posts,
		limiter:        rate.NewLimiter(limit, 1),
		pageSize:       pageSize,
		maxAttempts:    maxAttempts,
		initialBackoff: cfg.InitialBackoff,
		maxBackoff:     cfg.MaxBackoff,
		logger:         logger.With("component", "reddit"),
	}
}

// FetchNew returns up to limit of the newest posts in subreddit, following
// the listing cursor page by page.
func (c *Client) FetchNew(ctx context.Context, subreddit string, limit int) ([]domain.Item, error) {
	items := make([]domain.Item, 0, min(limit, c.pageSize))
	after := ""

	for len(items) < limit {
		opts := &reddit.ListOptions{
			Limit: min(c.pageSize, limit-len(items)),
			After: after,
		}

		posts, next, err := c.fetchPage(ctx, subreddit, opts)
		if err != nil {
			return nil, fmt.Errorf("fetch r/%s page after %q: %w", subreddit, after, err)
		}

		for _, p := range posts {
			items = append(items, toItem(p))
		}

		c.logger.Debug("fetched page",
			"subreddit", subreddit,
			"posts", len(posts),
			"total", len(items),
		)

		if len(posts) == 0 || next == "" {
			break
		}
		after = next
	}

	if len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

func (c *Client) fetchPage(ctx context.Context, subreddit string, opts *reddit.ListOptions) ([]*reddit.Post, string, error) {
	var err error

	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, "", err
		}

		var (
			posts []*reddit.Post
			resp  *reddit.Response
		)
		posts, resp, err = c.posts.NewPosts(ctx, subreddit, opts)
		if err == nil {
			next := ""
			if resp != nil {
				next = resp.After
			}
			return posts, next, nil
		}

		if attempt == c.maxAttempts || ctx.Err() != nil {
			break
		}

		backoff := c.calculateBackoff(attempt)
		c.logger.Warn("request failed, retrying",
			"subreddit", subreddit,
			"attempt", attempt,
			"backoff", backoff,
			"error", err,
		)

		select {
		case <-ctx.Done():
			return nil, "", ctx.Err()
		case <-time.After(backoff):
		}
	}

	return nil, "", fmt.Errorf("after %d attempts: %w", c.maxAttempts, err)
}

func (c *Client) calculateBackoff(attempt int) time.Duration {
	backoff := c.initialBackoff
	for i := 1; i < attempt; i++ {
		backoff *= 2
	}
	if backoff > c.maxBackoff {
		backoff = c.maxBackoff
	}
	return backoff
}

func toItem(p *reddit.Post) domain.Item {
	item := domain.Item{
		ID:          p.ID,
		Title:       p.Title,
		Author:      p.Author,
		Score:       p.Score,
		NumComments: p.NumberOfComments,
		Body:        p.Body,
		URL:         p.URL,
		Permalink:   permalinkBase + p.Permalink,
	}
	if p.Created != nil {
		item.CreatedUTC = p.Created.Unix()
	}
	return item
}
