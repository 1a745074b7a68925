package newsapi

import (
	"context"
	"crypto/sha256"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/hazz-dev/newsdesk/internal/fetchstate"
)

// Article is a story as exposed to widgets.
type Article struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Link        string    `json:"link"`
	Description string    `json:"description"`
	Source      string    `json:"source"`
	Category    string    `json:"category,omitempty"`
	PublishedAt time.Time `json:"published_at"`
}

// Envelope is the payload wrapper used by the news API.
type Envelope struct {
	Status  string    `json:"status"`
	Message string    `json:"message,omitempty"`
	Data    []Article `json:"data"`
}

// Feed returns a fetch operation that parses the RSS or Atom feed at
// feedURL and answers with an in-memory Envelope, marked empty when the feed
// has no items.
func (c *Client) Feed(feedURL string) fetchstate.FetchFunc {
	return func(ctx context.Context) (fetchstate.Response, error) {
		ctx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()

		feed, err := c.feeds.ParseURLWithContext(feedURL, ctx)
		if err != nil {
			return nil, fmt.Errorf("fetching feed %s: %w", feedURL, err)
		}

		now := time.Now()
		articles := make([]Article, 0, len(feed.Items))
		for _, item := range feed.Items {
			pub := now
			if item.PublishedParsed != nil {
				pub = *item.PublishedParsed
			} else if item.UpdatedParsed != nil {
				pub = *item.UpdatedParsed
			}

			desc := item.Description
			if desc == "" {
				desc = item.Content
			}
			var category string
			if len(item.Categories) > 0 {
				category = item.Categories[0]
			}

			articles = append(articles, Article{
				ID:          articleID(item.Link),
				Title:       item.Title,
				Link:        item.Link,
				Description: truncate(stripHTML(desc), 300),
				Source:      feed.Title,
				Category:    category,
				PublishedAt: pub,
			})
		}

		env := Envelope{Status: "ok", Data: articles}
		if len(articles) == 0 {
			env.Status = fetchstate.StatusEmpty
		}
		b, err := fetchstate.JSON(http.StatusOK, env)
		if err != nil {
			return nil, err
		}
		return b, nil
	}
}

func articleID(link string) string {
	h := sha256.Sum256([]byte(link))
	return fmt.Sprintf("%x", h[:16])
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	if n <= 3 {
		return string(runes[:n])
	}
	return string(runes[:n-3]) + "..."
}

func stripHTML(s string) string {
	var b strings.Builder
	inTag := false
	for _, r := range s {
		switch {
		case r == '<':
			inTag = true
		case r == '>':
			inTag = false
		case !inTag:
			b.WriteRune(r)
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}
