package player

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/coursecast/coursecast-dl/internal/session"
)

// Client fetches player configs through an authenticated session and runs
// the extraction strategy over them.
type Client struct {
	sess      *session.Session
	playerURL string
	strategy  ExtractionStrategy
}

// NewClient builds a player client with the default progressive strategy.
func NewClient(sess *session.Session, playerURL string) *Client {
	return &Client{
		sess:      sess,
		playerURL: playerURL,
		strategy:  ProgressiveStrategy{},
	}
}

// WithStrategy swaps the extraction strategy.
func (c *Client) WithStrategy(s ExtractionStrategy) *Client {
	c.strategy = s
	return c
}

// MediaLinks fetches the player config for a media id and extracts the
// quality to URL mapping.
func (c *Client) MediaLinks(ctx context.Context, mediaID string) (LinkSet, error) {
	configURL := fmt.Sprintf("%s/video/%s/config", c.playerURL, mediaID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, configURL, nil)
	if err != nil {
		return nil, err
	}
	// The player host checks the embedding site.
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Referer", c.sess.BaseURL+"/")
	req.Header.Set("Origin", c.sess.BaseURL)

	resp, err := c.sess.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching player config: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("player config status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading player config: %w", err)
	}

	links, err := c.strategy.Extract(body)
	if err != nil {
		return nil, err
	}
	log.Debug().Str("op", "player").Str("mediaId", mediaID).Int("formats", len(links)).Msg("extracted media links")
	return links, nil
}
