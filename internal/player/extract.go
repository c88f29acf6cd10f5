// Package player resolves direct media URLs from the site's embedded
// player configuration.
package player

import (
	"encoding/json"
	"fmt"
	"regexp"

	"github.com/coursecast/coursecast-dl/internal/errs"
)

// LinkSet maps a quality label ("1080p") to a direct media URL.
type LinkSet map[string]string

// Best returns the highest-quality entry by numeric label. Labels that do
// not parse as "<n>p" are skipped.
func (l LinkSet) Best() (quality, url string) {
	best := -1
	for q, u := range l {
		var n int
		if _, err := fmt.Sscanf(q, "%dp", &n); err != nil {
			continue
		}
		if n > best {
			best = n
			quality, url = q, u
		}
	}
	return quality, url
}

// ExtractionStrategy turns a raw player-page payload into a LinkSet. The
// extraction depends on the third party's current page format, so it is
// pluggable: a format change means a new strategy, not a new downloader.
type ExtractionStrategy interface {
	Extract(body []byte) (LinkSet, error)
}

var progressiveRe = regexp.MustCompile(`"progressive"\s*:\s*(\[[^\]]*\])`)

// ProgressiveStrategy extracts the progressive download variants from a
// player config body. It fails loudly when the pattern is absent so callers
// can tell "no links published" from "page format changed".
type ProgressiveStrategy struct{}

func (ProgressiveStrategy) Extract(body []byte) (LinkSet, error) {
	matches := progressiveRe.FindSubmatch(body)
	if len(matches) < 2 {
		return nil, fmt.Errorf("%w: progressive pattern absent", errs.ErrNoProgressiveLinks)
	}

	// The captured array is wrapped back into an object so it decodes as a
	// complete document.
	var payload struct {
		Progressive []struct {
			Quality string `json:"quality"`
			URL     string `json:"url"`
		} `json:"progressive"`
	}
	wrapped := append(append([]byte(`{"progressive":`), matches[1]...), '}')
	if err := json.Unmarshal(wrapped, &payload); err != nil {
		return nil, fmt.Errorf("%w: parsing progressive list: %v", errs.ErrNoProgressiveLinks, err)
	}
	if len(payload.Progressive) == 0 {
		return nil, fmt.Errorf("%w: empty progressive list", errs.ErrNoProgressiveLinks)
	}

	links := make(LinkSet, len(payload.Progressive))
	for _, entry := range payload.Progressive {
		// Duplicate quality labels are last-write-wins; in practice they
		// are unique per response.
		links[entry.Quality] = entry.URL
	}
	return links, nil
}
