// Package fetcher orchestrates per-episode work: resolve media links
// through the player client, pick a quality, hand off to the downloader.
package fetcher

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"

	"github.com/coursecast/coursecast-dl/internal/config"
	"github.com/coursecast/coursecast-dl/internal/download"
	"github.com/coursecast/coursecast-dl/internal/errs"
	"github.com/coursecast/coursecast-dl/internal/player"
	"github.com/coursecast/coursecast-dl/internal/session"
	"github.com/coursecast/coursecast-dl/internal/utils"
)

// Episode is the metadata needed to fetch one episode.
type Episode struct {
	Title   string
	Number  int
	MediaID string
}

// StateStore is the completed-episode checkpoint the fetcher consults.
type StateStore interface {
	Completed(mediaID string) bool
	MarkCompleted(mediaID string) error
}

// Fetcher drives authenticated fetch plus download for episodes, one at a
// time. Only the session is shared across episodes.
type Fetcher struct {
	cfg    *config.Config
	sess   *session.Session
	player *player.Client
	dl     *download.Downloader
	state  StateStore

	// OnProgress, when set, receives the downloader's progress samples.
	OnProgress download.ProgressFunc
}

// New wires a fetcher from its collaborators.
func New(cfg *config.Config, sess *session.Session, pl *player.Client, dl *download.Downloader, st StateStore) *Fetcher {
	return &Fetcher{cfg: cfg, sess: sess, player: pl, dl: dl, state: st}
}

// FetchEpisode resolves the episode's media links and downloads the
// selected quality into the series directory. Already-completed episodes
// are skipped.
func (f *Fetcher) FetchEpisode(ctx context.Context, seriesSlug string, ep Episode) error {
	logger := log.With().Str("op", "fetcher").Str("mediaId", ep.MediaID).Int("episode", ep.Number).Logger()

	if f.state != nil && f.state.Completed(ep.MediaID) {
		logger.Info().Msg("already downloaded, skipping")
		return nil
	}

	dest := f.destinationPath(seriesSlug, ep)
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return fmt.Errorf("%w: creating output directory: %v", errs.ErrStorage, err)
	}

	links, err := f.player.MediaLinks(ctx, ep.MediaID)
	if err != nil {
		logger.Error().Err(err).Msg("failed to resolve media links")
		return err
	}

	quality, url, err := f.selectLink(links)
	if err != nil {
		logger.Error().Err(err).Msg("failed to select quality")
		return err
	}

	logger.Info().Str("quality", quality).Str("title", ep.Title).Msg("starting download")
	res, err := f.dl.Download(ctx, url, dest, f.OnProgress)
	if err != nil {
		logger.Error().Err(err).Msg("download failed")
		return err
	}

	if f.state != nil {
		if err := f.state.MarkCompleted(ep.MediaID); err != nil {
			logger.Warn().Err(err).Msg("failed to save download state")
		}
	}
	logger.Info().Int64("bytes", res.BytesTransferred).Dur("elapsed", res.Elapsed).Msg("episode complete")
	return nil
}

// selectLink picks the configured quality when present. Otherwise the best
// available entry is used, unless strict quality selection makes the miss an
// error. The downgrade is logged so it is never silent.
func (f *Fetcher) selectLink(links player.LinkSet) (quality, url string, err error) {
	preferred := f.cfg.VideoQuality
	if u, ok := links[preferred]; ok {
		return preferred, u, nil
	}
	if f.cfg.StrictQuality {
		return "", "", fmt.Errorf("%w: %s", errs.ErrQualityUnavailable, preferred)
	}
	quality, url = links.Best()
	if url == "" {
		// Labels that don't parse as "<n>p" (e.g. "auto") still point at
		// real files; any published entry beats failing.
		for q, u := range links {
			quality, url = q, u
			break
		}
	}
	if url == "" {
		return "", "", fmt.Errorf("%w: empty link set", errs.ErrNoProgressiveLinks)
	}
	log.Warn().Str("op", "fetcher").Msgf("Preferred quality %s unavailable, falling back to %s", preferred, quality)
	return quality, url, nil
}

// destinationPath builds the deterministic output path for an episode:
// <downloads>/<series>/<NN>-<title>.mp4 with a sanitized title.
func (f *Fetcher) destinationPath(seriesSlug string, ep Episode) string {
	filename := fmt.Sprintf("%02d-%s.mp4", ep.Number, utils.SanitizeFilename(ep.Title))
	return filepath.Join(f.cfg.DownloadPath, utils.SanitizeFilename(seriesSlug), filename)
}

// SeriesEpisodes fetches the series page and flattens its chapters into the
// episode list, skipping entries without a media id.
func (f *Fetcher) SeriesEpisodes(ctx context.Context, seriesSlug string) (string, []Episode, error) {
	seriesURL := fmt.Sprintf("%s%s/%s", f.sess.BaseURL, config.SeriesPath, seriesSlug)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, seriesURL, nil)
	if err != nil {
		return "", nil, err
	}

	resp, err := f.sess.Do(req)
	if err != nil {
		return "", nil, fmt.Errorf("fetching series page: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", nil, fmt.Errorf("series page status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", nil, fmt.Errorf("reading series page: %w", err)
	}

	jsonData := utils.ExtractPageJSON(body)
	if jsonData == "" {
		return "", nil, fmt.Errorf("%w: series %s", errs.ErrNoPageData, seriesSlug)
	}

	var pageData struct {
		Props struct {
			Series struct {
				Title    string `json:"title"`
				Chapters []struct {
					Title    string `json:"title"`
					Episodes []struct {
						Title    string `json:"title"`
						MediaID  string `json:"mediaId"`
						Position int    `json:"position"`
					} `json:"episodes"`
				} `json:"chapters"`
			} `json:"series"`
		} `json:"props"`
	}
	if err := json.Unmarshal([]byte(jsonData), &pageData); err != nil {
		return "", nil, fmt.Errorf("%w: parsing series data: %v", errs.ErrNoPageData, err)
	}

	var episodes []Episode
	for _, chapter := range pageData.Props.Series.Chapters {
		for _, ep := range chapter.Episodes {
			if ep.MediaID == "" {
				continue
			}
			episodes = append(episodes, Episode{
				Title:   ep.Title,
				Number:  ep.Position,
				MediaID: ep.MediaID,
			})
		}
	}
	return pageData.Props.Series.Title, episodes, nil
}

// DownloadSeries fetches every episode of a series sequentially. A failed
// episode is reported and the batch moves on; the error summarizes the
// failures at the end.
func (f *Fetcher) DownloadSeries(ctx context.Context, seriesSlug string) error {
	title, episodes, err := f.SeriesEpisodes(ctx, seriesSlug)
	if err != nil {
		return err
	}
	log.Info().Str("op", "fetcher").Str("series", title).Int("episodes", len(episodes)).Msg("starting series")

	failures := 0
	for _, ep := range episodes {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := f.FetchEpisode(ctx, seriesSlug, ep); err != nil {
			failures++
		}
	}
	if failures > 0 {
		return fmt.Errorf("%d of %d episodes failed to download", failures, len(episodes))
	}
	return nil
}
