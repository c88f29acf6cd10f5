package main

import (
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/coursecast/coursecast-dl/internal/config"
	"github.com/coursecast/coursecast-dl/internal/download"
	"github.com/coursecast/coursecast-dl/internal/fetcher"
	"github.com/coursecast/coursecast-dl/internal/player"
	"github.com/coursecast/coursecast-dl/internal/session"
	"github.com/coursecast/coursecast-dl/internal/state"
)

var (
	seriesSlug    string
	episodeID     string
	episodeTitle  string
	episodeNumber int
	outputDir     string
	debug         bool
)

var rootCmd = &cobra.Command{
	Use:   "coursecast-dl",
	Short: "coursecast-dl downloads course episodes with resumable transfers",
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		initLogger(debug)

		// Credentials live in .env during development
		if err := godotenv.Load(); err != nil {
			log.Debug().Msg("no .env file loaded")
		}

		cfg, err := config.Load()
		if err != nil {
			return err
		}
		if outputDir != "" {
			cfg.DownloadPath = outputDir
		}
		if err := cfg.Validate(); err != nil {
			return err
		}
		if seriesSlug == "" && episodeID == "" {
			cmd.SilenceUsage = false
			return cmd.Help()
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		sess, err := session.New(cfg.BaseURL, session.Options{
			Timeout:     cfg.RequestTimeout,
			InsecureTLS: cfg.InsecureTLS,
			Headers:     config.DefaultHeaders,
		})
		if err != nil {
			return err
		}

		auth := session.NewAuthClient(sess)
		if _, err := auth.Login(ctx, cfg.Email, cfg.Password); err != nil {
			return err
		}

		st, err := state.Open(cfg.DownloadPath)
		if err != nil {
			return err
		}

		dl := download.New(sess, download.Options{
			MaxAttempts: cfg.MaxAttempts,
			RetryWait:   cfg.RetryWait,
		})
		f := fetcher.New(cfg, sess, player.NewClient(sess, cfg.PlayerURL), dl, st)
		f.OnProgress = renderProgress()

		if episodeID != "" {
			title := episodeTitle
			if title == "" {
				title = episodeID
			}
			return f.FetchEpisode(ctx, seriesSlug, fetcher.Episode{
				Title:   title,
				Number:  episodeNumber,
				MediaID: episodeID,
			})
		}
		return f.DownloadSeries(ctx, seriesSlug)
	},
}

func init() {
	rootCmd.Flags().StringVarP(&seriesSlug, "series", "s", "", "series slug to download")
	rootCmd.Flags().StringVarP(&episodeID, "episode", "e", "", "media id of a single episode to download")
	rootCmd.Flags().StringVar(&episodeTitle, "title", "", "title for a single-episode download")
	rootCmd.Flags().IntVar(&episodeNumber, "number", 1, "ordinal for a single-episode download")
	rootCmd.Flags().StringVarP(&outputDir, "output", "o", "", "download directory (overrides DOWNLOAD_PATH)")
	rootCmd.Flags().BoolVar(&debug, "debug", false, "enable debug logging")
}

func initLogger(debug bool) {
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
	output := zerolog.ConsoleWriter{
		Out:        os.Stderr,
		TimeFormat: time.DateTime,
	}
	log.Logger = zerolog.New(output).With().Timestamp().Logger()
}

// renderProgress maps the downloader's samples onto one progress bar per
// transfer, recognizing a new transfer by its job id.
func renderProgress() download.ProgressFunc {
	var bar *progressbar.ProgressBar
	currentJob := ""
	return func(p download.Progress) {
		if p.JobID != currentJob {
			currentJob = p.JobID
			bar = progressbar.NewOptions64(
				p.Total,
				progressbar.OptionSetDescription("Downloading"),
				progressbar.OptionShowBytes(true),
				progressbar.OptionSetWidth(30),
				progressbar.OptionShowCount(),
				progressbar.OptionSetTheme(progressbar.Theme{
					Saucer:        "=",
					SaucerHead:    ">",
					SaucerPadding: " ",
					BarStart:      "[",
					BarEnd:        "]",
				}),
			)
		}
		_ = bar.Set64(p.Current)
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
