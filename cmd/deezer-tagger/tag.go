package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"deezer-tagger/internal/engine"
)

type tagFlags struct {
	query   string
	track   string
	pick    int
	yes     bool
	title   string
	artist  string
	album   string
	year    string
	noCover bool
	threads int
}

func newTagCmd() *cobra.Command {
	var f tagFlags

	cmd := &cobra.Command{
		Use:   "tag <file>...",
		Short: "Tag files in place",
		Long: `Tag one or more MP3/FLAC files in place.

With a single file the search results are listed and you pick one (or pass
--pick/--yes). With several files every file gets the top result for the
artist and title guessed from its name; override flags apply to single files.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup()
			if err != nil {
				return err
			}
			if f.threads > 0 {
				a.engine.SetConcurrency(f.threads)
			}

			if len(args) > 1 {
				return runAutoTag(cmd, a, args)
			}
			return runTagOne(cmd, a, args[0], f)
		},
	}

	cmd.Flags().StringVarP(&f.query, "query", "q", "", "Search query (default: guessed from the file name)")
	cmd.Flags().StringVarP(&f.track, "track", "t", "", "Deezer track ID or URL, skips the search")
	cmd.Flags().IntVarP(&f.pick, "pick", "p", 0, "Use the n-th search result without asking")
	cmd.Flags().BoolVarP(&f.yes, "yes", "y", false, "Use the top search result without asking")
	cmd.Flags().StringVar(&f.title, "title", "", "Override the title")
	cmd.Flags().StringVar(&f.artist, "artist", "", "Override the artist")
	cmd.Flags().StringVar(&f.album, "album", "", "Override the album")
	cmd.Flags().StringVar(&f.year, "year", "", "Override the year")
	cmd.Flags().BoolVar(&f.noCover, "no-cover", false, "Do not embed cover art")
	cmd.Flags().IntVarP(&f.threads, "threads", "n", 0, "Files tagged in parallel (1-10, default from config)")

	return cmd
}

// manual reports whether the flags alone carry the required fields.
func (f tagFlags) manual() bool {
	return f.title != "" && f.artist != "" && f.album != ""
}

func (f tagFlags) request(trackID string) engine.TagRequest {
	return engine.TagRequest{
		TrackID: trackID,
		Title:   f.title,
		Artist:  f.artist,
		Album:   f.album,
		Year:    f.year,
		NoCover: f.noCover,
	}
}

func runAutoTag(cmd *cobra.Command, a *app, paths []string) error {
	results := a.engine.AutoTag(cmd.Context(), paths)
	fmt.Fprintln(cmd.OutOrStdout(), resultsTable(results))

	var failed int
	for _, r := range results {
		if r.Status != engine.StatusTagged {
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d files not tagged", failed, len(results))
	}
	return nil
}

func runTagOne(cmd *cobra.Command, a *app, path string, f tagFlags) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	if engine.FormatFromName(path) == "" {
		return fmt.Errorf("%w: %s", engine.ErrUnsupportedFormat, path)
	}

	trackID := f.track
	if trackID == "" && !f.manual() {
		option, err := chooseOption(ctx, a.engine, path, f, out)
		if err != nil {
			return err
		}
		trackID = option.ID
	}

	meta, err := a.engine.Resolve(ctx, f.request(trackID))
	if err != nil {
		return err
	}
	if err := a.engine.TagFile(ctx, path, meta); err != nil {
		return err
	}

	fmt.Fprintf(out, "Tagged %s: %s by %s (Album: %s)\n", path, meta.Title, meta.Artist, meta.Album)
	return nil
}

func chooseOption(ctx context.Context, eng *engine.Engine, path string, f tagFlags, out io.Writer) (*engine.Option, error) {
	guess := engine.GuessFromFilename(path)
	fmt.Fprintf(out, "Guessed title: %q, artist: %q\n", guess.Title, guess.Artist)

	query := f.query
	if query == "" {
		query = guess.Query()
	}
	options, err := eng.Search(ctx, query)
	if err != nil {
		return nil, err
	}
	if len(options) == 0 {
		return nil, fmt.Errorf("%w for %q", engine.ErrNoMatch, query)
	}

	switch {
	case f.pick > 0:
		if f.pick > len(options) {
			return nil, fmt.Errorf("--pick %d: only %d results", f.pick, len(options))
		}
		return &options[f.pick-1], nil
	case f.yes:
		return &options[0], nil
	case !stdinIsTerminal():
		return nil, fmt.Errorf("%d results for %q: use --pick or --yes when not running interactively", len(options), query)
	}

	fmt.Fprintln(out, optionsTable(options))
	n, err := prompt(os.Stdin, out, len(options))
	if err != nil {
		return nil, err
	}
	return &options[n-1], nil
}

// prompt asks for a number between 1 and count until it gets one. 0 or an
// empty line cancels.
func prompt(in io.Reader, out io.Writer, count int) (int, error) {
	reader := bufio.NewReader(in)
	for {
		fmt.Fprintf(out, "Select the correct track [1-%d, 0 to cancel]: ", count)
		line, err := reader.ReadString('\n')
		line = strings.TrimSpace(line)
		if line == "" && err != nil {
			return 0, errCancelled
		}

		n, convErr := strconv.Atoi(line)
		switch {
		case line == "" || (convErr == nil && n == 0):
			return 0, errCancelled
		case convErr == nil && n >= 1 && n <= count:
			return n, nil
		}
		if err != nil {
			return 0, errCancelled
		}
		fmt.Fprintf(out, "Please enter a number between 1 and %d.\n", count)
	}
}
