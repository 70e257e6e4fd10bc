package engine

import (
	"path/filepath"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// guessSeparator splits "Artist - Title" file names.
const guessSeparator = " - "

// Guess is the metadata inferred from an uploaded file name.
type Guess struct {
	Artist string `json:"artist"`
	Title  string `json:"title"`
}

// GuessFromFilename infers artist and title from a file name. The base name
// (without directory and extension) is split on " - "; exactly two parts give
// artist and title, anything else leaves the artist empty and uses the whole
// base name as title.
func GuessFromFilename(name string) Guess {
	base := filepath.Base(strings.ReplaceAll(name, `\`, "/"))
	base = strings.TrimSuffix(base, filepath.Ext(base))
	base = norm.NFC.String(base)

	parts := strings.Split(base, guessSeparator)
	if len(parts) == 2 {
		return Guess{Artist: parts[0], Title: parts[1]}
	}
	return Guess{Title: base}
}

// Query is the default search query for the guess.
func (g Guess) Query() string {
	return strings.TrimSpace(g.Artist + " " + g.Title)
}
