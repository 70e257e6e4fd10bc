package api

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	urlRegex   = regexp.MustCompile(`^(?:https?://)?(?:www\.)?deezer\.com(?:/[a-z]{2}(?:-[a-z]{2})?)?/(track|album|artist|playlist)/(\d+)`)
	digitRegex = regexp.MustCompile(`^\d+$`)
)

// ResourceType represents the type of Deezer resource
type ResourceType string

const (
	TypeTrack    ResourceType = "track"
	TypeAlbum    ResourceType = "album"
	TypeArtist   ResourceType = "artist"
	TypePlaylist ResourceType = "playlist"
)

// ParseURL extracts the resource type and ID from a Deezer web URL.
// A bare numeric ID is taken as a track ID.
func ParseURL(input string) (ResourceType, string, error) {
	input = strings.TrimSpace(input)

	if digitRegex.MatchString(input) {
		return TypeTrack, input, nil
	}

	matches := urlRegex.FindStringSubmatch(input)
	if len(matches) == 3 {
		return ResourceType(matches[1]), matches[2], nil
	}

	return "", "", fmt.Errorf("invalid Deezer URL: %q", input)
}
