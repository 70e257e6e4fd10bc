// mp3_metadata.go provides MP3 ID3v2 metadata tagging functionality.
package engine

import (
	"fmt"
	"strconv"

	"github.com/bogem/id3v2/v2"
)

// WriteMp3Tags writes ID3v2 metadata tags and optional cover art to an MP3 file.
// A file that already carries a tag keeps it; the frames written here replace
// their previous values.
func (t *Tagger) WriteMp3Tags(filePath string, meta *Metadata) error {
	tag, err := id3v2.Open(filePath, id3v2.Options{Parse: true})
	if err != nil {
		return fmt.Errorf("failed to open mp3 file: %w", err)
	}
	defer tag.Close()

	tag.SetDefaultEncoding(id3v2.EncodingUTF8)

	tag.SetTitle(meta.Title)
	tag.SetArtist(meta.Artist)
	tag.SetAlbum(meta.Album)

	if meta.Year != "" {
		tag.SetYear(meta.Year)
	}

	setText(tag, "TPE2", meta.AlbumArtist)
	setText(tag, "TSRC", meta.ISRC)

	if meta.TrackNumber > 0 {
		setText(tag, "TRCK", strconv.Itoa(meta.TrackNumber))
	}
	if meta.DiscNumber > 0 {
		setText(tag, "TPOS", strconv.Itoa(meta.DiscNumber))
	}
	if meta.Genre != "" {
		tag.SetGenre(meta.Genre)
	}

	if len(meta.Cover) > 0 {
		tag.DeleteFrames("APIC")
		mime := meta.CoverMIME
		if mime == "" {
			mime = imageMIME(meta.Cover)
		}
		tag.AddAttachedPicture(id3v2.PictureFrame{
			Encoding:    id3v2.EncodingUTF8,
			MimeType:    mime,
			PictureType: id3v2.PTFrontCover,
			Description: "Cover",
			Picture:     meta.Cover,
		})
	}

	if err := tag.Save(); err != nil {
		return fmt.Errorf("failed to save mp3 tags: %w", err)
	}

	return nil
}

// setText sets a text frame, replacing any previous value. Empty values are skipped.
func setText(tag *id3v2.Tag, id, value string) {
	if value == "" {
		return
	}
	tag.AddTextFrame(id, id3v2.EncodingUTF8, value)
}
