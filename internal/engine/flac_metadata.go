package engine

import (
	"fmt"
	_ "image/jpeg" // cover dimensions for the picture block
	_ "image/png"
	"strconv"
	"strings"

	"github.com/go-flac/flacpicture"
	"github.com/go-flac/flacvorbis"
	"github.com/go-flac/go-flac"
)

// WriteFlacTags rewrites the Vorbis comment block and the front cover of a FLAC
// file. Comments for fields not written here survive.
func (t *Tagger) WriteFlacTags(filePath string, meta *Metadata) error {
	f, err := flac.ParseFile(filePath)
	if err != nil {
		return fmt.Errorf("failed to parse flac file: %w", err)
	}

	fields := [][2]string{
		{flacvorbis.FIELD_TITLE, meta.Title},
		{flacvorbis.FIELD_ARTIST, meta.Artist},
		{flacvorbis.FIELD_ALBUM, meta.Album},
		{flacvorbis.FIELD_DATE, meta.Year},
		{"ALBUMARTIST", meta.AlbumArtist},
		{flacvorbis.FIELD_GENRE, meta.Genre},
		{flacvorbis.FIELD_ISRC, meta.ISRC},
	}
	if meta.TrackNumber > 0 {
		fields = append(fields, [2]string{flacvorbis.FIELD_TRACKNUMBER, strconv.Itoa(meta.TrackNumber)})
	}
	if meta.DiscNumber > 0 {
		fields = append(fields, [2]string{"DISCNUMBER", strconv.Itoa(meta.DiscNumber)})
	}

	replaced := make(map[string]bool, len(fields))
	for _, kv := range fields {
		if kv[1] != "" {
			replaced[kv[0]] = true
		}
	}

	cmts := flacvorbis.New()
	blocks := make([]*flac.MetaDataBlock, 0, len(f.Meta)+2)
	for _, block := range f.Meta {
		switch block.Type {
		case flac.VorbisComment:
			old, err := flacvorbis.ParseFromMetaDataBlock(*block)
			if err != nil {
				return fmt.Errorf("failed to parse existing comments: %w", err)
			}
			cmts.Vendor = old.Vendor
			for _, c := range old.Comments {
				key, _, _ := strings.Cut(c, "=")
				if !replaced[strings.ToUpper(key)] {
					cmts.Comments = append(cmts.Comments, c)
				}
			}
		case flac.Picture:
			if len(meta.Cover) == 0 {
				blocks = append(blocks, block)
			}
		default:
			blocks = append(blocks, block)
		}
	}

	for _, kv := range fields {
		if kv[1] == "" {
			continue
		}
		if err := cmts.Add(kv[0], kv[1]); err != nil {
			return fmt.Errorf("failed to add %s: %w", kv[0], err)
		}
	}

	cmtsBlock := cmts.Marshal()
	blocks = append(blocks, &cmtsBlock)

	if len(meta.Cover) > 0 {
		picBlock := flacCoverBlock(meta)
		blocks = append(blocks, &picBlock)
	}

	f.Meta = blocks
	if err := f.Save(filePath); err != nil {
		return fmt.Errorf("failed to save tags: %w", err)
	}

	return nil
}

// flacCoverBlock builds the front cover block. When the image header cannot be
// decoded the picture is still embedded, without dimensions.
func flacCoverBlock(meta *Metadata) flac.MetaDataBlock {
	mime := meta.CoverMIME
	if mime == "" {
		mime = imageMIME(meta.Cover)
	}

	pic, err := flacpicture.NewFromImageData(flacpicture.PictureTypeFrontCover, "Cover", meta.Cover, mime)
	if err != nil {
		pic = &flacpicture.MetadataBlockPicture{
			PictureType: flacpicture.PictureTypeFrontCover,
			MIME:        mime,
			Description: "Cover",
			ImageData:   meta.Cover,
		}
	}
	return pic.Marshal()
}
