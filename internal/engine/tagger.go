package engine

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// ErrUnsupportedFormat is returned for files the tagger cannot write.
var ErrUnsupportedFormat = errors.New("unsupported audio format")

// Audio formats the tagger can write.
const (
	FormatMP3  = "mp3"
	FormatFLAC = "flac"
)

// Tagger handles metadata embedding
type Tagger struct{}

func NewTagger() *Tagger {
	return &Tagger{}
}

// WriteTags writes meta into the file at filePath, picking the writer from the
// file extension.
func (t *Tagger) WriteTags(filePath string, meta *Metadata) error {
	switch FormatFromName(filePath) {
	case FormatMP3:
		return t.WriteMp3Tags(filePath, meta)
	case FormatFLAC:
		return t.WriteFlacTags(filePath, meta)
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedFormat, filepath.Ext(filePath))
	}
}

// FormatFromName maps a file name to FormatMP3, FormatFLAC or "".
func FormatFromName(name string) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".mp3":
		return FormatMP3
	case ".flac":
		return FormatFLAC
	default:
		return ""
	}
}

// ContentType is the MIME type a tagged file is served with.
func ContentType(format string) string {
	if format == FormatFLAC {
		return "audio/flac"
	}
	return "audio/mpeg"
}

var flacMagic = []byte("fLaC")

// SniffFormat checks that the content matches the extension of name and returns
// the format. Uploads are rejected when the bytes are not audio of that kind.
func SniffFormat(name string, r io.Reader) (string, error) {
	format := FormatFromName(name)
	if format == "" {
		return "", fmt.Errorf("%w: %s", ErrUnsupportedFormat, filepath.Ext(name))
	}

	br := bufio.NewReader(r)
	// mimetype only knows FLAC streams with more than one metadata block.
	if magic, _ := br.Peek(4); format == FormatFLAC && bytes.Equal(magic, flacMagic) {
		return format, nil
	}

	mt, err := mimetype.DetectReader(br)
	if err != nil {
		return "", fmt.Errorf("detect content type: %w", err)
	}

	want := ContentType(format)
	for m := mt; m != nil; m = m.Parent() {
		if m.Is(want) {
			return format, nil
		}
	}
	return "", fmt.Errorf("%w: %s content is %s", ErrUnsupportedFormat, filepath.Ext(name), mt.String())
}

// imageMIME sniffs cover art; Deezer serves JPEG but PNG is accepted too.
func imageMIME(data []byte) string {
	mt := mimetype.Detect(data)
	if mt.Is("image/png") {
		return "image/png"
	}
	return "image/jpeg"
}
