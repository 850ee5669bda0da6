package types

import (
	"fmt"
	"mime"
	"strings"
	"time"
)

// BinaryArtifact is a non-JSON part (typically a face capture) handed to
// image persistence. It is never retried and never part of delivery accounting.
type BinaryArtifact struct {
	MediaType  string
	Bytes      []byte
	CapturedAt time.Time
}

// Filename returns <YYYYmmddHHMMSS>_event_image.<ext>.
func (a *BinaryArtifact) Filename() string {
	return fmt.Sprintf("%s_event_image%s", a.CapturedAt.Format("20060102150405"), a.extension())
}

func (a *BinaryArtifact) extension() string {
	switch strings.ToLower(a.MediaType) {
	case "image/jpeg", "image/jpg":
		return ".jpg"
	case "image/png":
		return ".png"
	}
	if exts, err := mime.ExtensionsByType(a.MediaType); err == nil && len(exts) > 0 {
		return exts[0]
	}
	return ".bin"
}
