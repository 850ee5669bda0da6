package demux

import (
	"mime"
	"net/textproto"
	"strings"
)

// Header holds part headers. Keys are canonical MIME header keys;
// a repeated header keeps its last value.
type Header map[string]string

// Get returns the value for name, case-insensitively.
func (h Header) Get(name string) string {
	return h[textproto.CanonicalMIMEHeaderKey(name)]
}

func (h Header) set(name, value string) {
	h[textproto.CanonicalMIMEHeaderKey(name)] = value
}

// Part is one complete header+body segment of the stream.
type Part struct {
	Headers Header
	// ContentType is the lowercased media type with parameters stripped.
	// Use RawContentType for decoding hints such as charset.
	ContentType string
	Body        []byte
	// LengthFramed is true when Body was delimited by Content-Length
	// rather than by scanning for the boundary.
	LengthFramed bool
}

// RawContentType returns the Content-Type header exactly as received.
func (p *Part) RawContentType() string {
	return p.Headers.Get("Content-Type")
}

// Charset returns the declared charset parameter, lowercased, or "".
func (p *Part) Charset() string {
	_, params, err := mime.ParseMediaType(p.RawContentType())
	if err != nil {
		return ""
	}
	return strings.ToLower(params["charset"])
}

// mediaType strips parameters from a Content-Type value. Values that fail
// strict parsing fall back to everything before the first ';'.
func mediaType(raw string) string {
	if raw == "" {
		return ""
	}
	if mt, _, err := mime.ParseMediaType(raw); err == nil {
		return mt
	}
	mt, _, _ := strings.Cut(raw, ";")
	return strings.ToLower(strings.TrimSpace(mt))
}
