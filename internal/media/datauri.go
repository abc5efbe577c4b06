// Package media converts captured audio/photo resources between data URIs
// and raw blobs suitable for channel uploads.
package media

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
)

// ErrMalformedDataURI indicates a data reference that is not of the
// form "<metadata>,<payload>".
var ErrMalformedDataURI = errors.New("malformed data URI")

// Blob is a self-describing binary resource: raw bytes plus the declared
// content type, e.g. "audio/webm" or "image/jpeg".
type Blob struct {
	Bytes       []byte
	ContentType string
}

// Decode parses a data URI ("data:audio/webm;base64,<payload>") into a Blob.
// The payload must be base64-encoded. No size limit is enforced here; callers
// bound capture duration and resolution upstream.
func Decode(dataURI string) (*Blob, error) {
	meta, payload, found := strings.Cut(dataURI, ",")
	if !found {
		return nil, fmt.Errorf("%w: missing payload separator", ErrMalformedDataURI)
	}

	contentType := contentTypeFromMeta(meta)

	raw, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedDataURI, err)
	}

	return &Blob{Bytes: raw, ContentType: contentType}, nil
}

// Encode builds a base64 data URI from a blob. Decode(Encode(b)) returns
// the original bytes and content type.
func Encode(b *Blob) string {
	return "data:" + b.ContentType + ";base64," + base64.StdEncoding.EncodeToString(b.Bytes)
}

// contentTypeFromMeta extracts the media type from the "data:<type>[;base64]"
// prefix. An empty or bare "data:" prefix yields an empty content type.
func contentTypeFromMeta(meta string) string {
	_, rest, found := strings.Cut(meta, ":")
	if !found {
		return ""
	}
	contentType, _, _ := strings.Cut(rest, ";")
	return contentType
}
