package media

import (
	"bytes"
	"errors"
	"testing"
)

func TestDecodeMalformed(t *testing.T) {
	tests := []struct {
		name string
		uri  string
	}{
		{"no_comma", "data:audio/webm;base64"},
		{"empty", ""},
		{"bad_base64", "data:audio/webm;base64,!!!not-base64!!!"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(tt.uri)
			if !errors.Is(err, ErrMalformedDataURI) {
				t.Fatalf("Decode(%q) error = %v, want ErrMalformedDataURI", tt.uri, err)
			}
		})
	}
}

func TestRoundTrip(t *testing.T) {
	original := &Blob{
		Bytes:       []byte{0x1a, 0x45, 0xdf, 0xa3, 0x00, 0xff},
		ContentType: "audio/webm",
	}

	decoded, err := Decode(Encode(original))
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}

	if decoded.ContentType != original.ContentType {
		t.Errorf("content type = %q, want %q", decoded.ContentType, original.ContentType)
	}
	if !bytes.Equal(decoded.Bytes, original.Bytes) {
		t.Errorf("bytes = %v, want %v", decoded.Bytes, original.Bytes)
	}
}

func TestDecodeContentType(t *testing.T) {
	tests := []struct {
		name string
		uri  string
		want string
	}{
		{"with_base64_marker", "data:image/jpeg;base64,aGVsbG8=", "image/jpeg"},
		{"no_encoding_marker", "data:audio/ogg,aGVsbG8=", "audio/ogg"},
		{"missing_scheme", "image/png;base64,aGVsbG8=", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			blob, err := Decode(tt.uri)
			if err != nil {
				t.Fatalf("Decode failed: %v", err)
			}
			if blob.ContentType != tt.want {
				t.Errorf("content type = %q, want %q", blob.ContentType, tt.want)
			}
		})
	}
}
