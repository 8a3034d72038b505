package worker

import (
	"bytes"
	"io"

	"golang.org/x/net/html/charset"
)

// decodeHTML transcodes body to UTF-8 ahead of extraction, using the
// server-declared Content-Type header and, failing that, a charset meta
// tag sniffed from the document itself (charset.NewReader does both).
// Decode errors are ignored per spec: extraction falls back to the raw
// bytes rather than failing the page over a mislabeled or absent charset.
func decodeHTML(body []byte, contentType string) []byte {
	r, err := charset.NewReader(bytes.NewReader(body), contentType)
	if err != nil {
		return body
	}
	decoded, err := io.ReadAll(r)
	if err != nil {
		return body
	}
	return decoded
}
