package worker

import (
	"bytes"
	"testing"
)

func TestDecodeHTML_HonorsContentTypeCharset(t *testing.T) {
	// 0xE9 is "é" in windows-1252/ISO-8859-1 but invalid standalone UTF-8.
	body := []byte("<html><head><title>caf\xe9</title></head><body></body></html>")

	decoded := decodeHTML(body, "text/html; charset=windows-1252")

	if !bytes.Contains(decoded, []byte("café")) {
		t.Errorf("decodeHTML did not transcode windows-1252 body: %q", decoded)
	}
}

func TestDecodeHTML_FallsBackToMetaCharset(t *testing.T) {
	body := []byte(`<html><head><meta charset="windows-1252"><title>caf` + "\xe9" + `</title></head></html>`)

	decoded := decodeHTML(body, "")

	if !bytes.Contains(decoded, []byte("café")) {
		t.Errorf("decodeHTML did not honor meta charset: %q", decoded)
	}
}

func TestDecodeHTML_PassesThroughUTF8Unchanged(t *testing.T) {
	body := []byte(`<html><head><title>café</title></head></html>`)

	decoded := decodeHTML(body, "text/html; charset=utf-8")

	if !bytes.Equal(decoded, body) {
		t.Errorf("decodeHTML altered an already-UTF-8 body: %q", decoded)
	}
}
