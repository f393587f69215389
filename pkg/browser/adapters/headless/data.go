package headless

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"mime"
	"net/url"
	"strings"
)

// loadData decodes a data: location. HTML payloads are parsed like fetched
// pages; anything else becomes page text.
func loadData(location string) (*Page, error) {
	rest := strings.TrimPrefix(location, "data:")
	comma := strings.IndexByte(rest, ',')
	if comma < 0 {
		return nil, fmt.Errorf("data location has no payload")
	}
	meta, payload := rest[:comma], rest[comma+1:]

	isBase64 := false
	if strings.HasSuffix(strings.ToLower(meta), ";base64") {
		isBase64 = true
		meta = meta[:len(meta)-len(";base64")]
	}

	mediaType := "text/plain"
	if meta != "" {
		parsed, _, err := mime.ParseMediaType(meta)
		if err != nil {
			return nil, fmt.Errorf("invalid data media type: %w", err)
		}
		mediaType = parsed
	}

	var body []byte
	if isBase64 {
		decoded, err := base64.StdEncoding.DecodeString(payload)
		if err != nil {
			decoded, err = base64.RawStdEncoding.DecodeString(payload)
		}
		if err != nil {
			return nil, fmt.Errorf("invalid base64 data: %w", err)
		}
		body = decoded
	} else {
		unescaped, err := url.PathUnescape(payload)
		if err != nil {
			return nil, fmt.Errorf("invalid data escape: %w", err)
		}
		body = []byte(unescaped)
	}

	if mediaType == "text/html" {
		page, err := parseHTML(bytes.NewReader(body), location)
		if err != nil {
			return nil, err
		}
		return page, nil
	}
	return &Page{Location: location, Text: string(body)}, nil
}
