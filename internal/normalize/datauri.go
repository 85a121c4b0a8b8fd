package normalize

import (
	"encoding/base64"
	"errors"
	"strings"
)

var (
	ErrMissingScheme = errors.New("missing data: scheme")
	ErrNotBase64     = errors.New("data uri is not base64 encoded")
	ErrEmptyPayload  = errors.New("data uri has an empty payload")
)

// DecodeDataURI decodes "data:<media-type>;base64,<body>" into raw bytes.
func DecodeDataURI(s string) ([]byte, error) {
	if len(s) < 5 || !strings.EqualFold(s[:5], "data:") {
		return nil, ErrMissingScheme
	}
	comma := strings.IndexByte(s, ',')
	if comma < 0 {
		return nil, ErrNotBase64
	}
	meta := strings.ToLower(s[5:comma])
	if !strings.HasSuffix(meta, ";base64") {
		return nil, ErrNotBase64
	}
	body := strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\n', '\r', '\t':
			return -1
		}
		return r
	}, s[comma+1:])
	if body == "" {
		return nil, ErrEmptyPayload
	}

	raw, err := base64.StdEncoding.DecodeString(body)
	if err != nil {
		// some clients strip padding
		if raw, rawErr := base64.RawStdEncoding.DecodeString(strings.TrimRight(body, "=")); rawErr == nil {
			return raw, nil
		}
		return nil, err
	}
	return raw, nil
}

// EncodeDataURI is the inverse of DecodeDataURI.
func EncodeDataURI(mediaType string, raw []byte) string {
	return "data:" + mediaType + ";base64," + base64.StdEncoding.EncodeToString(raw)
}
