// Package tuswire implements the wire-level details of the tus 1.0 resumable
// upload protocol: protocol headers, offset parsing, and the base64 metadata
// encoding used when creating an upload.
package tuswire

import (
	"encoding/base64"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
)

// Version is the tus protocol version spoken by this client.
const Version = "1.0.0"

// Protocol headers.
const (
	HeaderResumable      = "Tus-Resumable"
	HeaderUploadOffset   = "Upload-Offset"
	HeaderUploadLength   = "Upload-Length"
	HeaderUploadMetadata = "Upload-Metadata"
)

// ContentTypeOffsetStream is the content type required on PATCH requests that
// append data at an offset.
const ContentTypeOffsetStream = "application/offset+octet-stream"

// SetCommonHeaders sets the headers required on every tus request.
func SetCommonHeaders(h http.Header) {
	h.Set(HeaderResumable, Version)
}

// EncodeMetadata encodes upload metadata into the Upload-Metadata header
// format: comma-separated "key base64(value)" pairs. Keys are emitted in
// sorted order so the header is deterministic.
func EncodeMetadata(md map[string]string) string {
	if len(md) == 0 {
		return ""
	}
	keys := make([]string, 0, len(md))
	for k := range md {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, k+" "+base64.StdEncoding.EncodeToString([]byte(md[k])))
	}
	return strings.Join(pairs, ",")
}

// DecodeMetadata parses an Upload-Metadata header back into a map.
func DecodeMetadata(header string) (map[string]string, error) {
	md := make(map[string]string)
	if header == "" {
		return md, nil
	}
	for _, pair := range strings.Split(header, ",") {
		key, encoded, _ := strings.Cut(strings.TrimSpace(pair), " ")
		if key == "" {
			return nil, fmt.Errorf("tuswire: malformed metadata pair %q", pair)
		}
		value, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			return nil, fmt.Errorf("tuswire: metadata value for %q: %w", key, err)
		}
		md[key] = string(value)
	}
	return md, nil
}

// ParseOffset extracts the committed offset from an Upload-Offset header.
func ParseOffset(h http.Header) (int64, error) {
	raw := h.Get(HeaderUploadOffset)
	if raw == "" {
		return 0, fmt.Errorf("tuswire: missing %s header", HeaderUploadOffset)
	}
	offset, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("tuswire: invalid %s header %q: %w", HeaderUploadOffset, raw, err)
	}
	if offset < 0 {
		return 0, fmt.Errorf("tuswire: negative %s header %q", HeaderUploadOffset, raw)
	}
	return offset, nil
}
