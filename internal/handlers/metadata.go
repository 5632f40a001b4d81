package handlers

import (
	"encoding/base64"
	"log/slog"
	"sort"
	"strings"
)

// parseMetadata decodes an Upload-Metadata header: comma-separated pairs of
// "key base64(value)", where a bare key carries an empty value. Malformed
// pairs are dropped with a warning rather than failing the request.
func parseMetadata(header string) map[string]string {
	if header == "" {
		return nil
	}

	meta := make(map[string]string)
	for _, pair := range strings.Split(header, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}

		key, encoded, _ := strings.Cut(pair, " ")
		if key == "" || strings.Contains(key, " ") {
			slog.Warn("dropping malformed metadata pair", "pair", pair)
			continue
		}
		if encoded == "" {
			meta[key] = ""
			continue
		}

		value, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			slog.Warn("dropping metadata pair with invalid base64", "key", key)
			continue
		}
		meta[key] = string(value)
	}

	if len(meta) == 0 {
		return nil
	}
	return meta
}

// encodeMetadata renders a metadata map back into Upload-Metadata header
// form with keys in sorted order.
func encodeMetadata(meta map[string]string) string {
	if len(meta) == 0 {
		return ""
	}

	keys := make([]string, 0, len(meta))
	for k := range meta {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		v := meta[k]
		if v == "" {
			pairs = append(pairs, k)
			continue
		}
		pairs = append(pairs, k+" "+base64.StdEncoding.EncodeToString([]byte(v)))
	}
	return strings.Join(pairs, ",")
}
