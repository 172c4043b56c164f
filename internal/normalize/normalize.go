// Package normalize pulls a canonical image reference out of the many JSON
// shapes returned by image-generation upstreams.
package normalize

import (
	"math"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/ncecere/open_image_gateway/internal/models"
)

type field struct {
	path   string
	base64 bool
}

var (
	imageObjectFields = []field{{"url", false}, {"image_url", false}, {"b64_json", true}, {"data", true}}
	dataObjectFields  = []field{{"url", false}, {"image_url", false}, {"b64_json", true}, {"base64", true}}
	topLevelFields    = []field{{"url", false}, {"image_url", false}, {"b64_json", true}, {"base64", true}}

	seedPaths = []string{"meta.seed", "images.0.seed", "images.0.meta.seed", "seed"}
)

// Extract returns the first image reference found in body, trying images[0],
// then data[0], then top-level keys. The seed, when present, is attached.
func Extract(body []byte) (models.ImageResult, bool) {
	if !gjson.ValidBytes(body) {
		return models.ImageResult{}, false
	}
	root := gjson.ParseBytes(body)
	res, ok := extract(root)
	if !ok {
		return models.ImageResult{}, false
	}
	if seed, found := seedFrom(root); found {
		res.Seed = &seed
	}
	return res, true
}

func extract(root gjson.Result) (models.ImageResult, bool) {
	first := root.Get("images.0")
	switch {
	case first.Type == gjson.String:
		if res, ok := fromString(first.Str, false); ok {
			return res, true
		}
	case first.IsObject():
		if res, ok := fromObject(first, imageObjectFields); ok {
			return res, true
		}
	}

	if data := root.Get("data.0"); data.IsObject() {
		if res, ok := fromObject(data, dataObjectFields); ok {
			return res, true
		}
	}

	if root.IsObject() {
		return fromObject(root, topLevelFields)
	}
	return models.ImageResult{}, false
}

func fromObject(obj gjson.Result, fields []field) (models.ImageResult, bool) {
	for _, f := range fields {
		v := obj.Get(f.path)
		if v.Type != gjson.String {
			continue
		}
		if res, ok := fromString(v.Str, f.base64); ok {
			return res, true
		}
	}
	return models.ImageResult{}, false
}

// fromString classifies a bare string. Without a URL prefix it is treated as
// base64 unless forceBase64 already says so.
func fromString(s string, forceBase64 bool) (models.ImageResult, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return models.ImageResult{}, false
	}
	if !forceBase64 && IsURL(s) {
		return models.URLImage(s), true
	}
	return models.Base64Image(s), true
}

// IsURL reports whether s carries an http(s) scheme.
func IsURL(s string) bool {
	lower := strings.ToLower(s)
	return strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://")
}

// ExtractSeed returns the first integral seed found in priority order.
func ExtractSeed(body []byte) (int64, bool) {
	if !gjson.ValidBytes(body) {
		return 0, false
	}
	return seedFrom(gjson.ParseBytes(body))
}

func seedFrom(root gjson.Result) (int64, bool) {
	for _, path := range seedPaths {
		v := root.Get(path)
		if v.Type != gjson.Number {
			continue
		}
		if v.Num != math.Trunc(v.Num) {
			continue
		}
		return v.Int(), true
	}
	return 0, false
}

// ErrorMessage finds a human readable failure message in an upstream error
// body, falling back to the raw text.
func ErrorMessage(body []byte) string {
	if gjson.ValidBytes(body) {
		root := gjson.ParseBytes(body)
		for _, path := range []string{"error.message", "message", "detail", "error"} {
			if v := root.Get(path); v.Type == gjson.String && v.Str != "" {
				return v.Str
			}
		}
	}
	text := strings.TrimSpace(string(body))
	if len(text) > 200 {
		text = text[:200]
	}
	return text
}
