package queue

import "strings"

// DefaultHost is the public queue endpoint. A provider base URL replaces it.
const DefaultHost = "https://queue.fal.run"

// DefaultModel is used for URL lookup when the requested model is unknown.
const DefaultModel = "flux-dev"

type route struct {
	submit string
	status string
}

var routes = map[string]route{
	"flux-1.1-ultra": {submit: "/fal-ai/flux-pro/v1.1-ultra", status: "/fal-ai/flux-pro"},
	"recraft-v3":     {submit: "/fal-ai/recraft-v3", status: "/fal-ai/recraft-v3"},
	"flux-1.1-pro":   {submit: "/fal-ai/flux-pro/v1.1", status: "/fal-ai/flux-pro"},
	"ideogram-v2":    {submit: "/fal-ai/ideogram/v2", status: "/fal-ai/ideogram"},
	"flux-dev":       {submit: "/fal-ai/flux/dev", status: "/fal-ai/flux"},
}

// ratioModels take an aspect_ratio string instead of explicit dimensions.
var ratioModels = map[string]bool{
	"flux-1.1-ultra": true,
	"ideogram-v2":    true,
}

func lookupRoute(model string) route {
	if r, ok := routes[model]; ok {
		return r
	}
	return routes[DefaultModel]
}

// Endpoints returns the submit URL and status base for model on host.
func Endpoints(host, model string) (submitURL, statusBase string) {
	host = strings.TrimRight(strings.TrimSpace(host), "/")
	if host == "" {
		host = DefaultHost
	}
	r := lookupRoute(model)
	return host + r.submit, host + r.status
}

// UsesAspectRatio reports whether model expects aspect_ratio.
func UsesAspectRatio(model string) bool {
	return ratioModels[model]
}
