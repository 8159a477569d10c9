package http

import "embed"

// staticFiles holds the page served when STATIC_FILE is not set.
//
//go:embed static
var staticFiles embed.FS

const indexPath = "static/index.html"
