package visitcounter

import "embed"

// EmbeddedAssets contains the dashboard stylesheet served under /public/.
//
//go:embed embedded/*
var EmbeddedAssets embed.FS
