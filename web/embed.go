package web

import "embed"

// Templates embeds the document HTML templates.
//
//go:embed templates/documents/*.html
var Templates embed.FS
