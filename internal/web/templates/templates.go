// Package templates embeds the HTML templates and the map script served by the web package.
package templates

import "embed"

//go:embed *.html pages/*.html partials/*.html
var FS embed.FS
