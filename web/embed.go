// Package web embeds the page templates and static assets.
package web

import (
	"embed"
	"io/fs"
)

//go:embed static templates
var content embed.FS

// Static returns the static assets served under /static/.
func Static() fs.FS { return sub("static") }

// Templates returns the page templates.
func Templates() fs.FS { return sub("templates") }

func sub(dir string) fs.FS {
	f, err := fs.Sub(content, dir)
	if err != nil {
		// Only reachable if the embed directive and dir disagree.
		panic(err)
	}
	return f
}
