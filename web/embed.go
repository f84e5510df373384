// Package web embeds the portal's HTML templates and static assets.
package web

import (
	"embed"
	"io/fs"
)

//go:embed static templates
var content embed.FS

// StaticFS returns the static assets (CSS, JS).
func StaticFS() fs.FS {
	return sub("static")
}

// TemplatesFS returns the page templates.
func TemplatesFS() fs.FS {
	return sub("templates")
}

// sub panics because the directories are embedded at build time; a missing
// one is a build error, not a runtime condition.
func sub(dir string) fs.FS {
	f, err := fs.Sub(content, dir)
	if err != nil {
		panic("web: embedded " + dir + " missing: " + err.Error())
	}
	return f
}
