// Package assets embeds the browser client: the script that keeps live
// cards current over the page's WebSocket and the base stylesheet.
package assets

import (
	"embed"
	"io/fs"
	"path"
)

//go:embed client/*
var clientFS embed.FS

// ClientFS returns the embedded client files
func ClientFS() fs.FS {
	sub, err := fs.Sub(clientFS, "client")
	if err != nil {
		panic(err)
	}
	return sub
}

// GetClientJS returns the browser script
func GetClientJS() ([]byte, error) {
	return clientFS.ReadFile("client/blockdown.js")
}

// GetClientCSS returns the base stylesheet
func GetClientCSS() ([]byte, error) {
	return clientFS.ReadFile("client/blockdown.css")
}

// ContentType returns the media type served for an asset name.
func ContentType(name string) string {
	switch path.Ext(name) {
	case ".js":
		return "application/javascript; charset=utf-8"
	case ".css":
		return "text/css; charset=utf-8"
	}
	return "application/octet-stream"
}
