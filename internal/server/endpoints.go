package server

import (
	"net"
	"strconv"
)

// Routes served by the dev server.
const (
	BundlePath = "/bundle.user.js"
	MetaPath   = "/meta.user.js"
	InfoPath   = "/info.html"
	RootPath   = "/"
	EventsPath = "/events"
)

// Endpoints are the URLs the dev server answers on, all under one
// hostname:port chosen at startup.
type Endpoints struct {
	Hostname string
	Port     int
}

// Addr returns the host:port the server binds.
func (e Endpoints) Addr() string {
	return net.JoinHostPort(e.Hostname, strconv.Itoa(e.Port))
}

// URL returns the absolute URL of path.
func (e Endpoints) URL(path string) string {
	return "http://" + e.Addr() + path
}

// BundleURL is where the compiled bundle is served.
func (e Endpoints) BundleURL() string { return e.URL(BundlePath) }

// MetaURL is where the metadata block is served.
func (e Endpoints) MetaURL() string { return e.URL(MetaPath) }

// InfoURL is the listing page.
func (e Endpoints) InfoURL() string { return e.URL(InfoPath) }

// EventsURL is the websocket stream of rebuild notifications.
func (e Endpoints) EventsURL() string { return "ws://" + e.Addr() + EventsPath }

// Listed returns the URLs shown on the listing page, in display order.
func (e Endpoints) Listed() []string {
	return []string{e.BundleURL(), e.MetaURL(), e.InfoURL()}
}
