// Package auth provides the device authentication middleware for the ingest
// endpoint.
//
// APIKey(mode, header, key) wraps an http.Handler and compares the named
// request header against the configured key. With mode != "apikey" or an
// empty key every request passes, which suits local development.
package auth
