// Package lastfm is a typed client for the Last.fm metadata API. Calls go
// through a cache-aware Fetcher, normally *gateway.Gateway.
package lastfm
