// Package auth provides authentication middleware for the collector.
//
// APIKey(mode, header, key) returns HTTP middleware that validates the API
// key from the named request header. When mode != "apikey" or key == "",
// all requests pass through (useful for local development with auth
// disabled). A missing or incorrect key is answered with 401.
package auth
