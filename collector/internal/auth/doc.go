// Package auth provides authentication middleware for the collector.
//
// APIKey(mode, header, key) wraps an http.Handler and validates the API key
// carried in the named request header. When mode != "apikey" or key == "",
// every request passes through. A missing or incorrect key is answered with
// 401 before the wrapped handler runs.
package auth
