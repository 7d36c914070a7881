// Package server hosts the Fiber HTTP service: the middleware chain that tags
// every request with an ID, the single avatar route, and the shared upstream
// http.Client. Diagnostics endpoints live in the routes subpackage; the avatar
// handler itself is injected so tests can replace it with a fake.
package server
