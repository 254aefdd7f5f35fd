// Package envinfo collects the host facts stamped onto every hit: the
// persistent client id, app identity, a synthesized user agent, the user
// language and the screen resolution.
//
// Detect runs once at startup. The returned Info is a plain value and is
// never refreshed while the process runs.
package envinfo
