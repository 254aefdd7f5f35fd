// Package reporter is the public entry point of trackbuf. A Reporter turns
// screen views, events, timings and exceptions into hit records stamped with
// the tracking id and host environment, and hands them to a Sink (normally
// a *queue.Manager) for buffering and delivery.
//
// Parameter precedence, lowest to highest: base fields, caller parameters,
// the fields owned by the hit helper (cd for ScreenView, ec/ea/el for Event
// and so on). The protocol version v defaults to "1" and is only set when
// the caller did not supply one.
package reporter
