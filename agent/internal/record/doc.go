// Package record defines the unit of buffered work: one analytics hit
// awaiting delivery.
//
// A Record pairs an opaque string key/value payload with an int64 identity.
// Identities come from a Generator, which derives them from the nanosecond
// clock and bumps the previous value when the clock has not advanced, so two
// records created in the same instant never share an ID. Records compare by
// ID only; the payload is never consulted for identity.
package record
