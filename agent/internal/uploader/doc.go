// Package uploader delivers one batch of records to the collector per call.
//
// Wire format (see wire.go):
//   - one record: GET <collector>/collect?k1=v1&k2=v2
//   - several:    POST <collector>/batch, one k1=v1&k2=v2 line per record
//
// Keys are sorted and percent-encoded with spaces as %20.
//
// Upload is single-flight: a weighted semaphore of size one is try-acquired
// before the request and released when it completes, fails or is cancelled.
// A second caller never waits; it gets Outcome Skipped and no request is
// made. Delivery is all-or-nothing per batch since the collector has no
// per-hit acknowledgement.
//
// Authentication (mTLS, API key, bearer, basic) is handled by the
// authRoundTripper in client.go.
//
// CheckCertificate reports the expiry state of an https collector's leaf
// certificate.
package uploader
