// Package credentials holds the cloud session's token pair and the broker
// credentials derived from it.
//
// The Store does no I/O. It is owned by the HTTP session, which is its only
// writer; the mutex exists because the broker's message loop reads the
// client id concurrently with the caller's thread of control.
package credentials
