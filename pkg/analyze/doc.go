// Package analyze implements the analyze request flow: validate the upload,
// resolve the caller's session, build a prompt from the image and the
// conversation so far, make one bounded call to the vision provider and
// record the exchange as two new turns.
//
// Every failure is reported as an *Error whose Kind maps to an HTTP status.
// Nothing is retried.
package analyze
