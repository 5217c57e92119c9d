// Package webhooks contains the inbound webhook endpoint.
//
// Handling is split in two phases:
// verify -> acknowledge (request goroutine), then parse -> dispatch (processing queue).
// The sender only ever observes phase 1.
package webhooks
