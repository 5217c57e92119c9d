// Package inbound routes client-originated real-time events to domain handlers.
//
// Events carrying a client_ref are claimed before the handler runs, so a client that
// resends after a reconnect does not raise the same alert twice.
package inbound
