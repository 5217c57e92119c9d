// Package core holds the relay's shared contracts: configuration, principals, rooms,
// inbound webhook events, outbound real-time events and the error envelope. Transport
// packages (webhooks, realtime, command, store) depend on core; core depends on none of them.
package core
