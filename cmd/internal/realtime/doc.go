// Package realtime pushes order lifecycle events to connected room and
// kitchen consoles over websockets.
//
// A Hub indexes connections by ChannelKey (tenant-wide, room or kitchen).
// The WSGateway authenticates each handshake with an access token, greets
// the connection with a hello envelope and serves join-room/leave-room
// requests. Order events reach hubs through a Bus: LocalBus for a single
// replica, RedisBus when several API replicas share one Redis.
//
// Every connection has a bounded send queue. When it fills up the
// connection is either closed with 1008 (disconnect policy) or loses its
// oldest queued event (drop_oldest policy); publishers never block.
package realtime
