// Package client is the Go client for the tearoom API.
//
// A Session owns the token pair through a TokenStore and refreshes it at
// most once per rejected request. A Realtime connection keeps a websocket
// open with backoff, re-joins its channels after every reconnect and
// refreshes the access token when the server closes with 4001.
package client
