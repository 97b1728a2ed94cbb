// Package network serves sicomore fits over ZeroMQ.
//
// This package implements:
//   - ZmqNode: a ROUTER socket that answers fit requests from many peers
//   - ZmqClient: a REQ socket sending fit requests to a node
//
// Payloads are the same Arrow IPC requests and status-prefixed replies as the
// TCP server in package api.
package network
