// Package api serves sicomore fits over a length-prefixed Arrow IPC TCP
// protocol and exposes Prometheus metrics and a health endpoint.
//
// Every request is one Arrow IPC stream holding a fit request record (see
// package data). Every reply starts with a status byte: StatusOK followed by
// the result record stream, or StatusError followed by the error text. When
// authentication is enabled the first message on a connection must be a JSON
// AuthMessage.
package api
