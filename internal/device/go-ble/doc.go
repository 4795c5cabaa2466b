// Package goble implements the device interfaces on top of a live go-ble client.
//
// Discovered services and characteristics are wrapped so that they carry the
// same back-references as the simulated object graph. Values are cached on read
// and on notification. Disconnecting detaches the whole discovered graph; a
// reconnect must rediscover.
package goble
