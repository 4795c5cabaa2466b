// Package fake provides in-memory stand-ins for the BLE GATT object graph,
// used when running without radio hardware.
//
// Peripheral, Service, and Characteristic mirror the read surface of the
// platform types (see package device) but every field is directly settable,
// so a test harness can script a scenario. No transition validation, no
// locking, and no I/O happen at this level.
//
// Device and Central layer a scriptable simulator on top: discovery gated on
// connection state, read/write responders, notification delivery, and a
// scanning central manager.
//
// Device and Central are safe for concurrent use. Peripheral, Service, and
// Characteristic are not: mutate a model attached to a Device directly only
// while no other goroutine is driving that Device.
package fake
