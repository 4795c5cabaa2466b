// Package device defines the read surface of the BLE GATT object graph
// (peripheral, service, characteristic) that production code compiles against.
//
// Two implementations exist:
//   - internal/device/go-ble adapts a live go-ble client
//   - internal/device/fake is an in-memory, freely mutable simulator used when
//     no radio hardware is available
//
// The peripheral -> service link is never stored in the model; it is supplied
// by a Discoverer.
package device
