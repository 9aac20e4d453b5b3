// Package device defines the BLE transport capability the heater session
// consumes: an adapter that discovers peripherals, devices that connect and
// expose GATT, and characteristics that notify and accept writes.
//
// Concrete transports live in the goble and tinygo subpackages.
package device
