// Package serialport selects the serial device that drives the sample tray.
//
// USB serial adapters are renamed by the operating system whenever they move between
// hub ports, so a configured device path is not stable. Locate resolves the device on
// every call from stable properties, in this order:
//
//  1. an exact USB serial number, when one is configured;
//  2. a VID:PID signature of a known USB-serial chip (CH340, CP210x, FTDI);
//  3. a keyword in the device description or manufacturer.
//
// When nothing matches, Locate returns a *DiscoveryError that lists every detected
// device so the operator can pick one by hand.
package serialport
