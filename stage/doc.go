// Package stage drives a motorized XY(Z) sample stage over a line-oriented G-code
// dialect on a serial port.
//
// A Client owns exactly one serial handle and serializes every command through a
// mutex, so a heartbeat or a manual jog can never interleave with a sequence move.
// The client tracks the position it believes the stage is at; the believed position
// is unknown until the stage is homed (or explicitly synchronized from a position
// query) and changes only when the firmware acknowledges a command.
//
// Wire format: commands are ASCII lines terminated by CRLF. Responses are free-form
// firmware text terminated by a line starting with "ok".
//
//	G0 X10.000 Y5.000 Z0.000 F3000   absolute move
//	M114                             position query
//	G28 X Y                          home
//	G29                              auto-level
//	M115                             identify (handshake)
//
// The client never reconnects on its own. A transport failure closes the handle and
// every following command fails with ErrNotConnected until Connect is called again.
package stage
