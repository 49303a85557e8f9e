// Package analyzer discovers and controls a handheld XRF analyzer through its
// JSON/HTTP remote service.
//
// The service listens on one port of a small range and may expose its API under
// more than one versioned root. Client.Connect probes the candidates once, fixes
// the endpoint for the session, and every later call is scoped to it:
//
//	GET  {root}/id                          identification and heartbeat
//	GET  {root}/status                      battery, temperatures, beam state
//	GET  {root}/acquisitionParams/user      beam timing of a mode
//	PUT  {root}/acquisitionParams/user
//	POST {root}/test/final|all?mode=<name>  run a test and return its result
//	POST {root}/test/abort, {root}/abort    stop a running test
//	POST {root}/energyCal                   run an energy calibration
//	GET  {root}/screenshot, {root}/photo    images
//
// A transport failure or a failed heartbeat invalidates the endpoint; the next
// Connect runs discovery again. Non-2xx responses are returned as *HTTPError with
// the response body verbatim and leave the endpoint intact.
//
// Payloads whose schema differs between firmware revisions are normalized by
// DecodeAcquisitionParams, DecodeStatus and DecodeResult. The control calls
// themselves always return the raw JSON.
package analyzer
