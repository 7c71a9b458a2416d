// Package session defines the contract between the HTTP control layer and the
// playback session controller, together with the controllers castctl ships.
//
// A Controller owns every device and queue. Callers construct one value at
// startup and share it by pointer; implementations synchronise internally so
// handlers may call them concurrently without locking of their own. Commands
// are fire-and-submit: Submit returns once the controller has accepted or
// rejected the command locally, never after the device has acted on it.
package session
