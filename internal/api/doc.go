// Package api hosts the HTTP handlers of the castctl control surface.
//
// Handler holds the shared session.Controller and nothing else mutable; every
// request re-reads device and queue state through the controller. Handlers
// validate path and form input, translate track ids through the trackid
// codec, and map controller answers onto status codes: reads for unknown
// devices and unknown commands become 404, malformed or missing input becomes
// 400. Commands are fire-and-submit, so a submission answers 200 whether or
// not the device is known.
//
// Routing, CORS and request logging are applied by internal/server; handlers
// only read path parameters that the router has already captured.
package api
