package api

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"

	"castctl/internal/observability/logging"
	"castctl/internal/session"
	"castctl/internal/trackid"
)

// maxFormBytes bounds queue-mutation bodies.
const maxFormBytes = 1 << 20

type Handler struct {
	Controller session.Controller
	Logger     *slog.Logger
}

func NewHandler(controller session.Controller, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{Controller: controller, Logger: logger}
}

// Health reports liveness. It does not probe the controller.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ListDevices answers GET /devices.
func (h *Handler) ListDevices(w http.ResponseWriter, r *http.Request) {
	devices, err := h.Controller.Devices(r.Context())
	if err != nil {
		h.WriteError(w, r, err)
		return
	}
	if devices == nil {
		devices = []session.Device{}
	}
	writeJSON(w, http.StatusOK, devices)
}

// ListTracks answers GET /{device}/tracks.
func (h *Handler) ListTracks(w http.ResponseWriter, r *http.Request) {
	r, deviceID := h.withDevice(r)
	queue, err := h.Controller.Queue(r.Context(), deviceID)
	if err != nil {
		h.WriteError(w, r, mapLookup(err, msgNoTracks))
		return
	}
	writeJSON(w, http.StatusOK, trackid.EncodeAll(queue.Tracks))
}

// CurrentTrack answers GET /{device}/track with the bare base62 id.
func (h *Handler) CurrentTrack(w http.ResponseWriter, r *http.Request) {
	r, deviceID := h.withDevice(r)
	queue, err := h.Controller.Queue(r.Context(), deviceID)
	if err != nil {
		h.WriteError(w, r, mapLookup(err, msgNoTrack))
		return
	}
	current, ok := queue.Current()
	if !ok {
		h.WriteError(w, r, notFound(msgNoTrack, nil))
		return
	}
	writeText(w, http.StatusOK, current.String())
}

// ReplaceTracks answers PUT /{device}/tracks.
func (h *Handler) ReplaceTracks(w http.ResponseWriter, r *http.Request) {
	h.submitTracks(w, r, session.Replace)
}

// AppendTracks answers POST /{device}/tracks.
func (h *Handler) AppendTracks(w http.ResponseWriter, r *http.Request) {
	h.submitTracks(w, r, session.Append)
}

func (h *Handler) submitTracks(w http.ResponseWriter, r *http.Request, build func([]trackid.ID) session.Command) {
	r, deviceID := h.withDevice(r)
	tracks, err := parseTrackIDs(w, r)
	if err != nil {
		h.WriteError(w, r, err)
		return
	}
	h.submit(w, r, deviceID, build(tracks))
}

// Transport answers PUT /{device}/{cmd} for pause, play, next and prev.
func (h *Handler) Transport(w http.ResponseWriter, r *http.Request) {
	r, deviceID := h.withDevice(r)
	kind, err := session.ParseTransport(pathParam(r, "cmd"))
	if err != nil {
		h.WriteError(w, r, notFound(msgUnknownCommand, err))
		return
	}
	h.submit(w, r, deviceID, session.Transport(kind))
}

// submit hands cmd to the controller. Whether the device exists is the
// controller's business; only a failure to submit at all is reported.
func (h *Handler) submit(w http.ResponseWriter, r *http.Request, deviceID string, cmd session.Command) {
	if err := h.Controller.Submit(r.Context(), deviceID, cmd); err != nil {
		h.WriteError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// parseTrackIDs reads the repeatable id field from an urlencoded or multipart
// body. Query string values are ignored. Every value must decode; request
// order is kept.
func parseTrackIDs(w http.ResponseWriter, r *http.Request) ([]trackid.ID, error) {
	if r.Body != nil {
		r.Body = http.MaxBytesReader(w, r.Body, maxFormBytes)
	}
	if err := r.ParseMultipartForm(maxFormBytes); err != nil && !errors.Is(err, http.ErrNotMultipart) {
		return nil, badRequest("Malformed form body.", err)
	}
	values, ok := r.PostForm["id"]
	if !ok || len(values) == 0 {
		return nil, badRequest(msgMissingID, errMissingField)
	}
	tracks, err := trackid.DecodeAll(values)
	if err != nil {
		return nil, badRequest(fmt.Sprintf("Malformed track id: %v", err), err)
	}
	return tracks, nil
}

func mapLookup(err error, message string) error {
	if errors.Is(err, session.ErrUnknownDevice) {
		return notFound(message, err)
	}
	return err
}

// withDevice tags the request context, and the logger it carries, with the
// addressed device.
func (h *Handler) withDevice(r *http.Request) (*http.Request, string) {
	deviceID := pathParam(r, "device")
	ctx := logging.ContextWithDeviceID(r.Context(), deviceID)
	if deviceID != "" {
		logger := logging.LoggerFromContext(ctx)
		if logger == nil {
			logger = logging.WithContext(ctx, h.Logger)
		} else {
			logger = logger.With("device_id", deviceID)
		}
		ctx = logging.ContextWithLogger(ctx, logger)
	}
	return r.WithContext(ctx), deviceID
}

// pathParam returns a captured path segment, percent-decoded. chi matches on
// RawPath when the request carries one, so only then is the value still
// escaped.
func pathParam(r *http.Request, name string) string {
	value := chi.URLParam(r, name)
	if r.URL == nil || r.URL.RawPath == "" {
		return value
	}
	if decoded, err := url.PathUnescape(value); err == nil {
		return decoded
	}
	return value
}

// NotFound answers every unmatched route.
func (h *Handler) NotFound(w http.ResponseWriter, r *http.Request) {
	writeText(w, http.StatusNotFound, "Not found.")
}
