package api

import (
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/hlog"

	"linkvault/svc/store"
	"linkvault/svc/util"
)

// Download streams the file body. It is mounted outside the context-timeout
// middleware so a slow client on a large file is not cut off mid-transfer.
func (h *Hdl) Download(w http.ResponseWriter, r *http.Request) {
	log := hlog.FromRequest(r)
	requestID := util.GetRequestID(r.Context())
	id := chi.URLParam(r, "id")

	delivery, err := h.paste.Download(r.Context(), id, pastePassword(r))
	if err != nil {
		log.Warn().Err(err).Str("paste_id", id).Msg("download failed")
		writeErr(w, err, requestID)
		return
	}
	defer delivery.Body.Close()

	paste := delivery.Paste
	contentType := paste.MimeType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	disposition := "attachment"
	if r.URL.Query().Get("disposition") == "inline" {
		disposition = "inline"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition",
		fmt.Sprintf("%s; filename=%q", disposition, store.SafeFileName(paste.FileName)))
	if delivery.Length > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(delivery.Length, 10))
	}
	w.WriteHeader(http.StatusOK)

	written, err := io.Copy(w, delivery.Body)
	if err != nil {
		// Headers are gone; all that is left is to log the broken transfer.
		log.Warn().
			Err(err).
			Str("paste_id", id).
			Int64("written", written).
			Msg("download stream interrupted")
		return
	}
	log.Info().
		Str("paste_id", id).
		Str("source", delivery.Source).
		Int64("bytes", written).
		Msg("file delivered")
}
