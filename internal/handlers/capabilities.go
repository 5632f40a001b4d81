package handlers

import (
	"net/http"
	"strconv"
)

// Capabilities handles OPTIONS requests and advertises the server's
// protocol version, extensions, and limits.
func (h *Handler) Capabilities(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Tus-Version", TusVersion)
	w.Header().Set("Tus-Extension", TusExtensions)
	w.Header().Set("Tus-Max-Size", strconv.FormatInt(h.cfg.Upload.MaxSize, 10))
	w.Header().Set("Tus-Checksum-Algorithm", ChecksumAlgorithms)
	w.WriteHeader(http.StatusNoContent)
}
