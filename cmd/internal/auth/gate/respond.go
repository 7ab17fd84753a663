package gate

import (
	"encoding/json"
	"net/http"
)

type rejection struct {
	Authenticated bool   `json:"authenticated"`
	Message       string `json:"message"`
	Code          string `json:"code,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeRejection(w http.ResponseWriter, reason Reason) {
	if reason == ReasonUpstreamFault {
		writeJSON(w, http.StatusInternalServerError, rejection{Message: reason.Message()})
		return
	}
	writeJSON(w, http.StatusUnauthorized, rejection{Message: reason.Message(), Code: string(reason)})
}
