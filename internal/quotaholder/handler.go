package quotaholder

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"pithos/pkg/quotaholder"
)

// NewHandler serves client over the JSON API spoken by HTTPClient.
func NewHandler(client quotaholder.Client) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /commissions", func(w http.ResponseWriter, r *http.Request) {
		var req issueRequest
		if !decode(w, r, &req) {
			return
		}
		serial, err := client.IssueOneCommission(r.Context(), r.Header.Get(TokenHeader), req.Holder, req.Source, req.Provisions, req.Name)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, issueResponse{Serial: serial})
	})
	mux.HandleFunc("GET /commissions", func(w http.ResponseWriter, r *http.Request) {
		serials, err := client.GetPendingCommissions(r.Context(), r.Header.Get(TokenHeader))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, pendingResponse{Serials: serials})
	})
	mux.HandleFunc("POST /commissions/action", func(w http.ResponseWriter, r *http.Request) {
		var req resolveRequest
		if !decode(w, r, &req) {
			return
		}
		resolution, err := client.ResolveCommissions(r.Context(), r.Header.Get(TokenHeader), req.Accept, req.Reject)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, resolution)
	})
	mux.HandleFunc("GET /quotas/{holder}", func(w http.ResponseWriter, r *http.Request) {
		quota, err := client.GetQuota(r.Context(), r.Header.Get(TokenHeader), r.PathValue("holder"))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, quota)
	})
	mux.HandleFunc("PUT /quotas/{holder}", func(w http.ResponseWriter, r *http.Request) {
		var req setQuotaRequest
		if !decode(w, r, &req) {
			return
		}
		if err := client.SetQuota(r.Context(), r.Header.Get(TokenHeader), r.PathValue("holder"), req.Limit); err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})

	return mux
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		http.Error(w, "malformed request body", http.StatusBadRequest)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Error encoding response", "err", err)
	}
}

func writeError(w http.ResponseWriter, err error) {
	if errors.Is(err, quotaholder.ErrQuotaExceeded) {
		http.Error(w, err.Error(), http.StatusRequestEntityTooLarge)
		return
	}
	http.Error(w, err.Error(), http.StatusInternalServerError)
}
