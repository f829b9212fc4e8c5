package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

// fallbackErrorBody is written when a response cannot be marshaled.
var fallbackErrorBody = []byte(`{"status":"error","message":"Internal server error"}`)

// writeJSONResponse marshals response before writing any header, falling back
// to a canned error body when marshaling fails.
func writeJSONResponse(w http.ResponseWriter, statusCode int, response any) {
	jsonData, err := json.Marshal(response)
	if err != nil {
		slog.Error("Server.writeJSONResponse: failed to marshal JSON response", "error", err)
		jsonData = fallbackErrorBody
		statusCode = http.StatusInternalServerError
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if _, writeErr := w.Write(jsonData); writeErr != nil {
		slog.Error("Server.writeJSONResponse: failed to write JSON response", "error", writeErr)
	}
}
