// Package httpapi wires the gateway's net/http surface on top of the
// executor, OSS client, and model registry: chat completion and
// streaming, async task create/query/result, and file upload/download.
package httpapi

import (
	"encoding/json"
	"net/http"
)

// Envelope is the uniform JSON response shape every non-streaming
// endpoint returns.
type Envelope struct {
	Success bool        `json:"success"`
	Msg     string      `json:"msg"`
	Data    interface{} `json:"data"`
}

// successMsg is the fixed "成功" ("success") message.
const successMsg = "成功"

func ok(data interface{}) Envelope {
	return Envelope{Success: true, Msg: successMsg, Data: data}
}

func errEnvelope(err error) Envelope {
	return Envelope{Success: false, Msg: err.Error(), Data: nil}
}

// writeEnvelope always answers with HTTP 200: failures are carried in
// the envelope body, not the status line.
func writeEnvelope(w http.ResponseWriter, env Envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(env)
}

func writeOK(w http.ResponseWriter, data interface{}) {
	writeEnvelope(w, ok(data))
}

func writeErr(w http.ResponseWriter, err error) {
	writeEnvelope(w, errEnvelope(err))
}

// writeRawError answers the raw-streamed endpoints' failure path:
// HTTP 500 with the error text, since those responses carry no
// envelope to put it in.
func writeRawError(w http.ResponseWriter, err error) {
	http.Error(w, err.Error(), http.StatusInternalServerError)
}
