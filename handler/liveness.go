package handler

import "net/http"

// Liveness implements GET /, preserving the source's plain-text
// banner response rather than switching it to JSON.
func Liveness(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte(`"Hi this is from claude audit limit go-version"`))
}
