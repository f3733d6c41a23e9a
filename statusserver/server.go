// Package statusserver serves a session's live counters over HTTP,
// grounded on fileserverclient/fileserverclient.go's net/http + gorilla/
// handlers access-log wiring.
package statusserver

import (
	"encoding/json"
	"io"
	"log"
	"net"
	"net/http"

	"github.com/gorilla/handlers"

	"serialarq/session"
)

// SnapshotFunc returns the current counters of the running Session.
type SnapshotFunc func() session.Counters

// Server exposes GET /status as a JSON snapshot of the running session.
type Server struct {
	Addr     string
	Snapshot SnapshotFunc
	LogFile  io.Writer // optional; nil disables the access-log wrapper
}

// ListenAndServe blocks serving the status endpoint, matching the
// teacher's ListenAndServe(addr, handlers.CustomLoggingHandler(...))
// vs. plain ListenAndServe(addr, mux) branch on whether a log sink was
// configured.
func (s *Server) ListenAndServe() error {
	mux := http.NewServeMux()
	mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Only GET allowed", http.StatusMethodNotAllowed)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(s.Snapshot()); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	})

	log.Printf("Status server listening on %s", s.Addr)
	if s.LogFile != nil {
		return http.ListenAndServe(s.Addr, handlers.CustomLoggingHandler(s.LogFile, mux, statusLogFormatter))
	}
	return http.ListenAndServe(s.Addr, mux)
}

// statusLogFormatter writes one access-log line per request, trimmed to
// the fields relevant to a status poller rather than a file transfer
// (no X-Forwarded-For / Basic-Auth username parsing, since /status has
// no such callers in this protocol).
func statusLogFormatter(writer io.Writer, params handlers.LogFormatterParams) {
	ip, _, err := net.SplitHostPort(params.Request.RemoteAddr)
	if err != nil {
		ip = params.Request.RemoteAddr
	}
	io.WriteString(writer, ip+" \""+params.Request.Method+" "+params.URL.Path+"\" "+http.StatusText(params.StatusCode)+"\n")
}
