package graphview

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"
)

// server holds the most recently posted payload.
type server struct {
	mu      sync.RWMutex
	payload *Payload
}

func (s *server) handlePost(w http.ResponseWriter, r *http.Request) {
	var p Payload
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		http.Error(w, "invalid JSON: "+err.Error(), http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	s.payload = &p
	s.mu.Unlock()

	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(&p)
}

func (s *server) handleGet(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	p := s.payload
	s.mu.RUnlock()

	if p == nil {
		http.Error(w, "no graph loaded", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(p)
}

// Start launches the graph server on the given port in the background.
// Returns the base URL (e.g. "http://localhost:7171") or an error.
func Start(port int) (string, error) {
	srv := &server{}
	mux := http.NewServeMux()

	mux.HandleFunc("/graph", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			srv.handlePost(w, r)
		case http.MethodGet:
			srv.handleGet(w, r)
		default:
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		}
	})

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte("phabmirror graph server. GET /graph for the current payload.\n"))
	})

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return "", fmt.Errorf("listen on port %d: %w", port, err)
	}

	go http.Serve(ln, mux)

	addr := fmt.Sprintf("http://localhost:%d", port)
	return addr, nil
}

// Post sends a payload to a running graph server.
func Post(addr string, p *Payload) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	resp, err := http.Post(addr+"/graph", "application/json", bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("POST /graph: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		return fmt.Errorf("POST /graph returned %d", resp.StatusCode)
	}

	return nil
}

// IsPortOpen checks if something is listening on the given address.
func IsPortOpen(addr string) bool {
	conn, err := net.DialTimeout("tcp", addr, 500*time.Millisecond)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}
