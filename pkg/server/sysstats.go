package server

import (
	"encoding/json"
	"os"
	"runtime"
	"time"

	"github.com/pbnjay/memory"
	"github.com/prometheus/procfs"
)

// instanceStats is the heartbeat payload published to the instance registry.
type instanceStats struct {
	InstanceID  string  `json:"instanceId"`
	Timestamp   int64   `json:"timestamp"`
	Sessions    int     `json:"sessions"`
	Clients     int     `json:"clients"`
	Goroutines  int     `json:"goroutines"`
	FreeMemory  uint64  `json:"freeMemory"`
	TotalMemory uint64  `json:"totalMemory"`
	CPUSeconds  float64 `json:"cpuSeconds,omitempty"`
	RSSBytes    int     `json:"rssBytes,omitempty"`
}

func (s *Server) heartbeatPayload() ([]byte, error) {
	s.mu.RLock()
	sessions := len(s.sessions)
	s.mu.RUnlock()
	s.clientMu.RLock()
	clients := len(s.clients)
	s.clientMu.RUnlock()

	stats := instanceStats{
		InstanceID:  s.instanceID,
		Timestamp:   time.Now().UnixMilli(),
		Sessions:    sessions,
		Clients:     clients,
		Goroutines:  runtime.NumGoroutine(),
		FreeMemory:  memory.FreeMemory(),
		TotalMemory: memory.TotalMemory(),
	}

	// Process-level CPU and RSS come from procfs where available; the
	// heartbeat is still useful without them.
	if proc, err := procfs.Self(); err == nil {
		if st, err := proc.Stat(); err == nil {
			stats.CPUSeconds = st.CPUTime()
			// procfs reports RSS in pages.
			stats.RSSBytes = st.RSS * os.Getpagesize()
		}
	}
	return json.Marshal(stats)
}
