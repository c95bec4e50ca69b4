// Package discovery locates running room servers by probing candidate
// endpoints, so the client can offer a pick list instead of a hand-typed port.
package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"
)

// Server is one discovered room server endpoint.
type Server struct {
	ID           string    `json:"id"`  // url-based identifier
	URL          string    `json:"url"` // base URL, e.g. http://localhost:8081
	Status       string    `json:"status"`
	Latency      int64     `json:"latency"` // probe round trip in ms
	LastSeen     time.Time `json:"lastSeen"`
	RequiresAuth bool      `json:"requiresAuth"`
	Models       []string  `json:"models,omitempty"`
}

// Config holds discovery configuration.
type Config struct {
	// Ports to scan on localhost
	Ports []int
	// Custom URLs to check in addition to port scanning
	CustomURLs []string
	// Probe timeout per endpoint
	Timeout time.Duration
	// How often to refresh discovery
	RefreshInterval time.Duration
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Ports:           []int{8081, 8080, 8082, 9081},
		CustomURLs:      []string{},
		Timeout:         2 * time.Second,
		RefreshInterval: 30 * time.Second,
	}
}

// Service discovers and tracks room servers.
type Service struct {
	cfg        *Config
	httpClient *http.Client

	mu         sync.RWMutex
	servers    map[string]*Server
	selectedID string

	onUpdate func([]*Server)
	onSelect func(*Server)

	stopCh  chan struct{}
	running bool
}

// NewService creates a discovery service.
func NewService(cfg *Config) *Service {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return &Service{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		servers: make(map[string]*Server),
		stopCh:  make(chan struct{}),
	}
}

// SetOnUpdate sets the callback for when the server list changes.
func (s *Service) SetOnUpdate(fn func([]*Server)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onUpdate = fn
}

// SetOnSelect sets the callback for when a server is selected.
func (s *Service) SetOnSelect(fn func(*Server)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onSelect = fn
}

// Start begins background discovery.
func (s *Service) Start() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.stopCh = make(chan struct{})
	s.mu.Unlock()

	go s.Scan()

	go func() {
		ticker := time.NewTicker(s.cfg.RefreshInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.Scan()
			case <-s.stopCh:
				return
			}
		}
	}()
}

// Stop stops background discovery.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		close(s.stopCh)
		s.running = false
	}
}

// Scan probes every candidate endpoint once and returns the merged list.
func (s *Service) Scan() []*Server {
	var wg sync.WaitGroup
	results := make(chan *Server, len(s.cfg.Ports)+len(s.cfg.CustomURLs))

	for _, port := range s.cfg.Ports {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			if srv := s.probe(fmt.Sprintf("http://localhost:%d", p)); srv != nil {
				results <- srv
			}
		}(port)
	}
	for _, url := range s.cfg.CustomURLs {
		wg.Add(1)
		go func(u string) {
			defer wg.Done()
			if srv := s.probe(u); srv != nil {
				results <- srv
			}
		}(url)
	}

	go func() {
		wg.Wait()
		close(results)
	}()

	s.mu.Lock()
	for _, srv := range s.servers {
		srv.Status = "offline"
	}
	for srv := range results {
		s.servers[srv.ID] = srv
	}
	list := make([]*Server, 0, len(s.servers))
	for _, srv := range s.servers {
		list = append(list, srv)
	}
	callback := s.onUpdate
	s.mu.Unlock()

	if callback != nil {
		callback(list)
	}
	return list
}

// probe checks one base URL for a room server by fetching its settings
// endpoint. A 401 still counts as a live server, just one that wants a login.
func (s *Service) probe(baseURL string) *Server {
	start := time.Now()

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/api/settings", nil)
	if err != nil {
		return nil
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil
	}
	defer resp.Body.Close()

	srv := &Server{
		ID:       baseURL,
		URL:      baseURL,
		Status:   "online",
		Latency:  time.Since(start).Milliseconds(),
		LastSeen: time.Now(),
	}

	switch resp.StatusCode {
	case http.StatusOK:
		var settings struct {
			Models []string `json:"models"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&settings); err == nil {
			srv.Models = settings.Models
		}
	case http.StatusUnauthorized:
		srv.RequiresAuth = true
	default:
		return nil
	}
	return srv
}

// Servers returns all discovered servers.
func (s *Service) Servers() []*Server {
	s.mu.RLock()
	defer s.mu.RUnlock()
	list := make([]*Server, 0, len(s.servers))
	for _, srv := range s.servers {
		list = append(list, srv)
	}
	return list
}

// Selected returns the currently selected server, or nil.
func (s *Service) Selected() *Server {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.selectedID == "" {
		return nil
	}
	return s.servers[s.selectedID]
}

// Select sets the active server.
func (s *Service) Select(id string) error {
	s.mu.Lock()
	srv, exists := s.servers[id]
	if !exists {
		s.mu.Unlock()
		return fmt.Errorf("server not found: %s", id)
	}
	s.selectedID = id
	callback := s.onSelect
	s.mu.Unlock()

	if callback != nil {
		callback(srv)
	}
	return nil
}

// AddCustomURL adds a custom URL to scan.
func (s *Service) AddCustomURL(url string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.cfg.CustomURLs {
		if u == url {
			return
		}
	}
	s.cfg.CustomURLs = append(s.cfg.CustomURLs, url)
}
