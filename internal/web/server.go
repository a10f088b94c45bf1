package web

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"asset-optimizer-go/internal/bundle"
	"asset-optimizer-go/internal/cache"
	"asset-optimizer-go/internal/config"
	"asset-optimizer-go/internal/pipeline"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// Server exposes the pipeline over HTTP: start an optimization run
// against a built directory, watch progress over a websocket, and
// inspect statistics and the cache.
type Server struct {
	cfg        *config.Config
	log        *logrus.Logger
	router     *mux.Router
	httpServer *http.Server
	wsUpgrader websocket.Upgrader
	wsClients  map[*websocket.Conn]bool
	wsMutex    sync.RWMutex

	// Current operation state
	operationMutex sync.RWMutex
	isRunning      bool
	currentBuild   *pipeline.BuildContext
}

type APIResponse struct {
	Success bool        `json:"success"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

type OptimizeRequest struct {
	Directory string `json:"directory"`
	OutputDir string `json:"output_dir,omitempty"`
	Mode      string `json:"mode,omitempty"` // development or production
	DryRun    bool   `json:"dry_run"`
}

type WSMessage struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// NewServer builds the status server around a base configuration.
func NewServer(cfg *config.Config, log *logrus.Logger) *Server {
	s := &Server{
		cfg:       cfg,
		log:       log,
		router:    mux.NewRouter(),
		wsClients: make(map[*websocket.Conn]bool),
		wsUpgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // Allow all origins in development
			},
		},
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/status", s.handleStatus).Methods("GET")
	api.HandleFunc("/optimize", s.handleOptimize).Methods("POST")
	api.HandleFunc("/statistics", s.handleGetStatistics).Methods("GET")
	api.HandleFunc("/cache", s.handleCacheStats).Methods("GET")
	api.HandleFunc("/cache", s.handleCacheClear).Methods("DELETE")

	s.router.HandleFunc("/ws", s.handleWebSocket)
}

func (s *Server) Start(port int) error {
	addr := fmt.Sprintf(":%d", port)
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	s.log.Infof("Starting status server on http://localhost%s", addr)
	return s.httpServer.ListenAndServe()
}

func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.operationMutex.RLock()
	running := s.isRunning
	bc := s.currentBuild
	s.operationMutex.RUnlock()

	data := map[string]interface{}{
		"running": running,
	}
	if bc != nil {
		data["build_id"] = bc.ID
		data["started_at"] = bc.StartedAt.Format(time.RFC3339)
		data["statistics"] = s.statsSnapshot(bc)
	}

	s.writeJSON(w, APIResponse{Success: true, Data: data})
}

func (s *Server) handleOptimize(w http.ResponseWriter, r *http.Request) {
	var req OptimizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if req.Directory == "" {
		s.writeError(w, "Directory is required", http.StatusBadRequest)
		return
	}
	if _, err := os.Stat(req.Directory); os.IsNotExist(err) {
		s.writeError(w, "Directory does not exist", http.StatusBadRequest)
		return
	}

	s.operationMutex.Lock()
	if s.isRunning {
		s.operationMutex.Unlock()
		s.writeError(w, "Operation already in progress", http.StatusConflict)
		return
	}
	s.isRunning = true
	s.operationMutex.Unlock()

	go s.runOptimizeAsync(req)

	s.writeJSON(w, APIResponse{
		Success: true,
		Message: "Optimization started",
	})
}

func (s *Server) handleGetStatistics(w http.ResponseWriter, r *http.Request) {
	s.operationMutex.RLock()
	bc := s.currentBuild
	s.operationMutex.RUnlock()

	if bc == nil {
		s.writeJSON(w, APIResponse{Success: true, Data: nil})
		return
	}
	s.writeJSON(w, APIResponse{Success: true, Data: s.statsSnapshot(bc)})
}

func (s *Server) handleCacheStats(w http.ResponseWriter, r *http.Request) {
	if !s.cfg.Cache.Enabled {
		s.writeJSON(w, APIResponse{Success: true, Data: map[string]interface{}{"enabled": false}})
		return
	}
	c, err := cache.New(s.cfg.Cache.Dir, s.log)
	if err != nil {
		s.writeError(w, fmt.Sprintf("Cache unavailable: %v", err), http.StatusInternalServerError)
		return
	}
	entries, totalBytes, err := c.Stats()
	if err != nil {
		s.writeError(w, fmt.Sprintf("Cache stats failed: %v", err), http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, APIResponse{Success: true, Data: map[string]interface{}{
		"enabled": true,
		"dir":     c.Dir(),
		"entries": entries,
		"bytes":   totalBytes,
	}})
}

func (s *Server) handleCacheClear(w http.ResponseWriter, r *http.Request) {
	if !s.cfg.Cache.Enabled {
		s.writeError(w, "Cache is disabled", http.StatusBadRequest)
		return
	}
	c, err := cache.New(s.cfg.Cache.Dir, s.log)
	if err != nil {
		s.writeError(w, fmt.Sprintf("Cache unavailable: %v", err), http.StatusInternalServerError)
		return
	}
	if err := c.Clear(); err != nil {
		s.writeError(w, fmt.Sprintf("Cache clear failed: %v", err), http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, APIResponse{Success: true, Message: "Cache cleared"})
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Errorf("WebSocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	s.wsMutex.Lock()
	s.wsClients[conn] = true
	s.wsMutex.Unlock()

	s.log.Debug("WebSocket client connected")

	defer func() {
		s.wsMutex.Lock()
		delete(s.wsClients, conn)
		s.wsMutex.Unlock()
		s.log.Debug("WebSocket client disconnected")
	}()

	// Keep connection alive
	for {
		_, _, err := conn.ReadMessage()
		if err != nil {
			break
		}
	}
}

func (s *Server) runOptimizeAsync(req OptimizeRequest) {
	defer func() {
		s.operationMutex.Lock()
		s.isRunning = false
		s.operationMutex.Unlock()
	}()

	s.broadcastWSMessage("optimize_started", map[string]interface{}{
		"directory": req.Directory,
		"dry_run":   req.DryRun,
	})

	mode := pipeline.ModeProduction
	if req.Mode == string(pipeline.ModeDevelopment) {
		mode = pipeline.ModeDevelopment
	}

	orch, err := pipeline.New(s.cfg, s.log)
	if err != nil {
		s.broadcastWSMessage("optimize_error", map[string]interface{}{"error": err.Error()})
		return
	}

	b, err := bundle.LoadDir(req.Directory)
	if err != nil {
		s.broadcastWSMessage("optimize_error", map[string]interface{}{"error": err.Error()})
		return
	}

	ctx := context.Background()
	orch.ConfigResolved(mode)
	if err := orch.BuildStart(ctx); err != nil {
		s.broadcastWSMessage("optimize_error", map[string]interface{}{"error": err.Error()})
		return
	}

	s.operationMutex.Lock()
	s.currentBuild = orch.Build()
	s.operationMutex.Unlock()

	if err := orch.GenerateBundle(ctx, b); err != nil {
		s.broadcastWSMessage("optimize_error", map[string]interface{}{"error": err.Error()})
		return
	}

	if !req.DryRun {
		outDir := req.OutputDir
		if outDir == "" {
			outDir = req.Directory
		}
		if err := b.WriteDir(outDir); err != nil {
			s.broadcastWSMessage("optimize_error", map[string]interface{}{"error": err.Error()})
			return
		}
		if err := orch.WriteBundle(outDir); err != nil {
			s.broadcastWSMessage("optimize_error", map[string]interface{}{"error": err.Error()})
			return
		}
	}

	bc := orch.Build()
	data := map[string]interface{}{}
	if bc != nil {
		data["statistics"] = s.statsSnapshot(bc)
	}
	s.broadcastWSMessage("optimize_completed", data)
}

func (s *Server) statsSnapshot(bc *pipeline.BuildContext) map[string]interface{} {
	stats := bc.Stats
	return map[string]interface{}{
		"summary": stats.GetSummary(),
		"assets": map[string]interface{}{
			"found":     atomic.LoadInt64(&stats.AssetsFound),
			"processed": atomic.LoadInt64(&stats.AssetsProcessed),
			"optimized": atomic.LoadInt64(&stats.AssetsOptimized),
			"skipped":   atomic.LoadInt64(&stats.AssetsSkipped),
			"errors":    atomic.LoadInt64(&stats.AssetsWithError),
		},
		"cache": map[string]interface{}{
			"hits":   atomic.LoadInt64(&stats.CacheHits),
			"misses": atomic.LoadInt64(&stats.CacheMisses),
		},
	}
}

func (s *Server) broadcastWSMessage(messageType string, data interface{}) {
	message := WSMessage{
		Type: messageType,
		Data: data,
	}

	msgBytes, err := json.Marshal(message)
	if err != nil {
		s.log.Errorf("Failed to marshal WebSocket message: %v", err)
		return
	}

	s.wsMutex.RLock()
	defer s.wsMutex.RUnlock()

	for conn := range s.wsClients {
		err := conn.WriteMessage(websocket.TextMessage, msgBytes)
		if err != nil {
			s.log.Errorf("Failed to write WebSocket message: %v", err)
			go func(c *websocket.Conn) {
				s.wsMutex.Lock()
				delete(s.wsClients, c)
				s.wsMutex.Unlock()
				c.Close()
			}(conn)
		}
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func (s *Server) writeError(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(APIResponse{
		Success: false,
		Error:   message,
	})
}
