package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/audiolibrelab/memocapture/internal/audio"
	"github.com/audiolibrelab/memocapture/internal/label"
	"github.com/audiolibrelab/memocapture/internal/recording"
	"github.com/audiolibrelab/memocapture/internal/service"
	"github.com/audiolibrelab/memocapture/internal/store"
)

// Server represents the web server for controlling MemoCapture
type Server struct {
	service service.Service
	port    string
	levels  *levelHub

	httpServer *http.Server
}

// StatusResponse represents the JSON response for status endpoint
type StatusResponse struct {
	Status    string                  `json:"status"`
	Message   string                  `json:"message"`
	Session   *service.CaptureSession `json:"session,omitempty"`
	Pending   string                  `json:"pending,omitempty"`
	Profile   string                  `json:"profile"`
	LastError string                  `json:"last_error,omitempty"`
}

// RecordingInfo is a recording as listed by the API
type RecordingInfo struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Name      string    `json:"name,omitempty"`
	Emoji     string    `json:"emoji,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	Duration  float64   `json:"duration"`
	Length    string    `json:"length"`
	StreamURL string    `json:"stream_url"`
}

// RecordingsResponse represents the JSON response for the recordings endpoint
type RecordingsResponse struct {
	Success    bool            `json:"success"`
	Recordings []RecordingInfo `json:"recordings"`
	Count      int             `json:"count"`
}

// SourcesResponse represents the JSON response for sources endpoint
type SourcesResponse struct {
	Sources []audio.Source `json:"sources"`
	Backend string         `json:"backend"`
}

type NameRequest struct {
	Name string `json:"name"`
}

type EmojiRequest struct {
	Emoji string `json:"emoji"`
}

type levelMessage struct {
	Level float32 `json:"level"`
}

var levelUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// New creates a new web server instance
func New(svc service.Service, port string) *Server {
	s := &Server{
		service: svc,
		port:    port,
		levels:  newLevelHub(),
	}
	svc.OnLevel(s.levels.publish)
	return s
}

// Handler returns the routes served by the server
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleIndex)
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/sources", s.handleSources)
	mux.HandleFunc("/capture/start", s.handleStartCapture)
	mux.HandleFunc("/capture/stop", s.handleStopCapture)
	mux.HandleFunc("/capture/confirm", s.handleConfirm)
	mux.HandleFunc("/capture/discard", s.handleDiscard)
	mux.HandleFunc("/api/recordings", s.handleRecordings)
	mux.HandleFunc("/api/recordings/{id}", s.handleRecording)
	mux.HandleFunc("/api/recordings/{id}/name", s.handleRename)
	mux.HandleFunc("/api/recordings/{id}/emoji", s.handleEmoji)
	mux.HandleFunc("/api/recordings/{id}/autolabel", s.handleAutoLabel)
	mux.HandleFunc("/api/recordings/{id}/stream", s.handleStream)
	mux.HandleFunc("/api/migrate", s.handleMigrate)
	mux.HandleFunc("/api/level", s.handleLevel)
	return mux
}

// Start starts the web server and blocks until ctx is cancelled or the
// listener fails.
func (s *Server) Start(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:              ":" + s.port,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	localIP := getLocalIP()
	slog.Info("Starting MemoCapture Web Server",
		"port", s.port,
		"local_url", fmt.Sprintf("http://%s:%s", localIP, s.port),
		"localhost_url", fmt.Sprintf("http://localhost:%s", s.port))

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		s.levels.close()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	slog.Info("Shutting down web server")
	s.levels.close()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	return nil
}

// handleIndex lists the available endpoints
func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		s.sendErrorResponse(w, http.StatusNotFound, "Not found", "path", r.URL.Path)
		return
	}
	if !s.allowMethod(w, r, http.MethodGet) {
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.Write([]byte(indexHTML))
}

const indexHTML = `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <title>MemoCapture</title>
</head>
<body>
    <h1>MemoCapture</h1>
    <h2>API Endpoints:</h2>
    <ul>
        <li>GET /status - Capture status</li>
        <li>POST /capture/start - Start capturing</li>
        <li>POST /capture/stop - Stop capturing</li>
        <li>POST /capture/confirm - Save the pending recording</li>
        <li>POST /capture/discard - Discard the pending recording</li>
        <li>GET /api/recordings - List recordings</li>
        <li>GET /api/level - Live input level (websocket)</li>
    </ul>
</body>
</html>`

// handleStatus returns the current status and session info
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if !s.allowMethod(w, r, http.MethodGet) {
		return
	}

	status, session := s.service.GetCaptureStatus()
	response := StatusResponse{
		Status:    string(status),
		Message:   statusMessage(status, session),
		Session:   session,
		Pending:   s.service.PendingRecording(),
		Profile:   s.service.GetConfig().Profile,
		LastError: s.service.GetLastError(),
	}
	s.sendJSON(w, http.StatusOK, response)
}

func statusMessage(status service.CaptureStatus, session *service.CaptureSession) string {
	switch status {
	case service.StatusCapturing:
		if session != nil {
			return fmt.Sprintf("Capturing (%s)", session.Elapsed)
		}
		return "Capturing"
	case service.StatusPending:
		return "Recording stopped, waiting to be saved or discarded"
	default:
		return "Ready to capture"
	}
}

func (s *Server) handleSources(w http.ResponseWriter, r *http.Request) {
	if !s.allowMethod(w, r, http.MethodGet) {
		return
	}

	sources, err := s.service.ListSources()
	if err != nil {
		s.sendErrorResponse(w, http.StatusInternalServerError,
			fmt.Sprintf("Failed to list sources: %v", err),
			"operation", "list_sources")
		return
	}
	s.sendJSON(w, http.StatusOK, SourcesResponse{
		Sources: sources,
		Backend: s.service.GetConfig().Audio.Backend,
	})
}

func (s *Server) handleStartCapture(w http.ResponseWriter, r *http.Request) {
	if !s.allowMethod(w, r, http.MethodPost) {
		return
	}

	if err := s.service.StartCapture(r.Context()); err != nil {
		s.sendErrorResponse(w, statusFor(err),
			fmt.Sprintf("Failed to start capture: %v", err),
			"operation", "start_capture")
		return
	}
	s.sendJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"message": "Capture started",
	})
}

func (s *Server) handleStopCapture(w http.ResponseWriter, r *http.Request) {
	if !s.allowMethod(w, r, http.MethodPost) {
		return
	}

	res, err := s.service.StopCapture()
	if err != nil && (res == nil || (res.Pending == "" && res.Item == nil)) {
		s.sendErrorResponse(w, statusFor(err),
			fmt.Sprintf("Failed to stop capture: %v", err),
			"operation", "stop_capture")
		return
	}

	response := map[string]interface{}{
		"success": true,
	}
	switch {
	case res.Item != nil:
		response["message"] = "Recording saved"
		response["recording"] = recordingInfo(*res.Item)
	case res.Pending != "":
		response["message"] = "Recording stopped, confirm to save"
		response["pending"] = res.Pending
	default:
		response["message"] = "Nothing was captured"
	}
	if err != nil {
		response["warning"] = err.Error()
	}
	s.sendJSON(w, http.StatusOK, response)
}

func (s *Server) handleConfirm(w http.ResponseWriter, r *http.Request) {
	if !s.allowMethod(w, r, http.MethodPost) {
		return
	}

	item, err := s.service.ConfirmSave()
	if err != nil {
		s.sendErrorResponse(w, statusFor(err),
			fmt.Sprintf("Failed to save recording: %v", err),
			"operation", "confirm_save")
		return
	}
	s.sendJSON(w, http.StatusOK, map[string]interface{}{
		"success":   true,
		"message":   "Recording saved",
		"recording": recordingInfo(item),
	})
}

func (s *Server) handleDiscard(w http.ResponseWriter, r *http.Request) {
	if !s.allowMethod(w, r, http.MethodPost) {
		return
	}

	if err := s.service.Discard(); err != nil {
		s.sendErrorResponse(w, statusFor(err),
			fmt.Sprintf("Failed to discard recording: %v", err),
			"operation", "discard")
		return
	}
	s.sendJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"message": "Recording discarded",
	})
}

// handleRecordings lists the catalog, newest first
func (s *Server) handleRecordings(w http.ResponseWriter, r *http.Request) {
	if !s.allowMethod(w, r, http.MethodGet) {
		return
	}

	items, err := s.service.ListRecordings(r.Context())
	if err != nil {
		s.sendErrorResponse(w, http.StatusInternalServerError,
			fmt.Sprintf("Failed to list recordings: %v", err),
			"operation", "list_recordings")
		return
	}

	infos := make([]RecordingInfo, 0, len(items))
	for _, item := range items {
		infos = append(infos, recordingInfo(item))
	}
	s.sendJSON(w, http.StatusOK, RecordingsResponse{
		Success:    true,
		Recordings: infos,
		Count:      len(infos),
	})
}

// handleRecording returns or deletes a single recording
func (s *Server) handleRecording(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	switch r.Method {
	case http.MethodGet:
		item, err := s.service.GetRecording(id)
		if err != nil {
			s.sendErrorResponse(w, statusFor(err), err.Error(), "id", id)
			return
		}
		s.sendJSON(w, http.StatusOK, map[string]interface{}{
			"success":   true,
			"recording": recordingInfo(item),
		})
	case http.MethodDelete:
		if err := s.service.DeleteRecording(id); err != nil {
			s.sendErrorResponse(w, statusFor(err),
				fmt.Sprintf("Failed to delete recording: %v", err),
				"operation", "delete", "id", id)
			return
		}
		s.sendJSON(w, http.StatusOK, map[string]interface{}{
			"success": true,
			"message": "Recording deleted",
		})
	default:
		s.sendErrorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

func (s *Server) handleRename(w http.ResponseWriter, r *http.Request) {
	if !s.allowMethod(w, r, http.MethodPost) {
		return
	}
	id := r.PathValue("id")

	var req NameRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendErrorResponse(w, http.StatusBadRequest, "Invalid JSON payload", "id", id)
		return
	}

	item, err := s.service.Rename(id, req.Name)
	if err != nil {
		s.sendErrorResponse(w, statusFor(err),
			fmt.Sprintf("Failed to rename recording: %v", err),
			"operation", "rename", "id", id)
		return
	}
	s.sendJSON(w, http.StatusOK, map[string]interface{}{
		"success":   true,
		"recording": recordingInfo(item),
	})
}

func (s *Server) handleEmoji(w http.ResponseWriter, r *http.Request) {
	if !s.allowMethod(w, r, http.MethodPost) {
		return
	}
	id := r.PathValue("id")

	var req EmojiRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendErrorResponse(w, http.StatusBadRequest, "Invalid JSON payload", "id", id)
		return
	}

	item, err := s.service.SetEmoji(id, req.Emoji)
	if err != nil {
		s.sendErrorResponse(w, statusFor(err),
			fmt.Sprintf("Failed to label recording: %v", err),
			"operation", "set_emoji", "id", id)
		return
	}
	s.sendJSON(w, http.StatusOK, map[string]interface{}{
		"success":   true,
		"recording": recordingInfo(item),
	})
}

// handleAutoLabel streams pipeline events as newline-delimited JSON
func (s *Server) handleAutoLabel(w http.ResponseWriter, r *http.Request) {
	if !s.allowMethod(w, r, http.MethodPost) {
		return
	}
	id := r.PathValue("id")

	events, err := s.service.AutoLabel(r.Context(), id)
	if err != nil {
		s.sendErrorResponse(w, statusFor(err),
			fmt.Sprintf("Failed to start labeling: %v", err),
			"operation", "autolabel", "id", id)
		return
	}

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("Cache-Control", "no-cache")
	flusher, _ := w.(http.Flusher)
	enc := json.NewEncoder(w)
	for ev := range events {
		if ev.Kind == label.EventElapsed {
			continue
		}
		msg := map[string]interface{}{
			"event": ev.Kind.String(),
		}
		if ev.Text != "" {
			msg["text"] = ev.Text
		}
		if ev.Err != nil {
			msg["error"] = ev.Err.Error()
		}
		if ev.Kind == label.EventSaved {
			msg["recording"] = recordingInfo(ev.Item)
		}
		if err := enc.Encode(msg); err != nil {
			slog.Debug("Autolabel client went away", "id", id, "error", err)
			return
		}
		if flusher != nil {
			flusher.Flush()
		}
	}
}

// handleStream serves a recording payload with range support
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	if !s.allowMethod(w, r, http.MethodGet) {
		return
	}
	id := r.PathValue("id")

	item, err := s.service.GetRecording(id)
	if err != nil {
		http.Error(w, "Recording not found", statusFor(err))
		return
	}

	file, err := os.Open(item.Path)
	if err != nil {
		if os.IsNotExist(err) {
			http.Error(w, "File not found", http.StatusNotFound)
		} else {
			http.Error(w, "Error opening file", http.StatusInternalServerError)
		}
		return
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		http.Error(w, "Error accessing file", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "audio/wav")
	w.Header().Set("Accept-Ranges", "bytes")
	http.ServeContent(w, r, id+audio.PayloadExt, info.ModTime(), file)
}

func (s *Server) handleMigrate(w http.ResponseWriter, r *http.Request) {
	if !s.allowMethod(w, r, http.MethodPost) {
		return
	}

	adopted, err := s.service.MigrateLegacy(r.Context())
	infos := make([]RecordingInfo, 0, len(adopted))
	for _, item := range adopted {
		infos = append(infos, recordingInfo(item))
	}
	if err != nil {
		s.sendErrorResponse(w, statusFor(err),
			fmt.Sprintf("Migration stopped after %d recordings: %v", len(adopted), err),
			"operation", "migrate")
		return
	}
	s.sendJSON(w, http.StatusOK, RecordingsResponse{
		Success:    true,
		Recordings: infos,
		Count:      len(infos),
	})
}

// handleLevel pushes the live input level over a websocket. Slow clients
// only ever see the latest value.
func (s *Server) handleLevel(w http.ResponseWriter, r *http.Request) {
	conn, err := levelUpgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("Level websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	sub := s.levels.subscribe()
	defer s.levels.unsubscribe(sub)

	// The reader only exists to notice the client closing.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case level, ok := <-sub:
			if !ok {
				conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
					time.Now().Add(time.Second))
				return
			}
			conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := conn.WriteJSON(levelMessage{Level: level}); err != nil {
				slog.Debug("Level websocket write failed", "error", err)
				return
			}
		case <-closed:
			return
		case <-r.Context().Done():
			return
		}
	}
}

func recordingInfo(item recording.Item) RecordingInfo {
	return RecordingInfo{
		ID:        item.ID(),
		Title:     item.DisplayName(),
		Name:      item.Name,
		Emoji:     item.Emoji,
		CreatedAt: item.CreatedAt,
		Duration:  item.Duration,
		Length:    recording.FormatDuration(item.Duration),
		StreamURL: "/api/recordings/" + item.ID() + "/stream",
	}
}

// statusFor maps service errors to HTTP status codes
func statusFor(err error) int {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, audio.ErrPermissionDenied):
		return http.StatusForbidden
	case errors.Is(err, audio.ErrAlreadyCapturing),
		errors.Is(err, service.ErrPendingExists),
		errors.Is(err, service.ErrNoPending),
		errors.Is(err, service.ErrLabelInProgress):
		return http.StatusConflict
	case errors.Is(err, service.ErrNoTranscriber):
		return http.StatusBadRequest
	case errors.Is(err, audio.ErrDevice):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) allowMethod(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method == method {
		return true
	}
	w.Header().Set("Allow", method)
	s.sendErrorResponse(w, http.StatusMethodNotAllowed, "Method not allowed", "path", r.URL.Path, "method", r.Method)
	return false
}

func (s *Server) sendJSON(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("Failed to write response", "error", err)
	}
}

// sendErrorResponse sends a JSON error response with logging
func (s *Server) sendErrorResponse(w http.ResponseWriter, statusCode int, errorMsg string, logContext ...interface{}) {
	// Log the error with structured context
	logFields := []interface{}{"error_message", errorMsg, "status_code", statusCode}
	if len(logContext) > 0 {
		logFields = append(logFields, logContext...)
	}
	if statusCode >= http.StatusInternalServerError {
		slog.Error("Sending error response to client", logFields...)
	} else {
		slog.Warn("Sending error response to client", logFields...)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"success": false,
		"error":   errorMsg,
	})
}

func getLocalIP() string {
	// Try to connect to a remote address to determine local IP
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "localhost"
	}
	defer conn.Close()

	localAddr := conn.LocalAddr().(*net.UDPAddr)
	return localAddr.IP.String()
}

// levelHub fans the single level listener out to websocket clients. Each
// client has a one-slot mailbox that is overwritten when full.
type levelHub struct {
	mu     sync.Mutex
	subs   map[chan float32]struct{}
	closed bool
}

func newLevelHub() *levelHub {
	return &levelHub{subs: make(map[chan float32]struct{})}
}

func (h *levelHub) subscribe() chan float32 {
	h.mu.Lock()
	defer h.mu.Unlock()
	ch := make(chan float32, 1)
	if h.closed {
		close(ch)
		return ch
	}
	h.subs[ch] = struct{}{}
	return ch
}

func (h *levelHub) unsubscribe(ch chan float32) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[ch]; ok {
		delete(h.subs, ch)
		close(ch)
	}
}

func (h *levelHub) publish(level float32) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs {
		select {
		case ch <- level:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- level:
			default:
			}
		}
	}
}

func (h *levelHub) close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for ch := range h.subs {
		delete(h.subs, ch)
		close(ch)
	}
}
