package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/byessilyurt/polish-legal-assistant/pkg/metrics"
	"github.com/byessilyurt/polish-legal-assistant/pkg/rag"
	"github.com/byessilyurt/polish-legal-assistant/pkg/retriever"
)

const Version = "1.0.0"

// ChatService answers queries.
type ChatService interface {
	Ask(ctx context.Context, req rag.Request) rag.Response
	AskStream(ctx context.Context, req rag.Request, onChunk func(chunk string) error) rag.Response
	Health(ctx context.Context) rag.Health
}

type MetricsSource interface {
	Summary() metrics.Summary
	Reset()
}

type Config struct {
	Port        int
	CORSOrigins []string
	// RequestTimeout bounds a single HTTP chat request.
	RequestTimeout time.Duration
}

// Message is the websocket frame exchanged with chat clients.
type Message struct {
	Type     string `json:"type"`
	Content  string `json:"content"`
	Category string `json:"category,omitempty"`
	Data     any    `json:"data,omitempty"`
}

// Message types sent to websocket clients.
const (
	MessageStatus   = "status"
	MessageChunk    = "chunk"
	MessageComplete = "complete"
	MessageError    = "error"
)

type ChatRequest struct {
	Query          string  `json:"query" validate:"required,min=3,max=1000"`
	ConversationID *string `json:"conversation_id,omitempty"`
	CategoryFilter *string `json:"category_filter,omitempty"`
	IncludeDebug   bool    `json:"include_debug"`
}

type ErrorResponse struct {
	Error     string    `json:"error"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

type Server struct {
	config   Config
	chat     ChatService
	metrics  MetricsSource
	logger   *zap.Logger
	validate *validator.Validate
	upgrader websocket.Upgrader
	router   chi.Router
}

func New(config Config, chat ChatService, metricsSource MetricsSource, logger *zap.Logger) *Server {
	if config.Port == 0 {
		config.Port = 8000
	}
	if config.RequestTimeout == 0 {
		config.RequestTimeout = 120 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Server{
		config:   config,
		chat:     chat,
		metrics:  metricsSource,
		logger:   logger,
		validate: validator.New(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(config.CORSOrigins),
		},
	}
	s.router = s.routes()
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.config.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/", s.handleRoot)
	r.Get("/health", s.handleHealth)
	r.Get("/ws", s.handleWebSocket)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/chat/health", s.handleChatHealth)
		r.With(middleware.Timeout(s.config.RequestTimeout)).Post("/chat", s.handleChat)
		r.Get("/metrics", s.handleMetrics)
		r.Post("/metrics/reset", s.handleMetricsReset)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "NotFound", "endpoint not found")
	})

	return r
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.config.Port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server listening", zap.String("addr", srv.Addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.logger.Info("shutting down server")
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Info("request",
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
		)
	})
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    "Polish Legal Assistant API",
		"version": Version,
		"status":  "running",
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "healthy",
		"version":   Version,
		"timestamp": time.Now().UTC(),
	})
}

func (s *Server) handleChatHealth(w http.ResponseWriter, r *http.Request) {
	h := s.chat.Health(r.Context())
	status := http.StatusOK
	if !h.Healthy {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, h)
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "BadRequest", "invalid JSON body")
		return
	}
	if err := s.validate.Struct(req); err != nil {
		writeError(w, http.StatusUnprocessableEntity, "ValidationError", validationMessage(err))
		return
	}

	resp := s.chat.Ask(r.Context(), toRAGRequest(req))
	if resp.Error != "" {
		s.logger.Warn("chat request answered with error",
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.String("error", resp.Error),
		)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "success",
		"metrics":   s.metrics.Summary(),
		"timestamp": time.Now().UTC(),
	})
}

func (s *Server) handleMetricsReset(w http.ResponseWriter, r *http.Request) {
	s.metrics.Reset()
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "success",
		"message": "Metrics reset successfully",
	})
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	for {
		var msg Message
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Warn("websocket read failed", zap.Error(err))
			}
			return
		}
		if err := s.handleMessage(r.Context(), conn, msg); err != nil {
			s.logger.Debug("websocket write failed", zap.Error(err))
			return
		}
	}
}

// handleMessage answers one query frame. Messages on a connection are
// handled one at a time so frames of different answers never interleave.
func (s *Server) handleMessage(ctx context.Context, conn *websocket.Conn, msg Message) error {
	req := ChatRequest{Query: msg.Content}
	if msg.Category != "" {
		req.CategoryFilter = &msg.Category
	}
	if err := s.validate.Struct(req); err != nil {
		return conn.WriteJSON(Message{Type: MessageError, Content: validationMessage(err)})
	}

	if err := conn.WriteJSON(Message{Type: MessageStatus, Content: "Searching knowledge base..."}); err != nil {
		return err
	}

	resp := s.chat.AskStream(ctx, toRAGRequest(req), func(chunk string) error {
		return conn.WriteJSON(Message{Type: MessageChunk, Content: chunk})
	})
	if resp.Error != "" {
		return conn.WriteJSON(Message{Type: MessageError, Content: resp.Answer})
	}
	return conn.WriteJSON(Message{Type: MessageComplete, Data: resp})
}

func toRAGRequest(req ChatRequest) rag.Request {
	out := rag.Request{Query: req.Query, IncludeDebug: req.IncludeDebug}
	if req.CategoryFilter != nil {
		out.Category = retriever.CategoryOf(strings.TrimSpace(*req.CategoryFilter))
	}
	return out
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return err.Error()
	}
	fe := verrs[0]
	switch fe.Tag() {
	case "required":
		return "query is required"
	case "min":
		return fmt.Sprintf("query must be at least %s characters", fe.Param())
	case "max":
		return fmt.Sprintf("query must be at most %s characters", fe.Param())
	default:
		return fmt.Sprintf("invalid %s", strings.ToLower(fe.Field()))
	}
}

// originChecker accepts requests without an Origin header and origins listed
// in allowed. A "*" entry allows everything.
func originChecker(allowed []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		for _, a := range allowed {
			if a == "*" || strings.EqualFold(a, origin) {
				return true
			}
		}
		return false
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, kind, message string) {
	writeJSON(w, status, ErrorResponse{Error: kind, Message: message, Timestamp: time.Now().UTC()})
}
