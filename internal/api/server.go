package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/dharsanguruparan/ShopDrop/internal/activity"
	"github.com/dharsanguruparan/ShopDrop/internal/apperr"
	"github.com/dharsanguruparan/ShopDrop/internal/config"
	"github.com/dharsanguruparan/ShopDrop/internal/model"
	"github.com/dharsanguruparan/ShopDrop/internal/queue"
	"github.com/dharsanguruparan/ShopDrop/internal/signing"
)

// SessionCookie carries the signed session token.
const SessionCookie = "shopdrop_session"

const (
	defaultMaxRequestBytes = 64 << 20
	defaultMaxImageBytes   = 20 << 20
	defaultSessionTTL      = 30 * 24 * time.Hour
)

// Publisher runs one publish end to end.
type Publisher interface {
	RunPublish(ctx context.Context, sessionKey string, fields model.ProductFields, sources []model.ImageSource, shop, credential string) (model.PublishOutcome, error)
}

// ActivityReader lists a session's log.
type ActivityReader interface {
	Entries(ctx context.Context, sessionKey string) ([]activity.Entry, error)
}

// Server exposes the publish endpoints and the session activity log.
type Server struct {
	cfg       *config.Config
	publisher Publisher
	activity  ActivityReader
	queue     queue.Enqueuer
	signer    *signing.Signer
	logger    logrus.FieldLogger
	now       func() time.Time

	handler http.Handler
	server  *http.Server
	once    sync.Once
}

// New constructs a Server. queueClient may be nil, in which case the async
// endpoint answers 503.
func New(cfg *config.Config, publisher Publisher, reader ActivityReader, queueClient queue.Enqueuer, logger logrus.FieldLogger) *Server {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	c := *cfg
	if c.MaxRequestBytes <= 0 {
		c.MaxRequestBytes = defaultMaxRequestBytes
	}
	if c.MaxImageBytes <= 0 {
		c.MaxImageBytes = defaultMaxImageBytes
	}
	if c.SessionTTL <= 0 {
		c.SessionTTL = defaultSessionTTL
	}
	if c.SigningSecretGenerated {
		logger.Warn("SHOPDROP_SIGNING_SECRET is not set; session cookies are only valid for this process")
	}
	return &Server{
		cfg:       &c,
		publisher: publisher,
		activity:  reader,
		queue:     queueClient,
		signer:    signing.NewSigner(cfg.SigningSecret),
		logger:    logger,
		now:       time.Now,
	}
}

// Handler returns the routed handler with middleware applied.
func (s *Server) Handler() http.Handler {
	s.once.Do(func() {
		mux := http.NewServeMux()
		mux.HandleFunc("/healthz", s.handleHealth)
		mux.HandleFunc("/products", s.handleProducts)
		mux.HandleFunc("/products/async", s.handleProductsAsync)
		mux.HandleFunc("/activity", s.handleActivity)
		s.handler = corsMiddleware(s.loggingMiddleware(mux))
		s.server = &http.Server{
			Addr:    s.cfg.Address,
			Handler: s.handler,
		}
	})
	return s.handler
}

// Run starts the HTTP server and blocks until the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	s.Handler()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}()
	s.logger.WithField("address", s.cfg.Address).Info("api listening")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleProducts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	req, ok := s.decodeAndValidate(w, r)
	if !ok {
		return
	}
	session := s.session(w, r)

	outcome, err := s.publisher.RunPublish(r.Context(), session, req.fields(), req.sources, req.ShopURL, req.AccessToken)
	if err != nil {
		s.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, outcome)
}

func (s *Server) handleProductsAsync(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.queue == nil {
		respondJSON(w, http.StatusServiceUnavailable, errorBody{Error: "queued publishing unavailable"})
		return
	}
	req, ok := s.decodeAndValidate(w, r)
	if !ok {
		return
	}
	session := s.session(w, r)

	id, err := queue.EnqueuePublish(r.Context(), s.queue, queue.PublishPayload{
		SessionKey:  session,
		Fields:      req.fields(),
		Shop:        req.ShopURL,
		AccessToken: req.AccessToken,
		Images:      queue.EncodeSources(req.sources),
	})
	if err != nil {
		s.logger.WithError(err).Error("enqueue publish")
		respondJSON(w, http.StatusServiceUnavailable, errorBody{Error: "failed to queue job"})
		return
	}
	respondJSON(w, http.StatusAccepted, map[string]string{"taskId": id, "status": "queued"})
}

func (s *Server) handleActivity(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	session := s.session(w, r)
	entries, err := s.activity.Entries(r.Context(), session)
	if err != nil {
		s.logger.WithError(err).Error("list activity")
		respondJSON(w, http.StatusInternalServerError, errorBody{Error: "failed to load activity"})
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

func (s *Server) decodeAndValidate(w http.ResponseWriter, r *http.Request) (*publishRequest, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxRequestBytes)
	req, err := decodePublishRequest(r, s.cfg.MaxImageBytes)
	if err != nil {
		respondJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return nil, false
	}
	if fields := req.validate(); len(fields) > 0 {
		respondJSON(w, http.StatusBadRequest, errorBody{Error: "invalid request", Fields: fields})
		return nil, false
	}
	return req, true
}

// session returns the caller's session key, issuing a fresh signed cookie
// when the current one is missing, forged or expired.
func (s *Server) session(w http.ResponseWriter, r *http.Request) string {
	now := s.now()
	if c, err := r.Cookie(SessionCookie); err == nil {
		if key, err := s.signer.Verify(c.Value, now); err == nil {
			return key
		}
	}
	key := uuid.NewString()
	expires := now.Add(s.cfg.SessionTTL)
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookie,
		Value:    s.signer.Token(key, expires),
		Path:     "/",
		Expires:  expires,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	return key
}

type errorBody struct {
	Error  string            `json:"error"`
	Fields map[string]string `json:"fields,omitempty"`
}

type validationBody struct {
	Error  string          `json:"error"`
	Errors json.RawMessage `json:"errors,omitempty"`
}

func (s *Server) respondError(w http.ResponseWriter, err error) {
	var e *apperr.Error
	if !errors.As(err, &e) {
		switch {
		case errors.Is(err, context.DeadlineExceeded):
			respondJSON(w, http.StatusGatewayTimeout, errorBody{Error: "publish timed out"})
		default:
			s.logger.WithError(err).Error("publish failed")
			respondJSON(w, http.StatusInternalServerError, errorBody{Error: "publish failed"})
		}
		return
	}
	switch e.Kind {
	case apperr.KindAuth:
		respondJSON(w, http.StatusUnauthorized, errorBody{Error: e.UserMessage()})
	case apperr.KindValidation:
		respondJSON(w, http.StatusUnprocessableEntity, validationBody{Error: e.UserMessage(), Errors: e.Fields})
	default:
		respondJSON(w, http.StatusBadGateway, errorBody{Error: e.UserMessage()})
	}
}

func respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logrus.WithError(err).Warn("encode response")
	}
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type,Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.WithFields(logrus.Fields{
			"method":   r.Method,
			"path":     r.URL.Path,
			"status":   rec.status,
			"duration": time.Since(start).String(),
		}).Info("request")
	})
}
