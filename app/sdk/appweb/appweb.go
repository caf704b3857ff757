// Package appweb serves the local control surface: a small web page, a
// JSON API, a websocket event stream, and the operational endpoints.
package appweb

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"io"
	"math/rand"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/jroedel/thermostat/app/sdk/appthermostat"
	"github.com/jroedel/thermostat/business/busstate"
	"github.com/jroedel/thermostat/business/busthermostat"
)

// HistoryResponse is the payload of GET /api/history.
type HistoryResponse struct {
	Samples []busstate.Sample `json:"samples"`
	//average of this run's readings over the window, zero when empty
	AverageTempC float32 `json:"averageTempC"`
}

type Logger interface {
	Printf(string, ...interface{})
}

//go:embed index.html
var indexHtmlContent string

// History requests are capped so a bad query can't sweep the whole log.
const maxHistoryWindow = 7 * 24 * time.Hour

const maxAcceptedBodyLength = 1 << 20

type Server struct {
	app *appthermostat.App
	hub *Hub
	l   Logger
	mux *http.ServeMux
}

// New wires up the routes. The metrics handler is passed in so the caller
// keeps ownership of the prometheus registry.
func New(app *appthermostat.App, hub *Hub, metricsHandler http.Handler, l Logger) (*Server, error) {
	if app == nil {
		return nil, fmt.Errorf("appweb construct: App is required")
	}
	if hub == nil {
		return nil, fmt.Errorf("appweb construct: Hub is required")
	}
	if l == nil {
		return nil, fmt.Errorf("appweb construct: Logger is required")
	}

	s := Server{app: app, hub: hub, l: l}

	mux := http.NewServeMux()
	mux.Handle("GET /", IndexCheck404Middleware(http.HandlerFunc(s.IndexHandler)))
	mux.HandleFunc("GET /api/status", s.GetStatusHandler)
	mux.HandleFunc("POST /api/settings", s.PostSettingsHandler)
	mux.HandleFunc("GET /api/history", s.GetHistoryHandler)
	mux.HandleFunc("GET /events", s.EventsHandler)
	mux.HandleFunc("GET /health", s.HealthHandler)
	if metricsHandler != nil {
		mux.Handle("GET /metrics", metricsHandler)
	}
	s.mux = mux

	return &s, nil
}

// Handler returns the mux wrapped in the full middleware chain.
func (s *Server) Handler() http.Handler {
	return WithLogger(s.l, LogRequestMiddleware(perClientRateLimiter(SecureHeadersMiddleware(s.mux))))
}

func (s *Server) ListenAndServe(ctx context.Context, address string) error {
	srv := &http.Server{
		Addr:    address,
		Handler: s.Handler(),
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	s.l.Printf("web surface starting on %s", address)
	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) IndexHandler(w http.ResponseWriter, r *http.Request) {
	tmpl, err := template.New("index.html").Parse(indexHtmlContent)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	status := s.app.Status()
	if err := tmpl.Execute(w, status); err != nil {
		http.Error(w, "Internal server error", 500)
		return
	}
}

func (s *Server) GetStatusHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(s.app.Status()); err != nil {
		s.l.Printf("Error encoding status: %v", err)
	}
}

func (s *Server) PostSettingsHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	defer r.Body.Close()

	rdr := io.LimitReader(r.Body, maxAcceptedBodyLength)
	data, err := io.ReadAll(rdr)
	if err != nil {
		dispatchApiError(w, http.StatusBadRequest, "can't read body", s.l)
		return
	}
	if len(data) == 0 {
		dispatchApiError(w, http.StatusBadRequest, "missing body", s.l)
		return
	}

	var patch busthermostat.SettingsPatch
	if err := json.Unmarshal(data, &patch); err != nil {
		dispatchApiError(w, http.StatusBadRequest, fmt.Sprintf("invalid request: %s", err), s.l)
		return
	}

	status, err := s.app.ApplySettings(patch)
	if err != nil {
		dispatchApiError(w, http.StatusUnprocessableEntity, err.Error(), s.l)
		return
	}

	if err := json.NewEncoder(w).Encode(status); err != nil {
		s.l.Printf("Error encoding status: %v", err)
	}
}

func (s *Server) GetHistoryHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	window := time.Hour
	if raw := r.URL.Query().Get("window"); raw != "" {
		parsed, err := time.ParseDuration(raw)
		if err != nil || parsed <= 0 {
			dispatchApiError(w, http.StatusBadRequest, fmt.Sprintf("invalid window %q", raw), s.l)
			return
		}
		window = parsed
	}
	if window > maxHistoryWindow {
		window = maxHistoryWindow
	}

	samples, err := s.app.History(window)
	if err != nil {
		s.l.Printf("Error reading history: %v", err)
		dispatchApiError(w, http.StatusInternalServerError, "issue reading from database", s.l)
		return
	}

	response := HistoryResponse{Samples: samples}
	if len(samples) > 0 {
		if avg, err := s.app.AverageTemperature(window); err == nil {
			response.AverageTempC = avg
		}
	}

	if err := json.NewEncoder(w).Encode(response); err != nil {
		s.l.Printf("Error encoding history: %v", err)
	}
}

func (s *Server) EventsHandler(w http.ResponseWriter, r *http.Request) {
	s.hub.ServeWs(w, r)
}

// HealthHandler reports 200 while the control loop keeps passing. A loop
// that hasn't completed within a minute is considered wedged.
func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
	const timeout = time.Minute
	if s.app.LastPass().Add(timeout).After(time.Now()) {
		w.WriteHeader(200)
	} else {
		w.WriteHeader(500)
	}
}

type ApiStatus int

const (
	NOK ApiStatus = iota + 1
	OK
)

func (s ApiStatus) String() string {
	switch s {
	case NOK:
		return "NOK"
	case OK:
		return "OK"
	}
	return ""
}

func (s ApiStatus) MarshalJSON() ([]byte, error) {
	return []byte(`"` + s.String() + `"`), nil
}

type ApiMessage struct {
	Status  ApiStatus `json:"status"`
	Message string    `json:"message"`
}

// write the status code and the json error message
func dispatchApiError(w http.ResponseWriter, httpStatus int, message string, l Logger) {
	w.WriteHeader(httpStatus)
	err := json.NewEncoder(w).Encode(ApiMessage{Status: NOK, Message: message})
	if err != nil {
		l.Printf("Error encoding json: %v", err)
	}
}

func WithLogger(l Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r = r.WithContext(context.WithValue(r.Context(), "l", l))
		next.ServeHTTP(w, r)
	})
}

// SecureHeadersMiddleware adds two basic security headers to each HTTP response
// X-XSS-Protection: 1; mode-block can help to prevent XSS attacks
// X-Frame-Options: deny can help to prevent clickjacking attacks
func SecureHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-XSS-Protection", "1; mode-block")
		w.Header().Set("X-Frame-Options", "deny")
		next.ServeHTTP(w, r)
	})
}

// LogRequestMiddleware logs basic info of a HTTP request
// RemoteAddr: Network address that sent the request (IP:port)
// Proto: Protocol version
// Method: HTTP method
// URL: Request URL
func LogRequestMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		l := r.Context().Value("l").(Logger)
		requestId := randString(12)
		r = r.WithContext(context.WithValue(r.Context(), "requestId", requestId))
		start := time.Now()
		l.Printf("Req %s %s - %s %s %s\n", requestId, r.RemoteAddr, r.Proto, r.Method, r.URL)
		next.ServeHTTP(w, r)
		l.Printf("Req %s took %s\n", requestId, time.Since(start))
	})
}

func IndexCheck404Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			l := r.Context().Value("l").(Logger)
			l.Printf("We detected a 404: %s", r.URL.Path)
			http.NotFound(w, r)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func perClientRateLimiter(next http.Handler) http.Handler {
	type client struct {
		limiter  *rate.Limiter
		lastSeen time.Time
	}
	var (
		mu      sync.Mutex
		clients = make(map[string]*client)
	)
	go func() {
		for {
			time.Sleep(time.Minute)
			// Lock the mutex to protect this section from race conditions.
			mu.Lock()
			for ip, client := range clients {
				if time.Since(client.lastSeen) > 3*time.Minute {
					delete(clients, ip)
				}
			}
			mu.Unlock()
		}
	}()

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Extract the IP address from the request.
		ip, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		// Lock the mutex to protect this section from race conditions.
		mu.Lock()
		if _, found := clients[ip]; !found {
			clients[ip] = &client{limiter: rate.NewLimiter(10, 20)}
		}
		clients[ip].lastSeen = time.Now()
		if !clients[ip].limiter.Allow() {
			mu.Unlock()

			message := ApiMessage{
				Status:  NOK,
				Message: "The API is at capacity, try again later.",
			}

			w.WriteHeader(http.StatusTooManyRequests)
			json.NewEncoder(w).Encode(&message)
			return
		}
		mu.Unlock()
		next.ServeHTTP(w, r)
	})
}

const letterBytes = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"

func randString(n int) string {
	b := make([]byte, n)
	for i := range b {
		b[i] = letterBytes[rand.Int63()%int64(len(letterBytes))]
	}
	return string(b)
}
