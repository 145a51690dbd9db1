// Package server hosts the provisioning form, the optional status websocket feed and the
// mDNS advertisement.
package server

import (
	"context"
	"embed"
	"errors"
	"html/template"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"stripled-controller/internal/config"
)

//go:embed templates/*.html
var templateFS embed.FS

var templates = template.Must(template.ParseFS(templateFS, "templates/*.html"))

// replyTimeout bounds how long a form submission waits for the control loop.
const replyTimeout = 10 * time.Second

var ErrLoopUnavailable = errors.New("controller busy")

// Submission carries a provisioning form to the control loop. The loop answers on Reply
// with the saved config or an error.
type Submission struct {
	Form  url.Values
	Reply chan SubmissionResult
}

type SubmissionResult struct {
	Config config.Config
	Err    error
}

// Page is the data rendered by the provisioning templates.
type Page struct {
	Title   string
	Config  config.Config
	Error   string
	Message string
}

// Server serves the provisioning form. Handlers never touch controller state; they enqueue
// submissions and restart requests for the loop.
type Server struct {
	httpServer  *http.Server
	submissions chan<- Submission
	restarts    chan<- struct{}

	mu   sync.RWMutex
	page Page

	log logrus.FieldLogger
}

// New builds the provisioning server listening on addr.
func New(addr string, page Page, submissions chan<- Submission, restarts chan<- struct{}, log logrus.FieldLogger) *Server {
	s := &Server{
		submissions: submissions,
		restarts:    restarts,
		page:        page,
		log:         log.WithField("component", "provisioning"),
	}
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Router returns the provisioning routes.
func (s *Server) Router() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/", s.handleIndex).Methods(http.MethodGet)
	r.HandleFunc("/save", s.handleSave).Methods(http.MethodPost)
	r.HandleFunc("/restart", s.handleRestart).Methods(http.MethodGet)
	r.NotFoundHandler = http.HandlerFunc(s.handleNotFound)
	r.MethodNotAllowedHandler = http.HandlerFunc(s.handleNotFound)
	return r
}

// SetPage replaces the data shown by the form.
func (s *Server) SetPage(p Page) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.page = p
}

func (s *Server) currentPage() Page {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.page
}

func (s *Server) ListenAndServe() error {
	s.log.WithField("addr", s.httpServer.Addr).Info("provisioning form listening")
	err := s.httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	s.render(w, http.StatusOK, "index.html", s.currentPage())
}

func (s *Server) handleSave(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "bad form", http.StatusBadRequest)
		return
	}

	sub := Submission{Form: r.PostForm, Reply: make(chan SubmissionResult, 1)}
	ctx, cancel := context.WithTimeout(r.Context(), replyTimeout)
	defer cancel()

	select {
	case s.submissions <- sub:
	case <-ctx.Done():
		s.fail(w, ErrLoopUnavailable)
		return
	}

	select {
	case res := <-sub.Reply:
		if res.Err != nil {
			s.fail(w, res.Err)
			return
		}
		page := s.currentPage()
		page.Config = res.Config
		page.Message = "Configuration saved."
		s.render(w, http.StatusOK, "restart.html", page)
	case <-ctx.Done():
		s.fail(w, ErrLoopUnavailable)
	}
}

func (s *Server) handleRestart(w http.ResponseWriter, r *http.Request) {
	select {
	case s.restarts <- struct{}{}:
	default:
		// A restart is already queued.
	}
	page := s.currentPage()
	page.Message = "Restart requested."
	s.render(w, http.StatusOK, "restart.html", page)
}

func (s *Server) handleNotFound(w http.ResponseWriter, r *http.Request) {
	s.render(w, http.StatusNotFound, "404.html", s.currentPage())
}

func (s *Server) fail(w http.ResponseWriter, err error) {
	s.log.WithError(err).Warn("save failed")
	page := s.currentPage()
	page.Error = "Save failed: " + err.Error()
	s.render(w, http.StatusInternalServerError, "index.html", page)
}

func (s *Server) render(w http.ResponseWriter, status int, name string, page Page) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := templates.ExecuteTemplate(w, name, page); err != nil {
		s.log.WithError(err).WithField("template", name).Error("render failed")
	}
}
