// Package server exposes the reconciliation engine over HTTP. A datastore
// that can fire webhooks posts change notifications here, and operators
// poke the reindex endpoints after bulk imports or schema changes.
package server

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/Fliegerweb/searchsync/indexer"
	"github.com/Fliegerweb/searchsync/x"
)

var log = x.Log("server")

// Notification is the body of update and delete requests. Ids stay
// untyped, since datastores hand out both numbers and strings.
type Notification struct {
	IDs []interface{} `json:"ids"`
}

type Server struct {
	engine *indexer.Indexer
	router *mux.Router
}

func New(engine *indexer.Indexer) *Server {
	s := &Server{engine: engine, router: mux.NewRouter()}
	s.router.Use(s.trace)
	s.router.HandleFunc("/health", s.health).Methods("GET")
	s.router.Handle("/metrics", promhttp.Handler()).Methods("GET")
	s.router.HandleFunc("/reindex", s.reindexAll).Methods("POST")
	s.router.HandleFunc("/collections/{collection}/update", s.update).Methods("POST")
	s.router.HandleFunc("/collections/{collection}/delete", s.delete).Methods("POST")
	s.router.HandleFunc("/collections/{collection}/reindex", s.reindex).Methods("POST")
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// trace tags every request with an id and logs how long it took. Callers
// that send their own X-Request-Id keep it, which lets the datastore's
// webhook log line up with ours.
func (s *Server) trace(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rid := r.Header.Get("X-Request-Id")
		if rid == "" {
			rid = uuid.NewString()
		}
		w.Header().Set("X-Request-Id", rid)
		start := time.Now()
		next.ServeHTTP(w, r)
		log.WithFields(logrus.Fields{
			"id":     rid,
			"method": r.Method,
			"path":   r.URL.Path,
			"took":   time.Since(start),
		}).Debug("Handled request")
	})
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	x.SetStatus(w, x.E_OK, "healthy")
}

func parseNotification(w http.ResponseWriter, r *http.Request) ([]interface{}, bool) {
	var n Notification
	if ok := x.ParseRequest(w, r, &n); !ok {
		return nil, false
	}
	if len(n.IDs) == 0 {
		x.SetStatusCode(w, http.StatusBadRequest, x.E_MISSING_REQUIRED, "No ids in request")
		return nil, false
	}
	return n.IDs, true
}

func (s *Server) update(w http.ResponseWriter, r *http.Request) {
	collection := mux.Vars(r)["collection"]
	ids, ok := parseNotification(w, r)
	if !ok {
		return
	}
	if err := s.engine.UpdateItems(r.Context(), collection, ids); err != nil {
		x.LogErr(log, err).WithField("collection", collection).
			Error("While updating items")
		x.SetStatusCode(w, http.StatusInternalServerError, x.E_ERROR, err.Error())
		return
	}
	x.SetStatus(w, x.E_OK, "Updated")
}

func (s *Server) delete(w http.ResponseWriter, r *http.Request) {
	collection := mux.Vars(r)["collection"]
	ids, ok := parseNotification(w, r)
	if !ok {
		return
	}
	if err := s.engine.DeleteItems(r.Context(), collection, ids); err != nil {
		x.LogErr(log, err).WithField("collection", collection).
			Error("While deleting items")
		x.SetStatusCode(w, http.StatusInternalServerError, x.E_ERROR, err.Error())
		return
	}
	x.SetStatus(w, x.E_OK, "Deleted")
}

// reindex rebuilds one collection's index from scratch, synchronously.
// Big collections take a while; callers should set generous timeouts.
func (s *Server) reindex(w http.ResponseWriter, r *http.Request) {
	collection := mux.Vars(r)["collection"]
	s.engine.EnsureIndex(r.Context(), collection)
	if err := s.engine.InitCollectionIndex(r.Context(), collection); err != nil {
		x.LogErr(log, err).WithField("collection", collection).
			Error("While reindexing collection")
		x.SetStatusCode(w, http.StatusInternalServerError, x.E_ERROR, err.Error())
		return
	}
	x.SetStatus(w, x.E_OK, "Reindexed")
}

func (s *Server) reindexAll(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.InitAllIndexes(r.Context()); err != nil {
		x.LogErr(log, err).Error("While reindexing all collections")
		x.SetStatusCode(w, http.StatusInternalServerError, x.E_ERROR, err.Error())
		return
	}
	x.SetStatus(w, x.E_OK, "Reindexed")
}
