package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/golang/glog"
	"github.com/gorilla/mux"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	idb "sehlabs.com/mvccdb/internal/db"
)

func speakPlainTextTo(w http.ResponseWriter) {
	w.Header().Add("Content-Type", "text/plain")
}

func speakJSONTo(w http.ResponseWriter) {
	w.Header().Add("Content-Type", "application/json")
}

func respondWithError(w http.ResponseWriter, err error) {
	statusCode := http.StatusInternalServerError
	switch {
	case errors.Is(err, idb.ErrWriteConflict):
		statusCode = http.StatusConflict
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		statusCode = http.StatusServiceUnavailable
	default:
		glog.Errorf("request failed: %v", err)
	}
	speakPlainTextTo(w)
	w.WriteHeader(statusCode)
	fmt.Fprintln(w, err)
}

// statusRecorder remembers the status code written through it.
type statusRecorder struct {
	http.ResponseWriter
	code int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.code = code
	r.ResponseWriter.WriteHeader(code)
}

type server struct {
	db            *idb.Database
	retryAttempts int
	metrics       *metrics
}

func (s *server) instrument(op string, h func(context.Context, http.ResponseWriter, *http.Request)) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		began := time.Now()
		rec := &statusRecorder{ResponseWriter: w, code: http.StatusOK}
		h(req.Context(), rec, req)
		s.metrics.observe(op, rec.code, began)
	}
}

func (s *server) getTargetKey(w http.ResponseWriter, req *http.Request) (idb.Key, bool) {
	raw := mux.Vars(req)["key"]
	n, err := strconv.Atoi(raw)
	if err == nil && n >= 0 && n < s.db.Size() {
		return idb.Key(n), true
	}
	speakPlainTextTo(w)
	w.WriteHeader(http.StatusBadRequest)
	fmt.Fprintf(w, "Key %q must be an integer in [0, %d)\n", raw, s.db.Size())
	return 0, false
}

func (s *server) handleGet(ctx context.Context, w http.ResponseWriter, req *http.Request) {
	key, ok := s.getTargetKey(w, req)
	if !ok {
		return
	}
	var (
		recordExists bool
		value        idb.Value
	)
	if err := s.db.WithinTransaction(ctx, func(ctx context.Context, tx *idb.Transaction) (bool, error) {
		v, err := s.db.Get(ctx, tx, key)
		if errors.Is(err, idb.ErrNotFound) {
			return false, nil
		}
		if err != nil {
			return false, err
		}
		recordExists = true
		value = v
		// Don't bother trying to commit anything.
		return false, nil
	}); err != nil {
		respondWithError(w, err)
		return
	}
	if !recordExists {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	speakPlainTextTo(w)
	fmt.Fprintln(w, uint64(value))
}

func (s *server) handlePut(ctx context.Context, w http.ResponseWriter, req *http.Request) {
	if err := req.ParseForm(); err != nil {
		speakPlainTextTo(w)
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprintf(w, "Failed to parse HTTP form: %v\n", err)
		return
	}
	key, ok := s.getTargetKey(w, req)
	if !ok {
		return
	}
	const formKey = "value"
	raw := req.FormValue(formKey)
	n, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		speakPlainTextTo(w)
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprintf(w, "HTTP form key %q must be an unsigned integer, not %q\n", formKey, raw)
		return
	}
	if err := s.db.RetryOnConflict(ctx, s.retryAttempts, func(ctx context.Context, tx *idb.Transaction) (bool, error) {
		if err := s.db.Put(ctx, tx, key, idb.Value(n)); err != nil {
			if errors.Is(err, idb.ErrWriteConflict) {
				s.metrics.conflicts.Inc()
			}
			return false, err
		}
		return true, nil
	}); err != nil {
		respondWithError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type recordVersion struct {
	Creator uint64 `json:"creator"`
	// Absent while no later transaction has superseded the version.
	SupersededBy *uint64 `json:"superseded_by,omitempty"`
	Status       string  `json:"status"`
	Value        uint64  `json:"value"`
	Backup       uint64  `json:"backup"`
}

func (s *server) handleVersions(_ context.Context, w http.ResponseWriter, req *http.Request) {
	key, ok := s.getTargetKey(w, req)
	if !ok {
		return
	}
	records := s.db.Versions(key)
	versions := make([]recordVersion, len(records))
	for i, r := range records {
		v := recordVersion{
			Creator: uint64(r.Creator),
			Status:  s.db.TxManager().Status(r.Creator).String(),
			Value:   uint64(r.Value),
			Backup:  uint64(r.Backup),
		}
		if r.SupersededBy != idb.Unbounded {
			by := uint64(r.SupersededBy)
			v.SupersededBy = &by
		}
		versions[i] = v
	}
	speakJSONTo(w)
	if err := json.NewEncoder(w).Encode(versions); err != nil {
		glog.Warningf("failed to write versions of key %d: %v", key, err)
	}
}

func makeHandler(d *idb.Database, retryAttempts int, reg *prometheus.Registry) http.Handler {
	s := &server{
		db:            d,
		retryAttempts: retryAttempts,
		metrics:       newMetrics(reg, d),
	}
	r := mux.NewRouter()
	const recordPath = "/record/{key}"
	r.HandleFunc(recordPath, s.instrument("get", s.handleGet)).Methods(http.MethodGet)
	r.HandleFunc(recordPath, s.instrument("put", s.handlePut)).Methods(http.MethodPut)
	r.HandleFunc(recordPath+"/versions", s.instrument("versions", s.handleVersions)).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	return r
}
