package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/gorilla/mux"
	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/PaulBabatuyi/realtyhub/internal/apperr"
)

const maxBodyBytes = 1 << 20

type errorBody struct {
	Msg    string             `json:"msg"`
	Errors apperr.FieldErrors `json:"errors,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := apperr.Status(err)
	body := errorBody{Msg: apperr.Message(err)}
	var fe apperr.FieldErrors
	if errors.As(err, &fe) {
		body.Errors = fe
	}
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "err", err)
	}
	writeJSON(w, status, body)
}

// writeResult answers with v, or with 207 and the error message when err
// reports that the operation only partly applied.
func (s *Server) writeResult(w http.ResponseWriter, r *http.Request, status int, v any, err error) {
	if err == nil {
		writeJSON(w, status, v)
		return
	}
	if errors.Is(err, apperr.ErrPartialFailure) {
		s.logger.Warn("partial failure", "method", r.Method, "path", r.URL.Path, "err", err)
		writeJSON(w, http.StatusMultiStatus, map[string]any{"msg": err.Error(), "result": v})
		return
	}
	s.writeError(w, r, err)
}

func decode(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("%w: malformed body: %v", apperr.ErrInvalidInput, err)
	}
	return nil
}

// pathID parses an id from the route. A malformed id names nothing, so it
// is reported as not found.
func pathID(r *http.Request, name string) (bson.ObjectID, error) {
	id, err := bson.ObjectIDFromHex(mux.Vars(r)[name])
	if err != nil {
		return bson.ObjectID{}, fmt.Errorf("%s %w", name, apperr.ErrNotFound)
	}
	return id, nil
}

func queryID(r *http.Request, name string) (*bson.ObjectID, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return nil, nil
	}
	id, err := bson.ObjectIDFromHex(v)
	if err != nil {
		return nil, apperr.FieldErrors{{Field: name, Msg: "is not a valid id"}}
	}
	return &id, nil
}
