// Package api exposes the job manager over HTTP.
package api

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
)

// Encoder is a response body.
type Encoder interface {
	Encode() (data []byte, contentType string, err error)
}

// HandlerFunc handles a request and returns the response to write.
type HandlerFunc func(ctx context.Context, r *http.Request) Encoder

// MidFunc wraps a HandlerFunc.
type MidFunc func(HandlerFunc) HandlerFunc

type httpStatus interface {
	HTTPStatus() int
}

type httpHeader interface {
	Header() http.Header
}

// App binds HandlerFuncs to a ServeMux and writes their responses.
type App struct {
	mux *http.ServeMux
	log *slog.Logger
	mw  []MidFunc
}

// NewApp creates an App applying mw to every handler, first one outermost.
func NewApp(log *slog.Logger, mw ...MidFunc) *App {
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &App{mux: http.NewServeMux(), log: log, mw: mw}
}

// HandlerFunc registers handler for method and path.
func (a *App) HandlerFunc(method, path string, handler HandlerFunc, mw ...MidFunc) {
	handler = wrap(mw, handler)
	handler = wrap(a.mw, handler)

	a.mux.HandleFunc(method+" "+path, func(w http.ResponseWriter, r *http.Request) {
		resp := handler(r.Context(), r)
		if err := respond(w, resp); err != nil {
			a.log.Error("failed to write response", "path", r.URL.Path, "error", err)
		}
	})
}

// Handle registers a plain http.Handler.
func (a *App) Handle(method, path string, h http.Handler) {
	a.mux.Handle(method+" "+path, h)
}

// ServeHTTP implements http.Handler.
func (a *App) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	a.mux.ServeHTTP(w, r)
}

func wrap(mw []MidFunc, handler HandlerFunc) HandlerFunc {
	for i := len(mw) - 1; i >= 0; i-- {
		if mw[i] != nil {
			handler = mw[i](handler)
		}
	}
	return handler
}

func respond(w http.ResponseWriter, resp Encoder) error {
	if resp == nil {
		w.WriteHeader(http.StatusNoContent)
		return nil
	}

	data, contentType, err := resp.Encode()
	if err != nil {
		http.Error(w, "failed to encode response", http.StatusInternalServerError)
		return err
	}

	status := http.StatusOK
	if s, ok := resp.(httpStatus); ok {
		status = s.HTTPStatus()
	}
	if h, ok := resp.(httpHeader); ok {
		for k, v := range h.Header() {
			w.Header()[k] = v
		}
	}
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(status)

	_, err = w.Write(data)
	return err
}

// Param returns the named path wildcard.
func Param(r *http.Request, name string) string {
	return r.PathValue(name)
}

// jsonResponse encodes any value as JSON.
type jsonResponse struct {
	status int
	value  any
}

func (j jsonResponse) Encode() ([]byte, string, error) {
	data, err := json.Marshal(j.value)
	if err != nil {
		return nil, "", err
	}
	return data, "application/json", nil
}

func (j jsonResponse) HTTPStatus() int {
	if j.status == 0 {
		return http.StatusOK
	}
	return j.status
}

// attachment is a downloadable file body.
type attachment struct {
	name        string
	contentType string
	data        []byte
}

func (a attachment) Encode() ([]byte, string, error) {
	return a.data, a.contentType, nil
}

func (a attachment) Header() http.Header {
	h := http.Header{}
	h.Set("Content-Disposition", `attachment; filename="`+a.name+`"`)
	return h
}
