package middleware

import (
	"io"
	"net/http"
	"strings"
	"sync"

	"m3u-catalog/work/logger"

	"github.com/klauspost/compress/gzip"
)

// gzipWriterPool keeps BestSpeed gzip writers for reuse across responses.
var gzipWriterPool = sync.Pool{
	New: func() interface{} {
		w, _ := gzip.NewWriterLevel(io.Discard, gzip.BestSpeed)
		return w
	},
}

// gzipResponseWriter compresses the body once a status that allows one
// has been written. The gzip writer is only taken from the pool on the
// first body write, so 304 and 204 responses stay empty.
type gzipResponseWriter struct {
	http.ResponseWriter
	gz          *gzip.Writer
	wroteHeader bool
	bypass      bool
}

func (w *gzipResponseWriter) WriteHeader(status int) {
	if w.wroteHeader {
		return
	}
	w.wroteHeader = true

	if status < http.StatusOK || status == http.StatusNoContent || status == http.StatusNotModified {
		w.bypass = true
	} else {
		w.Header().Set("Content-Encoding", "gzip")
		w.Header().Del("Content-Length")
	}
	w.ResponseWriter.WriteHeader(status)
}

func (w *gzipResponseWriter) Write(b []byte) (int, error) {
	if !w.wroteHeader {
		w.WriteHeader(http.StatusOK)
	}
	if w.bypass {
		return w.ResponseWriter.Write(b)
	}
	if w.gz == nil {
		w.gz = gzipWriterPool.Get().(*gzip.Writer)
		w.gz.Reset(w.ResponseWriter)
	}
	return w.gz.Write(b)
}

// Flush pushes buffered compressed data and then flushes the connection.
func (w *gzipResponseWriter) Flush() {
	if w.gz != nil {
		w.gz.Flush()
	}
	if flusher, ok := w.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func (w *gzipResponseWriter) close(r *http.Request) {
	if w.gz == nil {
		return
	}
	if err := w.gz.Close(); err != nil {
		logger.Error("{middleware/compression - close} failed to close gzip writer for: %s %s - %v", r.Method, r.URL.Path, err)
	}
	gzipWriterPool.Put(w.gz)
	w.gz = nil
}

// Gzip wraps a handler with transparent gzip response compression for
// clients that advertise it. It fits mux.Router.Use.
func Gzip(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Add("Vary", "Accept-Encoding")

		if !strings.Contains(r.Header.Get("Accept-Encoding"), "gzip") {
			next.ServeHTTP(w, r)
			return
		}

		gzw := &gzipResponseWriter{ResponseWriter: w}
		defer gzw.close(r)

		next.ServeHTTP(gzw, r)
	})
}

// GzipMiddleware is Gzip for a plain HandlerFunc.
func GzipMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return Gzip(next).ServeHTTP
}
