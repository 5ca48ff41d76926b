package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"serve-chroot/apps"
	"serve-chroot/authority"
	"serve-chroot/pkgmgr"
	"serve-chroot/session"
)

// AppDirectory is the source of launchable applications.
type AppDirectory interface {
	List() []apps.Application
	Reload() error
}

// PackageManager searches, installs and removes system packages.
type PackageManager interface {
	Search(ctx context.Context, term string, emit func(pkgmgr.Package)) error
	Install(ctx context.Context, names string, sink pkgmgr.Sink) error
	Delete(ctx context.Context, names string, purge bool, sink pkgmgr.Sink) error
}

var (
	_ AppDirectory   = (*apps.Directory)(nil)
	_ PackageManager = (*pkgmgr.Manager)(nil)
)

func RegisterRoutes(manager *session.Manager, coord *authority.Coordinator, directory AppDirectory, packages PackageManager, log zerolog.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(requestLogger(log))
	r.Use(middleware.Recoverer)

	h := &handler{
		manager:   manager,
		coord:     coord,
		directory: directory,
		packages:  packages,
		log:       log,
	}

	// Control channel
	r.Get("/", h.handleWS)

	// Views
	r.Get("/healthz", h.health)
	r.Get("/api/sessions", h.listSessions)
	r.Delete("/api/sessions/{id}", h.deleteSession)

	return r
}

type handler struct {
	manager   *session.Manager
	coord     *authority.Coordinator
	directory AppDirectory
	packages  PackageManager
	log       zerolog.Logger
}

// requestLogger logs every request once it has been served.
func requestLogger(log zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			log.Debug().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Str("remote", r.RemoteAddr).
				Int("status", ww.Status()).
				Dur("took", time.Since(start)).
				Msg("request")
		})
	}
}
