package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/tidestore/tidestore/pkg/auth"
	"github.com/tidestore/tidestore/pkg/download"
	"github.com/tidestore/tidestore/pkg/folder"
	"github.com/tidestore/tidestore/pkg/quota"
	"github.com/tidestore/tidestore/pkg/ratelimit"
	"github.com/tidestore/tidestore/pkg/store/blob"
	"github.com/tidestore/tidestore/pkg/store/metadata"
	"github.com/tidestore/tidestore/pkg/store/volatile"
	"github.com/tidestore/tidestore/pkg/upload"
)

// Deps carries everything the router wires into handlers.
type Deps struct {
	Meta     *metadata.Store
	Cache    volatile.Store
	Blobs    *blob.Backend
	Uploads  *upload.Engine
	Download *download.Engine
	Folders  *folder.Tree
	Quota    *quota.Accountant
	Auth     *auth.Service
	Limiter  *ratelimit.Limiter
	Gate     *ratelimit.AbuseGate

	// ChunkSize caps chunk request bodies.
	ChunkSize int64
}

// NewRouter builds the chi router with the full middleware stack and routes.
//
// Middleware order matters: request IDs and real IPs come first so logging
// and the abuse gate see them; the abuse gate runs before authentication so
// blocked IPs cannot burn token verification; rate limits apply per route
// group after the principal is known.
func NewRouter(d Deps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(blockAbusers(d.Gate))
	r.Use(authenticate(d.Auth))

	uploads := newUploadHandler(d.Uploads, d.Gate, d.ChunkSize)
	downloads := newDownloadHandler(d.Download)
	folders := newFolderHandler(d.Folders)
	accounts := newAuthHandler(d.Auth, d.Quota)
	system := newSystemHandler(d.Meta, d.Cache, d.Blobs)

	r.Route("/health", func(r chi.Router) {
		r.Get("/", system.Liveness)
		r.Get("/ready", system.Readiness)
		r.Get("/stats", system.Stats)
	})

	r.Route("/api", func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			r.Use(rateLimit(d.Limiter, ratelimit.TypeAuth))
			r.Post("/register", accounts.Register)
			r.Post("/login", accounts.Login)
			r.Group(func(r chi.Router) {
				r.Use(requireAuth)
				r.Post("/refresh", accounts.Refresh)
				r.Post("/logout", accounts.Logout)
				r.Get("/quota", accounts.Quota)
			})
		})

		r.Route("/uploads", func(r chi.Router) {
			r.Use(requireAuth)
			r.Use(rateLimit(d.Limiter, ratelimit.TypeUpload))
			r.Use(middleware.Timeout(5 * time.Minute))
			r.Post("/", uploads.Init)
			r.Route("/{sessionID}", func(r chi.Router) {
				r.Get("/", uploads.Status)
				r.Get("/resume", uploads.Resume)
				r.Post("/chunks/{index}", uploads.Chunk)
				r.Post("/complete", uploads.Complete)
				r.Delete("/", uploads.Abort)
			})
		})

		// Downloads stay open to anonymous callers; public files are
		// reachable without a token
		r.Group(func(r chi.Router) {
			r.Use(rateLimit(d.Limiter, ratelimit.TypeDownload))
			r.Get("/files/{fileID}/download", downloads.Get)
		})

		r.Route("/folders", func(r chi.Router) {
			r.Use(requireAuth)
			r.Post("/", folders.Create)
			r.Get("/", folders.List)
			r.Get("/contents", folders.Contents)
			r.Route("/{folderID}", func(r chi.Router) {
				r.Get("/contents", folders.Contents)
				r.Post("/move", folders.Move)
				r.Post("/rename", folders.Rename)
				r.Delete("/", folders.Delete)
			})
		})

		r.Group(func(r chi.Router) {
			r.Use(requireAuth)
			r.Post("/files/{fileID}/move", folders.MoveFile)
		})
	})

	return r
}
