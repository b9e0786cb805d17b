package api

import (
	"context"
	"log"
	"net/http"

	"github.com/rs/cors"
	"github.com/zlnvch/learnlink/api/rest"
	"github.com/zlnvch/learnlink/api/ws"
	"github.com/zlnvch/learnlink/cache"
	"github.com/zlnvch/learnlink/config"
	"github.com/zlnvch/learnlink/mq"
	"github.com/zlnvch/learnlink/service"
	"github.com/zlnvch/learnlink/store"
	"github.com/zlnvch/learnlink/worker"
	"golang.org/x/oauth2"
)

type ClassroomAPI struct {
	restHandler *rest.Handler
	wsHandler   *ws.Handler
	shutdownCtx context.Context
}

func NewClassroomAPI(
	cfg *config.Config,
	classroomStore store.ClassroomStore,
	purgeQueue mq.MessageQueue,
	classroomCache cache.ClassroomCache,
	oauthConfigs map[string]*oauth2.Config,
	shutdownCtx context.Context,
) (*ClassroomAPI, error) {
	wsHub := ws.NewHub(classroomCache)
	err := wsHub.InitSubscriptions(shutdownCtx)
	if err != nil {
		log.Printf("Failed to start WS Hub subscriptions service: %v", err)
		return &ClassroomAPI{}, err
	}
	go wsHub.Run(shutdownCtx)

	counterBatcher := worker.NewCounterBatcher(classroomStore, cfg.Whiteboard.CounterFlushInterval)
	go counterBatcher.Run(shutdownCtx)

	strokeBatcher := worker.NewStrokeBatcher(classroomStore, cfg.Whiteboard.StrokeFlushInterval, counterBatcher)
	go strokeBatcher.Run(shutdownCtx)

	mqConsumer := worker.NewMQConsumer(purgeQueue, classroomStore, classroomCache)
	go mqConsumer.Run(shutdownCtx)

	svc, err := service.NewService(
		classroomStore,
		classroomCache,
		purgeQueue,
		strokeBatcher,
		counterBatcher,
		service.Options{
			OAuthConfigs: oauthConfigs,
			JWTSecret:    cfg.Auth.JWTSecret,
			TokenTTL:     cfg.Auth.TokenTTL,
			Meeting: service.MeetingOptions{
				BaseURL:   cfg.Meeting.BaseURL,
				Host:      cfg.Meeting.LiveKitHost,
				APIKey:    cfg.Meeting.LiveKitAPIKey,
				APISecret: cfg.Meeting.LiveKitSecret,
				TokenTTL:  cfg.Meeting.TokenTTL,
			},
			PointThrottle:   cfg.Whiteboard.PointThrottle,
			MaxBoardStrokes: cfg.Whiteboard.MaxBoardStrokes,
		},
	)
	if err != nil {
		log.Printf("Failed to create service: %v", err)
		return &ClassroomAPI{}, err
	}

	return &ClassroomAPI{
		restHandler: rest.NewHandler(svc),
		wsHandler:   ws.NewHandler(svc, wsHub),
		shutdownCtx: shutdownCtx,
	}, nil
}

// RegisterRoutes mounts the REST and websocket endpoints. allowedOrigin is
// the only origin allowed to open a websocket.
func (classroomAPI *ClassroomAPI) RegisterRoutes(mux *http.ServeMux, allowedOrigin string) {
	h := classroomAPI.restHandler

	// Health check endpoint (no auth required)
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	mux.HandleFunc("POST /auth/signup", h.HandleSignUp)
	mux.HandleFunc("POST /auth/login", h.HandleLogin)
	mux.HandleFunc("POST /auth/oauth", h.HandleOAuthLogin)

	mux.HandleFunc("GET /me", h.HandleGetMe)
	mux.HandleFunc("DELETE /me", h.HandleDeleteMe)

	mux.HandleFunc("GET /sessions", h.HandleListSessions)
	mux.HandleFunc("POST /sessions", h.HandleCreateSession)
	mux.HandleFunc("GET /sessions/{id}", h.HandleGetSession)
	mux.HandleFunc("POST /sessions/{id}/end", h.HandleEndSession)
	mux.HandleFunc("DELETE /sessions/{id}", h.HandleDeleteSession)
	mux.HandleFunc("POST /sessions/{id}/meeting", h.HandleJoinMeeting)
	mux.HandleFunc("GET /sessions/{id}/board", h.HandleGetBoard)

	wsUpgrader := classroomAPI.wsHandler.NewWsUpgrader(allowedOrigin)
	mux.HandleFunc("GET /ws", func(w http.ResponseWriter, r *http.Request) {
		classroomAPI.wsHandler.ServeWS(wsUpgrader, w, r, classroomAPI.shutdownCtx)
	})
}

// WithCORS lets the web app at allowedOrigin call the API from the browser.
// Preflight requests are answered here and never reach the mux.
func WithCORS(allowedOrigin string, next http.Handler) http.Handler {
	return cors.New(cors.Options{
		AllowedOrigins: []string{allowedOrigin},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete},
		AllowedHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:         600,
	}).Handler(next)
}
