package service

import (
	"errors"
	"time"

	"github.com/zlnvch/learnlink/cache"
	"github.com/zlnvch/learnlink/mq"
	"github.com/zlnvch/learnlink/store"
	"github.com/zlnvch/learnlink/worker"
	"golang.org/x/oauth2"
)

const (
	defaultTokenTTL        = 24 * time.Hour
	defaultMaxBoardStrokes = 1000
	defaultPointThrottle   = 16 * time.Millisecond
)

// Options carries the tunables of the service. Zero values fall back to
// the defaults above, except JWTSecret which is required.
type Options struct {
	OAuthConfigs    map[string]*oauth2.Config
	JWTSecret       []byte
	TokenTTL        time.Duration
	Meeting         MeetingOptions
	PointThrottle   time.Duration
	MaxBoardStrokes int
}

type Service struct {
	Store           store.ClassroomStore
	Cache           cache.ClassroomCache
	MQ              mq.MessageQueue
	StrokeBatcher   *worker.StrokeBatcher
	CounterBatcher  *worker.CounterBatcher
	OAuthConfigs    map[string]*oauth2.Config
	JWTSecret       []byte
	TokenTTL        time.Duration
	Meeting         MeetingOptions
	PointThrottle   time.Duration
	MaxBoardStrokes int
}

func NewService(
	store store.ClassroomStore,
	cache cache.ClassroomCache,
	mq mq.MessageQueue,
	strokeBatcher *worker.StrokeBatcher,
	counterBatcher *worker.CounterBatcher,
	opts Options,
) (*Service, error) {
	if len(opts.JWTSecret) == 0 {
		return nil, errors.New("jwt secret is required")
	}

	oauthConfigs, err := addOauthEndpointsAndScopes(opts.OAuthConfigs)
	if err != nil {
		return nil, err
	}

	if opts.TokenTTL <= 0 {
		opts.TokenTTL = defaultTokenTTL
	}
	if opts.PointThrottle <= 0 {
		opts.PointThrottle = defaultPointThrottle
	}
	if opts.MaxBoardStrokes <= 0 {
		opts.MaxBoardStrokes = defaultMaxBoardStrokes
	}

	return &Service{
		Store:           store,
		Cache:           cache,
		MQ:              mq,
		StrokeBatcher:   strokeBatcher,
		CounterBatcher:  counterBatcher,
		OAuthConfigs:    oauthConfigs,
		JWTSecret:       opts.JWTSecret,
		TokenTTL:        opts.TokenTTL,
		Meeting:         opts.Meeting.withDefaults(),
		PointThrottle:   opts.PointThrottle,
		MaxBoardStrokes: opts.MaxBoardStrokes,
	}, nil
}
