package main

import (
	"context"
	"net/http"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"yearlist/internal/albumid"
	"yearlist/internal/app/lists"
	"yearlist/internal/httpapi"
	"yearlist/internal/lockstate"
	"yearlist/internal/store"
)

func main() {
	cfg, err := loadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}
	setupLogging(cfg)

	db, err := openDatabase(context.Background(), cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("open database")
	}
	defer db.Close()

	guard := lockstate.New(db)
	resolver := albumid.New(db)
	dataStore := store.New(db, guard, resolver)

	// The play-history refresher is wired in deployments that carry the
	// scrobbling integration; without one the side effect is skipped.
	listSvc := lists.New(dataStore, nil, log.Logger)

	handler := httpapi.New(dataStore, listSvc).Routes()
	handler = httpapi.RequestLogging(httpapi.Recovery(handler))
	handler = httpapi.CORS(cfg.AllowedOrigins, handler)

	log.Info().Str("addr", cfg.Addr).Msg("API listening")
	if err := http.ListenAndServe(cfg.Addr, handler); err != nil {
		log.Fatal().Err(err).Msg("server error")
	}
}

func setupLogging(cfg Config) {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	logger := zerolog.New(os.Stdout)
	if cfg.LogFormat == "text" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})
	}
	log.Logger = logger.Level(level).With().Timestamp().Logger()
}
