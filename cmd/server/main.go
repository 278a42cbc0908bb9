package main

import (
	"net/http"
	"time"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"

	"blog/internal/app"
	"blog/internal/db"
	httpx "blog/internal/http"
)

func main() {
	_ = godotenv.Load() // allow .env for local runs

	cfg, err := app.LoadConfig()
	app.Must(err)

	d, err := db.Open(cfg.DatabaseURL)
	app.Must(err)
	app.Must(db.Migrate(d, "migrations"))

	srv := &http.Server{
		Addr:    cfg.Addr,
		Handler: httpx.NewServer(d, cfg),

		IdleTimeout:  time.Minute,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	log.WithField("addr", cfg.Addr).Info("listening")
	app.Must(srv.ListenAndServe())
}
