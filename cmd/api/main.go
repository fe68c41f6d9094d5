package main

import (
	"log"
	"net/http"

	"github.com/punchamoorthee/payflow/internal/api"
	"github.com/punchamoorthee/payflow/internal/config"
	"github.com/punchamoorthee/payflow/internal/service"
	"github.com/punchamoorthee/payflow/internal/session"
	"github.com/punchamoorthee/payflow/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}

	db, err := store.NewStore(cfg.DBSource)
	if err != nil {
		log.Fatalf("Unable to connect to database: %v", err)
	}
	defer db.Close()

	creds, err := store.NewCredentialStore(cfg.RedisAddr, cfg.RedisPassword)
	if err != nil {
		log.Fatalf("Unable to connect to redis: %v", err)
	}
	defer creds.Close()

	// Initialize Layers
	lockdown := session.NewLockdown()
	sessions := session.NewManager(creds, lockdown,
		cfg.AccessTokenSecret, cfg.RefreshTokenSecret,
		cfg.AccessTokenTTL, cfg.RefreshTokenTTL)
	users := service.NewUserService(db)
	transfers := service.NewTransferService(db.Db)

	handler := api.NewHandler(sessions, users, transfers, db, lockdown, cfg.Env != "development")
	router := api.NewRouter(handler)

	log.Printf("Server starting on :%s", cfg.Port)
	if err := http.ListenAndServe(":"+cfg.Port, router); err != nil {
		log.Fatal(err)
	}
}
