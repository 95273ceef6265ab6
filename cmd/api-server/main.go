package main

import (
	"fmt"
	"log"

	"github.com/novalattasya/mixscrap/database"
	"github.com/novalattasya/mixscrap/internal/api"
	"github.com/novalattasya/mixscrap/internal/config"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("[Fatal] Failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("[Fatal] Invalid config: %v", err)
	}

	st, err := database.Open(cfg)
	if err != nil {
		log.Fatalf("[Fatal] Failed to initialize datastore: %v", err)
	}
	defer st.Close()

	server := api.NewServer(st)
	addr := fmt.Sprintf(":%d", cfg.HTTPPort)
	log.Printf("[API] Serving mirrored catalog on %s", addr)
	if err := server.Router().Run(addr); err != nil {
		log.Fatalf("[Fatal] HTTP server error: %v", err)
	}
}
