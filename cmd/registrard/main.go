package main

import (
	"context"
	"log"
	"os"

	"registrar/internal/config"
	"registrar/internal/daemonrun"
)

func main() {
	cfg, _, _, err := config.Load(configPathFromEnv(os.Getenv))
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	if err := daemonrun.Run(context.Background(), cfg, runOptions(os.Getenv)); err != nil {
		log.Fatalf("registrard: %v", err)
	}
}
