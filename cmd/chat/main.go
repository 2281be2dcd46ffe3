package main

import (
	"log"

	"forum-chat/internal/client"
)

func main() {
	cfg := client.LoadConfig()

	app, err := client.NewApp(cfg)
	if err != nil {
		log.Fatalf("start client: %v", err)
	}
	app.Start()
	client.WaitForShutdown(app)
}
