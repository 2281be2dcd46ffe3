package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/httplog"

	"forum-chat/internal/forumdb"
	"forum-chat/internal/forumserver"
	"forum-chat/internal/hub"
	"forum-chat/internal/storage"
)

const shutdownGrace = 10 * time.Second

func main() {
	addr := flag.String("addr", ":8080", "listen address")
	uploadDir := flag.String("upload-dir", "uploads", "directory for image uploads")
	uploadDB := flag.String("upload-db", "uploads.db", "upload metadata database path")
	flag.Parse()

	logger := httplog.NewLogger("forumd", httplog.Options{JSON: false})

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		log.Fatal("DATABASE_URL not set")
	}
	db, err := forumdb.Open(dbURL)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer db.Close()

	uploads, err := storage.OpenUploadStore(*uploadDB, *uploadDir)
	if err != nil {
		log.Printf("upload store unavailable (%v); image uploads disabled", err)
		uploads = nil
	} else {
		defer uploads.Close()
	}

	h := hub.New()
	srv := forumserver.New(db, h, uploads)

	httpServer := &http.Server{
		Addr:    *addr,
		Handler: httplog.RequestLogger(logger)(srv.Router()),
	}

	go func() {
		log.Printf("forum server running at %s", *addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("forum server stopped: %v", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	log.Print("shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		log.Printf("http shutdown: %v", err)
	}
	h.Shutdown()
	log.Printf("hub stats at exit: %s", h.Metrics().String())
}
