package main

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/gorilla/mux"
	"github.com/lmittmann/tint"

	"github.com/fixkar/hubble/handler"
)

func init() {
	requiredEnvVars := []string{
		"SLACK_BOT_TOKEN",
		"SLACK_SIGNING_SECRET",
	}
	for _, v := range requiredEnvVars {
		if os.Getenv(v) == "" {
			fmt.Fprintf(os.Stderr, "%s is not set\n", v)
			os.Exit(1)
		}
	}

	level := slog.LevelInfo
	if os.Getenv("DEBUG") != "" {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(tint.NewHandler(os.Stderr, &tint.Options{
		Level:      level,
		TimeFormat: time.Kitchen,
	})))
}

func main() {
	h, err := handler.NewHandler()
	if err != nil {
		slog.Error("failed to initialize handler", slog.Any("err", err))
		os.Exit(1)
	}

	r := mux.NewRouter()
	r.HandleFunc("/slack/events", h.HandleSlackEvents).Methods(http.MethodPost)
	r.HandleFunc("/slack/interactive", h.HandleInteractions).Methods(http.MethodPost)
	r.HandleFunc("/slack/commands", h.HandleCommands).Methods(http.MethodPost)
	r.HandleFunc("/tickets", h.HandleTickets).Methods(http.MethodGet)
	r.HandleFunc("/health", h.HandleHealth).Methods(http.MethodGet)

	port := os.Getenv("PORT")
	if port == "" {
		port = "3000"
	}

	srv := &http.Server{
		Addr:         ":" + port,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 15 * time.Second,
	}
	slog.Info("listening", slog.String("addr", srv.Addr))
	if err := srv.ListenAndServe(); err != nil {
		slog.Error("server stopped", slog.Any("err", err))
		os.Exit(1)
	}
}
