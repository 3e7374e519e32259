package main

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

type healthBody struct {
	Connected   bool   `json:"connected"`
	Subscribers int    `json:"subscribers"`
	Attempts    int    `json:"attempts"`
	Error       string `json:"error,omitempty"`
}

func writeHealth(w http.ResponseWriter, connected bool, subscribers, attempts int, errText string) {
	body := healthBody{Connected: connected, Subscribers: subscribers, Attempts: attempts, Error: errText}
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Error("encoding health response", "error", err)
	}
}
