package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"testing"

	"github.com/gofiber/fiber/v2"
)

func TestHealthIntegration_LivezAndReadyz(t *testing.T) {
	t.Parallel()

	app := fiber.New()
	app.Get("/livez", LivezHandler())
	app.Get("/readyz", ReadyzHandler([]HealthCheck{
		{Name: "postgres", Ping: func(ctx context.Context) error { return nil }},
		{Name: "redis", Ping: func(ctx context.Context) error { return nil }},
	}))

	resp, _ := performRequest(t, app, http.MethodGet, "/livez", "")
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("livez status = %d, want 200", resp.StatusCode)
	}

	resp, body := performRequest(t, app, http.MethodGet, "/readyz", "")
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("readyz status = %d, want 200, body=%s", resp.StatusCode, string(body))
	}

	var payload struct {
		Status string            `json:"status"`
		Checks map[string]string `json:"checks"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		t.Fatalf("json unmarshal error = %v", err)
	}
	if payload.Status != "ready" {
		t.Fatalf("status = %q, want ready", payload.Status)
	}
	if payload.Checks["postgres"] != "ok" || payload.Checks["redis"] != "ok" {
		t.Fatalf("checks = %v, want all ok", payload.Checks)
	}
}

func TestHealthIntegration_ReadyzDependencyDown(t *testing.T) {
	t.Parallel()

	app := fiber.New()
	app.Get("/readyz", ReadyzHandler([]HealthCheck{
		{Name: "postgres", Ping: func(ctx context.Context) error { return nil }},
		{Name: "redis", Ping: func(ctx context.Context) error { return fmt.Errorf("connection refused") }},
	}))

	resp, body := performRequest(t, app, http.MethodGet, "/readyz", "")
	if resp.StatusCode != fiber.StatusServiceUnavailable {
		t.Fatalf("readyz status = %d, want 503", resp.StatusCode)
	}

	var payload struct {
		Status string            `json:"status"`
		Checks map[string]string `json:"checks"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		t.Fatalf("json unmarshal error = %v", err)
	}
	if payload.Status != "not_ready" {
		t.Fatalf("status = %q, want not_ready", payload.Status)
	}
	if payload.Checks["redis"] != "down" {
		t.Fatalf("redis check = %q, want down", payload.Checks["redis"])
	}
}
