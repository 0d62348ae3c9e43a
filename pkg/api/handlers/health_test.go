package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestHealth_ReturnsOK(t *testing.T) {
	handler := NewHealthHandler("1.2.3", func() int { return 4 })
	req := httptest.NewRequest("GET", "/health", nil)
	w := httptest.NewRecorder()

	handler.Health(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected status %d, got %d", http.StatusOK, w.Code)
	}

	var resp Response
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}

	if resp.Status != "healthy" {
		t.Errorf("Expected status 'healthy', got '%s'", resp.Status)
	}

	data, ok := resp.Data.(map[string]interface{})
	if !ok {
		t.Fatalf("Expected Data to be a map, got %T", resp.Data)
	}
	if data["service"] != "canvasd" {
		t.Errorf("Expected service 'canvasd', got '%v'", data["service"])
	}
	if data["version"] != "1.2.3" {
		t.Errorf("Expected version '1.2.3', got '%v'", data["version"])
	}
	if data["sessions"] != float64(4) {
		t.Errorf("Expected 4 sessions, got '%v'", data["sessions"])
	}

	featureList, ok := data["features"].([]interface{})
	if !ok || len(featureList) == 0 {
		t.Fatalf("Expected a non-empty features list, got %v", data["features"])
	}
}

func TestHealth_NilSessionCounter(t *testing.T) {
	handler := NewHealthHandler("dev", nil)
	req := httptest.NewRequest("GET", "/health", nil)
	w := httptest.NewRecorder()

	handler.Health(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected status %d, got %d", http.StatusOK, w.Code)
	}
}
