package monitor

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/banshee-data/loam-mapper/internal/db"
	"github.com/banshee-data/loam-mapper/internal/lidar/l1packets/network"
	"github.com/banshee-data/loam-mapper/internal/lidar/l3grid"
	"github.com/banshee-data/loam-mapper/internal/lidar/l5tracks"
	"github.com/banshee-data/loam-mapper/internal/lidar/l6objects"

	_ "modernc.org/sqlite"
)

// setupTestDBWrapped creates a temporary SQLite database wrapped in *db.DB.
// Use this for tests that need WebServerConfig.DB.
func setupTestDBWrapped(t *testing.T) (*db.DB, func()) {
	t.Helper()

	tmpDir, err := os.MkdirTemp("", "webserver-test")
	if err != nil {
		t.Fatalf("Failed to create temp directory: %v", err)
	}

	dbPath := filepath.Join(tmpDir, "test.db")
	sqlDB, err := sql.Open("sqlite", dbPath)
	if err != nil {
		os.RemoveAll(tmpDir)
		t.Fatalf("Failed to open database: %v", err)
	}

	// Apply essential PRAGMAs
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA temp_store=MEMORY",
		"PRAGMA foreign_keys=ON",
	}
	for _, pragma := range pragmas {
		if _, err := sqlDB.Exec(pragma); err != nil {
			sqlDB.Close()
			os.RemoveAll(tmpDir)
			t.Fatalf("Failed to execute %q: %v", pragma, err)
		}
	}

	// Read and execute schema.sql
	schemaPath := filepath.Join("..", "..", "db", "schema.sql")
	schemaSQL, err := os.ReadFile(schemaPath)
	if err != nil {
		sqlDB.Close()
		os.RemoveAll(tmpDir)
		t.Fatalf("Failed to read schema.sql: %v", err)
	}

	if _, err := sqlDB.Exec(string(schemaSQL)); err != nil {
		sqlDB.Close()
		os.RemoveAll(tmpDir)
		t.Fatalf("Failed to execute schema.sql: %v", err)
	}

	wrapped := &db.DB{DB: sqlDB}
	cleanup := func() {
		sqlDB.Close()
		os.RemoveAll(tmpDir)
	}

	return wrapped, cleanup
}

// setupTestBackgroundManager creates a test BackgroundManager and registers it.
// Returns a cleanup function that should be deferred.
func setupTestBackgroundManager(t *testing.T, sensorID string) func() {
	t.Helper()
	// NewBackgroundManager automatically registers the manager
	_ = l3grid.NewBackgroundManager(sensorID, 128, 360, l3grid.BackgroundParams{}, nil)
	return func() {
		// Deregister by setting to nil
		l3grid.RegisterBackgroundManager(sensorID, nil)
	}
}

func TestNewWebServer(t *testing.T) {
	stats := NewPacketStats()

	config := WebServerConfig{
		Address:           ":0",
		Stats:             stats,
		ForwardingEnabled: true,
		ForwardAddr:       "localhost",
		ForwardPort:       2368,
		ParsingEnabled:    true,
		UDPPort:           2369,
		DB:                nil,
		UDPListenerConfig: network.UDPListenerConfig{Address: ":0"},
	}

	server := NewWebServer(config)

	if server == nil {
		t.Fatal("NewWebServer returned nil")
	}

	if server.stats != stats {
		t.Error("WebServer stats not set correctly")
	}

	if server.parsingEnabled != true {
		t.Error("WebServer parsingEnabled not set correctly")
	}

	if server.udpPort != 2369 {
		t.Error("WebServer udpPort not set correctly")
	}
}

func TestWebServer_StatusHandler(t *testing.T) {
	stats := NewPacketStats()

	config := WebServerConfig{
		Address:           ":0",
		Stats:             stats,
		ForwardingEnabled: false,
		ParsingEnabled:    true,
		UDPPort:           2369,
		DB:                nil,
		UDPListenerConfig: network.UDPListenerConfig{Address: ":0"},
	}

	server := NewWebServer(config)

	// Add some stats data
	stats.AddPacket(1262)
	stats.AddPoints(400)
	stats.LogStats(true)

	// Create a request to the status endpoint
	req, err := http.NewRequest("GET", "/", nil)
	if err != nil {
		t.Fatal(err)
	}

	// Create a ResponseRecorder to record the response
	rr := httptest.NewRecorder()

	// Call the handler through the mux
	mux := server.setupRoutes()
	mux.ServeHTTP(rr, req)

	// Check the status code
	if status := rr.Code; status != http.StatusOK {
		t.Errorf("Status handler returned wrong status code: got %v want %v",
			status, http.StatusOK)
	}

	// Check that the response contains expected content
	body := rr.Body.String()

	if !strings.Contains(body, "LiDAR Monitor") {
		t.Error("Response should contain 'LiDAR Monitor'")
	}

	if !strings.Contains(body, "2369") {
		t.Error("Response should contain the UDP port")
	}
}

func TestWebServer_HealthHandler(t *testing.T) {
	stats := NewPacketStats()

	config := WebServerConfig{
		Address:        ":0",
		Stats:          stats,
		ParsingEnabled: false,
		UDPPort:        2369,
		UDPListenerConfig: network.UDPListenerConfig{
			Address: ":0",
		},
	}

	server := NewWebServer(config)

	// Create a request to the health endpoint
	req, err := http.NewRequest("GET", "/health", nil)
	if err != nil {
		t.Fatal(err)
	}

	// Create a ResponseRecorder to record the response
	rr := httptest.NewRecorder()

	// Call the handler through the mux
	mux := server.setupRoutes()
	mux.ServeHTTP(rr, req)

	// Check the status code
	if status := rr.Code; status != http.StatusOK {
		t.Errorf("Health handler returned wrong status code: got %v want %v",
			status, http.StatusOK)
	}

	// Check the content type
	expected := "application/json"
	if ctype := rr.Header().Get("Content-Type"); ctype != expected {
		t.Errorf("Health handler returned wrong content type: got %v want %v",
			ctype, expected)
	}

	// Check that the response contains JSON
	body := rr.Body.String()

	if !strings.Contains(body, `"status": "ok"`) {
		t.Error("Response should contain status: ok (with spaces)")
	}

	if !strings.Contains(body, `"service": "lidar"`) {
		t.Error("Response should contain service: lidar (with spaces)")
	}
}

func TestWebServer_StartStop(t *testing.T) {
	stats := NewPacketStats()

	config := WebServerConfig{
		Address:        ":0", // Use port 0 to get an available port
		Stats:          stats,
		ParsingEnabled: true,
		UDPPort:        2369,
		DB:             nil,
		UDPListenerConfig: network.UDPListenerConfig{
			Address: ":0",
		},
	}

	server := NewWebServer(config)

	// Start server with context
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	startedChan := make(chan struct{})
	errChan := make(chan error, 1)

	// Enable debug logging only when ACTIONS_STEP_DEBUG is set (GitHub Actions debug mode)
	debugLog := func(format string, args ...interface{}) {
		if os.Getenv("ACTIONS_STEP_DEBUG") == "true" {
			t.Logf(format, args...)
		}
	}

	go func() {
		debugLog("Starting server in goroutine...")
		// Signal that we've started attempting to start the server
		close(startedChan)

		err := server.Start(ctx)
		debugLog("Server.Start() returned with error: %v", err)

		// Only report errors that aren't expected shutdown errors
		if err != nil && err != http.ErrServerClosed && !strings.Contains(err.Error(), "context canceled") {
			debugLog("Sending unexpected error to errChan: %v", err)
			errChan <- err
		} else {
			debugLog("Server stopped cleanly (err=%v)", err)
		}
	}()

	// Wait for the goroutine to start
	<-startedChan
	debugLog("Server goroutine started")

	// Give the server more time to fully initialize
	// The UDP listener and HTTP server need time to bind to ports
	time.Sleep(200 * time.Millisecond)
	debugLog("Waited for server initialization")

	// Cancel the context to stop the server
	debugLog("Cancelling context to stop server")
	cancel()

	// Wait for the server to stop
	time.Sleep(200 * time.Millisecond)
	debugLog("Waited for server shutdown")

	// Check if there were any startup errors
	select {
	case err := <-errChan:
		t.Fatalf("Server start failed: %v", err)
	default:
		debugLog("No unexpected errors - test passed")
		// No error, which is what we expect
	}
}

func TestWebServer_ForwardingConfig(t *testing.T) {
	stats := NewPacketStats()

	config := WebServerConfig{
		Address:           ":0",
		Stats:             stats,
		ForwardingEnabled: true,
		ForwardAddr:       "192.168.1.100",
		ForwardPort:       2370,
		ParsingEnabled:    false,
		UDPPort:           3000,
		DB:                nil,
		UDPListenerConfig: network.UDPListenerConfig{Address: ":0"},
	}

	server := NewWebServer(config)

	if !server.forwardingEnabled {
		t.Error("WebServer forwardingEnabled not set correctly")
	}

	if server.forwardAddr != "192.168.1.100" {
		t.Errorf("WebServer forwardAddr not set correctly: got %s, want 192.168.1.100", server.forwardAddr)
	}

	if server.forwardPort != 2370 {
		t.Errorf("WebServer forwardPort not set correctly: got %d, want 2370", server.forwardPort)
	}

	// Create a request to the status endpoint
	req, err := http.NewRequest("GET", "/", nil)
	if err != nil {
		t.Fatal(err)
	}

	// Create a ResponseRecorder to record the response
	rr := httptest.NewRecorder()

	// Call the handler
	mux := server.setupRoutes()
	mux.ServeHTTP(rr, req)

	// Check that the response contains forwarding info
	body := rr.Body.String()

	if !strings.Contains(body, "3000") {
		t.Error("Response should contain the correct UDP port")
	}
}

func TestWebServer_InvalidHTTPMethod(t *testing.T) {
	stats := NewPacketStats()

	config := WebServerConfig{
		Address:        ":0",
		Stats:          stats,
		ParsingEnabled: true,
		UDPPort:        2369,
		UDPListenerConfig: network.UDPListenerConfig{
			Address: ":0",
		},
	}

	server := NewWebServer(config)

	// Test POST request to status endpoint (should still work as it just shows the page)
	req, err := http.NewRequest("POST", "/", nil)
	if err != nil {
		t.Fatal(err)
	}

	rr := httptest.NewRecorder()
	mux := server.setupRoutes()
	mux.ServeHTTP(rr, req)

	// Should still return OK (the handler doesn't restrict methods)
	if status := rr.Code; status != http.StatusOK {
		t.Errorf("POST to status handler returned wrong status code: got %v want %v",
			status, http.StatusOK)
	}
}

func TestWebServer_DataSourceStatus(t *testing.T) {
	stats := NewPacketStats()
	config := WebServerConfig{
		Address:        ":0",
		Stats:          stats,
		ParsingEnabled: true,
		UDPPort:        2369,
		UDPListenerConfig: network.UDPListenerConfig{
			Address: ":0",
		},
	}
	server := NewWebServer(config)

	req := httptest.NewRequest(http.MethodGet, "/api/lidar/data_source", nil)
	rr := httptest.NewRecorder()

	server.handleDataSource(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 OK, got %d", rr.Code)
	}

	var resp map[string]interface{}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}

	if resp["data_source"] != string(DataSourceLive) {
		t.Errorf("expected data_source=live, got %v", resp["data_source"])
	}
}

func TestWebServer_DataSourceStatus_MethodNotAllowed(t *testing.T) {
	stats := NewPacketStats()
	config := WebServerConfig{
		Address:        ":0",
		Stats:          stats,
		ParsingEnabled: true,
		UDPPort:        2369,
		UDPListenerConfig: network.UDPListenerConfig{
			Address: ":0",
		},
	}
	server := NewWebServer(config)

	req := httptest.NewRequest(http.MethodPost, "/api/lidar/data_source", nil)
	rr := httptest.NewRecorder()

	server.handleDataSource(rr, req)

	if rr.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405 MethodNotAllowed, got %d", rr.Code)
	}
}

func BenchmarkWebServer_StatusHandler(b *testing.B) {
	stats := NewPacketStats()

	config := WebServerConfig{
		Address:           ":0",
		Stats:             stats,
		ParsingEnabled:    true,
		UDPPort:           2369,
		UDPListenerConfig: network.UDPListenerConfig{Address: ":0"},
	}

	server := NewWebServer(config)

	// Add some stats data
	stats.AddPacket(1262)
	stats.AddPoints(400)
	stats.LogStats(true)

	// Create a request
	req, err := http.NewRequest("GET", "/", nil)
	if err != nil {
		b.Fatal(err)
	}

	mux := server.setupRoutes()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		rr := httptest.NewRecorder()
		mux.ServeHTTP(rr, req)
	}
}

func BenchmarkWebServer_HealthHandler(b *testing.B) {
	stats := NewPacketStats()

	config := WebServerConfig{
		Address:           ":0",
		Stats:             stats,
		ParsingEnabled:    true,
		UDPPort:           2369,
		UDPListenerConfig: network.UDPListenerConfig{Address: ":0"},
	}

	server := NewWebServer(config)

	// Create a request
	req, err := http.NewRequest("GET", "/health", nil)
	if err != nil {
		b.Fatal(err)
	}

	mux := server.setupRoutes()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		rr := httptest.NewRecorder()
		mux.ServeHTTP(rr, req)
	}
}

// TestExportFrameSequenceASC_PathTraversal tests that path traversal attacks are prevented
// by the security fix for CodeQL Alert #29.
func TestExportFrameSequenceASC_PathTraversal(t *testing.T) {
	stats := NewPacketStats()

	config := WebServerConfig{
		Address:        ":0",
		Stats:          stats,
		ParsingEnabled: true,
		UDPPort:        2369,
		DB:             nil,
		UDPListenerConfig: network.UDPListenerConfig{
			Address: ":0",
		},
	}

	server := NewWebServer(config)
	mux := server.setupRoutes()

	// Test cases for path traversal attempts
	// These should all be sanitized or blocked
	testCases := []struct {
		name     string
		outDir   string
		sensorID string
		// We expect either 403 (path validation failure) or 404 (no FrameBuilder)
		// The key is that no directory should be created outside temp dir
		wantStatusNot2xx bool
	}{
		{
			name:             "path_traversal_with_parent_dirs",
			outDir:           "../../etc/malicious",
			sensorID:         "test-sensor",
			wantStatusNot2xx: true,
		},
		{
			name:             "path_traversal_absolute_path",
			outDir:           "/etc/passwd",
			sensorID:         "test-sensor",
			wantStatusNot2xx: true,
		},
		{
			name:             "path_traversal_multiple_dots",
			outDir:           "../../../tmp/../../etc",
			sensorID:         "test-sensor",
			wantStatusNot2xx: true,
		},
		{
			name:             "path_with_special_chars",
			outDir:           "test@#$%dir",
			sensorID:         "test-sensor",
			wantStatusNot2xx: true, // Will be sanitized and still fail due to no FrameBuilder
		},
		{
			name:             "normal_directory_name",
			outDir:           "valid_export_dir",
			sensorID:         "test-sensor",
			wantStatusNot2xx: true, // Will fail due to no FrameBuilder, but no security error
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			// Record temp directory contents before the request
			tempDir := os.TempDir()
			beforeEntries, _ := os.ReadDir(tempDir)
			beforeCount := len(beforeEntries)

			// Create request with potentially malicious out_dir (properly URL-encoded)
			queryParams := url.Values{}
			queryParams.Set("sensor_id", tc.sensorID)
			queryParams.Set("out_dir", tc.outDir)
			reqURL := "/api/lidar/export_frame_sequence?" + queryParams.Encode()
			req, err := http.NewRequest("GET", reqURL, nil)
			if err != nil {
				t.Fatal(err)
			}

			rr := httptest.NewRecorder()
			mux.ServeHTTP(rr, req)

			// Verify response is not 2xx (success)
			if tc.wantStatusNot2xx && rr.Code >= 200 && rr.Code < 300 {
				t.Errorf("Expected non-2xx status for potentially malicious out_dir %q, got %d",
					tc.outDir, rr.Code)
			}

			// For path traversal attempts, verify the response indicates the security check worked
			if strings.Contains(tc.outDir, "..") || strings.HasPrefix(tc.outDir, "/") {
				// These should either be sanitized or blocked
				// The handler will fail at FrameBuilder lookup (404) or path validation (403)
				if rr.Code != http.StatusNotFound && rr.Code != http.StatusForbidden && rr.Code != http.StatusBadRequest {
					t.Errorf("Path traversal attempt with out_dir=%q should return 403, 404, or 400, got %d",
						tc.outDir, rr.Code)
				}
			}

			// Verify no unexpected directories were created outside temp
			// (This is a basic check - the key protection is the validation before MkdirAll)
			afterEntries, _ := os.ReadDir(tempDir)
			afterCount := len(afterEntries)

			// We don't expect significant directory creation since there's no FrameBuilder
			// But the important thing is that validation runs BEFORE any filesystem ops
			t.Logf("Temp dir entries: before=%d, after=%d, status=%d", beforeCount, afterCount, rr.Code)
		})
	}
}

// TestExportFrameSequenceASC_MissingSensorID tests that missing sensor_id returns 400
func TestExportFrameSequenceASC_MissingSensorID(t *testing.T) {
	stats := NewPacketStats()

	config := WebServerConfig{
		Address:        ":0",
		Stats:          stats,
		ParsingEnabled: true,
		UDPPort:        2369,
		DB:             nil,
		UDPListenerConfig: network.UDPListenerConfig{
			Address: ":0",
		},
	}

	server := NewWebServer(config)
	mux := server.setupRoutes()

	// Request without sensor_id
	req, err := http.NewRequest("GET", "/api/lidar/export_frame_sequence", nil)
	if err != nil {
		t.Fatal(err)
	}

	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 Bad Request for missing sensor_id, got %d", rr.Code)
	}

	body := rr.Body.String()
	if !strings.Contains(body, "sensor_id") {
		t.Error("Response should mention missing sensor_id parameter")
	}
}

func TestWebServer_HandleGridStatus_MissingSensorID(t *testing.T) {
	stats := NewPacketStats()
	config := WebServerConfig{
		Address:           ":0",
		Stats:             stats,
		UDPListenerConfig: network.UDPListenerConfig{Address: ":0"},
	}
	server := NewWebServer(config)

	req := httptest.NewRequest(http.MethodGet, "/api/lidar/grid_status", nil)
	rr := httptest.NewRecorder()

	server.handleGridStatus(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rr.Code)
	}
}

func TestWebServer_HandleGridStatus_MethodNotAllowed(t *testing.T) {
	stats := NewPacketStats()
	config := WebServerConfig{
		Address:           ":0",
		Stats:             stats,
		UDPListenerConfig: network.UDPListenerConfig{Address: ":0"},
	}
	server := NewWebServer(config)

	req := httptest.NewRequest(http.MethodPost, "/api/lidar/grid_status?sensor_id=test", nil)
	rr := httptest.NewRecorder()

	server.handleGridStatus(rr, req)

	if rr.Code != http.StatusMethodNotAllowed {
		t.Errorf("expected 405, got %d", rr.Code)
	}
}

func TestWebServer_HandleGridStatus_NoManager(t *testing.T) {
	stats := NewPacketStats()
	config := WebServerConfig{
		Address:           ":0",
		Stats:             stats,
		UDPListenerConfig: network.UDPListenerConfig{Address: ":0"},
	}
	server := NewWebServer(config)

	req := httptest.NewRequest(http.MethodGet, "/api/lidar/grid_status?sensor_id=nonexistent", nil)
	rr := httptest.NewRecorder()

	server.handleGridStatus(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rr.Code)
	}
}

func TestWebServer_HandleTrafficStats_NoStats(t *testing.T) {
	config := WebServerConfig{
		Address:           ":0",
		Stats:             nil, // No stats
		UDPListenerConfig: network.UDPListenerConfig{Address: ":0"},
	}
	server := NewWebServer(config)

	req := httptest.NewRequest(http.MethodGet, "/api/lidar/traffic", nil)
	rr := httptest.NewRecorder()

	server.handleTrafficStats(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rr.Code)
	}
}

func TestWebServer_HandleTrafficStats_MethodNotAllowed(t *testing.T) {
	stats := NewPacketStats()
	config := WebServerConfig{
		Address:           ":0",
		Stats:             stats,
		UDPListenerConfig: network.UDPListenerConfig{Address: ":0"},
	}
	server := NewWebServer(config)

	req := httptest.NewRequest(http.MethodPost, "/api/lidar/traffic", nil)
	rr := httptest.NewRecorder()

	server.handleTrafficStats(rr, req)

	if rr.Code != http.StatusMethodNotAllowed {
		t.Errorf("expected 405, got %d", rr.Code)
	}
}

func TestWebServer_HandleTrafficStats_Success(t *testing.T) {
	stats := NewPacketStats()
	stats.AddPacket(1000)
	stats.AddPoints(400)
	stats.LogStats(true)

	config := WebServerConfig{
		Address:           ":0",
		Stats:             stats,
		UDPListenerConfig: network.UDPListenerConfig{Address: ":0"},
	}
	server := NewWebServer(config)

	req := httptest.NewRequest(http.MethodGet, "/api/lidar/traffic", nil)
	rr := httptest.NewRecorder()

	server.handleTrafficStats(rr, req)

	if rr.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rr.Code)
	}

	var resp map[string]interface{}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}

	if _, ok := resp["packets_per_sec"]; !ok {
		t.Error("expected packets_per_sec in response")
	}
	if _, ok := resp["points_per_sec"]; !ok {
		t.Error("expected points_per_sec in response")
	}
}

func TestWebServer_HandleGridReset_MissingSensorID(t *testing.T) {
	stats := NewPacketStats()
	config := WebServerConfig{
		Address:           ":0",
		Stats:             stats,
		UDPListenerConfig: network.UDPListenerConfig{Address: ":0"},
	}
	server := NewWebServer(config)

	req := httptest.NewRequest(http.MethodPost, "/api/lidar/grid_reset", nil)
	rr := httptest.NewRecorder()

	server.handleGridReset(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rr.Code)
	}
}

func TestWebServer_HandleGridReset_MethodNotAllowed(t *testing.T) {
	stats := NewPacketStats()
	config := WebServerConfig{
		Address:           ":0",
		Stats:             stats,
		UDPListenerConfig: network.UDPListenerConfig{Address: ":0"},
	}
	server := NewWebServer(config)

	req := httptest.NewRequest(http.MethodGet, "/api/lidar/grid_reset?sensor_id=test", nil)
	rr := httptest.NewRecorder()

	server.handleGridReset(rr, req)

	if rr.Code != http.StatusMethodNotAllowed {
		t.Errorf("expected 405, got %d", rr.Code)
	}
}

func TestWebServer_HandleGridReset_NoManager(t *testing.T) {
	stats := NewPacketStats()
	config := WebServerConfig{
		Address:           ":0",
		Stats:             stats,
		UDPListenerConfig: network.UDPListenerConfig{Address: ":0"},
	}
	server := NewWebServer(config)

	req := httptest.NewRequest(http.MethodPost, "/api/lidar/grid_reset?sensor_id=nonexistent", nil)
	rr := httptest.NewRecorder()

	server.handleGridReset(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rr.Code)
	}
}

func TestWebServer_HandleGridHeatmap_MissingSensorID(t *testing.T) {
	stats := NewPacketStats()
	config := WebServerConfig{
		Address:           ":0",
		Stats:             stats,
		UDPListenerConfig: network.UDPListenerConfig{Address: ":0"},
	}
	server := NewWebServer(config)

	req := httptest.NewRequest(http.MethodGet, "/api/lidar/grid_heatmap", nil)
	rr := httptest.NewRecorder()

	server.handleGridHeatmap(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rr.Code)
	}
}

func TestWebServer_HandleGridHeatmap_MethodNotAllowed(t *testing.T) {
	stats := NewPacketStats()
	config := WebServerConfig{
		Address:           ":0",
		Stats:             stats,
		UDPListenerConfig: network.UDPListenerConfig{Address: ":0"},
	}
	server := NewWebServer(config)

	req := httptest.NewRequest(http.MethodPost, "/api/lidar/grid_heatmap?sensor_id=test", nil)
	rr := httptest.NewRecorder()

	server.handleGridHeatmap(rr, req)

	if rr.Code != http.StatusMethodNotAllowed {
		t.Errorf("expected 405, got %d", rr.Code)
	}
}

func TestWebServer_HandleGridHeatmap_NoManager(t *testing.T) {
	stats := NewPacketStats()
	config := WebServerConfig{
		Address:           ":0",
		Stats:             stats,
		UDPListenerConfig: network.UDPListenerConfig{Address: ":0"},
	}
	server := NewWebServer(config)

	req := httptest.NewRequest(http.MethodGet, "/api/lidar/grid_heatmap?sensor_id=nonexistent", nil)
	rr := httptest.NewRecorder()

	server.handleGridHeatmap(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rr.Code)
	}
}

func TestWebServer_HandleBackgroundGridPolar_NoManager(t *testing.T) {
	stats := NewPacketStats()
	config := WebServerConfig{
		Address:           ":0",
		Stats:             stats,
		SensorID:          "test-sensor",
		UDPListenerConfig: network.UDPListenerConfig{Address: ":0"},
	}
	server := NewWebServer(config)

	req := httptest.NewRequest(http.MethodGet, "/debug/lidar/background/polar", nil)
	rr := httptest.NewRecorder()

	server.handleBackgroundGridPolar(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rr.Code)
	}
}

func TestWebServer_HandleLidarDebugDashboard(t *testing.T) {
	stats := NewPacketStats()
	config := WebServerConfig{
		Address:           ":0",
		Stats:             stats,
		SensorID:          "test-sensor",
		UDPListenerConfig: network.UDPListenerConfig{Address: ":0"},
	}
	server := NewWebServer(config)

	req := httptest.NewRequest(http.MethodGet, "/debug/lidar?sensor_id=test-sensor", nil)
	rr := httptest.NewRecorder()

	server.handleLidarDebugDashboard(rr, req)

	if rr.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rr.Code)
	}

	contentType := rr.Header().Get("Content-Type")
	if !strings.Contains(contentType, "text/html") {
		t.Errorf("expected Content-Type text/html, got %s", contentType)
	}
}

func TestWebServer_HandleTrafficChart_NoStats(t *testing.T) {
	config := WebServerConfig{
		Address:           ":0",
		Stats:             nil,
		UDPListenerConfig: network.UDPListenerConfig{Address: ":0"},
	}
	server := NewWebServer(config)

	req := httptest.NewRequest(http.MethodGet, "/debug/lidar/traffic", nil)
	rr := httptest.NewRecorder()

	server.handleTrafficChart(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rr.Code)
	}
}

func TestWebServer_HandleTrafficChart_Success(t *testing.T) {
	stats := NewPacketStats()
	stats.AddPacket(1000)
	stats.LogStats(true)

	config := WebServerConfig{
		Address:           ":0",
		Stats:             stats,
		UDPListenerConfig: network.UDPListenerConfig{Address: ":0"},
	}
	server := NewWebServer(config)

	req := httptest.NewRequest(http.MethodGet, "/debug/lidar/traffic", nil)
	rr := httptest.NewRecorder()

	server.handleTrafficChart(rr, req)

	if rr.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rr.Code)
	}

	contentType := rr.Header().Get("Content-Type")
	if !strings.Contains(contentType, "text/html") {
		t.Errorf("expected Content-Type text/html, got %s", contentType)
	}
}

func TestWebServer_HandleBackgroundGridHeatmapChart_NoManager(t *testing.T) {
	stats := NewPacketStats()
	config := WebServerConfig{
		Address:           ":0",
		Stats:             stats,
		SensorID:          "nonexistent-sensor",
		UDPListenerConfig: network.UDPListenerConfig{Address: ":0"},
	}
	server := NewWebServer(config)

	req := httptest.NewRequest(http.MethodGet, "/debug/lidar/background/heatmap?sensor_id=nonexistent-sensor", nil)
	rr := httptest.NewRecorder()

	server.handleBackgroundGridHeatmapChart(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rr.Code)
	}
}

func TestWebServer_HandleClustersChart_NoTrackAPI(t *testing.T) {
	stats := NewPacketStats()
	config := WebServerConfig{
		Address:           ":0",
		Stats:             stats,
		SensorID:          "test-sensor",
		DB:                nil, // No DB, so no trackAPI
		UDPListenerConfig: network.UDPListenerConfig{Address: ":0"},
	}
	server := NewWebServer(config)

	req := httptest.NewRequest(http.MethodGet, "/debug/lidar/clusters", nil)
	rr := httptest.NewRecorder()

	server.handleClustersChart(rr, req)

	if rr.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", rr.Code)
	}
}

func TestWebServer_HandleTracksChart_NoTrackAPI(t *testing.T) {
	stats := NewPacketStats()
	config := WebServerConfig{
		Address:           ":0",
		Stats:             stats,
		SensorID:          "test-sensor",
		DB:                nil,
		UDPListenerConfig: network.UDPListenerConfig{Address: ":0"},
	}
	server := NewWebServer(config)

	req := httptest.NewRequest(http.MethodGet, "/debug/lidar/tracks", nil)
	rr := httptest.NewRecorder()

	server.handleTracksChart(rr, req)

	if rr.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", rr.Code)
	}
}

func TestWebServer_HandleForegroundFrameChart_NoSnapshot(t *testing.T) {
	stats := NewPacketStats()
	config := WebServerConfig{
		Address:           ":0",
		Stats:             stats,
		SensorID:          "test-sensor",
		UDPListenerConfig: network.UDPListenerConfig{Address: ":0"},
	}
	server := NewWebServer(config)

	req := httptest.NewRequest(http.MethodGet, "/debug/lidar/foreground", nil)
	rr := httptest.NewRecorder()

	server.handleForegroundFrameChart(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rr.Code)
	}
}

func TestWebServer_HandleExportSnapshotASC_MissingSensorID(t *testing.T) {
	stats := NewPacketStats()
	config := WebServerConfig{
		Address:           ":0",
		Stats:             stats,
		UDPListenerConfig: network.UDPListenerConfig{Address: ":0"},
	}
	server := NewWebServer(config)

	req := httptest.NewRequest(http.MethodGet, "/api/lidar/export_snapshot", nil)
	rr := httptest.NewRecorder()

	server.handleExportSnapshotASC(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rr.Code)
	}
}

func TestWebServer_HandleExportSnapshotASC_SnapshotIDNotImplemented(t *testing.T) {
	stats := NewPacketStats()
	config := WebServerConfig{
		Address:           ":0",
		Stats:             stats,
		UDPListenerConfig: network.UDPListenerConfig{Address: ":0"},
	}
	server := NewWebServer(config)

	req := httptest.NewRequest(http.MethodGet, "/api/lidar/export_snapshot?sensor_id=test&snapshot_id=123", nil)
	rr := httptest.NewRecorder()

	server.handleExportSnapshotASC(rr, req)

	if rr.Code != http.StatusNotImplemented {
		t.Errorf("expected 501, got %d", rr.Code)
	}
}

func TestWebServer_HandleExportSnapshotASC_NoDB(t *testing.T) {
	stats := NewPacketStats()
	config := WebServerConfig{
		Address:           ":0",
		Stats:             stats,
		DB:                nil,
		UDPListenerConfig: network.UDPListenerConfig{Address: ":0"},
	}
	server := NewWebServer(config)

	req := httptest.NewRequest(http.MethodGet, "/api/lidar/export_snapshot?sensor_id=test", nil)
	rr := httptest.NewRecorder()

	server.handleExportSnapshotASC(rr, req)

	if rr.Code != http.StatusInternalServerError {
		t.Errorf("expected 500, got %d", rr.Code)
	}
}

func TestWebServer_HandleExportNextFrameASC_MissingSensorID(t *testing.T) {
	stats := NewPacketStats()
	config := WebServerConfig{
		Address:           ":0",
		Stats:             stats,
		UDPListenerConfig: network.UDPListenerConfig{Address: ":0"},
	}
	server := NewWebServer(config)

	req := httptest.NewRequest(http.MethodGet, "/api/lidar/export_next_frame", nil)
	rr := httptest.NewRecorder()

	server.handleExportNextFrameASC(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rr.Code)
	}
}

func TestWebServer_HandleExportNextFrameASC_NoFrameBuilder(t *testing.T) {
	stats := NewPacketStats()
	config := WebServerConfig{
		Address:           ":0",
		Stats:             stats,
		UDPListenerConfig: network.UDPListenerConfig{Address: ":0"},
	}
	server := NewWebServer(config)

	req := httptest.NewRequest(http.MethodGet, "/api/lidar/export_next_frame?sensor_id=nonexistent", nil)
	rr := httptest.NewRecorder()

	server.handleExportNextFrameASC(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rr.Code)
	}
}

func TestWebServer_HandleExportForegroundASC_MissingSensorID(t *testing.T) {
	stats := NewPacketStats()
	config := WebServerConfig{
		Address:           ":0",
		Stats:             stats,
		UDPListenerConfig: network.UDPListenerConfig{Address: ":0"},
	}
	server := NewWebServer(config)

	req := httptest.NewRequest(http.MethodGet, "/api/lidar/export_foreground", nil)
	rr := httptest.NewRecorder()

	server.handleExportForegroundASC(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rr.Code)
	}
}

func TestWebServer_HandleExportForegroundASC_NoSnapshot(t *testing.T) {
	stats := NewPacketStats()
	config := WebServerConfig{
		Address:           ":0",
		Stats:             stats,
		UDPListenerConfig: network.UDPListenerConfig{Address: ":0"},
	}
	server := NewWebServer(config)

	req := httptest.NewRequest(http.MethodGet, "/api/lidar/export_foreground?sensor_id=nonexistent", nil)
	rr := httptest.NewRecorder()

	server.handleExportForegroundASC(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rr.Code)
	}
}

func TestWebServer_HandleLidarSnapshots_MissingSensorID(t *testing.T) {
	stats := NewPacketStats()
	config := WebServerConfig{
		Address:           ":0",
		Stats:             stats,
		UDPListenerConfig: network.UDPListenerConfig{Address: ":0"},
	}
	server := NewWebServer(config)

	req := httptest.NewRequest(http.MethodGet, "/api/lidar/snapshots", nil)
	rr := httptest.NewRecorder()

	server.handleLidarSnapshots(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rr.Code)
	}
}

func TestWebServer_HandleLidarSnapshots_MethodNotAllowed(t *testing.T) {
	stats := NewPacketStats()
	config := WebServerConfig{
		Address:           ":0",
		Stats:             stats,
		UDPListenerConfig: network.UDPListenerConfig{Address: ":0"},
	}
	server := NewWebServer(config)

	req := httptest.NewRequest(http.MethodPost, "/api/lidar/snapshots?sensor_id=test", nil)
	rr := httptest.NewRecorder()

	server.handleLidarSnapshots(rr, req)

	if rr.Code != http.StatusMethodNotAllowed {
		t.Errorf("expected 405, got %d", rr.Code)
	}
}

func TestWebServer_HandleLidarSnapshots_NoDB(t *testing.T) {
	stats := NewPacketStats()
	config := WebServerConfig{
		Address:           ":0",
		Stats:             stats,
		DB:                nil,
		UDPListenerConfig: network.UDPListenerConfig{Address: ":0"},
	}
	server := NewWebServer(config)

	req := httptest.NewRequest(http.MethodGet, "/api/lidar/snapshots?sensor_id=test", nil)
	rr := httptest.NewRecorder()

	server.handleLidarSnapshots(rr, req)

	if rr.Code != http.StatusInternalServerError {
		t.Errorf("expected 500, got %d", rr.Code)
	}
}

func TestWebServer_HandleLidarSnapshotsCleanup_MissingSensorID(t *testing.T) {
	stats := NewPacketStats()
	config := WebServerConfig{
		Address:           ":0",
		Stats:             stats,
		UDPListenerConfig: network.UDPListenerConfig{Address: ":0"},
	}
	server := NewWebServer(config)

	req := httptest.NewRequest(http.MethodPost, "/api/lidar/snapshots/cleanup", nil)
	rr := httptest.NewRecorder()

	server.handleLidarSnapshotsCleanup(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rr.Code)
	}
}

func TestWebServer_HandleLidarSnapshotsCleanup_MethodNotAllowed(t *testing.T) {
	stats := NewPacketStats()
	config := WebServerConfig{
		Address:           ":0",
		Stats:             stats,
		UDPListenerConfig: network.UDPListenerConfig{Address: ":0"},
	}
	server := NewWebServer(config)

	req := httptest.NewRequest(http.MethodGet, "/api/lidar/snapshots/cleanup?sensor_id=test", nil)
	rr := httptest.NewRecorder()

	server.handleLidarSnapshotsCleanup(rr, req)

	if rr.Code != http.StatusMethodNotAllowed {
		t.Errorf("expected 405, got %d", rr.Code)
	}
}

func TestWebServer_HandleLidarSnapshotsCleanup_NoDB(t *testing.T) {
	stats := NewPacketStats()
	config := WebServerConfig{
		Address:           ":0",
		Stats:             stats,
		DB:                nil,
		UDPListenerConfig: network.UDPListenerConfig{Address: ":0"},
	}
	server := NewWebServer(config)

	req := httptest.NewRequest(http.MethodPost, "/api/lidar/snapshots/cleanup?sensor_id=test", nil)
	rr := httptest.NewRecorder()

	server.handleLidarSnapshotsCleanup(rr, req)

	if rr.Code != http.StatusInternalServerError {
		t.Errorf("expected 500, got %d", rr.Code)
	}
}

func TestWebServer_HandleLidarStatus_Success(t *testing.T) {
	stats := NewPacketStats()
	config := WebServerConfig{
		Address:           ":0",
		Stats:             stats,
		SensorID:          "test-sensor",
		UDPPort:           2369,
		ParsingEnabled:    true,
		ForwardingEnabled: true,
		ForwardAddr:       "localhost",
		ForwardPort:       2370,
		UDPListenerConfig: network.UDPListenerConfig{Address: ":0"},
	}
	server := NewWebServer(config)

	req := httptest.NewRequest(http.MethodGet, "/api/lidar/status", nil)
	rr := httptest.NewRecorder()

	server.handleLidarStatus(rr, req)

	if rr.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rr.Code)
	}

	var resp map[string]interface{}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}

	if resp["status"] != "ok" {
		t.Errorf("expected status 'ok', got %v", resp["status"])
	}
	if resp["sensor_id"] != "test-sensor" {
		t.Errorf("expected sensor_id 'test-sensor', got %v", resp["sensor_id"])
	}
}

func TestWebServer_HandleLidarStatus_MethodNotAllowed(t *testing.T) {
	stats := NewPacketStats()
	config := WebServerConfig{
		Address:           ":0",
		Stats:             stats,
		UDPListenerConfig: network.UDPListenerConfig{Address: ":0"},
	}
	server := NewWebServer(config)

	req := httptest.NewRequest(http.MethodPost, "/api/lidar/status", nil)
	rr := httptest.NewRecorder()

	server.handleLidarStatus(rr, req)

	if rr.Code != http.StatusMethodNotAllowed {
		t.Errorf("expected 405, got %d", rr.Code)
	}
}

func TestWebServer_HandleLidarPersist_MissingSensorID(t *testing.T) {
	stats := NewPacketStats()
	config := WebServerConfig{
		Address:           ":0",
		Stats:             stats,
		UDPListenerConfig: network.UDPListenerConfig{Address: ":0"},
	}
	server := NewWebServer(config)

	req := httptest.NewRequest(http.MethodPost, "/api/lidar/persist", nil)
	rr := httptest.NewRecorder()

	server.handleLidarPersist(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rr.Code)
	}
}

func TestWebServer_HandleLidarPersist_MethodNotAllowed(t *testing.T) {
	stats := NewPacketStats()
	config := WebServerConfig{
		Address:           ":0",
		Stats:             stats,
		UDPListenerConfig: network.UDPListenerConfig{Address: ":0"},
	}
	server := NewWebServer(config)

	req := httptest.NewRequest(http.MethodGet, "/api/lidar/persist?sensor_id=test", nil)
	rr := httptest.NewRecorder()

	server.handleLidarPersist(rr, req)

	if rr.Code != http.StatusMethodNotAllowed {
		t.Errorf("expected 405, got %d", rr.Code)
	}
}

func TestWebServer_HandleLidarPersist_NoManager(t *testing.T) {
	stats := NewPacketStats()
	config := WebServerConfig{
		Address:           ":0",
		Stats:             stats,
		UDPListenerConfig: network.UDPListenerConfig{Address: ":0"},
	}
	server := NewWebServer(config)

	req := httptest.NewRequest(http.MethodPost, "/api/lidar/persist?sensor_id=nonexistent", nil)
	rr := httptest.NewRecorder()

	server.handleLidarPersist(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rr.Code)
	}
}

func TestWebServer_HandleLidarSnapshot_MissingSensorID(t *testing.T) {
	stats := NewPacketStats()
	config := WebServerConfig{
		Address:           ":0",
		Stats:             stats,
		UDPListenerConfig: network.UDPListenerConfig{Address: ":0"},
	}
	server := NewWebServer(config)

	req := httptest.NewRequest(http.MethodGet, "/api/lidar/snapshot", nil)
	rr := httptest.NewRecorder()

	server.handleLidarSnapshot(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rr.Code)
	}
}

func TestWebServer_HandleLidarSnapshot_MethodNotAllowed(t *testing.T) {
	stats := NewPacketStats()
	config := WebServerConfig{
		Address:           ":0",
		Stats:             stats,
		UDPListenerConfig: network.UDPListenerConfig{Address: ":0"},
	}
	server := NewWebServer(config)

	req := httptest.NewRequest(http.MethodPost, "/api/lidar/snapshot?sensor_id=test", nil)
	rr := httptest.NewRecorder()

	server.handleLidarSnapshot(rr, req)

	if rr.Code != http.StatusMethodNotAllowed {
		t.Errorf("expected 405, got %d", rr.Code)
	}
}

func TestWebServer_HandleLidarSnapshot_NoDB(t *testing.T) {
	stats := NewPacketStats()
	config := WebServerConfig{
		Address:           ":0",
		Stats:             stats,
		DB:                nil,
		UDPListenerConfig: network.UDPListenerConfig{Address: ":0"},
	}
	server := NewWebServer(config)

	req := httptest.NewRequest(http.MethodGet, "/api/lidar/snapshot?sensor_id=test", nil)
	rr := httptest.NewRecorder()

	server.handleLidarSnapshot(rr, req)

	if rr.Code != http.StatusInternalServerError {
		t.Errorf("expected 500, got %d", rr.Code)
	}
}

func TestWebServer_HandleAcceptanceMetrics_MissingSensorID(t *testing.T) {
	stats := NewPacketStats()
	config := WebServerConfig{
		Address:           ":0",
		Stats:             stats,
		UDPListenerConfig: network.UDPListenerConfig{Address: ":0"},
	}
	server := NewWebServer(config)

	req := httptest.NewRequest(http.MethodGet, "/api/lidar/acceptance", nil)
	rr := httptest.NewRecorder()

	server.handleAcceptanceMetrics(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rr.Code)
	}
}

func TestWebServer_HandleAcceptanceMetrics_MethodNotAllowed(t *testing.T) {
	stats := NewPacketStats()
	config := WebServerConfig{
		Address:           ":0",
		Stats:             stats,
		UDPListenerConfig: network.UDPListenerConfig{Address: ":0"},
	}
	server := NewWebServer(config)

	req := httptest.NewRequest(http.MethodPost, "/api/lidar/acceptance?sensor_id=test", nil)
	rr := httptest.NewRecorder()

	server.handleAcceptanceMetrics(rr, req)

	if rr.Code != http.StatusMethodNotAllowed {
		t.Errorf("expected 405, got %d", rr.Code)
	}
}

func TestWebServer_HandleAcceptanceMetrics_NoManager(t *testing.T) {
	stats := NewPacketStats()
	config := WebServerConfig{
		Address:           ":0",
		Stats:             stats,
		UDPListenerConfig: network.UDPListenerConfig{Address: ":0"},
	}
	server := NewWebServer(config)

	req := httptest.NewRequest(http.MethodGet, "/api/lidar/acceptance?sensor_id=nonexistent", nil)
	rr := httptest.NewRecorder()

	server.handleAcceptanceMetrics(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rr.Code)
	}
}

func TestWebServer_HandleAcceptanceReset_MissingSensorID(t *testing.T) {
	stats := NewPacketStats()
	config := WebServerConfig{
		Address:           ":0",
		Stats:             stats,
		UDPListenerConfig: network.UDPListenerConfig{Address: ":0"},
	}
	server := NewWebServer(config)

	req := httptest.NewRequest(http.MethodPost, "/api/lidar/acceptance/reset", nil)
	rr := httptest.NewRecorder()

	server.handleAcceptanceReset(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rr.Code)
	}
}

func TestWebServer_HandleAcceptanceReset_MethodNotAllowed(t *testing.T) {
	stats := NewPacketStats()
	config := WebServerConfig{
		Address:           ":0",
		Stats:             stats,
		UDPListenerConfig: network.UDPListenerConfig{Address: ":0"},
	}
	server := NewWebServer(config)

	req := httptest.NewRequest(http.MethodGet, "/api/lidar/acceptance/reset?sensor_id=test", nil)
	rr := httptest.NewRecorder()

	server.handleAcceptanceReset(rr, req)

	if rr.Code != http.StatusMethodNotAllowed {
		t.Errorf("expected 405, got %d", rr.Code)
	}
}

func TestWebServer_HandleAcceptanceReset_NoManager(t *testing.T) {
	stats := NewPacketStats()
	config := WebServerConfig{
		Address:           ":0",
		Stats:             stats,
		UDPListenerConfig: network.UDPListenerConfig{Address: ":0"},
	}
	server := NewWebServer(config)

	req := httptest.NewRequest(http.MethodPost, "/api/lidar/acceptance/reset?sensor_id=nonexistent", nil)
	rr := httptest.NewRecorder()

	server.handleAcceptanceReset(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rr.Code)
	}
}

func TestWebServer_HandlePCAPStart_MethodNotAllowed(t *testing.T) {
	stats := NewPacketStats()
	config := WebServerConfig{
		Address:           ":0",
		Stats:             stats,
		SensorID:          "test-sensor",
		UDPListenerConfig: network.UDPListenerConfig{Address: ":0"},
	}
	server := NewWebServer(config)

	req := httptest.NewRequest(http.MethodGet, "/api/lidar/pcap/start?sensor_id=test-sensor", nil)
	rr := httptest.NewRecorder()

	server.handlePCAPStart(rr, req)

	if rr.Code != http.StatusMethodNotAllowed {
		t.Errorf("expected 405, got %d", rr.Code)
	}
}

func TestWebServer_HandlePCAPStart_MissingSensorID(t *testing.T) {
	stats := NewPacketStats()
	config := WebServerConfig{
		Address:           ":0",
		Stats:             stats,
		SensorID:          "test-sensor",
		UDPListenerConfig: network.UDPListenerConfig{Address: ":0"},
	}
	server := NewWebServer(config)

	req := httptest.NewRequest(http.MethodPost, "/api/lidar/pcap/start", nil)
	rr := httptest.NewRecorder()

	server.handlePCAPStart(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rr.Code)
	}
}

func TestWebServer_HandlePCAPStart_WrongSensorID(t *testing.T) {
	stats := NewPacketStats()
	config := WebServerConfig{
		Address:           ":0",
		Stats:             stats,
		SensorID:          "test-sensor",
		UDPListenerConfig: network.UDPListenerConfig{Address: ":0"},
	}
	server := NewWebServer(config)

	req := httptest.NewRequest(http.MethodPost, "/api/lidar/pcap/start?sensor_id=wrong-sensor", nil)
	rr := httptest.NewRecorder()

	server.handlePCAPStart(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rr.Code)
	}
}

func TestWebServer_HandlePCAPStart_MissingPCAPFile(t *testing.T) {
	stats := NewPacketStats()
	config := WebServerConfig{
		Address:           ":0",
		Stats:             stats,
		SensorID:          "test-sensor",
		UDPListenerConfig: network.UDPListenerConfig{Address: ":0"},
	}
	server := NewWebServer(config)

	req := httptest.NewRequest(http.MethodPost, "/api/lidar/pcap/start?sensor_id=test-sensor", strings.NewReader("{}"))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()

	server.handlePCAPStart(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestWebServer_HandlePCAPStop_MethodNotAllowed(t *testing.T) {
	stats := NewPacketStats()
	config := WebServerConfig{
		Address:           ":0",
		Stats:             stats,
		SensorID:          "test-sensor",
		UDPListenerConfig: network.UDPListenerConfig{Address: ":0"},
	}
	server := NewWebServer(config)

	req := httptest.NewRequest(http.MethodGet, "/api/lidar/pcap/stop?sensor_id=test-sensor", nil)
	rr := httptest.NewRecorder()

	server.handlePCAPStop(rr, req)

	if rr.Code != http.StatusMethodNotAllowed {
		t.Errorf("expected 405, got %d", rr.Code)
	}
}

func TestWebServer_HandlePCAPStop_MissingSensorID(t *testing.T) {
	stats := NewPacketStats()
	config := WebServerConfig{
		Address:           ":0",
		Stats:             stats,
		SensorID:          "test-sensor",
		UDPListenerConfig: network.UDPListenerConfig{Address: ":0"},
	}
	server := NewWebServer(config)

	req := httptest.NewRequest(http.MethodPost, "/api/lidar/pcap/stop", nil)
	rr := httptest.NewRecorder()

	server.handlePCAPStop(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rr.Code)
	}
}

func TestWebServer_HandlePCAPStop_NotInPCAPMode(t *testing.T) {
	stats := NewPacketStats()
	config := WebServerConfig{
		Address:           ":0",
		Stats:             stats,
		SensorID:          "test-sensor",
		UDPListenerConfig: network.UDPListenerConfig{Address: ":0"},
	}
	server := NewWebServer(config)

	req := httptest.NewRequest(http.MethodPost, "/api/lidar/pcap/stop?sensor_id=test-sensor", nil)
	rr := httptest.NewRecorder()

	server.handlePCAPStop(rr, req)

	if rr.Code != http.StatusConflict {
		t.Errorf("expected 409, got %d", rr.Code)
	}
}

func TestWebServer_HandlePCAPResumeLive_MethodNotAllowed(t *testing.T) {
	stats := NewPacketStats()
	config := WebServerConfig{
		Address:           ":0",
		Stats:             stats,
		SensorID:          "test-sensor",
		UDPListenerConfig: network.UDPListenerConfig{Address: ":0"},
	}
	server := NewWebServer(config)

	req := httptest.NewRequest(http.MethodGet, "/api/lidar/pcap/resume_live?sensor_id=test-sensor", nil)
	rr := httptest.NewRecorder()

	server.handlePCAPResumeLive(rr, req)

	if rr.Code != http.StatusMethodNotAllowed {
		t.Errorf("expected 405, got %d", rr.Code)
	}
}

func TestWebServer_HandlePCAPResumeLive_NotInAnalysisMode(t *testing.T) {
	stats := NewPacketStats()
	config := WebServerConfig{
		Address:           ":0",
		Stats:             stats,
		SensorID:          "test-sensor",
		UDPListenerConfig: network.UDPListenerConfig{Address: ":0"},
	}
	server := NewWebServer(config)

	req := httptest.NewRequest(http.MethodPost, "/api/lidar/pcap/resume_live?sensor_id=test-sensor", nil)
	rr := httptest.NewRecorder()

	server.handlePCAPResumeLive(rr, req)

	if rr.Code != http.StatusConflict {
		t.Errorf("expected 409, got %d", rr.Code)
	}
}

func TestWebServer_Close(t *testing.T) {
	stats := NewPacketStats()
	config := WebServerConfig{
		Address:           ":0",
		Stats:             stats,
		SensorID:          "test-sensor",
		UDPListenerConfig: network.UDPListenerConfig{Address: ":0"},
	}
	server := NewWebServer(config)

	// Close should not panic
	err := server.Close()
	if err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestWebServer_HandleBackgroundGrid_MissingSensorID(t *testing.T) {
	stats := NewPacketStats()
	config := WebServerConfig{
		Address:           ":0",
		Stats:             stats,
		UDPListenerConfig: network.UDPListenerConfig{Address: ":0"},
	}
	server := NewWebServer(config)

	req := httptest.NewRequest(http.MethodGet, "/api/lidar/background/grid", nil)
	rr := httptest.NewRecorder()

	server.handleBackgroundGrid(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rr.Code)
	}
}

func TestWebServer_HandleBackgroundGrid_NoManager(t *testing.T) {
	stats := NewPacketStats()
	config := WebServerConfig{
		Address:           ":0",
		Stats:             stats,
		UDPListenerConfig: network.UDPListenerConfig{Address: ":0"},
	}
	server := NewWebServer(config)

	req := httptest.NewRequest(http.MethodGet, "/api/lidar/background/grid?sensor_id=nonexistent", nil)
	rr := httptest.NewRecorder()

	server.handleBackgroundGrid(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rr.Code)
	}
}

func TestWebServer_HandleBackgroundRegions_NoManager(t *testing.T) {
	stats := NewPacketStats()
	config := WebServerConfig{
		Address:           ":0",
		Stats:             stats,
		SensorID:          "nonexistent-sensor",
		UDPListenerConfig: network.UDPListenerConfig{Address: ":0"},
	}
	server := NewWebServer(config)

	req := httptest.NewRequest(http.MethodGet, "/debug/lidar/background/regions?sensor_id=nonexistent-sensor", nil)
	rr := httptest.NewRecorder()

	server.handleBackgroundRegions(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rr.Code)
	}
}

func TestWebServer_HandleBackgroundRegionsDashboard(t *testing.T) {
	stats := NewPacketStats()
	config := WebServerConfig{
		Address:           ":0",
		Stats:             stats,
		SensorID:          "test-sensor",
		UDPListenerConfig: network.UDPListenerConfig{Address: ":0"},
	}
	server := NewWebServer(config)

	req := httptest.NewRequest(http.MethodGet, "/debug/lidar/background/regions/dashboard?sensor_id=test-sensor", nil)
	rr := httptest.NewRecorder()

	server.handleBackgroundRegionsDashboard(rr, req)

	if rr.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rr.Code)
	}

	contentType := rr.Header().Get("Content-Type")
	if !strings.Contains(contentType, "text/html") {
		t.Errorf("expected Content-Type text/html, got %s", contentType)
	}
}

func TestWebServer_HandleTuningParams_MissingSensorID(t *testing.T) {
	stats := NewPacketStats()
	config := WebServerConfig{
		Address:           ":0",
		Stats:             stats,
		UDPListenerConfig: network.UDPListenerConfig{Address: ":0"},
	}
	server := NewWebServer(config)

	req := httptest.NewRequest(http.MethodGet, "/api/lidar/params", nil)
	rr := httptest.NewRecorder()

	server.handleTuningParams(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rr.Code)
	}
}

func TestWebServer_HandleTuningParams_NoManager(t *testing.T) {
	stats := NewPacketStats()
	config := WebServerConfig{
		Address:           ":0",
		Stats:             stats,
		UDPListenerConfig: network.UDPListenerConfig{Address: ":0"},
	}
	server := NewWebServer(config)

	req := httptest.NewRequest(http.MethodGet, "/api/lidar/params?sensor_id=nonexistent", nil)
	rr := httptest.NewRecorder()

	server.handleTuningParams(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rr.Code)
	}
}

func TestWebServer_HandleTuningParams_MethodNotAllowed(t *testing.T) {
	stats := NewPacketStats()
	config := WebServerConfig{
		Address:           ":0",
		Stats:             stats,
		UDPListenerConfig: network.UDPListenerConfig{Address: ":0"},
	}
	server := NewWebServer(config)

	req := httptest.NewRequest(http.MethodDelete, "/api/lidar/params?sensor_id=nonexistent", nil)
	rr := httptest.NewRecorder()

	server.handleTuningParams(rr, req)

	// Handler checks sensor ID before method, so 404 may take precedence over 405
	if rr.Code != http.StatusMethodNotAllowed && rr.Code != http.StatusNotFound {
		t.Errorf("expected 405 or 404, got %d", rr.Code)
	}
}

func TestWebServer_WriteJSONError(t *testing.T) {
	stats := NewPacketStats()
	config := WebServerConfig{
		Address:           ":0",
		Stats:             stats,
		UDPListenerConfig: network.UDPListenerConfig{Address: ":0"},
	}
	server := NewWebServer(config)

	rr := httptest.NewRecorder()
	server.writeJSONError(rr, http.StatusTeapot, "I'm a teapot")

	if rr.Code != http.StatusTeapot {
		t.Errorf("expected 418, got %d", rr.Code)
	}

	var resp map[string]string
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}

	if resp["error"] != "I'm a teapot" {
		t.Errorf("expected error 'I'm a teapot', got '%s'", resp["error"])
	}
}

func TestWebServer_SetupRoutes(t *testing.T) {
	stats := NewPacketStats()
	config := WebServerConfig{
		Address:           ":0",
		Stats:             stats,
		SensorID:          "test-sensor",
		UDPListenerConfig: network.UDPListenerConfig{Address: ":0"},
	}
	server := NewWebServer(config)

	mux := server.setupRoutes()
	if mux == nil {
		t.Error("setupRoutes returned nil")
	}

	// Verify root handler works
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Errorf("expected 200 for root, got %d", rr.Code)
	}
}

func TestWebServer_HandleStatus_NotFound(t *testing.T) {
	stats := NewPacketStats()
	config := WebServerConfig{
		Address:           ":0",
		Stats:             stats,
		SensorID:          "test-sensor",
		UDPListenerConfig: network.UDPListenerConfig{Address: ":0"},
	}
	server := NewWebServer(config)

	req := httptest.NewRequest(http.MethodGet, "/nonexistent/path", nil)
	rr := httptest.NewRecorder()

	server.handleStatus(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Errorf("expected 404 for invalid path, got %d", rr.Code)
	}
}

// ====== Tests with registered BackgroundManager ======

func TestWebServer_HandleBackgroundGrid_WithManager(t *testing.T) {
	cleanup := setupTestBackgroundManager(t, "grid-test-sensor")
	defer cleanup()

	stats := NewPacketStats()
	config := WebServerConfig{
		Address:           ":0",
		Stats:             stats,
		SensorID:          "grid-test-sensor",
		UDPListenerConfig: network.UDPListenerConfig{Address: ":0"},
	}
	server := NewWebServer(config)

	req := httptest.NewRequest(http.MethodGet, "/api/lidar/background?sensor_id=grid-test-sensor", nil)
	rr := httptest.NewRecorder()

	server.handleBackgroundGrid(rr, req)

	if rr.Code != http.StatusOK {
		t.Errorf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}

	// Verify response is valid JSON
	var resp map[string]interface{}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}

	if resp["sensor_id"] != "grid-test-sensor" {
		t.Errorf("expected sensor_id 'grid-test-sensor', got '%v'", resp["sensor_id"])
	}
}

func TestWebServer_HandleBackgroundRegions_WithManager(t *testing.T) {
	cleanup := setupTestBackgroundManager(t, "regions-test-sensor")
	defer cleanup()

	stats := NewPacketStats()
	config := WebServerConfig{
		Address:           ":0",
		Stats:             stats,
		SensorID:          "regions-test-sensor",
		UDPListenerConfig: network.UDPListenerConfig{Address: ":0"},
	}
	server := NewWebServer(config)

	req := httptest.NewRequest(http.MethodGet, "/debug/lidar/background/regions?sensor_id=regions-test-sensor", nil)
	rr := httptest.NewRecorder()

	server.handleBackgroundRegions(rr, req)

	if rr.Code != http.StatusOK {
		t.Errorf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestWebServer_HandleBackgroundRegionsDashboard_WithSensorID(t *testing.T) {
	stats := NewPacketStats()
	config := WebServerConfig{
		Address:           ":0",
		Stats:             stats,
		SensorID:          "dashboard-test-sensor",
		UDPListenerConfig: network.UDPListenerConfig{Address: ":0"},
	}
	server := NewWebServer(config)

	req := httptest.NewRequest(http.MethodGet, "/debug/lidar/background/regions/dashboard?sensor_id=test", nil)
	rr := httptest.NewRecorder()

	server.handleBackgroundRegionsDashboard(rr, req)

	if rr.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rr.Code)
	}

	// Should return HTML
	contentType := rr.Header().Get("Content-Type")
	if !strings.Contains(contentType, "text/html") {
		t.Errorf("expected Content-Type text/html, got %s", contentType)
	}
}

func TestWebServer_HandleAcceptanceMetrics_WithManager(t *testing.T) {
	cleanup := setupTestBackgroundManager(t, "acceptance-test-sensor")
	defer cleanup()

	stats := NewPacketStats()
	config := WebServerConfig{
		Address:           ":0",
		Stats:             stats,
		SensorID:          "acceptance-test-sensor",
		UDPListenerConfig: network.UDPListenerConfig{Address: ":0"},
	}
	server := NewWebServer(config)

	req := httptest.NewRequest(http.MethodGet, "/api/lidar/acceptance?sensor_id=acceptance-test-sensor", nil)
	rr := httptest.NewRecorder()

	server.handleAcceptanceMetrics(rr, req)

	if rr.Code != http.StatusOK {
		t.Errorf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestWebServer_HandleAcceptanceMetrics_Debug(t *testing.T) {
	cleanup := setupTestBackgroundManager(t, "acceptance-debug-sensor")
	defer cleanup()

	stats := NewPacketStats()
	config := WebServerConfig{
		Address:           ":0",
		Stats:             stats,
		SensorID:          "acceptance-debug-sensor",
		UDPListenerConfig: network.UDPListenerConfig{Address: ":0"},
	}
	server := NewWebServer(config)

	req := httptest.NewRequest(http.MethodGet, "/api/lidar/acceptance?sensor_id=acceptance-debug-sensor&debug=true", nil)
	rr := httptest.NewRecorder()

	server.handleAcceptanceMetrics(rr, req)

	if rr.Code != http.StatusOK {
		t.Errorf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}

	// Debug mode should include params
	var resp map[string]interface{}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}

	if resp["params"] == nil {
		t.Error("expected params in debug response")
	}
}

func TestWebServer_HandleAcceptanceReset_WithManager(t *testing.T) {
	cleanup := setupTestBackgroundManager(t, "reset-test-sensor")
	defer cleanup()

	stats := NewPacketStats()
	config := WebServerConfig{
		Address:           ":0",
		Stats:             stats,
		SensorID:          "reset-test-sensor",
		UDPListenerConfig: network.UDPListenerConfig{Address: ":0"},
	}
	server := NewWebServer(config)

	req := httptest.NewRequest(http.MethodPost, "/api/lidar/acceptance/reset?sensor_id=reset-test-sensor", nil)
	rr := httptest.NewRecorder()

	server.handleAcceptanceReset(rr, req)

	if rr.Code != http.StatusOK {
		t.Errorf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestWebServer_HandleTuningParams_GET_WithManager(t *testing.T) {
	cleanup := setupTestBackgroundManager(t, "params-get-sensor")
	defer cleanup()

	stats := NewPacketStats()
	config := WebServerConfig{
		Address:           ":0",
		Stats:             stats,
		SensorID:          "params-get-sensor",
		UDPListenerConfig: network.UDPListenerConfig{Address: ":0"},
	}
	server := NewWebServer(config)

	req := httptest.NewRequest(http.MethodGet, "/api/lidar/params?sensor_id=params-get-sensor", nil)
	rr := httptest.NewRecorder()

	server.handleTuningParams(rr, req)

	if rr.Code != http.StatusOK {
		t.Errorf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestWebServer_HandleTuningParams_POST_WithManager(t *testing.T) {
	cleanup := setupTestBackgroundManager(t, "params-post-sensor")
	defer cleanup()

	stats := NewPacketStats()
	config := WebServerConfig{
		Address:           ":0",
		Stats:             stats,
		SensorID:          "params-post-sensor",
		UDPListenerConfig: network.UDPListenerConfig{Address: ":0"},
	}
	server := NewWebServer(config)

	// POST with JSON body
	body := `{"noise_relative": 0.05, "enable_diagnostics": false}`
	req := httptest.NewRequest(http.MethodPost, "/api/lidar/params?sensor_id=params-post-sensor", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()

	server.handleTuningParams(rr, req)

	if rr.Code != http.StatusOK {
		t.Errorf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestWebServer_HandleGridReset_WithManager(t *testing.T) {
	cleanup := setupTestBackgroundManager(t, "grid-reset-sensor")
	defer cleanup()

	stats := NewPacketStats()
	config := WebServerConfig{
		Address:           ":0",
		Stats:             stats,
		SensorID:          "grid-reset-sensor",
		UDPListenerConfig: network.UDPListenerConfig{Address: ":0"},
	}
	server := NewWebServer(config)

	req := httptest.NewRequest(http.MethodPost, "/api/lidar/grid/reset?sensor_id=grid-reset-sensor", nil)
	rr := httptest.NewRecorder()

	server.handleGridReset(rr, req)

	if rr.Code != http.StatusOK {
		t.Errorf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestWebServer_HandleGridStatus_WithManager(t *testing.T) {
	cleanup := setupTestBackgroundManager(t, "grid-status-sensor")
	defer cleanup()

	stats := NewPacketStats()
	config := WebServerConfig{
		Address:           ":0",
		Stats:             stats,
		SensorID:          "grid-status-sensor",
		UDPListenerConfig: network.UDPListenerConfig{Address: ":0"},
	}
	server := NewWebServer(config)

	req := httptest.NewRequest(http.MethodGet, "/api/lidar/grid/status?sensor_id=grid-status-sensor", nil)
	rr := httptest.NewRecorder()

	server.handleGridStatus(rr, req)

	if rr.Code != http.StatusOK {
		t.Errorf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestWebServer_HandleGridHeatmap_WithManager(t *testing.T) {
	cleanup := setupTestBackgroundManager(t, "grid-heatmap-sensor")
	defer cleanup()

	stats := NewPacketStats()
	config := WebServerConfig{
		Address:           ":0",
		Stats:             stats,
		SensorID:          "grid-heatmap-sensor",
		UDPListenerConfig: network.UDPListenerConfig{Address: ":0"},
	}
	server := NewWebServer(config)

	req := httptest.NewRequest(http.MethodGet, "/api/lidar/grid/heatmap?sensor_id=grid-heatmap-sensor", nil)
	rr := httptest.NewRecorder()

	server.handleGridHeatmap(rr, req)

	if rr.Code != http.StatusOK {
		t.Errorf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestWebServer_HandleBackgroundGridPolar_WithManager(t *testing.T) {
	cleanup := setupTestBackgroundManager(t, "polar-sensor")
	defer cleanup()

	stats := NewPacketStats()
	config := WebServerConfig{
		Address:           ":0",
		Stats:             stats,
		SensorID:          "polar-sensor",
		UDPListenerConfig: network.UDPListenerConfig{Address: ":0"},
	}
	server := NewWebServer(config)

	req := httptest.NewRequest(http.MethodGet, "/debug/lidar/background/polar?sensor_id=polar-sensor", nil)
	rr := httptest.NewRecorder()

	server.handleBackgroundGridPolar(rr, req)

	// Accept 200 or 404 (no cells) - the handler may fail if no cells are populated
	if rr.Code != http.StatusOK && rr.Code != http.StatusNotFound {
		t.Errorf("expected 200 or 404, got %d: %s", rr.Code, rr.Body.String())
	}
}

// ====== More handler tests ======

func TestWebServer_HandleTrafficChart_WithManager(t *testing.T) {
	cleanup := setupTestBackgroundManager(t, "traffic-chart-sensor")
	defer cleanup()

	stats := NewPacketStats()
	config := WebServerConfig{
		Address:           ":0",
		Stats:             stats,
		SensorID:          "traffic-chart-sensor",
		UDPListenerConfig: network.UDPListenerConfig{Address: ":0"},
	}
	server := NewWebServer(config)

	req := httptest.NewRequest(http.MethodGet, "/debug/lidar/traffic/chart?sensor_id=traffic-chart-sensor", nil)
	rr := httptest.NewRecorder()

	server.handleTrafficChart(rr, req)

	// May return 200 or 404 depending on data availability
	if rr.Code != http.StatusOK && rr.Code != http.StatusNotFound {
		t.Errorf("expected 200 or 404, got %d: %s", rr.Code, rr.Body.String())
	}
}

// Tests for handlers with registered managers follow

func TestWebServer_HandleLidarPersist_WithManager_Additional(t *testing.T) {
	cleanup := setupTestBackgroundManager(t, "persist-test-sensor-2")
	defer cleanup()

	stats := NewPacketStats()
	config := WebServerConfig{
		Address:           ":0",
		Stats:             stats,
		SensorID:          "persist-test-sensor-2",
		UDPListenerConfig: network.UDPListenerConfig{Address: ":0"},
	}
	server := NewWebServer(config)

	req := httptest.NewRequest(http.MethodPost, "/api/lidar/persist?sensor_id=persist-test-sensor-2", nil)
	rr := httptest.NewRecorder()

	server.handleLidarPersist(rr, req)

	// Manager without BgStore returns 501 Not Implemented
	if rr.Code != http.StatusOK && rr.Code != http.StatusInternalServerError && rr.Code != http.StatusNotImplemented {
		t.Errorf("expected 200, 500, or 501, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestWebServer_HandleLidarSnapshots_Additional(t *testing.T) {
	stats := NewPacketStats()
	config := WebServerConfig{
		Address:           ":0",
		Stats:             stats,
		SensorID:          "snapshot-sensor-2",
		UDPListenerConfig: network.UDPListenerConfig{Address: ":0"},
	}
	server := NewWebServer(config)

	req := httptest.NewRequest(http.MethodGet, "/api/lidar/snapshots?sensor_id=snapshot-sensor-2", nil)
	rr := httptest.NewRecorder()

	server.handleLidarSnapshots(rr, req)

	// May return various codes depending on DB configuration
	if rr.Code != http.StatusOK && rr.Code != http.StatusNotFound && rr.Code != http.StatusInternalServerError {
		t.Errorf("expected 200, 404, or 500, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestWebServer_HandleLidarSnapshotsCleanup_Additional(t *testing.T) {
	stats := NewPacketStats()
	config := WebServerConfig{
		Address:           ":0",
		Stats:             stats,
		SensorID:          "cleanup-sensor",
		UDPListenerConfig: network.UDPListenerConfig{Address: ":0"},
	}
	server := NewWebServer(config)

	req := httptest.NewRequest(http.MethodPost, "/api/lidar/snapshots/cleanup?sensor_id=cleanup-sensor&keep=5", nil)
	rr := httptest.NewRecorder()

	server.handleLidarSnapshotsCleanup(rr, req)

	// May return various codes depending on configuration
	if rr.Code != http.StatusOK && rr.Code != http.StatusNotFound && rr.Code != http.StatusBadRequest && rr.Code != http.StatusInternalServerError {
		t.Errorf("expected 200, 400, 404, or 500, got %d: %s", rr.Code, rr.Body.String())
	}
}

// Note: PCAP start/stop/resume tests are already defined earlier in this file

func TestWebServer_HandlePCAPResumeLive_MethodNotAllowed_Simple(t *testing.T) {
	stats := NewPacketStats()
	config := WebServerConfig{
		Address:           ":0",
		Stats:             stats,
		SensorID:          "pcap-sensor",
		UDPListenerConfig: network.UDPListenerConfig{Address: ":0"},
	}
	server := NewWebServer(config)

	req := httptest.NewRequest(http.MethodGet, "/api/lidar/pcap/resume?sensor_id=pcap-sensor", nil)
	rr := httptest.NewRecorder()

	server.handlePCAPResumeLive(rr, req)

	if rr.Code != http.StatusMethodNotAllowed {
		t.Errorf("expected 405, got %d", rr.Code)
	}
}

func TestWebServer_HandlePCAPResumeLive_MissingSensorID(t *testing.T) {
	stats := NewPacketStats()
	config := WebServerConfig{
		Address:           ":0",
		Stats:             stats,
		SensorID:          "pcap-sensor",
		UDPListenerConfig: network.UDPListenerConfig{Address: ":0"},
	}
	server := NewWebServer(config)

	req := httptest.NewRequest(http.MethodPost, "/api/lidar/pcap/resume", nil)
	rr := httptest.NewRecorder()

	server.handlePCAPResumeLive(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rr.Code)
	}
}

func TestWebServer_HandleExportNextFrameASC(t *testing.T) {
	stats := NewPacketStats()
	config := WebServerConfig{
		Address:           ":0",
		Stats:             stats,
		SensorID:          "export-sensor",
		UDPListenerConfig: network.UDPListenerConfig{Address: ":0"},
	}
	server := NewWebServer(config)

	req := httptest.NewRequest(http.MethodGet, "/api/lidar/export/next?sensor_id=export-sensor", nil)
	rr := httptest.NewRecorder()

	server.handleExportNextFrameASC(rr, req)

	// May return 200 or 404 depending on frame availability
	if rr.Code != http.StatusOK && rr.Code != http.StatusNotFound {
		t.Errorf("expected 200 or 404, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestWebServer_HandleExportForegroundASC(t *testing.T) {
	stats := NewPacketStats()
	config := WebServerConfig{
		Address:           ":0",
		Stats:             stats,
		SensorID:          "export-fg-sensor",
		UDPListenerConfig: network.UDPListenerConfig{Address: ":0"},
	}
	server := NewWebServer(config)

	req := httptest.NewRequest(http.MethodGet, "/api/lidar/export/foreground?sensor_id=export-fg-sensor", nil)
	rr := httptest.NewRecorder()

	server.handleExportForegroundASC(rr, req)

	// May return various codes depending on state
	if rr.Code != http.StatusOK && rr.Code != http.StatusNotFound && rr.Code != http.StatusInternalServerError {
		t.Errorf("expected 200, 404, or 500, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestWebServer_HandleLidarSnapshot_MethodNotAllowed_Delete(t *testing.T) {
	stats := NewPacketStats()
	config := WebServerConfig{
		Address:           ":0",
		Stats:             stats,
		SensorID:          "snapshot-sensor",
		UDPListenerConfig: network.UDPListenerConfig{Address: ":0"},
	}
	server := NewWebServer(config)

	req := httptest.NewRequest(http.MethodDelete, "/api/lidar/snapshot", nil)
	rr := httptest.NewRecorder()

	server.handleLidarSnapshot(rr, req)

	if rr.Code != http.StatusMethodNotAllowed {
		t.Errorf("expected 405, got %d", rr.Code)
	}
}

func TestSwitchError(t *testing.T) {
	// Test the switchError type
	originalErr := http.ErrAbortHandler
	se := &switchError{status: 500, err: originalErr}

	if se.Error() != originalErr.Error() {
		t.Errorf("expected Error() to return underlying error message")
	}

	if se.Unwrap() != originalErr {
		t.Errorf("expected Unwrap() to return underlying error")
	}
}

func TestWebServer_DataSourceManager_Integration(t *testing.T) {
	mockDSM := NewMockDataSourceManager()
	stats := NewPacketStats()

	config := WebServerConfig{
		Address:           ":0",
		Stats:             stats,
		DataSourceManager: mockDSM,
		UDPListenerConfig: network.UDPListenerConfig{Address: ":0"},
	}

	server := NewWebServer(config)

	// Test that methods delegate to mock
	ctx := context.Background()

	// Start live listener
	err := server.StartLiveListener(ctx)
	if err != nil {
		t.Errorf("StartLiveListener failed: %v", err)
	}
	if mockDSM.StartLiveCalls != 1 {
		t.Errorf("Expected 1 StartLiveCalls, got %d", mockDSM.StartLiveCalls)
	}

	// Check current source
	if server.GetCurrentSource() != DataSourceLive {
		t.Errorf("Expected source DataSourceLive, got %s", server.GetCurrentSource())
	}

	// Stop live listener
	err = server.StopLiveListener()
	if err != nil {
		t.Errorf("StopLiveListener failed: %v", err)
	}
	if mockDSM.StopLiveCalls != 1 {
		t.Errorf("Expected 1 StopLiveCalls, got %d", mockDSM.StopLiveCalls)
	}

	// Check PCAP not in progress
	if server.IsPCAPInProgress() {
		t.Error("Expected PCAP not in progress")
	}

	// Test PCAP file returns empty when not set
	if server.GetCurrentPCAPFile() != "" {
		t.Errorf("Expected empty PCAP file, got '%s'", server.GetCurrentPCAPFile())
	}
}

func TestWebServer_DataSourceManager_ErrorInjection(t *testing.T) {
	mockDSM := NewMockDataSourceManager()
	mockDSM.StartLiveError = ErrSourceAlreadyActive
	stats := NewPacketStats()

	config := WebServerConfig{
		Address:           ":0",
		Stats:             stats,
		DataSourceManager: mockDSM,
		UDPListenerConfig: network.UDPListenerConfig{Address: ":0"},
	}

	server := NewWebServer(config)

	// Test error injection
	err := server.StartLiveListener(context.Background())
	if err != ErrSourceAlreadyActive {
		t.Errorf("Expected ErrSourceAlreadyActive, got %v", err)
	}
}

func TestWebServer_RealDataSourceManager(t *testing.T) {
	// Test that WebServer creates RealDataSourceManager when none provided
	stats := NewPacketStats()

	config := WebServerConfig{
		Address:           ":0",
		Stats:             stats,
		UDPListenerConfig: network.UDPListenerConfig{Address: ":0"},
		// No DataSourceManager - will create RealDataSourceManager
	}

	server := NewWebServer(config)

	// These should use RealDataSourceManager
	source := server.GetCurrentSource()
	if source != DataSourceLive {
		t.Errorf("Expected DataSourceLive, got %s", source)
	}

	pcapFile := server.GetCurrentPCAPFile()
	if pcapFile != "" {
		t.Errorf("Expected empty PCAP file, got '%s'", pcapFile)
	}

	inProgress := server.IsPCAPInProgress()
	if inProgress {
		t.Error("Expected PCAP not in progress")
	}
}
func TestWebServer_InternalMethods(t *testing.T) {
	stats := NewPacketStats()

	config := WebServerConfig{
		Address:           ":0",
		Stats:             stats,
		UDPListenerConfig: network.UDPListenerConfig{Address: ":0"},
	}

	server := NewWebServer(config)

	// Test BaseContext before setting it
	ctx := server.BaseContext()
	if ctx != nil {
		t.Error("Expected nil context before setBaseContext")
	}

	// Set base context
	baseCtx := context.Background()
	server.setBaseContext(baseCtx)

	// Now BaseContext should return the set context
	ctx = server.BaseContext()
	if ctx == nil {
		t.Error("Expected non-nil context after setBaseContext")
	}
	if ctx != baseCtx {
		t.Error("Expected BaseContext to return the same context that was set")
	}
}

func TestWebServer_StartLiveListenerInternal(t *testing.T) {
	stats := NewPacketStats()

	config := WebServerConfig{
		Address:           ":0",
		Stats:             stats,
		UDPListenerConfig: network.UDPListenerConfig{Address: ":0"},
	}

	server := NewWebServer(config)

	// Set up base context
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	server.setBaseContext(ctx)

	// StartLiveListenerInternal should succeed with proper context and address :0
	err := server.StartLiveListenerInternal(ctx)
	// Always defer stop - it's safe to call even if start failed
	defer server.StopLiveListenerInternal()
	if err != nil {
		t.Errorf("StartLiveListenerInternal failed: %v", err)
	}
}

func TestWebServer_ResolvePCAPPath(t *testing.T) {
	stats := NewPacketStats()

	config := WebServerConfig{
		Address:           ":0",
		Stats:             stats,
		UDPListenerConfig: network.UDPListenerConfig{Address: ":0"},
	}

	server := NewWebServer(config)

	// Test with empty pcap_file
	_, err := server.resolvePCAPPath("")
	if err == nil {
		t.Error("Expected error for empty pcap_file")
	}

	// Test with pcapSafeDir not configured
	_, err = server.resolvePCAPPath("test.pcap")
	if err == nil {
		t.Error("Expected error when pcapSafeDir not configured")
	}

	// Test with configured safe dir but non-existent file
	server.pcapSafeDir = "/tmp"
	_, err = server.resolvePCAPPath("nonexistent.pcap")
	if err == nil {
		t.Error("Expected error for non-existent file")
	}
}

func TestWebServer_LatestFgCounts(t *testing.T) {
	sensorID := "test-counts-" + time.Now().Format("150405")
	cleanup := setupTestBackgroundManager(t, sensorID)
	defer cleanup()

	stats := NewPacketStats()

	config := WebServerConfig{
		Address:           ":0",
		Stats:             stats,
		SensorID:          sensorID,
		UDPListenerConfig: network.UDPListenerConfig{Address: ":0"},
	}

	server := NewWebServer(config)

	// Update with sensor ID
	server.updateLatestFgCounts(sensorID)

	// Get counts returns a map (may be nil if no background manager registered)
	counts := server.getLatestFgCounts()
	// This is acceptable - counts can be nil if background manager doesn't have counts yet
	t.Logf("Got counts: %v", counts)
}

func TestWebServer_HandleTuningParams_GET(t *testing.T) {
	sensorID := "test-params-" + time.Now().Format("150405")
	cleanup := setupTestBackgroundManager(t, sensorID)
	defer cleanup()

	stats := NewPacketStats()
	config := WebServerConfig{
		Address:           ":0",
		Stats:             stats,
		SensorID:          sensorID,
		UDPListenerConfig: network.UDPListenerConfig{Address: ":0"},
	}

	server := NewWebServer(config)

	req := httptest.NewRequest(http.MethodGet, "/api/lidar/background/params?sensor_id="+sensorID, nil)
	rec := httptest.NewRecorder()

	server.handleTuningParams(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("got status %d, want %d", rec.Code, http.StatusOK)
	}
}

func TestWebServer_HandleTuningParams_POST(t *testing.T) {
	sensorID := "test-params-post-" + time.Now().Format("150405")
	cleanup := setupTestBackgroundManager(t, sensorID)
	defer cleanup()

	stats := NewPacketStats()
	config := WebServerConfig{
		Address:           ":0",
		Stats:             stats,
		SensorID:          sensorID,
		UDPListenerConfig: network.UDPListenerConfig{Address: ":0"},
	}

	server := NewWebServer(config)

	body := `{"sensor_id":"` + sensorID + `", "closeness_threshold": 0.5, "neighbor_threshold": 3}`
	req := httptest.NewRequest(http.MethodPost, "/api/lidar/background/params?sensor_id="+sensorID, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()

	server.handleTuningParams(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("got status %d, want %d, body: %s", rec.Code, http.StatusOK, rec.Body.String())
	}
}

func TestWebServer_HandleLidarPersist(t *testing.T) {
	sensorID := "test-persist-" + time.Now().Format("150405")
	cleanup := setupTestBackgroundManager(t, sensorID)
	defer cleanup()

	stats := NewPacketStats()
	config := WebServerConfig{
		Address:           ":0",
		Stats:             stats,
		SensorID:          sensorID,
		UDPListenerConfig: network.UDPListenerConfig{Address: ":0"},
	}

	server := NewWebServer(config)

	params := url.Values{}
	params.Set("sensor_id", sensorID)
	req := httptest.NewRequest(http.MethodPost, "/api/lidar/persist?"+params.Encode(), nil)
	rec := httptest.NewRecorder()

	server.handleLidarPersist(rec, req)

	// Should fail because no BgStore configured
	if rec.Code != http.StatusInternalServerError && rec.Code != http.StatusMethodNotAllowed {
		// May return different status depending on setup
		t.Logf("handleLidarPersist returned status %d", rec.Code)
	}
}

func TestWebServer_HandlePCAPStart_NoPCAPDir(t *testing.T) {
	stats := NewPacketStats()
	sensorID := "test-sensor"
	config := WebServerConfig{
		Address:           ":0",
		Stats:             stats,
		SensorID:          sensorID,
		UDPListenerConfig: network.UDPListenerConfig{Address: ":0"},
	}

	server := NewWebServer(config)

	body := `{"pcap_file": "test.pcap"}`
	params := url.Values{}
	params.Set("sensor_id", sensorID)
	req := httptest.NewRequest(http.MethodPost, "/api/lidar/pcap/start?"+params.Encode(), strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()

	server.handlePCAPStart(rec, req)

	// Should fail because pcapSafeDir not configured - expect 500 Internal Server Error
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("Expected status %d, got %d", http.StatusInternalServerError, rec.Code)
	}
}

func TestWebServer_HandlePCAPStop_NotRunning(t *testing.T) {
	stats := NewPacketStats()

	mockDSM := NewMockDataSourceManager()
	mockDSM.source = DataSourceLive

	config := WebServerConfig{
		Address:           ":0",
		Stats:             stats,
		SensorID:          "test-sensor",
		DataSourceManager: mockDSM,
		UDPListenerConfig: network.UDPListenerConfig{Address: ":0"},
	}

	server := NewWebServer(config)

	req := httptest.NewRequest(http.MethodPost, "/api/lidar/pcap/stop", nil)
	rec := httptest.NewRecorder()

	server.handlePCAPStop(rec, req)

	// Should indicate no PCAP running or succeed
	t.Logf("handlePCAPStop returned status %d", rec.Code)
}

func TestWebServer_HandlePCAPResumeLive(t *testing.T) {
	stats := NewPacketStats()

	mockDSM := NewMockDataSourceManager()
	mockDSM.source = DataSourcePCAP

	config := WebServerConfig{
		Address:           ":0",
		Stats:             stats,
		SensorID:          "test-sensor",
		DataSourceManager: mockDSM,
		UDPListenerConfig: network.UDPListenerConfig{Address: ":0"},
	}

	server := NewWebServer(config)

	req := httptest.NewRequest(http.MethodPost, "/api/lidar/pcap/resume_live", nil)
	rec := httptest.NewRecorder()

	server.handlePCAPResumeLive(rec, req)

	// May succeed or fail depending on setup
	t.Logf("handlePCAPResumeLive returned status %d", rec.Code)
}

func TestWebServer_HandleLidarSnapshots(t *testing.T) {
	stats := NewPacketStats()

	config := WebServerConfig{
		Address:           ":0",
		Stats:             stats,
		SensorID:          "test-sensor",
		UDPListenerConfig: network.UDPListenerConfig{Address: ":0"},
	}

	server := NewWebServer(config)

	req := httptest.NewRequest(http.MethodGet, "/api/lidar/snapshots", nil)
	rec := httptest.NewRecorder()

	server.handleLidarSnapshots(rec, req)

	// Should work but return empty or error
	t.Logf("handleLidarSnapshots returned status %d", rec.Code)
}

func TestWebServer_HandleLidarSnapshot_NoID(t *testing.T) {
	stats := NewPacketStats()

	config := WebServerConfig{
		Address:           ":0",
		Stats:             stats,
		SensorID:          "test-sensor",
		UDPListenerConfig: network.UDPListenerConfig{Address: ":0"},
	}

	server := NewWebServer(config)

	req := httptest.NewRequest(http.MethodGet, "/api/lidar/snapshots/123", nil)
	rec := httptest.NewRecorder()

	server.handleLidarSnapshot(rec, req)

	// Should return not found or error
	t.Logf("handleLidarSnapshot returned status %d", rec.Code)
}

func TestWebServer_HandleExportSnapshotASC(t *testing.T) {
	stats := NewPacketStats()

	config := WebServerConfig{
		Address:           ":0",
		Stats:             stats,
		SensorID:          "test-sensor",
		UDPListenerConfig: network.UDPListenerConfig{Address: ":0"},
	}

	server := NewWebServer(config)

	req := httptest.NewRequest(http.MethodGet, "/api/lidar/export/snapshot/123.asc", nil)
	rec := httptest.NewRecorder()

	server.handleExportSnapshotASC(rec, req)

	// Should return not found or error for invalid snapshot ID
	t.Logf("handleExportSnapshotASC returned status %d", rec.Code)
}

func TestWebServer_HandleBackgroundGridPolar(t *testing.T) {
	sensorID := "test-polar-" + time.Now().Format("150405")
	cleanup := setupTestBackgroundManager(t, sensorID)
	defer cleanup()

	stats := NewPacketStats()
	config := WebServerConfig{
		Address:           ":0",
		Stats:             stats,
		SensorID:          sensorID,
		UDPListenerConfig: network.UDPListenerConfig{Address: ":0"},
	}

	server := NewWebServer(config)

	req := httptest.NewRequest(http.MethodGet, "/api/lidar/background/polar", nil)
	rec := httptest.NewRecorder()

	server.handleBackgroundGridPolar(rec, req)

	// May succeed or return not found depending on grid state
	if rec.Code != http.StatusOK && rec.Code != http.StatusNotFound {
		t.Errorf("got status %d, want OK or NotFound", rec.Code)
	}
}
func TestWebServer_ResetBackgroundGrid(t *testing.T) {
	sensorID := "test-reset-bg-" + time.Now().Format("150405")
	cleanup := setupTestBackgroundManager(t, sensorID)
	defer cleanup()

	stats := NewPacketStats()
	config := WebServerConfig{
		Address:           ":0",
		Stats:             stats,
		SensorID:          sensorID,
		UDPListenerConfig: network.UDPListenerConfig{Address: ":0"},
	}

	server := NewWebServer(config)

	// Call resetBackgroundGrid - should not error with valid manager
	err := server.resetBackgroundGrid()
	if err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestWebServer_ResetBackgroundGrid_NoManager(t *testing.T) {
	stats := NewPacketStats()
	config := WebServerConfig{
		Address:           ":0",
		Stats:             stats,
		SensorID:          "nonexistent-sensor",
		UDPListenerConfig: network.UDPListenerConfig{Address: ":0"},
	}

	server := NewWebServer(config)

	// Call resetBackgroundGrid - should not error when no manager
	err := server.resetBackgroundGrid()
	if err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestWebServer_ResetFrameBuilder(t *testing.T) {
	sensorID := "test-reset-fb-" + time.Now().Format("150405")

	stats := NewPacketStats()
	config := WebServerConfig{
		Address:           ":0",
		Stats:             stats,
		SensorID:          sensorID,
		UDPListenerConfig: network.UDPListenerConfig{Address: ":0"},
	}

	server := NewWebServer(config)

	// Call resetFrameBuilder - should not panic
	server.resetFrameBuilder()
}

func TestWebServer_ResetAllState(t *testing.T) {
	sensorID := "test-reset-all-" + time.Now().Format("150405")
	cleanup := setupTestBackgroundManager(t, sensorID)
	defer cleanup()

	stats := NewPacketStats()
	config := WebServerConfig{
		Address:           ":0",
		Stats:             stats,
		SensorID:          sensorID,
		UDPListenerConfig: network.UDPListenerConfig{Address: ":0"},
	}

	server := NewWebServer(config)

	// Call resetAllState - should not error
	err := server.resetAllState()
	if err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestWebServer_StopPCAPInternal(t *testing.T) {
	stats := NewPacketStats()
	config := WebServerConfig{
		Address:           ":0",
		Stats:             stats,
		SensorID:          "test-stop-pcap",
		UDPListenerConfig: network.UDPListenerConfig{Address: ":0"},
	}

	server := NewWebServer(config)

	// Call StopPCAPInternal when no PCAP is running - should not panic
	server.StopPCAPInternal()
}

func TestWebServer_HandleChartClustersJSON_WithDB(t *testing.T) {
	sensorID := "test-clusters-db-" + time.Now().Format("150405")
	cleanup := setupTestBackgroundManager(t, sensorID)
	defer cleanup()

	stats := NewPacketStats()
	config := WebServerConfig{
		Address:           ":0",
		Stats:             stats,
		SensorID:          sensorID,
		UDPListenerConfig: network.UDPListenerConfig{Address: ":0"},
	}

	server := NewWebServer(config)

	req := httptest.NewRequest(http.MethodGet, "/api/lidar/chart/clusters.json?sensor_id="+sensorID, nil)
	rec := httptest.NewRecorder()

	server.handleChartClustersJSON(rec, req)

	// May return empty data or error, but should exercise the code path
	t.Logf("handleChartClustersJSON returned status %d", rec.Code)
}

func TestWebServer_HandleBackgroundGridPolar_AdditionalCoverage(t *testing.T) {
	sensorID := "test-polar-extra-" + time.Now().Format("150405")
	cleanup := setupTestBackgroundManager(t, sensorID)
	defer cleanup()

	stats := NewPacketStats()
	config := WebServerConfig{
		Address:           ":0",
		Stats:             stats,
		SensorID:          sensorID,
		UDPListenerConfig: network.UDPListenerConfig{Address: ":0"},
	}

	server := NewWebServer(config)

	// Test with query params for additional coverage
	req := httptest.NewRequest(http.MethodGet, "/api/lidar/background/polar?sensor_id="+sensorID+"&format=json", nil)
	rec := httptest.NewRecorder()

	server.handleBackgroundGridPolar(rec, req)

	t.Logf("handleBackgroundGridPolar returned status %d", rec.Code)
}

func TestWebServer_HandleGridHeatmap_AdditionalCoverage(t *testing.T) {
	sensorID := "test-heatmap-extra-" + time.Now().Format("150405")
	cleanup := setupTestBackgroundManager(t, sensorID)
	defer cleanup()

	stats := NewPacketStats()
	config := WebServerConfig{
		Address:           ":0",
		Stats:             stats,
		SensorID:          sensorID,
		UDPListenerConfig: network.UDPListenerConfig{Address: ":0"},
	}

	server := NewWebServer(config)

	// Test with query params
	req := httptest.NewRequest(http.MethodGet, "/api/lidar/heatmap?sensor_id="+sensorID+"&format=json", nil)
	rec := httptest.NewRecorder()

	server.handleGridHeatmap(rec, req)

	t.Logf("handleGridHeatmap returned status %d", rec.Code)
}

func TestWebServer_HandleLidarSnapshot_GET(t *testing.T) {
	sensorID := "test-snapshot-get-" + time.Now().Format("150405")

	stats := NewPacketStats()
	config := WebServerConfig{
		Address:           ":0",
		Stats:             stats,
		SensorID:          sensorID,
		UDPListenerConfig: network.UDPListenerConfig{Address: ":0"},
	}

	server := NewWebServer(config)

	// Test GET with sensor_id
	req := httptest.NewRequest(http.MethodGet, "/api/lidar/snapshots/1?sensor_id="+sensorID, nil)
	rec := httptest.NewRecorder()

	server.handleLidarSnapshot(rec, req)

	t.Logf("handleLidarSnapshot GET returned status %d", rec.Code)
}

func TestWebServer_HandleLidarSnapshot_DELETE(t *testing.T) {
	sensorID := "test-snapshot-del-" + time.Now().Format("150405")

	stats := NewPacketStats()
	config := WebServerConfig{
		Address:           ":0",
		Stats:             stats,
		SensorID:          sensorID,
		UDPListenerConfig: network.UDPListenerConfig{Address: ":0"},
	}

	server := NewWebServer(config)

	// Test DELETE with sensor_id
	req := httptest.NewRequest(http.MethodDelete, "/api/lidar/snapshots/1?sensor_id="+sensorID, nil)
	rec := httptest.NewRecorder()

	server.handleLidarSnapshot(rec, req)

	t.Logf("handleLidarSnapshot DELETE returned status %d", rec.Code)
}

func TestWebServer_HandleClustersChart_NoTrackDB(t *testing.T) {
	sensorID := "test-clusters-chart-" + time.Now().Format("150405")
	cleanup := setupTestBackgroundManager(t, sensorID)
	defer cleanup()

	stats := NewPacketStats()
	config := WebServerConfig{
		Address:           ":0",
		Stats:             stats,
		SensorID:          sensorID,
		UDPListenerConfig: network.UDPListenerConfig{Address: ":0"},
	}

	server := NewWebServer(config)

	req := httptest.NewRequest(http.MethodGet, "/api/lidar/chart/clusters?sensor_id="+sensorID, nil)
	rec := httptest.NewRecorder()

	server.handleClustersChart(rec, req)

	// Should return 503 Service Unavailable for missing track DB
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected status %d, got %d; body: %s", http.StatusServiceUnavailable, rec.Code, rec.Body.String())
	}
}

func TestWebServer_HandleTracksChart_NoTrackDB(t *testing.T) {
	sensorID := "test-tracks-chart-" + time.Now().Format("150405")
	cleanup := setupTestBackgroundManager(t, sensorID)
	defer cleanup()

	stats := NewPacketStats()
	config := WebServerConfig{
		Address:           ":0",
		Stats:             stats,
		SensorID:          sensorID,
		UDPListenerConfig: network.UDPListenerConfig{Address: ":0"},
	}

	server := NewWebServer(config)

	req := httptest.NewRequest(http.MethodGet, "/api/lidar/chart/tracks?sensor_id="+sensorID, nil)
	rec := httptest.NewRecorder()

	server.handleTracksChart(rec, req)

	// Should return 503 Service Unavailable for missing track DB
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected status %d, got %d; body: %s", http.StatusServiceUnavailable, rec.Code, rec.Body.String())
	}
}

func TestWebServer_HandleBackgroundGridHeatmapChart_WithManager(t *testing.T) {
	sensorID := "test-heatmap-chart-" + time.Now().Format("150405")
	cleanup := setupTestBackgroundManager(t, sensorID)
	defer cleanup()

	stats := NewPacketStats()
	config := WebServerConfig{
		Address:           ":0",
		Stats:             stats,
		SensorID:          sensorID,
		UDPListenerConfig: network.UDPListenerConfig{Address: ":0"},
	}

	server := NewWebServer(config)

	req := httptest.NewRequest(http.MethodGet, "/api/lidar/chart/background/heatmap?sensor_id="+sensorID, nil)
	rec := httptest.NewRecorder()

	server.handleBackgroundGridHeatmapChart(rec, req)

	// Should succeed or return error for missing template
	t.Logf("handleBackgroundGridHeatmapChart returned status %d", rec.Code)
}

func TestWebServer_HandleForegroundFrameChart_WithManager(t *testing.T) {
	sensorID := "test-fg-chart-" + time.Now().Format("150405")
	cleanup := setupTestBackgroundManager(t, sensorID)
	defer cleanup()

	stats := NewPacketStats()
	config := WebServerConfig{
		Address:           ":0",
		Stats:             stats,
		SensorID:          sensorID,
		UDPListenerConfig: network.UDPListenerConfig{Address: ":0"},
	}

	server := NewWebServer(config)

	req := httptest.NewRequest(http.MethodGet, "/api/lidar/chart/foreground/frame?sensor_id="+sensorID, nil)
	rec := httptest.NewRecorder()

	server.handleForegroundFrameChart(rec, req)

	// Should succeed or return error
	t.Logf("handleForegroundFrameChart returned status %d", rec.Code)
}

func TestWebServer_HandleLidarSnapshots_ListSaved(t *testing.T) {
	sensorID := "test-snapshots-list-" + time.Now().Format("150405")
	cleanup := setupTestBackgroundManager(t, sensorID)
	defer cleanup()

	stats := NewPacketStats()
	config := WebServerConfig{
		Address:           ":0",
		Stats:             stats,
		SensorID:          sensorID,
		UDPListenerConfig: network.UDPListenerConfig{Address: ":0"},
	}

	server := NewWebServer(config)

	req := httptest.NewRequest(http.MethodGet, "/api/lidar/snapshots?sensor_id="+sensorID+"&type=saved", nil)
	rec := httptest.NewRecorder()

	server.handleLidarSnapshots(rec, req)

	t.Logf("handleLidarSnapshots (saved) returned status %d", rec.Code)
}

func TestWebServer_HandleLidarSnapshots_MethodNotAllowed_POST(t *testing.T) {
	stats := NewPacketStats()
	config := WebServerConfig{
		Address:           ":0",
		Stats:             stats,
		SensorID:          "test-sensor",
		UDPListenerConfig: network.UDPListenerConfig{Address: ":0"},
	}

	server := NewWebServer(config)

	req := httptest.NewRequest(http.MethodPost, "/api/lidar/snapshots?sensor_id=test-sensor", nil)
	rec := httptest.NewRecorder()

	server.handleLidarSnapshots(rec, req)

	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("got status %d, want %d", rec.Code, http.StatusMethodNotAllowed)
	}
}

func TestWebServer_HandleExportFrameSequenceASC(t *testing.T) {
	sensorID := "test-export-frame-" + time.Now().Format("150405")
	cleanup := setupTestBackgroundManager(t, sensorID)
	defer cleanup()

	stats := NewPacketStats()
	config := WebServerConfig{
		Address:           ":0",
		Stats:             stats,
		SensorID:          sensorID,
		UDPListenerConfig: network.UDPListenerConfig{Address: ":0"},
	}

	server := NewWebServer(config)

	req := httptest.NewRequest(http.MethodGet, "/api/lidar/export/frame/sequence.asc?sensor_id="+sensorID+"&count=5", nil)
	rec := httptest.NewRecorder()

	server.handleExportFrameSequenceASC(rec, req)

	t.Logf("handleExportFrameSequenceASC returned status %d", rec.Code)
}

func TestWebServer_HandleLidarSnapshotsCleanup_WithSensorID(t *testing.T) {
	sensorID := "test-cleanup-" + time.Now().Format("150405")
	cleanup := setupTestBackgroundManager(t, sensorID)
	defer cleanup()

	stats := NewPacketStats()
	config := WebServerConfig{
		Address:           ":0",
		Stats:             stats,
		SensorID:          sensorID,
		UDPListenerConfig: network.UDPListenerConfig{Address: ":0"},
	}

	server := NewWebServer(config)

	req := httptest.NewRequest(http.MethodPost, "/api/lidar/snapshots/cleanup?sensor_id="+sensorID, nil)
	rec := httptest.NewRecorder()

	server.handleLidarSnapshotsCleanup(rec, req)

	t.Logf("handleLidarSnapshotsCleanup returned status %d", rec.Code)
}

func TestWebServer_HandleBackgroundGrid_WithSensorID(t *testing.T) {
	sensorID := "test-bg-grid-" + time.Now().Format("150405")
	cleanup := setupTestBackgroundManager(t, sensorID)
	defer cleanup()

	stats := NewPacketStats()
	config := WebServerConfig{
		Address:           ":0",
		Stats:             stats,
		SensorID:          sensorID,
		UDPListenerConfig: network.UDPListenerConfig{Address: ":0"},
	}

	server := NewWebServer(config)

	req := httptest.NewRequest(http.MethodGet, "/api/lidar/background/grid?sensor_id="+sensorID, nil)
	rec := httptest.NewRecorder()

	server.handleBackgroundGrid(rec, req)

	// May return ok or not found
	t.Logf("handleBackgroundGrid returned status %d", rec.Code)
}

// TestWebServer_ResolvePCAPPath_WithRealFile tests PCAP path resolution with real file
func TestWebServer_ResolvePCAPPath_WithRealFile(t *testing.T) {
	// Get absolute path to the PCAP directory
	cwd, err := os.Getwd()
	if err != nil {
		t.Fatalf("Failed to get current directory: %v", err)
	}
	pcapDir := cwd + "/../perf/pcap"
	pcapFile := "kirk0.pcapng"

	stats := NewPacketStats()
	config := WebServerConfig{
		Address:           ":0",
		Stats:             stats,
		SensorID:          "test-pcap-resolve",
		PCAPSafeDir:       pcapDir,
		UDPListenerConfig: network.UDPListenerConfig{Address: ":0"},
	}

	server := NewWebServer(config)

	// Test resolution of existing file
	resolved, err := server.resolvePCAPPath(pcapFile)
	if err != nil {
		t.Fatalf("Failed to resolve PCAP path: %v", err)
	}
	if resolved == "" {
		t.Error("Expected non-empty resolved path")
	}
	t.Logf("Resolved PCAP path: %s", resolved)
}

// TestWebServer_ResolvePCAPPath_EmptyFile tests PCAP path with empty filename
func TestWebServer_ResolvePCAPPath_EmptyFile(t *testing.T) {
	cwd, err := os.Getwd()
	if err != nil {
		t.Fatalf("Failed to get current directory: %v", err)
	}
	pcapDir := cwd + "/../perf/pcap"

	stats := NewPacketStats()
	config := WebServerConfig{
		Address:           ":0",
		Stats:             stats,
		SensorID:          "test-pcap-empty",
		PCAPSafeDir:       pcapDir,
		UDPListenerConfig: network.UDPListenerConfig{Address: ":0"},
	}

	server := NewWebServer(config)

	_, resolveErr := server.resolvePCAPPath("")
	if resolveErr == nil {
		t.Error("Expected error for empty filename")
	}
}

// TestWebServer_ResolvePCAPPath_TraversalAttempt tests directory traversal protection
func TestWebServer_ResolvePCAPPath_TraversalAttempt(t *testing.T) {
	cwd, err := os.Getwd()
	if err != nil {
		t.Fatalf("Failed to get current directory: %v", err)
	}
	pcapDir := cwd + "/../perf/pcap"

	stats := NewPacketStats()
	config := WebServerConfig{
		Address:           ":0",
		Stats:             stats,
		SensorID:          "test-pcap-traversal",
		PCAPSafeDir:       pcapDir,
		UDPListenerConfig: network.UDPListenerConfig{Address: ":0"},
	}

	server := NewWebServer(config)

	// Attempt to access file outside safe directory
	_, resolveErr := server.resolvePCAPPath("../../../go.mod")
	if resolveErr == nil {
		t.Error("Expected error for directory traversal attempt")
	}
}

// TestWebServer_ResolvePCAPPath_NonExistentFile tests PCAP path with non-existent file
func TestWebServer_ResolvePCAPPath_NonExistentFile(t *testing.T) {
	cwd, err := os.Getwd()
	if err != nil {
		t.Fatalf("Failed to get current directory: %v", err)
	}
	pcapDir := cwd + "/../perf/pcap"

	stats := NewPacketStats()
	config := WebServerConfig{
		Address:           ":0",
		Stats:             stats,
		SensorID:          "test-pcap-nonexistent",
		PCAPSafeDir:       pcapDir,
		UDPListenerConfig: network.UDPListenerConfig{Address: ":0"},
	}

	server := NewWebServer(config)

	_, resolveErr := server.resolvePCAPPath("nonexistent.pcap")
	if resolveErr == nil {
		t.Error("Expected error for non-existent file")
	}
}

// TestWebServer_HandlePCAPStart_WithRealFile tests PCAP start handler with real file
func TestWebServer_HandlePCAPStart_WithRealFile(t *testing.T) {
	sensorID := "test-pcap-start-" + time.Now().Format("150405")
	cleanup := setupTestBackgroundManager(t, sensorID)
	defer cleanup()

	cwd, err := os.Getwd()
	if err != nil {
		t.Fatalf("Failed to get current directory: %v", err)
	}
	pcapDir := cwd + "/../perf/pcap"

	stats := NewPacketStats()
	config := WebServerConfig{
		Address:           ":0",
		Stats:             stats,
		SensorID:          sensorID,
		PCAPSafeDir:       pcapDir,
		UDPListenerConfig: network.UDPListenerConfig{Address: ":0"},
	}

	server := NewWebServer(config)

	// Initialize base context using the exported setter method
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	server.setBaseContext(ctx)

	// Request to start PCAP replay
	body := `{"pcap_file": "kirk0.pcapng", "speed_mode": "fastest", "duration_seconds": 0.1}`
	req := httptest.NewRequest(http.MethodPost, "/api/lidar/pcap/start?sensor_id="+sensorID, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()

	server.handlePCAPStart(rec, req)

	t.Logf("handlePCAPStart returned status %d: %s", rec.Code, rec.Body.String())

	// Stop the PCAP replay if it started
	server.StopPCAPInternal()
}

// ====== Additional PCAP Tests for Coverage Improvement ======

// TestWebServer_StartPCAPInternal tests the StartPCAPInternal method directly
func TestWebServer_StartPCAPInternal(t *testing.T) {
	sensorID := "test-pcap-internal-" + time.Now().Format("150405")
	cleanup := setupTestBackgroundManager(t, sensorID)
	defer cleanup()

	cwd, err := os.Getwd()
	if err != nil {
		t.Fatalf("Failed to get current directory: %v", err)
	}
	pcapDir := cwd + "/../perf/pcap"

	stats := NewPacketStats()
	config := WebServerConfig{
		Address:           ":0",
		Stats:             stats,
		SensorID:          sensorID,
		PCAPSafeDir:       pcapDir,
		UDPListenerConfig: network.UDPListenerConfig{Address: ":0"},
	}

	server := NewWebServer(config)

	// Initialize base context
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	server.setBaseContext(ctx)

	// Test StartPCAPInternal with valid config
	replayConfig := ReplayConfig{
		SpeedMode:       "fastest",
		DurationSeconds: 0.1,
	}

	err = server.StartPCAPInternal("kirk0.pcapng", replayConfig)
	if err != nil {
		t.Logf("StartPCAPInternal returned error (may be expected): %v", err)
	}

	// Allow brief execution
	time.Sleep(50 * time.Millisecond)

	// Stop the replay
	server.StopPCAPInternal()
}

// TestWebServer_StartPCAPInternal_NoBaseContext tests StartPCAPInternal without base context
func TestWebServer_StartPCAPInternal_NoBaseContext(t *testing.T) {
	sensorID := "test-pcap-nocontext-" + time.Now().Format("150405")
	cleanup := setupTestBackgroundManager(t, sensorID)
	defer cleanup()

	cwd, err := os.Getwd()
	if err != nil {
		t.Fatalf("Failed to get current directory: %v", err)
	}
	pcapDir := cwd + "/../perf/pcap"

	stats := NewPacketStats()
	config := WebServerConfig{
		Address:           ":0",
		Stats:             stats,
		SensorID:          sensorID,
		PCAPSafeDir:       pcapDir,
		UDPListenerConfig: network.UDPListenerConfig{Address: ":0"},
	}

	server := NewWebServer(config)
	// Intentionally NOT setting base context

	replayConfig := ReplayConfig{
		SpeedMode:       "fastest",
		DurationSeconds: 0.1,
	}

	err = server.StartPCAPInternal("kirk0.pcapng", replayConfig)
	if err == nil {
		t.Error("Expected error when base context is not set")
		server.StopPCAPInternal()
	}
}

// TestWebServer_StartPCAPInternal_AlreadyRunning tests starting PCAP when one is already running
func TestWebServer_StartPCAPInternal_AlreadyRunning(t *testing.T) {
	sensorID := "test-pcap-conflict-" + time.Now().Format("150405")
	cleanup := setupTestBackgroundManager(t, sensorID)
	defer cleanup()

	cwd, err := os.Getwd()
	if err != nil {
		t.Fatalf("Failed to get current directory: %v", err)
	}
	pcapDir := cwd + "/../perf/pcap"

	stats := NewPacketStats()
	config := WebServerConfig{
		Address:           ":0",
		Stats:             stats,
		SensorID:          sensorID,
		PCAPSafeDir:       pcapDir,
		UDPListenerConfig: network.UDPListenerConfig{Address: ":0"},
	}

	server := NewWebServer(config)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	server.setBaseContext(ctx)

	replayConfig := ReplayConfig{
		SpeedMode:       "fastest",
		DurationSeconds: 1.0, // Longer duration to test conflict
	}

	// Start first PCAP
	err = server.StartPCAPInternal("kirk0.pcapng", replayConfig)
	if err != nil {
		t.Logf("First StartPCAPInternal returned error: %v", err)
	}

	// Brief pause to ensure first one starts
	time.Sleep(50 * time.Millisecond)

	// Try to start second PCAP (should fail with conflict)
	err = server.StartPCAPInternal("kirk0.pcapng", replayConfig)
	if err == nil {
		t.Log("Expected conflict error when starting second PCAP, but got nil")
	} else {
		t.Logf("Got expected error for conflict: %v", err)
	}

	server.StopPCAPInternal()
}

// TestWebServer_HandlePCAPStop_Success tests successful PCAP stop
func TestWebServer_HandlePCAPStop_Success(t *testing.T) {
	sensorID := "test-pcap-stop-" + time.Now().Format("150405")
	cleanup := setupTestBackgroundManager(t, sensorID)
	defer cleanup()

	cwd, err := os.Getwd()
	if err != nil {
		t.Fatalf("Failed to get current directory: %v", err)
	}
	pcapDir := cwd + "/../perf/pcap"

	stats := NewPacketStats()
	config := WebServerConfig{
		Address:           ":0",
		Stats:             stats,
		SensorID:          sensorID,
		PCAPSafeDir:       pcapDir,
		UDPListenerConfig: network.UDPListenerConfig{Address: ":0"},
	}

	server := NewWebServer(config)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	server.setBaseContext(ctx)

	// Start PCAP first
	replayConfig := ReplayConfig{
		SpeedMode:       "fastest",
		DurationSeconds: 5.0,
	}
	_ = server.StartPCAPInternal("kirk0.pcapng", replayConfig)
	time.Sleep(50 * time.Millisecond)

	// Now test handlePCAPStop
	req := httptest.NewRequest(http.MethodPost, "/api/lidar/pcap/stop?sensor_id="+sensorID, nil)
	rec := httptest.NewRecorder()

	server.handlePCAPStop(rec, req)

	t.Logf("handlePCAPStop returned status %d: %s", rec.Code, rec.Body.String())

	// Clean up
	server.StopPCAPInternal()
}

// TestWebServer_HandlePCAPResumeLive_Success tests resuming live after PCAP
func TestWebServer_HandlePCAPResumeLive_Success(t *testing.T) {
	sensorID := "test-pcap-resume-" + time.Now().Format("150405")
	cleanup := setupTestBackgroundManager(t, sensorID)
	defer cleanup()

	cwd, err := os.Getwd()
	if err != nil {
		t.Fatalf("Failed to get current directory: %v", err)
	}
	pcapDir := cwd + "/../perf/pcap"

	stats := NewPacketStats()
	config := WebServerConfig{
		Address:           ":0",
		Stats:             stats,
		SensorID:          sensorID,
		PCAPSafeDir:       pcapDir,
		UDPListenerConfig: network.UDPListenerConfig{Address: ":0"},
	}

	server := NewWebServer(config)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	server.setBaseContext(ctx)

	// Set up data source manager in analysis mode (which allows resume)
	server.dataSourceMu.Lock()
	server.currentSource = DataSourcePCAPAnalysis
	server.dataSourceMu.Unlock()

	// Test resume live
	req := httptest.NewRequest(http.MethodPost, "/api/lidar/pcap/resume_live?sensor_id="+sensorID, nil)
	rec := httptest.NewRecorder()

	server.handlePCAPResumeLive(rec, req)

	t.Logf("handlePCAPResumeLive returned status %d: %s", rec.Code, rec.Body.String())
}

// TestWebServer_StartPCAPInternal_RealtimeMode tests PCAP with realtime mode
func TestWebServer_StartPCAPInternal_RealtimeMode(t *testing.T) {
	sensorID := "test-pcap-realtime-" + time.Now().Format("150405")
	cleanup := setupTestBackgroundManager(t, sensorID)
	defer cleanup()

	cwd, err := os.Getwd()
	if err != nil {
		t.Fatalf("Failed to get current directory: %v", err)
	}
	pcapDir := cwd + "/../perf/pcap"

	stats := NewPacketStats()
	config := WebServerConfig{
		Address:           ":0",
		Stats:             stats,
		SensorID:          sensorID,
		PCAPSafeDir:       pcapDir,
		UDPListenerConfig: network.UDPListenerConfig{Address: ":0"},
	}

	server := NewWebServer(config)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	server.setBaseContext(ctx)

	// Test with realtime mode (uses different code path)
	replayConfig := ReplayConfig{
		SpeedMode:       "realtime",
		SpeedRatio:      10.0, // Speed up for testing
		DurationSeconds: 0.1,
	}

	err = server.StartPCAPInternal("kirk0.pcapng", replayConfig)
	if err != nil {
		t.Logf("StartPCAPInternal (realtime) returned error: %v", err)
	}

	time.Sleep(50 * time.Millisecond)
	server.StopPCAPInternal()
}

// TestWebServer_HandleBackgroundGridPolar_WithPCAPData tests polar chart with PCAP-populated data
func TestWebServer_HandleBackgroundGridPolar_WithPCAPData(t *testing.T) {
	sensorID := "test-polar-pcap-" + time.Now().Format("150405")
	cleanup := setupTestBackgroundManager(t, sensorID)
	defer cleanup()

	cwd, err := os.Getwd()
	if err != nil {
		t.Fatalf("Failed to get current directory: %v", err)
	}
	pcapDir := cwd + "/../perf/pcap"

	stats := NewPacketStats()
	config := WebServerConfig{
		Address:           ":0",
		Stats:             stats,
		SensorID:          sensorID,
		PCAPSafeDir:       pcapDir,
		UDPListenerConfig: network.UDPListenerConfig{Address: ":0"},
	}

	server := NewWebServer(config)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	server.setBaseContext(ctx)

	// Start brief PCAP to populate grid
	replayConfig := ReplayConfig{
		SpeedMode:       "fastest",
		DurationSeconds: 0.2,
	}
	_ = server.StartPCAPInternal("kirk0.pcapng", replayConfig)
	time.Sleep(100 * time.Millisecond)

	// Request polar chart data
	req := httptest.NewRequest(http.MethodGet, "/api/lidar/chart/polar?sensor_id="+sensorID, nil)
	rec := httptest.NewRecorder()

	mux := server.setupRoutes()
	mux.ServeHTTP(rec, req)

	t.Logf("handleBackgroundGridPolar returned status %d", rec.Code)

	server.StopPCAPInternal()
}

// TestWebServer_HandleTuningParams_POST_Complete tests setting tuning params
func TestWebServer_HandleTuningParams_POST_Complete(t *testing.T) {
	sensorID := "test-params-post-" + time.Now().Format("150405")
	cleanup := setupTestBackgroundManager(t, sensorID)
	defer cleanup()

	stats := NewPacketStats()
	config := WebServerConfig{
		Address:           ":0",
		Stats:             stats,
		SensorID:          sensorID,
		UDPListenerConfig: network.UDPListenerConfig{Address: ":0"},
	}

	server := NewWebServer(config)

	// POST with JSON body to set params
	body := `{"noise_relative_fraction": 0.05, "safety_margin_meters": 0.5}`
	req := httptest.NewRequest(http.MethodPost, "/api/lidar/background/params?sensor_id="+sensorID, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()

	server.handleTuningParams(rec, req)

	t.Logf("handleTuningParams POST returned status %d: %s", rec.Code, rec.Body.String())
}

// TestWebServer_HandleChartClustersJSON tests clusters chart endpoint
func TestWebServer_HandleChartClustersJSON_WithManager(t *testing.T) {
	sensorID := "test-clusters-" + time.Now().Format("150405")
	cleanup := setupTestBackgroundManager(t, sensorID)
	defer cleanup()

	stats := NewPacketStats()
	config := WebServerConfig{
		Address:           ":0",
		Stats:             stats,
		SensorID:          sensorID,
		UDPListenerConfig: network.UDPListenerConfig{Address: ":0"},
	}

	server := NewWebServer(config)

	req := httptest.NewRequest(http.MethodGet, "/api/lidar/chart/clusters/json?sensor_id="+sensorID, nil)
	rec := httptest.NewRecorder()

	mux := server.setupRoutes()
	mux.ServeHTTP(rec, req)

	t.Logf("handleChartClustersJSON returned status %d", rec.Code)
}

// TestWebServer_HandleClustersChart_WithManager tests HTML clusters chart
func TestWebServer_HandleClustersChart_Complete(t *testing.T) {
	sensorID := "test-clusters-html-" + time.Now().Format("150405")
	cleanup := setupTestBackgroundManager(t, sensorID)
	defer cleanup()

	stats := NewPacketStats()
	config := WebServerConfig{
		Address:           ":0",
		Stats:             stats,
		SensorID:          sensorID,
		UDPListenerConfig: network.UDPListenerConfig{Address: ":0"},
	}

	server := NewWebServer(config)

	req := httptest.NewRequest(http.MethodGet, "/api/lidar/chart/clusters?sensor_id="+sensorID, nil)
	rec := httptest.NewRecorder()

	mux := server.setupRoutes()
	mux.ServeHTTP(rec, req)

	t.Logf("handleClustersChart returned status %d", rec.Code)
}

// TestWebServer_HandleForegroundFrameChart_WithManager tests foreground frame chart
func TestWebServer_HandleForegroundFrameChart_Complete(t *testing.T) {
	sensorID := "test-fg-frame-" + time.Now().Format("150405")
	cleanup := setupTestBackgroundManager(t, sensorID)
	defer cleanup()

	stats := NewPacketStats()
	config := WebServerConfig{
		Address:           ":0",
		Stats:             stats,
		SensorID:          sensorID,
		UDPListenerConfig: network.UDPListenerConfig{Address: ":0"},
	}

	server := NewWebServer(config)

	req := httptest.NewRequest(http.MethodGet, "/api/lidar/chart/foreground_frame?sensor_id="+sensorID, nil)
	rec := httptest.NewRecorder()

	mux := server.setupRoutes()
	mux.ServeHTTP(rec, req)

	t.Logf("handleForegroundFrameChart returned status %d", rec.Code)
}

// TestWebServer_HandleLidarSnapshot_GET_Complete tests getting a specific snapshot
func TestWebServer_HandleLidarSnapshot_GET_Complete(t *testing.T) {
	sensorID := "test-snapshot-get-" + time.Now().Format("150405")
	cleanup := setupTestBackgroundManager(t, sensorID)
	defer cleanup()

	stats := NewPacketStats()
	config := WebServerConfig{
		Address:           ":0",
		Stats:             stats,
		SensorID:          sensorID,
		UDPListenerConfig: network.UDPListenerConfig{Address: ":0"},
	}

	server := NewWebServer(config)

	// GET request for a specific snapshot ID
	req := httptest.NewRequest(http.MethodGet, "/api/lidar/snapshots/123?sensor_id="+sensorID, nil)
	rec := httptest.NewRecorder()

	mux := server.setupRoutes()
	mux.ServeHTTP(rec, req)

	t.Logf("handleLidarSnapshot GET returned status %d", rec.Code)
}

// TestWebServer_HandleLidarSnapshots_GET_List tests listing snapshots
func TestWebServer_HandleLidarSnapshots_GET_List(t *testing.T) {
	sensorID := "test-snapshots-list-" + time.Now().Format("150405")
	cleanup := setupTestBackgroundManager(t, sensorID)
	defer cleanup()

	stats := NewPacketStats()
	config := WebServerConfig{
		Address:           ":0",
		Stats:             stats,
		SensorID:          sensorID,
		UDPListenerConfig: network.UDPListenerConfig{Address: ":0"},
	}

	server := NewWebServer(config)

	req := httptest.NewRequest(http.MethodGet, "/api/lidar/snapshots?sensor_id="+sensorID, nil)
	rec := httptest.NewRecorder()

	mux := server.setupRoutes()
	mux.ServeHTTP(rec, req)

	t.Logf("handleLidarSnapshots GET returned status %d", rec.Code)
}

// TestWebServer_HandleExportFrameSequenceASC_WithManager tests frame sequence export
func TestWebServer_HandleExportFrameSequenceASC_Complete(t *testing.T) {
	sensorID := "test-frame-seq-" + time.Now().Format("150405")
	cleanup := setupTestBackgroundManager(t, sensorID)
	defer cleanup()

	stats := NewPacketStats()
	config := WebServerConfig{
		Address:           ":0",
		Stats:             stats,
		SensorID:          sensorID,
		UDPListenerConfig: network.UDPListenerConfig{Address: ":0"},
	}

	server := NewWebServer(config)

	// Use a temporary directory for output
	tmpDir := t.TempDir()
	reqURL := "/api/lidar/export_frame_sequence?sensor_id=" + sensorID + "&out_dir=" + url.QueryEscape(tmpDir)
	req := httptest.NewRequest(http.MethodGet, reqURL, nil)
	rec := httptest.NewRecorder()

	mux := server.setupRoutes()
	mux.ServeHTTP(rec, req)

	t.Logf("handleExportFrameSequenceASC returned status %d", rec.Code)
}

// TestWebServer_HandleLidarPersist_Complete tests persist endpoint
func TestWebServer_HandleLidarPersist_Complete(t *testing.T) {
	sensorID := "test-persist-" + time.Now().Format("150405")
	cleanup := setupTestBackgroundManager(t, sensorID)
	defer cleanup()

	stats := NewPacketStats()
	config := WebServerConfig{
		Address:           ":0",
		Stats:             stats,
		SensorID:          sensorID,
		UDPListenerConfig: network.UDPListenerConfig{Address: ":0"},
	}

	server := NewWebServer(config)

	req := httptest.NewRequest(http.MethodPost, "/api/lidar/persist?sensor_id="+sensorID, nil)
	rec := httptest.NewRecorder()

	mux := server.setupRoutes()
	mux.ServeHTTP(rec, req)

	t.Logf("handleLidarPersist returned status %d: %s", rec.Code, rec.Body.String())
}

// TestWebServer_StartPCAPInternal_WithDebugRange tests PCAP with debug range parameters
func TestWebServer_StartPCAPInternal_WithDebugRange(t *testing.T) {
	sensorID := "test-pcap-debug-" + time.Now().Format("150405")
	cleanup := setupTestBackgroundManager(t, sensorID)
	defer cleanup()

	cwd, err := os.Getwd()
	if err != nil {
		t.Fatalf("Failed to get current directory: %v", err)
	}
	pcapDir := cwd + "/../perf/pcap"

	stats := NewPacketStats()
	config := WebServerConfig{
		Address:           ":0",
		Stats:             stats,
		SensorID:          sensorID,
		PCAPSafeDir:       pcapDir,
		UDPListenerConfig: network.UDPListenerConfig{Address: ":0"},
	}

	server := NewWebServer(config)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	server.setBaseContext(ctx)

	// Test with debug range parameters
	replayConfig := ReplayConfig{
		SpeedMode:       "realtime",
		SpeedRatio:      10.0,
		DurationSeconds: 0.1,
		DebugRingMin:    10,
		DebugRingMax:    50,
		DebugAzMin:      45.0,
		DebugAzMax:      135.0,
		EnableDebug:     true,
	}

	err = server.StartPCAPInternal("kirk0.pcapng", replayConfig)
	if err != nil {
		t.Logf("StartPCAPInternal (debug range) returned error: %v", err)
	}

	time.Sleep(50 * time.Millisecond)
	server.StopPCAPInternal()
}

// TestWebServer_HandleBackgroundGrid_Complete tests background grid endpoint
func TestWebServer_HandleBackgroundGrid_Complete(t *testing.T) {
	sensorID := "test-bg-grid-" + time.Now().Format("150405")
	cleanup := setupTestBackgroundManager(t, sensorID)
	defer cleanup()

	stats := NewPacketStats()
	config := WebServerConfig{
		Address:           ":0",
		Stats:             stats,
		SensorID:          sensorID,
		UDPListenerConfig: network.UDPListenerConfig{Address: ":0"},
	}

	server := NewWebServer(config)

	req := httptest.NewRequest(http.MethodGet, "/api/lidar/background/grid?sensor_id="+sensorID, nil)
	rec := httptest.NewRecorder()

	mux := server.setupRoutes()
	mux.ServeHTTP(rec, req)

	t.Logf("handleBackgroundGrid returned status %d", rec.Code)

	// Verify JSON response
	if rec.Code == http.StatusOK {
		var resp map[string]interface{}
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			t.Errorf("Response is not valid JSON: %v", err)
		}
	}
}

// TestWebServer_IsPCAPInProgress tests PCAP progress check
func TestWebServer_IsPCAPInProgress_Complete(t *testing.T) {
	sensorID := "test-pcap-progress-" + time.Now().Format("150405")
	cleanup := setupTestBackgroundManager(t, sensorID)
	defer cleanup()

	cwd, err := os.Getwd()
	if err != nil {
		t.Fatalf("Failed to get current directory: %v", err)
	}
	pcapDir := cwd + "/../perf/pcap"

	stats := NewPacketStats()
	config := WebServerConfig{
		Address:           ":0",
		Stats:             stats,
		SensorID:          sensorID,
		PCAPSafeDir:       pcapDir,
		UDPListenerConfig: network.UDPListenerConfig{Address: ":0"},
	}

	server := NewWebServer(config)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	server.setBaseContext(ctx)

	// Initially not in progress
	if server.IsPCAPInProgress() {
		t.Error("Expected PCAP not in progress initially")
	}

	// Start PCAP
	replayConfig := ReplayConfig{
		SpeedMode:       "fastest",
		DurationSeconds: 1.0,
	}
	_ = server.StartPCAPInternal("kirk0.pcapng", replayConfig)
	time.Sleep(50 * time.Millisecond)

	// Now should be in progress
	if !server.IsPCAPInProgress() {
		t.Log("Expected PCAP in progress after start (may vary based on timing)")
	}

	server.StopPCAPInternal()

	// After stop, should not be in progress
	time.Sleep(50 * time.Millisecond)
	if server.IsPCAPInProgress() {
		t.Log("Expected PCAP not in progress after stop")
	}
}

// ====== SetTracker tests ======

func TestWebServer_SetTracker(t *testing.T) {
	stats := NewPacketStats()
	config := WebServerConfig{
		Address:           ":0",
		Stats:             stats,
		SensorID:          "test-sensor",
		UDPListenerConfig: network.UDPListenerConfig{Address: ":0"},
	}
	server := NewWebServer(config)

	// Initially tracker should be nil
	if server.tracker != nil {
		t.Error("Expected tracker to be nil initially")
	}

	// Create and set a tracker
	tracker := l5tracks.NewTracker(l5tracks.DefaultTrackerConfig())
	server.SetTracker(tracker)

	if server.tracker != tracker {
		t.Error("Expected tracker to be set")
	}
}

// Tests requiring DB setup removed - WebServerConfig.DB requires *db.DB not *sql.DB

// ====== handleTuningParams additional tests ======

func TestWebServer_HandleTuningParams_GET_Pretty(t *testing.T) {
	cleanup := setupTestBackgroundManager(t, "params-pretty-sensor")
	defer cleanup()

	stats := NewPacketStats()
	config := WebServerConfig{
		Address:           ":0",
		Stats:             stats,
		SensorID:          "params-pretty-sensor",
		UDPListenerConfig: network.UDPListenerConfig{Address: ":0"},
	}
	server := NewWebServer(config)

	req := httptest.NewRequest(http.MethodGet, "/api/lidar/params?sensor_id=params-pretty-sensor&format=pretty", nil)
	rr := httptest.NewRecorder()

	server.handleTuningParams(rr, req)

	if rr.Code != http.StatusOK {
		t.Errorf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}

	// Pretty formatted JSON should have indentation
	body := rr.Body.String()
	if !strings.Contains(body, "\n  ") {
		t.Log("expected pretty-printed JSON with indentation")
	}
}

func TestWebServer_HandleTuningParams_POST_WithTracker(t *testing.T) {
	cleanup := setupTestBackgroundManager(t, "params-tracker-sensor")
	defer cleanup()

	stats := NewPacketStats()
	config := WebServerConfig{
		Address:           ":0",
		Stats:             stats,
		SensorID:          "params-tracker-sensor",
		UDPListenerConfig: network.UDPListenerConfig{Address: ":0"},
	}
	server := NewWebServer(config)

	// Set a tracker
	tracker := l5tracks.NewTracker(l5tracks.DefaultTrackerConfig())
	server.SetTracker(tracker)

	body := strings.NewReader(`{"gating_distance_squared": 25.0, "process_noise_pos": 0.5}`)
	req := httptest.NewRequest(http.MethodPost, "/api/lidar/params?sensor_id=params-tracker-sensor", body)
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()

	server.handleTuningParams(rr, req)

	if rr.Code != http.StatusOK {
		t.Errorf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestWebServer_HandleTuningParams_POST_InvalidDeletedTrackGracePeriod(t *testing.T) {
	cleanup := setupTestBackgroundManager(t, "params-invalid-grace")
	defer cleanup()

	stats := NewPacketStats()
	server := NewWebServer(WebServerConfig{
		Address:           ":0",
		Stats:             stats,
		SensorID:          "params-invalid-grace",
		UDPListenerConfig: network.UDPListenerConfig{Address: ":0"},
	})

	tracker := l5tracks.NewTracker(l5tracks.DefaultTrackerConfig())
	server.SetTracker(tracker)

	req := httptest.NewRequest(
		http.MethodPost,
		"/api/lidar/params?sensor_id=params-invalid-grace",
		strings.NewReader(`{"deleted_track_grace_period":"not-a-duration"}`),
	)
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()

	server.handleTuningParams(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestWebServer_HandleTuningParams_POST_UpdatesClassifierMinObservations(t *testing.T) {
	cleanup := setupTestBackgroundManager(t, "params-classifier-minobs")
	defer cleanup()

	stats := NewPacketStats()
	server := NewWebServer(WebServerConfig{
		Address:           ":0",
		Stats:             stats,
		SensorID:          "params-classifier-minobs",
		UDPListenerConfig: network.UDPListenerConfig{Address: ":0"},
	})

	tracker := l5tracks.NewTracker(l5tracks.DefaultTrackerConfig())
	classifier := l6objects.NewTrackClassifierWithMinObservations(5)
	server.SetTracker(tracker)
	server.SetClassifier(classifier)

	req := httptest.NewRequest(
		http.MethodPost,
		"/api/lidar/params?sensor_id=params-classifier-minobs",
		strings.NewReader(`{"min_observations_for_classification":9}`),
	)
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()

	server.handleTuningParams(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if tracker.Config.MinObservationsForClassification != 9 {
		t.Fatalf("tracker min observations = %d, want 9", tracker.Config.MinObservationsForClassification)
	}
	if classifier.MinObservations != 9 {
		t.Fatalf("classifier min observations = %d, want 9", classifier.MinObservations)
	}
}

// ====== handleChartClustersJSON tests ======

func TestWebServer_HandleChartClustersJSON_NoTrackAPI(t *testing.T) {
	stats := NewPacketStats()
	config := WebServerConfig{
		Address:           ":0",
		Stats:             stats,
		SensorID:          "test-sensor",
		DB:                nil,
		UDPListenerConfig: network.UDPListenerConfig{Address: ":0"},
	}
	server := NewWebServer(config)

	req := httptest.NewRequest(http.MethodGet, "/api/lidar/chart/clusters", nil)
	rr := httptest.NewRecorder()

	server.handleChartClustersJSON(rr, req)

	if rr.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", rr.Code)
	}
}

// Tests requiring DB setup removed - WebServerConfig.DB requires *db.DB not *sql.DB

// ====== handleChartClustersJSON tests with DB ======

func TestWebServer_HandleChartClustersJSON_WithActualDB(t *testing.T) {
	wrappedDB, cleanup := setupTestDBWrapped(t)
	defer cleanup()

	stats := NewPacketStats()
	config := WebServerConfig{
		Address:           ":0",
		Stats:             stats,
		SensorID:          "test-sensor",
		DB:                wrappedDB,
		UDPListenerConfig: network.UDPListenerConfig{Address: ":0"},
	}
	server := NewWebServer(config)

	req := httptest.NewRequest(http.MethodGet, "/api/lidar/chart/clusters?sensor_id=test-sensor", nil)
	rr := httptest.NewRecorder()

	server.handleChartClustersJSON(rr, req)

	if rr.Code != http.StatusOK {
		t.Errorf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}

	var resp RecentClustersData
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}

	if resp.SensorID != "test-sensor" {
		t.Errorf("expected sensor_id 'test-sensor', got '%s'", resp.SensorID)
	}
}

func TestWebServer_HandleChartClustersJSON_WithTimeParams(t *testing.T) {
	wrappedDB, cleanup := setupTestDBWrapped(t)
	defer cleanup()

	stats := NewPacketStats()
	config := WebServerConfig{
		Address:           ":0",
		Stats:             stats,
		SensorID:          "test-sensor",
		DB:                wrappedDB,
		UDPListenerConfig: network.UDPListenerConfig{Address: ":0"},
	}
	server := NewWebServer(config)

	now := time.Now().Unix()
	req := httptest.NewRequest(http.MethodGet, "/api/lidar/chart/clusters?sensor_id=test-sensor&start="+
		string(rune(now-3600))+"&end="+string(rune(now))+"&limit=50", nil)
	rr := httptest.NewRecorder()

	server.handleChartClustersJSON(rr, req)

	if rr.Code != http.StatusOK {
		t.Errorf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestWebServer_HandleLidarSnapshots_WithDB(t *testing.T) {
	wrappedDB, cleanup := setupTestDBWrapped(t)
	defer cleanup()

	stats := NewPacketStats()
	config := WebServerConfig{
		Address:           ":0",
		Stats:             stats,
		SensorID:          "test-sensor",
		DB:                wrappedDB,
		UDPListenerConfig: network.UDPListenerConfig{Address: ":0"},
	}
	server := NewWebServer(config)

	req := httptest.NewRequest(http.MethodGet, "/api/lidar/snapshots?sensor_id=test-sensor&limit=5", nil)
	rr := httptest.NewRecorder()

	server.handleLidarSnapshots(rr, req)

	if rr.Code != http.StatusOK {
		t.Errorf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestWebServer_HandleLidarSnapshotsCleanup_WithDB(t *testing.T) {
	wrappedDB, cleanup := setupTestDBWrapped(t)
	defer cleanup()

	stats := NewPacketStats()
	config := WebServerConfig{
		Address:           ":0",
		Stats:             stats,
		SensorID:          "test-sensor",
		DB:                wrappedDB,
		UDPListenerConfig: network.UDPListenerConfig{Address: ":0"},
	}
	server := NewWebServer(config)

	req := httptest.NewRequest(http.MethodPost, "/api/lidar/snapshots/cleanup?sensor_id=test-sensor", nil)
	rr := httptest.NewRecorder()

	server.handleLidarSnapshotsCleanup(rr, req)

	if rr.Code != http.StatusOK {
		t.Errorf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestWebServer_SetTracker_WithDB(t *testing.T) {
	wrappedDB, cleanup := setupTestDBWrapped(t)
	defer cleanup()

	stats := NewPacketStats()
	config := WebServerConfig{
		Address:           ":0",
		Stats:             stats,
		SensorID:          "test-sensor",
		DB:                wrappedDB,
		UDPListenerConfig: network.UDPListenerConfig{Address: ":0"},
	}
	server := NewWebServer(config)

	// With DB, trackAPI should exist
	if server.trackAPI == nil {
		t.Skip("trackAPI not initialised with test DB")
	}

	// Set tracker - should propagate to trackAPI
	tracker := l5tracks.NewTracker(l5tracks.DefaultTrackerConfig())
	server.SetTracker(tracker)

	if server.trackAPI.tracker != tracker {
		t.Error("Expected tracker to propagate to trackAPI")
	}
}

// ====== handleClustersChart additional tests ======

func TestWebServer_HandleClustersChart_WithDB_AndParams(t *testing.T) {
	wrappedDB, cleanup := setupTestDBWrapped(t)
	defer cleanup()

	stats := NewPacketStats()
	config := WebServerConfig{
		Address:           ":0",
		Stats:             stats,
		SensorID:          "test-sensor",
		DB:                wrappedDB,
		UDPListenerConfig: network.UDPListenerConfig{Address: ":0"},
	}
	server := NewWebServer(config)

	req := httptest.NewRequest(http.MethodGet, "/api/lidar/chart/clusters.html?sensor_id=test-sensor&limit=50", nil)
	rr := httptest.NewRecorder()

	server.handleClustersChart(rr, req)

	// May return OK or error depending on template availability
	t.Logf("handleClustersChart status: %d", rr.Code)
}

// ====== handleTracksChart additional tests ======

func TestWebServer_HandleTracksChart_WithDB_AndParams(t *testing.T) {
	wrappedDB, cleanup := setupTestDBWrapped(t)
	defer cleanup()

	stats := NewPacketStats()
	config := WebServerConfig{
		Address:           ":0",
		Stats:             stats,
		SensorID:          "test-sensor",
		DB:                wrappedDB,
		UDPListenerConfig: network.UDPListenerConfig{Address: ":0"},
	}
	server := NewWebServer(config)

	req := httptest.NewRequest(http.MethodGet, "/api/lidar/chart/tracks.html?sensor_id=test-sensor&limit=50", nil)
	rr := httptest.NewRecorder()

	server.handleTracksChart(rr, req)

	// May return OK or error depending on template and data availability
	t.Logf("handleTracksChart status: %d", rr.Code)
}

// ====== handleLidarSnapshot additional tests ======

func TestWebServer_HandleLidarSnapshot_NoDBExtra(t *testing.T) {
	stats := NewPacketStats()
	config := WebServerConfig{
		Address:           ":0",
		Stats:             stats,
		SensorID:          "test-sensor",
		UDPListenerConfig: network.UDPListenerConfig{Address: ":0"},
	}
	server := NewWebServer(config)

	req := httptest.NewRequest(http.MethodGet, "/api/lidar/snapshots/1?sensor_id=test-sensor", nil)
	rr := httptest.NewRecorder()

	server.handleLidarSnapshot(rr, req)

	// May be 503 (service unavailable) or 500 (internal error) when DB not configured
	if rr.Code != http.StatusServiceUnavailable && rr.Code != http.StatusInternalServerError {
		t.Errorf("expected 503 or 500, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestWebServer_HandleLidarSnapshot_WithDB_MissingID(t *testing.T) {
	wrappedDB, cleanup := setupTestDBWrapped(t)
	defer cleanup()

	stats := NewPacketStats()
	config := WebServerConfig{
		Address:           ":0",
		Stats:             stats,
		SensorID:          "test-sensor",
		DB:                wrappedDB,
		UDPListenerConfig: network.UDPListenerConfig{Address: ":0"},
	}
	server := NewWebServer(config)

	// Request a non-existent snapshot ID
	req := httptest.NewRequest(http.MethodGet, "/api/lidar/snapshots/99999?sensor_id=test-sensor", nil)
	rr := httptest.NewRecorder()

	server.handleLidarSnapshot(rr, req)

	// Should return 404 for non-existent snapshot
	if rr.Code != http.StatusNotFound && rr.Code != http.StatusBadRequest {
		t.Logf("handleLidarSnapshot returned status %d", rr.Code)
	}
}

// ====== handleForegroundFrameChart tests ======

func TestWebServer_HandleForegroundFrameChart_NoManagerExtra(t *testing.T) {
	stats := NewPacketStats()
	config := WebServerConfig{
		Address:           ":0",
		Stats:             stats,
		SensorID:          "nonexistent-sensor",
		UDPListenerConfig: network.UDPListenerConfig{Address: ":0"},
	}
	server := NewWebServer(config)

	req := httptest.NewRequest(http.MethodGet, "/api/lidar/chart/foreground_frame.html?sensor_id=nonexistent-sensor", nil)
	rr := httptest.NewRecorder()

	server.handleForegroundFrameChart(rr, req)

	// Should return 404 when no manager exists
	if rr.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rr.Code)
	}
}

// ====== handlePCAPStop additional tests ======

func TestWebServer_HandlePCAPStop_NoSensorID(t *testing.T) {
	stats := NewPacketStats()
	config := WebServerConfig{
		Address:           ":0",
		Stats:             stats,
		UDPListenerConfig: network.UDPListenerConfig{Address: ":0"},
	}
	server := NewWebServer(config)

	req := httptest.NewRequest(http.MethodPost, "/api/lidar/pcap/stop", nil)
	rr := httptest.NewRecorder()

	server.handlePCAPStop(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rr.Code)
	}
}

func TestWebServer_HandlePCAPStop_WrongSensorIDExtra(t *testing.T) {
	stats := NewPacketStats()
	config := WebServerConfig{
		Address:           ":0",
		Stats:             stats,
		SensorID:          "correct-sensor",
		UDPListenerConfig: network.UDPListenerConfig{Address: ":0"},
	}
	server := NewWebServer(config)

	req := httptest.NewRequest(http.MethodPost, "/api/lidar/pcap/stop?sensor_id=wrong-sensor", nil)
	rr := httptest.NewRecorder()

	server.handlePCAPStop(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Errorf("expected 404 (wrong sensor), got %d", rr.Code)
	}
}

func TestWebServer_HandlePCAPStop_FormPost(t *testing.T) {
	stats := NewPacketStats()
	config := WebServerConfig{
		Address:           ":0",
		Stats:             stats,
		SensorID:          "test-sensor",
		UDPListenerConfig: network.UDPListenerConfig{Address: ":0"},
	}
	server := NewWebServer(config)

	// Use form value instead of query param
	req := httptest.NewRequest(http.MethodPost, "/api/lidar/pcap/stop", strings.NewReader("sensor_id=test-sensor"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rr := httptest.NewRecorder()

	server.handlePCAPStop(rr, req)

	// Should return 409 (not in PCAP mode) rather than 400 (missing sensor_id)
	if rr.Code != http.StatusConflict {
		t.Errorf("expected 409 (not in PCAP mode), got %d: %s", rr.Code, rr.Body.String())
	}
}

// ====== handleBackgroundGridPolar additional tests ======

func TestWebServer_HandleBackgroundGridPolar_WithMaxPoints(t *testing.T) {
	cleanup := setupTestBackgroundManager(t, "polar-maxpts-sensor")
	defer cleanup()

	stats := NewPacketStats()
	config := WebServerConfig{
		Address:           ":0",
		Stats:             stats,
		SensorID:          "polar-maxpts-sensor",
		UDPListenerConfig: network.UDPListenerConfig{Address: ":0"},
	}
	server := NewWebServer(config)

	req := httptest.NewRequest(http.MethodGet, "/debug/lidar/background/polar?sensor_id=polar-maxpts-sensor&max_points=1000", nil)
	rr := httptest.NewRecorder()

	server.handleBackgroundGridPolar(rr, req)

	// May return 404 if no cells, or 200 if cells exist
	if rr.Code != http.StatusOK && rr.Code != http.StatusNotFound {
		t.Errorf("expected 200 or 404, got %d", rr.Code)
	}
}

// ====== updateLatestFgCounts / getLatestFgCounts tests ======

func TestWebServer_UpdateLatestFgCounts_EmptySensorID(t *testing.T) {
	stats := NewPacketStats()
	config := WebServerConfig{
		Address:           ":0",
		Stats:             stats,
		SensorID:          "test-sensor",
		UDPListenerConfig: network.UDPListenerConfig{Address: ":0"},
	}
	server := NewWebServer(config)

	// Update with empty sensor ID - should clear the map
	server.updateLatestFgCounts("")

	counts := server.getLatestFgCounts()
	if counts != nil {
		t.Errorf("expected nil counts for empty sensor ID, got %v", counts)
	}
}

func TestWebServer_UpdateLatestFgCounts_NoSnapshot(t *testing.T) {
	stats := NewPacketStats()
	config := WebServerConfig{
		Address:           ":0",
		Stats:             stats,
		SensorID:          "test-sensor",
		UDPListenerConfig: network.UDPListenerConfig{Address: ":0"},
	}
	server := NewWebServer(config)

	// Update with a sensor that has no snapshot
	server.updateLatestFgCounts("nonexistent-sensor")

	counts := server.getLatestFgCounts()
	if counts != nil {
		t.Errorf("expected nil counts for sensor without snapshot, got %v", counts)
	}
}

func TestWebServer_GetLatestFgCounts_ReturnsCopy(t *testing.T) {
	stats := NewPacketStats()
	config := WebServerConfig{
		Address:           ":0",
		Stats:             stats,
		SensorID:          "test-sensor",
		UDPListenerConfig: network.UDPListenerConfig{Address: ":0"},
	}
	server := NewWebServer(config)

	// Manually set some counts for testing
	server.fgCountsMu.Lock()
	server.latestFgCounts["total"] = 100
	server.latestFgCounts["foreground"] = 25
	server.fgCountsMu.Unlock()

	counts := server.getLatestFgCounts()
	if counts == nil {
		t.Fatal("expected non-nil counts")
	}

	// Modify returned map - shouldn't affect original
	counts["total"] = 999

	counts2 := server.getLatestFgCounts()
	if counts2["total"] != 100 {
		t.Errorf("expected total=100 (immutable), got %d", counts2["total"])
	}
}
