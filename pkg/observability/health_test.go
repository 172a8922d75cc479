package observability

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
)

func TestHealthChecker_Liveness(t *testing.T) {
	checker := NewHealthChecker(nil, nil)

	req := httptest.NewRequest("GET", "/health/live", nil)
	rr := httptest.NewRecorder()
	checker.Liveness(rr, req)

	if rr.Code != http.StatusOK {
		t.Errorf("Liveness check returned wrong status code: got %v want %v", rr.Code, http.StatusOK)
	}
	if ct := rr.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Expected Content-Type application/json, got %s", ct)
	}
}

func TestHealthChecker_Readiness(t *testing.T) {
	t.Run("unhealthy with failed database", func(t *testing.T) {
		db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
		if err != nil {
			t.Fatalf("Failed to create mock db: %v", err)
		}
		defer db.Close()
		mock.ExpectPing().WillReturnError(errors.New("connection failed"))

		checker := NewHealthChecker(db, nil)
		rr := httptest.NewRecorder()
		checker.Readiness(rr, httptest.NewRequest("GET", "/health/ready", nil))

		if rr.Code != http.StatusServiceUnavailable {
			t.Errorf("Expected status %v for unhealthy, got %v", http.StatusServiceUnavailable, rr.Code)
		}
		var response HealthStatus
		if err := json.NewDecoder(rr.Body).Decode(&response); err != nil {
			t.Fatalf("Failed to decode response: %v", err)
		}
		if response.Status != StatusUnhealthy {
			t.Errorf("Expected status %s, got %s", StatusUnhealthy, response.Status)
		}
		if response.Dependencies["database"].Message != "connection failed" {
			t.Errorf("unexpected database message: %q", response.Dependencies["database"].Message)
		}
	})

	t.Run("degraded with healthy database and failed redis", func(t *testing.T) {
		db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
		if err != nil {
			t.Fatalf("Failed to create mock db: %v", err)
		}
		defer db.Close()
		mock.ExpectPing()
		mock.ExpectQuery("SELECT 1").WillReturnRows(sqlmock.NewRows([]string{"one"}).AddRow(1))

		mr := miniredis.RunT(t)
		redisClient := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
		defer redisClient.Close()
		mr.Close()

		checker := NewHealthChecker(db, redisClient)
		rr := httptest.NewRecorder()
		checker.Readiness(rr, httptest.NewRequest("GET", "/health/ready", nil))

		if rr.Code != http.StatusOK {
			t.Errorf("Expected status %v for degraded, got %v", http.StatusOK, rr.Code)
		}
		var response HealthStatus
		if err := json.NewDecoder(rr.Body).Decode(&response); err != nil {
			t.Fatalf("Failed to decode response: %v", err)
		}
		if response.Status != StatusDegraded {
			t.Errorf("Expected status %s, got %s", StatusDegraded, response.Status)
		}
	})
}

func TestHealthChecker_Check(t *testing.T) {
	t.Run("no dependencies", func(t *testing.T) {
		checker := NewHealthChecker(nil, nil)
		checker.SetVersion("1.4.0")
		status := checker.Check(context.Background())

		if status.Status != StatusHealthy {
			t.Errorf("Expected status %s, got %s", StatusHealthy, status.Status)
		}
		if len(status.Dependencies) != 0 {
			t.Errorf("Expected 0 dependencies, got %d", len(status.Dependencies))
		}
		if status.Version != "1.4.0" {
			t.Errorf("Expected version 1.4.0, got %s", status.Version)
		}
	})

	t.Run("healthy redis", func(t *testing.T) {
		mr := miniredis.RunT(t)
		redisClient := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		defer redisClient.Close()

		status := NewHealthChecker(nil, redisClient).Check(context.Background())
		if status.Status != StatusHealthy {
			t.Errorf("Expected status %s, got %s", StatusHealthy, status.Status)
		}
		if status.Dependencies["redis"].Status != StatusHealthy {
			t.Errorf("Expected healthy redis, got %+v", status.Dependencies["redis"])
		}
	})

	tests := []struct {
		name     string
		critical bool
		err      error
		want     string
		depWant  string
	}{
		{name: "critical passing", critical: true, want: StatusHealthy, depWant: StatusHealthy},
		{name: "critical failing", critical: true, err: errors.New("realm unreachable"), want: StatusUnhealthy, depWant: StatusUnhealthy},
		{name: "optional failing", err: errors.New("bucket missing"), want: StatusDegraded, depWant: StatusUnhealthy},
		{name: "critical degraded", critical: true, err: ErrDegraded, want: StatusDegraded, depWant: StatusDegraded},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			checker := NewHealthChecker(nil, nil)
			checker.AddCheck("identity_provider", tt.critical, func(context.Context) error { return tt.err })

			status := checker.Check(context.Background())
			if status.Status != tt.want {
				t.Errorf("Expected status %s, got %s", tt.want, status.Status)
			}
			dep := status.Dependencies["identity_provider"]
			if dep.Status != tt.depWant {
				t.Errorf("Expected dependency status %s, got %s", tt.depWant, dep.Status)
			}
			if tt.err != nil && dep.Message == "" {
				t.Error("Expected a message for the failing check")
			}
		})
	}

	t.Run("unhealthy wins over degraded", func(t *testing.T) {
		checker := NewHealthChecker(nil, nil)
		checker.AddCheck("a_optional", false, func(context.Context) error { return errors.New("down") })
		checker.AddCheck("b_critical", true, func(context.Context) error { return errors.New("down") })
		checker.AddCheck("c_optional", false, func(context.Context) error { return errors.New("down") })

		if status := checker.Check(context.Background()); status.Status != StatusUnhealthy {
			t.Errorf("Expected status %s, got %s", StatusUnhealthy, status.Status)
		}
	})
}

func TestHealthChecker_checkDatabase(t *testing.T) {
	t.Run("query failure", func(t *testing.T) {
		db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
		if err != nil {
			t.Fatalf("Failed to create mock db: %v", err)
		}
		defer db.Close()
		mock.ExpectPing()
		mock.ExpectQuery("SELECT 1").WillReturnError(errors.New("relation lock"))

		status := NewHealthChecker(db, nil).checkDatabase(context.Background())
		if status.Status != StatusUnhealthy {
			t.Errorf("Expected status %s, got %s", StatusUnhealthy, status.Status)
		}
		if !strings.HasPrefix(status.Message, "query failed") {
			t.Errorf("unexpected message: %q", status.Message)
		}
	})

	t.Run("healthy", func(t *testing.T) {
		db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
		if err != nil {
			t.Fatalf("Failed to create mock db: %v", err)
		}
		defer db.Close()
		mock.ExpectPing()
		mock.ExpectQuery("SELECT 1").WillReturnRows(sqlmock.NewRows([]string{"one"}).AddRow(1))

		status := NewHealthChecker(db, nil).checkDatabase(context.Background())
		if status.Status != StatusHealthy {
			t.Errorf("Expected status %s, got %s: %s", StatusHealthy, status.Status, status.Message)
		}
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("unmet expectations: %v", err)
		}
	})
}

func TestRegisterHealthRoutes(t *testing.T) {
	mux := http.NewServeMux()
	RegisterHealthRoutes(mux, NewHealthChecker(nil, nil))

	for _, path := range []string{"/health", "/health/live", "/health/ready"} {
		rr := httptest.NewRecorder()
		mux.ServeHTTP(rr, httptest.NewRequest("GET", path, nil))
		if rr.Code != http.StatusOK {
			t.Errorf("%s: got %d", path, rr.Code)
		}
	}
}
