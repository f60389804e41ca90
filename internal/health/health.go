package health

import (
	"context"
	"database/sql"
	"time"

	"github.com/clarityxdr/orchestrator/internal/kvstore"
)

// Report is the aggregate health snapshot returned by /healthz.
type Report struct {
	Status   string             `json:"status"`
	Uptime   string             `json:"uptime"`
	Services map[string]Service `json:"services"`
}

// Service is the health of one dependency.
type Service struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

// AgentCounter reports how many agents are currently loaded.
type AgentCounter interface {
	Count() int
}

// Checker probes the service's dependencies.
type Checker struct {
	db       *sql.DB
	kv       kvstore.Store
	registry AgentCounter
	started  time.Time
}

func NewChecker(db *sql.DB, kv kvstore.Store, registry AgentCounter) *Checker {
	return &Checker{
		db:       db,
		kv:       kv,
		registry: registry,
		started:  time.Now(),
	}
}

// Check probes each dependency with a short deadline and aggregates the
// results. Overall status is unhealthy when the database is down, degraded
// when only the KV store is down.
func (c *Checker) Check(ctx context.Context) Report {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	services := make(map[string]Service)

	dbHealth := Service{Status: StatusHealthy}
	if err := c.db.PingContext(ctx); err != nil {
		dbHealth = Service{Status: StatusUnhealthy, Error: err.Error()}
	}
	services["database"] = dbHealth

	kvHealth := Service{Status: StatusHealthy}
	if err := c.kv.Ping(ctx); err != nil {
		kvHealth = Service{Status: StatusUnhealthy, Error: err.Error()}
	}
	services["kv"] = kvHealth

	agentsHealth := Service{Status: StatusHealthy}
	if c.registry != nil && c.registry.Count() == 0 {
		agentsHealth = Service{Status: StatusDegraded, Error: "no agents loaded"}
	}
	services["agents"] = agentsHealth

	status := StatusHealthy
	switch {
	case dbHealth.Status == StatusUnhealthy:
		status = StatusUnhealthy
	case kvHealth.Status == StatusUnhealthy || agentsHealth.Status == StatusDegraded:
		status = StatusDegraded
	}

	return Report{
		Status:   status,
		Uptime:   time.Since(c.started).Round(time.Second).String(),
		Services: services,
	}
}
