package health

import (
	"context"
	"net/http"
	"sort"
	"sync"
	"time"

	"smile-ai/backend/pkg/logger"

	"github.com/gin-gonic/gin"
)

// Status represents the health status of a component
type Status string

const (
	StatusUp       Status = "up"
	StatusDown     Status = "down"
	StatusDegraded Status = "degraded"
)

// Component is the last observed state of one dependency
type Component struct {
	Name        string    `json:"name"`
	Status      Status    `json:"status"`
	Critical    bool      `json:"critical"`
	Description string    `json:"description,omitempty"`
	Error       string    `json:"error,omitempty"`
	LastChecked time.Time `json:"last_checked"`
}

// Check probes one dependency
type Check func(ctx context.Context) (Status, string, error)

type registered struct {
	check    Check
	critical bool
}

// Checker runs dependency checks and reports readiness. The service is not
// ready while any critical component is down.
type Checker struct {
	mu         sync.RWMutex
	checks     map[string]registered
	components map[string]*Component
	timeout    time.Duration
	log        *logger.Logger
}

// NewChecker creates a checker whose individual checks are bounded by timeout
func NewChecker(log *logger.Logger, timeout time.Duration) *Checker {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &Checker{
		checks:     make(map[string]registered),
		components: make(map[string]*Component),
		timeout:    timeout,
		log:        log,
	}
}

// Register adds a named check
func (c *Checker) Register(name string, critical bool, check Check) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.checks[name] = registered{check: check, critical: critical}
	c.components[name] = &Component{
		Name:        name,
		Status:      StatusDown,
		Critical:    critical,
		Description: "Not checked yet",
	}
}

// RegisterDatabaseCheck registers the relational store as a critical component
func (c *Checker) RegisterDatabaseCheck(ping func(ctx context.Context) error) {
	c.Register("database", true, func(ctx context.Context) (Status, string, error) {
		if err := ping(ctx); err != nil {
			return StatusDown, "Database connection failed", err
		}
		return StatusUp, "Database connection is established", nil
	})
}

// RegisterCacheCheck registers the identity cache; the relay works without it
func (c *Checker) RegisterCacheCheck(ping func(ctx context.Context) error) {
	c.Register("cache", false, func(ctx context.Context) (Status, string, error) {
		if err := ping(ctx); err != nil {
			return StatusDegraded, "Cache unreachable, falling back to the database", err
		}
		return StatusUp, "Cache is reachable", nil
	})
}

// RunChecks executes every registered check concurrently
func (c *Checker) RunChecks(ctx context.Context) {
	c.mu.RLock()
	checks := make(map[string]registered, len(c.checks))
	for name, r := range c.checks {
		checks[name] = r
	}
	c.mu.RUnlock()

	type outcome struct {
		name        string
		status      Status
		description string
		err         error
	}
	results := make(chan outcome, len(checks))

	var wg sync.WaitGroup
	for name, r := range checks {
		wg.Add(1)
		go func(name string, check Check) {
			defer wg.Done()
			checkCtx, cancel := context.WithTimeout(ctx, c.timeout)
			defer cancel()
			status, description, err := check(checkCtx)
			results <- outcome{name: name, status: status, description: description, err: err}
		}(name, r.check)
	}
	wg.Wait()
	close(results)

	c.mu.Lock()
	defer c.mu.Unlock()
	now := time.Now()
	for res := range results {
		component := c.components[res.name]
		component.Status = res.status
		component.Description = res.description
		component.LastChecked = now
		component.Error = ""
		if res.err != nil {
			component.Error = res.err.Error()
			c.log.Warn("Health check failed",
				"component", res.name,
				"status", string(res.status),
				"error", res.err.Error(),
			)
		}
	}
}

// Start runs checks every period until ctx is done
func (c *Checker) Start(ctx context.Context, period time.Duration) {
	go func() {
		c.RunChecks(ctx)

		ticker := time.NewTicker(period)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				c.RunChecks(ctx)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Components returns a copy of every component, sorted by name
func (c *Checker) Components() []Component {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]Component, 0, len(c.components))
	for _, comp := range c.components {
		out = append(out, *comp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// IsHealthy reports whether every critical component is up
func (c *Checker) IsHealthy() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for _, comp := range c.components {
		if comp.Critical && comp.Status == StatusDown {
			return false
		}
	}
	return true
}

// LivenessHandler answers as long as the process serves HTTP
func LivenessHandler(service string) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, gin.H{"status": "ok", "service": service})
	}
}

// ReadinessHandler runs the checks and answers 503 when a critical component is down
func (c *Checker) ReadinessHandler() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		c.RunChecks(ctx.Request.Context())

		status, code := "ok", http.StatusOK
		if !c.IsHealthy() {
			status, code = "unavailable", http.StatusServiceUnavailable
		}

		ctx.JSON(code, gin.H{
			"status":     status,
			"timestamp":  time.Now().Format(time.RFC3339),
			"components": c.Components(),
		})
	}
}
