// Package health отдаёт /healthz, /livez и /readyz для sales-service и stock-service.
package health

import (
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"time"
)

// Status: состояние компонента или сервиса целиком.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// severity упорядочивает статусы: итог сервиса равен худшему из компонентов.
func (s Status) severity() int {
	switch s {
	case StatusHealthy:
		return 0
	case StatusDegraded:
		return 1
	default:
		return 2
	}
}

// Check: результат одной проверки.
type Check struct {
	Name       string `json:"name"`
	Status     Status `json:"status"`
	Message    string `json:"message,omitempty"`
	DurationMs int64  `json:"duration_ms"`
}

// Response: тело /healthz.
type Response struct {
	Service       string           `json:"service"`
	Status        Status           `json:"status"`
	Timestamp     time.Time        `json:"timestamp"`
	Checks        map[string]Check `json:"checks,omitempty"`
	Version       string           `json:"version,omitempty"`
	UptimeSeconds int64            `json:"uptime_seconds"`
}

type Checker interface {
	Check() Check
}

// Func превращает ping-функцию в проверку: ошибка означает unhealthy.
func Func(name string, probe func() error) Checker {
	return funcChecker{name: name, probe: probe}
}

type funcChecker struct {
	name  string
	probe func() error
}

func (c funcChecker) Check() Check {
	start := time.Now()
	check := Check{Name: c.name, Status: StatusHealthy}
	if err := c.probe(); err != nil {
		check.Status = StatusUnhealthy
		check.Message = err.Error()
	}
	check.DurationMs = time.Since(start).Milliseconds()
	return check
}

// RegisterOption настраивает зарегистрированную проверку.
type RegisterOption func(*registration)

// NonCritical понижает unhealthy компонента до degraded: сервис остаётся ready без него.
func NonCritical() RegisterOption {
	return func(r *registration) {
		r.critical = false
	}
}

type registration struct {
	name     string
	checker  Checker
	critical bool
}

func (r registration) run() Check {
	check := r.checker.Check()
	if !r.critical && check.Status == StatusUnhealthy {
		check.Status = StatusDegraded
	}
	return check
}

// Handler собирает проверки компонентов сервиса.
type Handler struct {
	mu      sync.RWMutex
	checks  map[string]registration
	service string
	version string
	started time.Time
}

// NewHandler создаёт health handler сервиса.
func NewHandler(service, version string) *Handler {
	return &Handler{
		checks:  make(map[string]registration),
		service: service,
		version: version,
		started: time.Now(),
	}
}

// Register добавляет или заменяет проверку name.
func (h *Handler) Register(name string, checker Checker, options ...RegisterOption) {
	reg := registration{name: name, checker: checker, critical: true}
	for _, option := range options {
		option(&reg)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks[name] = reg
}

// Evaluate выполняет все проверки; итоговый статус равен худшему из них.
func (h *Handler) Evaluate() Response {
	resp := Response{
		Service: h.service,
		Status:  StatusHealthy,
		Checks:  make(map[string]Check),
		Version: h.version,
	}
	for _, reg := range h.registrations() {
		check := reg.run()
		resp.Checks[reg.name] = check
		if check.Status.severity() > resp.Status.severity() {
			resp.Status = check.Status
		}
	}
	resp.Timestamp = time.Now().UTC()
	resp.UptimeSeconds = int64(time.Since(h.started).Seconds())
	return resp
}

// ServeHTTP отвечает на /healthz: 503 только для unhealthy.
func (h *Handler) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	resp := h.Evaluate()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode(resp.Status))
	_ = json.NewEncoder(w).Encode(resp)
}

// Readiness отвечает на /readyz. Degraded (например, переподключение к брокеру) готовность не снимает.
func (h *Handler) Readiness(w http.ResponseWriter, _ *http.Request) {
	if resp := h.Evaluate(); resp.Status == StatusUnhealthy {
		writeText(w, http.StatusServiceUnavailable, "not ready")
		return
	}
	writeText(w, http.StatusOK, "ready")
}

// Liveness отвечает 200, пока процесс обслуживает HTTP.
func Liveness(w http.ResponseWriter, _ *http.Request) {
	writeText(w, http.StatusOK, "ok")
}

func statusCode(status Status) int {
	if status == StatusUnhealthy {
		return http.StatusServiceUnavailable
	}
	return http.StatusOK
}

func writeText(w http.ResponseWriter, code int, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(code)
	_, _ = w.Write([]byte(body))
}

func (h *Handler) registrations() []registration {
	h.mu.RLock()
	defer h.mu.RUnlock()

	regs := make([]registration, 0, len(h.checks))
	for _, reg := range h.checks {
		regs = append(regs, reg)
	}
	sort.Slice(regs, func(i, j int) bool { return regs[i].name < regs[j].name })
	return regs
}

// ConsumerState: срез состояния потребителя очереди.
type ConsumerState struct {
	State        string
	Consuming    bool
	ShuttingDown bool
	LastError    string
}

// Consumer переводит состояние потребителя в проверку:
// получение сообщений healthy, переподключение degraded, остановка unhealthy.
func Consumer(name string, probe func() ConsumerState) Checker {
	return consumerChecker{name: name, probe: probe}
}

type consumerChecker struct {
	name  string
	probe func() ConsumerState
}

func (c consumerChecker) Check() Check {
	start := time.Now()
	state := c.probe()

	check := Check{Name: c.name, Status: StatusDegraded, Message: state.State}
	switch {
	case state.Consuming:
		check.Status = StatusHealthy
	case state.ShuttingDown:
		check.Status = StatusUnhealthy
	case state.LastError != "":
		check.Message = state.State + ": " + state.LastError
	}
	check.DurationMs = time.Since(start).Milliseconds()
	return check
}
