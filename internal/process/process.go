// Package process keeps remote workflow-engine processes in step with errands.
package process

import (
	"context"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"casedata/internal/config"
	"casedata/internal/domain"
	"casedata/internal/events"
	"casedata/internal/logger"
)

// Client talks to one workflow engine.
type Client interface {
	StartProcess(ctx context.Context, municipalityID string, errandID int64) (string, error)
	UpdateProcess(ctx context.Context, municipalityID, processID string) error
}

// Route binds a set of namespaces to an engine client.
type Route struct {
	Name       string
	Namespaces []string
	Client     Client
}

func (r Route) serves(namespace string) bool {
	for _, ns := range r.Namespaces {
		if strings.EqualFold(strings.TrimSpace(ns), namespace) {
			return true
		}
	}
	return false
}

type Synchronizer struct {
	routes         []Route
	engineClientID string
	log            *logger.Logger
}

func NewSynchronizer(engineClientID string, routes []Route, log *logger.Logger) *Synchronizer {
	if log == nil {
		log = logger.Nop()
	}
	return &Synchronizer{routes: routes, engineClientID: engineClientID, log: log}
}

// FromConfig builds the clients of every configured engine. The returned close func releases them.
func FromConfig(cfg config.ProcessConfig, log *logger.Logger) (*Synchronizer, func(), error) {
	var (
		routes  []Route
		closers []func()
	)
	closeAll := func() {
		for _, c := range closers {
			c()
		}
	}
	for _, eng := range cfg.Engines {
		var client Client
		switch eng.Kind {
		case config.EngineKindHTTP:
			client = NewHTTPClient(eng.BaseURL, eng.APIKey, eng.Timeout())
		case config.EngineKindTemporal:
			tc, err := DialTemporal(eng, log)
			if err != nil {
				closeAll()
				return nil, nil, fmt.Errorf("process engine %s: %w", eng.Name, err)
			}
			closers = append(closers, tc.Close)
			client = tc
		default:
			closeAll()
			return nil, nil, fmt.Errorf("process engine %s: unknown kind %q", eng.Name, eng.Kind)
		}
		routes = append(routes, Route{Name: eng.Name, Namespaces: eng.Namespaces, Client: client})
	}
	return NewSynchronizer(cfg.EngineClientID, routes, log), closeAll, nil
}

func (s *Synchronizer) route(namespace string) (Route, bool) {
	for _, r := range s.routes {
		if r.serves(namespace) {
			return r, true
		}
	}
	return Route{}, false
}

// StartProcess starts a remote process for e. ok is false when no engine serves the namespace.
// Any engine failure is reported as a single service-unavailable error.
func (s *Synchronizer) StartProcess(ctx context.Context, e domain.Errand) (processID string, ok bool, err error) {
	r, found := s.route(e.Namespace)
	if !found {
		s.log.Info("process: no engine for namespace, skipping start", "namespace", e.Namespace, "errand_id", e.ID)
		return "", false, nil
	}
	ctx, span := otel.Tracer("casedata/process").Start(ctx, "process.start")
	defer span.End()
	span.SetAttributes(
		attribute.String("engine", r.Name),
		attribute.String("municipality_id", e.MunicipalityID),
		attribute.Int64("errand_id", e.ID),
	)
	processID, err = r.Client.StartProcess(ctx, e.MunicipalityID, e.ID)
	if err == nil && strings.TrimSpace(processID) == "" {
		err = fmt.Errorf("engine returned an empty process id")
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.log.Warn("process: start failed", "engine", r.Name, "errand_id", e.ID, "error", err)
		return "", false, domain.NewError(domain.CodeServiceUnavailable, "process.start",
			fmt.Sprintf("workflow engine %s unavailable", r.Name), err)
	}
	s.log.Debug("process: started", "engine", r.Name, "errand_id", e.ID, "process_id", processID)
	return processID, true, nil
}

// UpdateProcess notifies the engine that e changed. Changes made by the engine itself, errands
// without a process and namespaces without an engine are skipped. Failures are logged, not returned.
func (s *Synchronizer) UpdateProcess(ctx context.Context, e domain.Errand) {
	if s.engineClientID != "" && e.UpdatedByClient == s.engineClientID {
		s.log.Debug("process: change made by engine, skipping update", "errand_id", e.ID)
		return
	}
	if e.ProcessID == nil || *e.ProcessID == "" {
		return
	}
	r, found := s.route(e.Namespace)
	if !found {
		return
	}
	ctx, span := otel.Tracer("casedata/process").Start(ctx, "process.update")
	defer span.End()
	span.SetAttributes(attribute.String("engine", r.Name), attribute.String("process_id", *e.ProcessID))
	if err := r.Client.UpdateProcess(ctx, e.MunicipalityID, *e.ProcessID); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.log.Warn("process: update failed", "engine", r.Name, "errand_id", e.ID, "process_id", *e.ProcessID, "error", err)
	}
}

// HandleEvent is the dispatcher handler: every committed change except a deletion updates the process.
func (s *Synchronizer) HandleEvent(ctx context.Context, evt events.Event) {
	if evt.Type == events.TypeErrandDeleted {
		return
	}
	s.UpdateProcess(ctx, evt.Errand)
}
