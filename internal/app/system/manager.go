package system

import (
	"context"
	"fmt"
	"sync"

	"github.com/noospace-net/noospace/pkg/logger"
)

// Manager starts registered services in registration order and stops them in
// reverse. A failed start rolls back the services already running.
type Manager struct {
	mu       sync.Mutex
	services []Service
	started  bool
	log      *logger.Logger
}

// NewManager creates an empty manager.
func NewManager() *Manager {
	return &Manager{log: logger.NewDefault("system")}
}

// Register adds a service. Registration is rejected after Start and for
// duplicate names.
func (m *Manager) Register(svc Service) error {
	if svc == nil {
		return fmt.Errorf("service must not be nil")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.started {
		return fmt.Errorf("cannot register %s: manager already started", svc.Name())
	}
	for _, existing := range m.services {
		if existing.Name() == svc.Name() {
			return fmt.Errorf("service %s already registered", svc.Name())
		}
	}
	m.services = append(m.services, svc)
	return nil
}

// Start brings every registered service up, in order. On failure the services
// started so far are stopped in reverse before the error is returned.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.started {
		return fmt.Errorf("manager already started")
	}

	for i, svc := range m.services {
		if err := svc.Start(ctx); err != nil {
			m.log.WithError(err).WithField("service", svc.Name()).Error("service start failed")
			for j := i - 1; j >= 0; j-- {
				if stopErr := m.services[j].Stop(ctx); stopErr != nil {
					m.log.WithError(stopErr).WithField("service", m.services[j].Name()).Error("rollback stop failed")
				}
			}
			return fmt.Errorf("start %s: %w", svc.Name(), err)
		}
		m.log.WithField("service", svc.Name()).Info("service started")
	}
	m.started = true
	return nil
}

// Stop halts every running service in reverse order, collecting the first
// error but attempting all stops.
func (m *Manager) Stop(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.started {
		return nil
	}

	var firstErr error
	for i := len(m.services) - 1; i >= 0; i-- {
		svc := m.services[i]
		if err := svc.Stop(ctx); err != nil {
			m.log.WithError(err).WithField("service", svc.Name()).Error("service stop failed")
			if firstErr == nil {
				firstErr = fmt.Errorf("stop %s: %w", svc.Name(), err)
			}
			continue
		}
		m.log.WithField("service", svc.Name()).Info("service stopped")
	}
	m.started = false
	return firstErr
}
