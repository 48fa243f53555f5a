// internal/drtest/rto_rpo.go
package drtest

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Targets defines the recovery objectives a DR run is validated against.
type Targets struct {
	RTO time.Duration // Recovery Time Objective
	RPO time.Duration // Recovery Point Objective
}

// Validate checks the targets are usable
func (t Targets) Validate() error {
	if t.RTO <= 0 {
		return errors.New("RTO must be greater than zero")
	}
	if t.RPO <= 0 {
		return errors.New("RPO must be greater than zero")
	}
	if t.RPO > t.RTO {
		return errors.New("RPO should not exceed RTO")
	}
	return nil
}

// DefaultTargets returns the standard-tier objectives.
func DefaultTargets() Targets {
	return Targets{
		RTO: 15 * time.Minute,
		RPO: 5 * time.Minute,
	}
}

// RecoveryEvent represents one recovery incident
type RecoveryEvent struct {
	IncidentID   string
	FailureTime  time.Time
	RecoveryTime time.Time
	DataLoss     time.Duration // time-based data loss window
}

// RecoveryResult contains the outcome of a recovery event
type RecoveryResult struct {
	IncidentID string
	RTOMet     bool
	RPOMet     bool
	ActualRTO  time.Duration
	ActualRPO  time.Duration
	Timestamp  time.Time
}

// ComplianceMetrics aggregates recorded recoveries
type ComplianceMetrics struct {
	TotalIncidents    int
	RTOCompliant      int
	RPOCompliant      int
	RTOComplianceRate float64
	RPOComplianceRate float64
	AverageRTO        time.Duration
	AverageRPO        time.Duration
	WorstRTO          time.Duration
	WorstRPO          time.Duration
}

// Tracker records recovery incidents and measures them against targets.
type Tracker struct {
	targets Targets

	mu        sync.RWMutex
	history   []RecoveryResult
	incidents map[string]time.Time // incident ID -> failure time
}

// NewTracker creates a tracker for the given targets.
func NewTracker(targets Targets) (*Tracker, error) {
	if err := targets.Validate(); err != nil {
		return nil, fmt.Errorf("invalid targets: %w", err)
	}

	return &Tracker{
		targets:   targets,
		incidents: make(map[string]time.Time),
	}, nil
}

// Targets returns the configured objectives
func (t *Tracker) Targets() Targets {
	return t.targets
}

// StartIncident begins tracking a new incident and returns its ID.
func (t *Tracker) StartIncident(failureTime time.Time) string {
	id := uuid.NewString()

	t.mu.Lock()
	defer t.mu.Unlock()
	t.incidents[id] = failureTime

	return id
}

// ResolveIncident resolves an active incident and records the result.
func (t *Tracker) ResolveIncident(incidentID string, dataLoss time.Duration) (RecoveryResult, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	failureTime, ok := t.incidents[incidentID]
	if !ok {
		return RecoveryResult{}, fmt.Errorf("incident %s not found", incidentID)
	}
	delete(t.incidents, incidentID)

	return t.recordLocked(RecoveryEvent{
		IncidentID:   incidentID,
		FailureTime:  failureTime,
		RecoveryTime: time.Now(),
		DataLoss:     dataLoss,
	}), nil
}

// RecordRecovery records a recovery event and returns the measured result.
func (t *Tracker) RecordRecovery(event RecoveryEvent) RecoveryResult {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.recordLocked(event)
}

func (t *Tracker) recordLocked(event RecoveryEvent) RecoveryResult {
	result := RecoveryResult{
		IncidentID: event.IncidentID,
		ActualRTO:  event.RecoveryTime.Sub(event.FailureTime),
		ActualRPO:  event.DataLoss,
		Timestamp:  event.RecoveryTime,
	}
	result.RTOMet = result.ActualRTO <= t.targets.RTO
	result.RPOMet = result.ActualRPO <= t.targets.RPO

	t.history = append(t.history, result)
	return result
}

// Metrics returns aggregated compliance metrics from history.
func (t *Tracker) Metrics() ComplianceMetrics {
	t.mu.RLock()
	defer t.mu.RUnlock()

	metrics := ComplianceMetrics{
		TotalIncidents:    len(t.history),
		RTOComplianceRate: 100.0,
		RPOComplianceRate: 100.0,
	}

	if len(t.history) == 0 {
		return metrics
	}

	var totalRTO, totalRPO time.Duration
	for _, result := range t.history {
		if result.RTOMet {
			metrics.RTOCompliant++
		}
		if result.RPOMet {
			metrics.RPOCompliant++
		}

		totalRTO += result.ActualRTO
		totalRPO += result.ActualRPO

		if result.ActualRTO > metrics.WorstRTO {
			metrics.WorstRTO = result.ActualRTO
		}
		if result.ActualRPO > metrics.WorstRPO {
			metrics.WorstRPO = result.ActualRPO
		}
	}

	metrics.RTOComplianceRate = float64(metrics.RTOCompliant) / float64(metrics.TotalIncidents) * 100
	metrics.RPOComplianceRate = float64(metrics.RPOCompliant) / float64(metrics.TotalIncidents) * 100
	metrics.AverageRTO = totalRTO / time.Duration(metrics.TotalIncidents)
	metrics.AverageRPO = totalRPO / time.Duration(metrics.TotalIncidents)

	return metrics
}
