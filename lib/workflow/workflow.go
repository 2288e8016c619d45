/*
 * Quilt MCP Server
 * Copyright (C) 2025  Quilt Data, Inc.
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU Affero General Public License as published by
 * the Free Software Foundation, either version 3 of the License, or
 * (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU Affero General Public License for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with this program.  If not, see <http://www.gnu.org/licenses/>.
 */

// Package workflow is the in-memory workflow tracker exposed by the
// legacy deployment. State lives in the process and is lost on restart;
// the tools exist for interactive multi-step packaging sessions, not for
// durable orchestration.
package workflow

import (
	"sort"
	"sync"
	"time"

	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"
)

// Status is a workflow's lifecycle state.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// validTransitions guards the lifecycle: pending may start or fail,
// running may finish either way, terminal states are final.
var validTransitions = map[Status][]Status{
	StatusPending: {StatusRunning, StatusFailed},
	StatusRunning: {StatusCompleted, StatusFailed},
}

// Step is one recorded step of a workflow.
type Step struct {
	Name       string    `json:"name"`
	Detail     string    `json:"detail,omitempty"`
	RecordedAt time.Time `json:"recorded_at"`
}

// Record is one tracked workflow.
type Record struct {
	ID        string         `json:"id"`
	Template  string         `json:"template,omitempty"`
	Status    Status         `json:"status"`
	Steps     []Step         `json:"steps,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// Store tracks workflows in memory. Safe for concurrent use.
type Store struct {
	clock clockwork.Clock

	mu      sync.RWMutex
	records map[string]*Record
}

// NewStore creates a Store. A nil clock means the real clock.
func NewStore(clock clockwork.Clock) *Store {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Store{clock: clock, records: make(map[string]*Record)}
}

// Create registers a workflow. Duplicate IDs are rejected.
func (s *Store) Create(id, template string, metadata map[string]any) (*Record, error) {
	if id == "" {
		return nil, trace.BadParameter("workflow id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.records[id]; exists {
		return nil, trace.AlreadyExists("workflow %q already exists", id)
	}
	now := s.clock.Now()
	rec := &Record{
		ID:        id,
		Template:  template,
		Status:    StatusPending,
		Metadata:  metadata,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.records[id] = rec
	return rec.copy(), nil
}

// Get returns one workflow.
func (s *Store) Get(id string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[id]
	if !ok {
		return nil, trace.NotFound("workflow %q not found", id)
	}
	return rec.copy(), nil
}

// List returns all workflows, newest first.
func (s *Store) List() []*Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Record, 0, len(s.records))
	for _, rec := range s.records {
		out = append(out, rec.copy())
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// SetStatus advances a workflow through its lifecycle.
func (s *Store) SetStatus(id string, status Status) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok {
		return nil, trace.NotFound("workflow %q not found", id)
	}
	if !transitionAllowed(rec.Status, status) {
		return nil, trace.BadParameter("workflow %q cannot move from %s to %s", id, rec.Status, status)
	}
	rec.Status = status
	rec.UpdatedAt = s.clock.Now()
	return rec.copy(), nil
}

// AddStep appends a step to a running or pending workflow.
func (s *Store) AddStep(id, name, detail string) (*Record, error) {
	if name == "" {
		return nil, trace.BadParameter("step name is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok {
		return nil, trace.NotFound("workflow %q not found", id)
	}
	if rec.Status == StatusCompleted || rec.Status == StatusFailed {
		return nil, trace.BadParameter("workflow %q is %s and accepts no more steps", id, rec.Status)
	}
	now := s.clock.Now()
	rec.Steps = append(rec.Steps, Step{Name: name, Detail: detail, RecordedAt: now})
	rec.UpdatedAt = now
	return rec.copy(), nil
}

// Delete removes a workflow.
func (s *Store) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[id]; !ok {
		return trace.NotFound("workflow %q not found", id)
	}
	delete(s.records, id)
	return nil
}

// Len reports the number of tracked workflows.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

func transitionAllowed(from, to Status) bool {
	for _, allowed := range validTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// copy returns a deep-enough copy so callers never alias store state.
func (r *Record) copy() *Record {
	out := *r
	out.Steps = append([]Step(nil), r.Steps...)
	if r.Metadata != nil {
		out.Metadata = make(map[string]any, len(r.Metadata))
		for k, v := range r.Metadata {
			out.Metadata[k] = v
		}
	}
	return &out
}
