package store

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/complyio/complyio/pkg/shared/errors"
)

// Memory is an in-process Store and Publisher. Records are copied in and
// out so callers never share state with the store.
type Memory struct {
	mu            sync.RWMutex
	deviations    map[Key]DeviationEntity
	exclusions    map[Key]ExclusionEntity
	registrations map[Key]Registration
	reports       map[Key]ReportEntity
	messages      map[string][][]byte
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		deviations:    make(map[Key]DeviationEntity),
		exclusions:    make(map[Key]ExclusionEntity),
		registrations: make(map[Key]Registration),
		reports:       make(map[Key]ReportEntity),
		messages:      make(map[string][][]byte),
	}
}

func (m *Memory) GetDeviation(_ context.Context, key Key) (*DeviationEntity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.deviations[key]
	if !ok {
		return nil, errors.NewNotFoundError("deviation", key.String())
	}
	return &d, nil
}

func (m *Memory) PutDeviation(_ context.Context, deviation *DeviationEntity) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deviations[deviation.Key()] = *deviation
	return nil
}

func (m *Memory) DeleteDeviation(_ context.Context, key Key) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.deviations[key]; !ok {
		return errors.NewNotFoundError("deviation", key.String())
	}
	delete(m.deviations, key)
	return nil
}

func (m *Memory) ListDeviations(_ context.Context, organization, projectID string) ([]DeviationEntity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []DeviationEntity
	for _, d := range m.deviations {
		if strings.EqualFold(d.Organization, organization) && strings.EqualFold(d.ProjectID, projectID) {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key().RowKey < out[j].Key().RowKey })
	return out, nil
}

func (m *Memory) GetExclusion(_ context.Context, key Key) (*ExclusionEntity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.exclusions[key]
	if !ok {
		return nil, errors.NewNotFoundError("exclusion", key.String())
	}
	return &e, nil
}

func (m *Memory) CreateExclusion(_ context.Context, exclusion *ExclusionEntity, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := exclusion.Key()
	if existing, ok := m.exclusions[key]; ok && existing.IsValid(now) {
		return &errors.ConflictError{Message: "exclusion " + key.String() + " already exists"}
	}
	m.exclusions[key] = *exclusion
	return nil
}

func (m *Memory) GetRegistration(_ context.Context, key Key) (*Registration, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.registrations[key]
	if !ok {
		return nil, errors.NewNotFoundError("registration", key.String())
	}
	return copyRegistration(r), nil
}

func (m *Memory) PutRegistration(_ context.Context, registration *Registration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.registrations[registration.Key()] = *copyRegistration(*registration)
	return nil
}

func (m *Memory) DeleteRegistration(_ context.Context, key Key) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.registrations[key]; !ok {
		return errors.NewNotFoundError("registration", key.String())
	}
	delete(m.registrations, key)
	return nil
}

func (m *Memory) ListPipelineRegistrations(_ context.Context, organization, projectID string, pipelineID int, pipelineType PipelineType) ([]Registration, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	partition := PartitionKey(organization)
	prefix := pipelinePrefix(projectID, pipelineID, pipelineType)
	var out []Registration
	for key, r := range m.registrations {
		if key.PartitionKey == partition && strings.HasPrefix(key.RowKey, prefix) {
			out = append(out, *copyRegistration(r))
		}
	}
	sortRegistrations(out)
	return out, nil
}

func (m *Memory) ListRegistrations(_ context.Context, organization string) ([]Registration, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	partition := PartitionKey(organization)
	var out []Registration
	for key, r := range m.registrations {
		if key.PartitionKey == partition {
			out = append(out, *copyRegistration(r))
		}
	}
	sortRegistrations(out)
	return out, nil
}

func (m *Memory) GetReport(_ context.Context, key Key) (*ReportEntity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.reports[key]
	if !ok {
		return nil, errors.NewNotFoundError("report", key.String())
	}
	return &r, nil
}

func (m *Memory) PutReport(_ context.Context, report *ReportEntity) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reports[report.Key()] = *report
	return nil
}

// Publish stores the JSON encoding of record on queue.
func (m *Memory) Publish(_ context.Context, queue string, record interface{}) error {
	payload, err := json.Marshal(record)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages[queue] = append(m.messages[queue], payload)
	return nil
}

// Messages returns the payloads published on queue.
func (m *Memory) Messages(queue string) [][]byte {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([][]byte, len(m.messages[queue]))
	copy(out, m.messages[queue])
	return out
}

func copyRegistration(r Registration) *Registration {
	if r.Prod != nil {
		prod := *r.Prod
		r.Prod = &prod
	}
	return &r
}

func sortRegistrations(regs []Registration) {
	sort.Slice(regs, func(i, j int) bool { return regs[i].Key().RowKey < regs[j].Key().RowKey })
}
