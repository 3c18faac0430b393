// Package storage contains the in-memory project store and the local disk
// audio store used by the standalone binary and by tests.
package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/dharsanguruparan/LyricSync/internal/model"
)

type transcriptRow struct {
	rawText string
	timed   []byte
}

// MemoryStore keeps projects and transcripts behind a RWMutex. Transcripts
// live in their own map keyed by project id, like the lyrics_source table, so
// an upsert replaces rather than duplicates.
type MemoryStore struct {
	mu          sync.RWMutex
	projects    map[string]*model.Project
	transcripts map[string]transcriptRow
	leases      map[string]struct{}
}

// NewMemoryStore constructs a MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		projects:    make(map[string]*model.Project),
		transcripts: make(map[string]transcriptRow),
		leases:      make(map[string]struct{}),
	}
}

// Create inserts a new project in the idle state.
func (m *MemoryStore) Create(ctx context.Context, p *model.Project) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p.ID == "" || p.OwnerID == "" {
		return fmt.Errorf("create project: id and owner are required")
	}
	if _, exists := m.projects[p.ID]; exists {
		return fmt.Errorf("create project: %s already exists", p.ID)
	}
	now := time.Now().UTC()
	if p.Status == "" {
		p.Status = model.StatusIdle
	}
	p.CreatedAt = now
	p.UpdatedAt = now
	stored := *p
	stored.RawText = nil
	stored.TimedJSON = nil
	m.projects[p.ID] = &stored
	return nil
}

// Get returns a copy of the project, with its transcript, scoped by owner.
func (m *MemoryStore) Get(ctx context.Context, id, ownerID string) (*model.Project, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.projects[id]
	if !ok || rec.OwnerID != ownerID {
		return nil, model.ErrNotFound
	}
	out := *rec
	if row, ok := m.transcripts[id]; ok {
		text := row.rawText
		out.RawText = &text
		var timed model.Transcription
		if err := json.Unmarshal(row.timed, &timed); err != nil {
			return nil, fmt.Errorf("decode timed_json: %w", err)
		}
		out.TimedJSON = &timed
	}
	return &out, nil
}

// Update merges a partial update into the project.
func (m *MemoryStore) Update(ctx context.Context, id, ownerID string, u model.ProjectUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.projects[id]
	if !ok || rec.OwnerID != ownerID {
		return model.ErrNotFound
	}
	u.Apply(rec)
	if u.ResetArtifacts {
		delete(m.transcripts, id)
	}
	rec.UpdatedAt = time.Now().UTC()
	return nil
}

// UpsertTranscript replaces the transcript row for projectID. The timing
// payload is stored serialized so callers cannot mutate it afterwards.
func (m *MemoryStore) UpsertTranscript(ctx context.Context, projectID, rawText string, timed *model.Transcription) error {
	data, err := json.Marshal(timed)
	if err != nil {
		return fmt.Errorf("encode timed_json: %w", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.projects[projectID]
	if !ok {
		return model.ErrNotFound
	}
	m.transcripts[projectID] = transcriptRow{rawText: rawText, timed: data}
	rec.UpdatedAt = time.Now().UTC()
	return nil
}

// TranscriptCount reports how many transcript rows exist for projectID.
func (m *MemoryStore) TranscriptCount(projectID string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if _, ok := m.transcripts[projectID]; ok {
		return 1
	}
	return 0
}

// SetVideoURL records a rendered video, as the external renderer would.
func (m *MemoryStore) SetVideoURL(id, url string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.projects[id]
	if !ok {
		return model.ErrNotFound
	}
	rec.VideoURL = model.StringPtr(url)
	rec.UpdatedAt = time.Now().UTC()
	return nil
}

// AcquireLease grants exclusive pipeline access to a project until release
// is called.
func (m *MemoryStore) AcquireLease(ctx context.Context, projectID string) (func(), error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, held := m.leases[projectID]; held {
		return nil, model.ErrLeaseHeld
	}
	m.leases[projectID] = struct{}{}
	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.leases, projectID)
			m.mu.Unlock()
		})
	}, nil
}
