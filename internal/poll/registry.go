package poll

import (
	"sync"

	"github.com/matheus3301/wallchat/internal/retry"
	"go.uber.org/zap"
)

// Registry hands out one Model per post so that concurrent callers share the
// same poll state.
type Registry struct {
	service Service
	policy  retry.Policy
	logger  *zap.Logger

	mu     sync.Mutex
	models map[string]*Model
}

// NewRegistry creates an empty registry.
func NewRegistry(service Service, policy retry.Policy, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{service: service, policy: policy, logger: logger, models: make(map[string]*Model)}
}

// Get returns the model for postID, creating it on first use.
func (r *Registry) Get(postID string) *Model {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.models[postID]
	if !ok {
		m = NewModel(postID, r.service, r.policy, r.logger.With(zap.String("post_id", postID)))
		r.models[postID] = m
	}
	return m
}

// Len returns the number of tracked posts.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.models)
}
