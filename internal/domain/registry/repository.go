package registry

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/go-resty/resty/v2"

	"github.com/KieronQuinn/Smartspacer-sub002/internal/infrastructure/httpclient"
)

// DefaultRepositoryTTL is how long a fetched plugin index is served from memory
const DefaultRepositoryTTL = 15 * time.Minute

// Plugin is one entry of the remote plugin repository
type Plugin struct {
	Package        string   `json:"package"`
	Name           string   `json:"name"`
	Description    string   `json:"description"`
	Author         string   `json:"author"`
	Icon           string   `json:"icon,omitempty"`
	URL            string   `json:"url"`
	Version        string   `json:"version"`
	MinHostVersion int      `json:"min_host_version,omitempty"`
	Tags           []string `json:"tags,omitempty"`
	Recommended    bool     `json:"recommended,omitempty"`
}

type index struct {
	Plugins []Plugin `json:"plugins"`
}

// Repository fetches the remote plugin index
type Repository struct {
	url    string
	client *httpclient.Client
	ttl    time.Duration
	now    func() time.Time

	mu        sync.Mutex
	plugins   []Plugin
	fetchedAt time.Time
}

// NewRepository creates a repository reading the index at url
func NewRepository(url string) *Repository {
	return &Repository{
		url:    url,
		client: httpclient.New(httpclient.DefaultOptions("plugin-repository")),
		ttl:    DefaultRepositoryTTL,
		now:    time.Now,
	}
}

// Plugins returns the index, fetching it when the cached copy expired. A
// failed refresh returns the stale copy along with the error.
func (r *Repository) Plugins(ctx context.Context) ([]Plugin, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.plugins != nil && r.now().Sub(r.fetchedAt) < r.ttl {
		return r.plugins, nil
	}

	plugins, err := r.fetch(ctx)
	if err != nil {
		return r.plugins, err
	}
	r.plugins = plugins
	r.fetchedAt = r.now()
	return plugins, nil
}

func (r *Repository) fetch(ctx context.Context) ([]Plugin, error) {
	resp, err := r.client.Do(ctx, func(req *resty.Request) (*resty.Response, error) {
		return req.SetHeader("Accept", "application/json").Get(r.url)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch plugin repository: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("plugin repository returned %s", resp.Status())
	}

	var idx index
	if err := sonic.Unmarshal(resp.Body(), &idx); err != nil {
		return nil, fmt.Errorf("failed to decode plugin repository: %w", err)
	}
	plugins := make([]Plugin, 0, len(idx.Plugins))
	for _, p := range idx.Plugins {
		if p.Package != "" {
			plugins = append(plugins, p)
		}
	}
	sort.SliceStable(plugins, func(i, j int) bool {
		if plugins[i].Recommended != plugins[j].Recommended {
			return plugins[i].Recommended
		}
		return strings.ToLower(plugins[i].Name) < strings.ToLower(plugins[j].Name)
	})
	return plugins, nil
}

// Search filters the index by a case-insensitive query over name,
// description, author and tags
func (r *Repository) Search(ctx context.Context, query string) ([]Plugin, error) {
	plugins, err := r.Plugins(ctx)
	query = strings.ToLower(strings.TrimSpace(query))
	if query == "" {
		return plugins, err
	}

	var out []Plugin
	for _, p := range plugins {
		if matches(p, query) {
			out = append(out, p)
		}
	}
	return out, err
}

func matches(p Plugin, query string) bool {
	fields := append([]string{p.Name, p.Description, p.Author, p.Package}, p.Tags...)
	for _, f := range fields {
		if strings.Contains(strings.ToLower(f), query) {
			return true
		}
	}
	return false
}

// Invalidate drops the cached index
func (r *Repository) Invalidate() {
	r.mu.Lock()
	r.plugins = nil
	r.mu.Unlock()
}
