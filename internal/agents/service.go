package agents

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/finchat-ai/finchat/internal/config"
	"github.com/finchat-ai/finchat/internal/observability"
	"github.com/finchat-ai/finchat/pkg/models"
)

// ErrAgentNotFound is returned when an agent id does not resolve to a
// configured agent.
var ErrAgentNotFound = errors.New("agent not found")

// Service resolves agent ids to descriptors. Agent ids map to serving
// endpoints via static configuration; the descriptor details come from
// the workspace catalog through the cache.
type Service struct {
	agents map[string]config.AgentConfig
	cache  *Cache
}

// NewService builds a descriptor service over the configured agents.
func NewService(agentConfigs []config.AgentConfig, cache *Cache) *Service {
	agents := make(map[string]config.AgentConfig, len(agentConfigs))
	for _, a := range agentConfigs {
		agents[a.ID] = a
	}
	return &Service{agents: agents, cache: cache}
}

// Resolve returns the descriptor for an agent id, or ErrAgentNotFound.
func (s *Service) Resolve(ctx context.Context, agentID string) (*models.AgentDescriptor, error) {
	agent, ok := s.agents[agentID]
	if !ok {
		return nil, ErrAgentNotFound
	}
	desc, err := s.cache.GetOrFetch(ctx, agent.EndpointName)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve agent %s: %w", agentID, err)
	}
	return desc, nil
}

// Endpoint returns the serving endpoint name for an agent id.
func (s *Service) Endpoint(agentID string) (string, bool) {
	agent, ok := s.agents[agentID]
	if !ok {
		return "", false
	}
	return agent.EndpointName, true
}

// List returns the configured agent ids in no particular order.
func (s *Service) List() []config.AgentConfig {
	out := make([]config.AgentConfig, 0, len(s.agents))
	for _, a := range s.agents {
		out = append(out, a)
	}
	return out
}

// CatalogClient fetches agent descriptors from the workspace catalog API.
// Resolving one endpoint takes two round trips (detail + tool list), which
// is why results are cached.
type CatalogClient struct {
	baseURL string
	token   string
	http    *http.Client
	logger  *observability.Logger
}

// NewCatalogClient creates a catalog client. The timeout applies per
// request; a zero value gets a 20s default.
func NewCatalogClient(baseURL, token string, timeout time.Duration, logger *observability.Logger) *CatalogClient {
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &CatalogClient{
		baseURL: baseURL,
		token:   token,
		http:    &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

type endpointDetail struct {
	Name         string `json:"name"`
	DisplayName  string `json:"display_name"`
	Description  string `json:"description"`
	Instructions string `json:"instructions"`
	Status       string `json:"status"`
}

type endpointTools struct {
	Tools []struct {
		DisplayName string   `json:"display_name"`
		Description string   `json:"description"`
		Type        string   `json:"type"`
		Endpoint    string   `json:"endpoint"`
		Tables      []string `json:"tables"`
	} `json:"tools"`
}

// FetchDescriptor performs the full descriptor lookup for one endpoint.
// It satisfies the cache's FetchFunc.
func (c *CatalogClient) FetchDescriptor(ctx context.Context, endpointName string) (*models.AgentDescriptor, error) {
	var detail endpointDetail
	if err := c.getJSON(ctx, "/api/2.0/agent-endpoints/"+url.PathEscape(endpointName), &detail); err != nil {
		return nil, fmt.Errorf("failed to fetch endpoint detail: %w", err)
	}

	var tools endpointTools
	if err := c.getJSON(ctx, "/api/2.0/agent-endpoints/"+url.PathEscape(endpointName)+"/tools", &tools); err != nil {
		return nil, fmt.Errorf("failed to fetch endpoint tools: %w", err)
	}

	desc := &models.AgentDescriptor{
		ID:           endpointName,
		Name:         detail.DisplayName,
		EndpointName: endpointName,
		Description:  detail.Description,
		Instructions: detail.Instructions,
		Status:       parseStatus(detail.Status),
		Tools:        make([]models.AgentTool, 0, len(tools.Tools)),
	}
	if desc.Name == "" {
		desc.Name = detail.Name
	}
	if desc.Name == "" {
		desc.Name = endpointName
	}
	for _, t := range tools.Tools {
		desc.Tools = append(desc.Tools, models.AgentTool{
			DisplayName: t.DisplayName,
			Description: t.Description,
			Type:        t.Type,
			Endpoint:    t.Endpoint,
			Tables:      t.Tables,
		})
	}
	return desc, nil
}

func (c *CatalogClient) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("GET %s failed with status %d", path, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("GET %s returned malformed JSON: %w", path, err)
	}
	return nil
}

func parseStatus(s string) models.EndpointStatus {
	switch models.EndpointStatus(s) {
	case models.StatusOnline, models.StatusOffline, models.StatusProvisioning, models.StatusError:
		return models.EndpointStatus(s)
	default:
		return models.StatusUnknown
	}
}
