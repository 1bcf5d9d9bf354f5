package registry

import (
	"os"
	"sort"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/econfeed/internal/model"
)

// defaultConnectors is the built-in provider catalog. Tier-1 sources are
// federal statistical agencies, tier-3 are community-maintained feeds.
var defaultConnectors = []model.Connector{
	{
		ID:             "fred",
		Name:           "FRED economic series",
		Kind:           model.ProviderJSON,
		SourceID:       "fred",
		Enabled:        true,
		FeatureFlag:    "connector_fred",
		Tier:           model.Tier1,
		BaseURL:        "https://api.stlouisfed.org/fred",
		Retry:          model.RetryPolicy{MaxRetries: 3, BaseBackoff: time.Second, CircuitBreakerThreshold: 5},
		RateLimit:      model.RateLimit{PerMinute: 60, PerHour: 1000},
		AllowedDomains: []string{"api.stlouisfed.org"},
		Items:          []string{"gasoline-gallon", "milk-gallon", "eggs-dozen", "bread-loaf", "electricity-kwh"},
	},
	{
		ID:             "bls-prices",
		Name:           "BLS average price series",
		Kind:           model.ProviderJSON,
		SourceID:       "bls",
		Enabled:        true,
		FeatureFlag:    "connector_bls",
		Tier:           model.Tier1,
		BaseURL:        "https://api.bls.gov/publicAPI/v2",
		Retry:          model.RetryPolicy{MaxRetries: 3, BaseBackoff: time.Second, CircuitBreakerThreshold: 5},
		RateLimit:      model.RateLimit{PerMinute: 25, PerHour: 500},
		AllowedDomains: []string{"api.bls.gov"},
		Items:          []string{"gasoline-gallon", "milk-gallon", "eggs-dozen", "bread-loaf", "electricity-kwh"},
	},
	{
		ID:             "eia-sdmx",
		Name:           "EIA energy prices (SDMX-XML)",
		Kind:           model.ProviderXML,
		SourceID:       "eia",
		Enabled:        true,
		FeatureFlag:    "connector_eia",
		Tier:           model.Tier2,
		BaseURL:        "https://api.eia.gov/v2",
		Retry:          model.RetryPolicy{MaxRetries: 3, BaseBackoff: 2 * time.Second, CircuitBreakerThreshold: 5},
		RateLimit:      model.RateLimit{PerMinute: 30, PerHour: 600},
		AllowedDomains: []string{"api.eia.gov"},
		Items:          []string{"gasoline-gallon", "electricity-kwh"},
	},
	{
		ID:             "usda-ers",
		Name:           "USDA ERS retail price tables (XLSX)",
		Kind:           model.ProviderXLSX,
		SourceID:       "usda",
		Enabled:        true,
		FeatureFlag:    "connector_usda",
		Tier:           model.Tier2,
		BaseURL:        "https://www.ers.usda.gov/data",
		Retry:          model.RetryPolicy{MaxRetries: 2, BaseBackoff: 2 * time.Second, CircuitBreakerThreshold: 5},
		RateLimit:      model.RateLimit{PerMinute: 10, PerHour: 100},
		AllowedDomains: []string{"www.ers.usda.gov", "ers.usda.gov"},
		Items:          []string{"milk-gallon", "eggs-dozen", "bread-loaf"},
	},
	{
		ID:             "statfeed-ftp",
		Name:           "Statistical bulk drop (FTP CSV)",
		Kind:           model.ProviderFTPCSV,
		SourceID:       "statfeed",
		Enabled:        true,
		FeatureFlag:    "connector_statfeed",
		Tier:           model.Tier3,
		BaseURL:        "ftp://ftp.statfeed.example.org/drops",
		Retry:          model.RetryPolicy{MaxRetries: 2, BaseBackoff: 5 * time.Second, CircuitBreakerThreshold: 5},
		RateLimit:      model.RateLimit{PerMinute: 4, PerHour: 40},
		AllowedDomains: []string{"ftp.statfeed.example.org"},
		Items:          []string{"rent-2br", "bread-loaf"},
	},
	{
		ID:             "community-prices",
		Name:           "Community price survey (CSV)",
		Kind:           model.ProviderCSV,
		SourceID:       "community",
		Enabled:        true,
		FeatureFlag:    "connector_community",
		Tier:           model.Tier3,
		BaseURL:        "https://data.pricesurvey.example.com",
		Retry:          model.RetryPolicy{MaxRetries: 2, BaseBackoff: 3 * time.Second, CircuitBreakerThreshold: 5},
		RateLimit:      model.RateLimit{PerMinute: 12, PerHour: 200},
		AllowedDomains: []string{"data.pricesurvey.example.com"},
		Items:          []string{"gasoline-gallon", "milk-gallon", "eggs-dozen", "bread-loaf", "rent-2br"},
	},
}

// validKinds lists the provider kinds a catalog file may declare.
var validKinds = map[model.ProviderKind]bool{
	model.ProviderJSON:   true,
	model.ProviderCSV:    true,
	model.ProviderXLSX:   true,
	model.ProviderXML:    true,
	model.ProviderFTPCSV: true,
}

// ConnectorRegistry is the static catalog of provider connectors. Connectors
// are immutable after registration; only the enabled flag may be toggled.
type ConnectorRegistry struct {
	mu         sync.RWMutex
	connectors map[string]*model.Connector
	items      *ItemCatalog
}

// NewConnectorRegistry builds a registry from the built-in catalog.
func NewConnectorRegistry() *ConnectorRegistry {
	r := &ConnectorRegistry{
		connectors: make(map[string]*model.Connector, len(defaultConnectors)),
		items:      DefaultItemCatalog(),
	}
	for i := range defaultConnectors {
		c := defaultConnectors[i]
		r.connectors[c.ID] = &c
	}
	return r
}

// catalogFile is the shape of an external connectors.yaml.
type catalogFile struct {
	Connectors []model.Connector `yaml:"connectors"`
	Items      []ItemDef         `yaml:"items,omitempty"`
}

// LoadCatalogFile merges connectors (and optional item definitions) from a
// YAML file over the built-in catalog. A connector with an unknown provider
// kind is an error, not a skip.
func (r *ConnectorRegistry) LoadCatalogFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return eris.Wrap(err, "registry: read catalog file")
	}

	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return eris.Wrap(err, "registry: unmarshal catalog file")
	}

	for _, c := range file.Connectors {
		if c.ID == "" {
			return eris.New("registry: catalog connector missing id")
		}
		if !validKinds[c.Kind] {
			return eris.Errorf("registry: connector %s has unknown kind %q", c.ID, c.Kind)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range file.Connectors {
		c := file.Connectors[i]
		r.connectors[c.ID] = &c
	}
	if len(file.Items) > 0 {
		merged := append(append([]ItemDef{}, defaultItems...), file.Items...)
		r.items = NewItemCatalog(merged)
	}
	return nil
}

// Get returns the connector with the given id.
func (r *ConnectorRegistry) Get(id string) (*model.Connector, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.connectors[id]
	return c, ok
}

// All returns the catalog sorted by connector id.
func (r *ConnectorRegistry) All() []*model.Connector {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*model.Connector, 0, len(r.connectors))
	for _, c := range r.connectors {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// SetEnabled toggles the only mutable connector field.
func (r *ConnectorRegistry) SetEnabled(id string, enabled bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.connectors[id]
	if !ok {
		return eris.Errorf("registry: unknown connector %s", id)
	}
	c.Enabled = enabled
	return nil
}

// Items returns the item catalog in effect.
func (r *ConnectorRegistry) Items() *ItemCatalog {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.items
}

// TierScore maps a provider tier to its confidence factor contribution.
func TierScore(t model.ProviderTier) float64 {
	switch t {
	case model.Tier1:
		return 100
	case model.Tier2:
		return 75
	default:
		return 50
	}
}
