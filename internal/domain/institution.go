package domain

import "time"

// Region is a supported regulatory region.
type Region string

const (
	RegionUS   Region = "US"
	RegionEUUK Region = "EU_UK"
	RegionSG   Region = "SG"
	RegionUAE  Region = "UAE"
)

// Regions lists every supported region.
var Regions = []Region{RegionUS, RegionEUUK, RegionSG, RegionUAE}

// Valid reports whether r is a supported region.
func (r Region) Valid() bool {
	for _, region := range Regions {
		if r == region {
			return true
		}
	}
	return false
}

// Vertical is a supported business vertical.
type Vertical string

const (
	VerticalConstruction Vertical = "CONSTRUCTION"
	VerticalTradeFinance Vertical = "TRADE_FINANCE"
)

// Verticals lists every supported vertical.
var Verticals = []Vertical{VerticalConstruction, VerticalTradeFinance}

// Valid reports whether v is a supported vertical.
func (v Vertical) Valid() bool {
	for _, vertical := range Verticals {
		if v == vertical {
			return true
		}
	}
	return false
}

// Institution is a partner organisation that holds escrow positions.
type Institution struct {
	ID        string
	Name      string
	Regions   []Region
	Verticals []Vertical
	CreatedAt time.Time
	UpdatedAt time.Time
}

// OperatesIn reports whether the institution is onboarded in the region.
func (i Institution) OperatesIn(region Region) bool {
	for _, r := range i.Regions {
		if r == region {
			return true
		}
	}
	return false
}

// SupportsVertical reports whether the institution covers the vertical.
func (i Institution) SupportsVertical(vertical Vertical) bool {
	for _, v := range i.Verticals {
		if v == vertical {
			return true
		}
	}
	return false
}

// AssetTemplate defines a class of assets for an institution, pinned to one
// region and vertical. Config carries free-form template settings, including
// the optional on-chain mirroring block.
type AssetTemplate struct {
	ID            string
	InstitutionID string
	Code          string
	Name          string
	Vertical      Vertical
	Region        Region
	Config        map[string]any
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// TemplateOnchainConfig is the per-template on-chain mirroring toggle parsed
// from the template config's "onchain" block.
type TemplateOnchainConfig struct {
	Enabled bool
	ChainID *int64
}

// OnchainConfig extracts the on-chain block from the template config. A
// missing or malformed block disables mirroring for the template.
func (t AssetTemplate) OnchainConfig() TemplateOnchainConfig {
	raw, ok := t.Config["onchain"].(map[string]any)
	if !ok {
		return TemplateOnchainConfig{}
	}

	cfg := TemplateOnchainConfig{}
	if enabled, ok := raw["enabled"].(bool); ok {
		cfg.Enabled = enabled
	}
	switch v := raw["chain_id"].(type) {
	case int64:
		cfg.ChainID = &v
	case int:
		id := int64(v)
		cfg.ChainID = &id
	case float64:
		// JSON round-trips numbers as float64.
		id := int64(v)
		cfg.ChainID = &id
	}
	return cfg
}

// Asset is a concrete real-world asset instantiated from a template.
type Asset struct {
	ID            string
	InstitutionID string
	TemplateID    string
	Label         string
	Metadata      map[string]any
	CreatedAt     time.Time
	UpdatedAt     time.Time
}
