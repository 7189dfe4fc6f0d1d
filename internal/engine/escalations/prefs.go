package escalations

import (
	"fmt"

	"relayr/internal/platform/config"
)

// BrandPrefs is the notification preference view the scheduler consults
// before dispatching.
type BrandPrefs struct {
	NotifyEmail string
	WebhookURL  string
	Provider    string
	Muted       bool
}

// PreferenceSource resolves a brand's notification preferences. A lookup
// failure is treated by the scheduler as "send", never as "suppress".
type PreferenceSource interface {
	Get(brandID string) (*BrandPrefs, error)
}

// ConfigPreferenceSource reads preferences from the static brands section
// of the config file.
type ConfigPreferenceSource struct {
	brands map[string]config.BrandConfig
}

func NewConfigPreferenceSource(brands map[string]config.BrandConfig) *ConfigPreferenceSource {
	return &ConfigPreferenceSource{brands: brands}
}

func (s *ConfigPreferenceSource) Get(brandID string) (*BrandPrefs, error) {
	brand, ok := s.brands[brandID]
	if !ok {
		return nil, fmt.Errorf("escalations: no settings for brand %s", brandID)
	}
	return &BrandPrefs{
		NotifyEmail: brand.NotifyEmail,
		WebhookURL:  brand.WebhookURL,
		Provider:    brand.Provider,
		Muted:       brand.Muted,
	}, nil
}
