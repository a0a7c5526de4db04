// Package settings serves org billing settings from a hot-reloadable file.
package settings

import (
	"errors"
	"log"
	"strings"
	"sync/atomic"

	"github.com/bwmarrin/snowflake"
	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// FallbackPaymentWindowDays applies when no setting is configured or the
// settings source is unreachable.
const FallbackPaymentWindowDays = 30

// Provider exposes org-level billing settings to the generators.
type Provider interface {
	DefaultPaymentWindowDays(orgID snowflake.ID) int
}

// OrgSettings overrides billing settings for a single organization.
type OrgSettings struct {
	PaymentWindowDays *int `mapstructure:"paymentWindowDays"`
}

// BillingSettings is the file-backed settings document.
type BillingSettings struct {
	PaymentWindowDays int                    `mapstructure:"paymentWindowDays"`
	Organizations     map[string]OrgSettings `mapstructure:"organizations"`
}

func DefaultBillingSettings() BillingSettings {
	return BillingSettings{
		PaymentWindowDays: FallbackPaymentWindowDays,
	}
}

// Holder keeps the current settings behind an atomic so readers never block
// reloads.
type Holder struct {
	current atomic.Value // holds BillingSettings
}

func NewHolder() (*Holder, error) {
	v := viper.New()

	v.SetConfigName("billing")
	v.SetConfigType("yml")
	v.AddConfigPath("/var/lib/duecycle/config") // Volume-mounted config
	v.AddConfigPath("/etc/duecycle")            // System config
	v.AddConfigPath(".")                        // Current directory (dev mode)

	v.SetEnvPrefix("DUECYCLE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		defaults := DefaultBillingSettings()
		v.SetDefault("billing.paymentWindowDays", defaults.PaymentWindowDays)
	}

	var cfg BillingSettings
	if err := v.UnmarshalKey("billing", &cfg); err != nil {
		return nil, err
	}
	if err := validate(cfg); err != nil {
		return nil, err
	}

	holder := &Holder{}
	holder.current.Store(normalize(cfg))

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		var updated BillingSettings
		if err := v.UnmarshalKey("billing", &updated); err != nil {
			log.Printf("[billing-settings] reload failed: %v", err)
			return
		}
		if err := validate(updated); err != nil {
			log.Printf("[billing-settings] invalid settings ignored: %v", err)
			return
		}
		holder.current.Store(normalize(updated))
		log.Printf("[billing-settings] reloaded from %s", e.Name)
	})

	return holder, nil
}

// NewStaticHolder builds a holder for tests and embedded use.
func NewStaticHolder(cfg BillingSettings) *Holder {
	holder := &Holder{}
	holder.current.Store(normalize(cfg))
	return holder
}

func (h *Holder) Get() BillingSettings {
	return h.current.Load().(BillingSettings)
}

// DefaultPaymentWindowDays resolves the payment window for an org: the org
// override wins, then the global setting, then the hardcoded fallback.
func (h *Holder) DefaultPaymentWindowDays(orgID snowflake.ID) int {
	cfg := h.Get()
	if org, ok := cfg.Organizations[orgID.String()]; ok && org.PaymentWindowDays != nil && *org.PaymentWindowDays > 0 {
		return *org.PaymentWindowDays
	}
	if cfg.PaymentWindowDays > 0 {
		return cfg.PaymentWindowDays
	}
	return FallbackPaymentWindowDays
}

func validate(cfg BillingSettings) error {
	if cfg.PaymentWindowDays < 0 {
		return errors.New("billing.paymentWindowDays cannot be negative")
	}
	for key, org := range cfg.Organizations {
		if org.PaymentWindowDays != nil && *org.PaymentWindowDays < 0 {
			return errors.New("billing.organizations." + key + ".paymentWindowDays cannot be negative")
		}
	}
	return nil
}

func normalize(cfg BillingSettings) BillingSettings {
	if cfg.PaymentWindowDays == 0 {
		cfg.PaymentWindowDays = FallbackPaymentWindowDays
	}
	return cfg
}
