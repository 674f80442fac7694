package config

import (
	"errors"
	"log"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// RentalPolicy tunes the reconciliation engine's date and code generation
// behavior without a redeploy.
type RentalPolicy struct {
	DefaultTermMonths    int `mapstructure:"defaultTermMonths"`
	NextPaymentGraceDays int `mapstructure:"nextPaymentGraceDays"`
	AccessCodeDigits     int `mapstructure:"accessCodeDigits"`
	SignatureToleranceS  int `mapstructure:"signatureToleranceSeconds"`
}

func DefaultRentalPolicy() RentalPolicy {
	return RentalPolicy{
		DefaultTermMonths:    1,
		NextPaymentGraceDays: 30,
		AccessCodeDigits:     4,
		SignatureToleranceS:  300,
	}
}

type RentalPolicyHolder struct {
	current atomic.Value // holds RentalPolicy
}

func NewRentalPolicyHolder() (*RentalPolicyHolder, error) {
	v := viper.New()

	v.SetConfigName("rental")
	v.SetConfigType("yml")
	v.AddConfigPath("/var/lib/storlock/config") // Volume-mounted config
	v.AddConfigPath("/etc/storlock")            // System config
	v.AddConfigPath(".")                        // Current directory (dev mode)

	v.SetEnvPrefix("STORLOCK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		defaults := DefaultRentalPolicy()
		v.SetDefault("rental.defaultTermMonths", defaults.DefaultTermMonths)
		v.SetDefault("rental.nextPaymentGraceDays", defaults.NextPaymentGraceDays)
		v.SetDefault("rental.accessCodeDigits", defaults.AccessCodeDigits)
		v.SetDefault("rental.signatureToleranceSeconds", defaults.SignatureToleranceS)
	}

	var policy RentalPolicy
	if err := v.UnmarshalKey("rental", &policy); err != nil {
		return nil, err
	}
	if err := validateRentalPolicy(policy); err != nil {
		return nil, err
	}

	holder := &RentalPolicyHolder{}
	holder.current.Store(policy)

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		var updated RentalPolicy
		if err := v.UnmarshalKey("rental", &updated); err != nil {
			log.Printf("[rental-policy] reload failed: %v", err)
			return
		}
		if err := validateRentalPolicy(updated); err != nil {
			log.Printf("[rental-policy] invalid policy ignored: %v", err)
			return
		}
		holder.current.Store(updated)
		log.Printf("[rental-policy] reloaded from %s", e.Name)
	})

	return holder, nil
}

// NewStaticRentalPolicyHolder returns a holder with a fixed policy and no
// file watching. Intended for tests.
func NewStaticRentalPolicyHolder(policy RentalPolicy) *RentalPolicyHolder {
	holder := &RentalPolicyHolder{}
	holder.current.Store(policy)
	return holder
}

func (h *RentalPolicyHolder) Get() RentalPolicy {
	return h.current.Load().(RentalPolicy)
}

func validateRentalPolicy(policy RentalPolicy) error {
	if policy.DefaultTermMonths < 1 {
		return errors.New("rental.defaultTermMonths must be at least 1")
	}
	if policy.NextPaymentGraceDays < 0 {
		return errors.New("rental.nextPaymentGraceDays cannot be negative")
	}
	if policy.AccessCodeDigits < 4 || policy.AccessCodeDigits > 8 {
		return errors.New("rental.accessCodeDigits must be between 4 and 8")
	}
	if policy.SignatureToleranceS <= 0 {
		return errors.New("rental.signatureToleranceSeconds must be positive")
	}
	return nil
}
