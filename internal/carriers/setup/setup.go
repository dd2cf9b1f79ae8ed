// Package setup wires carrier clients from configuration. Both binaries use
// it: the API for validation, quoting and on-demand refreshes, the worker
// for scheduled ones.
package setup

import (
	"github.com/spediware/trackhub/config"
	"github.com/spediware/trackhub/internal/carriers"
	"github.com/spediware/trackhub/internal/carriers/brt"
	"github.com/spediware/trackhub/internal/carriers/dhl"
	"github.com/spediware/trackhub/internal/carriers/fake"
	"github.com/spediware/trackhub/internal/carriers/fedex"
	"github.com/spediware/trackhub/internal/carriers/sda"
	"github.com/spediware/trackhub/internal/carriers/spediamopro"
	"github.com/spediware/trackhub/internal/carriers/tnt"
	"github.com/spediware/trackhub/internal/carriers/ups"
	"github.com/spediware/trackhub/internal/models"
)

// BuildRegistry registers a client for every enabled carrier. With UseFake
// set, the deterministic in-process carrier is the only one registered;
// local runs and demos need no credentials that way.
func BuildRegistry(cfg config.CarriersConfig) *carriers.Registry {
	reg := carriers.NewRegistry()

	if cfg.UseFake {
		reg.Register(fake.New())
		return reg
	}

	if cfg.DHL.Enabled {
		reg.Register(dhl.New(dhl.Config{
			SiteID:       cfg.DHL.SiteID,
			Password:     cfg.DHL.Password,
			CustomerCode: cfg.DHL.CustomerCode,
			BaseURL:      cfg.DHL.BaseURL,
		}))
	}
	if cfg.UPS.Enabled {
		reg.Register(ups.New(ups.Config{
			LicenseNumber: cfg.UPS.LicenseNumber,
			Username:      cfg.UPS.Username,
			Password:      cfg.UPS.Password,
			ClientID:      cfg.UPS.ClientID,
			ClientSecret:  cfg.UPS.ClientSecret,
			AccountNumber: cfg.UPS.AccountNumber,
			TrackURL:      cfg.UPS.TrackURL,
			RateURL:       cfg.UPS.RateURL,
		}))
	}
	if cfg.FedEx.Enabled {
		reg.Register(fedex.New(fedex.Config{
			ClientID:     cfg.FedEx.ClientID,
			ClientSecret: cfg.FedEx.ClientSecret,
			BaseURL:      cfg.FedEx.BaseURL,
		}))
	}
	if cfg.TNT.Enabled {
		reg.Register(tnt.New(tnt.Config{
			Customer:  cfg.TNT.Customer,
			User:      cfg.TNT.User,
			Password:  cfg.TNT.Password,
			AccountNo: cfg.TNT.AccountNumber,
			BaseURL:   cfg.TNT.BaseURL,
		}))
	}
	if cfg.SDA.Enabled {
		reg.Register(sda.New(sda.Config{
			AuthURL:      cfg.SDA.AuthURL,
			BaseURL:      cfg.SDA.BaseURL,
			ClientID:     cfg.SDA.ClientID,
			ClientSecret: cfg.SDA.ClientSecret,
			Scope:        cfg.SDA.Scope,
		}))
	}
	if cfg.BRT.Enabled {
		reg.Register(brt.New(brt.Config{
			Username: cfg.BRT.Username,
			Password: cfg.BRT.Password,
			BaseURL:  cfg.BRT.BaseURL,
		}))
	}
	if cfg.SpediamoPro.Enabled {
		reg.Register(spediamopro.New(spediamopro.Config{
			BaseURL:  cfg.SpediamoPro.BaseURL,
			Username: cfg.SpediamoPro.Username,
			Password: cfg.SpediamoPro.Password,
			AuthCode: cfg.SpediamoPro.AuthCode,
		}))
	}
	return reg
}

// RateLimits collects the per-carrier call budgets; zero means unlimited.
func RateLimits(cfg config.CarriersConfig) map[string]int64 {
	out := map[string]int64{
		models.CarrierDHL:         int64(cfg.DHL.RateLimitPerMinute),
		models.CarrierUPS:         int64(cfg.UPS.RateLimitPerMinute),
		models.CarrierFedEx:       int64(cfg.FedEx.RateLimitPerMinute),
		models.CarrierTNT:         int64(cfg.TNT.RateLimitPerMinute),
		models.CarrierSDA:         int64(cfg.SDA.RateLimitPerMinute),
		models.CarrierBRT:         int64(cfg.BRT.RateLimitPerMinute),
		models.CarrierSpediamoPro: int64(cfg.SpediamoPro.RateLimitPerMinute),
	}
	for code, limit := range out {
		if limit <= 0 {
			delete(out, code)
		}
	}
	return out
}
