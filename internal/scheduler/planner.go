package scheduler

import (
	"math/rand"
	"time"

	"github.com/spediware/trackhub/internal/models"
)

type Rand interface {
	Intn(n int) int
}

type PlannerConfig struct {
	DeliveredDelay time.Duration // default: 365 days; delivered shipments are effectively parked

	CreatedDelay        time.Duration // default: 15 minutes
	InTransitMinDelay   time.Duration // default: 30 minutes
	InTransitMaxDelay   time.Duration // default: 60 minutes
	OutForDeliveryDelay time.Duration // default: 10 minutes

	UnknownDelay time.Duration // default: 60 minutes

	BackoffBase time.Duration // default: 5 minutes
	BackoffCap  time.Duration // default: 6 hours
}

func DefaultPlannerConfig() PlannerConfig {
	return PlannerConfig{
		DeliveredDelay: 365 * 24 * time.Hour,

		CreatedDelay:        15 * time.Minute,
		InTransitMinDelay:   30 * time.Minute,
		InTransitMaxDelay:   60 * time.Minute,
		OutForDeliveryDelay: 10 * time.Minute,

		UnknownDelay: 60 * time.Minute,

		BackoffBase: 5 * time.Minute,
		BackoffCap:  6 * time.Hour,
	}
}

// Planner decides when a shipment should next be refreshed: a per-status
// delay after success, exponential backoff after failure.
type Planner struct {
	cfg PlannerConfig
	r   Rand
}

func NewPlanner(cfg PlannerConfig, r Rand) *Planner {
	def := DefaultPlannerConfig()
	if cfg.DeliveredDelay <= 0 {
		cfg.DeliveredDelay = def.DeliveredDelay
	}
	if cfg.CreatedDelay <= 0 {
		cfg.CreatedDelay = def.CreatedDelay
	}
	if cfg.InTransitMinDelay <= 0 {
		cfg.InTransitMinDelay = def.InTransitMinDelay
	}
	if cfg.InTransitMaxDelay <= 0 {
		cfg.InTransitMaxDelay = def.InTransitMaxDelay
	}
	if cfg.InTransitMaxDelay < cfg.InTransitMinDelay {
		cfg.InTransitMaxDelay = cfg.InTransitMinDelay
	}
	if cfg.OutForDeliveryDelay <= 0 {
		cfg.OutForDeliveryDelay = def.OutForDeliveryDelay
	}
	if cfg.UnknownDelay <= 0 {
		cfg.UnknownDelay = def.UnknownDelay
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = def.BackoffBase
	}
	if cfg.BackoffCap < cfg.BackoffBase {
		cfg.BackoffCap = def.BackoffCap
	}
	if r == nil {
		r = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Planner{cfg: cfg, r: r}
}

func DefaultPlanner() *Planner {
	return NewPlanner(DefaultPlannerConfig(), nil)
}

func (p *Planner) NextCheckDelay(status string) time.Duration {
	switch status {
	case models.StatusDelivered, models.StatusClosed, models.StatusException:
		return p.cfg.DeliveredDelay
	case models.StatusCreated:
		return p.cfg.CreatedDelay
	case models.StatusOutForDelivery:
		return p.cfg.OutForDeliveryDelay
	case models.StatusInTransit:
		min := p.cfg.InTransitMinDelay
		max := p.cfg.InTransitMaxDelay
		if max == min {
			return min
		}
		secMin := int(min.Seconds())
		secMax := int(max.Seconds())
		return time.Duration(secMin+p.r.Intn(secMax-secMin+1)) * time.Second
	default:
		return p.cfg.UnknownDelay
	}
}

// BackoffDelay for the n-th consecutive failure: base * 2^(n-1), capped.
func (p *Planner) BackoffDelay(nextFailCount int32) time.Duration {
	if nextFailCount <= 1 {
		return p.cfg.BackoffBase
	}
	d := p.cfg.BackoffBase
	for i := int32(1); i < nextFailCount; i++ {
		d *= 2
		if d >= p.cfg.BackoffCap {
			return p.cfg.BackoffCap
		}
	}
	return d
}
