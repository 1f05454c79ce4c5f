package supervisor

import (
	"fmt"
	"time"

	"github.com/agentserver/agentserver/internal/apperr"
)

// Tier is a resource class. Values are contractual per the specification;
// unknown tier names are rejected outright.
type Tier struct {
	Name            string
	CPUCores        float64
	MemoryBytes     int64
	DiskBytes       int64
	PidsLimit       int64
	IdleTimeout     time.Duration
	MaxContainers   int
}

const (
	TierFree       = "free"
	TierPro        = "pro"
	TierEnterprise = "enterprise"
)

const gib = 1024 * 1024 * 1024

var tierTable = map[string]Tier{
	TierFree: {
		Name: TierFree, CPUCores: 0.5, MemoryBytes: 1 * gib, DiskBytes: 5 * gib,
		PidsLimit: 100, IdleTimeout: 30 * time.Minute, MaxContainers: 1,
	},
	TierPro: {
		Name: TierPro, CPUCores: 2, MemoryBytes: 4 * gib, DiskBytes: 20 * gib,
		PidsLimit: 500, IdleTimeout: 60 * time.Minute, MaxContainers: 3,
	},
	TierEnterprise: {
		Name: TierEnterprise, CPUCores: 4, MemoryBytes: 8 * gib, DiskBytes: 50 * gib,
		PidsLimit: 1000, IdleTimeout: 120 * time.Minute, MaxContainers: 10,
	},
}

// LookupTier returns the fixed resource tier for name, or a Config error if
// name is not one of the contractual tiers.
func LookupTier(name string) (Tier, error) {
	t, ok := tierTable[name]
	if !ok {
		return Tier{}, apperr.New(apperr.KindConfig, "lookup_tier", fmt.Errorf("unknown tier %q", name))
	}
	return t, nil
}

// NanoCPUs converts CPUCores into the Docker Engine's nano-CPU unit.
func (t Tier) NanoCPUs() int64 {
	return int64(t.CPUCores * 1e9)
}
