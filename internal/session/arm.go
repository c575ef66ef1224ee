package session

import (
	"fmt"
	"hash/fnv"
	"math/rand/v2"
	"sync"
)

// ArmConfig is the static configuration for one arm, loaded at startup
// and read-only afterwards.
type ArmConfig struct {
	Arm             Arm
	SystemPrompt    string
	ContextDocument string
}

// AssignPolicy selects how sessions are split across arms.
type AssignPolicy string

const (
	// AssignDeterministic hashes the session id, so a session keeps its
	// arm across process restarts.
	AssignDeterministic AssignPolicy = "deterministic"
	// AssignRandom draws per session and pins the result in memory.
	AssignRandom AssignPolicy = "random"
)

// Assigner maps sessions to arms. Safe for concurrent use.
type Assigner struct {
	policy     AssignPolicy
	shortRatio int // percent of sessions assigned to the short arm
	configs    map[Arm]ArmConfig

	mu     sync.Mutex
	pinned map[string]Arm // random policy only
}

// NewAssigner builds an assigner over the configured arms. The short arm
// must be configured; a long-arm config is optional for single-arm
// deployments, in which case every session gets the short arm.
func NewAssigner(policy AssignPolicy, shortRatio int, configs []ArmConfig) (*Assigner, error) {
	if policy != AssignDeterministic && policy != AssignRandom {
		return nil, fmt.Errorf("unknown assignment policy %q", policy)
	}
	if shortRatio < 0 || shortRatio > 100 {
		return nil, fmt.Errorf("short arm ratio %d out of range [0,100]", shortRatio)
	}

	byArm := make(map[Arm]ArmConfig, len(configs))
	for _, cfg := range configs {
		if !cfg.Arm.Valid() {
			return nil, fmt.Errorf("unknown arm %q in configuration", cfg.Arm)
		}
		byArm[cfg.Arm] = cfg
	}
	if _, ok := byArm[ArmShort]; !ok {
		return nil, fmt.Errorf("short arm configuration is required")
	}

	return &Assigner{
		policy:     policy,
		shortRatio: shortRatio,
		configs:    byArm,
		pinned:     make(map[string]Arm),
	}, nil
}

// Assign returns the arm for sessionID. Deterministic assignments are a
// pure function of the id; random assignments are pinned so repeated
// calls for the same session agree.
func (a *Assigner) Assign(sessionID string) (Arm, error) {
	switch a.policy {
	case AssignDeterministic:
		h := fnv.New32a()
		_, _ = h.Write([]byte(sessionID))
		if int(h.Sum32()%100) < a.shortRatio {
			return ArmShort, nil
		}
		return a.fallbackLong(), nil
	case AssignRandom:
		a.mu.Lock()
		defer a.mu.Unlock()
		if arm, ok := a.pinned[sessionID]; ok {
			return arm, nil
		}
		arm := a.draw()
		a.pinned[sessionID] = arm
		return arm, nil
	}
	return "", fmt.Errorf("unknown assignment policy %q", a.policy)
}

// Config returns the configuration for arm.
func (a *Assigner) Config(arm Arm) (ArmConfig, error) {
	cfg, ok := a.configs[arm]
	if !ok {
		return ArmConfig{}, fmt.Errorf("no configuration for arm %q", arm)
	}
	return cfg, nil
}

func (a *Assigner) draw() Arm {
	if rand.IntN(100) < a.shortRatio {
		return ArmShort
	}
	return a.fallbackLong()
}

// fallbackLong returns the long arm when configured, otherwise short,
// supporting single-arm deployments.
func (a *Assigner) fallbackLong() Arm {
	if _, ok := a.configs[ArmLong]; ok {
		return ArmLong
	}
	return ArmShort
}
