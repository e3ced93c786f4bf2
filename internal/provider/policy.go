package provider

import (
	"fmt"
	"math/rand"

	"github.com/jmehdipour/inference-gateway/internal/model"
)

// SelectionPolicy picks one provider from a non-empty candidate list.
type SelectionPolicy func(candidates []model.Provider) model.Provider

const (
	PolicyRandom   = "random"
	PolicyWeighted = "weighted"
)

func RandomPolicy(candidates []model.Provider) model.Provider {
	return candidates[rand.Intn(len(candidates))]
}

// WeightedByReputation favours providers with more points. Every candidate
// keeps a base weight of one so newcomers still get traffic.
func WeightedByReputation(candidates []model.Provider) model.Provider {
	var total int64
	for _, p := range candidates {
		total += p.Points + 1
	}
	n := rand.Int63n(total)
	for _, p := range candidates {
		n -= p.Points + 1
		if n < 0 {
			return p
		}
	}
	return candidates[len(candidates)-1]
}

func PolicyByName(name string) (SelectionPolicy, error) {
	switch name {
	case "", PolicyRandom:
		return RandomPolicy, nil
	case PolicyWeighted:
		return WeightedByReputation, nil
	default:
		return nil, fmt.Errorf("unknown selection policy %q", name)
	}
}
