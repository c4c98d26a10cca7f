package sampler

import (
	"context"
	"fmt"
	"sync"

	"gonum.org/v1/gonum/mat"

	"recapture/internal/statespace"
)

// ChainDraws is one chain's retained output. Params is row-major with
// len(ParamNames) columns, PStar with one column per primary occasion.
type ChainDraws struct {
	Seed        uint64
	Draws       int
	Params      []float64
	PStar       []float64
	AcceptGamma float64
	AcceptMu    float64
}

// ParamMatrix views the retained parameter draws as a matrix.
func (d ChainDraws) ParamMatrix() *mat.Dense {
	return mat.NewDense(d.Draws, len(ParamNames), d.Params)
}

// Posterior is the combined output of all chains.
type Posterior struct {
	Config    Config
	Primaries int
	Chains    []ChainDraws
}

// PStarMatrix stacks every chain's pooled detection draws into one
// R x P matrix for the abundance estimator.
func (p *Posterior) PStarMatrix() *mat.Dense {
	total := 0
	for _, c := range p.Chains {
		total += c.Draws
	}
	out := mat.NewDense(total, p.Primaries, nil)
	row := 0
	for _, c := range p.Chains {
		for r := 0; r < c.Draws; r++ {
			out.SetRow(row, c.PStar[r*p.Primaries:(r+1)*p.Primaries])
			row++
		}
	}
	return out
}

// ParamColumn gathers one parameter's draws per chain, for diagnostics.
func (p *Posterior) ParamColumn(col int) [][]float64 {
	out := make([][]float64, len(p.Chains))
	for i, c := range p.Chains {
		draws := make([]float64, c.Draws)
		for r := 0; r < c.Draws; r++ {
			draws[r] = c.Params[r*len(ParamNames)+col]
		}
		out[i] = draws
	}
	return out
}

// Fit runs the configured number of independent chains concurrently and
// returns their retained draws. The call is synchronous: nothing is
// reported before every chain finishes all of its iterations.
func Fit(ctx context.Context, spec *statespace.Spec, cfg Config) (*Posterior, error) {
	cfg = cfg.withDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	type result struct {
		idx   int
		draws ChainDraws
		err   error
	}
	results := make(chan result, cfg.Chains)

	var wg sync.WaitGroup
	wg.Add(cfg.Chains)
	for k := 0; k < cfg.Chains; k++ {
		seed := cfg.Seed + uint64(k)*0x9e3779b97f4a7c15
		go func(idx int, seed uint64) {
			defer wg.Done()
			ch := newChain(spec, cfg, seed)
			draws, err := ch.run(ctx)
			draws.Seed = seed
			results <- result{idx: idx, draws: draws, err: err}
		}(k, seed)
	}
	wg.Wait()
	close(results)

	post := &Posterior{
		Config:    cfg,
		Primaries: spec.Dataset().Grid.Primaries,
		Chains:    make([]ChainDraws, cfg.Chains),
	}
	for res := range results {
		if res.err != nil {
			return nil, fmt.Errorf("chain %d: %w", res.idx+1, res.err)
		}
		post.Chains[res.idx] = res.draws
	}
	return post, nil
}
