// Package sampler is a project-specific MCMC engine for the robust-design
// state-space model: Gibbs updates for the conjugate blocks (latent states,
// mixture indicators and weights, survival) and random-walk Metropolis for
// the temporary-emigration and detection rates. The mu ordering constraint
// is enforced at proposal time, never by post-hoc relabeling.
package sampler

import (
	"context"
	"fmt"
	"math"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/distuv"

	"recapture/internal/statespace"
)

// ParamNames indexes the columns of every chain's parameter draw matrix.
var ParamNames = []string{"beta1", "beta2", "beta3", "gamma", "mu1", "mu2", "prop1", "prop2"}

type Config struct {
	Chains     int
	Iterations int
	BurnIn     int
	Thin       int
	Seed       uint64

	// Random-walk proposal scales.
	GammaStep float64
	MuStep    float64
}

func (c Config) withDefaults() Config {
	if c.Chains <= 0 {
		c.Chains = 4
	}
	if c.Iterations <= 0 {
		c.Iterations = 2000
	}
	if c.BurnIn <= 0 {
		c.BurnIn = c.Iterations / 2
	}
	if c.Thin <= 0 {
		c.Thin = 1
	}
	if c.GammaStep <= 0 {
		c.GammaStep = 0.1
	}
	if c.MuStep <= 0 {
		c.MuStep = 0.1
	}
	return c
}

func (c Config) validate() error {
	if c.BurnIn >= c.Iterations {
		return fmt.Errorf("burn-in %d must be below iteration count %d", c.BurnIn, c.Iterations)
	}
	return nil
}

// chain owns all mutable sampling state. Chains never share state; each
// has its own RNG.
type chain struct {
	spec *statespace.Spec
	cfg  Config
	rng  *rand.Rand

	par statespace.Params
	eta []int
	z   [][]int

	// z is forced alive up to the last primary with a recorded capture.
	lastCapture []int

	acceptGamma, proposeGamma int
	acceptMu, proposeMu       int
}

func newChain(spec *statespace.Spec, cfg Config, seed uint64) *chain {
	rng := rand.New(rand.NewSource(seed))
	ds := spec.Dataset()

	c := &chain{
		spec:        spec,
		cfg:         cfg,
		rng:         rng,
		par:         spec.PriorDraw(rng),
		z:           spec.InitialLatent(),
		eta:         make([]int, len(ds.Individuals)),
		lastCapture: make([]int, len(ds.Individuals)),
	}
	for i, ind := range ds.Individuals {
		if rng.Float64() < c.par.Prop[1] {
			c.eta[i] = 1
		}
		lc := ind.First
		for t := ind.First; t <= ind.Last; t++ {
			if ds.CaptureHistory[i][t] == 1 {
				lc = t
			}
		}
		c.lastCapture[i] = lc
	}
	return c
}

func (c *chain) step() {
	c.updateLatent()
	c.updateSurvival()
	c.updateMixture()
	c.updateEmigration()
	c.updateDetection()
}

// updateLatent sweeps single-site Gibbs updates over z. Occasions at or
// before the last recorded capture are pinned alive; a capture of a dead
// individual has zero density, so the constraint is exact.
func (c *chain) updateLatent() {
	ds := c.spec.Dataset()
	for i, ind := range ds.Individuals {
		mu := c.par.Mu[c.eta[i]]
		zi := c.z[i]
		for t := ind.First; t <= c.lastCapture[i]; t++ {
			zi[t] = 1
		}
		for t := c.lastCapture[i] + 1; t <= ind.Last; t++ {
			if zi[t-1] == 0 {
				zi[t] = 0
				continue
			}
			pAlive := c.par.Beta[ds.AgeClass[i][t-1]-1]
			up := statespace.SeasonUpStar(mu, ds.Grid.Secondaries[t])

			// ch[t] is 0 past the last capture.
			w1 := pAlive * (1 - (1-c.par.Gamma)*up)
			w0 := 1 - pAlive
			if t < ind.Last {
				ageNow := c.par.Beta[ds.AgeClass[i][t]-1]
				if zi[t+1] == 1 {
					w1 *= ageNow
					w0 = 0
				} else {
					w1 *= 1 - ageNow
				}
			}
			if w0+w1 <= 0 {
				zi[t] = 0
				continue
			}
			if c.rng.Float64() < w1/(w0+w1) {
				zi[t] = 1
			} else {
				zi[t] = 0
			}
		}
	}
}

// updateSurvival draws each age-class survival from its conjugate
// Beta(1+alive, 1+dead) full conditional.
func (c *chain) updateSurvival() {
	alive, dead := c.spec.SurvivalTallies(c.z)
	for a := 0; a < statespace.AgeClasses; a++ {
		b := distuv.Beta{Alpha: float64(1 + alive[a]), Beta: float64(1 + dead[a]), Src: c.rng}
		c.par.Beta[a] = b.Rand()
	}
}

// updateMixture reassigns each individual's detection class from its
// categorical full conditional, then redraws the weights from the
// conjugate Dirichlet.
func (c *chain) updateMixture() {
	for i := range c.eta {
		var logw [statespace.MixtureClasses]float64
		for k := 0; k < statespace.MixtureClasses; k++ {
			logw[k] = math.Log(c.par.Prop[k]) +
				c.spec.LogPrimaryEmission(i, c.par.Gamma, c.par.Mu[k], c.z[i]) +
				c.spec.LogSecondaryEmission(i, c.par.Mu[k])
		}
		m := math.Max(logw[0], logw[1])
		w1 := math.Exp(logw[1] - m)
		total := math.Exp(logw[0]-m) + w1
		if c.rng.Float64() < w1/total {
			c.eta[i] = 1
		} else {
			c.eta[i] = 0
		}
	}

	counts := statespace.MixtureTallies(c.eta)
	g0 := distuv.Gamma{Alpha: float64(1 + counts[0]), Beta: 1, Src: c.rng}.Rand()
	g1 := distuv.Gamma{Alpha: float64(1 + counts[1]), Beta: 1, Src: c.rng}.Rand()
	c.par.Prop[0] = g0 / (g0 + g1)
	c.par.Prop[1] = g1 / (g0 + g1)
}

// updateEmigration is a random-walk Metropolis step on gamma under its
// Uniform(0,1) prior; gamma appears only in the primary-level emissions.
func (c *chain) updateEmigration() {
	c.proposeGamma++
	prop := c.par.Gamma + distuv.Normal{Mu: 0, Sigma: c.cfg.GammaStep, Src: c.rng}.Rand()
	if prop <= 0 || prop >= 1 {
		return
	}
	cur, alt := 0.0, 0.0
	for i := range c.eta {
		mu := c.par.Mu[c.eta[i]]
		cur += c.spec.LogPrimaryEmission(i, c.par.Gamma, mu, c.z[i])
		alt += c.spec.LogPrimaryEmission(i, prop, mu, c.z[i])
	}
	if math.Log(c.rng.Float64()) < alt-cur {
		c.par.Gamma = prop
		c.acceptGamma++
	}
}

// updateDetection proposes each detection rate in turn, rejecting any
// proposal that leaves (0,1) or breaks mu1 <= mu2. The ordering therefore
// holds for every retained draw.
func (c *chain) updateDetection() {
	for k := 0; k < statespace.MixtureClasses; k++ {
		c.proposeMu++
		prop := c.par.Mu[k] + distuv.Normal{Mu: 0, Sigma: c.cfg.MuStep, Src: c.rng}.Rand()
		if prop <= 0 || prop >= 1 {
			continue
		}
		if k == 0 && prop > c.par.Mu[1] {
			continue
		}
		if k == 1 && prop < c.par.Mu[0] {
			continue
		}
		cur, alt := 0.0, 0.0
		for i := range c.eta {
			if c.eta[i] != k {
				continue
			}
			cur += c.spec.LogPrimaryEmission(i, c.par.Gamma, c.par.Mu[k], c.z[i]) +
				c.spec.LogSecondaryEmission(i, c.par.Mu[k])
			alt += c.spec.LogPrimaryEmission(i, c.par.Gamma, prop, c.z[i]) +
				c.spec.LogSecondaryEmission(i, prop)
		}
		if math.Log(c.rng.Float64()) < alt-cur {
			c.par.Mu[k] = prop
			c.acceptMu++
		}
	}
}

func (c *chain) run(ctx context.Context) (ChainDraws, error) {
	retain := (c.cfg.Iterations - c.cfg.BurnIn + c.cfg.Thin - 1) / c.cfg.Thin
	p := c.spec.Dataset().Grid.Primaries
	params := make([]float64, 0, retain*len(ParamNames))
	pstar := make([]float64, 0, retain*p)

	for it := 0; it < c.cfg.Iterations; it++ {
		if err := ctx.Err(); err != nil {
			return ChainDraws{}, err
		}
		c.step()
		if it < c.cfg.BurnIn || (it-c.cfg.BurnIn)%c.cfg.Thin != 0 {
			continue
		}
		params = append(params,
			c.par.Beta[0], c.par.Beta[1], c.par.Beta[2],
			c.par.Gamma,
			c.par.Mu[0], c.par.Mu[1],
			c.par.Prop[0], c.par.Prop[1],
		)
		pstar = append(pstar, c.spec.PStar(c.par, c.eta)...)
	}

	draws := ChainDraws{
		Draws:  retain,
		Params: params,
		PStar:  pstar,
	}
	if c.proposeGamma > 0 {
		draws.AcceptGamma = float64(c.acceptGamma) / float64(c.proposeGamma)
	}
	if c.proposeMu > 0 {
		draws.AcceptMu = float64(c.acceptMu) / float64(c.proposeMu)
	}
	return draws, nil
}
