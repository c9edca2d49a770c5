// Package scorer assigns confidence scores to reserve estimates.
package scorer

import (
	"fmt"
	"math"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/ibnr-engine/internal/config"
	"github.com/sells-group/ibnr-engine/internal/model"
)

// DefaultConfidenceConfig returns a config.ConfidenceConfig with the
// documented defaults.
func DefaultConfidenceConfig() config.ConfidenceConfig {
	return config.ConfidenceConfig{
		DepthWeight:         0.5,
		StabilityWeight:     0.5,
		TargetMature:        6,
		MatureLag:           2,
		CVCap:               0.5,
		ThinLagPenalty:      2,
		UndefinedLagPenalty: 5,
		AnomalyCeiling:      85,
		ExpectedLossScore:   50,
	}
}

// ValidateConfig checks that a ConfidenceConfig is internally consistent.
func ValidateConfig(c config.ConfidenceConfig) error {
	var errs []string

	if c.DepthWeight < 0 {
		errs = append(errs, "depth_weight must be >= 0")
	}
	if c.StabilityWeight < 0 {
		errs = append(errs, "stability_weight must be >= 0")
	}
	if c.DepthWeight+c.StabilityWeight <= 0 {
		errs = append(errs, "weights must sum to a positive number")
	}
	if c.TargetMature <= 0 {
		errs = append(errs, "target_mature must be > 0")
	}
	if c.CVCap <= 0 {
		errs = append(errs, "cv_cap must be > 0")
	}
	if c.AnomalyCeiling < 0 || c.AnomalyCeiling > 100 {
		errs = append(errs, "anomaly_ceiling must be in [0, 100]")
	}
	if c.ExpectedLossScore < 0 || c.ExpectedLossScore > 100 {
		errs = append(errs, "expected_loss_score must be in [0, 100]")
	}

	if len(errs) > 0 {
		return eris.New(fmt.Sprintf("scorer: invalid confidence config: %s", strings.Join(errs, "; ")))
	}
	return nil
}

// Signals are the triangle statistics that drive confidence.
type Signals struct {
	Method        model.ReserveMethod
	MatureOrigins int
	Volatility    float64
	ThinLags      int
	UndefinedLags int
	Anomalous     bool
}

// Breakdown shows how a score was reached.
type Breakdown struct {
	Depth     float64 `json:"depth"`
	Stability float64 `json:"stability"`
	Penalty   float64 `json:"penalty"`
	Capped    bool    `json:"capped"`
	Score     int     `json:"score"`
}

// Confidence scores an estimate from 0 to 100:
//
//	100 * (wd*depth + ws*stability) / (wd+ws) - thin*thinLags - undefined*undefinedLags
//
// depth = min(1, mature/target) and stability = clamp(1 - volatility/cvCap, 0, 1).
// Expected Loss estimates use the fixed ExpectedLossScore. Any anomaly caps
// the result at AnomalyCeiling.
func Confidence(s Signals, cfg config.ConfidenceConfig) Breakdown {
	var b Breakdown
	var raw float64

	if s.Method == model.MethodExpectedLoss {
		raw = float64(cfg.ExpectedLossScore)
	} else {
		if cfg.TargetMature > 0 {
			b.Depth = math.Min(1, float64(s.MatureOrigins)/float64(cfg.TargetMature))
		}
		b.Stability = 1
		if cfg.CVCap > 0 {
			b.Stability = clamp(1-s.Volatility/cfg.CVCap, 0, 1)
		}
		wsum := cfg.DepthWeight + cfg.StabilityWeight
		if wsum > 0 {
			raw = 100 * (cfg.DepthWeight*b.Depth + cfg.StabilityWeight*b.Stability) / wsum
		}
		b.Penalty = cfg.ThinLagPenalty*float64(s.ThinLags) + cfg.UndefinedLagPenalty*float64(s.UndefinedLags)
		raw -= b.Penalty
	}

	score := int(math.Round(clamp(raw, 0, 100)))
	if s.Anomalous && score > cfg.AnomalyCeiling {
		score = cfg.AnomalyCeiling
		b.Capped = true
	}
	b.Score = score
	return b
}

// MatureOrigins counts origin periods observed to at least matureLag.
func MatureOrigins(tri *model.LossTriangle, matureLag int) int {
	n := 0
	for _, o := range tri.Origins() {
		if lag, _, ok := tri.Latest(o); ok && lag >= matureLag {
			n++
		}
	}
	return n
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
