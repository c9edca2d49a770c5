package reserve

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/sells-group/ibnr-engine/internal/development"
	"github.com/sells-group/ibnr-engine/internal/estimate"
	"github.com/sells-group/ibnr-engine/internal/model"
	"github.com/sells-group/ibnr-engine/internal/scorer"
	"github.com/sells-group/ibnr-engine/internal/triangle"
)

// PercentPlaces is the rounding applied to period-over-period change.
const PercentPlaces = 6

type categoryResult struct {
	estimate    *model.ReserveEstimate
	triangle    *model.LossTriangle
	warnings    []model.Warning
	excluded    *model.ExcludedCategory
	funded      decimal.Decimal
	caseReserve decimal.Decimal
}

func (r categoryResult) exclude(category string, kind model.WarningKind, msg string) categoryResult {
	r.excluded = &model.ExcludedCategory{Category: category, Reason: kind, Message: msg}
	r.warnings = append(r.warnings, model.Warning{Category: category, Kind: kind, Message: msg})
	zap.L().Warn("category excluded from run",
		zap.String("component", "reserve"),
		zap.String("category", category),
		zap.String("reason", string(kind)),
		zap.String("detail", msg),
	)
	return r
}

// excludeFor maps a domain error to an exclusion. Other errors are returned.
func (r categoryResult) excludeFor(category string, err error) (categoryResult, error) {
	var insufficient *estimate.InsufficientDataError
	if errors.As(err, &insufficient) {
		return r.exclude(category, model.WarningInsufficientData, insufficient.Reason), nil
	}
	var cfgErr *estimate.ConfigurationError
	if errors.As(err, &cfgErr) {
		return r.exclude(category, model.WarningConfiguration, cfgErr.Reason), nil
	}
	return r, err
}

// estimateCategory computes one category end to end. It only reads shared
// state, so categories can run concurrently.
func (e *Engine) estimateCategory(ctx context.Context, asOf model.Period, snapshot time.Time, category string, prior map[string]decimal.Decimal) (categoryResult, error) {
	var res categoryResult
	log := zap.L().With(zap.String("component", "reserve"), zap.String("category", category))

	b := triangle.NewBuilder(category, asOf)
	var grainErr error
	err := e.store.ScanTransactions(ctx, category, asOf, snapshot, func(tx model.ClaimTransaction) error {
		if err := b.Add(tx); err != nil {
			grainErr = err
			return err
		}
		return nil
	})
	if grainErr != nil {
		return res.exclude(category, model.WarningConfiguration, grainErr.Error()), nil
	}
	if err != nil {
		return res, eris.Wrapf(err, "reserve: scan transactions for %s", category)
	}
	tri, warnings := b.Build()
	res.triangle = tri

	inputs, err := e.store.ListExpectedLossInputs(ctx, category, asOf)
	if err != nil {
		return res, eris.Wrapf(err, "reserve: load expected loss inputs for %s", category)
	}

	override := e.cfg.Reserving.Category(category)
	tail := e.cfg.Reserving.TailFactor
	if override.TailFactor > 0 {
		tail = override.TailFactor
	}
	if tail <= 0 {
		tail = 1
	}
	pattern, err := development.Calculate(tri, decimal.NewFromFloat(tail))
	if err != nil {
		res.warnings = warnings
		return res.exclude(category, model.WarningConfiguration, err.Error()), nil
	}
	warnings = append(warnings, pattern.Warnings...)
	res.warnings = warnings

	apriori := estimate.APrioriFrom(inputs)
	origins := tri.Origins()
	complete := len(origins) > 0 && !slices.ContainsFunc(origins, func(o model.Period) bool {
		_, ok := apriori[o]
		return !ok
	})
	stats := estimate.Stats{
		Transactions:    b.Added(),
		OriginPeriods:   len(origins),
		UndefinedLags:   pattern.UndefinedLags(),
		Volatility:      pattern.Volatility,
		HasInputs:       len(inputs) > 0,
		APrioriComplete: complete,
	}
	rules := estimate.Rules{
		MinOriginPeriods: e.cfg.Reserving.MinOriginPeriods,
		CVLimit:          e.cfg.Reserving.CVLimit,
	}
	if !model.IsAutoMethod(override.Method) {
		m, err := model.ParseReserveMethod(override.Method)
		if err != nil {
			return res.exclude(category, model.WarningConfiguration, err.Error()), nil
		}
		rules.Forced = m
	}

	sel, err := estimate.Select(category, stats, rules)
	if err != nil {
		return res.excludeFor(category, err)
	}
	if sel.Fallback {
		res.warnings = append(res.warnings, model.Warning{
			Category: category,
			Kind:     model.WarningMethodFallback,
			Message:  fmt.Sprintf("%s selected: %s", sel.Method.Label(), sel.Reason),
		})
	}

	in := estimate.Inputs{Triangle: tri, Pattern: pattern, APriori: apriori}
	proj, alt, uncovered, err := e.project(category, sel.Method, in, inputs)
	if err != nil {
		return res.excludeFor(category, err)
	}
	for _, o := range uncovered {
		origin := o
		res.warnings = append(res.warnings, model.Warning{
			Category: category,
			Kind:     model.WarningConfiguration,
			Origin:   &origin,
			Message:  fmt.Sprintf("no expected loss input for origin %s; its paid losses are not reserved", o),
		})
	}

	anomalous := slices.ContainsFunc(res.warnings, func(w model.Warning) bool { return w.Kind.IsAnomaly() })
	score := scorer.Confidence(scorer.Signals{
		Method:        sel.Method,
		MatureOrigins: scorer.MatureOrigins(tri, e.cfg.Confidence.MatureLag),
		Volatility:    pattern.Volatility,
		ThinLags:      pattern.ThinLags(),
		UndefinedLags: pattern.UndefinedLags(),
		Anomalous:     anomalous,
	}, e.cfg.Confidence)

	est := &model.ReserveEstimate{
		AsOf:            asOf,
		Category:        category,
		Method:          sel.Method,
		PointEstimate:   proj.Reserve,
		ConfidenceScore: score.Score,
		PaidToDate:      proj.PaidToDate,
		Ultimate:        proj.Ultimate,
		Origins:         proj.Origins,
		Factors:         pattern.Factors,
		Warnings:        res.warnings,
	}
	if alt != nil {
		est.AlternativeMethod = alt.Method
		est.AlternativeEstimate = decimal.NullDecimal{Decimal: alt.Reserve, Valid: true}
	}
	if p, ok := prior[category]; ok {
		est.PriorPeriodEstimate = decimal.NullDecimal{Decimal: p, Valid: true}
		if !p.IsZero() {
			est.PercentChange = decimal.NullDecimal{
				Decimal: est.PointEstimate.Sub(p).DivRound(p, PercentPlaces),
				Valid:   true,
			}
		}
	}
	res.estimate = est

	if res.funded, err = e.store.FundedBalance(ctx, category, asOf); err != nil {
		return res, eris.Wrapf(err, "reserve: load funded balance for %s", category)
	}
	if res.caseReserve, err = e.store.CaseReserve(ctx, category, asOf); err != nil {
		return res, eris.Wrapf(err, "reserve: load case reserve for %s", category)
	}

	for _, w := range res.warnings {
		log.Warn("reserve warning", zap.String("kind", string(w.Kind)), zap.String("detail", w.Message))
	}
	log.Debug("category estimated",
		zap.String("method", string(sel.Method)),
		zap.String("point_estimate", est.PointEstimate.StringFixed(2)),
		zap.Int("confidence", est.ConfidenceScore),
	)
	return res, nil
}

// project runs the selected method and, for Chain-Ladder and BF, the other
// one as a side-by-side alternative.
func (e *Engine) project(category string, m model.ReserveMethod, in estimate.Inputs, inputs []model.ExpectedLossInput) (proj, alt *estimate.Projection, uncovered []model.Period, err error) {
	switch m {
	case model.MethodChainLadder:
		proj = estimate.Blend(in, e.cfg.Reserving.BFMaxLag)
		if bf, bfErr := estimate.BornhuetterFerguson(in); bfErr == nil {
			alt = bf
		}
	case model.MethodBornhuetterFerguson:
		if proj, err = estimate.BornhuetterFerguson(in); err != nil {
			return nil, nil, nil, err
		}
		alt = estimate.ChainLadder(in)
	case model.MethodExpectedLoss:
		if proj, uncovered, err = estimate.ExpectedLoss(category, in.Triangle, inputs); err != nil {
			return nil, nil, nil, err
		}
	default:
		return nil, nil, nil, &estimate.ConfigurationError{Category: category, Reason: fmt.Sprintf("unsupported method %q", m)}
	}
	return proj, alt, uncovered, nil
}
