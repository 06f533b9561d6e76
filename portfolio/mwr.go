// Copyright 2025-2026
// SPDX-License-Identifier: Apache-2.0
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package portfolio

import (
	"errors"
	"math"
	"time"
)

var (
	ErrNoCashFlows    = errors.New("no priced external cash flows")
	ErrDidNotConverge = errors.New("did not converge")
)

// hoursPerYear annualizes flow ages; the quarter day keeps leap years from
// drifting the annualization
const hoursPerYear = 24 * 365.25

type objectiveFunc func(float64) float64

// MoneyWeightedReturn computes the annualized internal rate of return implied
// by the portfolio's external cash flows. Receive transfers count as
// contributions and send transfers as withdrawals; swaps, staking moves, and
// fees shift value inside the portfolio and carry no weight. Flows without a
// usd value are skipped, as are flows dated after asOf.
func MoneyWeightedReturn(transactions []*Transaction, finalValue float64, asOf time.Time) (float64, error) {
	type flow struct {
		years  float64
		amount float64
	}

	flows := make([]flow, 0, len(transactions))
	for _, t := range transactions {
		if t.UsdValue == 0 || t.Date.After(asOf) {
			continue
		}
		years := asOf.Sub(t.Date).Hours() / hoursPerYear
		switch t.Kind {
		case ReceiveTransaction:
			flows = append(flows, flow{years: years, amount: t.UsdValue})
		case SendTransaction:
			flows = append(flows, flow{years: years, amount: -t.UsdValue})
		}
	}
	if len(flows) == 0 {
		return 0, ErrNoCashFlows
	}

	f := func(rate float64) float64 {
		var compounded float64
		for _, cf := range flows {
			compounded += cf.amount * math.Pow(1+rate, cf.years)
		}
		return compounded - finalValue
	}

	// scan outward for a sign change; rates at or below -100% are not
	// meaningful for a compounding return
	brackets := []float64{-0.9999, -0.5, 0, 0.5, 1, 2, 5, 10, 100}
	for idx := 1; idx < len(brackets); idx++ {
		lo, hi := brackets[idx-1], brackets[idx]
		if f(lo)*f(hi) <= 0 {
			return solveRoot(f, lo, hi)
		}
	}

	return 0, ErrDidNotConverge
}

// solveRoot finds a root of f inside the bracketing interval [lo, hi] by
// mixing Anderson-Bjorck false position steps with periodic bisection. The
// bisection keeps the interval shrinking when the secant steps stall, so a
// bracketed root is always found.
func solveRoot(f objectiveFunc, lo float64, hi float64) (float64, error) {
	const (
		maxIterations = 200
		tol           = 1e-6
		falsePBudget  = 4
	)

	x1, x2 := lo, hi
	f1, f2 := f(x1), f(x2)
	if f1 == 0 {
		return x1, nil
	}
	if f2 == 0 {
		return x2, nil
	}

	gamma := 1.0
	var sinceBisect int
	for iter := 0; iter < maxIterations; iter++ {
		var x3 float64
		if sinceBisect >= falsePBudget {
			x3 = 0.5 * (x1 + x2)
			if x3 == x1 || x3 == x2 {
				// x1 and x2 are successive floating-point numbers
				return x3, nil
			}
			sinceBisect = 0
			gamma = 1.0
		} else {
			s := (f2 - gamma*f1) / (x2 - x1)
			x3 = x2 - f2/s
			sinceBisect++
		}

		f3 := f(x3)
		if f3 == 0 {
			return x3, nil
		}

		if f3*f2 < 0 {
			x1, f1 = x2, f2
			gamma = 1.0
		} else {
			// Anderson-Bjorck scaling
			g := 1.0 - f3/f2
			if g <= 0 {
				g = 0.5
			}
			gamma *= g
		}
		x2, f2 = x3, f3

		if math.Abs(x2-x1) <= tol {
			if math.Abs(f1) < math.Abs(f2) {
				return x1, nil
			}
			return x2, nil
		}
	}

	return 0, ErrDidNotConverge
}
