package classifier

import (
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/floats"
)

// binaryModel is a linear decision function w·x + b; positive values vote for the first class
// of the pair.
type binaryModel struct {
	w []float64
	b float64
}

func (m binaryModel) decision(x []float64) float64 {
	return floats.Dot(m.w, x) + m.b
}

// trainBinary fits an L1-loss (hinge) linear SVM with dual coordinate descent. The bias is
// learned as the weight of a constant feature 1. y holds +1/-1 targets.
func trainBinary(x [][]float64, y []float64, opts Options, rng *rand.Rand) binaryModel {
	n := len(x)
	dim := len(x[0])
	w := make([]float64, dim)
	var b float64

	alpha := make([]float64, n)
	qd := make([]float64, n)
	for i := range x {
		qd[i] = floats.Dot(x[i], x[i]) + 1
	}

	order := make([]int, n)
	for i := range order {
		order[i] = i
	}

	for iter := 0; iter < opts.MaxIter; iter++ {
		rng.Shuffle(n, func(i, j int) { order[i], order[j] = order[j], order[i] })

		pgMax := math.Inf(-1)
		pgMin := math.Inf(1)
		for _, i := range order {
			g := y[i]*(floats.Dot(w, x[i])+b) - 1

			var pg float64
			switch {
			case alpha[i] == 0:
				pg = math.Min(g, 0)
			case alpha[i] == opts.C:
				pg = math.Max(g, 0)
			default:
				pg = g
			}
			pgMax = math.Max(pgMax, pg)
			pgMin = math.Min(pgMin, pg)

			if math.Abs(pg) < 1e-12 {
				continue
			}
			old := alpha[i]
			alpha[i] = math.Min(math.Max(old-g/qd[i], 0), opts.C)
			d := (alpha[i] - old) * y[i]
			floats.AddScaled(w, d, x[i])
			b += d
		}

		if pgMax-pgMin <= opts.Tolerance {
			break
		}
	}

	return binaryModel{w: w, b: b}
}

// crossValidatedDecisions returns out-of-fold decision values for every sample, used to fit
// the probability sigmoid without the optimism of in-sample scores. When a training fold holds
// a single class, its held-out samples get the constant decision of that class.
func crossValidatedDecisions(x [][]float64, y []float64, full binaryModel, opts Options, rng *rand.Rand) []float64 {
	n := len(x)
	dec := make([]float64, n)

	folds := min(opts.ProbabilityFolds, n)
	if folds < 2 {
		for i := range x {
			dec[i] = full.decision(x[i])
		}
		return dec
	}

	perm := rng.Perm(n)
	for f := range folds {
		begin := f * n / folds
		end := (f + 1) * n / folds

		var trainX [][]float64
		var trainY []float64
		var pos, neg int
		for j, idx := range perm {
			if j >= begin && j < end {
				continue
			}
			trainX = append(trainX, x[idx])
			trainY = append(trainY, y[idx])
			if y[idx] > 0 {
				pos++
			} else {
				neg++
			}
		}

		switch {
		case pos > 0 && neg == 0:
			for _, idx := range perm[begin:end] {
				dec[idx] = 1
			}
		case neg > 0 && pos == 0:
			for _, idx := range perm[begin:end] {
				dec[idx] = -1
			}
		default:
			m := trainBinary(trainX, trainY, opts, rng)
			for _, idx := range perm[begin:end] {
				dec[idx] = m.decision(x[idx])
			}
		}
	}
	return dec
}
