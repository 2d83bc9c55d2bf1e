package terminal

import "math"

// MA smoothing methods.
const (
	MethodSMA  = 0
	MethodEMA  = 1
	MethodSMMA = 2
	MethodLWMA = 3
)

// Applied prices.
const (
	PriceClose    = 0
	PriceOpen     = 1
	PriceHigh     = 2
	PriceLow      = 3
	PriceMedian   = 4
	PriceTypical  = 5
	PriceWeighted = 6
)

// indicatorBuffers is the number of output buffers per kind.
var indicatorBuffers = map[IndicatorKind]int{
	IndicatorMA:         1,
	IndicatorRSI:        1,
	IndicatorMACD:       2,
	IndicatorBands:      3,
	IndicatorStochastic: 2,
}

// indicatorParams is the number of positional parameters per kind.
var indicatorParams = map[IndicatorKind]int{
	IndicatorMA:         4,
	IndicatorRSI:        2,
	IndicatorMACD:       4,
	IndicatorBands:      4,
	IndicatorStochastic: 5,
}

// BufferCount returns how many output buffers kind exposes, or zero for an
// unknown kind.
func BufferCount(kind IndicatorKind) int {
	return indicatorBuffers[kind]
}

func param(p []float64, i int, def float64) float64 {
	if i < len(p) {
		return p[i]
	}
	return def
}

func iparam(p []float64, i int, def int) int {
	return int(param(p, i, float64(def)))
}

// lookback returns how many extra history bars the indicator needs before
// its first stable value.
func lookback(spec IndicatorSpec) int {
	p := spec.Params
	switch spec.Kind {
	case IndicatorMA:
		return 3*iparam(p, 0, 14) + iparam(p, 1, 0)
	case IndicatorRSI:
		return 3 * iparam(p, 0, 14)
	case IndicatorMACD:
		return 3*iparam(p, 1, 26) + iparam(p, 2, 9)
	case IndicatorBands:
		return iparam(p, 0, 20) + iparam(p, 1, 0)
	case IndicatorStochastic:
		return iparam(p, 0, 5) + iparam(p, 2, 3) + 3*iparam(p, 1, 3)
	default:
		return 0
	}
}

// compute evaluates every buffer over oldest-first bars. Values without
// enough history are NaN.
func compute(spec IndicatorSpec, bars []Bar) [][]float64 {
	p := spec.Params
	switch spec.Kind {
	case IndicatorMA:
		line := movingAverage(appliedPrice(bars, iparam(p, 3, PriceClose)), iparam(p, 0, 14), iparam(p, 2, MethodSMA))
		return [][]float64{shift(line, iparam(p, 1, 0))}
	case IndicatorRSI:
		return [][]float64{rsi(appliedPrice(bars, iparam(p, 1, PriceClose)), iparam(p, 0, 14))}
	case IndicatorMACD:
		src := appliedPrice(bars, iparam(p, 3, PriceClose))
		fast := movingAverage(src, iparam(p, 0, 12), MethodEMA)
		slow := movingAverage(src, iparam(p, 1, 26), MethodEMA)
		main := make([]float64, len(src))
		for i := range main {
			main[i] = fast[i] - slow[i]
		}
		return [][]float64{main, movingAverage(main, iparam(p, 2, 9), MethodSMA)}
	case IndicatorBands:
		period := iparam(p, 0, 20)
		deviation := param(p, 2, 2.0)
		src := appliedPrice(bars, iparam(p, 3, PriceClose))
		mid := movingAverage(src, period, MethodSMA)
		upper := make([]float64, len(src))
		lower := make([]float64, len(src))
		for i := range src {
			sd := stdDev(src, mid, i, period)
			upper[i] = mid[i] + deviation*sd
			lower[i] = mid[i] - deviation*sd
		}
		s := iparam(p, 1, 0)
		return [][]float64{shift(mid, s), shift(upper, s), shift(lower, s)}
	case IndicatorStochastic:
		main := stochastic(bars, iparam(p, 0, 5), iparam(p, 2, 3), iparam(p, 4, 0))
		return [][]float64{main, movingAverage(main, iparam(p, 1, 3), iparam(p, 3, MethodSMA))}
	default:
		return nil
	}
}

func appliedPrice(bars []Bar, mode int) []float64 {
	out := make([]float64, len(bars))
	for i, b := range bars {
		switch mode {
		case PriceOpen:
			out[i] = b.Open
		case PriceHigh:
			out[i] = b.High
		case PriceLow:
			out[i] = b.Low
		case PriceMedian:
			out[i] = (b.High + b.Low) / 2
		case PriceTypical:
			out[i] = (b.High + b.Low + b.Close) / 3
		case PriceWeighted:
			out[i] = (b.High + b.Low + 2*b.Close) / 4
		default:
			out[i] = b.Close
		}
	}
	return out
}

func nanSlice(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = math.NaN()
	}
	return out
}

// firstValid returns the index of the first non-NaN element.
func firstValid(src []float64) int {
	for i, v := range src {
		if !math.IsNaN(v) {
			return i
		}
	}
	return len(src)
}

func movingAverage(src []float64, period, method int) []float64 {
	out := nanSlice(len(src))
	if period <= 0 {
		return out
	}
	start := firstValid(src)
	if len(src)-start < period {
		return out
	}
	seedEnd := start + period - 1
	sum := 0.0
	for i := start; i <= seedEnd; i++ {
		sum += src[i]
	}

	switch method {
	case MethodEMA, MethodSMMA:
		out[seedEnd] = sum / float64(period)
		alpha := 2.0 / float64(period+1)
		if method == MethodSMMA {
			alpha = 1.0 / float64(period)
		}
		for i := seedEnd + 1; i < len(src); i++ {
			out[i] = out[i-1] + alpha*(src[i]-out[i-1])
		}
	case MethodLWMA:
		weights := float64(period*(period+1)) / 2
		for i := seedEnd; i < len(src); i++ {
			acc := 0.0
			for k := 0; k < period; k++ {
				acc += src[i-k] * float64(period-k)
			}
			out[i] = acc / weights
		}
	default:
		out[seedEnd] = sum / float64(period)
		for i := seedEnd + 1; i < len(src); i++ {
			sum += src[i] - src[i-period]
			out[i] = sum / float64(period)
		}
	}
	return out
}

func stdDev(src, mean []float64, i, period int) float64 {
	if math.IsNaN(mean[i]) || i+1 < period {
		return math.NaN()
	}
	acc := 0.0
	for k := i - period + 1; k <= i; k++ {
		d := src[k] - mean[i]
		acc += d * d
	}
	return math.Sqrt(acc / float64(period))
}

// rsi uses Wilder smoothing.
func rsi(src []float64, period int) []float64 {
	out := nanSlice(len(src))
	if period <= 0 || len(src) <= period {
		return out
	}
	var gain, loss float64
	for i := 1; i <= period; i++ {
		d := src[i] - src[i-1]
		if d > 0 {
			gain += d
		} else {
			loss -= d
		}
	}
	gain /= float64(period)
	loss /= float64(period)
	out[period] = rsiValue(gain, loss)
	for i := period + 1; i < len(src); i++ {
		d := src[i] - src[i-1]
		up, down := 0.0, 0.0
		if d > 0 {
			up = d
		} else {
			down = -d
		}
		gain = (gain*float64(period-1) + up) / float64(period)
		loss = (loss*float64(period-1) + down) / float64(period)
		out[i] = rsiValue(gain, loss)
	}
	return out
}

func rsiValue(gain, loss float64) float64 {
	if loss == 0 {
		if gain == 0 {
			return 50
		}
		return 100
	}
	return 100 - 100/(1+gain/loss)
}

// stochastic returns the slowed %K line. priceField 0 uses low/high, 1 uses
// close/close.
func stochastic(bars []Bar, kPeriod, slowing, priceField int) []float64 {
	out := nanSlice(len(bars))
	if kPeriod <= 0 || slowing <= 0 {
		return out
	}
	lows := make([]float64, len(bars))
	highs := make([]float64, len(bars))
	for i, b := range bars {
		if priceField == 1 {
			lows[i], highs[i] = b.Close, b.Close
		} else {
			lows[i], highs[i] = b.Low, b.High
		}
	}
	first := kPeriod - 1 + slowing - 1
	for i := first; i < len(bars); i++ {
		var num, den float64
		for j := i - slowing + 1; j <= i; j++ {
			lo, hi := lows[j], highs[j]
			for k := j - kPeriod + 1; k <= j; k++ {
				lo = math.Min(lo, lows[k])
				hi = math.Max(hi, highs[k])
			}
			num += bars[j].Close - lo
			den += hi - lo
		}
		if den == 0 {
			out[i] = 100
			continue
		}
		out[i] = num / den * 100
	}
	return out
}

// shift moves a line n bars into the future.
func shift(line []float64, n int) []float64 {
	if n <= 0 {
		return line
	}
	out := nanSlice(len(line))
	for i := n; i < len(line); i++ {
		out[i] = line[i-n]
	}
	return out
}
