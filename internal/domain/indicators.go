package domain

// indicators.go — indicadores técnicos sobre cierres float64.
//
// Salidas alineadas a la longitud de entrada; el RSI emite 0 antes de su
// primera ventana completa y la EMA arranca en el primer valor.
// Mantener rápidos y sin allocations extra: se llaman en el loop de scoring.

import "math"

// RSI devuelve el Relative Strength Index de n períodos con suavizado de Wilder.
// Índices anteriores a la primera ventana completa valen 0.
func RSI(closes []float64, n int) []float64 {
	out := make([]float64, len(closes))
	if n <= 0 || len(closes) == 0 {
		return out
	}
	rsiOf := func(g, l float64) float64 {
		if l == 0 {
			if g > 0 {
				return 100
			}
			return 0
		}
		return 100.0 - (100.0 / (1.0 + g/l))
	}
	var gain, loss float64
	for i := 1; i < len(closes); i++ {
		d := closes[i] - closes[i-1]
		if i <= n {
			if d > 0 {
				gain += d
			} else {
				loss -= d
			}
			if i == n {
				avgGain := gain / float64(n)
				avgLoss := loss / float64(n)
				out[i] = rsiOf(avgGain, avgLoss)
				gain = avgGain
				loss = avgLoss
			}
		} else {
			if d > 0 {
				gain = (gain*float64(n-1) + d) / float64(n)
				loss = (loss * float64(n-1)) / float64(n)
			} else {
				gain = (gain * float64(n-1)) / float64(n)
				loss = (loss*float64(n-1) - d) / float64(n)
			}
			out[i] = rsiOf(gain, loss)
		}
	}
	return out
}

// EMA devuelve la media móvil exponencial de n períodos.
func EMA(values []float64, n int) []float64 {
	out := make([]float64, len(values))
	if n <= 0 || len(values) == 0 {
		return out
	}
	k := 2.0 / float64(n+1)
	out[0] = values[0]
	for i := 1; i < len(values); i++ {
		out[i] = values[i]*k + out[i-1]*(1-k)
	}
	return out
}

// MACD devuelve la línea MACD (EMA12−EMA26) y su señal (EMA9 del MACD).
func MACD(closes []float64) (macd, signal []float64) {
	fast := EMA(closes, 12)
	slow := EMA(closes, 26)
	macd = make([]float64, len(closes))
	for i := range closes {
		macd[i] = fast[i] - slow[i]
	}
	signal = EMA(macd, 9)
	return macd, signal
}

// BollingerPosition devuelve la posición del último cierre dentro de las
// bandas de Bollinger (n, k): 0 = banda inferior, 1 = superior, 0.5 = media.
func BollingerPosition(closes []float64, n int, k float64) float64 {
	if len(closes) < n || n <= 1 {
		return 0.5
	}
	window := closes[len(closes)-n:]
	mean := 0.0
	for _, v := range window {
		mean += v
	}
	mean /= float64(n)
	variance := 0.0
	for _, v := range window {
		d := v - mean
		variance += d * d
	}
	std := math.Sqrt(variance / float64(n))
	if std == 0 {
		return 0.5
	}
	lower := mean - k*std
	upper := mean + k*std
	pos := (closes[len(closes)-1] - lower) / (upper - lower)
	return Clamp01(pos)
}

// ATR devuelve el Average True Range de n períodos sobre las velas dadas.
func ATR(klines []Kline, n int) float64 {
	if len(klines) < 2 || n <= 0 {
		return 0
	}
	trs := make([]float64, 0, len(klines)-1)
	for i := 1; i < len(klines); i++ {
		h, _ := klines[i].High.Float64()
		l, _ := klines[i].Low.Float64()
		pc, _ := klines[i-1].Close.Float64()
		tr := math.Max(h-l, math.Max(math.Abs(h-pc), math.Abs(l-pc)))
		trs = append(trs, tr)
	}
	if len(trs) < n {
		n = len(trs)
	}
	sum := 0.0
	for _, tr := range trs[len(trs)-n:] {
		sum += tr
	}
	return sum / float64(n)
}

// VolumeTrend devuelve la razón entre el volumen reciente (últimos n) y el
// volumen medio del resto. >1 = volumen creciente.
func VolumeTrend(volumes []float64, n int) float64 {
	if len(volumes) <= n || n <= 0 {
		return 1
	}
	recent, base := 0.0, 0.0
	for _, v := range volumes[len(volumes)-n:] {
		recent += v
	}
	recent /= float64(n)
	rest := volumes[:len(volumes)-n]
	for _, v := range rest {
		base += v
	}
	base /= float64(len(rest))
	if base == 0 {
		return 1
	}
	return recent / base
}

// TrendSlope devuelve la pendiente fraccional de una regresión lineal simple
// sobre los últimos n cierres, normalizada por el último precio.
func TrendSlope(closes []float64, n int) float64 {
	if len(closes) < n || n < 2 {
		return 0
	}
	window := closes[len(closes)-n:]
	last := window[len(window)-1]
	if last == 0 {
		return 0
	}
	var sumX, sumY, sumXY, sumXX float64
	for i, y := range window {
		x := float64(i)
		sumX += x
		sumY += y
		sumXY += x * y
		sumXX += x * x
	}
	fn := float64(n)
	denom := fn*sumXX - sumX*sumX
	if denom == 0 {
		return 0
	}
	slope := (fn*sumXY - sumX*sumY) / denom
	return slope / last
}

// NormalizePattern escala un vector de precios al rango [0,1] por min-max.
// Un vector constante se normaliza a 0.5 en cada dimensión.
func NormalizePattern(prices []float64) []float64 {
	out := make([]float64, len(prices))
	if len(prices) == 0 {
		return out
	}
	lo, hi := prices[0], prices[0]
	for _, p := range prices {
		lo = math.Min(lo, p)
		hi = math.Max(hi, p)
	}
	if hi == lo {
		for i := range out {
			out[i] = 0.5
		}
		return out
	}
	for i, p := range prices {
		out[i] = (p - lo) / (hi - lo)
	}
	return out
}
