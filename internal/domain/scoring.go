package domain

import (
	"fmt"
	"math"
	"time"
)

// Nombres canónicos de las familias de agentes de scoring.
const (
	AgentTechnical      = "technical"
	AgentPattern        = "pattern"
	AgentSentiment      = "sentiment"
	AgentMicrostructure = "microstructure"
	AgentQuantum        = "quantum"
	AgentHyperdim       = "hyperdimensional"
)

// AgentScore es el par (score, confianza) que emite un agente. Ambos en [0,1].
type AgentScore struct {
	Score      float64
	Confidence float64
}

// ScoreBundle agrupa los scores de todos los agentes para un símbolo
// en un instante dado.
type ScoreBundle struct {
	Symbol string
	At     time.Time
	Scores map[string]AgentScore
}

// Score devuelve el score de un agente, o 0.5 (neutral) si no emitió.
func (b ScoreBundle) Score(agent string) float64 {
	if s, ok := b.Scores[agent]; ok {
		return s.Score
	}
	return 0.5
}

// CompositeWeights son los pesos del score compuesto. Deben sumar 1.
type CompositeWeights struct {
	Technical      float64
	Quantum        float64
	Hyperdim       float64
	Sentiment      float64
	Microstructure float64
}

// DefaultWeights devuelve los pesos por defecto del compuesto.
func DefaultWeights() CompositeWeights {
	return CompositeWeights{
		Technical:      0.25,
		Quantum:        0.30,
		Hyperdim:       0.25,
		Sentiment:      0.10,
		Microstructure: 0.10,
	}
}

// Validate comprueba que los pesos sumen 1 dentro de tolerancia flotante.
func (w CompositeWeights) Validate() error {
	sum := w.Technical + w.Quantum + w.Hyperdim + w.Sentiment + w.Microstructure
	if math.Abs(sum-1.0) > 1e-9 {
		return fmt.Errorf("composite weights deben sumar 1, suman %.6f", sum)
	}
	return nil
}

// Composite calcula la confianza compuesta C del bundle con los pesos dados.
func (b ScoreBundle) Composite(w CompositeWeights) float64 {
	return w.Technical*b.Score(AgentTechnical) +
		w.Quantum*b.Score(AgentQuantum) +
		w.Hyperdim*b.Score(AgentHyperdim) +
		w.Sentiment*b.Score(AgentSentiment) +
		w.Microstructure*b.Score(AgentMicrostructure)
}

// Contributors devuelve los agentes presentes y sus confianzas, en orden
// estable, para adjuntar a la oportunidad.
func (b ScoreBundle) Contributors() (names []string, confidences []float64) {
	for _, name := range []string{
		AgentTechnical, AgentPattern, AgentSentiment,
		AgentMicrostructure, AgentQuantum, AgentHyperdim,
	} {
		if s, ok := b.Scores[name]; ok {
			names = append(names, name)
			confidences = append(confidences, s.Confidence)
		}
	}
	return names, confidences
}

// Clamp01 recorta x al rango [0,1].
func Clamp01(x float64) float64 {
	if x < 0 {
		return 0
	}
	if x > 1 {
		return 1
	}
	return x
}
