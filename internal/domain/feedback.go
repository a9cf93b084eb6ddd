package domain

// ReinforcementFeedback es la señal de aprendizaje que el memory node genera
// por cada outcome y que el feedback loop aplica a los agentes contribuyentes.
type ReinforcementFeedback struct {
	OutcomeID string
	Symbol    string
	Reward    float64 // ROI del round-trip
	Win       bool
	// Adjustments es el Δ por agente: reward · confianza · (0.1 si reward≥0,
	// 0.2 si reward<0).
	Adjustments map[string]float64
}
