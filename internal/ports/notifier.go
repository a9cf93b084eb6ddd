package ports

import (
	"context"

	"github.com/alejandrodnm/omniperp/internal/domain"
	"github.com/alejandrodnm/omniperp/internal/evolution"
)

// PerformanceReport es el resumen agregado que el engine publica cada tick
// de performance.
type PerformanceReport struct {
	Cycle          int
	RoundTrips     int
	Wins           int
	WinRate        float64
	NetProfit      string
	AvgProfit      string
	TripsPerDay    float64
	OpenPositions  int
	Available      string
	RealizedPnL    string
	EmergencyStop  bool
}

// Notifier presenta el estado del engine al operador.
type Notifier interface {
	// NotifyOutcome reporta un round-trip recién cerrado.
	NotifyOutcome(ctx context.Context, outcome domain.TradeOutcome) error

	// NotifyPerformance imprime el resumen periódico.
	NotifyPerformance(ctx context.Context, report PerformanceReport) error

	// NotifyLeaderboard imprime la tabla de agentes.
	NotifyLeaderboard(ctx context.Context, rows []evolution.LeaderboardRow) error
}
