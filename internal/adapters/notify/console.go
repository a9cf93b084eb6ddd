package notify

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/olekukonko/tablewriter"

	"github.com/alejandrodnm/omniperp/internal/domain"
	"github.com/alejandrodnm/omniperp/internal/evolution"
	"github.com/alejandrodnm/omniperp/internal/ports"
)

// Console implementa ports.Notifier escribiendo a stdout.
type Console struct {
	out     io.Writer
	verbose bool
}

// NewConsole crea el notificador de consola. verbose añade la línea por
// outcome además de los resúmenes periódicos.
func NewConsole(verbose bool) *Console {
	return &Console{out: os.Stdout, verbose: verbose}
}

// NewConsoleWriter crea un notificador para tests.
func NewConsoleWriter(w io.Writer, verbose bool) *Console {
	return &Console{out: w, verbose: verbose}
}

// NotifyOutcome imprime una línea compacta por round-trip cerrado.
func (c *Console) NotifyOutcome(_ context.Context, o domain.TradeOutcome) error {
	if !c.verbose {
		return nil
	}
	icon := "✗"
	if o.IsWin() {
		icon = "✓"
	}
	fmt.Fprintf(c.out, "[%s] %s %s %s %s→%s pnl=%s (%s)\n",
		o.ClosedAt.Format("15:04:05"), icon, o.Symbol, o.Side,
		o.Entry.StringFixed(4), o.Exit.StringFixed(4),
		o.RealizedPnL.StringFixed(4), o.Class)
	return nil
}

// NotifyPerformance imprime el resumen del tick de performance.
func (c *Console) NotifyPerformance(_ context.Context, r ports.PerformanceReport) error {
	status := ""
	if r.EmergencyStop {
		status = " [EMERGENCY STOP]"
	}
	fmt.Fprintf(c.out, "[%s] ciclo %d: trips=%d win=%.1f%% net=$%s avg=$%s freq=%.0f/d open=%d avail=$%s pnl=$%s%s\n",
		time.Now().Format("15:04:05"), r.Cycle,
		r.RoundTrips, r.WinRate*100, r.NetProfit, r.AvgProfit,
		r.TripsPerDay, r.OpenPositions, r.Available, r.RealizedPnL, status)
	return nil
}

// NotifyLeaderboard imprime la tabla de agentes ordenada por score.
func (c *Console) NotifyLeaderboard(_ context.Context, rows []evolution.LeaderboardRow) error {
	if len(rows) == 0 {
		return nil
	}

	table := tablewriter.NewWriter(c.out)
	table.Header("Agente", "Tipo", "Gen", "Score", "Éxito", "Trades", "Estado")

	for _, row := range rows {
		estado := "vivo"
		if !row.Active {
			estado = "muerto"
		}
		table.Append(
			row.Name,
			row.Kind,
			fmt.Sprintf("%d", row.Generation),
			fmt.Sprintf("%+.3f", row.Score),
			fmt.Sprintf("%.0f%%", row.SuccessRate*100),
			fmt.Sprintf("%d", row.Trades),
			estado,
		)
	}

	table.Render()
	return nil
}
