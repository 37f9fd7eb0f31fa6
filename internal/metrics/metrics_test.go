package metrics

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

// TestGameRegistry_Exposition checks that direct instruments and bridged
// funcs both show up on the handler.
func TestGameRegistry_Exposition(t *testing.T) {
	reg := NewGameRegistry()
	reg.ConnectionsActive.Set(3)
	reg.InputsApplied.Inc()
	reg.Disconnects.WithLabelValues("Heartbeat timeout").Inc()
	reg.RegisterCounterFunc("xl4net_game_packets_sent_total",
		"Total packets written to the socket", func() float64 { return 42 })

	rec := httptest.NewRecorder()
	reg.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body := rec.Body.String()

	for _, want := range []string{
		"xl4net_game_connections_active 3",
		"xl4net_game_inputs_applied_total 1",
		"xl4net_game_packets_sent_total 42",
		`xl4net_game_disconnects_total{reason="Heartbeat timeout"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("exposition missing %q", want)
		}
	}
}

// TestAuthRegistry_Outcomes checks the outcome-labeled counters.
func TestAuthRegistry_Outcomes(t *testing.T) {
	reg := NewAuthRegistry()
	reg.Logins.WithLabelValues(OutcomeSuccess).Inc()
	reg.Logins.WithLabelValues(OutcomeRateLimited).Inc()
	reg.Logins.WithLabelValues(OutcomeRateLimited).Inc()

	if got := testutil.ToFloat64(reg.Logins.WithLabelValues(OutcomeSuccess)); got != 1 {
		t.Fatalf("success count = %v, want 1", got)
	}
	if got := testutil.ToFloat64(reg.Logins.WithLabelValues(OutcomeRateLimited)); got != 2 {
		t.Fatalf("rate_limited count = %v, want 2", got)
	}
}

// TestServe_DisabledByEmptyAddr checks that an empty address is a no-op.
func TestServe_DisabledByEmptyAddr(t *testing.T) {
	if err := Serve(context.Background(), "", NewGameRegistry().Handler()); err != nil {
		t.Fatalf("Serve with empty addr: %v", err)
	}
}

// TestRegistries_AreIsolated checks that two registries never collide,
// which matters when tests build several in one process.
func TestRegistries_AreIsolated(t *testing.T) {
	a := NewGameRegistry()
	b := NewGameRegistry()
	a.ConnectionsActive.Set(1)
	b.ConnectionsActive.Set(2)

	if got := testutil.ToFloat64(a.ConnectionsActive); got != 1 {
		t.Fatalf("registry a = %v, want 1", got)
	}
	if got := testutil.ToFloat64(b.ConnectionsActive); got != 2 {
		t.Fatalf("registry b = %v, want 2", got)
	}
}
