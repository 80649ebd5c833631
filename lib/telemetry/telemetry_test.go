package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/metric/noop"

	"github.com/cadogan/gridline/config"
)

func TestInitWithoutEndpointIsNoop(t *testing.T) {
	provider, shutdown, err := Init(context.Background(), config.TelemetrySettings{})
	require.NoError(t, err)
	require.NotNil(t, provider)
	require.NoError(t, shutdown(context.Background()))
}

func TestParseEndpoint(t *testing.T) {
	cases := []struct {
		in       string
		host     string
		insecure bool
		ok       bool
	}{
		{"collector:4318", "collector:4318", false, true},
		{"http://collector:4318", "collector:4318", true, true},
		{"https://collector:4318", "collector:4318", false, true},
		{"https://", "", false, false},
	}
	for _, tc := range cases {
		host, insecure, err := parseEndpoint(tc.in)
		if !tc.ok {
			require.Error(t, err, "endpoint %q", tc.in)
			continue
		}
		require.NoError(t, err, "endpoint %q", tc.in)
		require.Equal(t, tc.host, host)
		require.Equal(t, tc.insecure, insecure)
	}
}

func TestRecorderInstrumentsDoNotPanic(t *testing.T) {
	recorder := NewRecorder(noop.NewMeterProvider())

	labels := map[string]string{"symbol": "BTCUSDT"}
	recorder.IncCounter("orders_placed", 1, labels)
	recorder.IncCounter("orders_placed", 1, labels)
	recorder.ObserveHistogram("pass_duration_seconds", 0.12, nil)
	recorder.SetGauge("wallet_quote_value", 1000, labels)
}
