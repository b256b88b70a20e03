package cmd

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vigil-dev/vigil/internal/history"
	"github.com/vigil-dev/vigil/internal/registry"
)

func TestRenderRows_Text(t *testing.T) {
	rows := []history.Row{
		{
			ID:          2,
			ComponentID: "kratos",
			From:        registry.StateActive,
			To:          registry.StateDegraded,
			Reason:      "missed heartbeats",
			OccurredAt:  time.Date(2026, 3, 14, 15, 4, 5, 0, time.UTC),
		},
		{
			ID:          1,
			ComponentID: "kratos",
			From:        registry.StateReady,
			To:          registry.StateActive,
			Reason:      "serving",
			OccurredAt:  time.Date(2026, 3, 14, 15, 0, 0, 0, time.UTC),
		},
	}

	var buf bytes.Buffer
	require.NoError(t, renderRows(&buf, rows, false))

	out := buf.String()
	require.Contains(t, out, "WHEN")
	require.Contains(t, out, "2026-03-14 15:04:05")
	require.Contains(t, out, "kratos")
	require.Contains(t, out, "active -> degraded")
	require.Contains(t, out, "missed heartbeats")
}

func TestRenderRows_Empty(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, renderRows(&buf, nil, false))
	require.Contains(t, buf.String(), "no transitions recorded")
}

func TestRenderRows_JSON(t *testing.T) {
	rows := []history.Row{
		{
			ID:          7,
			ComponentID: "athena",
			InstanceID:  "instance-1",
			From:        registry.StateStarting,
			To:          registry.StateReady,
			Reason:      "initialized",
			OccurredAt:  time.Date(2026, 3, 14, 15, 4, 5, 0, time.UTC),
		},
	}

	var buf bytes.Buffer
	require.NoError(t, renderRows(&buf, rows, true))

	var decoded []history.Row
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	require.Len(t, decoded, 1)
	require.Equal(t, rows[0].ComponentID, decoded[0].ComponentID)
	require.Equal(t, rows[0].To, decoded[0].To)
	require.True(t, decoded[0].OccurredAt.Equal(rows[0].OccurredAt))

	// Wire format stays snake_case.
	require.Contains(t, buf.String(), `"component_id"`)
	require.Contains(t, buf.String(), `"occurred_at"`)
}

func TestRenderCounts_TextSortedByComponent(t *testing.T) {
	counts := map[registry.ComponentID]int{
		"zeta":  4,
		"alpha": 9,
		"mid":   1,
	}

	var buf bytes.Buffer
	require.NoError(t, renderCounts(&buf, counts, false))

	out := buf.String()
	require.Contains(t, out, "COMPONENT")
	alpha := strings.Index(out, "alpha")
	mid := strings.Index(out, "mid")
	zeta := strings.Index(out, "zeta")
	require.True(t, alpha >= 0 && alpha < mid && mid < zeta,
		"counts should be sorted by component id, got:\n%s", out)
}

func TestRenderCounts_Empty(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, renderCounts(&buf, map[registry.ComponentID]int{}, false))
	require.Contains(t, buf.String(), "no transitions recorded")
}

func TestRenderCounts_JSON(t *testing.T) {
	counts := map[registry.ComponentID]int{"athena": 3}

	var buf bytes.Buffer
	require.NoError(t, renderCounts(&buf, counts, true))

	var decoded map[registry.ComponentID]int
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	require.Equal(t, counts, decoded)
}
