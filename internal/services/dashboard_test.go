package services

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestLoadDashboardStats(t *testing.T) {
	database, mock := newMockDB(t)
	mock.MatchExpectationsInOrder(false)
	clock := fixedClock(time.Date(2024, 1, 20, 12, 0, 0, 0, time.UTC))
	day := func(d int) time.Time { return time.Date(2024, 1, d, 9, 0, 0, 0, time.UTC) }

	mock.ExpectQuery("FROM devices WHERE deleted").WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))
	mock.ExpectQuery("FROM kpis WHERE deleted").WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(5))
	mock.ExpectQuery("GROUP BY status").
		WillReturnRows(sqlmock.NewRows([]string{"status", "count"}).
			AddRow("pending", 2).
			AddRow("completed", 6))
	mock.ExpectQuery("GROUP BY t.device_id").
		WillReturnRows(sqlmock.NewRows([]string{"device_id", "device_name", "total", "completed"}).
			AddRow("DAAAAAA1", "Cella 1", 5, 4).
			AddRow("DBBBBBB2", "Forno", 3, 2))
	mock.ExpectQuery("WHERE t.status <> 'completed'").
		WillReturnRows(sqlmock.NewRows([]string{"id", "device_id", "scheduled_execution", "status", "time_slot_type", "time_slot_start",
			"time_slot_end", "completion_date", "completed_by", "created_at", "device_name", "task_count"}).
			AddRow("tl-1", "DAAAAAA1", day(3), "pending", "standard", nil, nil, nil, nil, day(1), "Cella 1", 0).
			AddRow("tl-2", "DBBBBBB2", day(25), "pending", "standard", nil, nil, nil, nil, day(1), "Forno", 0))

	stats, err := LoadDashboardStats(context.Background(), database, clock, testRange(t))
	require.NoError(t, err)

	assert.Equal(t, 3, stats.Devices)
	assert.Equal(t, 5, stats.KPIs)
	assert.Equal(t, 2, stats.Todolists["pending"])
	assert.Equal(t, 0, stats.Todolists["in_progress"])
	assert.InDelta(t, 0.75, stats.CompletionRate, 0.0001)
	assert.Equal(t, 1, stats.Overdue)
	require.Len(t, stats.PerDevice, 2)
	assert.Equal(t, 1, stats.PerDevice[0].Overdue)
	assert.Equal(t, 0, stats.PerDevice[1].Overdue)
	assert.Equal(t, "2024-01-01", stats.From)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDefaultDashboardRange(t *testing.T) {
	rng := DefaultDashboardRange(fixedClock(time.Date(2024, 3, 10, 18, 0, 0, 0, time.UTC)))
	assert.Equal(t, "2024-02-10_2024-03-10", rng.Label())
}

func TestDashboardHubBroadcastsToClients(t *testing.T) {
	hub := NewDashboardHub(zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	added := make(chan struct{})
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		hub.Add(conn)
		close(added)
	}))
	defer srv.Close()

	client, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	defer client.Close()

	select {
	case <-added:
	case <-time.After(2 * time.Second):
		t.Fatal("client was not registered")
	}
	assert.Equal(t, 1, hub.Clients())

	hub.Broadcast(DashboardSnapshot{Stats: DashboardStats{Devices: 7}})

	require.NoError(t, client.SetReadDeadline(time.Now().Add(2*time.Second)))
	var got DashboardSnapshot
	require.NoError(t, client.ReadJSON(&got))
	assert.Equal(t, 7, got.Stats.Devices)
}
