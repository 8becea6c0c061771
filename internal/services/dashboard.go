package services

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jmoiron/sqlx"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"sicet-backend-go/internal/models"
)

type DeviceStats struct {
	DeviceID   string `db:"device_id" json:"deviceId"`
	DeviceName string `db:"device_name" json:"deviceName"`
	Total      int    `db:"total" json:"total"`
	Completed  int    `db:"completed" json:"completed"`
	Overdue    int    `db:"-" json:"overdue"`
}

type DashboardStats struct {
	From           string         `json:"startDate"`
	To             string         `json:"endDate"`
	Devices        int            `json:"devices"`
	KPIs           int            `json:"kpis"`
	Todolists      map[string]int `json:"todolists"`
	Overdue        int            `json:"overdue"`
	CompletionRate float64        `json:"completionRate"`
	PerDevice      []DeviceStats  `json:"perDevice"`
	GeneratedAt    time.Time      `json:"generatedAt"`
}

// DefaultDashboardRange is the last 30 days ending today.
func DefaultDashboardRange(clock Clock) DateRange {
	now := clock.Current()
	to := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	return DateRange{From: to.AddDate(0, 0, -29), To: to}
}

// LoadDashboardStats runs the dashboard queries concurrently.
func LoadDashboardStats(ctx context.Context, db *sqlx.DB, clock Clock, rng DateRange) (DashboardStats, error) {
	if rng.IsZero() {
		rng = DefaultDashboardRange(clock)
	}
	from, to := rng.Bounds()
	stats := DashboardStats{
		From:      rng.From.Format(DateLayout),
		To:        rng.To.Format(DateLayout),
		Todolists: map[string]int{models.TodolistPending: 0, models.TodolistInProgress: 0, models.TodolistCompleted: 0},
		PerDevice: []DeviceStats{},
	}
	type statusCount struct {
		Status string `db:"status"`
		Count  int    `db:"count"`
	}
	var (
		counts []statusCount
		open   []TodolistView
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return db.GetContext(gctx, &stats.Devices, `SELECT count(*) FROM devices WHERE deleted = FALSE`)
	})
	g.Go(func() error {
		return db.GetContext(gctx, &stats.KPIs, `SELECT count(*) FROM kpis WHERE deleted = FALSE`)
	})
	g.Go(func() error {
		return db.SelectContext(gctx, &counts, `
SELECT status, count(*) AS count FROM todolists
WHERE scheduled_execution >= $1 AND scheduled_execution < $2
GROUP BY status`, from, to)
	})
	g.Go(func() error {
		return db.SelectContext(gctx, &stats.PerDevice, `
SELECT t.device_id, d.name AS device_name, count(*) AS total,
       count(*) FILTER (WHERE t.status = 'completed') AS completed
FROM todolists t
JOIN devices d ON d.id = t.device_id
WHERE t.scheduled_execution >= $1 AND t.scheduled_execution < $2
GROUP BY t.device_id, d.name
ORDER BY d.name, t.device_id`, from, to)
	})
	g.Go(func() error {
		return db.SelectContext(gctx, &open, `
SELECT `+todolistColumns+`, d.name AS device_name, 0 AS task_count
FROM todolists t
JOIN devices d ON d.id = t.device_id
WHERE t.status <> 'completed' AND t.scheduled_execution >= $1 AND t.scheduled_execution < $2`, from, to)
	})
	if err := g.Wait(); err != nil {
		return DashboardStats{}, err
	}

	total := 0
	for _, c := range counts {
		stats.Todolists[c.Status] = c.Count
		total += c.Count
	}
	if total > 0 {
		stats.CompletionRate = float64(stats.Todolists[models.TodolistCompleted]) / float64(total)
	}
	now := clock.Current()
	overdueByDevice := map[string]int{}
	for _, item := range open {
		if clock.Overdue(item.Todolist, now) {
			stats.Overdue++
			overdueByDevice[item.DeviceID]++
		}
	}
	for i := range stats.PerDevice {
		stats.PerDevice[i].Overdue = overdueByDevice[stats.PerDevice[i].DeviceID]
	}
	stats.GeneratedAt = now
	return stats, nil
}

// SystemSample is a host snapshot pushed with the dashboard.
type SystemSample struct {
	CapturedAt        time.Time `json:"capturedAt"`
	ProcessRSSBytes   int64     `json:"processRssBytes"`
	SystemMemoryTotal int64     `json:"systemMemoryTotalBytes"`
	SystemMemoryUsed  int64     `json:"systemMemoryUsedBytes"`
	DiskTotalBytes    int64     `json:"diskTotalBytes"`
	DiskUsedBytes     int64     `json:"diskUsedBytes"`
	ProcessCpuLoad    float64   `json:"processCpuLoad"`
	SystemCpuLoad     float64   `json:"systemCpuLoad"`
}

// CaptureSystemSample reads host metrics; unavailable readings stay zero.
func CaptureSystemSample(diskPath string) SystemSample {
	sample := SystemSample{CapturedAt: time.Now().UTC()}
	if memStat, err := mem.VirtualMemory(); err == nil {
		sample.SystemMemoryTotal = int64(memStat.Total)
		sample.SystemMemoryUsed = int64(memStat.Total - memStat.Available)
	}
	diskStat, err := disk.Usage(diskPath)
	if err != nil {
		diskStat, err = disk.Usage("/")
	}
	if err == nil {
		sample.DiskTotalBytes = int64(diskStat.Total)
		sample.DiskUsedBytes = int64(diskStat.Used)
	}
	if proc, err := process.NewProcess(int32(os.Getpid())); err == nil {
		if rss, _ := proc.MemoryInfo(); rss != nil {
			sample.ProcessRSSBytes = int64(rss.RSS)
		}
		if cpuPerc, err := proc.CPUPercent(); err == nil {
			sample.ProcessCpuLoad = cpuPerc / 100.0
		}
	}
	if sysCPU, err := cpu.Percent(0, false); err == nil && len(sysCPU) > 0 {
		sample.SystemCpuLoad = sysCPU[0] / 100.0
	}
	return sample
}

type DashboardSnapshot struct {
	Stats  DashboardStats `json:"stats"`
	System SystemSample   `json:"system"`
}

// DashboardHub fans snapshots out to connected websocket clients.
type DashboardHub struct {
	mu      sync.Mutex
	clients map[*websocket.Conn]bool
	ch      chan DashboardSnapshot
	logger  *zap.Logger
}

func NewDashboardHub(logger *zap.Logger) *DashboardHub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DashboardHub{
		clients: map[*websocket.Conn]bool{},
		ch:      make(chan DashboardSnapshot, 16),
		logger:  logger.Named("dashboard"),
	}
}

func (h *DashboardHub) Run(ctx context.Context) {
	for {
		select {
		case snapshot := <-h.ch:
			h.send(snapshot)
		case <-ctx.Done():
			h.closeAll()
			return
		}
	}
}

func (h *DashboardHub) send(snapshot DashboardSnapshot) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for conn := range h.clients {
		_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		if err := conn.WriteJSON(snapshot); err != nil {
			h.logger.Debug("dropping dashboard client", zap.Error(err))
			_ = conn.Close()
			delete(h.clients, conn)
		}
	}
}

func (h *DashboardHub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for conn := range h.clients {
		_ = conn.Close()
		delete(h.clients, conn)
	}
}

// Broadcast never blocks; a snapshot is dropped when the queue is full.
func (h *DashboardHub) Broadcast(snapshot DashboardSnapshot) {
	select {
	case h.ch <- snapshot:
	default:
	}
}

func (h *DashboardHub) Add(conn *websocket.Conn) {
	h.mu.Lock()
	h.clients[conn] = true
	h.mu.Unlock()
}

func (h *DashboardHub) Remove(conn *websocket.Conn) {
	h.mu.Lock()
	delete(h.clients, conn)
	h.mu.Unlock()
}

func (h *DashboardHub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// PublishDashboard builds a snapshot every interval while clients are
// connected.
func PublishDashboard(ctx context.Context, db *sqlx.DB, clock Clock, hub *DashboardHub, interval time.Duration, diskPath string) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if hub.Clients() == 0 {
				continue
			}
			stats, err := LoadDashboardStats(ctx, db, clock, DateRange{})
			if err != nil {
				hub.logger.Warn("dashboard stats failed", zap.Error(err))
				continue
			}
			hub.Broadcast(DashboardSnapshot{Stats: stats, System: CaptureSystemSample(diskPath)})
		}
	}
}
