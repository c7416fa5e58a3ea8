package redis

import (
	"bufio"
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/reststorage/reststorage/internal/dcontext"
)

// memoryUsage samples INFO memory and caches the result for refresh.
type memoryUsage struct {
	client  redis.UniversalClient
	refresh time.Duration
	now     func() time.Time

	mu        sync.Mutex
	percent   float64
	known     bool
	sampledAt time.Time
}

func (m *memoryUsage) current(ctx context.Context) (float64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if !m.sampledAt.IsZero() && now.Sub(m.sampledAt) < m.refresh {
		return m.percent, m.known
	}
	m.sampledAt = now

	info, err := m.client.Info(ctx, "memory").Result()
	if err != nil {
		dcontext.GetLogger(ctx).Warnf("unable to read redis memory info: %v", err)
		m.percent, m.known = 0, false
		return m.percent, m.known
	}

	m.percent, m.known = parseMemoryUsage(info)
	if !m.known {
		dcontext.GetLogger(ctx).Debug("redis does not report total_system_memory, memory usage is unknown")
	}
	return m.percent, m.known
}

// parseMemoryUsage computes used_memory as a percentage of
// total_system_memory from an INFO reply.
func parseMemoryUsage(info string) (float64, bool) {
	var used, total int64 = -1, -1

	scanner := bufio.NewScanner(strings.NewReader(info))
	for scanner.Scan() {
		key, value, ok := strings.Cut(strings.TrimSpace(scanner.Text()), ":")
		if !ok {
			continue
		}
		switch key {
		case "used_memory":
			used, _ = strconv.ParseInt(value, 10, 64)
		case "total_system_memory":
			total, _ = strconv.ParseInt(value, 10, 64)
		}
	}

	if used < 0 || total <= 0 {
		return 0, false
	}
	return float64(used) / float64(total) * 100, true
}
