package canvas

import (
	"math/rand"
	"sync"
	"time"
)

// idMinter mints node ids as nowMillis*1000 + suffix(0..999). The suffix
// starts random and increments while the clock stays on the same
// millisecond, so two mints in one millisecond never collide within a
// process.
type idMinter struct {
	mu         sync.Mutex
	lastMillis int64
	suffix     int64
}

func (m *idMinter) next() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UnixMilli()
	if now == m.lastMillis {
		m.suffix = (m.suffix + 1) % 1000
	} else {
		m.lastMillis = now
		m.suffix = rand.Int63n(1000)
	}
	return now*1000 + m.suffix
}
