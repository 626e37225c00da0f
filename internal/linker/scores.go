package linker

import (
	"time"

	"github.com/yourname/battle-server/internal/match"
	"github.com/yourname/battle-server/internal/metrics"
	"github.com/yourname/battle-server/pkg/types"
)

// cacheScore keeps only the newest sample for p. The player's ticker is
// started by the first sample and lives until the player is removed.
func (c *Client) cacheScore(p *match.Player, sample types.ScoreData) {
	c.mu.Lock()
	u, ok := c.addUserLocked(p)
	if !ok {
		c.mu.Unlock()
		return
	}
	u.pending = &sample
	start := !u.ticking
	u.ticking = true
	stop := u.stop
	c.mu.Unlock()

	if start {
		go c.flushScores(p, stop)
	}
}

// flushScores sends at most one sample per tick. Samples superseded within
// a tick are never sent.
func (c *Client) flushScores(p *match.Player, stop <-chan struct{}) {
	t := time.NewTicker(c.cfg.ScoreInterval)
	defer t.Stop()
	for {
		select {
		case <-stop:
			return
		case <-t.C:
		}

		c.mu.Lock()
		var sample *types.ScoreData
		if u := c.users[p.ID]; u != nil && u.stop == stop {
			sample, u.pending = u.pending, nil
		}
		c.mu.Unlock()
		if sample == nil {
			continue
		}
		if err := c.forward(p, types.UpdateScore{ScoreData: *sample}); err != nil {
			metrics.LinkerDropped.Inc()
		}
	}
}
