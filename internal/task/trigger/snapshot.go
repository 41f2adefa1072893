package trigger

import (
	"sort"

	"evsched/internal/domain"
)

func (r *Registry) Snapshot() Snapshot {
	type pair struct {
		h    *handle
		info Info
	}

	r.mu.Lock()
	snap := Snapshot{Running: r.c != nil, Pending: len(r.fires)}
	pairs := make([]pair, 0, len(r.handles))
	for _, h := range r.handles {
		info := Info{
			Key:     h.key.String(),
			Kind:    h.kind.String(),
			Spec:    h.spec,
			Start:   h.window.Start,
			Ends:    h.window.Ends,
			ArmedAt: h.armedAt,
		}
		if h.kind == kindCron {
			if r.c != nil {
				info.Next = r.c.Entry(h.entryID).Next
			}
		} else {
			info.At, info.Next = h.at, h.at
		}
		pairs = append(pairs, pair{h: h, info: info})
	}
	r.mu.Unlock()

	snap.Armed = make([]Info, 0, len(pairs))
	for _, p := range pairs {
		p.h.mu.Lock()
		p.info.Fires, p.info.LastFired = p.h.fires, p.h.lastFired
		p.h.mu.Unlock()
		snap.Armed = append(snap.Armed, p.info)
	}
	sort.Slice(snap.Armed, func(i, j int) bool { return snap.Armed[i].Key < snap.Armed[j].Key })
	return snap
}

// Info returns the armed trigger for key.
func (r *Registry) Info(key domain.TaskKey) (Info, bool) {
	for _, in := range r.Snapshot().Armed {
		if in.Key == key.String() {
			return in, true
		}
	}
	return Info{}, false
}
