package broadcast

import (
	"sort"
	"time"

	"joanabot/internal/eventbus"
)

func (d *Dispatcher) register(j job, state State) {
	now := time.Now()
	d.statusMu.Lock()
	d.status[j.id] = &JobStatus{
		ID:        j.id,
		State:     state,
		Interval:  j.interval.String(),
		Total:     len(j.recipients),
		CreatedAt: now,
	}
	d.done[j.id] = make(chan struct{})
	d.statusMu.Unlock()
	d.pruneStatus(now)
}

// Status returns a copy of the job's status.
func (d *Dispatcher) Status(id string) (JobStatus, bool) {
	d.statusMu.RLock()
	defer d.statusMu.RUnlock()
	st := d.status[id]
	if st == nil {
		return JobStatus{}, false
	}
	out := *st
	out.Failures = append([]string(nil), st.Failures...)
	return out, true
}

func (d *Dispatcher) setState(id string, s State) {
	d.statusMu.Lock()
	defer d.statusMu.Unlock()
	if st := d.status[id]; st != nil {
		st.State = s
	}
}

func (d *Dispatcher) setRunning(id string) {
	d.statusMu.Lock()
	defer d.statusMu.Unlock()
	if st := d.status[id]; st != nil {
		st.StartedAt = time.Now()
		st.Running = true
	}
}

func (d *Dispatcher) markSent(id string) {
	d.statusMu.Lock()
	defer d.statusMu.Unlock()
	if st := d.status[id]; st != nil {
		st.Sent++
	}
}

func (d *Dispatcher) markFail(id, recipient string) {
	d.statusMu.Lock()
	defer d.statusMu.Unlock()
	if st := d.status[id]; st != nil {
		st.Failed++
		if len(st.Failures) < maxFailures {
			st.Failures = append(st.Failures, recipient)
		}
	}
}

func (d *Dispatcher) fail(id string, err error) {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	d.finish(id, StateFailed, msg)
}

func (d *Dispatcher) finish(id string, state State, errMsg string) {
	now := time.Now()
	var snap JobStatus
	d.statusMu.Lock()
	if st := d.status[id]; st != nil {
		st.State = state
		st.Error = errMsg
		st.DoneAt = now
		st.Running = false
		snap = *st
	}
	if ch, ok := d.done[id]; ok {
		close(ch)
		delete(d.done, id)
	}
	d.statusMu.Unlock()

	d.bus.Publish(eventbus.Event{Type: eventbus.BroadcastFinished, Data: snap})
	d.pruneStatus(now)
}

// pruneStatus drops finished jobs older than the TTL, then the oldest
// entries while the map is over its bound. Running jobs are kept.
func (d *Dispatcher) pruneStatus(now time.Time) {
	d.statusMu.Lock()
	defer d.statusMu.Unlock()

	max := d.statusMax
	if max <= 0 {
		max = defaultStatusMax
	}
	ttl := d.statusTTL
	if ttl <= 0 {
		ttl = defaultStatusTTL
	}

	for id, st := range d.status {
		if st.DoneAt.IsZero() {
			continue
		}
		if now.Sub(st.DoneAt) > ttl {
			delete(d.status, id)
		}
	}
	if len(d.status) <= max {
		return
	}

	type kv struct {
		id string
		t  time.Time
	}
	items := make([]kv, 0, len(d.status))
	for id, st := range d.status {
		if st.DoneAt.IsZero() {
			continue
		}
		items = append(items, kv{id: id, t: st.DoneAt})
	}
	sort.Slice(items, func(i, j int) bool { return items[i].t.Before(items[j].t) })

	excess := len(d.status) - max
	for i := 0; i < excess && i < len(items); i++ {
		delete(d.status, items[i].id)
	}
}
