package renderer

import (
	"fmt"
	"sync"
)

// TraceKind classifies a trace event.
type TraceKind int

const (
	TraceWait TraceKind = iota
	TraceBegin
	TraceEnd
	TraceSignal
	TraceRead
	TraceWrite
	TracePresent
)

var traceKindNames = [...]string{"wait", "begin", "end", "signal", "read", "write", "present"}

func (k TraceKind) String() string {
	if int(k) < len(traceKindNames) {
		return traceKindNames[k]
	}
	return fmt.Sprintf("TraceKind(%d)", int(k))
}

// TraceEvent is one step of device execution as observed by the queue that ran it.
type TraceEvent struct {
	// Seq is a device-wide sequence number; events are totally ordered by Seq.
	Seq uint64
	// Queue is the queue that executed the step.
	Queue QueueKind
	// Label is the label of the command buffer being executed.
	Label string
	Kind  TraceKind
	// Image and ImageLabel identify the image for read, write and present events.
	Image      uint64
	ImageLabel string
	// Semaphore is the semaphore label for wait and signal events.
	Semaphore string
}

func (e TraceEvent) String() string {
	switch e.Kind {
	case TraceWait, TraceSignal:
		return fmt.Sprintf("#%d %s %s %s %s", e.Seq, e.Queue, e.Label, e.Kind, e.Semaphore)
	case TraceRead, TraceWrite, TracePresent:
		return fmt.Sprintf("#%d %s %s %s %s", e.Seq, e.Queue, e.Label, e.Kind, e.ImageLabel)
	default:
		return fmt.Sprintf("#%d %s %s %s", e.Seq, e.Queue, e.Label, e.Kind)
	}
}

// Trace is an execution log. Collection is enabled with WithTrace.
type Trace []TraceEvent

// Filter returns the events for which keep returns true.
func (t Trace) Filter(keep func(TraceEvent) bool) Trace {
	var out Trace
	for _, e := range t {
		if keep(e) {
			out = append(out, e)
		}
	}
	return out
}

// Labels returns the labels of the begin events in execution order.
func (t Trace) Labels() []string {
	var out []string
	for _, e := range t {
		if e.Kind == TraceBegin {
			out = append(out, e.Label)
		}
	}
	return out
}

// Find returns the first event matching label and kind.
func (t Trace) Find(label string, kind TraceKind) (TraceEvent, bool) {
	for _, e := range t {
		if e.Label == label && e.Kind == kind {
			return e, true
		}
	}
	return TraceEvent{}, false
}

// Interval is the span of one command buffer execution.
type Interval struct {
	Queue      QueueKind
	Label      string
	Begin, End uint64
}

// Overlaps reports whether both intervals were executing at the same time.
func (i Interval) Overlaps(o Interval) bool {
	return i.Begin < o.End && o.Begin < i.End
}

// Intervals returns the execution span of every command buffer, in begin order.
func (t Trace) Intervals() []Interval {
	type key struct {
		q     QueueKind
		label string
	}
	open := map[key]int{}
	var out []Interval
	for _, e := range t {
		k := key{e.Queue, e.Label}
		switch e.Kind {
		case TraceBegin:
			open[k] = len(out)
			out = append(out, Interval{Queue: e.Queue, Label: e.Label, Begin: e.Seq})
		case TraceEnd:
			if i, ok := open[k]; ok {
				out[i].End = e.Seq
				delete(open, k)
			}
		}
	}
	return out
}

// HazardCheck reports the first pair of executions on different queues that overlap in
// time while one writes an image the other reads or writes.
//
// Returns:
//   - error: a description of the hazard, or nil
func (t Trace) HazardCheck() error {
	intervals := t.Intervals()
	access := map[string]map[uint64]bool{}
	for _, e := range t {
		if e.Kind != TraceRead && e.Kind != TraceWrite {
			continue
		}
		k := e.Queue.String() + "/" + e.Label
		if access[k] == nil {
			access[k] = map[uint64]bool{}
		}
		access[k][e.Image] = access[k][e.Image] || e.Kind == TraceWrite
	}
	for i, a := range intervals {
		for _, b := range intervals[i+1:] {
			if a.Queue == b.Queue || !a.Overlaps(b) {
				continue
			}
			ia := access[a.Queue.String()+"/"+a.Label]
			ib := access[b.Queue.String()+"/"+b.Label]
			for img, wa := range ia {
				wb, ok := ib[img]
				if ok && (wa || wb) {
					return fmt.Errorf("renderer: %s and %s overlap on image %d", a.Label, b.Label, img)
				}
			}
		}
	}
	return nil
}

// Stats are cumulative device counters.
type Stats struct {
	Submissions int
	Dispatches  int
	Draws       int
	// FragmentInvocations counts fragment kernel invocations.
	FragmentInvocations int
	// PixelsShaded counts covered pixels written by draws.
	PixelsShaded int
	Presents     int
}

// InvocationRatio is fragment invocations per covered pixel, 0 before any draw.
func (s Stats) InvocationRatio() float64 {
	if s.PixelsShaded == 0 {
		return 0
	}
	return float64(s.FragmentInvocations) / float64(s.PixelsShaded)
}

// Sub returns the counters accumulated since before.
func (s Stats) Sub(before Stats) Stats {
	return Stats{
		Submissions:         s.Submissions - before.Submissions,
		Dispatches:          s.Dispatches - before.Dispatches,
		Draws:               s.Draws - before.Draws,
		FragmentInvocations: s.FragmentInvocations - before.FragmentInvocations,
		PixelsShaded:        s.PixelsShaded - before.PixelsShaded,
		Presents:            s.Presents - before.Presents,
	}
}

// tracer collects events under a lock shared by all queues.
type tracer struct {
	mu      sync.Mutex
	enabled bool
	seq     uint64
	events  Trace
}

func (t *tracer) record(e TraceEvent) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.seq++
	if !t.enabled {
		return
	}
	e.Seq = t.seq
	t.events = append(t.events, e)
}

func (t *tracer) snapshot() Trace {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append(Trace(nil), t.events...)
}
