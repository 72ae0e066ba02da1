package renderer

import (
	"fmt"
	"sync"
	"time"
)

// swSubmission is one unit of queue work: a command buffer or a present.
type swSubmission struct {
	label    string
	commands []Command
	info     SubmitInfo
	present  *swImage
}

// swQueue executes submissions in order on its own goroutine. Semaphore waits block the
// queue goroutine, never the submitter.
type swQueue struct {
	b       *softwareBackend
	kind    QueueKind
	work    chan swSubmission
	pending sync.WaitGroup
	done    chan struct{}
}

func newSWQueue(b *softwareBackend, kind QueueKind) *swQueue {
	q := &swQueue{
		b:    b,
		kind: kind,
		work: make(chan swSubmission, 64),
		done: make(chan struct{}),
	}
	go q.run()
	return q
}

func (q *swQueue) enqueue(s swSubmission) {
	q.pending.Add(1)
	q.work <- s
}

func (q *swQueue) close() {
	q.pending.Wait()
	close(q.work)
	<-q.done
}

func (q *swQueue) run() {
	defer close(q.done)
	for s := range q.work {
		if q.b.deviceLost() == nil {
			q.execute(s)
		}
		q.pending.Done()
	}
}

func (q *swQueue) trace(kind TraceKind, label string, img *swImage, sem *swSemaphore) {
	e := TraceEvent{Queue: q.kind, Label: label, Kind: kind}
	if img != nil {
		e.Image, e.ImageLabel = img.id, img.desc.Label
	}
	if sem != nil {
		e.Semaphore = sem.label
	}
	q.b.tracer.record(e)
}

func (q *swQueue) execute(s swSubmission) {
	for _, w := range s.info.Waits {
		sem := w.Semaphore.(*swSemaphore)
		select {
		case <-sem.ch:
			q.trace(TraceWait, s.label, nil, sem)
		case <-time.After(q.b.cfg.deviceTimeout):
			q.b.setLost(fmt.Errorf("%w: %s queue waited %v on %q for %s", ErrDeviceLost, q.kind, q.b.cfg.deviceTimeout, sem.label, s.label))
			return
		}
	}

	if s.present != nil {
		q.trace(TracePresent, s.label, s.present, nil)
		q.b.presented.Store(s.present.id)
		q.b.statsMu.Lock()
		q.b.stats.Presents++
		q.b.statsMu.Unlock()
		s.present.available <- struct{}{}
		return
	}

	q.trace(TraceBegin, s.label, nil, nil)
	if delay := q.b.cfg.executionDelay; delay != nil {
		if d := delay(s.label); d > 0 {
			time.Sleep(d)
		}
	}

	var ps *passState
	for _, cmd := range s.commands {
		for _, a := range cmd.accesses() {
			kind := TraceRead
			if a.write {
				kind = TraceWrite
			}
			q.trace(kind, s.label, a.image.(*swImage), nil)
		}
		switch cmd.Kind {
		case CommandCopyBufferToImage:
			img := cmd.Image.(*swImage)
			copy(img.data, cmd.Buffer.(*swBuffer).data)
		case CommandBeginRenderPass:
			ps = q.b.beginPass(cmd)
		case CommandBindShadingRateImage:
			ps.rate = nil
			if cmd.Image != nil {
				ps.rate = cmd.Image.(*swImage)
			}
		case CommandDraw:
			q.b.draw(ps, cmd.Draw)
		case CommandEndRenderPass:
			ps = nil
		case CommandDispatch:
			q.b.dispatch(cmd)
		}
	}
	q.trace(TraceEnd, s.label, nil, nil)

	for _, sig := range s.info.Signals {
		sem := sig.(*swSemaphore)
		q.trace(TraceSignal, s.label, nil, sem)
		select {
		case sem.ch <- struct{}{}:
		default:
			q.b.setLost(fmt.Errorf("%w: %q signalled twice", ErrDeviceLost, sem.label))
			return
		}
	}
}
