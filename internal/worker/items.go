package worker

import (
	"context"
	"time"

	"github.com/kiloop/keyindex/internal/dolist"
)

// registerItem retries MAST_WORKER_ADD_REQ until the worker's id is
// discovered (via the worker-list/detail pull, not a direct ack — see
// worker.go's sendRegister comment). It is a one-shot in dolist terms:
// needInfo stays true (so it keeps firing on backoff) until Execute
// observes an assigned id, at which point it clears needInfo and the
// do-list drops it on the next sweep.
type registerItem struct {
	*dolist.Base
	w *Worker
}

func newRegisterItem(w *Worker) *registerItem {
	return &registerItem{Base: dolist.NewBase(0, 0, true), w: w}
}

func (r *registerItem) Execute(ctx context.Context) {
	if r.w.ID() != 0 {
		r.Base.InfoReceived(time.Now())
		return
	}
	r.w.sendRegister()
}

// listPullItem periodically asks the master for the current worker id
// set. It never completes on its own (oneShot=false); it runs for the
// life of the process.
type listPullItem struct {
	*dolist.Base
	w    *Worker
	list *dolist.List
}

func newListPullItem(w *Worker, list *dolist.List, interval time.Duration) *listPullItem {
	return &listPullItem{Base: dolist.NewBase(interval, 0, false), w: w, list: list}
}

func (l *listPullItem) Execute(ctx context.Context) {
	if l.w.ID() == 0 {
		return
	}
	l.w.requestWorkerList()
}

// detailItem fetches MAST_WORKER_INFO for one newly seen id, retrying
// until a reply arrives (HandleWorkerInfo calls InfoReceived on the
// matching item, which lets it drop off the list as a completed one-shot).
type detailItem struct {
	*dolist.Base
	w  *Worker
	id uint32
}

func newDetailItem(w *Worker, id uint32) *detailItem {
	return &detailItem{Base: dolist.NewBase(0, 0, true), w: w, id: id}
}

func (d *detailItem) Execute(ctx context.Context) {
	d.w.requestWorkerInfo(d.id)
}

// monitorItem drives Worker.Monitor on the configured loop cadence.
type monitorItem struct {
	*dolist.Base
	w *Worker
}

func newMonitorItem(w *Worker, interval time.Duration) *monitorItem {
	return &monitorItem{Base: dolist.NewBase(interval, 0, false), w: w}
}

func (m *monitorItem) Execute(ctx context.Context) {
	m.w.Monitor(ctx)
}
