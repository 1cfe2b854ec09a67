package adminapi

import (
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/kiloop/keyindex/internal/keyspace"
	"github.com/kiloop/keyindex/internal/ops"
	"github.com/kiloop/keyindex/internal/workerlist"
)

// Handler holds the dependencies admin endpoints read from: the shared
// worker list (both master and worker keep one) and the role name/start
// time used in the status response.
type Handler struct {
	list      *workerlist.List
	role      string
	startTime time.Time
}

func newHandler(list *workerlist.List, role string) *Handler {
	return &Handler{list: list, role: role, startTime: time.Now()}
}

func (h *Handler) status(c *gin.Context) {
	c.JSON(http.StatusOK, StatusResponse{
		Status:        "ok",
		Role:          h.role,
		UptimeSeconds: int64(time.Since(h.startTime).Seconds()),
		Host:          ops.Sample(),
	})
}

func (h *Handler) workers(c *gin.Context) {
	c.JSON(http.StatusOK, WorkersResponse{Workers: buildViews(h.list.All())})
}

// ring orders workers left-to-right by range.min, the ring's natural
// order; entries with no range yet (not assigned) sort last.
func (h *Handler) ring(c *gin.Context) {
	entries := h.list.All()
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Range.Valid != entries[j].Range.Valid {
			return entries[i].Range.Valid
		}
		if !entries[i].Range.Valid {
			return false
		}
		return entries[i].Range.Min.Less(entries[j].Range.Min)
	})
	c.JSON(http.StatusOK, RingResponse{Workers: buildViews(entries)})
}

func buildViews(entries []*workerlist.WorkerEntry) []WorkerView {
	out := make([]WorkerView, 0, len(entries))
	for _, w := range entries {
		v := WorkerView{
			ID:             w.ID,
			Active:         w.Active,
			KeyCount:       w.KeyCount,
			RecentAddCount: w.RecentAddCount,
			LeftID:         w.LeftID,
			RightID:        w.RightID,
			RangeValid:     w.Range.Valid,
			RangeUnlimited: w.Range.Unlimited,
		}
		if w.UDPAddr.Valid() {
			v.UDPAddr = w.UDPAddr.IP
		}
		if w.TCPAddr.Valid() {
			v.TCPAddr = w.TCPAddr.IP
		}
		if w.Range.Valid {
			v.RangeMin = rangeMinString(w.Range.Min)
		}
		out = append(out, v)
	}
	return out
}

func rangeMinString(k keyspace.CompositeKey) string {
	if k.KStr != "" {
		return k.KStr
	}
	return strconv.FormatUint(k.KInt, 10)
}
