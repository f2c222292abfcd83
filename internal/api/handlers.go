package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"ipfixflow/internal/archive"
	"ipfixflow/internal/cache"
	"ipfixflow/internal/query"
)

type handlers struct {
	cache   *cache.Cache
	archive *archive.Archive
}

func (h *handlers) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type statsResponse struct {
	FlowsCurrent  int    `json:"flows_current"`
	FreeSlots     int    `json:"free_slots"`
	ExportCount   uint64 `json:"export_count"`
	EvictionCount uint64 `json:"eviction_count"`
	ArchiveLen    int    `json:"archive_len"`
	ArchiveTotal  uint64 `json:"archive_total"`
}

func (h *handlers) stats(c *gin.Context) {
	resp := statsResponse{}
	if h.cache != nil {
		resp.FlowsCurrent = h.cache.FlowsCurrent()
		resp.FreeSlots = h.cache.FreeCount()
		resp.ExportCount = h.cache.ExportCount()
		resp.EvictionCount = h.cache.EvictionCount()
	}
	if h.archive != nil {
		resp.ArchiveLen = h.archive.Len()
		resp.ArchiveTotal = h.archive.Total()
	}
	c.JSON(http.StatusOK, resp)
}

func (h *handlers) flows(c *gin.Context) {
	if h.archive == nil {
		c.JSON(http.StatusOK, gin.H{"flows": []archive.Snapshot{}})
		return
	}

	f := query.Parse(c.Query("filter"))
	if !f.IsValid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": f.Error})
		return
	}

	snapshots := h.archive.Snapshot()
	matched := make([]archive.Snapshot, 0, len(snapshots))
	for _, s := range snapshots {
		if f.Matches(s) {
			matched = append(matched, s)
		}
	}

	c.JSON(http.StatusOK, gin.H{"flows": matched, "count": len(matched)})
}
