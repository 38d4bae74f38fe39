package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/khanakat/cachekit/cache"
)

// EntryRequest is the write body for PUT and the loader payload for the
// get-or-set route. A nil TTL means the service default.
type EntryRequest struct {
	Value      string            `json:"value"`
	TTLSeconds *int64            `json:"ttl_seconds,omitempty"`
	Tags       []string          `json:"tags,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

type EntryResponse struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

type BatchGetRequest struct {
	Keys []string `json:"keys"`
}

type BatchGetResponse struct {
	Values map[string]string `json:"values"`
}

type BatchItem struct {
	Key string `json:"key"`
	EntryRequest
}

type BatchSetRequest struct {
	Items []BatchItem `json:"items"`
}

type InvalidateRequest struct {
	Tags    []string `json:"tags,omitempty"`
	Pattern string   `json:"pattern,omitempty"`
}

type InvalidateResponse struct {
	Removed int64 `json:"removed"`
}

type StatsResponse struct {
	TotalEntries   int64            `json:"total_entries"`
	ActiveEntries  int64            `json:"active_entries"`
	ExpiredEntries int64            `json:"expired_entries"`
	Hits           int64            `json:"hits"`
	Misses         int64            `json:"misses"`
	HitRate        float64          `json:"hit_rate"`
	MemoryBytes    int64            `json:"memory_bytes"`
	OldestEntry    *time.Time       `json:"oldest_entry,omitempty"`
	NewestEntry    *time.Time       `json:"newest_entry,omitempty"`
	EntriesByTag   map[string]int64 `json:"entries_by_tag,omitempty"`
}

type handler struct {
	svc *cache.Service
}

func (h *handler) register(e *echo.Echo, cfg ServerOptions) {
	e.GET("/v1/healthz", h.healthz)

	v1 := e.Group("/v1")
	if cfg.TokenDigest != "" {
		v1.Use(TokenMiddleware(cfg.TokenDigest))
	}
	v1.GET("/entries/:key", h.getEntry)
	v1.PUT("/entries/:key", h.putEntry)
	v1.DELETE("/entries/:key", h.deleteEntry)
	v1.POST("/entries/:key/getorset", h.getOrSet)
	v1.POST("/batch/get", h.batchGet)
	v1.POST("/batch/set", h.batchSet)
	v1.POST("/invalidate", h.invalidate)
	v1.POST("/warmup", h.warmUp)
	v1.GET("/stats", h.stats)
}

func (h *handler) getEntry(c echo.Context) error {
	ctx := c.Request().Context()
	key := c.Param("key")
	value, err := h.svc.Get(ctx, key)
	if err != nil {
		return err
	}
	if value == "" {
		// An empty string is also what a stored empty value reads as, so
		// confirm absence before reporting a miss.
		present, err := h.svc.Exists(ctx, key)
		if err != nil {
			return err
		}
		if !present {
			return echo.NewHTTPError(http.StatusNotFound, "key not found")
		}
	}
	return c.JSON(http.StatusOK, EntryResponse{Key: key, Value: value})
}

func (h *handler) putEntry(c echo.Context) error {
	var req EntryRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed body")
	}
	opts, err := writeOptions(req)
	if err != nil {
		return err
	}
	if err := h.svc.Set(c.Request().Context(), c.Param("key"), req.Value, opts...); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *handler) deleteEntry(c echo.Context) error {
	if err := h.svc.Delete(c.Request().Context(), c.Param("key")); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *handler) getOrSet(c echo.Context) error {
	var req EntryRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed body")
	}
	opts, err := writeOptions(req)
	if err != nil {
		return err
	}
	key := c.Param("key")
	value, err := h.svc.GetOrSet(c.Request().Context(), key, func(context.Context) (string, error) {
		return req.Value, nil
	}, opts...)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, EntryResponse{Key: key, Value: value})
}

func (h *handler) batchGet(c echo.Context) error {
	var req BatchGetRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed body")
	}
	values, err := h.svc.GetMany(c.Request().Context(), req.Keys)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, BatchGetResponse{Values: values})
}

func (h *handler) batchSet(c echo.Context) error {
	var req BatchSetRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed body")
	}
	items, err := toItems(req.Items)
	if err != nil {
		return err
	}
	if err := h.svc.SetMany(c.Request().Context(), items); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *handler) invalidate(c echo.Context) error {
	var req InvalidateRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed body")
	}
	removed, err := h.svc.Invalidate(c.Request().Context(), req.Tags, req.Pattern)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, InvalidateResponse{Removed: removed})
}

func (h *handler) warmUp(c echo.Context) error {
	var req BatchSetRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed body")
	}
	items, err := toItems(req.Items)
	if err != nil {
		return err
	}
	if err := h.svc.WarmUp(c.Request().Context(), items); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *handler) stats(c echo.Context) error {
	stats, err := h.svc.Statistics(c.Request().Context())
	if err != nil {
		return err
	}
	resp := StatsResponse{
		TotalEntries:   stats.TotalEntries,
		ActiveEntries:  stats.ActiveEntries,
		ExpiredEntries: stats.ExpiredEntries,
		Hits:           stats.Hits,
		Misses:         stats.Misses,
		HitRate:        stats.HitRate,
		MemoryBytes:    stats.MemoryBytes,
		EntriesByTag:   stats.EntriesByTag,
	}
	if !stats.OldestEntry.IsZero() {
		resp.OldestEntry = &stats.OldestEntry
	}
	if !stats.NewestEntry.IsZero() {
		resp.NewestEntry = &stats.NewestEntry
	}
	return c.JSON(http.StatusOK, resp)
}

func (h *handler) healthz(c echo.Context) error {
	if err := h.svc.Ping(c.Request().Context()); err != nil {
		return c.JSON(http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func toItems(batch []BatchItem) ([]cache.Item, error) {
	items := make([]cache.Item, 0, len(batch))
	for _, it := range batch {
		item := cache.Item{
			Key:      it.Key,
			Value:    it.Value,
			Tags:     it.Tags,
			Metadata: it.Metadata,
		}
		if it.TTLSeconds != nil {
			ttl, err := cache.NewTTL(*it.TTLSeconds)
			if err != nil {
				return nil, err
			}
			item.TTL = &ttl
		}
		items = append(items, item)
	}
	return items, nil
}

func writeOptions(req EntryRequest) ([]cache.WriteOption, error) {
	var opts []cache.WriteOption
	if req.TTLSeconds != nil {
		ttl, err := cache.NewTTL(*req.TTLSeconds)
		if err != nil {
			return nil, err
		}
		opts = append(opts, cache.WithTTL(ttl))
	}
	if len(req.Tags) > 0 {
		opts = append(opts, cache.WithTags(req.Tags...))
	}
	if len(req.Metadata) > 0 {
		opts = append(opts, cache.WithMetadata(req.Metadata))
	}
	return opts, nil
}
