package livemetrics

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/livetemplate/blockdown/internal/dotpath"
	"github.com/livetemplate/blockdown/internal/mustache"
	"github.com/livetemplate/blockdown/internal/source"
	"github.com/livetemplate/blockdown/internal/state"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Status is the lifecycle state of a card.
type Status string

const (
	StatusUnresolved Status = "unresolved" // A URL template variable has no value
	StatusFetching   Status = "fetching"
	StatusReady      Status = "ready"
	StatusError      Status = "error"
)

// Snapshot is the renderable state of a card.
type Snapshot struct {
	BlockID    string        `json:"blockID"`
	Status     Status        `json:"status"`
	Title      string        `json:"title,omitempty"`
	Subtitle   string        `json:"subtitle,omitempty"`
	Icon       string        `json:"icon,omitempty"`
	Left       []MetricValue `json:"metricsLeft,omitempty"`
	Right      []MetricValue `json:"metricsRight,omitempty"`
	Live       *MetricValue  `json:"liveMetric,omitempty"`
	Series     []Point       `json:"series,omitempty"`
	ChartType  string        `json:"chartType,omitempty"`
	URL        string        `json:"url,omitempty"`
	Missing    []string      `json:"missing,omitempty"` // Unset template variables
	Error      string        `json:"error,omitempty"`
	Stale      bool          `json:"stale,omitempty"` // Values are from an earlier successful fetch
	UpdatedAt  time.Time     `json:"updatedAt"`
	Generation uint64        `json:"generation"`
}

// HasData reports whether the snapshot carries values from a successful fetch.
func (s Snapshot) HasData() bool {
	return !s.UpdatedAt.IsZero()
}

func (s Snapshot) clone() Snapshot {
	s.Left = slices.Clone(s.Left)
	s.Right = slices.Clone(s.Right)
	s.Series = slices.Clone(s.Series)
	s.Missing = slices.Clone(s.Missing)
	if s.Live != nil {
		live := *s.Live
		s.Live = &live
	}
	return s
}

// StateSource is the page state a card reads its URL variables from.
type StateSource interface {
	Lookup(key string) (string, bool)
	Subscribe(fn func(state.Change)) (unsubscribe func())
}

// Options configures a Card.
type Options struct {
	Fetcher source.Fetcher
	State   StateSource // May be nil for cards without template variables
	Logger  *zap.Logger
	Now     func() time.Time
}

// Card evaluates one CardConfig. An evaluation for new URLs, or a forced
// Refresh, takes a new generation number and cancels the evaluation in
// flight; a result is applied only if its generation is still the latest.
// Polls for the URLs already being fetched are skipped.
type Card struct {
	id     string
	cfg    CardConfig
	vars   map[string]bool
	opts   Options
	logger *zap.Logger

	trigger chan struct{}

	mu        sync.Mutex
	snap      Snapshot
	gen       uint64
	cancel    context.CancelFunc
	inflight  [2]string // Data and history URL of the fetch in flight
	listeners []func(Snapshot)

	emitMu sync.Mutex
	wg     sync.WaitGroup
}

// NewCard creates a card in the unresolved state.
func NewCard(id string, cfg CardConfig, opts Options) *Card {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	vars := make(map[string]bool)
	for _, v := range cfg.Variables() {
		vars[v] = true
	}

	c := &Card{
		id:      id,
		cfg:     cfg,
		vars:    vars,
		opts:    opts,
		logger:  opts.Logger.Named("livemetrics").With(zap.String("card", id)),
		trigger: make(chan struct{}, 1),
	}
	c.snap = Snapshot{
		BlockID:  id,
		Status:   StatusUnresolved,
		Title:    cfg.Title,
		Subtitle: cfg.Subtitle,
		Icon:     cfg.Icon,
		Left:     labelsOnly(cfg.MetricsLeft),
		Right:    labelsOnly(cfg.MetricsRight),
		Live:     liveLabel(cfg.LiveMetric),
	}
	if cfg.Chart != nil {
		c.snap.ChartType = chartType(cfg.Chart)
	}
	return c
}

func labelsOnly(metrics []MetricConfig) []MetricValue {
	out := make([]MetricValue, len(metrics))
	for i, m := range metrics {
		out[i] = MetricValue{Label: m.Label, HoverLabel: m.HoverLabel, Align: m.Align}
	}
	return out
}

func liveLabel(lm *LiveMetricConfig) *MetricValue {
	if lm == nil {
		return nil
	}
	return &MetricValue{Label: lm.Label, HoverLabel: lm.HoverLabel, Align: lm.Align, AccentColor: lm.AccentColor, Icon: lm.Icon}
}

func chartType(c *ChartConfig) string {
	if c.Type == "" {
		return "line"
	}
	return c.Type
}

// ID returns the block id the card belongs to.
func (c *Card) ID() string { return c.id }

// Config returns the card's configuration.
func (c *Card) Config() CardConfig { return c.cfg }

// Snapshot returns a copy of the current state.
func (c *Card) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snap.clone()
}

// OnUpdate registers fn to receive the snapshot after every transition.
// Calls are serialised and always carry the latest state.
func (c *Card) OnUpdate(fn func(Snapshot)) {
	c.mu.Lock()
	c.listeners = append(c.listeners, fn)
	c.mu.Unlock()
}

// References reports whether key appears in the card's URL templates.
func (c *Card) References(key string) bool {
	return c.vars[key]
}

// Trigger schedules an evaluation on the Run loop. Triggers that arrive
// while one is pending are coalesced.
func (c *Card) Trigger() {
	select {
	case c.trigger <- struct{}{}:
	default:
	}
}

// Run evaluates the card once, then again on every refresh tick and every
// change of a referenced state key, until ctx is done. It returns after all
// in-flight fetches have finished.
func (c *Card) Run(ctx context.Context) error {
	if c.opts.State != nil && len(c.vars) > 0 {
		unsubscribe := c.opts.State.Subscribe(func(ch state.Change) {
			if c.References(ch.Key) {
				c.Trigger()
			}
		})
		defer unsubscribe()
	}

	var tick <-chan time.Time
	if interval := c.cfg.Interval(); interval > 0 {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	defer c.wg.Wait()
	c.Trigger()
	for {
		select {
		case <-ctx.Done():
			c.mu.Lock()
			if c.cancel != nil {
				c.cancel()
			}
			c.mu.Unlock()
			return nil
		case <-c.trigger:
			c.launch(ctx)
		case <-tick:
			c.launch(ctx)
		}
	}
}

func (c *Card) launch(ctx context.Context) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.evaluate(ctx, false)
	}()
}

type fetchResult struct {
	data    any
	history any
	histErr error
}

// Refresh performs one evaluation and returns the resulting snapshot. It
// supersedes any evaluation in flight. If a newer evaluation starts before
// this one completes, this one's result is discarded and the current
// snapshot is returned.
func (c *Card) Refresh(ctx context.Context) Snapshot {
	return c.evaluate(ctx, true)
}

func (c *Card) evaluate(ctx context.Context, force bool) Snapshot {
	c.mu.Lock()
	dataURL, historyURL, missing := c.resolveURLs()
	urls := [2]string{dataURL, historyURL}
	if !force && len(missing) == 0 && c.cancel != nil && c.inflight == urls {
		c.mu.Unlock()
		c.logger.Debug("fetch already in flight, skipping", zap.String("url", dataURL))
		return c.Snapshot()
	}

	c.gen++
	gen := c.gen
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
		c.inflight = [2]string{}
	}

	if len(missing) > 0 {
		c.applyUnresolved(missing)
		c.snap.Generation = gen
		c.mu.Unlock()
		c.emit()
		return c.Snapshot()
	}

	fetchCtx, cancel := context.WithTimeout(ctx, c.cfg.TimeoutDuration())
	defer cancel()
	c.cancel = cancel
	c.inflight = urls
	c.snap.Status = StatusFetching
	c.snap.Missing = nil
	c.snap.URL = dataURL
	c.snap.Generation = gen
	c.mu.Unlock()
	c.emit()

	res, err := c.fetch(fetchCtx, dataURL, historyURL)

	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		c.logger.Debug("discarding superseded result", zap.Uint64("generation", gen))
		return c.Snapshot()
	}
	c.cancel = nil
	c.inflight = [2]string{}
	if ctx.Err() != nil {
		// Shutting down; leave the last state in place.
		c.mu.Unlock()
		return c.Snapshot()
	}
	if err != nil {
		c.applyError(err)
	} else {
		c.applyData(res)
	}
	c.mu.Unlock()
	c.emit()
	return c.Snapshot()
}

func (c *Card) lookup(name string) (string, bool) {
	if c.opts.State == nil {
		return "", false
	}
	return c.opts.State.Lookup(name)
}

// resolveURLs expands the URL templates. Both are gated together: if any
// referenced variable is missing, neither request is issued.
func (c *Card) resolveURLs() (dataURL, historyURL string, missing []string) {
	dataURL, err := mustache.ResolveURL(c.cfg.DataURL, c.lookup)
	var me *mustache.MissingError
	if errors.As(err, &me) {
		missing = append(missing, me.Names...)
	}
	if c.cfg.usesHistory() {
		historyURL, err = mustache.ResolveURL(c.cfg.HistoryURL, c.lookup)
		if errors.As(err, &me) {
			for _, name := range me.Names {
				if !slices.Contains(missing, name) {
					missing = append(missing, name)
				}
			}
		}
	}
	return dataURL, historyURL, missing
}

func (c *Card) fetch(ctx context.Context, dataURL, historyURL string) (fetchResult, error) {
	var res fetchResult
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		doc, err := c.opts.Fetcher.FetchJSON(gctx, dataURL)
		res.data = doc
		return err
	})
	if historyURL != "" {
		// A failed history request only drops the chart.
		g.Go(func() error {
			res.history, res.histErr = c.opts.Fetcher.FetchJSON(gctx, historyURL)
			return nil
		})
	}
	err := g.Wait()
	return res, err
}

// applyUnresolved must be called with c.mu held. Values fetched for the
// previous URL no longer apply, so the card falls back to its labels.
func (c *Card) applyUnresolved(missing []string) {
	c.snap.Status = StatusUnresolved
	c.snap.Missing = missing
	c.snap.URL = ""
	c.snap.Error = ""
	c.snap.Stale = false
	c.snap.Left = labelsOnly(c.cfg.MetricsLeft)
	c.snap.Right = labelsOnly(c.cfg.MetricsRight)
	c.snap.Live = liveLabel(c.cfg.LiveMetric)
	c.snap.Series = nil
	c.snap.UpdatedAt = time.Time{}
}

// applyData must be called with c.mu held.
func (c *Card) applyData(res fetchResult) {
	root := res.data
	if c.cfg.DataPath != "" {
		root, _ = dotpath.Lookup(res.data, c.cfg.DataPath)
	}

	c.snap.Left = projectAll(root, c.cfg.MetricsLeft)
	c.snap.Right = projectAll(root, c.cfg.MetricsRight)
	c.snap.Live = projectLive(root, c.cfg.LiveMetric)
	c.snap.Series = nil

	if c.cfg.Chart != nil {
		seriesRoot := root
		if c.cfg.usesHistory() {
			seriesRoot = nil
			if res.histErr != nil {
				c.logger.Warn("history fetch failed", zap.Error(res.histErr))
			} else {
				seriesRoot = res.history
				if c.cfg.HistoryPath != "" {
					seriesRoot, _ = dotpath.Lookup(res.history, c.cfg.HistoryPath)
				}
			}
		}
		if series, ok := ProjectSeries(seriesRoot, c.cfg.Chart); ok {
			c.snap.Series = series
		}
	}

	c.snap.Status = StatusReady
	c.snap.Error = ""
	c.snap.Stale = false
	c.snap.UpdatedAt = c.opts.Now()
}

// applyError must be called with c.mu held. Values from the last
// successful fetch are kept and marked stale.
func (c *Card) applyError(err error) {
	c.logger.Warn("fetch failed", zap.String("url", c.snap.URL), zap.Error(err))
	c.snap.Status = StatusError
	c.snap.Error = source.UserFriendlyMessage(err)
	c.snap.Stale = c.snap.HasData()
}

func (c *Card) emit() {
	c.emitMu.Lock()
	defer c.emitMu.Unlock()

	c.mu.Lock()
	listeners := slices.Clone(c.listeners)
	snap := c.snap.clone()
	c.mu.Unlock()

	for _, fn := range listeners {
		fn(snap)
	}
}
