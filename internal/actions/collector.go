package actions

import (
	"sync"

	"github.com/google/uuid"

	"github.com/dshills/codeactions/internal/logging"
	"github.com/dshills/codeactions/internal/lsp"
)

// Reporter records one respondent's results. Only the first call counts.
type Reporter func(results []ActionResult)

// completionPolicy reports, with the collector lock held, whether
// collection has finished and the result set should be delivered.
type completionPolicy func(c *Collector) bool

// explicitCompletion never completes on its own; the owner calls Deliver.
func explicitCompletion(*Collector) bool { return false }

// countCompletion completes once registration is sealed and every
// registered respondent has reported.
func countCompletion(c *Collector) bool {
	return c.sealed && len(c.reported) == len(c.registered)
}

// Collector accumulates the results of one dispatch and hands them to a
// handler exactly once. It moves from pending to delivered and is never
// reused for another request.
type Collector struct {
	mu sync.Mutex

	id       string
	kinds    []lsp.CodeActionKind
	handler  Handler
	complete completionPolicy
	logger   *logging.Logger

	results    ResultSet
	registered map[string]struct{}
	reported   map[string]struct{}
	sealed     bool
	delivered  bool
}

// NewSyncCollector creates a collector that delivers only when Deliver is called.
func NewSyncCollector(kinds []lsp.CodeActionKind, handler Handler, opts ...Option) *Collector {
	return newCollector(explicitCompletion, kinds, handler, buildOptions(opts).logger)
}

// NewAsyncCollector creates a collector that delivers by itself once Seal
// has been called and every registered respondent has reported. Sealing
// with no respondents delivers an empty result set.
func NewAsyncCollector(kinds []lsp.CodeActionKind, handler Handler, opts ...Option) *Collector {
	return newCollector(countCompletion, kinds, handler, buildOptions(opts).logger)
}

func newCollector(policy completionPolicy, kinds []lsp.CodeActionKind, handler Handler, logger *logging.Logger) *Collector {
	id := uuid.NewString()
	return &Collector{
		id:         id,
		kinds:      kinds,
		handler:    handler,
		complete:   policy,
		logger:     logger.WithField("dispatch", id),
		results:    make(ResultSet),
		registered: make(map[string]struct{}),
		reported:   make(map[string]struct{}),
	}
}

// ID returns the dispatch identifier used in logs.
func (c *Collector) ID() string {
	return c.id
}

// Register adds a respondent and returns its reporter. Results passed to
// the reporter are filtered by the collector's kinds before being stored.
func (c *Collector) Register(respondent string) Reporter {
	c.mu.Lock()
	if c.sealed {
		c.mu.Unlock()
		c.logger.Warn("respondent %s registered after seal", respondent)
		return func([]ActionResult) {}
	}
	c.registered[respondent] = struct{}{}
	c.mu.Unlock()

	var once sync.Once
	return func(results []ActionResult) {
		once.Do(func() {
			c.record(respondent, results)
		})
	}
}

func (c *Collector) record(respondent string, results []ActionResult) {
	filtered := FilterByKind(results, c.kinds)
	if filtered == nil {
		filtered = []ActionResult{}
	}

	c.mu.Lock()
	c.results[respondent] = filtered
	c.reported[respondent] = struct{}{}
	snapshot, ok := c.finishLocked()
	late := c.delivered && !ok
	c.mu.Unlock()

	if late {
		c.logger.Debug("late response from %s recorded after delivery", respondent)
	}
	if ok {
		c.emit(snapshot)
	}
}

// Seal ends registration. For an asynchronous collector this may deliver
// immediately when every respondent has already reported, or when none
// was registered.
func (c *Collector) Seal() {
	c.mu.Lock()
	c.sealed = true
	snapshot, ok := c.finishLocked()
	c.mu.Unlock()

	if ok {
		c.emit(snapshot)
	}
}

// finishLocked marks the collector delivered if its policy says it is
// complete, returning the snapshot to hand out.
func (c *Collector) finishLocked() (ResultSet, bool) {
	if c.delivered || !c.complete(c) {
		return nil, false
	}
	c.delivered = true
	return c.snapshotLocked(), true
}

// Deliver hands the current results to the handler. Later calls are
// ignored.
func (c *Collector) Deliver() {
	c.mu.Lock()
	if c.delivered {
		c.mu.Unlock()
		c.logger.Debug("deliver called twice")
		return
	}
	c.delivered = true
	c.sealed = true
	snapshot := c.snapshotLocked()
	c.mu.Unlock()

	c.emit(snapshot)
}

func (c *Collector) emit(snapshot ResultSet) {
	c.logger.Debug("delivering %d results from %d respondents", snapshot.Count(), len(snapshot))
	if c.handler != nil {
		c.handler(snapshot)
	}
}

// Results returns a snapshot of the results recorded so far.
func (c *Collector) Results() ResultSet {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// Delivered reports whether the handler has been called.
func (c *Collector) Delivered() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.delivered
}

// Pending returns the number of registered respondents that have not reported.
func (c *Collector) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.registered) - len(c.reported)
}

func (c *Collector) snapshotLocked() ResultSet {
	out := make(ResultSet, len(c.results))
	for k, v := range c.results {
		out[k] = v
	}
	return out
}

// FilterByKind keeps the results whose kind is exactly one of kinds. With
// no kinds every result passes; otherwise results without a kind are dropped.
func FilterByKind(results []ActionResult, kinds []lsp.CodeActionKind) []ActionResult {
	if len(kinds) == 0 {
		return results
	}

	allowed := make(map[lsp.CodeActionKind]bool, len(kinds))
	for _, k := range kinds {
		allowed[k] = true
	}

	var filtered []ActionResult
	for _, r := range results {
		if r.Kind != "" && allowed[r.Kind] {
			filtered = append(filtered, r)
		}
	}
	return filtered
}
