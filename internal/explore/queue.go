package explore

import (
	"container/heap"
	"sync"

	"go.uber.org/zap"

	"screenscout/internal/classify"
	"screenscout/internal/config"
	"screenscout/internal/ui"
)

// WorkKind discriminates the queued action variants.
type WorkKind string

const (
	WorkTap    WorkKind = "tap"
	WorkScroll WorkKind = "scroll"
)

// WorkItem is a single queued candidate action. Many items may reference the
// same screen; items are consumed and discarded by the control loop.
type WorkItem struct {
	Kind     WorkKind  `json:"kind"`
	ScreenID string    `json:"screen_id"`
	TargetID string    `json:"target_id"` // element or container ID
	Priority int       `json:"priority"`
	Bounds   ui.Bounds `json:"bounds"`
}

type queuedItem struct {
	WorkItem
	seq int // insertion order, breaks priority ties
}

type workHeap []queuedItem

func (h workHeap) Len() int { return len(h) }
func (h workHeap) Less(i, j int) bool {
	if h[i].Priority != h[j].Priority {
		return h[i].Priority > h[j].Priority
	}
	return h[i].seq < h[j].seq
}
func (h workHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *workHeap) Push(x interface{}) { *h = append(*h, x.(queuedItem)) }
func (h *workHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// WorkQueue is the shared priority queue of exploration targets. Higher
// priority pops sooner; ties pop in insertion order.
type WorkQueue struct {
	mu    sync.Mutex
	items workHeap
	seq   int
}

func NewWorkQueue() *WorkQueue {
	return &WorkQueue{}
}

// Push adds an item to the queue.
func (q *WorkQueue) Push(item WorkItem) {
	q.mu.Lock()
	defer q.mu.Unlock()
	heap.Push(&q.items, queuedItem{WorkItem: item, seq: q.seq})
	q.seq++
}

// Pop removes and returns the highest-priority item.
func (q *WorkQueue) Pop() (WorkItem, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return WorkItem{}, false
	}
	item := heap.Pop(&q.items).(queuedItem)
	return item.WorkItem, true
}

// Len returns the number of pending items.
func (q *WorkQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Reset drops all pending items.
func (q *WorkQueue) Reset() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = nil
	q.seq = 0
}

// QueueReport aggregates the outcome of one Build call.
type QueueReport struct {
	ElementsQueued       int  `json:"elements_queued"`
	ContainersQueued     int  `json:"containers_queued"`
	SkippedVisited       int  `json:"skipped_visited"`
	SkippedExcluded      int  `json:"skipped_excluded"`
	SkippedLowPriority   int  `json:"skipped_low_priority"`
	SkippedAlreadyQueued bool `json:"skipped_already_queued"`
}

// Builder turns captured screens into prioritized work items. It tracks which
// screens were already queued and which (screen, element) pairs were already
// attempted so fully-explored screens are never requeued.
type Builder struct {
	cfg    config.ExplorerConfig
	filter *Filter
	log    *zap.Logger

	mu      sync.Mutex
	queued  map[string]bool // screenID -> queued at least once
	visited map[string]bool // ui.VisitKey(screenID, elementID)
}

func NewBuilder(cfg config.ExplorerConfig, filter *Filter, log *zap.Logger) *Builder {
	if log == nil {
		log = zap.NewNop()
	}
	return &Builder{
		cfg:     cfg,
		filter:  filter,
		log:     log.With(zap.String("component", "queue_builder")),
		queued:  make(map[string]bool),
		visited: make(map[string]bool),
	}
}

// MarkVisited records that an element of a screen has been attempted.
func (b *Builder) MarkVisited(screenID, elementID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.visited[ui.VisitKey(screenID, elementID)] = true
}

// Visited reports whether the element was already attempted.
func (b *Builder) Visited(screenID, elementID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.visited[ui.VisitKey(screenID, elementID)]
}

// UnexploredCount returns how many clickable elements of the screen have not
// been attempted yet.
func (b *Builder) UnexploredCount(screen *ui.Screen) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, e := range screen.Elements {
		if !b.visited[ui.VisitKey(screen.ID, e.ID)] {
			n++
		}
	}
	return n
}

// Reset clears all queued/visited state for a new session.
func (b *Builder) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.queued = make(map[string]bool)
	b.visited = make(map[string]bool)
}

// Build enqueues the screen's eligible elements and scroll containers.
//
// A screen already queued once is requeued only if at least one element lacks
// a visited key; this allows partially-explored screens (e.g. after a scroll
// reveals new elements) while preventing unbounded requeuing.
func (b *Builder) Build(screen *ui.Screen, queue *WorkQueue) QueueReport {
	var report QueueReport

	b.mu.Lock()
	alreadyQueued := b.queued[screen.ID]
	hasUnvisited := false
	for _, e := range screen.Elements {
		if !b.visited[ui.VisitKey(screen.ID, e.ID)] {
			hasUnvisited = true
			break
		}
	}
	b.mu.Unlock()

	if alreadyQueued && !hasUnvisited {
		report.SkippedAlreadyQueued = true
		return report
	}

	if b.isLowValueScreen(screen) {
		b.log.Info("skipping low-value screen",
			zap.String("screen", screen.ID),
			zap.String("activity", screen.Activity))
		b.markQueued(screen.ID)
		return report
	}

	deep := b.cfg.Mode == config.ModeDeep
	quick := b.cfg.Mode == config.ModeQuick

	for _, e := range screen.Elements {
		if b.Visited(screen.ID, e.ID) {
			report.SkippedVisited++
			continue
		}

		var dec Decision
		if deep {
			dec = b.filter.DecideDeep(screen, e)
		} else {
			dec = b.filter.Decide(screen, e)
		}
		if dec.Exclude {
			report.SkippedExcluded++
			continue
		}

		// Quick mode only discovers reachable surfaces; content taps are
		// dropped as not worth their cost.
		if quick && !classify.IsNavigationHint(e, b.filter.geo.ScreenWidth, b.filter.geo.ScreenHeight) {
			report.SkippedLowPriority++
			continue
		}

		if b.filter.scorer != nil && b.filter.scorer.ShouldSkip(screen.ID, e.ActionKey()) {
			report.SkippedLowPriority++
			continue
		}

		queue.Push(WorkItem{
			Kind:     WorkTap,
			ScreenID: screen.ID,
			TargetID: e.ID,
			Priority: dec.Priority,
			Bounds:   e.Bounds,
		})
		report.ElementsQueued++
	}

	if !quick {
		for _, c := range screen.Containers {
			if c.FullyScrolled && !deep {
				continue
			}
			queue.Push(WorkItem{
				Kind:     WorkScroll,
				ScreenID: screen.ID,
				TargetID: c.ID,
				Priority: b.filter.ContainerPriority(c),
				Bounds:   c.Bounds,
			})
			report.ContainersQueued++
		}
	}

	b.markQueued(screen.ID)
	b.log.Debug("screen queued",
		zap.String("screen", screen.ID),
		zap.Int("elements", report.ElementsQueued),
		zap.Int("containers", report.ContainersQueued),
		zap.Int("excluded", report.SkippedExcluded))
	return report
}

func (b *Builder) markQueued(screenID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.queued[screenID] = true
}

// isLowValueScreen bounds wasted effort on meta/legal screens and keeps the
// bot away from login forms. Content-rich pages that merely share vocabulary
// are not over-triggered thanks to the clickable-count bound.
func (b *Builder) isLowValueScreen(screen *ui.Screen) bool {
	texts := make([]string, 0, len(screen.TextElements))
	for _, t := range screen.TextElements {
		texts = append(texts, t.Text)
	}

	if classify.LoginKeywordCount(texts) >= b.cfg.LoginKeywordThreshold &&
		len(screen.Elements) <= b.cfg.LowValueMaxClickables {
		return true
	}

	metaLike := classify.IsLowValueActivity(screen.Activity) ||
		classify.MetaKeywordCount(texts) >= b.cfg.MetaKeywordThreshold
	return metaLike && len(screen.Elements) <= b.cfg.LowValueMaxClickables
}
