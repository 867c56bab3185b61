package statusgraph

import (
	"context"
	"fmt"
	"sync"

	"github.com/looplab/fsm"

	"github.com/buildtall-systems/fleabot/internal/db"
)

// Status is a node in a transition graph. Purchasable is only meaningful
// for listing statuses.
type Status struct {
	ID          int64
	Name        string
	DisplayName string
	Purchasable bool
}

// Graph answers "what is the next legal status" and "is this transition
// legal" for the listing graph and the trade graph. Both are loaded from
// their reference tables on first use and cached; administrative edge edits
// call Invalidate so the next lookup sees fresh edges without a restart.
type Graph struct {
	db *db.DB

	mu      sync.Mutex
	listing *chart
	trade   *chart
}

func New(database *db.DB) *Graph {
	return &Graph{db: database}
}

// Invalidate drops the cached graphs. Call after editing transition edges.
func (g *Graph) Invalidate() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.listing = nil
	g.trade = nil
}

// NextListingStatus resolves the successor of a listing status. The second
// return is false when the status has no outgoing edge.
func (g *Graph) NextListingStatus(ctx context.Context, currentID int64) (Status, bool, error) {
	c, err := g.listingChart(ctx)
	if err != nil {
		return Status{}, false, err
	}
	next, ok := c.nextOf(currentID)
	return next, ok, nil
}

// NextTradeStatus resolves the successor of a trade status.
func (g *Graph) NextTradeStatus(ctx context.Context, currentID int64) (Status, bool, error) {
	c, err := g.tradeChart(ctx)
	if err != nil {
		return Status{}, false, err
	}
	next, ok := c.nextOf(currentID)
	return next, ok, nil
}

// ListingTransitionLegal reports whether the edge (from, to) is configured
// in the listing graph.
func (g *Graph) ListingTransitionLegal(ctx context.Context, fromName, toName string) (bool, error) {
	c, err := g.listingChart(ctx)
	if err != nil {
		return false, err
	}
	return c.isLegal(fromName, toName), nil
}

// TradeTransitionLegal reports whether the edge (from, to) is configured
// in the trade graph.
func (g *Graph) TradeTransitionLegal(ctx context.Context, fromName, toName string) (bool, error) {
	c, err := g.tradeChart(ctx)
	if err != nil {
		return false, err
	}
	return c.isLegal(fromName, toName), nil
}

// TradeStartStatus returns the trade chain's start state: the target of the
// entry edge whose from side is NULL. A missing entry edge is a
// configuration error.
func (g *Graph) TradeStartStatus(ctx context.Context) (Status, error) {
	c, err := g.tradeChart(ctx)
	if err != nil {
		return Status{}, err
	}
	if c.startID == 0 {
		return Status{}, fmt.Errorf("trade status graph has no entry edge")
	}
	return c.statuses[c.startID], nil
}

// OrderedTradeStatuses walks the trade chain from the start state and
// returns the statuses in progression order.
func (g *Graph) OrderedTradeStatuses(ctx context.Context) ([]Status, error) {
	c, err := g.tradeChart(ctx)
	if err != nil {
		return nil, err
	}
	if c.startID == 0 {
		return nil, fmt.Errorf("trade status graph has no entry edge")
	}

	var ordered []Status
	seen := make(map[int64]bool)
	current := c.startID
	for {
		if seen[current] {
			return nil, fmt.Errorf("trade status graph has a cycle at %s", c.statuses[current].Name)
		}
		seen[current] = true
		ordered = append(ordered, c.statuses[current])

		next, ok := c.next[current]
		if !ok {
			return ordered, nil
		}
		current = next
	}
}

func (g *Graph) listingChart(ctx context.Context) (*chart, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.listing != nil {
		return g.listing, nil
	}

	statuses, err := g.db.ListListingStatuses(ctx)
	if err != nil {
		return nil, err
	}
	edges, err := g.db.ListListingEdges(ctx)
	if err != nil {
		return nil, err
	}

	nodes := make([]Status, 0, len(statuses))
	for _, s := range statuses {
		nodes = append(nodes, Status{ID: s.ID, Name: s.Name, DisplayName: s.DisplayName, Purchasable: s.Purchasable})
	}
	g.listing = buildChart(nodes, edges)
	return g.listing, nil
}

func (g *Graph) tradeChart(ctx context.Context) (*chart, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.trade != nil {
		return g.trade, nil
	}

	statuses, err := g.db.ListTradeStatuses(ctx)
	if err != nil {
		return nil, err
	}
	edges, err := g.db.ListTradeEdges(ctx)
	if err != nil {
		return nil, err
	}

	nodes := make([]Status, 0, len(statuses))
	for _, s := range statuses {
		nodes = append(nodes, Status{ID: s.ID, Name: s.Name, DisplayName: s.DisplayName})
	}
	g.trade = buildChart(nodes, edges)
	return g.trade, nil
}

// chart is one loaded transition graph. Legality checks go through a
// looplab state machine built from the configured edges.
type chart struct {
	statuses map[int64]Status
	next     map[int64]int64
	startID  int64

	machineMu sync.Mutex
	machine   *fsm.FSM
}

func buildChart(nodes []Status, edges []db.StatusEdge) *chart {
	c := &chart{
		statuses: make(map[int64]Status, len(nodes)),
		next:     make(map[int64]int64),
	}
	for _, n := range nodes {
		c.statuses[n.ID] = n
	}

	var events fsm.Events
	for _, e := range edges {
		if !e.FromID.Valid {
			// Entry edge: marks the chain's start state.
			if c.startID == 0 {
				c.startID = e.ToID
			}
			continue
		}

		from, okFrom := c.statuses[e.FromID.Int64]
		to, okTo := c.statuses[e.ToID]
		if !okFrom || !okTo {
			continue
		}

		// Edges arrive in id order; the first outgoing edge per status
		// wins, which makes the successor deterministic even if the
		// reference data carries more than one.
		if _, exists := c.next[from.ID]; !exists {
			c.next[from.ID] = to.ID
		}

		events = append(events, fsm.EventDesc{
			Name: edgeEvent(from.Name, to.Name),
			Src:  []string{from.Name},
			Dst:  to.Name,
		})
	}

	initial := ""
	if len(nodes) > 0 {
		initial = nodes[0].Name
	}
	c.machine = fsm.NewFSM(initial, events, fsm.Callbacks{})
	return c
}

// nextOf resolves the deterministic successor of a status. An unrecognized
// status id is a configuration bug (every status is enumerated at migration
// time), so it panics rather than returning a recoverable error.
func (c *chart) nextOf(id int64) (Status, bool) {
	if _, known := c.statuses[id]; !known {
		panic(fmt.Sprintf("statusgraph: unknown status id %d", id))
	}
	nextID, ok := c.next[id]
	if !ok {
		return Status{}, false
	}
	return c.statuses[nextID], true
}

func (c *chart) isLegal(fromName, toName string) bool {
	c.machineMu.Lock()
	defer c.machineMu.Unlock()
	c.machine.SetState(fromName)
	return c.machine.Can(edgeEvent(fromName, toName))
}

func edgeEvent(fromName, toName string) string {
	return fromName + "->" + toName
}
