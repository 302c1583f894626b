package blockdown

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/livetemplate/blockdown/internal/livemetrics"
	"github.com/livetemplate/blockdown/internal/source"
	"github.com/livetemplate/blockdown/internal/state"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// PageBlockID addresses page-level actions in a MessageEnvelope.
const PageBlockID = "_page"

// ErrUnknownBlock is returned for actions addressed to a block the page
// does not have.
var ErrUnknownBlock = errors.New("unknown block")

// SessionOptions configures a Session.
type SessionOptions struct {
	Fetcher source.Fetcher
	Logger  *zap.Logger
	Now     func() time.Time
}

// Session is one viewer's live state of a page: the shared-state store
// written by dropdowns and the live-metric cards that read it.
type Session struct {
	ID string

	page      *Page
	store     *state.Store
	dropdowns map[string]*DropdownBlock
	cards     []*livemetrics.Card
	byBlock   map[string][]*livemetrics.Card
	logger    *zap.Logger
}

// NewSession declares every dropdown's state key, applies default
// selections and creates one card per card configuration.
func NewSession(page *Page, opts SessionOptions) *Session {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	s := &Session{
		ID:        uuid.NewString(),
		page:      page,
		store:     state.NewStore(),
		dropdowns: make(map[string]*DropdownBlock),
		byBlock:   make(map[string][]*livemetrics.Card),
	}
	s.logger = opts.Logger.Named("session").With(zap.String("page", page.Slug), zap.String("session", s.ID))

	for _, d := range page.Dropdowns() {
		s.dropdowns[d.ID] = d
		if err := s.store.Declare(d.StateKey, d.ID); err != nil {
			// The first dropdown keeps the key; this one can never write it.
			s.logger.Warn("duplicate state key", zap.String("key", d.StateKey), zap.String("block", d.ID), zap.Error(err))
			continue
		}
		if vals := d.DefaultValues(); len(vals) > 0 {
			_ = s.store.Set(d.ID, d.StateKey, selection(d, vals))
		}
	}

	cardOpts := livemetrics.Options{Fetcher: opts.Fetcher, State: s.store, Logger: opts.Logger, Now: opts.Now}
	Walk(page.Blocks, func(b Block) {
		switch b := b.(type) {
		case *LiveMetricsBlock:
			s.addCard(b.ID, livemetrics.NewCard(b.ID, b.Card, cardOpts))
		case *LiveMetricsRowBlock:
			for i, cfg := range b.Cards {
				id := fmt.Sprintf("%s-%d", b.ID, i)
				s.addCard(b.ID, livemetrics.NewCard(id, cfg, cardOpts))
			}
		}
	})
	return s
}

func (s *Session) addCard(blockID string, c *livemetrics.Card) {
	s.cards = append(s.cards, c)
	s.byBlock[blockID] = append(s.byBlock[blockID], c)
}

func selection(d *DropdownBlock, vals []string) any {
	if d.Multiple {
		return vals
	}
	return vals[0]
}

func (s *Session) Page() *Page { return s.page }
func (s *Session) Store() *state.Store { return s.store }

// Cards returns the session's cards in page order.
func (s *Session) Cards() []*livemetrics.Card { return s.cards }

// OnUpdate registers fn with every card.
func (s *Session) OnUpdate(fn func(livemetrics.Snapshot)) {
	for _, c := range s.cards {
		c.OnUpdate(fn)
	}
}

// Snapshots returns the current state of every card.
func (s *Session) Snapshots() []livemetrics.Snapshot {
	out := make([]livemetrics.Snapshot, len(s.cards))
	for i, c := range s.cards {
		out[i] = c.Snapshot()
	}
	return out
}

// Run drives every card until ctx is done.
func (s *Session) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, c := range s.cards {
		g.Go(func() error { return c.Run(gctx) })
	}
	return g.Wait()
}

// Refresh evaluates every card once, concurrently, and returns the
// snapshots in page order.
func (s *Session) Refresh(ctx context.Context) []livemetrics.Snapshot {
	out := make([]livemetrics.Snapshot, len(s.cards))
	var g errgroup.Group
	for i, c := range s.cards {
		g.Go(func() error {
			out[i] = c.Refresh(ctx)
			return nil
		})
	}
	_ = g.Wait()
	return out
}

// Select writes a dropdown's selection. value is a string, a list of
// strings, or nil to clear.
func (s *Session) Select(blockID string, value any) error {
	d, ok := s.dropdowns[blockID]
	if !ok {
		return fmt.Errorf("%w: %s is not a dropdown", ErrUnknownBlock, blockID)
	}

	vals, err := selectionValues(value)
	if err != nil {
		return err
	}
	if len(vals) > 1 && !d.Multiple {
		return fmt.Errorf("dropdown %s accepts a single value", d.StateKey)
	}
	for _, v := range vals {
		if !d.HasOption(v) {
			return fmt.Errorf("%q is not an option of %s", v, d.StateKey)
		}
	}
	if len(vals) == 0 {
		return s.store.Set(d.ID, d.StateKey, nil)
	}
	return s.store.Set(d.ID, d.StateKey, selection(d, vals))
}

// SelectKey is Select addressed by state key. Multi-select values are
// comma separated.
func (s *Session) SelectKey(key, value string) error {
	owner, ok := s.store.Owner(key)
	if !ok {
		return fmt.Errorf("%w: no dropdown declares %q", ErrUnknownBlock, key)
	}
	if d := s.dropdowns[owner]; d != nil && d.Multiple {
		return s.Select(owner, splitList(value))
	}
	return s.Select(owner, value)
}

func selectionValues(value any) ([]string, error) {
	switch v := value.(type) {
	case nil:
		return nil, nil
	case string:
		if v == "" {
			return nil, nil
		}
		return []string{v}, nil
	case []string:
		return v, nil
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			str, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("selection values must be strings, got %T", item)
			}
			out = append(out, str)
		}
		return out, nil
	}
	return nil, fmt.Errorf("selection must be a string or a list of strings, got %T", value)
}

// RefreshBlock schedules a re-fetch of the cards of a live-metrics block.
func (s *Session) RefreshBlock(blockID string) error {
	cards, ok := s.byBlock[blockID]
	if !ok {
		return fmt.Errorf("%w: %s has no cards", ErrUnknownBlock, blockID)
	}
	for _, c := range cards {
		c.Trigger()
	}
	return nil
}

// Reset clears every selection.
func (s *Session) Reset() {
	s.store.Reset()
}

// MessageEnvelope is a client action addressed to a block.
type MessageEnvelope struct {
	BlockID string          `json:"blockID"`
	Action  string          `json:"action"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// ResponseEnvelope acknowledges a MessageEnvelope.
type ResponseEnvelope struct {
	BlockID string         `json:"blockID"`
	Meta    map[string]any `json:"meta"`
}

// MessageRouter routes client actions to a session.
type MessageRouter struct {
	session *Session
}

// NewMessageRouter creates a router for s.
func NewMessageRouter(s *Session) *MessageRouter {
	return &MessageRouter{session: s}
}

// Route applies an action. Failed actions are reported in the response;
// the error is reserved for envelopes addressed to unknown blocks.
func (mr *MessageRouter) Route(env *MessageEnvelope) (*ResponseEnvelope, error) {
	if env.BlockID == PageBlockID {
		return respond(env, mr.routePageAction(env)), nil
	}
	if _, ok := mr.session.dropdowns[env.BlockID]; ok {
		return respond(env, mr.routeDropdown(env)), nil
	}
	if _, ok := mr.session.byBlock[env.BlockID]; ok {
		if env.Action != "refresh" {
			return respond(env, fmt.Errorf("unknown card action: %s", env.Action)), nil
		}
		return respond(env, mr.session.RefreshBlock(env.BlockID)), nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownBlock, env.BlockID)
}

func (mr *MessageRouter) routePageAction(env *MessageEnvelope) error {
	switch env.Action {
	case "reset":
		mr.session.Reset()
		return nil
	case "refresh":
		for _, c := range mr.session.cards {
			c.Trigger()
		}
		return nil
	}
	return fmt.Errorf("unknown page action: %s", env.Action)
}

func (mr *MessageRouter) routeDropdown(env *MessageEnvelope) error {
	if env.Action != "select" {
		return fmt.Errorf("unknown dropdown action: %s", env.Action)
	}
	var data struct {
		Value any `json:"value"`
	}
	if len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, &data); err != nil {
			return fmt.Errorf("invalid select data: %w", err)
		}
	}
	return mr.session.Select(env.BlockID, data.Value)
}

func respond(env *MessageEnvelope, err error) *ResponseEnvelope {
	if err != nil {
		return &ResponseEnvelope{
			BlockID: env.BlockID,
			Meta:    map[string]any{"success": false, "error": err.Error()},
		}
	}
	return &ResponseEnvelope{
		BlockID: env.BlockID,
		Meta:    map[string]any{"success": true},
	}
}
