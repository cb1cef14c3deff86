// Package session serializes access to one bound property model and
// reports every update cycle to events, metrics and publishers.
package session

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/AaronLay10/propmodel/internal/definition"
	"github.com/AaronLay10/propmodel/internal/events"
	"github.com/AaronLay10/propmodel/internal/metrics"
	"github.com/AaronLay10/propmodel/internal/orchestrator"
)

var (
	ErrUnknownProperty   = errors.New("unknown property")
	ErrUnknownConstraint = errors.New("unknown constraint")
	ErrInvalidValue      = errors.New("value is not a finite number")
)

// Publisher receives property values that changed in a completed update.
// Calls arrive in update order, without the session lock held, and must
// not call back into the session.
type Publisher interface {
	Publish(changed map[string]float64)
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(changed map[string]float64)

func (f PublisherFunc) Publish(changed map[string]float64) { f(changed) }

// ConstraintUpdate carries the fields of a constraint change. Nil fields
// are left alone.
type ConstraintUpdate struct {
	Enabled    *bool
	Importance *uint
}

// Session owns one model instance.
type Session struct {
	mu   sync.Mutex
	id   string
	inst *definition.Instance
	opts []orchestrator.Option

	cycled    bool
	published map[string]float64

	// pubOrder is taken before mu is released and held until the
	// publishers return, so publishes leave in update order.
	pubOrder sync.Mutex

	pubMu      sync.RWMutex
	publishers []Publisher
}

// New binds def, plans it once and starts a session. An unplannable model
// still yields a session so constraints can be changed to recover.
func New(def *definition.Definition, opts ...orchestrator.Option) (*Session, error) {
	inst, err := definition.Bind(def, opts...)
	if err != nil {
		return nil, err
	}
	s := &Session{opts: opts}

	s.mu.Lock()
	s.install(inst)
	events.Emit("info", "model.loaded", "", map[string]interface{}{
		"model":       def.Model.Name,
		"properties":  len(def.Properties),
		"constraints": len(def.Constraints),
	})
	changed, err := s.afterCycle("startup", inst.Model().Refresh())
	s.mu.Unlock()

	if err != nil && !errors.Is(err, orchestrator.ErrUnplannable) {
		return nil, err
	}
	s.publish(changed)
	return s, nil
}

// install swaps in a new instance under a fresh session id. Caller holds mu.
func (s *Session) install(inst *definition.Instance) {
	inst.Model().RegisterCallback(func() { s.cycled = true })
	s.cycled = false
	s.inst = inst
	s.id = uuid.New().String()
	s.published = nil
	events.SetSessionID(s.id)
}

// ID returns the session id. It changes on every reload.
func (s *Session) ID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id
}

// Name returns the model name.
func (s *Session) Name() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inst.Definition().Model.Name
}

// AddPublisher registers p and hands it every current value.
func (s *Session) AddPublisher(p Publisher) {
	s.pubMu.Lock()
	s.publishers = append(s.publishers, p)
	s.pubMu.Unlock()

	s.mu.Lock()
	values := s.inst.Values()
	s.pubOrder.Lock()
	s.mu.Unlock()
	defer s.pubOrder.Unlock()
	p.Publish(values)
}

// Publishers returns the registered publishers.
func (s *Session) Publishers() []Publisher {
	s.pubMu.RLock()
	defer s.pubMu.RUnlock()
	return append([]Publisher(nil), s.publishers...)
}

func (s *Session) publish(changed map[string]float64) {
	if len(changed) == 0 {
		return
	}
	for _, p := range s.Publishers() {
		p.Publish(changed)
	}
}

// Set writes one property and runs the resulting update.
func (s *Session) Set(name string, value float64, source string) error {
	return s.SetMany(map[string]float64{name: value}, source)
}

// SetMany writes several properties as one batch planned once. Names are
// checked before anything is written. Writes are applied in name order.
func (s *Session) SetMany(values map[string]float64, source string) error {
	s.mu.Lock()
	names := make([]string, 0, len(values))
	for name := range values {
		if _, ok := s.inst.Property(name); !ok {
			s.mu.Unlock()
			events.Emit("warn", "property.rejected", "", map[string]interface{}{
				"property": name,
				"source":   source,
				"reason":   "unknown property",
			})
			return fmt.Errorf("%w: %q", ErrUnknownProperty, name)
		}
		if v := values[name]; math.IsNaN(v) || math.IsInf(v, 0) {
			s.mu.Unlock()
			events.Emit("warn", "property.rejected", "", map[string]interface{}{
				"property": name,
				"source":   source,
				"reason":   "not a finite number",
			})
			return fmt.Errorf("%w: %q", ErrInvalidValue, name)
		}
		names = append(names, name)
	}
	sort.Strings(names)

	model := s.inst.Model()
	unfreeze := model.Freeze()
	for _, name := range names {
		// Known name, so Set cannot fail while frozen.
		_ = s.inst.Set(name, values[name])
		metrics.RecordPropertyWrite(s.inst.Definition().Model.Name, source)
	}
	err := unfreeze()
	changed, err := s.afterCycle(source, err)
	s.pubOrder.Lock()
	s.mu.Unlock()
	defer s.pubOrder.Unlock()

	for _, name := range names {
		events.Emit("info", "property.set", "", map[string]interface{}{
			"property": name,
			"value":    values[name],
			"source":   source,
		})
	}
	s.publish(changed)
	return err
}

// UpdateConstraint changes a constraint's enabled flag and importance in
// one update.
func (s *Session) UpdateConstraint(name string, upd ConstraintUpdate) error {
	s.mu.Lock()
	c, ok := s.inst.Constraint(name)
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrUnknownConstraint, name)
	}

	unfreeze := s.inst.Model().Freeze()
	if upd.Importance != nil {
		_ = c.SetImportance(*upd.Importance)
	}
	if upd.Enabled != nil {
		if *upd.Enabled {
			_ = c.Enable()
		} else {
			_ = c.Disable()
		}
	}
	err := unfreeze()
	changed, err := s.afterCycle("constraint", err)
	fields := map[string]interface{}{
		"constraint": name,
		"enabled":    c.IsEnabled(),
		"importance": c.Importance(),
		"fulfilled":  c.IsFulfilled(),
	}
	s.pubOrder.Lock()
	s.mu.Unlock()
	defer s.pubOrder.Unlock()

	events.Emit("info", "constraint.updated", "", fields)
	s.publish(changed)
	return err
}

// Refresh plans and executes the model without any write.
func (s *Session) Refresh() error {
	s.mu.Lock()
	err := s.inst.Model().Refresh()
	changed, err := s.afterCycle("refresh", err)
	s.pubOrder.Lock()
	s.mu.Unlock()
	defer s.pubOrder.Unlock()

	s.publish(changed)
	return err
}

// Reload replaces the model with def. Values of properties whose names
// survive are carried over, oldest write first, so recency is kept; the
// new model is planned once. A definition that fails to bind leaves the
// current model in place.
func (s *Session) Reload(def *definition.Definition) error {
	inst, err := definition.Bind(def, s.opts...)
	if err != nil {
		metrics.RecordReload(false)
		events.Emit("error", "model.invalid", "", map[string]interface{}{
			"model": def.Model.Name,
			"error": err.Error(),
		})
		return err
	}

	s.mu.Lock()
	old := s.inst
	carried := carryOrder(old, inst)

	s.install(inst)
	events.Emit("info", "model.reloaded", "", map[string]interface{}{
		"model":   def.Model.Name,
		"session": s.id,
		"carried": len(carried),
	})

	model := inst.Model()
	unfreeze := model.Freeze()
	for _, name := range carried {
		v, _ := old.Value(name)
		_ = inst.Set(name, v)
	}
	err = unfreeze()
	if err == nil && len(carried) == 0 {
		err = model.Refresh()
	}
	changed, err := s.afterCycle("reload", err)
	s.pubOrder.Lock()
	s.mu.Unlock()
	defer s.pubOrder.Unlock()

	metrics.RecordReload(true)
	s.publish(changed)
	return err
}

// carryOrder returns the names present in both instances, least recently
// written in old first.
func carryOrder(old, next *definition.Instance) []string {
	type entry struct {
		name  string
		stamp uint64
	}
	var entries []entry
	for _, name := range old.Names() {
		if _, ok := next.Property(name); !ok {
			continue
		}
		id, _ := old.Property(name)
		entries = append(entries, entry{name: name, stamp: old.Model().LastWrite(id)})
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].stamp < entries[j].stamp
	})
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.name
	}
	return out
}

// afterCycle reports the outcome of the update just attempted and returns
// the values that changed since the last publish. Caller holds mu.
func (s *Session) afterCycle(source string, err error) (map[string]float64, error) {
	model := s.inst.Model()
	name := s.inst.Definition().Model.Name

	for _, evalErr := range s.inst.TakeEvalErrors() {
		events.Emit("error", "system.error", "method evaluation failed", map[string]interface{}{
			"model": name,
			"error": evalErr.Error(),
		})
	}

	if err != nil {
		outcome := "invalid"
		if errors.Is(err, orchestrator.ErrUnplannable) {
			outcome = "unplannable"
		}
		metrics.RecordCycleFailure(name, outcome)
		events.Emit("error", "plan.failed", "", map[string]interface{}{
			"model":  name,
			"source": source,
			"error":  err.Error(),
		})
		s.cycled = false
		return nil, err
	}

	if !s.cycled {
		// Frozen elsewhere or nothing pending.
		return nil, nil
	}
	s.cycled = false

	cycle := model.LastCycle()
	metrics.RecordCycle(name, cycle.Solver, cycle.Fulfilled, cycle.Duration)
	events.Emit("info", "plan.selected", "", map[string]interface{}{
		"model":       name,
		"solver":      cycle.Solver,
		"steps":       len(cycle.Steps),
		"fulfilled":   cycle.Fulfilled,
		"duration_us": cycle.Duration.Microseconds(),
	})

	values := s.inst.Values()
	changed := make(map[string]float64)
	for k, v := range values {
		if prev, ok := s.published[k]; !ok || prev != v {
			changed[k] = v
		}
	}
	s.published = values

	events.Emit("info", "model.updated", "", map[string]interface{}{
		"model":   name,
		"source":  source,
		"clock":   cycle.Clock,
		"changed": len(changed),
	})
	return changed, nil
}
