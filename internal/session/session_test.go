package session

import (
	"encoding/json"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AaronLay10/propmodel/internal/definition"
	"github.com/AaronLay10/propmodel/internal/events"
	"github.com/AaronLay10/propmodel/internal/orchestrator"
)

type recorder struct {
	mu    sync.Mutex
	calls []map[string]float64
}

func (r *recorder) Publish(changed map[string]float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, changed)
}

func (r *recorder) last() map[string]float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.calls) == 0 {
		return nil
	}
	return r.calls[len(r.calls)-1]
}

func countEvents(name string) int {
	n := 0
	for _, e := range events.Snapshot() {
		if e.Name == name {
			n++
		}
	}
	return n
}

func newExampleSession(t *testing.T) *Session {
	t.Helper()
	events.Clear()
	s, err := New(definition.Example())
	require.NoError(t, err)
	return s
}

func mustParse(t *testing.T, doc string) *definition.Definition {
	t.Helper()
	def, err := definition.Parse([]byte(doc), "yaml")
	require.NoError(t, err)
	return def
}

func TestNewSession(t *testing.T) {
	s := newExampleSession(t)

	_, err := uuid.Parse(s.ID())
	require.NoError(t, err)
	assert.Equal(t, s.ID(), events.SessionID())
	assert.Equal(t, "abc", s.Name())
	assert.Equal(t, map[string]float64{"A": 1, "B": 2, "C": 3}, s.Values())
	assert.Equal(t, []string{"A", "B", "C"}, s.Names())

	assert.Equal(t, 1, countEvents("model.loaded"))
	assert.Equal(t, 1, countEvents("plan.selected"))
	assert.Equal(t, 1, countEvents("model.updated"))
}

func TestSnapshot(t *testing.T) {
	s := newExampleSession(t)
	require.NoError(t, s.Set("A", 5, "test"))

	snap := s.Snapshot()
	assert.Equal(t, s.ID(), snap.Session)
	assert.Equal(t, "abc", snap.Model)
	assert.Equal(t, "idle", snap.State)

	require.Len(t, snap.Properties, 3)
	assert.Equal(t, PropertyState{Name: "A", Value: 5, LastWrite: 1}, snap.Properties[0])
	assert.Equal(t, PropertyState{Name: "C", Value: 7, LastWrite: 0}, snap.Properties[2])

	require.Len(t, snap.Constraints, 1)
	assert.Equal(t, ConstraintState{Name: "ABCConstraint", Importance: 228, Enabled: true, Fulfilled: true, Methods: 3}, snap.Constraints[0])

	assert.Equal(t, "quickplan", snap.Plan.Solver)
	assert.Equal(t, uint64(1), snap.Plan.Clock)
	assert.Equal(t, 1, snap.Plan.Fulfilled)

	var stays []string
	var methods []PlanStep
	for _, step := range snap.Plan.Steps {
		if step.Stay != "" {
			stays = append(stays, step.Stay)
			continue
		}
		methods = append(methods, step)
	}
	assert.ElementsMatch(t, []string{"A", "B"}, stays)
	assert.Equal(t, []PlanStep{{Constraint: "ABCConstraint", Method: 0}}, methods)
	assert.Equal(t, snap.Plan, s.Plan())
}

func TestSetPublishesChangedValues(t *testing.T) {
	s := newExampleSession(t)
	rec := &recorder{}
	s.AddPublisher(rec)
	assert.Equal(t, map[string]float64{"A": 1, "B": 2, "C": 3}, rec.last())
	assert.Len(t, s.Publishers(), 1)

	require.NoError(t, s.Set("A", 5, "test"))
	assert.Equal(t, map[string]float64{"A": 5, "C": 7}, rec.last())

	require.NoError(t, s.Set("C", 10, "test"))
	assert.Equal(t, map[string]float64{"B": 5, "C": 10}, rec.last())
	assert.Equal(t, 2, countEvents("property.set"))
}

func TestSetManyPlansOnce(t *testing.T) {
	s := newExampleSession(t)
	events.Clear()

	require.NoError(t, s.SetMany(map[string]float64{"C": 10, "B": 4}, "test"))
	assert.Equal(t, map[string]float64{"A": 6, "B": 4, "C": 10}, s.Values())
	assert.Equal(t, 1, countEvents("plan.selected"))
	assert.Equal(t, 2, countEvents("property.set"))
}

func TestSetUnknownProperty(t *testing.T) {
	s := newExampleSession(t)
	events.Clear()

	err := s.SetMany(map[string]float64{"A": 9, "Z": 1}, "test")
	assert.ErrorIs(t, err, ErrUnknownProperty)
	assert.Equal(t, map[string]float64{"A": 1, "B": 2, "C": 3}, s.Values())
	assert.Equal(t, 1, countEvents("property.rejected"))
	assert.Equal(t, 0, countEvents("plan.selected"))
}

func TestUpdateConstraint(t *testing.T) {
	s := newExampleSession(t)
	off := false
	on := true

	require.NoError(t, s.UpdateConstraint("ABCConstraint", ConstraintUpdate{Enabled: &off}))
	snap := s.Snapshot()
	assert.False(t, snap.Constraints[0].Enabled)
	assert.False(t, snap.Constraints[0].Fulfilled)

	require.NoError(t, s.Set("A", 100, "test"))
	assert.Equal(t, map[string]float64{"A": 100, "B": 2, "C": 3}, s.Values())

	require.NoError(t, s.UpdateConstraint("ABCConstraint", ConstraintUpdate{Enabled: &on}))
	assert.Equal(t, map[string]float64{"A": 100, "B": 2, "C": 102}, s.Values())

	importance := uint(7)
	require.NoError(t, s.UpdateConstraint("ABCConstraint", ConstraintUpdate{Importance: &importance}))
	assert.Equal(t, uint(7), s.Snapshot().Constraints[0].Importance)
	assert.Equal(t, 3, countEvents("constraint.updated"))

	err := s.UpdateConstraint("nope", ConstraintUpdate{Enabled: &on})
	assert.ErrorIs(t, err, ErrUnknownConstraint)
}

const productYAML = `
version: 1
model: { name: product }
properties:
  - { name: A }
  - { name: B }
  - { name: P }
constraints:
  - name: prod
    methods:
      - { in: [A, B], out: [P], set: { P: "A * B" } }
`

func TestReloadCarriesValues(t *testing.T) {
	s := newExampleSession(t)
	require.NoError(t, s.Set("A", 5, "test"))
	rec := &recorder{}
	s.AddPublisher(rec)
	oldID := s.ID()

	require.NoError(t, s.Reload(mustParse(t, productYAML)))

	assert.NotEqual(t, oldID, s.ID())
	assert.Equal(t, s.ID(), events.SessionID())
	assert.Equal(t, "product", s.Name())
	assert.Equal(t, map[string]float64{"A": 5, "B": 2, "P": 10}, s.Values())
	assert.Equal(t, map[string]float64{"A": 5, "B": 2, "P": 10}, rec.last())
	assert.Equal(t, 1, countEvents("model.reloaded"))

	snap := s.Snapshot()
	assert.Greater(t, snap.Properties[0].LastWrite, snap.Properties[1].LastWrite)
}

func TestReloadInvalidKeepsModel(t *testing.T) {
	s := newExampleSession(t)
	oldID := s.ID()

	bad := definition.Example()
	bad.Version = 2
	err := s.Reload(bad)
	assert.ErrorIs(t, err, definition.ErrInvalidDefinition)
	assert.Equal(t, oldID, s.ID())
	assert.Equal(t, "abc", s.Name())
	assert.Equal(t, 1, countEvents("model.invalid"))
}

const unplannableYAML = `
version: 1
model: { name: knot }
properties:
  - { name: x, initial: 1 }
  - { name: y }
  - { name: z }
constraints:
  - name: split
    methods:
      - { in: [x], out: [y, z], set: { y: "x", z: "x" } }
      - { in: [y], out: [x], set: { x: "y" } }
`

func TestUnplannableModel(t *testing.T) {
	events.Clear()
	s, err := New(mustParse(t, unplannableYAML))
	require.NoError(t, err)
	assert.Equal(t, "", s.Plan().Solver)
	assert.Equal(t, 1, countEvents("plan.failed"))

	err = s.Set("x", 4, "test")
	assert.ErrorIs(t, err, orchestrator.ErrUnplannable)
	assert.Equal(t, 2, countEvents("plan.failed"))

	off := false
	require.NoError(t, s.UpdateConstraint("split", ConstraintUpdate{Enabled: &off}))
	assert.NotEmpty(t, s.Plan().Solver)
	assert.Equal(t, float64(4), s.Values()["x"])
}

func TestEvalErrorsAreReported(t *testing.T) {
	doc := `
version: 1
model: { name: ratio }
properties:
  - { name: x, initial: 6 }
  - { name: y, initial: 3 }
  - { name: q }
constraints:
  - name: div
    methods:
      - { in: [x, y], out: [q], set: { q: "x / y" } }
`
	events.Clear()
	s, err := New(mustParse(t, doc))
	require.NoError(t, err)
	assert.Equal(t, 0, countEvents("system.error"))

	require.NoError(t, s.Set("y", 0, "test"))
	assert.Equal(t, 1, countEvents("system.error"))
	assert.Equal(t, float64(2), s.Values()["q"])
}

func TestRefresh(t *testing.T) {
	s := newExampleSession(t)
	rec := &recorder{}
	s.AddPublisher(rec)

	require.NoError(t, s.Refresh())
	assert.Len(t, rec.calls, 1, "refresh without changes publishes nothing")
}

func TestPublisherFunc(t *testing.T) {
	s := newExampleSession(t)
	var got map[string]float64
	s.AddPublisher(PublisherFunc(func(changed map[string]float64) { got = changed }))
	require.NoError(t, s.Set("B", 10, "test"))
	assert.Equal(t, map[string]float64{"B": 10, "C": 11}, got)
}

func TestOverflowLeavesOutputUnchanged(t *testing.T) {
	s := newExampleSession(t)

	require.NoError(t, s.SetMany(map[string]float64{"A": 1e308, "B": 1e308}, "test"))
	assert.Equal(t, float64(3), s.Values()["C"])
	assert.Equal(t, 1, countEvents("system.error"))

	_, err := json.Marshal(s.Snapshot())
	assert.NoError(t, err)
}

func TestSetRejectsNonFinite(t *testing.T) {
	s := newExampleSession(t)

	for _, v := range []float64{math.Inf(1), math.Inf(-1), math.NaN()} {
		err := s.Set("A", v, "test")
		assert.ErrorIs(t, err, ErrInvalidValue)
	}
	assert.Equal(t, float64(1), s.Values()["A"])
	assert.Equal(t, 3, countEvents("property.rejected"))
}

func TestConcurrentWritersPublishInOrder(t *testing.T) {
	s := newExampleSession(t)

	entered := make(chan struct{})
	release := make(chan struct{})
	rec := &recorder{}
	s.AddPublisher(PublisherFunc(func(changed map[string]float64) {
		if changed["A"] == 10 {
			close(entered)
			<-release
		}
		rec.Publish(changed)
	}))

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		assert.NoError(t, s.Set("A", 10, "first"))
	}()
	<-entered
	go func() {
		defer wg.Done()
		assert.NoError(t, s.Set("A", 20, "second"))
	}()
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	published := make(map[string]float64)
	for _, changed := range rec.calls {
		for k, v := range changed {
			published[k] = v
		}
	}
	assert.Equal(t, map[string]float64{"A": 20, "B": 2, "C": 22}, published)
	assert.Equal(t, s.Values(), published)
}
