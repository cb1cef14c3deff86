package mqtt

import (
	"errors"
	"sync"
	"testing"

	"github.com/AaronLay10/propmodel/internal/definition"
	"github.com/AaronLay10/propmodel/internal/events"
	"github.com/AaronLay10/propmodel/internal/session"
)

type recordedSet struct {
	name   string
	value  float64
	source string
}

type recordingSetter struct {
	mu   sync.Mutex
	sets []recordedSet
}

func (r *recordingSetter) Set(name string, value float64, source string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sets = append(r.sets, recordedSet{name, value, source})
	return nil
}

func countRejected() int {
	n := 0
	for _, e := range events.Snapshot() {
		if e.Name == "property.rejected" {
			n++
		}
	}
	return n
}

func newTestSubscriber(t *testing.T) (*mockConn, *Registry, *recordingSetter, *SetSubscriber) {
	t.Helper()
	conn := newMockConn()
	reg := NewRegistry("m")
	reg.Rebuild([]string{"A", "B"})
	setter := &recordingSetter{}
	sub := NewSetSubscriber(conn, reg, setter)
	if err := sub.Subscribe(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return conn, reg, setter, sub
}

func TestSetSubscriber_Subscribe(t *testing.T) {
	conn, _, _, sub := newTestSubscriber(t)

	if _, ok := conn.subscriptions["m/set/+"]; !ok {
		t.Error("expected wildcard subscription")
	}
	if !sub.IsSubscribed() {
		t.Error("expected subscriber to track subscription")
	}
}

func TestSetSubscriber_Idempotent(t *testing.T) {
	conn, _, _, sub := newTestSubscriber(t)

	_ = sub.Subscribe()
	_ = sub.Subscribe()
	if conn.subscribes != 1 {
		t.Errorf("expected 1 subscribe call, got %d", conn.subscribes)
	}

	sub.Resubscribe()
	if conn.subscribes != 2 {
		t.Errorf("expected resubscribe to re-issue, got %d calls", conn.subscribes)
	}
}

func TestSetSubscriber_SubscribeError(t *testing.T) {
	conn := newMockConn()
	conn.subscribeErr = errors.New("denied")
	sub := NewSetSubscriber(conn, NewRegistry("m"), &recordingSetter{})

	if err := sub.Subscribe(); err == nil {
		t.Fatal("expected error")
	}
	if sub.IsSubscribed() {
		t.Error("expected subscription not tracked after failure")
	}
}

func TestSetSubscriber_AppliesWrites(t *testing.T) {
	conn, _, setter, _ := newTestSubscriber(t)

	conn.deliver("m/set/+", "m/set/A", []byte("5"))
	conn.deliver("m/set/+", "m/set/B", []byte(`"2.5"`))

	want := []recordedSet{{"A", 5, "mqtt"}, {"B", 2.5, "mqtt"}}
	if len(setter.sets) != len(want) {
		t.Fatalf("expected %d writes, got %d", len(want), len(setter.sets))
	}
	for i := range want {
		if setter.sets[i] != want[i] {
			t.Errorf("write %d: got %+v, want %+v", i, setter.sets[i], want[i])
		}
	}
}

func TestSetSubscriber_RejectsBadMessages(t *testing.T) {
	events.Clear()
	conn, _, setter, _ := newTestSubscriber(t)

	conn.deliver("m/set/+", "m/set/Z", []byte("1"))
	conn.deliver("m/set/+", "m/set/A", []byte("open"))
	conn.deliver("m/set/+", "m/set/A", []byte(""))

	if len(setter.sets) != 0 {
		t.Errorf("expected no writes, got %+v", setter.sets)
	}
	if got := countRejected(); got != 3 {
		t.Errorf("expected 3 property.rejected events, got %d", got)
	}
}

func TestParseValue(t *testing.T) {
	tests := []struct {
		payload string
		want    float64
		wantErr bool
	}{
		{payload: "7", want: 7},
		{payload: " -1.5 \n", want: -1.5},
		{payload: "1e3", want: 1000},
		{payload: `"42"`, want: 42},
		{payload: `{"value": 3}`, want: 3},
		{payload: "+8", want: 8},
		{payload: `{"v": 3}`, wantErr: true},
		{payload: `"abc"`, wantErr: true},
		{payload: "true", wantErr: true},
		{payload: "[1]", wantErr: true},
		{payload: "NaN", wantErr: true},
		{payload: "Inf", wantErr: true},
		{payload: "", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.payload, func(t *testing.T) {
			got, err := ParseValue([]byte(tt.payload))
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseValue(%q) error = %v, wantErr %v", tt.payload, err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("ParseValue(%q) = %v, want %v", tt.payload, got, tt.want)
			}
		})
	}
}

func TestBridgeRoundTrip(t *testing.T) {
	events.Clear()
	s, err := session.New(definition.Example())
	if err != nil {
		t.Fatalf("session.New: %v", err)
	}

	conn := newMockConn()
	reg := NewRegistry("propmodel/abc")
	reg.Rebuild(s.Names())
	s.AddPublisher(NewStatePublisher(conn, reg))
	sub := NewSetSubscriber(conn, reg, s)
	if err := sub.Subscribe(); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	if got := len(conn.messages()); got != 3 {
		t.Fatalf("expected initial publish of 3 values, got %d", got)
	}

	conn.deliver(reg.SetWildcard(), reg.SetTopic("A"), []byte("5"))

	msgs := conn.messages()[3:]
	want := []publishedMessage{
		{topic: "propmodel/abc/state/A", retained: true, payload: "5"},
		{topic: "propmodel/abc/state/C", retained: true, payload: "7"},
	}
	if len(msgs) != len(want) {
		t.Fatalf("expected %d publishes, got %+v", len(want), msgs)
	}
	for i := range want {
		if msgs[i] != want[i] {
			t.Errorf("publish %d: got %+v, want %+v", i, msgs[i], want[i])
		}
	}
}
