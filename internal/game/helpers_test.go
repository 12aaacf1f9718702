/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package game

import (
	"fmt"
	"sync"
	"time"
)

type sent struct {
	game   string
	player string
	ev     Event
}

// recorder is a Notifier that keeps everything it is handed.
type recorder struct {
	mu   sync.Mutex
	msgs []sent
}

func (r *recorder) Notify(gameID, playerID string, ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, sent{game: gameID, player: playerID, ev: ev})
}

func (r *recorder) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = nil
}

// to returns the events delivered to playerID, oldest first.
func (r *recorder) to(playerID string) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []Event
	for _, m := range r.msgs {
		if m.player == playerID {
			out = append(out, m.ev)
		}
	}
	return out
}

// named returns the events named name delivered to playerID.
func (r *recorder) named(playerID, name string) []Event {
	var out []Event
	for _, ev := range r.to(playerID) {
		if ev.EventName() == name {
			out = append(out, ev)
		}
	}
	return out
}

func (r *recorder) last(playerID, name string) Event {
	evs := r.named(playerID, name)
	if len(evs) == 0 {
		return nil
	}
	return evs[len(evs)-1]
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 1, 2, 15, 4, 5, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// identity leaves the order of students untouched.
func identity(int, func(i, j int)) {}

func sequentialIDs(prefix string) func() (string, error) {
	n := 0
	return func() (string, error) {
		n++
		return fmt.Sprintf("%s%03d", prefix, n), nil
	}
}

type fixture struct {
	rec      *recorder
	clock    *fakeClock
	registry *Registry
	session  *Session
	host     string
	students []string
}

// newFixture hosts a game and registers n students s1..sn in join order.
// Groups are formed in that order.
func newFixture(n int) *fixture {
	f := &fixture{
		rec:   &recorder{},
		clock: newFakeClock(),
		host:  "host",
	}
	f.registry = NewRegistry(f.rec,
		WithClock(f.clock.Now),
		WithIDGenerator(sequentialIDs("G")),
		WithAssigner(NewAssigner(identity)))

	s, err := f.registry.Host(f.host, "Instructor Lee")
	if err != nil {
		panic(err)
	}
	f.session = s

	for i := 1; i <= n; i++ {
		id := fmt.Sprintf("s%d", i)
		if err := s.Register(id, Registration{Role: RoleStudent, Name: fmt.Sprintf("Student %d", i)}); err != nil {
			panic(err)
		}
		f.students = append(f.students, id)
	}

	return f
}

func (f *fixture) start(cfg Config) error {
	return f.session.StartGame(f.host, cfg)
}

func (f *fixture) contributeAll(amounts ...int) {
	for i, a := range amounts {
		if err := f.session.SubmitContribution(f.students[i], a); err != nil {
			panic(err)
		}
	}
}

func (f *fixture) player(id string) Player {
	return f.session.Snapshot().Players[id]
}

func intPtr(v int) *int { return &v }
