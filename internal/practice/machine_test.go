package practice_test

import (
	"fmt"
	"reflect"
	"testing"

	"github.com/MrWong99/swaracoach/internal/practice"
)

func twoLines() practice.Script {
	return practice.Script{Mode: practice.ModeLine, LineAudio: []string{"a.mp3", "b.mp3"}}
}

// deliver applies ev and every follow-up event, returning all snapshots
// produced along the way.
func deliver(m *practice.Machine, s practice.Snapshot, ev practice.Event) (practice.Snapshot, []practice.Snapshot) {
	var seen []practice.Snapshot
	queue := []practice.Event{ev}
	for len(queue) > 0 {
		r := m.Transition(s, queue[0])
		queue = queue[1:]
		if !r.Changed {
			continue
		}
		s = r.Snapshot
		seen = append(seen, s)
		if r.Next != nil {
			queue = append(queue, *r.Next)
		}
	}
	return s, seen
}

func TestStartAutoAdvancesToAppPlay(t *testing.T) {
	t.Parallel()
	m := practice.NewMachine(twoLines())

	r := m.Transition(m.Initial(3), practice.Start(1))
	if !r.Changed || r.Snapshot.State != practice.StateInit {
		t.Fatalf("START: got %+v, want init", r)
	}
	if r.Next == nil || r.Next.Type != practice.EventInitDone {
		t.Fatalf("START: follow-up = %v, want INIT_DONE", r.Next)
	}
	c := r.Snapshot.Context
	if c.LineIndex != 1 || c.CurrentCycle != 1 || c.RepeatInCycle != 1 || c.RefAudioURL != "b.mp3" || c.TotalLines != 2 {
		t.Errorf("init context = %+v", c)
	}

	s, _ := deliver(m, r.Snapshot, *r.Next)
	if s.State != practice.StateAppPlay {
		t.Errorf("state = %s, want app_play", s.State)
	}
}

func TestUnknownPairsAreNoOps(t *testing.T) {
	t.Parallel()
	m := practice.NewMachine(twoLines())

	transcript := "tat savitur"
	states := map[practice.State]practice.Snapshot{}
	s := m.Initial(3)
	states[s.State] = s
	s, seen := deliver(m, s, practice.Start(0))
	for _, snap := range seen {
		states[snap.State] = snap
	}
	s, _ = deliver(m, s, practice.AppPlayDone())
	states[s.State] = s
	s, _ = deliver(m, s, practice.UserSpokeDone(transcript))
	states[s.State] = s
	// repeat_cycle_check is transient; build it by hand.
	rc := s.Clone()
	rc.State = practice.StateRepeatCycleCheck
	states[rc.State] = rc
	al := s.Clone()
	al.State = practice.StateAdvanceLine
	states[al.State] = al
	done := m.Initial(3)
	done.State = practice.StateSectionComplete
	states[done.State] = done
	failed := m.Initial(3)
	failed.State = practice.StateError
	failed.Context.Failure = &practice.Failure{Message: "boom"}
	states[failed.State] = failed

	allowed := map[practice.State][]practice.EventType{
		practice.StateIdle:             {practice.EventStart},
		practice.StateInit:             {practice.EventInitDone, practice.EventStop, practice.EventError},
		practice.StateAppPlay:          {practice.EventAppPlayDone, practice.EventStop, practice.EventError},
		practice.StateUserRepeat1:      {practice.EventUserSpokeDone, practice.EventStop, practice.EventError},
		practice.StateUserRepeat2:      {practice.EventUserSpokeDone, practice.EventStop, practice.EventError},
		practice.StateRepeatCycleCheck: {practice.EventCycleDone, practice.EventStop, practice.EventError},
		practice.StateAdvanceLine:      {practice.EventNextLine, practice.EventStop, practice.EventError},
		practice.StateSectionComplete:  {practice.EventStart},
		practice.StateError:            {practice.EventStart},
	}
	events := []practice.Event{
		practice.Start(0),
		{Type: practice.EventInitDone},
		practice.AppPlayDone(),
		practice.UserSpokeDone("x"),
		practice.CycleDone(),
		practice.NextLine(),
		practice.Stop(),
		practice.Error("e"),
	}

	for st, snap := range states {
		for _, ev := range events {
			if contains(allowed[st], ev.Type) {
				continue
			}
			t.Run(fmt.Sprintf("%s+%s", st, ev.Type), func(t *testing.T) {
				r := m.Transition(snap, ev)
				if r.Changed || r.Next != nil {
					t.Fatalf("expected no-op, got %+v", r)
				}
				if !reflect.DeepEqual(r.Snapshot, snap) {
					t.Errorf("snapshot changed:\n got %+v\nwant %+v", r.Snapshot, snap)
				}
			})
		}
	}
}

func contains(list []practice.EventType, e practice.EventType) bool {
	for _, v := range list {
		if v == e {
			return true
		}
	}
	return false
}

func TestCyclesPerLine(t *testing.T) {
	t.Parallel()
	for _, n := range practice.ValidCycles {
		t.Run(fmt.Sprint(n), func(t *testing.T) {
			t.Parallel()
			m := practice.NewMachine(practice.Script{LineAudio: []string{"only.mp3"}})
			s, _ := deliver(m, m.Initial(n), practice.Start(0))

			cycles := 0
			for s.State == practice.StateAppPlay {
				cycles++
				if s.Context.CurrentCycle != cycles {
					t.Fatalf("cycle %d: context says %d", cycles, s.Context.CurrentCycle)
				}
				s, _ = deliver(m, s, practice.AppPlayDone())
				if s.State != practice.StateUserRepeat1 || s.Context.RepeatInCycle != 1 {
					t.Fatalf("after playback: %s repeat=%d", s.State, s.Context.RepeatInCycle)
				}
				s, _ = deliver(m, s, practice.UserSpokeDone("one"))
				if s.State != practice.StateUserRepeat2 || s.Context.RepeatInCycle != 2 {
					t.Fatalf("after first repeat: %s repeat=%d", s.State, s.Context.RepeatInCycle)
				}
				var seen []practice.Snapshot
				s, seen = deliver(m, s, practice.UserSpokeDone("two"))
				if seen[0].State != practice.StateRepeatCycleCheck {
					t.Fatalf("after second repeat: %s", seen[0].State)
				}
				if got := seen[0].Context.Transcripts; !reflect.DeepEqual(got, []string{"one", "two"}) {
					t.Fatalf("transcripts = %v", got)
				}
			}
			if cycles != n {
				t.Errorf("executed %d cycles, want %d", cycles, n)
			}
			if s.State != practice.StateSectionComplete {
				t.Errorf("final state = %s, want section_complete", s.State)
			}
		})
	}
}

func TestCycleBoundary(t *testing.T) {
	t.Parallel()
	m := practice.NewMachine(twoLines())
	base := m.Initial(3)
	base.State = practice.StateRepeatCycleCheck
	base.Context.TotalLines = 2
	base.Context.Transcripts = []string{"a", "b"}

	tests := []struct {
		cycle    int
		want     practice.State
		wantNext bool
	}{
		{cycle: 1, want: practice.StateAppPlay},
		{cycle: 2, want: practice.StateAppPlay},
		{cycle: 3, want: practice.StateAdvanceLine, wantNext: true},
	}
	for _, tt := range tests {
		s := base.Clone()
		s.Context.CurrentCycle = tt.cycle
		r := m.Transition(s, practice.CycleDone())
		if r.Snapshot.State != tt.want {
			t.Errorf("cycle %d: state = %s, want %s", tt.cycle, r.Snapshot.State, tt.want)
		}
		if (r.Next != nil) != tt.wantNext {
			t.Errorf("cycle %d: follow-up = %v", tt.cycle, r.Next)
		}
		if tt.want == practice.StateAppPlay {
			if r.Snapshot.Context.CurrentCycle != tt.cycle+1 || r.Snapshot.Context.Transcripts != nil {
				t.Errorf("cycle %d: context = %+v", tt.cycle, r.Snapshot.Context)
			}
		}
	}
}

func TestTwoLineSection(t *testing.T) {
	t.Parallel()
	m := practice.NewMachine(twoLines())
	s, _ := deliver(m, m.Initial(3), practice.Start(0))

	var lines []int
	var urls []string
	for s.State == practice.StateAppPlay {
		lines = append(lines, s.Context.LineIndex)
		urls = append(urls, s.Context.RefAudioURL)
		s, _ = deliver(m, s, practice.AppPlayDone())
		s, _ = deliver(m, s, practice.UserSpokeDone("x"))
		s, _ = deliver(m, s, practice.UserSpokeDoneSilent())
	}

	if want := []int{0, 0, 0, 1, 1, 1}; !reflect.DeepEqual(lines, want) {
		t.Errorf("line sequence = %v, want %v", lines, want)
	}
	if want := []string{"a.mp3", "a.mp3", "a.mp3", "b.mp3", "b.mp3", "b.mp3"}; !reflect.DeepEqual(urls, want) {
		t.Errorf("audio sequence = %v, want %v", urls, want)
	}
	if s.State != practice.StateSectionComplete {
		t.Errorf("final state = %s", s.State)
	}

	// section_complete is absorbing until a new START.
	r := m.Transition(s, practice.AppPlayDone())
	if r.Changed {
		t.Error("section_complete accepted APP_PLAY_DONE")
	}
	s, _ = deliver(m, s, practice.Start(1))
	if s.State != practice.StateAppPlay || s.Context.LineIndex != 1 {
		t.Errorf("restart: %s line %d", s.State, s.Context.LineIndex)
	}
}

func TestStopFromActiveStates(t *testing.T) {
	t.Parallel()
	m := practice.NewMachine(twoLines())
	for _, st := range []practice.State{
		practice.StateInit, practice.StateAppPlay, practice.StateUserRepeat1,
		practice.StateUserRepeat2, practice.StateRepeatCycleCheck, practice.StateAdvanceLine,
	} {
		s := m.Initial(5)
		s.State = st
		s.Context.LineIndex = 1
		s.Context.CurrentCycle = 2
		s.Context.Transcripts = []string{"x"}

		r := m.Transition(s, practice.Stop())
		if r.Snapshot.State != practice.StateIdle {
			t.Errorf("%s + STOP = %s, want idle", st, r.Snapshot.State)
		}
		c := r.Snapshot.Context
		if c.LineIndex != 0 || c.CurrentCycle != 0 || c.Transcripts != nil {
			t.Errorf("%s + STOP kept progress: %+v", st, c)
		}
		if c.TotalCyclesTarget != 5 {
			t.Errorf("%s + STOP lost cycle target: %d", st, c.TotalCyclesTarget)
		}
	}
}

func TestErrorAndRecovery(t *testing.T) {
	t.Parallel()
	m := practice.NewMachine(twoLines())
	s, _ := deliver(m, m.Initial(3), practice.Start(1))
	s, _ = deliver(m, s, practice.AppPlayDone())

	s, _ = deliver(m, s, practice.Error("microphone unavailable"))
	if s.State != practice.StateError {
		t.Fatalf("state = %s", s.State)
	}
	if s.Context.Failure == nil || s.Context.Failure.Message != "microphone unavailable" {
		t.Fatalf("failure = %+v", s.Context.Failure)
	}
	if s.Context.LineIndex != 1 {
		t.Errorf("error state lost line index: %d", s.Context.LineIndex)
	}

	s, _ = deliver(m, s, practice.Start(s.Context.LineIndex))
	if s.State != practice.StateAppPlay || s.Context.Failure != nil {
		t.Errorf("recovery: %s failure=%v", s.State, s.Context.Failure)
	}
}

func TestStartOutOfRange(t *testing.T) {
	t.Parallel()
	m := practice.NewMachine(twoLines())
	for _, line := range []int{-1, 2, 10} {
		r := m.Transition(m.Initial(3), practice.Start(line))
		if r.Snapshot.State != practice.StateError || r.Snapshot.Context.Failure == nil {
			t.Errorf("START(%d) = %+v, want error", line, r.Snapshot)
		}
		if r.Next != nil {
			t.Errorf("START(%d) scheduled %v", line, r.Next)
		}
	}
}

func TestSetCycles(t *testing.T) {
	t.Parallel()
	m := practice.NewMachine(twoLines())
	s := m.Initial(3)

	tests := []struct {
		n       int
		changed bool
		want    int
	}{
		{n: 9, changed: true, want: 9},
		{n: 9, changed: false, want: 9},
		{n: 4, changed: false, want: 9},
		{n: 0, changed: false, want: 9},
		{n: 11, changed: true, want: 11},
	}
	for _, tt := range tests {
		r := m.Transition(s, practice.SetCycles(tt.n))
		if r.Changed != tt.changed {
			t.Errorf("SET_CYCLES(%d) changed = %v, want %v", tt.n, r.Changed, tt.changed)
		}
		s = r.Snapshot
		if s.Context.TotalCyclesTarget != tt.want {
			t.Errorf("SET_CYCLES(%d) target = %d, want %d", tt.n, s.Context.TotalCyclesTarget, tt.want)
		}
	}
}

func TestTransitionDoesNotMutateInput(t *testing.T) {
	t.Parallel()
	m := practice.NewMachine(twoLines())
	s := m.Initial(3)
	s.State = practice.StateUserRepeat2
	s.Context.Transcripts = make([]string, 1, 8)
	s.Context.Transcripts[0] = "first"
	before := s.Clone()

	m.Transition(s, practice.UserSpokeDone("second"))
	if !reflect.DeepEqual(s, before) {
		t.Errorf("input mutated: %+v", s)
	}
	if got := s.Context.Transcripts[:2][1]; got != "" {
		t.Errorf("backing array written: %q", got)
	}
}

func TestActivity(t *testing.T) {
	t.Parallel()
	tests := map[practice.State]practice.Activity{
		practice.StateIdle:             practice.ActivityIdle,
		practice.StateInit:             practice.ActivityIdle,
		practice.StateAppPlay:          practice.ActivityPlaying,
		practice.StateUserRepeat1:      practice.ActivityCapturing,
		practice.StateUserRepeat2:      practice.ActivityCapturing,
		practice.StateRepeatCycleCheck: practice.ActivityIdle,
		practice.StateAdvanceLine:      practice.ActivityIdle,
		practice.StateSectionComplete:  practice.ActivityIdle,
		practice.StateError:            practice.ActivityIdle,
	}
	for st, want := range tests {
		if got := st.Activity(); got != want {
			t.Errorf("%s.Activity() = %s, want %s", st, got, want)
		}
	}
}
