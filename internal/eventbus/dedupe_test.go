package eventbus

import (
	"testing"
	"time"

	"github.com/dyluth/lockstep/pkg/blackboard"
	"github.com/stretchr/testify/assert"
)

func ev(session string, seq uint64) *blackboard.WorldEvent {
	return &blackboard.WorldEvent{SessionID: session, Seq: seq}
}

func TestDeduper(t *testing.T) {
	tests := []struct {
		name   string
		events []*blackboard.WorldEvent
		want   []bool
	}{
		{"in order", []*blackboard.WorldEvent{ev("s", 1), ev("s", 2), ev("s", 3)}, []bool{true, true, true}},
		{"duplicate", []*blackboard.WorldEvent{ev("s", 1), ev("s", 1)}, []bool{true, false}},
		{"out of order", []*blackboard.WorldEvent{ev("s", 1), ev("s", 3), ev("s", 2)}, []bool{true, true, false}},
		{"gap is fine", []*blackboard.WorldEvent{ev("s", 1), ev("s", 5)}, []bool{true, true}},
		{"sessions independent", []*blackboard.WorldEvent{ev("a", 4), ev("b", 1), ev("a", 4)}, []bool{true, true, false}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := NewDeduper(time.Minute, 100)
			var got []bool
			for _, e := range tt.events {
				got = append(got, d.Accept(e))
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDeduperLast(t *testing.T) {
	d := NewDeduper(0, 0)
	assert.Equal(t, uint64(0), d.Last("s"))
	d.Accept(ev("s", 7))
	assert.Equal(t, uint64(7), d.Last("s"))
}
