package hotkey

import (
	"reflect"
	"testing"
)

func drain(l *Listener) []EventType {
	var got []EventType
	for {
		select {
		case ev := <-l.ch:
			got = append(got, ev.Type)
		default:
			return got
		}
	}
}

func TestListenerEvents(t *testing.T) {
	tests := []struct {
		name  string
		mode  string
		press func(l *Listener)
		want  []EventType
	}{
		{
			name: "toggle start stop",
			mode: "toggle",
			press: func(l *Listener) {
				l.recordDown()
				l.recordUp()
				l.recordDown()
			},
			want: []EventType{EventStart, EventStop},
		},
		{
			name: "hold ignores key repeat",
			mode: "hold",
			press: func(l *Listener) {
				l.recordDown()
				l.recordDown()
				l.recordDown()
				l.recordUp()
			},
			want: []EventType{EventStart, EventStop},
		},
		{
			name: "pause only while recording",
			mode: "toggle",
			press: func(l *Listener) {
				l.pauseDown()
				l.recordDown()
				l.pauseDown()
				l.pauseDown()
			},
			want: []EventType{EventStart, EventPause, EventPause},
		},
		{
			name: "cancel resets toggle",
			mode: "toggle",
			press: func(l *Listener) {
				l.recordDown()
				l.cancelDown()
				l.cancelDown()
				l.recordDown()
			},
			want: []EventType{EventStart, EventCancel, EventStart},
		},
		{
			name: "hold release after cancel",
			mode: "hold",
			press: func(l *Listener) {
				l.recordDown()
				l.cancelDown()
				l.recordUp()
			},
			want: []EventType{EventStart, EventCancel},
		},
		{
			name: "external stop",
			mode: "toggle",
			press: func(l *Listener) {
				l.recordDown()
				l.SetRecording(false)
				l.recordDown()
			},
			want: []EventType{EventStart, EventStart},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := NewListener(Bindings{Record: []string{"ctrl", "shift", "r"}}, tt.mode)
			tt.press(l)
			if got := drain(l); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("events = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestEmitDropsWhenFull(t *testing.T) {
	l := NewListener(Bindings{}, "toggle")
	for i := 0; i < cap(l.ch)+4; i++ {
		l.emit(EventPause)
	}
	if got := len(drain(l)); got != cap(l.ch) {
		t.Errorf("buffered %d events, want %d", got, cap(l.ch))
	}
}

func TestStopIdempotent(t *testing.T) {
	l := NewListener(Bindings{}, "toggle")
	l.Stop()
	l.Stop()
}

func TestEventTypeString(t *testing.T) {
	if EventCancel.String() != "cancel" || EventType(42).String() != "unknown" {
		t.Error("unexpected EventType names")
	}
}
