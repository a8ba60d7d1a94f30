package telephony

import (
	"context"
	"errors"
	"testing"
)

func TestDialRejectsEmptyDestination(t *testing.T) {
	d := NewMockDriver()
	defer d.Close()

	_, err := d.Dial(context.Background(), DialRequest{})
	if !errors.Is(err, ErrDialRejected) {
		t.Fatalf("Dial() error = %v, want ErrDialRejected", err)
	}
	if len(d.Commands()) != 0 {
		t.Fatalf("rejected dial recorded a command: %+v", d.Commands())
	}
}

func TestDialEmitsConnectedEvent(t *testing.T) {
	d := NewMockDriver()
	defer d.Close()

	leg, err := d.Dial(context.Background(), DialRequest{Destination: "+13125550100"})
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	ev := <-d.Events()
	if ev.Leg != leg || ev.Type != EventConnected {
		t.Fatalf("event = %+v, want connected on %s", ev, leg)
	}
}
