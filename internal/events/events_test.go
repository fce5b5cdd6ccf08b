package events

import (
	"context"
	"errors"
	"testing"
	"time"
)

type failing struct{}

func (failing) Publish(context.Context, Event) error { return errors.New("broker down") }

func TestMultiDeliversToEveryPublisher(t *testing.T) {
	a, b := &Recorder{}, &Recorder{}
	e, err := New(TypeStatusUpdate, "b1", map[string]string{"status": "accepted"}, time.Now())
	if err != nil {
		t.Fatal(err)
	}
	err = Multi{a, failing{}, nil, b}.Publish(context.Background(), e)
	if err == nil {
		t.Fatal("expected the failing publisher's error")
	}
	if len(a.Events) != 1 || len(b.Events) != 1 {
		t.Fatalf("a=%d b=%d", len(a.Events), len(b.Events))
	}
	if string(a.Events[0].Data) != `{"status":"accepted"}` {
		t.Fatalf("unexpected data %s", a.Events[0].Data)
	}
}
