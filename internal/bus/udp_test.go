package bus

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/danmuck/sessionsharer/internal/protocol/frame"
	"github.com/danmuck/sessionsharer/internal/protocol/tlv"
	"github.com/danmuck/sessionsharer/internal/testutil/testlog"
	"github.com/google/uuid"
)

func TestEnvelopeRoundTrip(t *testing.T) {
	testlog.Start(t)
	in := envelope{
		Sequence: 7,
		Channel:  "session-sharer",
		Origin:   "udp://239.255.77.77:7447",
		Sender:   uuid.New(),
		Data:     []byte(`{"Response":42}`),
	}
	b, err := encodeEnvelope(in, frame.DefaultLimits())
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	out, err := decodeEnvelope(b, frame.DefaultLimits())
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Sequence != in.Sequence || out.Channel != in.Channel || out.Origin != in.Origin || out.Sender != in.Sender {
		t.Fatalf("envelope mismatch: got %+v want %+v", out, in)
	}
	if !bytes.Equal(out.Data, in.Data) {
		t.Fatalf("data mismatch: %q", out.Data)
	}
}

func TestDecodeEnvelopeMissingSender(t *testing.T) {
	testlog.Start(t)
	payload := tlv.EncodeFields([]tlv.Field{
		tlv.String(FieldChannel, "session-sharer"),
		tlv.String(FieldOrigin, "udp://localhost:0"),
		tlv.Bytes(FieldData, []byte("x")),
	})
	b, err := frame.Marshal(frame.Frame{Payload: payload}, frame.DefaultLimits())
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if _, err := decodeEnvelope(b, frame.DefaultLimits()); !errors.Is(err, tlv.ErrMissingField) {
		t.Fatalf("expected ErrMissingField, got %v", err)
	}
}

func TestListenUDPRejectsUnicastGroup(t *testing.T) {
	testlog.Start(t)
	cfg := DefaultUDPConfig()
	cfg.Group = "127.0.0.1:7447"
	if _, err := ListenUDP(context.Background(), cfg); !errors.Is(err, ErrInvalidGroup) {
		t.Fatalf("expected ErrInvalidGroup, got %v", err)
	}
}

func TestUDPBusLoopbackDelivery(t *testing.T) {
	testlog.Start(t)
	cfg := DefaultUDPConfig()
	cfg.Group = "239.255.77.78:17447"
	cfg.Origin = "udp://239.255.77.78:17447"
	b, err := ListenUDP(context.Background(), cfg)
	if err != nil {
		t.Skipf("multicast unavailable: %v", err)
	}
	defer b.Close()

	received := make(chan Event, 4)
	self := make(chan Event, 4)
	sender, err := b.Open("session-sharer", func(ev Event) { self <- ev })
	if err != nil {
		t.Fatalf("open sender: %v", err)
	}
	if _, err := b.Open("session-sharer", func(ev Event) { received <- ev }); err != nil {
		t.Fatalf("open receiver: %v", err)
	}
	if err := sender.Post([]byte(`"Query"`)); err != nil {
		t.Skipf("multicast send unavailable: %v", err)
	}

	select {
	case ev := <-received:
		if string(ev.Data) != `"Query"` || ev.Origin != cfg.Origin {
			t.Fatalf("unexpected event: %+v", ev)
		}
	case <-time.After(2 * time.Second):
		t.Skip("multicast loopback not delivered in this environment")
	}
	select {
	case ev := <-self:
		t.Fatalf("sender received own post: %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}
