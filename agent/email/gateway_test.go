package email

import (
	"context"
	"errors"
	"testing"

	contractx "github.com/tanpawarit/shopping-voice-assistant/agent/contract"
	acsx "github.com/tanpawarit/shopping-voice-assistant/pkg/acs"
)

type fakeTransport struct {
	err      error
	panicVal any
	calls    int
	lastTo   string
	lastBody acsx.Content
}

func (f *fakeTransport) Send(ctx context.Context, to string, content acsx.Content) (string, error) {
	f.calls++
	f.lastTo = to
	f.lastBody = content
	if f.panicVal != nil {
		panic(f.panicVal)
	}
	if f.err != nil {
		return "", f.err
	}
	return "op-1", nil
}

var testMessage = contractx.EmailMessage{
	To:        "user@example.com",
	Subject:   "Your Shopping List",
	PlainText: "Here's your shopping list:\n\n• bread\n\nHappy shopping!",
}

func TestGatewaySendSuccess(t *testing.T) {
	t.Parallel()

	transport := &fakeTransport{}
	gw := NewWithTransport(transport)

	if !gw.Send(context.Background(), testMessage) {
		t.Fatal("Send() = false, want true")
	}
	if transport.calls != 1 {
		t.Fatalf("transport calls = %d, want 1", transport.calls)
	}
	if transport.lastTo != testMessage.To || transport.lastBody.Subject != testMessage.Subject {
		t.Fatalf("unexpected transport input: to=%q body=%#v", transport.lastTo, transport.lastBody)
	}
}

func TestGatewaySendTransportError(t *testing.T) {
	t.Parallel()

	transport := &fakeTransport{err: errors.New("connection reset")}
	gw := NewWithTransport(transport)

	if gw.Send(context.Background(), testMessage) {
		t.Fatal("Send() = true, want false")
	}
	if transport.calls != 1 {
		t.Fatalf("transport calls = %d, want exactly 1 (no retry)", transport.calls)
	}
}

func TestGatewaySendRecoversPanic(t *testing.T) {
	t.Parallel()

	gw := NewWithTransport(&fakeTransport{panicVal: "boom"})
	if gw.Send(context.Background(), testMessage) {
		t.Fatal("Send() = true, want false")
	}
}

func TestGatewayFailsClosedWithoutConfig(t *testing.T) {
	t.Parallel()

	gw := New(acsx.Config{})
	if gw.Send(context.Background(), testMessage) {
		t.Fatal("Send() = true, want false")
	}

	var nilGateway *Gateway
	if nilGateway.Send(context.Background(), testMessage) {
		t.Fatal("nil gateway Send() = true, want false")
	}
}

func TestGatewayFailsClosedWithoutRecipient(t *testing.T) {
	t.Parallel()

	transport := &fakeTransport{}
	gw := NewWithTransport(transport)

	msg := testMessage
	msg.To = " "
	if gw.Send(context.Background(), msg) {
		t.Fatal("Send() = true, want false")
	}
	if transport.calls != 0 {
		t.Fatalf("transport calls = %d, want 0", transport.calls)
	}
}

func TestCheckConfig(t *testing.T) {
	t.Parallel()

	err := CheckConfig(acsx.Config{}, "")
	for _, want := range []error{ErrMissingConnectionString, ErrMissingSender, ErrMissingRecipient} {
		if !errors.Is(err, want) {
			t.Fatalf("CheckConfig() error = %v, want %v", err, want)
		}
	}

	err = CheckConfig(acsx.Config{
		ConnectionString: "endpoint=https://demo.communication.azure.com/;accesskey=c2VjcmV0",
		Sender:           "DoNotReply@example.com",
	}, "user@example.com")
	if err != nil {
		t.Fatalf("CheckConfig() error = %v", err)
	}
}
