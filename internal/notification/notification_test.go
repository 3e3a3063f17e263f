package notification

import (
	"context"
	"testing"
)

func TestRecorderKeepsNewestFirst(t *testing.T) {
	r := NewRecorder(nil, 2)
	ctx := context.Background()
	for _, body := range []string{"one", "two", "three"} {
		if err := r.Send(ctx, Message{Kind: KindPaymentSent, Body: body}); err != nil {
			t.Fatalf("send: %v", err)
		}
	}
	recent := r.Recent()
	if len(recent) != 2 || recent[0].Body != "three" || recent[1].Body != "two" {
		t.Fatalf("unexpected recent messages %+v", recent)
	}
	if recent[0].ID == "" || recent[0].CreatedAt.IsZero() {
		t.Fatalf("expected messages to be stamped")
	}
}
