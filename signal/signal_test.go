package signal

import "testing"

func TestSetAddRemoveHas(t *testing.T) {
	var s Set
	s = s.Add(SIGUSR1)
	if !s.Has(SIGUSR1) {
		t.Fatalf("expected SIGUSR1 present after Add")
	}
	s = s.Remove(SIGUSR1)
	if s.Has(SIGUSR1) {
		t.Fatalf("expected SIGUSR1 absent after Remove")
	}
}

func TestIsFatal(t *testing.T) {
	if !SIGKILL.IsFatal() {
		t.Fatalf("expected SIGKILL to be fatal")
	}
	if SIGWINCH.IsFatal() {
		t.Fatalf("expected SIGWINCH to not be fatal")
	}
}

func TestRaiseAndDeliver(t *testing.T) {
	st := NewState()
	st.Raise(SIGUSR1, 7)
	info, ok := st.NextDeliverable()
	if !ok {
		t.Fatalf("expected a deliverable signal")
	}
	if info.Signal != SIGUSR1 || info.Sender != 7 {
		t.Fatalf("unexpected info: %+v", info)
	}
	st.Consume(SIGUSR1)
	if _, ok := st.NextDeliverable(); ok {
		t.Fatalf("expected no deliverable signal after consume")
	}
	if st.Pending.Has(SIGUSR1) {
		t.Fatalf("expected SIGUSR1 cleared from pending after consume")
	}
}

func TestBlockedSignalNotDeliverable(t *testing.T) {
	st := NewState()
	st.Blocked = st.Blocked.Add(SIGUSR1)
	st.Raise(SIGUSR1, 0)
	if _, ok := st.NextDeliverable(); ok {
		t.Fatalf("expected blocked signal to not be deliverable")
	}
}

func TestHandlerRoundTrip(t *testing.T) {
	st := NewState()
	st.SetHandler(SIGINT, Handler{Disposition: Handled, HandlerAddr: 0x4000})
	h := st.HandlerFor(SIGINT)
	if h.Disposition != Handled || h.HandlerAddr != 0x4000 {
		t.Fatalf("unexpected handler: %+v", h)
	}
}
