package session

import "testing"

func TestSessionCreateTransition(t *testing.T) {
	s := New(1)
	ev, err := s.SessionCreate()
	if err != nil {
		t.Fatalf("SessionCreate: %v", err)
	}
	if ev.From != Idle || ev.To != Ready {
		t.Fatalf("got %+v, want IDLE->READY", ev)
	}
}

func TestSessionCreateRejectedWhenNotIdle(t *testing.T) {
	s := New(1)
	s.SessionCreate()
	if _, err := s.SessionCreate(); err == nil {
		t.Fatal("expected error calling session_create twice")
	}
}

func TestRequestExitThenReentry(t *testing.T) {
	s := New(1)
	s.SessionCreate()
	s.RequestExit()
	ev, err := s.EndSession()
	if err != nil {
		t.Fatalf("EndSession: %v", err)
	}
	if ev.To != Idle {
		t.Fatalf("expected IDLE after end_session, got %s", ev.To)
	}
	ev2, err := s.SessionCreate()
	if err != nil {
		t.Fatalf("SessionCreate after exit request: %v", err)
	}
	if ev2.To != Exiting {
		t.Fatalf("expected EXITING re-entry after prior request_exit, got %s", ev2.To)
	}
}

func TestLossPendingFromAnyState(t *testing.T) {
	s := New(1)
	s.SessionCreate()
	ev := s.LoseConnection()
	if ev.To != LossPending {
		t.Fatalf("expected LOSS_PENDING, got %s", ev.To)
	}
}
