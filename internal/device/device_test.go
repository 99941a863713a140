package device

import "testing"

type fakeSession struct{ closed bool }

func (s *fakeSession) Close() { s.closed = true }

func TestUpsertCreatesAndRefreshes(t *testing.T) {
	r := NewRegistry()
	d := r.Upsert(1, "Kitchen", "10.0.0.5", 7000, false, "")
	if d.Name != "Kitchen" || !d.Advertised {
		t.Fatalf("unexpected device: %+v", d)
	}

	d2 := r.Upsert(1, "Kitchen Speaker", "10.0.0.6", 7001, true, "secret")
	if d2 != d {
		t.Fatalf("expected same device instance on refresh")
	}
	if d.Address != "10.0.0.6" || d.Password != "secret" {
		t.Fatalf("refresh did not update fields: %+v", d)
	}
}

func TestWithdrawWithoutSessionRemovesImmediately(t *testing.T) {
	r := NewRegistry()
	r.Upsert(1, "Kitchen", "10.0.0.5", 7000, false, "")
	r.Withdraw(1)

	if _, ok := r.Get(1); ok {
		t.Fatalf("expected device to be removed")
	}
}

func TestWithdrawWithSessionKeepsDeviceUntilSessionEnds(t *testing.T) {
	r := NewRegistry()
	r.Upsert(1, "Kitchen", "10.0.0.5", 7000, false, "")
	r.SetSession(1, &fakeSession{})
	r.Withdraw(1)

	d, ok := r.Get(1)
	if !ok {
		t.Fatalf("expected device to survive withdrawal while sessioned")
	}
	if d.Advertised {
		t.Fatalf("expected advertised=false after withdrawal")
	}

	r.SessionEnded(1)
	if _, ok := r.Get(1); ok {
		t.Fatalf("expected device removed once session ends and not re-advertised")
	}
}

func TestSessionEndedKeepsStillAdvertisedDevice(t *testing.T) {
	r := NewRegistry()
	r.Upsert(1, "Kitchen", "10.0.0.5", 7000, false, "")
	r.SetSession(1, &fakeSession{})
	r.SessionEnded(1)

	d, ok := r.Get(1)
	if !ok {
		t.Fatalf("expected device to remain since still advertised")
	}
	if d.Session != nil || d.Selected {
		t.Fatalf("expected session cleared and selected reset: %+v", d)
	}
}

func TestAllReturnsSnapshot(t *testing.T) {
	r := NewRegistry()
	r.Upsert(1, "A", "10.0.0.1", 7000, false, "")
	r.Upsert(2, "B", "10.0.0.2", 7000, false, "")

	all := r.All()
	if len(all) != 2 {
		t.Fatalf("expected 2 devices, got %d", len(all))
	}
}

func TestSetSelectedOnUnknownDeviceIsNoop(t *testing.T) {
	r := NewRegistry()
	r.SetSelected(99, true)
}
