package device

import (
	"testing"
	"time"
)

func TestSplitTXT(t *testing.T) {
	key, value, ok := splitTXT("id=abc123")
	if !ok || key != "id" || value != "abc123" {
		t.Fatalf("unexpected split: %q %q %v", key, value, ok)
	}

	if _, _, ok := splitTXT("noequals"); ok {
		t.Fatalf("expected ok=false for field without '='")
	}
}

func TestParseTXTExplicitIDOverridesFallback(t *testing.T) {
	id, hasPassword, password := parseTXT([]string{"id=kitchen-speaker", "pw=true"}, 999)
	if id != hashName("kitchen-speaker") {
		t.Fatalf("expected id derived from explicit id field")
	}
	if !hasPassword || password != "" {
		t.Fatalf("expected hasPassword=true with no password value, got %v %q", hasPassword, password)
	}
}

func TestParseTXTPasswordFieldImpliesHasPassword(t *testing.T) {
	_, hasPassword, password := parseTXT([]string{"password=hunter2"}, 1)
	if !hasPassword || password != "hunter2" {
		t.Fatalf("expected password carried through: %v %q", hasPassword, password)
	}
}

func TestParseTXTFallsBackWithoutIDField(t *testing.T) {
	id, _, _ := parseTXT([]string{"pw=false"}, 42)
	if id != 42 {
		t.Fatalf("expected fallback id 42, got %d", id)
	}
}

func TestHashNameIsStable(t *testing.T) {
	a := hashName("same-name")
	b := hashName("same-name")
	if a != b {
		t.Fatalf("expected stable hash")
	}
	if hashName("other") == a {
		t.Fatalf("expected different names to hash differently")
	}
}

func TestExpireStaleWithdrawsOldEntries(t *testing.T) {
	reg := NewRegistry()
	d := NewDiscovery(reg, 10*time.Millisecond)

	dev := reg.Upsert(1, "Kitchen", "10.0.0.5", 7000, false, "")
	d.seen[dev.ID] = time.Now().Add(-time.Hour)

	d.expireStale()

	if _, ok := reg.Get(1); ok {
		t.Fatalf("expected stale device to be withdrawn")
	}
}

func TestExpireStaleKeepsFreshEntries(t *testing.T) {
	reg := NewRegistry()
	d := NewDiscovery(reg, time.Hour)

	dev := reg.Upsert(1, "Kitchen", "10.0.0.5", 7000, false, "")
	d.seen[dev.ID] = time.Now()

	d.expireStale()

	if _, ok := reg.Get(1); !ok {
		t.Fatalf("expected fresh device to remain")
	}
}
