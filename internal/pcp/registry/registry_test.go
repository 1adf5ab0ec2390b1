package registry

import (
	"net/netip"
	"testing"

	"github.com/pcpforward/controller/internal/pcp/primitives"
)

func TestRegisterThenConflict(t *testing.T) {
	r := New()
	slot := Slot{Protocol: primitives.ProtocolTCP, ExternalPort: 8080}
	v1 := Value{InternalAddress: primitives.UnifyAddress(netip.MustParseAddr("10.0.0.5")), InternalPort: 80}
	v2 := Value{InternalAddress: primitives.UnifyAddress(netip.MustParseAddr("10.0.0.6")), InternalPort: 80}

	if outcome, _ := r.Register(slot, v1); outcome != Registered {
		t.Fatalf("first register outcome = %v, want Registered", outcome)
	}
	if outcome, _ := r.Register(slot, v1); outcome != AlreadyExists {
		t.Fatalf("idempotent re-register outcome = %v, want AlreadyExists", outcome)
	}
	outcome, conflicting := r.Register(slot, v2)
	if outcome != Conflict {
		t.Fatalf("conflicting register outcome = %v, want Conflict", outcome)
	}
	if conflicting != v1 {
		t.Errorf("conflicting value = %v, want %v", conflicting, v1)
	}
}

func TestForceRegisterEvicts(t *testing.T) {
	r := New()
	slot := Slot{Protocol: primitives.ProtocolUDP, ExternalPort: 53}
	v1 := Value{InternalAddress: primitives.UnifyAddress(netip.MustParseAddr("10.0.0.5")), InternalPort: 53}
	v2 := Value{InternalAddress: primitives.UnifyAddress(netip.MustParseAddr("10.0.0.9")), InternalPort: 53}

	r.Register(slot, v1)
	outcome, evicted := r.ForceRegister(slot, v2)
	if outcome != EvictedConflicting {
		t.Fatalf("outcome = %v, want EvictedConflicting", outcome)
	}
	if evicted != v1 {
		t.Errorf("evicted = %v, want %v", evicted, v1)
	}

	if got, _ := r.Unregister(slot); got != v2 {
		t.Errorf("slot now holds %v, want %v", got, v2)
	}
}

func TestCompareAndUnregister(t *testing.T) {
	r := New()
	slot := Slot{Protocol: primitives.ProtocolTCP, ExternalPort: 8080}
	v1 := Value{InternalAddress: primitives.UnifyAddress(netip.MustParseAddr("10.0.0.5")), InternalPort: 80}
	v2 := Value{InternalAddress: primitives.UnifyAddress(netip.MustParseAddr("10.0.0.6")), InternalPort: 80}

	if outcome := r.CompareAndUnregister(slot, v1); outcome != KeyNotFound {
		t.Fatalf("outcome on empty registry = %v, want KeyNotFound", outcome)
	}

	r.Register(slot, v1)
	if outcome := r.CompareAndUnregister(slot, v2); outcome != DifferentValue {
		t.Fatalf("outcome with wrong value = %v, want DifferentValue", outcome)
	}
	if outcome := r.CompareAndUnregister(slot, v1); outcome != Unregistered {
		t.Fatalf("outcome with correct value = %v, want Unregistered", outcome)
	}
	if _, found := r.Unregister(slot); found {
		t.Errorf("slot should be gone after CompareAndUnregister")
	}
}
