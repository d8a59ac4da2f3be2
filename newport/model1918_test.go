package newport

import "testing"

func TestUnitsNameKnownCodes(t *testing.T) {
	cases := map[int]string{0: "A", 2: "W", 6: "dBm"}
	for code, want := range cases {
		got, err := UnitsName(code)
		if err != nil {
			t.Fatalf("code %d: %v", code, err)
		}
		if got != want {
			t.Errorf("code %d: expected %s got %s", code, want, got)
		}
	}
}

func TestUnitsNameRejectsUnknown(t *testing.T) {
	if _, err := UnitsName(42); err == nil {
		t.Error("expected an error for an unknown units code")
	}
}

func TestMockFailureInjection(t *testing.T) {
	m := NewMock1918()
	m.FailNext(2)
	if _, err := m.ReadPower(); err == nil {
		t.Error("expected first injected failure")
	}
	if _, err := m.ReadPower(); err == nil {
		t.Error("expected second injected failure")
	}
	p, err := m.ReadPower()
	if err != nil {
		t.Fatal("expected recovery after injected failures:", err)
	}
	if p <= 0 {
		t.Errorf("expected a positive power reading, got %g", p)
	}
}

func TestMockStateRoundTrips(t *testing.T) {
	m := NewMock1918()
	if err := m.SetRange(3); err != nil {
		t.Fatal(err)
	}
	r, err := m.GetRange()
	if err != nil || r != 3 {
		t.Errorf("range: got %d, %v", r, err)
	}
	auto, err := m.GetAutoRange()
	if err != nil || auto {
		t.Error("setting a manual range must disable auto-range")
	}
	if err := m.SetUnits(42); err == nil {
		t.Error("expected units validation to reject unknown codes")
	}
}
