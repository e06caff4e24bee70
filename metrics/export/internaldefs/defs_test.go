package internaldefs

import "testing"

func TestCounterDefsUniqueAndPrefixed(t *testing.T) {
	names := make(map[string]bool)
	ids := make(map[uint16]bool)
	for _, def := range CounterDefs {
		if names[def.Name] {
			t.Fatalf("duplicate counter name %s", def.Name)
		}
		if ids[uint16(def.ID)] {
			t.Fatalf("duplicate counter id %d", def.ID)
		}
		names[def.Name] = true
		ids[uint16(def.ID)] = true
		if len(def.Name) < len("authcore_") || def.Name[:len("authcore_")] != "authcore_" {
			t.Fatalf("counter %s lacks prefix", def.Name)
		}
	}
}

func TestBucketLabels(t *testing.T) {
	wantBounds := []string{"0.005", "0.01", "0.025", "0.05", "0.1", "0.25", "0.5", "+Inf"}
	wantSuffix := []string{"0_005", "0_01", "0_025", "0_05", "0_1", "0_25", "0_5", "inf"}
	if len(HistogramBounds) != len(wantBounds) || len(HistogramBoundSuffix) != len(wantSuffix) {
		t.Fatalf("unexpected label counts %d/%d", len(HistogramBounds), len(HistogramBoundSuffix))
	}
	for i := range wantBounds {
		if HistogramBounds[i] != wantBounds[i] {
			t.Fatalf("bound %d: expected %s, got %s", i, wantBounds[i], HistogramBounds[i])
		}
		if HistogramBoundSuffix[i] != wantSuffix[i] {
			t.Fatalf("suffix %d: expected %s, got %s", i, wantSuffix[i], HistogramBoundSuffix[i])
		}
	}
}
