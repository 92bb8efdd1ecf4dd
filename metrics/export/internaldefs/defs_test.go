package internaldefs

import "testing"

func TestFamiliesCoverEachCounterOnce(t *testing.T) {
	names := map[string]bool{}
	ids := map[uint16]string{}
	for _, fam := range Families {
		if names[fam.Name] {
			t.Fatalf("duplicate family %s", fam.Name)
		}
		names[fam.Name] = true
		if fam.Help == "" || len(fam.Members) == 0 {
			t.Fatalf("family %s needs help text and members", fam.Name)
		}

		key := fam.Members[0].Label.Key
		values := map[string]bool{}
		for _, m := range fam.Members {
			if prev, ok := ids[uint16(m.ID)]; ok {
				t.Fatalf("counter id %d in both %s and %s", m.ID, prev, fam.Name)
			}
			ids[uint16(m.ID)] = fam.Name
			if m.Label.Key != key {
				t.Fatalf("family %s mixes label keys %q and %q", fam.Name, key, m.Label.Key)
			}
			if values[m.Label.Value] {
				t.Fatalf("family %s repeats label value %q", fam.Name, m.Label.Value)
			}
			values[m.Label.Value] = true
		}
		if key == "" && len(fam.Members) > 1 {
			t.Fatalf("unlabeled family %s has %d members", fam.Name, len(fam.Members))
		}
	}
	for _, def := range HistogramDefs {
		if _, ok := ids[uint16(def.ID)]; ok {
			t.Fatalf("histogram %s shares an id with a counter", def.Name)
		}
	}
	if names[AuditDroppedName] {
		t.Fatalf("%s is reserved for the audit dispatcher", AuditDroppedName)
	}
}

func TestBucketTables(t *testing.T) {
	if len(HistogramBounds) != 8 {
		t.Fatalf("expected 8 bounds, got %d", len(HistogramBounds))
	}
	got := CumulativeBuckets(NormalizeBuckets([]uint64{1, 2, 3}))
	want := [8]uint64{1, 3, 6, 6, 6, 6, 6, 6}
	if got != want {
		t.Fatalf("cumulative = %v, want %v", got, want)
	}
}
