package oui

import "testing"

func TestLoadAndLookup(t *testing.T) {
	data := []byte(`{"F0:27:2D":"Amazon Technologies Inc.","AABBCC":"VendorX","bad":"ignored"}`)
	db, err := Load(data)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if db.Len() != 2 {
		t.Fatalf("expected 2 prefixes, got %d", db.Len())
	}

	if got := db.Lookup("f0:27:2d:11:22:33"); got != "Amazon Technologies Inc." {
		t.Fatalf("expected Amazon, got %s", got)
	}
	if got := db.Lookup("11:22:33:44:55:66"); got != Unknown {
		t.Fatalf("expected Unknown, got %s", got)
	}
	// AA has the locally administered bit set.
	if _, ok := db.Vendor("AA-BB-CC-01-02-03"); ok {
		t.Fatalf("expected randomized address to be skipped")
	}
}

func TestLocallyAdministered(t *testing.T) {
	tests := map[string]bool{
		"f0:27:2d:00:00:00": false,
		"da:a1:19:00:00:00": true,
		"02:00:00:00:00:00": true,
		"":                  false,
	}
	for mac, want := range tests {
		if got := LocallyAdministered(mac); got != want {
			t.Fatalf("LocallyAdministered(%q) = %v, want %v", mac, got, want)
		}
	}
}

func TestEmbeddedDatabaseLoads(t *testing.T) {
	db, err := LoadEmbedded()
	if err != nil {
		t.Fatalf("load embedded: %v", err)
	}
	if got := db.Lookup("B8:27:EB:00:00:01"); got != "Raspberry Pi Foundation" {
		t.Fatalf("expected Raspberry Pi, got %s", got)
	}
}
