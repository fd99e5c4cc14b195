package util

import "testing"

func TestNormalizeName(t *testing.T) {
	cases := map[string]string{
		"ACME, Corp.":        "acme corp",
		"  Smith & Sons LLC": "smith sons llc",
		"O'Brien Supply":     "obrien supply",
		"":                   "",
	}
	for in, want := range cases {
		if got := NormalizeName(in); got != want {
			t.Fatalf("NormalizeName(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestNameSimilarity(t *testing.T) {
	if got := NameSimilarity("Acme Corp", "ACME corp."); got != 1 {
		t.Fatalf("identical names scored %v", got)
	}
	partial := NameSimilarity("Acme Corp", "Acme Co")
	if partial <= 0.5 || partial >= 1 {
		t.Fatalf("partial similarity out of range: %v", partial)
	}
	unrelated := NameSimilarity("Acme Corp", "Globex Industries")
	if unrelated >= partial {
		t.Fatalf("unrelated %v should be below partial %v", unrelated, partial)
	}
	if got := NameSimilarity("", "Acme"); got != 0 {
		t.Fatalf("empty name scored %v", got)
	}
}

func TestLooksLikeInvoiceNumber(t *testing.T) {
	good := []string{"INV-2024-001", "123456", "A-12"}
	bad := []string{"inv", "Invoice", "-12", "ab", "numbers"}
	for _, s := range good {
		if !LooksLikeInvoiceNumber(s) {
			t.Fatalf("%q should look like an invoice number", s)
		}
	}
	for _, s := range bad {
		if LooksLikeInvoiceNumber(s) {
			t.Fatalf("%q should not look like an invoice number", s)
		}
	}
}

func TestDedupeStrings(t *testing.T) {
	got := DedupeStrings([]string{"INV-1", "inv-1", " ", "INV-2", "INV-1"}, NormalizeInvoiceNumber)
	if len(got) != 2 || got[0] != "INV-1" || got[1] != "INV-2" {
		t.Fatalf("got %v", got)
	}
}
