package pipeline

import "testing"

func TestFileDocument(t *testing.T) {
	d := FileDocument{Path: "/books/guide.adoc"}
	if p, ok := d.CurrentPath(); !ok || p != "/books/guide.adoc" {
		t.Fatalf("CurrentPath = %q, %v", p, ok)
	}
	if got := d.DisplayTitle(); got != "guide.adoc" {
		t.Fatalf("DisplayTitle = %q", got)
	}
	if got := cleanTitle(d.DisplayTitle()); got != "guide" {
		t.Fatalf("cleanTitle = %q", got)
	}

	unsaved := FileDocument{Title: "*Draft"}
	if _, ok := unsaved.CurrentPath(); ok {
		t.Fatal("unsaved document reports a path")
	}
	if got := cleanTitle(unsaved.DisplayTitle()); got != "Draft" {
		t.Fatalf("cleanTitle = %q", got)
	}
}
