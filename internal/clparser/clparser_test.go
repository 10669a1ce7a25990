package clparser

import "testing"

func TestParseExtractsIncludes(t *testing.T) {
	output := "Note: including file: C:\\foo\\bar.h\r\n" +
		"main.c\r\n" +
		"Note: including file:  C:\\foo\\baz.h\r\n"
	includes, filtered := Parse(output, "")
	if len(includes) != 2 {
		t.Fatalf("got %d includes, want 2: %v", len(includes), includes)
	}
	if includes[0] != "C:\\foo\\bar.h" || includes[1] != "C:\\foo\\baz.h" {
		t.Errorf("includes = %v", includes)
	}
	if filtered != "main.c\n" {
		t.Errorf("filtered = %q", filtered)
	}
}

func TestParseDedupesIncludes(t *testing.T) {
	output := "Note: including file: a.h\n" + "Note: including file: a.h\n"
	includes, _ := Parse(output, "")
	if len(includes) != 1 {
		t.Fatalf("got %d includes, want 1", len(includes))
	}
}

func TestParseCustomPrefix(t *testing.T) {
	output := "INCLUDE: x.h\nsome text\n"
	includes, filtered := Parse(output, "INCLUDE:")
	if len(includes) != 1 || includes[0] != "x.h" {
		t.Fatalf("includes = %v", includes)
	}
	if filtered != "some text\n" {
		t.Errorf("filtered = %q", filtered)
	}
}

func TestParseNoIncludes(t *testing.T) {
	includes, filtered := Parse("plain output\nline two\n", "")
	if includes != nil {
		t.Errorf("includes = %v, want nil", includes)
	}
	if filtered != "plain output\nline two\n" {
		t.Errorf("filtered = %q", filtered)
	}
}
