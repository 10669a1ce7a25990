package cmdhash

import "testing"

func TestHashCommandDeterministic(t *testing.T) {
	a := HashCommand("cc -c main.c -o main.o")
	b := HashCommand("cc -c main.c -o main.o")
	if a != b {
		t.Fatalf("hash not deterministic: %d != %d", a, b)
	}
}

func TestHashCommandDistinguishesCommands(t *testing.T) {
	a := HashCommand("cc -c main.c -o main.o")
	b := HashCommand("cc -c other.c -o main.o")
	if a == b {
		t.Fatalf("different commands hashed identically: %d", a)
	}
}

func TestHashCommandEmpty(t *testing.T) {
	// Must not panic on the shortest possible input.
	_ = HashCommand("")
}

func TestHashCommandVaryingLengths(t *testing.T) {
	seen := map[uint64]string{}
	for _, s := range []string{
		"a", "ab", "abc", "abcd", "abcdefgh", "abcdefghijklmnop",
		"abcdefghijklmnopqrstuvwxyz0123456789",
	} {
		h := HashCommand(s)
		if prev, ok := seen[h]; ok {
			t.Fatalf("collision between %q and %q", prev, s)
		}
		seen[h] = s
	}
}
