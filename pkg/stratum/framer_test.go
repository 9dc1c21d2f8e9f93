package stratum

import (
	"errors"
	"math/rand"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

const stream = `{"id":1,"method":"mining.subscribe","params":["miner/1.0"]}
{"id":2,"method":"mining.authorize","params":["rig1.t1Address123","x"]}
{"id":null,"method":"mining.set_target","params":["0007ffffffffffffffffffffffffffffffffffffffffffffffffffffffffffff"]}
{"id":7,"method":"mining.submit","params":["rig1.t1Address123","job","00","01","02"]}
{"id":7,"result":true,"error":null}
`

func feedAll(t *testing.T, chunks [][]byte) []string {
	t.Helper()
	var f Framer
	var got []string
	for _, c := range chunks {
		lines, err := f.Feed(c)
		if err != nil {
			t.Fatalf("Feed: unexpected error: %v", err)
		}
		for _, l := range lines {
			got = append(got, string(l))
		}
	}
	return got
}

func TestFramerSingleChunk(t *testing.T) {
	got := feedAll(t, [][]byte{[]byte(stream)})
	want := strings.Split(strings.TrimSuffix(stream, "\n"), "\n")
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("lines mismatch (-want +got):\n%s", diff)
	}
}

func TestFramerEverySplitPoint(t *testing.T) {
	want := feedAll(t, [][]byte{[]byte(stream)})
	for i := 0; i <= len(stream); i++ {
		got := feedAll(t, [][]byte{[]byte(stream[:i]), []byte(stream[i:])})
		if diff := cmp.Diff(want, got); diff != "" {
			t.Fatalf("split at %d (-want +got):\n%s", i, diff)
		}
	}
}

func TestFramerRandomChunking(t *testing.T) {
	want := feedAll(t, [][]byte{[]byte(stream)})
	rng := rand.New(rand.NewSource(42))
	for round := 0; round < 200; round++ {
		var chunks [][]byte
		for rest := []byte(stream); len(rest) > 0; {
			n := 1 + rng.Intn(len(rest))
			chunks = append(chunks, rest[:n])
			rest = rest[n:]
		}
		got := feedAll(t, chunks)
		if diff := cmp.Diff(want, got); diff != "" {
			t.Fatalf("round %d (-want +got):\n%s", round, diff)
		}
	}
}

func TestFramerKeepsPartialLine(t *testing.T) {
	var f Framer
	lines, err := f.Feed([]byte(`{"id":1}` + "\n" + `{"id":`))
	if err != nil {
		t.Fatalf("Feed: %v", err)
	}
	if len(lines) != 1 || f.Buffered() != len(`{"id":`) {
		t.Fatalf("got %d lines, %d buffered", len(lines), f.Buffered())
	}
	lines, err = f.Feed([]byte("2}\n"))
	if err != nil {
		t.Fatalf("Feed: %v", err)
	}
	if len(lines) != 1 || string(lines[0]) != `{"id":2}` || f.Buffered() != 0 {
		t.Fatalf("got %q, %d buffered", lines, f.Buffered())
	}
}

func TestFramerCRLFAndBlankLines(t *testing.T) {
	got := feedAll(t, [][]byte{[]byte("{\"id\":1}\r\n\r\n\n{\"id\":2}\n")})
	if diff := cmp.Diff([]string{`{"id":1}`, `{"id":2}`}, got); diff != "" {
		t.Fatalf("lines mismatch (-want +got):\n%s", diff)
	}
}

func TestFramerBadLineDoesNotCorruptBuffer(t *testing.T) {
	var f Framer
	lines, err := f.Feed([]byte("not json\n{\"id\":3,\"res"))
	if err != nil {
		t.Fatalf("Feed: %v", err)
	}
	if len(lines) != 1 {
		t.Fatalf("got %d lines, want 1", len(lines))
	}
	if _, err := Decode(lines[0]); !errors.Is(err, ErrMalformed) {
		t.Fatalf("Decode: got %v, want ErrMalformed", err)
	}

	lines, err = f.Feed([]byte("ult\":true}\n"))
	if err != nil {
		t.Fatalf("Feed: %v", err)
	}
	msg, err := Decode(lines[0])
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if key, _ := msg.IDKey(); key != "3" {
		t.Fatalf("IDKey = %q, want 3", key)
	}
}

func TestFramerLineTooLong(t *testing.T) {
	var f Framer
	lines, err := f.Feed([]byte("{\"id\":1}\n" + strings.Repeat("a", MaxLineLength+1)))
	if !errors.Is(err, ErrLineTooLong) {
		t.Fatalf("Feed: got %v, want ErrLineTooLong", err)
	}
	if len(lines) != 1 {
		t.Fatalf("completed lines must still be returned, got %d", len(lines))
	}
	if f.Buffered() != 0 {
		t.Fatalf("buffer must be discarded, %d bytes left", f.Buffered())
	}
}
