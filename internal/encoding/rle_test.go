package encoding

import "testing"

func TestRLE_RoundTrip(t *testing.T) {
	in := make([]uint32, 0, 200)
	in = append(in, 1, 1, 1, 2, 2, 3)
	for i := 0; i < 50; i++ {
		in = append(in, 7)
	}
	in = append(in, 9, 10, 10, 70000)

	enc := EncodeRLE(in)
	out, err := DecodeRLE(enc)
	if err != nil {
		t.Fatalf("DecodeRLE: %v", err)
	}
	if len(out) != len(in) {
		t.Fatalf("len mismatch: got %d want %d", len(out), len(in))
	}
	for i := range in {
		if out[i] != in[i] {
			t.Fatalf("mismatch at %d: got %d want %d", i, out[i], in[i])
		}
	}
}

func TestRLE_BadInput(t *testing.T) {
	if _, err := DecodeRLE("!!not base64"); err == nil {
		t.Fatalf("expected base64 error")
	}
	if _, err := DecodeRLE("gA=="); err == nil {
		t.Fatalf("expected varint error")
	}
}
