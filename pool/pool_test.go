package pool

import "testing"

func TestClassOf(t *testing.T) {
	cases := []struct{ n, want int }{
		{0, 0}, {1, 0}, {512, 0}, {513, 1}, {1024, 1}, {1025, 2},
		{1 << 20, maxClassShift - minClassShift}, {1<<20 + 1, -1},
	}
	for _, c := range cases {
		if got := classOf(c.n); got != c.want {
			t.Errorf("classOf(%d) = %d, want %d", c.n, got, c.want)
		}
	}
}

func TestGetPutReuse(t *testing.T) {
	p := NewBytePool()
	b := p.Get(700)
	if len(*b) != 0 || cap(*b) != 1024 {
		t.Fatalf("len %d cap %d", len(*b), cap(*b))
	}
	*b = append(*b, "frame"...)
	p.Put(b)
	again := p.Get(1000)
	if len(*again) != 0 || cap(*again) < 1000 {
		t.Fatalf("reused buffer len %d cap %d", len(*again), cap(*again))
	}
	st := p.Stats()
	if st.Gets != 2 || st.Puts != 1 {
		t.Fatalf("stats %+v", st)
	}
}

func TestOffClassBuffersAreDropped(t *testing.T) {
	p := NewBytePool()
	big := p.Get(2 << 20)
	if cap(*big) != 2<<20 {
		t.Fatalf("cap %d", cap(*big))
	}
	p.Put(big)

	odd := make([]byte, 0, 1000)
	p.Put(&odd)
	p.Put(nil)

	if st := p.Stats(); st.Discarded != 2 || st.Puts != 0 {
		t.Fatalf("stats %+v", st)
	}
}

func TestSyncPool(t *testing.T) {
	made := 0
	sp := NewSyncPool(func() *int { made++; v := 0; return &v })
	var op ObjectPool[*int] = sp
	v := op.Get()
	*v = 7
	op.Put(v)
	if op.Get() == nil || made < 1 {
		t.Fatal("pool returned nil")
	}
}
