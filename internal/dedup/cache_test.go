package dedup

import (
	"sync"
	"testing"
	"time"

	"github.com/adverant/nexus/screenocr-worker/internal/ocr"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.t
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	f.t = f.t.Add(d)
	f.mu.Unlock()
}

func newCache(horizon time.Duration, opts ...Option) (*Cache, *fakeClock) {
	clock := &fakeClock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	return New(horizon, append([]Option{WithClock(clock.Now)}, opts...)...), clock
}

func result(text string) ocr.Result {
	return ocr.Result{Text: text, Confidence: 0.9}
}

func TestShouldEmitRepeatWithinHorizon(t *testing.T) {
	c, clock := newCache(30 * time.Second)

	if !c.ShouldEmit(result("Hello world")) {
		t.Fatal("first occurrence should emit")
	}
	clock.Advance(10 * time.Second)
	if c.ShouldEmit(result("Hello world")) {
		t.Fatal("repeat within horizon should be suppressed")
	}
}

func TestShouldEmitAfterHorizon(t *testing.T) {
	c, clock := newCache(30 * time.Second)

	c.ShouldEmit(result("status: ready"))
	clock.Advance(31 * time.Second)
	if !c.ShouldEmit(result("status: ready")) {
		t.Fatal("text should emit again after the horizon")
	}
	if c.ShouldEmit(result("status: ready")) {
		t.Fatal("and be suppressed again right after")
	}
}

func TestRepeatRefreshesTimestamp(t *testing.T) {
	c, clock := newCache(30 * time.Second)

	c.ShouldEmit(result("static"))
	for i := 0; i < 5; i++ {
		clock.Advance(20 * time.Second)
		if c.ShouldEmit(result("static")) {
			t.Fatalf("step %d: refreshed key expired early", i)
		}
	}
}

func TestNormalization(t *testing.T) {
	tests := []struct {
		a, b string
		same bool
	}{
		{"hello   world", "hello world", true},
		{"  hello\n\tworld ", "hello world", true},
		{"Hello World", "hello world", false},
		{"hello world", "hello worlds", false},
	}
	for _, tt := range tests {
		if got := KeyOf(tt.a) == KeyOf(tt.b); got != tt.same {
			t.Errorf("KeyOf(%q) == KeyOf(%q) = %v, want %v", tt.a, tt.b, got, tt.same)
		}
	}

	c, _ := newCache(time.Minute)
	c.ShouldEmit(result("line one\nline two"))
	if c.ShouldEmit(result("line one   line two")) {
		t.Error("whitespace variant should be suppressed")
	}
	if !c.ShouldEmit(result("LINE ONE LINE TWO")) {
		t.Error("case variant should emit")
	}
}

func TestEmptyTextAlwaysSuppressed(t *testing.T) {
	c, _ := newCache(time.Minute)
	for _, text := range []string{"", "   ", "\n\t"} {
		r := result(text)
		r.Confidence = 1
		if c.ShouldEmit(r) {
			t.Errorf("empty text %q emitted", text)
		}
	}
	if c.Len() != 0 {
		t.Errorf("empty text stored %d keys", c.Len())
	}
}

func TestMinTextLength(t *testing.T) {
	c, _ := newCache(time.Minute, WithMinTextLength(3))
	if c.ShouldEmit(result("ok")) {
		t.Error("two runes should be suppressed with min length 3")
	}
	if !c.ShouldEmit(result("yes")) {
		t.Error("three runes should emit")
	}
	if !c.ShouldEmit(result("日本語")) {
		t.Error("length counts runes, not bytes")
	}
}

func TestLazyPrune(t *testing.T) {
	c, clock := newCache(10 * time.Second)
	c.ShouldEmit(result("a1"))
	c.ShouldEmit(result("a2"))
	c.ShouldEmit(result("a3"))
	if c.Len() != 3 {
		t.Fatalf("len = %d", c.Len())
	}

	clock.Advance(11 * time.Second)
	c.ShouldEmit(result("b"))
	if c.Len() != 1 {
		t.Errorf("expired keys not pruned, len = %d", c.Len())
	}

	emitted, suppressed := c.Counts()
	if emitted != 4 || suppressed != 0 {
		t.Errorf("counts = %d/%d", emitted, suppressed)
	}
}

func TestConcurrentAccess(t *testing.T) {
	c := New(time.Minute)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				c.ShouldEmit(result("shared text"))
			}
		}()
	}
	wg.Wait()

	emitted, suppressed := c.Counts()
	if emitted != 1 || suppressed != 799 {
		t.Errorf("emitted %d suppressed %d", emitted, suppressed)
	}
}
