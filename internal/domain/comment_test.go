package domain

import (
	"strings"
	"testing"
	"time"
)

func TestNewCommentFormat(t *testing.T) {
	now := time.Unix(1700000000, 123456789)
	c := NewComment(now, OrderTypeLimit, "acct-1", "txn-1", "ord-1")

	if !strings.Contains(c, "-limit-[") {
		t.Errorf("comment %q missing type segment", c)
	}
	if !strings.Contains(c, "ACC:acct-1") || !strings.Contains(c, "TR:txn-1") || !strings.Contains(c, "PORD:ord-1") {
		t.Errorf("comment %q missing expected segments", c)
	}

	f, ok := ParseComment(c)
	if !ok {
		t.Fatalf("ParseComment(%q) failed", c)
	}
	if f.Timestamp != now.UnixNano() {
		t.Errorf("Timestamp = %d, want %d", f.Timestamp, now.UnixNano())
	}
	if f.Type != OrderTypeLimit || f.Account != "acct-1" || f.TransactionID != "txn-1" || f.ParentOrderID != "ord-1" {
		t.Errorf("parsed fields = %+v", f)
	}
}

func TestNewCommentOmitsEmptySegments(t *testing.T) {
	c := NewComment(time.Now(), OrderTypeBracket, "", "txn-9", "")
	if strings.Contains(c, "ACC:") || strings.Contains(c, "PORD:") {
		t.Errorf("comment %q should omit empty segments", c)
	}
	f, ok := ParseComment(c)
	if !ok || f.TransactionID != "txn-9" {
		t.Errorf("ParseComment(%q) = %+v, %v", c, f, ok)
	}
}

func TestNewCommentRespectsLengthLimit(t *testing.T) {
	long := strings.Repeat("a", 80)
	c := NewComment(time.Now(), OrderTypeStopLimit, long, long, long)
	if len(c) > MaxCommentLen {
		t.Errorf("comment length %d exceeds limit %d", len(c), MaxCommentLen)
	}
}

func TestNewCommentTrimsAccountNotIDs(t *testing.T) {
	// An oversized account label must never swallow the id segments: two
	// same-timestamp tokens for different transactions stay distinct.
	now := time.Unix(1700000000, 42)
	long := strings.Repeat("a", 200)
	a := NewComment(now, OrderTypeLimit, long, "11111111-tr", "")
	b := NewComment(now, OrderTypeLimit, long, "22222222-tr", "")
	if len(a) > MaxCommentLen || len(b) > MaxCommentLen {
		t.Fatalf("lengths %d/%d exceed limit %d", len(a), len(b), MaxCommentLen)
	}
	if a == b {
		t.Errorf("tokens for different transactions collide: %q", a)
	}
	if !strings.Contains(a, "TR:11111111") {
		t.Errorf("comment %q lost its transaction segment", a)
	}
	if f, ok := ParseComment(a); !ok || f.Timestamp != now.UnixNano() {
		t.Errorf("ParseComment(%q) = %+v, %v; timestamp must survive trimming", a, f, ok)
	}
}

func TestNewCommentUniquePerGeneration(t *testing.T) {
	// Replacement regenerates the token; two generations must never collide.
	a := NewComment(time.Unix(0, 1), OrderTypeLimit, "acc", "tr", "")
	b := NewComment(time.Unix(0, 2), OrderTypeLimit, "acc", "tr", "")
	if a == b {
		t.Errorf("comments should differ across generations: %q", a)
	}
}

func TestParseCommentRejectsGarbage(t *testing.T) {
	for _, in := range []string{"", "nonsense", "123-limit", "x-limit-[TR:t]"} {
		if _, ok := ParseComment(in); ok {
			t.Errorf("ParseComment(%q) should fail", in)
		}
	}
}
