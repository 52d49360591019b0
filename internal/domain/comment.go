package domain

import (
	"fmt"
	"strings"
	"time"
)

// MaxCommentLen is the broker's client-order-id length limit. Tokens longer
// than this are rejected at submission, so the builder always stays under it.
const MaxCommentLen = 128

// NewComment builds the wire-level idempotency token for an order:
//
//	{timestamp}-{type}-[ACC:{account}/TR:{transaction}/PORD:{parentOrder}]
//
// The nanosecond timestamp makes the token unique per generation, which is
// exactly what replacement needs: a replaced order gets a fresh token so the
// broker never sees the same client order id twice. Empty segments are
// omitted. When the full form would exceed MaxCommentLen the uuid segments
// are shortened to 8-character prefixes, and past that the account label is
// trimmed: the timestamp and id segments carry the uniqueness and are never
// cut. The ledger matches heuristically by whole-token equality, so shortened
// segments stay unambiguous.
func NewComment(now time.Time, orderType OrderType, account, transactionID, parentOrderID string) string {
	c := buildComment(now, orderType, account, transactionID, parentOrderID)
	if len(c) <= MaxCommentLen {
		return c
	}
	c = buildComment(now, orderType, account, shorten(transactionID), shorten(parentOrderID))
	if over := len(c) - MaxCommentLen; over > 0 {
		if over < len(account) {
			account = account[:len(account)-over]
		} else {
			account = ""
		}
		c = buildComment(now, orderType, account, shorten(transactionID), shorten(parentOrderID))
	}
	return c
}

func buildComment(now time.Time, orderType OrderType, account, transactionID, parentOrderID string) string {
	var segs []string
	if account != "" {
		segs = append(segs, "ACC:"+account)
	}
	if transactionID != "" {
		segs = append(segs, "TR:"+transactionID)
	}
	if parentOrderID != "" {
		segs = append(segs, "PORD:"+parentOrderID)
	}
	return fmt.Sprintf("%d-%s-[%s]", now.UnixNano(), orderType, strings.Join(segs, "/"))
}

func shorten(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// CommentFields are the segments recovered from an idempotency token.
type CommentFields struct {
	Timestamp     int64
	Type          OrderType
	Account       string
	TransactionID string
	ParentOrderID string
}

// ParseComment splits a token back into its segments. It is diagnostic only:
// matching during reconciliation compares whole tokens, never parsed fields.
func ParseComment(c string) (CommentFields, bool) {
	var f CommentFields
	open := strings.Index(c, "-[")
	if open < 0 || !strings.HasSuffix(c, "]") {
		return f, false
	}
	head := c[:open]
	dash := strings.Index(head, "-")
	if dash < 0 {
		return f, false
	}
	if _, err := fmt.Sscanf(head[:dash], "%d", &f.Timestamp); err != nil {
		return f, false
	}
	f.Type = OrderType(head[dash+1:])
	for _, seg := range strings.Split(c[open+2:len(c)-1], "/") {
		switch {
		case strings.HasPrefix(seg, "ACC:"):
			f.Account = seg[len("ACC:"):]
		case strings.HasPrefix(seg, "TR:"):
			f.TransactionID = seg[len("TR:"):]
		case strings.HasPrefix(seg, "PORD:"):
			f.ParentOrderID = seg[len("PORD:"):]
		}
	}
	return f, true
}
