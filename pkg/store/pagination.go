package store

import (
	"encoding/base64"
	"encoding/json"
	"time"

	"github.com/cardshield/rulegov/pkg/domain"
)

// Direction selects which side of the cursor a page request walks.
type Direction string

const (
	DirectionNext Direction = "next"
	DirectionPrev Direction = "prev"
)

// Default and maximum page sizes. Audit listings carry larger windows.
const (
	DefaultLimit      = 50
	MaxLimit          = 100
	DefaultAuditLimit = 100
	MaxAuditLimit     = 1000
)

// cursorTimeLayout is ISO-8601 with millisecond precision, UTC.
const cursorTimeLayout = "2006-01-02T15:04:05.000Z"

// Cursor is the decoded keyset position: the id and creation instant of
// the boundary row.
type Cursor struct {
	ID        string
	CreatedAt time.Time
}

type cursorWire struct {
	ID        string `json:"id"`
	CreatedAt string `json:"created_at"`
}

// EncodeCursor serializes a cursor as Base64URL of UTF-8 JSON.
func EncodeCursor(c Cursor) string {
	payload, _ := json.Marshal(cursorWire{
		ID:        c.ID,
		CreatedAt: c.CreatedAt.UTC().Format(cursorTimeLayout),
	})
	return base64.RawURLEncoding.EncodeToString(payload)
}

// DecodeCursor parses a wire cursor. Malformed input is a ValidationError.
func DecodeCursor(s string) (Cursor, error) {
	raw, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		// Tolerate padded encoders.
		raw, err = base64.URLEncoding.DecodeString(s)
		if err != nil {
			return Cursor{}, domain.Validationf("cursor is not valid base64url")
		}
	}
	var wire cursorWire
	if err := json.Unmarshal(raw, &wire); err != nil {
		return Cursor{}, domain.Validationf("cursor payload is not valid JSON")
	}
	ts, err := time.Parse(cursorTimeLayout, wire.CreatedAt)
	if err != nil {
		// Accept full RFC 3339 from older clients.
		ts, err = time.Parse(time.RFC3339Nano, wire.CreatedAt)
		if err != nil {
			return Cursor{}, domain.Validationf("cursor created_at %q is not an ISO-8601 instant", wire.CreatedAt)
		}
	}
	if wire.ID == "" {
		return Cursor{}, domain.Validationf("cursor is missing id")
	}
	return Cursor{ID: wire.ID, CreatedAt: ts.UTC()}, nil
}

// PageRequest is a keyset page specification. Zero value means the first
// page at the default limit.
type PageRequest struct {
	Cursor    string
	Direction Direction
	Limit     int
}

// Normalize clamps the limit and defaults the direction, returning the
// decoded cursor when present.
func (r PageRequest) Normalize(defaultLimit, maxLimit int) (PageRequest, *Cursor, error) {
	if r.Limit <= 0 {
		r.Limit = defaultLimit
	}
	if r.Limit > maxLimit {
		r.Limit = maxLimit
	}
	if r.Direction == "" {
		r.Direction = DirectionNext
	}
	if r.Direction != DirectionNext && r.Direction != DirectionPrev {
		return r, nil, domain.Validationf("direction must be %q or %q", DirectionNext, DirectionPrev)
	}
	if r.Cursor == "" {
		if r.Direction == DirectionPrev {
			return r, nil, domain.Validationf("direction %q requires a cursor", DirectionPrev)
		}
		return r, nil, nil
	}
	c, err := DecodeCursor(r.Cursor)
	if err != nil {
		return r, nil, err
	}
	return r, &c, nil
}

// Page is the list-response envelope. Ordering is (created_at DESC,
// id DESC) for every listing.
type Page[T any] struct {
	Items      []T     `json:"items"`
	NextCursor *string `json:"next_cursor"`
	PrevCursor *string `json:"prev_cursor"`
	HasNext    bool    `json:"has_next"`
	HasPrev    bool    `json:"has_prev"`
	Limit      int     `json:"limit"`
}

// BuildPage assembles a Page from up to limit+1 rows fetched in page
// order. key extracts the cursor position of one item. hadCursor reports
// whether the request carried a cursor at all.
func BuildPage[T any](items []T, req PageRequest, hadCursor bool, key func(T) Cursor) *Page[T] {
	overfetched := len(items) > req.Limit
	if overfetched {
		items = items[:req.Limit]
	}
	if req.Direction == DirectionPrev {
		reverse(items)
	}

	page := &Page[T]{Items: items, Limit: req.Limit}
	switch req.Direction {
	case DirectionPrev:
		page.HasPrev = overfetched
		// Walking backwards implies rows exist on the next side.
		page.HasNext = true
	default:
		page.HasNext = overfetched
		page.HasPrev = hadCursor
	}

	if len(items) > 0 {
		if page.HasNext {
			c := EncodeCursor(key(items[len(items)-1]))
			page.NextCursor = &c
		}
		if page.HasPrev {
			c := EncodeCursor(key(items[0]))
			page.PrevCursor = &c
		}
	}
	return page
}

func reverse[T any](s []T) {
	for i, j := 0, len(s)-1; i < j; i, j = i+1, j-1 {
		s[i], s[j] = s[j], s[i]
	}
}
