package bucketentry

import (
	"bytes"
	"io"
	"sort"
	"testing"

	"bucketnode/pkg/ledger"
)

func key(s string) ledger.Key { return ledger.Key{Raw: []byte(s)} }

func TestLessOrdersMetaFirstThenByKey(t *testing.T) {
	entries := []Entry{
		Live(ledger.Entry{Key: key("bbb")}),
		Dead(key("aaa")),
		Meta(13),
		Init(ledger.Entry{Key: key("ccc")}),
	}

	sort.Slice(entries, func(i, j int) bool { return Less(entries[i], entries[j]) })

	if entries[0].Kind != KindMeta {
		t.Fatalf("expected META first, got %v", entries[0].Kind)
	}
	for i := 1; i < len(entries)-1; i++ {
		if entries[i].Key().Compare(entries[i+1].Key()) >= 0 {
			t.Fatalf("entries not strictly ascending at %d: %v", i, entries)
		}
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	cases := []Entry{
		Meta(13),
		Init(ledger.Entry{Key: key("alice"), Data: []byte("acc-data")}),
		Live(ledger.Entry{Key: key("bob"), Data: []byte("other-data")}),
		Dead(key("carol")),
		Live(ledger.Entry{Key: key("empty"), Data: nil}),
	}

	var buf bytes.Buffer
	for _, e := range cases {
		if err := Encode(&buf, e); err != nil {
			t.Fatalf("Encode: %v", err)
		}
	}

	for i, want := range cases {
		got, err := Decode(&buf)
		if err != nil {
			t.Fatalf("Decode entry %d: %v", i, err)
		}
		if got.Kind != want.Kind {
			t.Fatalf("entry %d: kind = %v, want %v", i, got.Kind, want.Kind)
		}
		switch want.Kind {
		case KindMeta:
			if got.Meta != want.Meta {
				t.Fatalf("entry %d: meta = %+v, want %+v", i, got.Meta, want.Meta)
			}
		case KindInit, KindLive:
			if !got.Live.Key.Equal(want.Live.Key) || !bytes.Equal(got.Live.Data, want.Live.Data) {
				t.Fatalf("entry %d: live = %+v, want %+v", i, got.Live, want.Live)
			}
		case KindDead:
			if !got.Dead.Equal(want.Dead) {
				t.Fatalf("entry %d: dead = %+v, want %+v", i, got.Dead, want.Dead)
			}
		}
	}

	if _, err := Decode(&buf); err != io.EOF {
		t.Fatalf("expected io.EOF at end of stream, got %v", err)
	}
}

func TestKeyPanicsOnMeta(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic calling Key() on a META entry")
		}
	}()
	Meta(13).Key()
}
