package store

import (
	"encoding/json"
	"sync"
	"testing"
	"time"
)

type record struct {
	Target string `json:"target"`
	Seq    int    `json:"seq"`
}

func TestAppendGeneratesSequentialIDs(t *testing.T) {
	s := New[record]("hit")
	a := s.Append(record{Target: "page_view", Seq: 1})
	b := s.Append(record{Target: "DashFiled", Seq: 2})

	if a != "hit_000001" || b != "hit_000002" {
		t.Fatalf("ids = %s, %s", a, b)
	}
	got, ok := s.Get(b)
	if !ok || got.Target != "DashFiled" {
		t.Errorf("Get(%s) = %+v, %v", b, got, ok)
	}
	if _, ok := s.Get("hit_999999"); ok {
		t.Error("Get found a missing id")
	}
}

func TestSetOverwriteKeepsPosition(t *testing.T) {
	s := New[record]("hit")
	s.Set("a", record{Seq: 1})
	s.Set("b", record{Seq: 2})
	s.Set("a", record{Seq: 3})

	list := s.List()
	if len(list) != 2 || list[0].Seq != 3 || list[1].Seq != 2 {
		t.Errorf("List = %+v", list)
	}
}

func TestRetentionEvictsOldest(t *testing.T) {
	s := New[record]("hit").WithLimit(3)
	for i := 1; i <= 5; i++ {
		s.Append(record{Seq: i})
	}

	if s.Count() != 3 {
		t.Fatalf("Count = %d, want 3", s.Count())
	}
	if s.Evicted() != 2 {
		t.Errorf("Evicted = %d, want 2", s.Evicted())
	}
	list := s.List()
	if list[0].Seq != 3 || list[2].Seq != 5 {
		t.Errorf("List = %+v", list)
	}
	if _, ok := s.Get("hit_000001"); ok {
		t.Error("evicted record still readable")
	}
}

func TestFilter(t *testing.T) {
	s := New[record]("hit")
	s.Append(record{Target: "config", Seq: 1})
	s.Append(record{Target: "event", Seq: 2})
	s.Append(record{Target: "event", Seq: 3})

	got := s.Filter(func(r record) bool { return r.Target == "event" })
	if len(got) != 2 || got[0].Seq != 2 || got[1].Seq != 3 {
		t.Errorf("Filter = %+v", got)
	}
	if none := s.Filter(func(record) bool { return false }); len(none) != 0 {
		t.Errorf("Filter(false) = %+v", none)
	}
}

func TestPaginate(t *testing.T) {
	s := New[record]("hit")
	for i := 1; i <= 5; i++ {
		s.Append(record{Seq: i})
	}

	tests := []struct {
		name     string
		cursor   string
		limit    int
		wantSeqs []int
		wantMore bool
	}{
		{name: "first page", limit: 2, wantSeqs: []int{1, 2}, wantMore: true},
		{name: "middle page", cursor: "hit_000002", limit: 2, wantSeqs: []int{3, 4}, wantMore: true},
		{name: "last page", cursor: "hit_000004", limit: 2, wantSeqs: []int{5}},
		{name: "no limit", cursor: "hit_000003", wantSeqs: []int{4, 5}},
		{name: "past end", cursor: "hit_000005", limit: 2, wantSeqs: nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			page := s.Paginate(tt.cursor, tt.limit)
			if page.Total != 5 {
				t.Errorf("Total = %d", page.Total)
			}
			if page.HasMore != tt.wantMore {
				t.Errorf("HasMore = %v, want %v", page.HasMore, tt.wantMore)
			}
			if len(page.Data) != len(tt.wantSeqs) {
				t.Fatalf("Data = %+v, want seqs %v", page.Data, tt.wantSeqs)
			}
			for i, seq := range tt.wantSeqs {
				if page.Data[i].Seq != seq {
					t.Errorf("Data[%d].Seq = %d, want %d", i, page.Data[i].Seq, seq)
				}
			}
		})
	}
}

func TestResetRestartsIDs(t *testing.T) {
	s := New[record]("hit").WithLimit(1)
	s.Append(record{Seq: 1})
	s.Append(record{Seq: 2})
	s.Reset()

	if s.Count() != 0 || s.Evicted() != 0 {
		t.Errorf("after Reset: Count=%d Evicted=%d", s.Count(), s.Evicted())
	}
	if id := s.Append(record{}); id != "hit_000001" {
		t.Errorf("id after Reset = %s", id)
	}
}

func TestSnapshotRoundTripResumesIDs(t *testing.T) {
	src := New[record]("hit")
	src.Append(record{Target: "a", Seq: 1})
	src.Append(record{Target: "b", Seq: 2})

	data, err := json.Marshal(src)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	dst := New[record]("hit")
	if err := json.Unmarshal(data, dst); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	list := dst.List()
	if len(list) != 2 || list[0].Target != "a" || list[1].Target != "b" {
		t.Errorf("restored = %+v", list)
	}
	if id := dst.Append(record{Target: "c"}); id != "hit_000003" {
		t.Errorf("next id after restore = %s, want hit_000003", id)
	}
}

func TestConcurrentAppend(t *testing.T) {
	s := New[record]("hit")
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			s.Append(record{Seq: n})
		}(i)
	}
	wg.Wait()
	if s.Count() != 50 {
		t.Errorf("Count = %d, want 50", s.Count())
	}
}

func TestClock(t *testing.T) {
	c := NewClock()
	before := time.Now()
	c.Advance(time.Hour)

	if c.Offset() != time.Hour {
		t.Errorf("Offset = %v", c.Offset())
	}
	if c.Now().Sub(before) < time.Hour {
		t.Error("Now not shifted by Advance")
	}
	c.Reset()
	if c.Offset() != 0 {
		t.Errorf("Offset after Reset = %v", c.Offset())
	}
}
