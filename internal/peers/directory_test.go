package peers

import (
	"reflect"
	"sync"
	"testing"

	"github.com/starford/tgmonitor/internal/models"
)

func completeUser() models.PeerRecord {
	return models.PeerRecord{
		ID:        42,
		Kind:      models.PeerUser,
		FirstName: "Alice",
		LastName:  "Liddell",
		Usernames: []string{"alice", "alice_alt"},
		Attrs: models.Attributes{
			Flags:        models.FlagContact | models.FlagPremium,
			HasPhoto:     true,
			LangCode:     "en",
			ProfileColor: 3,
		},
		Complete: true,
	}
}

func TestUpsertNewRecordStoredAsIs(t *testing.T) {
	d := NewDirectory()
	stub := models.PeerRecord{ID: 7, Kind: models.PeerUser, FirstName: "Bob"}
	d.Upsert(stub)

	got, ok := d.Resolve(7)
	if !ok {
		t.Fatal("expected record")
	}
	if !reflect.DeepEqual(got, stub) {
		t.Errorf("got %+v, want %+v", got, stub)
	}
}

func TestUpsertCompleteTwiceIsIdempotent(t *testing.T) {
	once := NewDirectory()
	once.Upsert(completeUser())

	twice := NewDirectory()
	twice.Upsert(completeUser())
	twice.Upsert(completeUser())

	a, _ := once.Resolve(42)
	b, _ := twice.Resolve(42)
	if !reflect.DeepEqual(a, b) {
		t.Errorf("double apply differs: %+v vs %+v", a, b)
	}
}

func TestStubAfterCompletePreservesIdentity(t *testing.T) {
	d := NewDirectory()
	d.Upsert(completeUser())

	d.Upsert(models.PeerRecord{
		ID:        42,
		Kind:      models.PeerUser,
		FirstName: "Mallory",
		Usernames: nil,
		Attrs: models.Attributes{
			Flags:          models.FlagVerified,
			HasPhoto:       false,
			BotInfoVersion: 5,
			LangCode:       "ru",
			StoriesMaxID:   11,
			ProfileColor:   9,
		},
	})

	got, _ := d.Resolve(42)
	if got.FirstName != "Alice" || got.LastName != "Liddell" {
		t.Errorf("name regressed: %q %q", got.FirstName, got.LastName)
	}
	if !reflect.DeepEqual(got.Usernames, []string{"alice", "alice_alt"}) {
		t.Errorf("usernames regressed: %v", got.Usernames)
	}
	if !got.Complete {
		t.Error("record should stay complete")
	}
	wantAttrs := models.Attributes{
		// Contact is outside the refreshable mask and survives; Premium is
		// inside it and is cleared; Verified is set by the stub.
		Flags:          models.FlagContact | models.FlagVerified,
		HasPhoto:       false,
		BotInfoVersion: 5,
		LangCode:       "ru",
		StoriesMaxID:   11,
		ProfileColor:   9,
	}
	if got.Attrs != wantAttrs {
		t.Errorf("attrs = %+v, want %+v", got.Attrs, wantAttrs)
	}
}

func TestStubFillsUnsetNames(t *testing.T) {
	d := NewDirectory()
	d.Upsert(models.PeerRecord{ID: 5, Kind: models.PeerUser, Usernames: []string{"nameless"}, Complete: true})
	d.Upsert(models.PeerRecord{ID: 5, Kind: models.PeerUser, FirstName: "Carol", LastName: "C", Phone: "+100"})

	got, _ := d.Resolve(5)
	if got.FirstName != "Carol" || got.LastName != "C" || got.Phone != "+100" {
		t.Errorf("unset fields not filled: %+v", got)
	}
}

func TestStubOverStubReplaces(t *testing.T) {
	d := NewDirectory()
	d.Upsert(models.PeerRecord{ID: 9, Kind: models.PeerChannel, Title: "old"})
	d.Upsert(models.PeerRecord{ID: 9, Kind: models.PeerChannel, Title: "new"})

	got, _ := d.Resolve(9)
	if got.Title != "new" {
		t.Errorf("title = %q, want new", got.Title)
	}
}

func TestCompleteAfterStubReplaces(t *testing.T) {
	d := NewDirectory()
	d.Upsert(models.PeerRecord{ID: 42, Kind: models.PeerUser, FirstName: "stub"})
	d.Upsert(completeUser())

	got, _ := d.Resolve(42)
	if !reflect.DeepEqual(got, completeUser()) {
		t.Errorf("got %+v", got)
	}
}

func TestResolveReturnsCopy(t *testing.T) {
	d := NewDirectory()
	d.Upsert(completeUser())

	got, _ := d.Resolve(42)
	got.Usernames[0] = "tampered"

	again, _ := d.Resolve(42)
	if again.Usernames[0] != "alice" {
		t.Error("caller mutation leaked into directory")
	}
}

func TestResolveNotFound(t *testing.T) {
	d := NewDirectory()
	if _, ok := d.Resolve(1); ok {
		t.Error("expected not found")
	}
	if _, ok := d.ResolveRef(models.PeerRef{Kind: models.PeerUser, ID: 1}); ok {
		t.Error("expected not found")
	}
}

func TestResolveRefChecksKind(t *testing.T) {
	d := NewDirectory()
	d.Upsert(models.PeerRecord{ID: 3, Kind: models.PeerChannel, Title: "c", Complete: true})
	if _, ok := d.ResolveRef(models.PeerRef{Kind: models.PeerUser, ID: 3}); ok {
		t.Error("kind mismatch should not resolve")
	}
	if _, ok := d.ResolveRef(models.PeerRef{Kind: models.PeerChannel, ID: 3}); !ok {
		t.Error("expected channel to resolve")
	}
}

func TestResolveUsername(t *testing.T) {
	d := NewDirectory()
	d.Upsert(completeUser())

	got, ok := d.ResolveUsername("@ALICE_alt")
	if !ok || got.ID != 42 {
		t.Fatalf("ResolveUsername = %+v, %v", got, ok)
	}
	if _, ok := d.ResolveUsername("@"); ok {
		t.Error("empty username should not resolve")
	}
}

func TestListSortedAndSeed(t *testing.T) {
	d := NewDirectory()
	d.Seed([]models.PeerRecord{
		{ID: 30, Kind: models.PeerChannel, Title: "c"},
		{ID: 0, Kind: models.PeerUser},
		{ID: 10, Kind: models.PeerUser},
		{ID: 20, Kind: models.PeerSmallGroup},
	})
	list := d.List()
	if len(list) != 3 || d.Len() != 3 {
		t.Fatalf("len = %d, want 3 (zero id ignored)", len(list))
	}
	for i, want := range []int64{10, 20, 30} {
		if list[i].ID != want {
			t.Errorf("list[%d].ID = %d, want %d", i, list[i].ID, want)
		}
	}
}

func TestConcurrentReadersDuringWrites(t *testing.T) {
	d := NewDirectory()
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 500; i++ {
			rec := completeUser()
			rec.Attrs.StoriesMaxID = i
			d.Upsert(rec)
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 500; i++ {
			if rec, ok := d.Resolve(42); ok && rec.FirstName != "Alice" {
				t.Errorf("torn read: %+v", rec)
				return
			}
			_ = d.List()
		}
	}()
	wg.Wait()
}
