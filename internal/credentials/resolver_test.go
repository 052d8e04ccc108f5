package credentials

import (
	"fmt"
	"testing"
	"time"

	"pgregory.net/rapid"

	"topod/internal/model"
	"topod/internal/storage"
)

// fakeStore implements the slice of storage.Storage the resolver uses.
// The embedded interface panics on anything else, which is what we want
// from a test double.
type fakeStore struct {
	storage.Storage

	creds   map[string]model.Credential
	scoped  map[string][]model.Credential // networkID -> insertion order
	matched map[string]model.MatchedDevice
	failed  map[string][]model.FailedCredential
	aliases map[string]string
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		creds:   map[string]model.Credential{},
		scoped:  map[string][]model.Credential{},
		matched: map[string]model.MatchedDevice{},
		failed:  map[string][]model.FailedCredential{},
		aliases: map[string]string{},
	}
}

func (s *fakeStore) addCredential(c model.Credential) model.Credential {
	s.creds[c.ID] = c
	s.scoped[c.NetworkID] = append(s.scoped[c.NetworkID], c)
	return c
}

func (s *fakeStore) ResolvePrimaryMac(mac string) (string, error) {
	if primary, ok := s.aliases[mac]; ok {
		return primary, nil
	}
	return mac, nil
}

func (s *fakeStore) GetCredential(id string) (*model.Credential, error) {
	c, ok := s.creds[id]
	if !ok {
		return nil, storage.ErrCredentialNotFound
	}
	return &c, nil
}

func (s *fakeStore) ListCredentials(networkID string) ([]model.Credential, error) {
	return s.scoped[networkID], nil
}

func (s *fakeStore) GetMatchedDevice(mac, service string) (*model.MatchedDevice, error) {
	m, ok := s.matched[mac+"/"+service]
	if !ok {
		return nil, storage.ErrMatchNotFound
	}
	return &m, nil
}

func (s *fakeStore) UpsertMatchedDevice(m *model.MatchedDevice) error {
	s.matched[m.Mac+"/"+m.Service] = *m
	return nil
}

func (s *fakeStore) ListFailedCredentials(mac, service string) ([]model.FailedCredential, error) {
	return s.failed[mac+"/"+service], nil
}

func (s *fakeStore) UpsertFailedCredential(f *model.FailedCredential) error {
	key := f.Mac + "/" + f.Service
	for i, existing := range s.failed[key] {
		if existing.CredentialID == f.CredentialID {
			s.failed[key][i] = *f
			return nil
		}
	}
	s.failed[key] = append(s.failed[key], *f)
	return nil
}

func (s *fakeStore) DeleteFailedCredential(credentialID, mac, service string) error {
	key := mac + "/" + service
	kept := s.failed[key][:0]
	for _, f := range s.failed[key] {
		if f.CredentialID != credentialID {
			kept = append(kept, f)
		}
	}
	s.failed[key] = kept
	return nil
}

const testMac = "DC:2C:6E:00:00:01"

func testNetwork(rootCredID string) *model.Network {
	return &model.Network{ID: "net-1", RootCredentialID: rootCredID}
}

func TestCandidatesOrder(t *testing.T) {
	store := newFakeStore()
	root := store.addCredential(model.Credential{ID: "cred-root", NetworkID: "net-1", Username: "admin"})
	scoped := store.addCredential(model.Credential{ID: "cred-scoped", NetworkID: "net-1", Username: "ops"})
	global1 := store.addCredential(model.Credential{ID: "cred-g1", Username: "admin"})
	global2 := store.addCredential(model.Credential{ID: "cred-g2", Username: "backup"})

	r := NewResolver(store)
	got, err := r.CandidatesFor(testNetwork(root.ID), testMac)
	if err != nil {
		t.Fatal(err)
	}

	want := []string{root.ID, scoped.ID, global1.ID, global2.ID}
	if len(got) != len(want) {
		t.Fatalf("got %d candidates, want %d", len(got), len(want))
	}
	for i, id := range want {
		if got[i].ID != id {
			t.Errorf("candidate %d = %s, want %s", i, got[i].ID, id)
		}
	}
}

func TestCandidatesFreshMatchShortCircuits(t *testing.T) {
	store := newFakeStore()
	store.addCredential(model.Credential{ID: "cred-a", NetworkID: "net-1"})
	matched := store.addCredential(model.Credential{ID: "cred-b"})

	r := NewResolver(store)
	r.RecordSuccess(testMac, matched.ID)

	got, err := r.CandidatesFor(testNetwork(""), testMac)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].ID != matched.ID {
		t.Fatalf("got %+v, want only the matched credential", got)
	}
}

func TestCandidatesStaleMatchIgnored(t *testing.T) {
	store := newFakeStore()
	store.addCredential(model.Credential{ID: "cred-a", NetworkID: "net-1"})
	matched := store.addCredential(model.Credential{ID: "cred-b"})

	r := NewResolver(store)
	r.now = func() time.Time { return time.Now().Add(-model.MatchedDeviceTTL - time.Hour) }
	r.RecordSuccess(testMac, matched.ID)
	r.now = time.Now

	got, err := r.CandidatesFor(testNetwork(""), testMac)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("stale match must not short-circuit; got %+v", got)
	}
}

func TestCandidatesNegativeCacheFilters(t *testing.T) {
	store := newFakeStore()
	root := store.addCredential(model.Credential{ID: "cred-root", NetworkID: "net-1"})
	denied := store.addCredential(model.Credential{ID: "cred-denied", NetworkID: "net-1"})
	store.addCredential(model.Credential{ID: "cred-ok"})

	r := NewResolver(store)
	r.RecordFailure(testMac, denied.ID)

	got, err := r.CandidatesFor(testNetwork(root.ID), testMac)
	if err != nil {
		t.Fatal(err)
	}
	ids := make([]string, len(got))
	for i, c := range got {
		ids[i] = c.ID
	}
	if len(ids) != 2 || ids[0] != "cred-root" || ids[1] != "cred-ok" {
		t.Fatalf("got %v, want [cred-root cred-ok]", ids)
	}
}

// A root credential a device has already rejected is filtered like any
// other, until RecordSuccess clears the negative entry.
func TestCandidatesNegativeCacheFiltersRoot(t *testing.T) {
	store := newFakeStore()
	root := store.addCredential(model.Credential{ID: "cred-root", NetworkID: "net-1"})
	store.addCredential(model.Credential{ID: "cred-ok"})

	r := NewResolver(store)
	r.RecordFailure(testMac, root.ID)

	got, err := r.CandidatesFor(testNetwork(root.ID), testMac)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].ID != "cred-ok" {
		t.Fatalf("got %+v, want only cred-ok", got)
	}

	r.RecordSuccess(testMac, root.ID)
	got, err = r.CandidatesFor(testNetwork(root.ID), testMac)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].ID != root.ID {
		t.Fatalf("after success got %+v, want the root match", got)
	}
}

func TestRecordSuccessClearsFailure(t *testing.T) {
	store := newFakeStore()
	cred := store.addCredential(model.Credential{ID: "cred-a", NetworkID: "net-1"})

	r := NewResolver(store)
	r.RecordFailure(testMac, cred.ID)
	r.RecordSuccess(testMac, cred.ID)

	got, err := r.CandidatesFor(testNetwork(""), testMac)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].ID != cred.ID {
		t.Fatalf("got %+v, want the re-validated credential", got)
	}
}

func TestCandidatesResolveAlias(t *testing.T) {
	store := newFakeStore()
	matched := store.addCredential(model.Credential{ID: "cred-a"})
	store.aliases["DC:2C:6E:00:00:02"] = testMac

	r := NewResolver(store)
	r.RecordSuccess(testMac, matched.ID)

	// A secondary MAC of a known device must hit the same cache entry.
	got, err := r.CandidatesFor(testNetwork(""), "DC:2C:6E:00:00:02")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].ID != matched.ID {
		t.Fatalf("got %+v, want the match via the primary MAC", got)
	}
}

// Candidate ordering holds for arbitrary credential sets: scoped before
// global, insertion order within each scope, no denied non-root entries,
// no duplicates.
func TestCandidatesOrderProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		store := newFakeStore()
		nScoped := rapid.IntRange(0, 5).Draw(t, "scoped")
		nGlobal := rapid.IntRange(0, 5).Draw(t, "global")

		var ids []string
		for i := 0; i < nScoped; i++ {
			id := fmt.Sprintf("cred-s%d", i)
			store.addCredential(model.Credential{ID: id, NetworkID: "net-1"})
			ids = append(ids, id)
		}
		for i := 0; i < nGlobal; i++ {
			id := fmt.Sprintf("cred-g%d", i)
			store.addCredential(model.Credential{ID: id})
			ids = append(ids, id)
		}

		denied := map[string]bool{}
		r := NewResolver(store)
		for _, id := range ids {
			if rapid.Bool().Draw(t, "deny-"+id) {
				denied[id] = true
				r.RecordFailure(testMac, id)
			}
		}

		got, err := r.CandidatesFor(testNetwork(""), testMac)
		if err != nil {
			t.Fatal(err)
		}

		var wantIDs []string
		for _, id := range ids {
			if !denied[id] {
				wantIDs = append(wantIDs, id)
			}
		}
		if len(got) != len(wantIDs) {
			t.Fatalf("got %d candidates, want %d", len(got), len(wantIDs))
		}
		for i, id := range wantIDs {
			if got[i].ID != id {
				t.Fatalf("candidate %d = %s, want %s", i, got[i].ID, id)
			}
		}
	})
}
