// Package credentials orders login candidates for a device and maintains
// the positive and negative match caches around attempts.
package credentials

import (
	"errors"
	"time"

	"topod/internal/log"
	"topod/internal/model"
	"topod/internal/storage"
)

// Resolver builds credential candidate lists from the store and records
// attempt outcomes back into it.
type Resolver struct {
	store storage.Storage
	now   func() time.Time
}

// NewResolver returns a resolver backed by the given store.
func NewResolver(store storage.Storage) *Resolver {
	return &Resolver{store: store, now: time.Now}
}

// CandidatesFor returns the credentials to try against a device, in
// order:
//
//  1. a fresh positive match for the MAC, alone, when one exists
//  2. the network's root credential
//  3. network-scoped credentials in insertion order
//  4. global credentials in insertion order
//
// Credentials in the negative cache for this MAC are dropped, the root
// credential included; a later RecordSuccess clears the entry.
func (r *Resolver) CandidatesFor(network *model.Network, mac string) ([]model.Credential, error) {
	mac, err := r.store.ResolvePrimaryMac(mac)
	if err != nil {
		return nil, err
	}

	if match, err := r.store.GetMatchedDevice(mac, model.CredentialServiceSSH); err == nil {
		if match.Fresh(r.now()) {
			if cred, err := r.store.GetCredential(match.CredentialID); err == nil {
				return []model.Credential{*cred}, nil
			}
			// Matched credential was deleted; fall through to the full list.
		}
	} else if !errors.Is(err, storage.ErrMatchNotFound) {
		return nil, err
	}

	failed, err := r.store.ListFailedCredentials(mac, model.CredentialServiceSSH)
	if err != nil {
		return nil, err
	}
	denied := make(map[string]bool, len(failed))
	for _, f := range failed {
		denied[f.CredentialID] = true
	}

	var out []model.Credential
	seen := make(map[string]bool)
	add := func(c model.Credential) {
		if seen[c.ID] || denied[c.ID] {
			return
		}
		seen[c.ID] = true
		out = append(out, c)
	}

	if network.RootCredentialID != "" {
		if cred, err := r.store.GetCredential(network.RootCredentialID); err == nil {
			add(*cred)
		} else if !errors.Is(err, storage.ErrCredentialNotFound) {
			return nil, err
		}
	}

	scoped, err := r.store.ListCredentials(network.ID)
	if err != nil {
		return nil, err
	}
	for _, c := range scoped {
		add(c)
	}

	global, err := r.store.ListCredentials("")
	if err != nil {
		return nil, err
	}
	for _, c := range global {
		add(c)
	}
	return out, nil
}

// RecordSuccess stores a positive match and clears any stale negative
// entry for the same pair.
func (r *Resolver) RecordSuccess(mac, credentialID string) {
	mac, err := r.store.ResolvePrimaryMac(mac)
	if err != nil {
		log.Warn("credential cache: resolve mac", "mac", mac, "error", err)
		return
	}
	m := &model.MatchedDevice{
		CredentialID: credentialID,
		Mac:          mac,
		Service:      model.CredentialServiceSSH,
		MatchedAt:    r.now(),
	}
	if err := r.store.UpsertMatchedDevice(m); err != nil {
		log.Warn("credential cache: record match", "mac", mac, "error", err)
		return
	}
	if err := r.store.DeleteFailedCredential(credentialID, mac, model.CredentialServiceSSH); err != nil {
		log.Warn("credential cache: clear failure", "mac", mac, "error", err)
	}
}

// RecordFailure stores a negative entry so the credential is not
// retried against this device.
func (r *Resolver) RecordFailure(mac, credentialID string) {
	mac, err := r.store.ResolvePrimaryMac(mac)
	if err != nil {
		log.Warn("credential cache: resolve mac", "mac", mac, "error", err)
		return
	}
	f := &model.FailedCredential{
		CredentialID: credentialID,
		Mac:          mac,
		Service:      model.CredentialServiceSSH,
		FailedAt:     r.now(),
	}
	if err := r.store.UpsertFailedCredential(f); err != nil {
		log.Warn("credential cache: record failure", "mac", mac, "error", err)
	}
}
