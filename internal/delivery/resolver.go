package delivery

import (
	"context"
	"errors"
	"sync"

	"securelink/internal/repositories"
)

// contactResolver caches contactID -> principalID lookups in front of the
// durable store. Only successful lookups are cached; unknown ids are
// re-queried every time, so a contact registered after a failed send becomes
// resolvable immediately.
type contactResolver struct {
	contacts repositories.ContactRepository

	mu      sync.Mutex
	entries map[string]string
}

func newContactResolver(contacts repositories.ContactRepository) *contactResolver {
	return &contactResolver{
		contacts: contacts,
		entries:  make(map[string]string),
	}
}

// Resolve returns the principal owning contactID, or ErrUnknownRecipient.
func (r *contactResolver) Resolve(ctx context.Context, contactID string) (string, error) {
	r.mu.Lock()
	principalID, hit := r.entries[contactID]
	r.mu.Unlock()
	if hit {
		return principalID, nil
	}

	contact, err := r.contacts.GetByContactID(ctx, contactID)
	if errors.Is(err, repositories.ErrContactNotFound) {
		return "", ErrUnknownRecipient
	}
	if err != nil {
		return "", err
	}

	r.mu.Lock()
	r.entries[contactID] = contact.PrincipalID
	r.mu.Unlock()
	return contact.PrincipalID, nil
}
