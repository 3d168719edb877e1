package engine

import (
	"context"
	"errors"
	"log"

	"parking-lot-backend/internal/model"
	"parking-lot-backend/internal/store"
)

// verifyOwnership checks that the caller may mutate the session: the
// owner always may, attendants and managers may on anyone's behalf.
// A mismatch is a security-relevant event and gets logged before the
// caller sees the denial. Read-only queries skip this guard; they are
// scoped by the caller's own identity upstream.
func verifyOwnership(ctx context.Context, st store.Store, sess *model.Session, callerID int64) error {
	if sess.SubscriberID == callerID {
		return nil
	}

	caller, err := st.SubscriberByID(ctx, callerID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return wrapError(KindPersistence, err, "failed to resolve caller %d", callerID)
	}
	if caller != nil && caller.Staff() {
		return nil
	}

	log.Printf("SECURITY: subscriber %d denied access to session %s owned by subscriber %d",
		callerID, sess.Code, sess.SubscriberID)
	return newError(KindOwnership, "access denied")
}
